package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/convohq/convo/internal/models"
)

// Every method takes ctx first and is tenant-scoped where the entity
// carries a tenant. Stores return nil, nil for not-found single-row
// lookups; the service layer converts that into its own error taxonomy.

// ChannelRepository is the contract for channel persistence.
type ChannelRepository interface {
	// Create inserts the channel and fills in store-assigned fields.
	Create(ctx context.Context, channel *models.Channel) error

	// GetByID returns a single channel. Returns nil, nil if not found.
	GetByID(ctx context.Context, tenantID, channelID uuid.UUID) (*models.Channel, error)

	// FindDirectChannel looks up the DIRECT channel for a canonical user
	// pair. Returns nil, nil if the pair has no channel yet.
	FindDirectChannel(ctx context.Context, tenantID, firstUserID, secondUserID uuid.UUID) (*models.Channel, error)

	// FindByEntity looks up the TOPIC channel bound to a domain object.
	// Returns nil, nil if none exists.
	FindByEntity(ctx context.Context, tenantID uuid.UUID, entityType string, entityID int64) (*models.Channel, error)

	// ListByTenant returns the tenant's non-archived channels, most
	// recently active first. Returns empty slice (not nil).
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Channel, error)

	// ListByType returns the tenant's non-archived channels of one type.
	ListByType(ctx context.Context, tenantID uuid.UUID, channelType models.ChannelType) ([]*models.Channel, error)

	// Update persists mutable channel fields.
	Update(ctx context.Context, channel *models.Channel) error

	// Delete removes the channel row. Membership rows cascade.
	Delete(ctx context.Context, tenantID, channelID uuid.UUID) error
}

// MembershipRepository is the contract for membership persistence.
type MembershipRepository interface {
	// Create inserts the membership row and fills in its id.
	Create(ctx context.Context, member *models.ChannelMember) error

	// FindByChannelAndUser returns the membership row regardless of
	// status. Returns nil, nil if the user never joined.
	FindByChannelAndUser(ctx context.Context, channelID, userID uuid.UUID) (*models.ChannelMember, error)

	// FindByChannelAndStatus returns the channel's members with the given
	// status.
	FindByChannelAndStatus(ctx context.Context, channelID uuid.UUID, status models.MemberStatus) ([]*models.ChannelMember, error)

	// FindByUserAndStatus returns the user's memberships with the given
	// status.
	FindByUserAndStatus(ctx context.Context, userID uuid.UUID, status models.MemberStatus) ([]*models.ChannelMember, error)

	// IsMember reports whether the user has an access-granting membership
	// (ACTIVE or MUTED). Hot path: checked before every send and
	// subscribe.
	IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error)

	// CountActive returns the number of ACTIVE members.
	CountActive(ctx context.Context, channelID uuid.UUID) (int, error)

	// Update persists mutable membership fields.
	Update(ctx context.Context, member *models.ChannelMember) error

	// UpdatePair persists two membership rows atomically. Either both
	// writes land or neither does.
	UpdatePair(ctx context.Context, first, second *models.ChannelMember) error

	// IncrementUnreadForChannel bumps the stored unread counter for every
	// notifiable member except the sender, in one statement.
	IncrementUnreadForChannel(ctx context.Context, channelID, senderID uuid.UUID) error
}

// MessageRepository is the contract for message persistence.
type MessageRepository interface {
	// Create persists the message and fills in ID and CreatedAt.
	Create(ctx context.Context, msg *models.Message) error

	// GetByID returns a single message scoped to its channel. Returns
	// nil, nil if not found.
	GetByID(ctx context.Context, channelID uuid.UUID, messageID int64) (*models.Message, error)

	// ListPage returns one page of the channel's top-level live messages,
	// newest first, plus the total count over the same filter.
	ListPage(ctx context.Context, channelID uuid.UUID, page, size int) ([]*models.Message, int64, error)

	// ListBefore returns up to limit live messages older than the cursor,
	// newest first. before=0 means from the top.
	ListBefore(ctx context.Context, channelID uuid.UUID, before int64, limit int) ([]*models.Message, error)

	// ListReplies returns a parent's live replies, oldest first.
	ListReplies(ctx context.Context, parentID int64) ([]*models.Message, error)

	// Search returns the channel's live messages whose content matches
	// the query, newest first.
	Search(ctx context.Context, channelID uuid.UUID, query string, limit int) ([]*models.Message, error)

	// CountAfter returns the number of live messages with id greater than
	// afterID, used to rebuild unread counts.
	CountAfter(ctx context.Context, channelID uuid.UUID, afterID int64) (int, error)

	// Update persists mutable message fields.
	Update(ctx context.Context, msg *models.Message) error
}
