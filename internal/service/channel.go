package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/cache"
	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/repository"
)

// ChannelService is the channel directory: lifecycle and lookup for
// DIRECT, GROUP and TOPIC channels, cache-aside over the store.
type ChannelService struct {
	channels repository.ChannelRepository
	members  repository.MembershipRepository
	cache    *cache.Coordinator
	logger   *zap.Logger
}

func NewChannelService(channels repository.ChannelRepository, members repository.MembershipRepository, coord *cache.Coordinator, logger *zap.Logger) *ChannelService {
	return &ChannelService{
		channels: channels,
		members:  members,
		cache:    coord,
		logger:   logger.Named("channels"),
	}
}

// CreateGroupChannel creates a GROUP channel with the creator as OWNER.
func (s *ChannelService) CreateGroupChannel(ctx context.Context, tenantID, createdBy uuid.UUID, name, description string, isPrivate bool) (*models.Channel, error) {
	ch := models.NewGroupChannel(tenantID, createdBy, name, description, isPrivate)
	if err := ch.ValidateForCreation(); err != nil {
		return nil, err
	}
	if err := s.channels.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("create group channel: %w", err)
	}

	owner := models.NewOwner(ch.ID, createdBy, tenantID)
	if err := s.members.Create(ctx, owner); err != nil {
		return nil, fmt.Errorf("create owner membership: %w", err)
	}

	s.cache.CacheChannel(ctx, ch)
	s.cache.AddMemberToChannel(ctx, ch.ID, createdBy)
	s.cache.AddChannelToUser(ctx, createdBy, ch.ID)

	s.logger.Info("channel created",
		zap.String("channel_id", ch.ID.String()),
		zap.String("type", string(ch.Type)),
		zap.String("tenant_id", tenantID.String()))
	return ch, nil
}

// GetOrCreateDirectChannel returns the DIRECT channel between two users,
// creating it on first contact. Concurrent first contacts race on the
// store's unique index; the loser retries the lookup.
func (s *ChannelService) GetOrCreateDirectChannel(ctx context.Context, tenantID, userID1, userID2 uuid.UUID) (*models.Channel, error) {
	if userID1 == userID2 {
		return nil, models.Validationf("direct channel requires two distinct users")
	}

	existing, err := s.channels.FindDirectChannel(ctx, tenantID, userID1, userID2)
	if err != nil {
		return nil, fmt.Errorf("find direct channel: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	ch := models.NewDirectChannel(tenantID, userID1, userID2)
	if err := ch.ValidateForCreation(); err != nil {
		return nil, err
	}
	if err := s.channels.Create(ctx, ch); err != nil {
		// Lost the creation race: the unique index rejected the
		// duplicate and the winner's row is now visible.
		again, lookupErr := s.channels.FindDirectChannel(ctx, tenantID, userID1, userID2)
		if lookupErr == nil && again != nil {
			return again, nil
		}
		return nil, fmt.Errorf("create direct channel: %w", err)
	}

	for _, userID := range []uuid.UUID{ch.CreatedBy, *ch.PeerID} {
		member := models.NewMember(ch.ID, userID, tenantID)
		if err := s.members.Create(ctx, member); err != nil {
			return nil, fmt.Errorf("create direct membership: %w", err)
		}
		s.cache.AddMemberToChannel(ctx, ch.ID, userID)
		s.cache.AddChannelToUser(ctx, userID, ch.ID)
	}

	s.cache.CacheChannel(ctx, ch)
	s.logger.Info("direct channel created",
		zap.String("channel_id", ch.ID.String()),
		zap.String("tenant_id", tenantID.String()))
	return ch, nil
}

// GetOrCreateTopicChannel returns the TOPIC channel bound to an entity,
// creating it on first use. Idempotent per (tenant, entityType, entityID).
func (s *ChannelService) GetOrCreateTopicChannel(ctx context.Context, tenantID, createdBy uuid.UUID, name, entityType string, entityID int64) (*models.Channel, error) {
	existing, err := s.channels.FindByEntity(ctx, tenantID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("find topic channel: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	ch := models.NewTopicChannel(tenantID, createdBy, name, entityType, entityID)
	if err := ch.ValidateForCreation(); err != nil {
		return nil, err
	}
	if err := s.channels.Create(ctx, ch); err != nil {
		again, lookupErr := s.channels.FindByEntity(ctx, tenantID, entityType, entityID)
		if lookupErr == nil && again != nil {
			return again, nil
		}
		return nil, fmt.Errorf("create topic channel: %w", err)
	}

	owner := models.NewOwner(ch.ID, createdBy, tenantID)
	if err := s.members.Create(ctx, owner); err != nil {
		return nil, fmt.Errorf("create owner membership: %w", err)
	}

	s.cache.CacheChannel(ctx, ch)
	s.cache.AddMemberToChannel(ctx, ch.ID, createdBy)
	s.cache.AddChannelToUser(ctx, createdBy, ch.ID)
	return ch, nil
}

// GetChannelByID is the cache-aside read: probe the channel cache, fall
// back to the store, populate on hit.
func (s *ChannelService) GetChannelByID(ctx context.Context, tenantID, channelID uuid.UUID) (*models.Channel, error) {
	if cached, ok := s.cache.GetCachedChannel(ctx, channelID); ok {
		// Cached entries are not tenant-partitioned; enforce the scope
		// here the same way the store query would.
		if cached.TenantID != tenantID {
			return nil, models.NotFoundf("channel %s", channelID)
		}
		return cached, nil
	}

	ch, err := s.channels.GetByID(ctx, tenantID, channelID)
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	if ch == nil {
		return nil, models.NotFoundf("channel %s", channelID)
	}
	s.cache.CacheChannel(ctx, ch)
	return ch, nil
}

// GetChannelByEntity returns the TOPIC channel for a domain entity.
func (s *ChannelService) GetChannelByEntity(ctx context.Context, tenantID uuid.UUID, entityType string, entityID int64) (*models.Channel, error) {
	ch, err := s.channels.FindByEntity(ctx, tenantID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("get channel by entity: %w", err)
	}
	if ch == nil {
		return nil, models.NotFoundf("channel for %s/%d", entityType, entityID)
	}
	return ch, nil
}

// ListChannels returns the tenant's non-archived channels.
func (s *ChannelService) ListChannels(ctx context.Context, tenantID uuid.UUID) ([]*models.Channel, error) {
	channels, err := s.channels.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

// ListChannelsByType returns the tenant's non-archived channels of one type.
func (s *ChannelService) ListChannelsByType(ctx context.Context, tenantID uuid.UUID, channelType models.ChannelType) ([]*models.Channel, error) {
	if !channelType.Valid() {
		return nil, models.Validationf("unknown channel type %q", string(channelType))
	}
	channels, err := s.channels.ListByType(ctx, tenantID, channelType)
	if err != nil {
		return nil, fmt.Errorf("list channels by type: %w", err)
	}
	return channels, nil
}

// UpdateChannel renames a channel and refreshes the cache.
func (s *ChannelService) UpdateChannel(ctx context.Context, tenantID, channelID uuid.UUID, name, description string) (*models.Channel, error) {
	ch, err := s.GetChannelByID(ctx, tenantID, channelID)
	if err != nil {
		return nil, err
	}
	if err := ch.UpdateInfo(name, description); err != nil {
		return nil, err
	}
	if err := s.channels.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("update channel: %w", err)
	}
	s.cache.CacheChannel(ctx, ch)
	return ch, nil
}

// ArchiveChannel archives and invalidates. The archived object is not
// re-cached: archived channels are off the hot path and a stale cached
// copy claiming the channel is live would be worse than a miss.
func (s *ChannelService) ArchiveChannel(ctx context.Context, tenantID, channelID uuid.UUID) (*models.Channel, error) {
	ch, err := s.GetChannelByID(ctx, tenantID, channelID)
	if err != nil {
		return nil, err
	}
	if err := ch.Archive(); err != nil {
		return nil, err
	}
	if err := s.channels.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("archive channel: %w", err)
	}
	s.cache.InvalidateChannel(ctx, channelID)
	s.logger.Info("channel archived", zap.String("channel_id", channelID.String()))
	return ch, nil
}

// UnarchiveChannel restores an archived channel.
func (s *ChannelService) UnarchiveChannel(ctx context.Context, tenantID, channelID uuid.UUID) (*models.Channel, error) {
	ch, err := s.channels.GetByID(ctx, tenantID, channelID)
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	if ch == nil {
		return nil, models.NotFoundf("channel %s", channelID)
	}
	if err := ch.Unarchive(); err != nil {
		return nil, err
	}
	if err := s.channels.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("unarchive channel: %w", err)
	}
	s.cache.CacheChannel(ctx, ch)
	return ch, nil
}

// RecordMessage bumps the channel's activity stats and invalidates the
// cached object so the next read sees fresh counters.
func (s *ChannelService) RecordMessage(ctx context.Context, tenantID, channelID uuid.UUID) error {
	ch, err := s.GetChannelByID(ctx, tenantID, channelID)
	if err != nil {
		return err
	}
	if err := ch.RecordMessage(); err != nil {
		return err
	}
	if err := s.channels.Update(ctx, ch); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	s.cache.InvalidateChannel(ctx, channelID)
	return nil
}

// DeleteChannel removes the channel and every derived cache entry.
func (s *ChannelService) DeleteChannel(ctx context.Context, tenantID, channelID uuid.UUID) error {
	if err := s.channels.Delete(ctx, tenantID, channelID); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	s.cache.InvalidateChannel(ctx, channelID)
	s.cache.InvalidateChannelMessages(ctx, channelID)
	s.logger.Info("channel deleted", zap.String("channel_id", channelID.String()))
	return nil
}
