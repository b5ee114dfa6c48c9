package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convohq/convo/internal/models"
)

// Schema notes: channels carries two partial unique indexes that make
// get-or-create race-safe under concurrency:
//
//	UNIQUE (tenant_id, created_by, peer_id) WHERE type = 'DIRECT'
//	UNIQUE (tenant_id, entity_type, entity_id) WHERE type = 'TOPIC'
//
// The loser of a concurrent create gets a constraint violation and
// retries the lookup.

const channelColumns = `
	id, tenant_id, type, name, description,
	entity_type, entity_id, peer_id,
	is_private, is_archived,
	member_count, message_count, last_message_at,
	created_by, created_at, updated_at`

type ChannelStore struct {
	pool *pgxpool.Pool
}

func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{pool: pool}
}

func (s *ChannelStore) Create(ctx context.Context, ch *models.Channel) error {
	query := `
		INSERT INTO channels (
			id, tenant_id, type, name, description,
			entity_type, entity_id, peer_id,
			is_private, is_archived,
			member_count, message_count, last_message_at,
			created_by, created_at, updated_at
		)
		VALUES (uuid_generate_v4(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		ch.TenantID, ch.Type, ch.Name, ch.Description,
		ch.EntityType, ch.EntityID, ch.PeerID,
		ch.IsPrivate, ch.IsArchived,
		ch.MemberCount, ch.MessageCount, ch.LastMessageAt,
		ch.CreatedBy, ch.CreatedAt, ch.UpdatedAt,
	).Scan(&ch.ID)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *ChannelStore) GetByID(ctx context.Context, tenantID, channelID uuid.UUID) (*models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE id = $1 AND tenant_id = $2`

	return s.queryOne(ctx, query, channelID, tenantID)
}

func (s *ChannelStore) FindDirectChannel(ctx context.Context, tenantID, firstUserID, secondUserID uuid.UUID) (*models.Channel, error) {
	smaller, larger := models.CanonicalDirectPair(firstUserID, secondUserID)
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE tenant_id = $1 AND type = $2 AND created_by = $3 AND peer_id = $4`

	return s.queryOne(ctx, query, tenantID, models.ChannelDirect, smaller, larger)
}

func (s *ChannelStore) FindByEntity(ctx context.Context, tenantID uuid.UUID, entityType string, entityID int64) (*models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE tenant_id = $1 AND type = $2 AND entity_type = $3 AND entity_id = $4`

	return s.queryOne(ctx, query, tenantID, models.ChannelTopic, entityType, entityID)
}

func (s *ChannelStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE tenant_id = $1 AND is_archived = false
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC`

	return s.queryMany(ctx, query, tenantID)
}

func (s *ChannelStore) ListByType(ctx context.Context, tenantID uuid.UUID, channelType models.ChannelType) ([]*models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE tenant_id = $1 AND type = $2 AND is_archived = false
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC`

	return s.queryMany(ctx, query, tenantID, channelType)
}

func (s *ChannelStore) Update(ctx context.Context, ch *models.Channel) error {
	query := `
		UPDATE channels
		SET name = $1, description = $2, is_archived = $3,
		    member_count = $4, message_count = $5, last_message_at = $6,
		    updated_at = $7
		WHERE id = $8 AND tenant_id = $9`

	tag, err := s.pool.Exec(ctx, query,
		ch.Name, ch.Description, ch.IsArchived,
		ch.MemberCount, ch.MessageCount, ch.LastMessageAt,
		ch.UpdatedAt,
		ch.ID, ch.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFoundf("channel %s", ch.ID)
	}
	return nil
}

func (s *ChannelStore) Delete(ctx context.Context, tenantID, channelID uuid.UUID) error {
	query := `DELETE FROM channels WHERE id = $1 AND tenant_id = $2`

	tag, err := s.pool.Exec(ctx, query, channelID, tenantID)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFoundf("channel %s", channelID)
	}
	return nil
}

func (s *ChannelStore) queryOne(ctx context.Context, query string, args ...any) (*models.Channel, error) {
	var ch models.Channel
	err := s.pool.QueryRow(ctx, query, args...).Scan(channelFields(&ch)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

func (s *ChannelStore) queryMany(ctx context.Context, query string, args ...any) ([]*models.Channel, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := make([]*models.Channel, 0)
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(channelFields(&ch)...); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return channels, nil
}

// channelFields lists scan targets in channelColumns order.
func channelFields(ch *models.Channel) []any {
	return []any{
		&ch.ID, &ch.TenantID, &ch.Type, &ch.Name, &ch.Description,
		&ch.EntityType, &ch.EntityID, &ch.PeerID,
		&ch.IsPrivate, &ch.IsArchived,
		&ch.MemberCount, &ch.MessageCount, &ch.LastMessageAt,
		&ch.CreatedBy, &ch.CreatedAt, &ch.UpdatedAt,
	}
}
