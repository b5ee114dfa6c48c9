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

// Schema notes: messages.id is a bigserial, which gives the channel a
// monotonic ordering key for cursor pagination. mentions, reactions and
// read_by are jsonb; pgx encodes the Go slices through encoding/json.

const messageColumns = `
	id, channel_id, sender_id, tenant_id,
	content, message_type, mentions,
	parent_id, thread_count,
	is_edited, edited_at,
	is_deleted, deleted_at, deleted_by,
	reactions, read_by,
	created_at, updated_at`

// live filters out soft-deleted rows; they stay in the table for audit
// but never appear in lists, searches or counts.
const live = `is_deleted = false`

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Create(ctx context.Context, m *models.Message) error {
	query := `
		INSERT INTO messages (
			channel_id, sender_id, tenant_id,
			content, message_type, mentions,
			parent_id, thread_count,
			is_edited, edited_at,
			is_deleted, deleted_at, deleted_by,
			reactions, read_by,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING id, created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		m.ChannelID, m.SenderID, m.TenantID,
		m.Content, m.MessageType, m.Mentions,
		m.ParentID, m.ThreadCount,
		m.IsEdited, m.EditedAt,
		m.IsDeleted, m.DeletedAt, m.DeletedBy,
		m.Reactions, m.ReadBy,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MessageStore) GetByID(ctx context.Context, channelID uuid.UUID, messageID int64) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1 AND channel_id = $2`

	var m models.Message
	err := s.pool.QueryRow(ctx, query, messageID, channelID).Scan(messageFields(&m)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// ListPage returns top-level live messages newest first plus the total
// count over the same filter, so the paged cache can store both.
func (s *MessageStore) ListPage(ctx context.Context, channelID uuid.UUID, page, size int) ([]*models.Message, int64, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id = $1 AND parent_id IS NULL AND ` + live + `
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`

	messages, err := s.queryMany(ctx, query, channelID, size, page*size)
	if err != nil {
		return nil, 0, err
	}

	countQuery := `
		SELECT count(*) FROM messages
		WHERE channel_id = $1 AND parent_id IS NULL AND ` + live

	var total int64
	if err := s.pool.QueryRow(ctx, countQuery, channelID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	return messages, total, nil
}

func (s *MessageStore) ListBefore(ctx context.Context, channelID uuid.UUID, before int64, limit int) ([]*models.Message, error) {
	if before == 0 {
		query := `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE channel_id = $1 AND parent_id IS NULL AND ` + live + `
			ORDER BY id DESC
			LIMIT $2`
		return s.queryMany(ctx, query, channelID, limit)
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id = $1 AND parent_id IS NULL AND id < $2 AND ` + live + `
		ORDER BY id DESC
		LIMIT $3`
	return s.queryMany(ctx, query, channelID, before, limit)
}

func (s *MessageStore) ListReplies(ctx context.Context, parentID int64) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE parent_id = $1 AND ` + live + `
		ORDER BY id ASC`

	return s.queryMany(ctx, query, parentID)
}

func (s *MessageStore) Search(ctx context.Context, channelID uuid.UUID, search string, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id = $1 AND content ILIKE '%' || $2 || '%' AND ` + live + `
		ORDER BY id DESC
		LIMIT $3`

	return s.queryMany(ctx, query, channelID, search, limit)
}

func (s *MessageStore) CountAfter(ctx context.Context, channelID uuid.UUID, afterID int64) (int, error) {
	query := `
		SELECT count(*) FROM messages
		WHERE channel_id = $1 AND id > $2 AND ` + live

	var n int
	if err := s.pool.QueryRow(ctx, query, channelID, afterID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages after: %w", err)
	}
	return n, nil
}

func (s *MessageStore) Update(ctx context.Context, m *models.Message) error {
	query := `
		UPDATE messages
		SET content = $1, mentions = $2, thread_count = $3,
		    is_edited = $4, edited_at = $5,
		    is_deleted = $6, deleted_at = $7, deleted_by = $8,
		    reactions = $9, read_by = $10,
		    updated_at = $11
		WHERE id = $12`

	tag, err := s.pool.Exec(ctx, query,
		m.Content, m.Mentions, m.ThreadCount,
		m.IsEdited, m.EditedAt,
		m.IsDeleted, m.DeletedAt, m.DeletedBy,
		m.Reactions, m.ReadBy,
		m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFoundf("message %d", m.ID)
	}
	return nil
}

func (s *MessageStore) queryMany(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(messageFields(&m)...); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// messageFields lists scan targets in messageColumns order.
func messageFields(m *models.Message) []any {
	return []any{
		&m.ID, &m.ChannelID, &m.SenderID, &m.TenantID,
		&m.Content, &m.MessageType, &m.Mentions,
		&m.ParentID, &m.ThreadCount,
		&m.IsEdited, &m.EditedAt,
		&m.IsDeleted, &m.DeletedAt, &m.DeletedBy,
		&m.Reactions, &m.ReadBy,
		&m.CreatedAt, &m.UpdatedAt,
	}
}
