package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convohq/convo/internal/models"
)

// Schema notes: channel_members carries
//
//	UNIQUE (channel_id, user_id)
//
// which makes concurrent add-member attempts collapse to one row.

const memberColumns = `
	id, channel_id, user_id, tenant_id,
	role, status,
	joined_at, left_at, removed_by,
	last_read_msg_id, unread_count,
	is_muted, is_pinned, notification_level,
	created_at, updated_at`

type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

func (s *MembershipStore) Create(ctx context.Context, m *models.ChannelMember) error {
	query := `
		INSERT INTO channel_members (
			id, channel_id, user_id, tenant_id,
			role, status,
			joined_at, left_at, removed_by,
			last_read_msg_id, unread_count,
			is_muted, is_pinned, notification_level,
			created_at, updated_at
		)
		VALUES (uuid_generate_v4(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		m.ChannelID, m.UserID, m.TenantID,
		m.Role, m.Status,
		m.JoinedAt, m.LeftAt, m.RemovedBy,
		m.LastReadMsgID, m.UnreadCount,
		m.IsMuted, m.IsPinned, m.NotificationLevel,
		m.CreatedAt, m.UpdatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (s *MembershipStore) FindByChannelAndUser(ctx context.Context, channelID, userID uuid.UUID) (*models.ChannelMember, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM channel_members
		WHERE channel_id = $1 AND user_id = $2`

	var m models.ChannelMember
	err := s.pool.QueryRow(ctx, query, channelID, userID).Scan(memberFields(&m)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

func (s *MembershipStore) FindByChannelAndStatus(ctx context.Context, channelID uuid.UUID, status models.MemberStatus) ([]*models.ChannelMember, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM channel_members
		WHERE channel_id = $1 AND status = $2
		ORDER BY joined_at ASC`

	return s.queryMany(ctx, query, channelID, status)
}

func (s *MembershipStore) FindByUserAndStatus(ctx context.Context, userID uuid.UUID, status models.MemberStatus) ([]*models.ChannelMember, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM channel_members
		WHERE user_id = $1 AND status = $2
		ORDER BY is_pinned DESC, updated_at DESC`

	return s.queryMany(ctx, query, userID, status)
}

func (s *MembershipStore) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM channel_members
			WHERE channel_id = $1 AND user_id = $2 AND status IN ($3, $4)
		)`

	var ok bool
	err := s.pool.QueryRow(ctx, query, channelID, userID, models.StatusActive, models.StatusMuted).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

func (s *MembershipStore) CountActive(ctx context.Context, channelID uuid.UUID) (int, error) {
	query := `
		SELECT count(*) FROM channel_members
		WHERE channel_id = $1 AND status = $2`

	var n int
	err := s.pool.QueryRow(ctx, query, channelID, models.StatusActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

func (s *MembershipStore) Update(ctx context.Context, m *models.ChannelMember) error {
	return updateRow(ctx, s.pool, m)
}

// UpdatePair persists two membership rows in one transaction. Ownership
// transfer goes through here: a half-applied swap would leave the
// channel without an owner.
func (s *MembershipStore) UpdatePair(ctx context.Context, first, second *models.ChannelMember) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := updateRow(ctx, tx, first); err != nil {
			return err
		}
		return updateRow(ctx, tx, second)
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateRow(ctx context.Context, db execer, m *models.ChannelMember) error {
	query := `
		UPDATE channel_members
		SET role = $1, status = $2,
		    joined_at = $3, left_at = $4, removed_by = $5,
		    last_read_msg_id = $6, unread_count = $7,
		    is_muted = $8, is_pinned = $9, notification_level = $10,
		    updated_at = $11
		WHERE id = $12`

	tag, err := db.Exec(ctx, query,
		m.Role, m.Status,
		m.JoinedAt, m.LeftAt, m.RemovedBy,
		m.LastReadMsgID, m.UnreadCount,
		m.IsMuted, m.IsPinned, m.NotificationLevel,
		m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFoundf("membership %s", m.ID)
	}
	return nil
}

// IncrementUnreadForChannel bumps unread_count for every active member
// except the sender in one statement. Muted members keep access but do
// not accumulate badge counts.
func (s *MembershipStore) IncrementUnreadForChannel(ctx context.Context, channelID, senderID uuid.UUID) error {
	query := `
		UPDATE channel_members
		SET unread_count = unread_count + 1, updated_at = now()
		WHERE channel_id = $1 AND user_id <> $2 AND status = $3`

	if _, err := s.pool.Exec(ctx, query, channelID, senderID, models.StatusActive); err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

func (s *MembershipStore) queryMany(ctx context.Context, query string, args ...any) ([]*models.ChannelMember, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	members := make([]*models.ChannelMember, 0)
	for rows.Next() {
		var m models.ChannelMember
		if err := rows.Scan(memberFields(&m)...); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}

	return members, nil
}

// memberFields lists scan targets in memberColumns order.
func memberFields(m *models.ChannelMember) []any {
	return []any{
		&m.ID, &m.ChannelID, &m.UserID, &m.TenantID,
		&m.Role, &m.Status,
		&m.JoinedAt, &m.LeftAt, &m.RemovedBy,
		&m.LastReadMsgID, &m.UnreadCount,
		&m.IsMuted, &m.IsPinned, &m.NotificationLevel,
		&m.CreatedAt, &m.UpdatedAt,
	}
}
