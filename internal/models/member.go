package models

import (
	"time"

	"github.com/google/uuid"
)

// MemberRole is a closed enum. Role changes go through the transition
// methods below; there is no direct assignment path that skips them.
type MemberRole string

const (
	RoleOwner  MemberRole = "OWNER"
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
	RoleGuest  MemberRole = "GUEST"
)

func (r MemberRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest:
		return true
	}
	return false
}

// CanManageChannel reports whether the role may update channel settings.
func (r MemberRole) CanManageChannel() bool {
	return r == RoleOwner || r == RoleAdmin
}

// CanManageMembers reports whether the role may add or remove members.
func (r MemberRole) CanManageMembers() bool {
	return r == RoleOwner || r == RoleAdmin
}

// CanSendMessages reports whether the role may post. Guests are read-only
// participants: they receive fan-out but cannot write.
func (r MemberRole) CanSendMessages() bool {
	return r != RoleGuest
}

// MemberStatus is a closed enum for the membership lifecycle.
type MemberStatus string

const (
	StatusActive  MemberStatus = "ACTIVE"
	StatusMuted   MemberStatus = "MUTED"
	StatusLeft    MemberStatus = "LEFT"
	StatusRemoved MemberStatus = "REMOVED"
)

// CanAccessChannel reports whether the status still grants channel
// access. Muted members keep access; they only stop receiving pushes.
func (s MemberStatus) CanAccessChannel() bool {
	return s == StatusActive || s == StatusMuted
}

// ReceivesNotifications reports whether fan-out should reach the member.
func (s MemberStatus) ReceivesNotifications() bool {
	return s == StatusActive
}

// NotificationLevel is the member's per-channel notification preference.
type NotificationLevel string

const (
	NotifyAll      NotificationLevel = "ALL"
	NotifyMentions NotificationLevel = "MENTIONS"
	NotifyNone     NotificationLevel = "NONE"
)

func (l NotificationLevel) Valid() bool {
	switch l {
	case NotifyAll, NotifyMentions, NotifyNone:
		return true
	}
	return false
}

// ChannelMember is a user's membership in a channel: role, lifecycle
// status, read position and notification preferences.
//
// Legal role transitions: MEMBER<->ADMIN (promote/demote) and the paired
// OWNER->ADMIN / *->OWNER ownership transfer. Status transitions:
// ACTIVE<->MUTED, ACTIVE|MUTED->LEFT|REMOVED, LEFT->ACTIVE (rejoin).
type ChannelMember struct {
	ID        uuid.UUID `json:"id"`
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
	TenantID  uuid.UUID `json:"tenant_id"`

	Role   MemberRole   `json:"role"`
	Status MemberStatus `json:"status"`

	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
	RemovedBy *uuid.UUID `json:"removed_by,omitempty"`

	LastReadMsgID int64 `json:"last_read_msg_id"`
	UnreadCount   int   `json:"unread_count"`

	IsMuted           bool              `json:"is_muted"`
	IsPinned          bool              `json:"is_pinned"`
	NotificationLevel NotificationLevel `json:"notification_level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newChannelMember(channelID, userID, tenantID uuid.UUID, role MemberRole) *ChannelMember {
	now := time.Now()
	return &ChannelMember{
		ChannelID:         channelID,
		UserID:            userID,
		TenantID:          tenantID,
		Role:              role,
		Status:            StatusActive,
		JoinedAt:          now,
		NotificationLevel: NotifyAll,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// NewOwner creates the channel's owning membership. Exactly one OWNER
// exists per channel; the directory creates it together with the channel.
func NewOwner(channelID, userID, tenantID uuid.UUID) *ChannelMember {
	return newChannelMember(channelID, userID, tenantID, RoleOwner)
}

func NewMember(channelID, userID, tenantID uuid.UUID) *ChannelMember {
	return newChannelMember(channelID, userID, tenantID, RoleMember)
}

func NewAdmin(channelID, userID, tenantID uuid.UUID) *ChannelMember {
	return newChannelMember(channelID, userID, tenantID, RoleAdmin)
}

func NewGuest(channelID, userID, tenantID uuid.UUID) *ChannelMember {
	return newChannelMember(channelID, userID, tenantID, RoleGuest)
}

// PromoteToAdmin moves MEMBER or GUEST to ADMIN.
func (m *ChannelMember) PromoteToAdmin() error {
	if err := m.requireAccess(); err != nil {
		return err
	}
	if m.Role == RoleOwner {
		return InvalidStatef("cannot change role of channel owner %s", m.UserID)
	}
	if m.Role == RoleAdmin {
		return InvalidStatef("user %s is already an admin", m.UserID)
	}
	m.Role = RoleAdmin
	m.touch()
	return nil
}

// DemoteToMember moves ADMIN back to MEMBER.
func (m *ChannelMember) DemoteToMember() error {
	if err := m.requireAccess(); err != nil {
		return err
	}
	if m.Role == RoleOwner {
		return InvalidStatef("cannot demote channel owner %s", m.UserID)
	}
	if m.Role != RoleAdmin {
		return InvalidStatef("user %s is not an admin", m.UserID)
	}
	m.Role = RoleMember
	m.touch()
	return nil
}

// Leave marks the membership LEFT. The owner must transfer ownership
// first.
func (m *ChannelMember) Leave() error {
	if m.Role == RoleOwner {
		return InvalidStatef("owner %s cannot leave, transfer ownership first", m.UserID)
	}
	if m.Status == StatusLeft {
		return InvalidStatef("user %s already left the channel", m.UserID)
	}
	now := time.Now()
	m.Status = StatusLeft
	m.LeftAt = &now
	m.UpdatedAt = now
	return nil
}

// RemoveBy marks the membership REMOVED, recording the remover.
func (m *ChannelMember) RemoveBy(removerID uuid.UUID) error {
	if m.Role == RoleOwner {
		return InvalidStatef("cannot remove channel owner %s", m.UserID)
	}
	if m.Status == StatusRemoved {
		return InvalidStatef("user %s already removed from the channel", m.UserID)
	}
	now := time.Now()
	m.Status = StatusRemoved
	m.RemovedBy = &removerID
	m.LeftAt = &now
	m.UpdatedAt = now
	return nil
}

// Rejoin reactivates a LEFT membership. REMOVED members cannot rejoin on
// their own; they must be re-added by someone with member management
// rights, which goes through the same path after moderation clears them.
func (m *ChannelMember) Rejoin() error {
	if m.Status != StatusLeft {
		return InvalidStatef("user %s can only rejoin after leaving", m.UserID)
	}
	m.Status = StatusActive
	m.LeftAt = nil
	m.RemovedBy = nil
	m.JoinedAt = time.Now()
	m.UpdatedAt = m.JoinedAt
	return nil
}

// BecomeOwner is the receiving half of an ownership transfer.
func (m *ChannelMember) BecomeOwner() error {
	if err := m.requireAccess(); err != nil {
		return err
	}
	m.Role = RoleOwner
	m.touch()
	return nil
}

// RelinquishOwnership is the giving half of an ownership transfer: the
// owner steps down to ADMIN.
func (m *ChannelMember) RelinquishOwnership() error {
	if m.Role != RoleOwner {
		return InvalidStatef("user %s is not the channel owner", m.UserID)
	}
	m.Role = RoleAdmin
	m.touch()
	return nil
}

// ToggleMute flips the mute flag and mirrors it into the status so the
// fan-out predicate stays a single status check.
func (m *ChannelMember) ToggleMute() error {
	if err := m.requireAccess(); err != nil {
		return err
	}
	m.IsMuted = !m.IsMuted
	if m.IsMuted {
		m.Status = StatusMuted
	} else {
		m.Status = StatusActive
	}
	m.touch()
	return nil
}

func (m *ChannelMember) TogglePin() error {
	if err := m.requireAccess(); err != nil {
		return err
	}
	m.IsPinned = !m.IsPinned
	m.touch()
	return nil
}

func (m *ChannelMember) SetNotificationLevel(level NotificationLevel) error {
	if err := m.requireAccess(); err != nil {
		return err
	}
	if !level.Valid() {
		return Validationf("unknown notification level %q", string(level))
	}
	m.NotificationLevel = level
	m.touch()
	return nil
}

// MarkAsRead advances the read pointer and zeroes the unread counter.
func (m *ChannelMember) MarkAsRead(messageID int64) error {
	if err := m.requireAccess(); err != nil {
		return err
	}
	m.LastReadMsgID = messageID
	m.UnreadCount = 0
	m.touch()
	return nil
}

// IncrementUnread bumps the unread counter for members that still have
// channel access. No-op for LEFT/REMOVED members.
func (m *ChannelMember) IncrementUnread() {
	if m.Status.CanAccessChannel() {
		m.UnreadCount++
		m.touch()
	}
}

func (m *ChannelMember) IsOwner() bool  { return m.Role == RoleOwner }
func (m *ChannelMember) IsAdmin() bool  { return m.Role == RoleAdmin }
func (m *ChannelMember) IsActive() bool { return m.Status == StatusActive }

func (m *ChannelMember) CanSendMessages() bool {
	return m.Status.CanAccessChannel() && m.Role.CanSendMessages()
}

func (m *ChannelMember) CanManageChannel() bool {
	return m.Status.CanAccessChannel() && m.Role.CanManageChannel()
}

func (m *ChannelMember) CanManageMembers() bool {
	return m.Status.CanAccessChannel() && m.Role.CanManageMembers()
}

func (m *ChannelMember) ShouldReceiveNotification() bool {
	return m.Status.ReceivesNotifications() && !m.IsMuted && m.NotificationLevel != NotifyNone
}

func (m *ChannelMember) HasUnread() bool { return m.UnreadCount > 0 }

func (m *ChannelMember) requireAccess() error {
	if !m.Status.CanAccessChannel() {
		return InvalidStatef("user %s is not active in the channel", m.UserID)
	}
	return nil
}

func (m *ChannelMember) touch() {
	m.UpdatedAt = time.Now()
}
