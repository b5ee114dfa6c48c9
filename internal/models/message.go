package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType is a closed enum.
type MessageType string

const (
	// MessageStandard is a user-authored message.
	MessageStandard MessageType = "STANDARD"
	// MessageSystem is generated by the platform ("Alice joined").
	// System messages are immutable and always carry content.
	MessageSystem MessageType = "SYSTEM"
)

func (t MessageType) Valid() bool {
	return t == MessageStandard || t == MessageSystem
}

// UserGenerated reports whether the message can be edited by its sender.
func (t MessageType) UserGenerated() bool {
	return t == MessageStandard
}

// Reaction groups the users who reacted with one emoji. Emojis are
// unique per message and users unique per reaction.
type Reaction struct {
	Emoji   string      `json:"emoji"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

func (r *Reaction) addUser(userID uuid.UUID) {
	if !slices.Contains(r.UserIDs, userID) {
		r.UserIDs = append(r.UserIDs, userID)
	}
}

func (r *Reaction) removeUser(userID uuid.UUID) {
	r.UserIDs = slices.DeleteFunc(r.UserIDs, func(id uuid.UUID) bool {
		return id == userID
	})
}

func (r *Reaction) HasUser(userID uuid.UUID) bool {
	return slices.Contains(r.UserIDs, userID)
}

// Message is a single entry in a channel. Replies reference their parent
// by id only (parentId), never as an in-memory cycle; ThreadCount is the
// denormalized live-reply counter maintained at write time.
type Message struct {
	ID        int64     `json:"id"`
	ChannelID uuid.UUID `json:"channel_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	TenantID  uuid.UUID `json:"tenant_id"`

	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`

	Mentions []uuid.UUID `json:"mentions,omitempty"`

	ParentID    *int64 `json:"parent_id,omitempty"`
	ThreadCount int    `json:"thread_count"`

	IsEdited bool       `json:"is_edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *uuid.UUID `json:"deleted_by,omitempty"`

	Reactions []Reaction  `json:"reactions,omitempty"`
	ReadBy    []uuid.UUID `json:"read_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMessage builds a standard message. Content may be empty when the
// caller attaches files; that rule is enforced where attachments are
// known, not here.
func NewMessage(channelID, senderID, tenantID uuid.UUID, content string, mentions []uuid.UUID) *Message {
	now := time.Now()
	return &Message{
		ChannelID:   channelID,
		SenderID:    senderID,
		TenantID:    tenantID,
		Content:     content,
		MessageType: MessageStandard,
		Mentions:    mentions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewReply builds a standard message threaded under parentID.
func NewReply(channelID, senderID, tenantID uuid.UUID, content string, parentID int64, mentions []uuid.UUID) *Message {
	msg := NewMessage(channelID, senderID, tenantID, content, mentions)
	msg.ParentID = &parentID
	return msg
}

// NewSystemMessage builds a SYSTEM message. Content is mandatory.
func NewSystemMessage(channelID, tenantID uuid.UUID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, Validationf("content is required for system messages")
	}
	now := time.Now()
	return &Message{
		ChannelID:   channelID,
		SenderID:    uuid.Nil,
		TenantID:    tenantID,
		Content:     content,
		MessageType: MessageSystem,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ValidateForCreation checks required fields before any persistence.
func (m *Message) ValidateForCreation() error {
	if m.ChannelID == uuid.Nil {
		return Validationf("message channel id is required")
	}
	if m.TenantID == uuid.Nil {
		return Validationf("message tenant id is required")
	}
	if !m.MessageType.Valid() {
		return Validationf("unknown message type %q", string(m.MessageType))
	}
	switch m.MessageType {
	case MessageSystem:
		if !m.HasContent() {
			return Validationf("content is required for system messages")
		}
	case MessageStandard:
		if m.SenderID == uuid.Nil {
			return Validationf("message sender id is required")
		}
		if !m.HasContent() {
			return Validationf("message content is required")
		}
	}
	return nil
}

// Edit replaces the content. Sender-only; system messages and deleted
// messages are immutable.
func (m *Message) Edit(newContent string, editorID uuid.UUID) error {
	if err := m.requireNotDeleted(); err != nil {
		return err
	}
	if m.SenderID != editorID {
		return InvalidStatef("only the sender can edit message %d", m.ID)
	}
	if !m.MessageType.UserGenerated() {
		return InvalidStatef("cannot edit system message %d", m.ID)
	}
	now := time.Now()
	m.Content = newContent
	m.IsEdited = true
	m.EditedAt = &now
	m.UpdatedAt = now
	return nil
}

// Delete soft-deletes the message. Allowed for the sender or an admin.
func (m *Message) Delete(deleterID uuid.UUID, isAdmin bool) error {
	if err := m.requireNotDeleted(); err != nil {
		return err
	}
	if m.SenderID != deleterID && !isAdmin {
		return InvalidStatef("only the sender or an admin can delete message %d", m.ID)
	}
	now := time.Now()
	m.IsDeleted = true
	m.DeletedAt = &now
	m.DeletedBy = &deleterID
	m.UpdatedAt = now
	return nil
}

// AddReaction records (emoji, user). Idempotent per pair.
func (m *Message) AddReaction(emoji string, userID uuid.UUID) error {
	if err := m.requireNotDeleted(); err != nil {
		return err
	}
	if strings.TrimSpace(emoji) == "" {
		return Validationf("reaction emoji is required")
	}
	for i := range m.Reactions {
		if m.Reactions[i].Emoji == emoji {
			m.Reactions[i].addUser(userID)
			m.touch()
			return nil
		}
	}
	m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, UserIDs: []uuid.UUID{userID}})
	m.touch()
	return nil
}

// RemoveReaction drops (emoji, user). Removing the last user drops the
// reaction entry entirely. No-op when the pair is absent.
func (m *Message) RemoveReaction(emoji string, userID uuid.UUID) error {
	if err := m.requireNotDeleted(); err != nil {
		return err
	}
	for i := range m.Reactions {
		if m.Reactions[i].Emoji != emoji {
			continue
		}
		m.Reactions[i].removeUser(userID)
		if len(m.Reactions[i].UserIDs) == 0 {
			m.Reactions = slices.Delete(m.Reactions, i, i+1)
		}
		m.touch()
		return nil
	}
	return nil
}

// MarkReadBy appends the reader once.
func (m *Message) MarkReadBy(userID uuid.UUID) {
	if !slices.Contains(m.ReadBy, userID) {
		m.ReadBy = append(m.ReadBy, userID)
	}
}

func (m *Message) IncrementThreadCount() {
	m.ThreadCount++
	m.touch()
}

// DecrementThreadCount floors at zero.
func (m *Message) DecrementThreadCount() {
	if m.ThreadCount > 0 {
		m.ThreadCount--
		m.touch()
	}
}

func (m *Message) IsReply() bool   { return m.ParentID != nil }
func (m *Message) HasThread() bool { return m.ThreadCount > 0 }
func (m *Message) IsSystem() bool  { return m.MessageType == MessageSystem }

func (m *Message) HasContent() bool {
	return strings.TrimSpace(m.Content) != ""
}

func (m *Message) IsReadBy(userID uuid.UUID) bool {
	return slices.Contains(m.ReadBy, userID)
}

func (m *Message) IsSentBy(userID uuid.UUID) bool {
	return m.SenderID == userID
}

func (m *Message) MentionsUser(userID uuid.UUID) bool {
	return slices.Contains(m.Mentions, userID)
}

// ReactionCount is the total number of (emoji, user) pairs.
func (m *Message) ReactionCount() int {
	n := 0
	for i := range m.Reactions {
		n += len(m.Reactions[i].UserIDs)
	}
	return n
}

func (m *Message) requireNotDeleted() error {
	if m.IsDeleted {
		return InvalidStatef("cannot modify deleted message %d", m.ID)
	}
	return nil
}

func (m *Message) touch() {
	m.UpdatedAt = time.Now()
}
