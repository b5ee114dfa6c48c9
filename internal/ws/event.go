package ws

import (
	"time"

	"github.com/google/uuid"
)

// EventType names every frame the hub can push to a client.
type EventType string

const (
	EventMessageNew      EventType = "message.new"
	EventMessageUpdated  EventType = "message.updated"
	EventMessageDeleted  EventType = "message.deleted"
	EventReactionAdded   EventType = "reaction.added"
	EventReactionRemoved EventType = "reaction.removed"
	EventTypingStart     EventType = "typing.start"
	EventTypingStop      EventType = "typing.stop"
	EventMemberJoined    EventType = "member.joined"
	EventMemberLeft      EventType = "member.left"
	EventChannelUpdated  EventType = "channel.updated"
	EventPresenceChanged EventType = "presence.changed"
	EventUnreadChanged   EventType = "unread.changed"
)

// Event is the envelope pushed over the socket and mirrored onto the
// pub/sub topic. Payload is event-specific and already JSON-friendly.
type Event struct {
	Type      EventType `json:"type"`
	ChannelID uuid.UUID `json:"channel_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent stamps the envelope with the current time.
func NewEvent(eventType EventType, channelID uuid.UUID, payload any) Event {
	return Event{
		Type:      eventType,
		ChannelID: channelID,
		Payload:   payload,
		At:        time.Now(),
	}
}

// TypingPayload carries the typing indicator. DisplayName may be empty
// when the profile lookup failed; clients fall back to a generic label.
type TypingPayload struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID uuid.UUID `json:"user_id"`
	Online bool      `json:"online"`
}

// MembershipPayload announces a join or leave.
type MembershipPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role,omitempty"`
}

// DeletionPayload announces a soft delete.
type DeletionPayload struct {
	MessageID int64     `json:"message_id"`
	DeletedBy uuid.UUID `json:"deleted_by"`
}

// ReactionPayload announces a reaction change.
type ReactionPayload struct {
	MessageID int64     `json:"message_id"`
	Emoji     string    `json:"emoji"`
	UserID    uuid.UUID `json:"user_id"`
}

// UnreadPayload carries a badge update for one channel.
type UnreadPayload struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Count     int       `json:"count"`
}
