package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/convohq/convo/internal/ws"
)

// Hub is the socket push seam. Implementations deliver to every active
// session of the user on this instance; delivery is best effort and the
// error is only ever logged by callers.
type Hub interface {
	SendToUser(userID uuid.UUID, event ws.Event) error
	SendToUsers(userIDs []uuid.UUID, event ws.Event) error
}

// Presence answers who is currently connected.
type Presence interface {
	// OnlineUsers returns the subset of candidates currently online.
	OnlineUsers(ctx context.Context, candidates []uuid.UUID) ([]uuid.UUID, error)
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Profile is the slice of account data the chat core needs.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}

// AccountClient resolves user profiles from the account system.
type AccountClient interface {
	Profile(ctx context.Context, tenantID, userID uuid.UUID) (*Profile, error)
}

// EventPublisher mirrors hub events onto a broadcast topic so other
// instances can fan out to their own sockets. Best effort.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event ws.Event)
}
