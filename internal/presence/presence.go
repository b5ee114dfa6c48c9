package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/cache"
)

const (
	presencePrefix = "discuss:presence:"
	presenceTTL    = 2 * time.Minute
)

// Service tracks who is connected. Online state is one TTL'd key per
// user refreshed by client heartbeats; the session registry in the
// coordinator maps users to their individual sockets.
//
// A user is online from their first registered session until their last
// one unregisters or the heartbeat key expires.
type Service struct {
	kv     cache.KV
	coord  *cache.Coordinator
	logger *zap.Logger
}

func New(kv cache.KV, coord *cache.Coordinator, logger *zap.Logger) *Service {
	return &Service{
		kv:     kv,
		coord:  coord,
		logger: logger.Named("presence"),
	}
}

// RegisterSession records a new socket session and reports whether it
// took the user from offline to online.
func (s *Service) RegisterSession(ctx context.Context, userID uuid.UUID, sessionID, instanceID string) (bool, error) {
	wasOnline, err := s.IsOnline(ctx, userID)
	if err != nil {
		wasOnline = false
	}

	s.coord.StoreSession(ctx, sessionID, userID, instanceID)
	if err := s.markOnline(ctx, userID); err != nil {
		return false, err
	}

	s.logger.Debug("session registered",
		zap.String("user_id", userID.String()),
		zap.String("session_id", sessionID))
	return !wasOnline, nil
}

// UnregisterSession removes a socket session and reports whether it was
// the user's last one, taking them offline.
func (s *Service) UnregisterSession(ctx context.Context, userID uuid.UUID, sessionID string) (bool, error) {
	s.coord.RemoveSession(ctx, sessionID, userID)
	s.coord.ClearSubscriptions(ctx, sessionID)

	if s.coord.ActiveSessionCount(ctx, userID) > 0 {
		return false, nil
	}

	if err := s.kv.Delete(ctx, presencePrefix+userID.String()); err != nil {
		return true, fmt.Errorf("clear presence: %w", err)
	}
	s.logger.Debug("user offline", zap.String("user_id", userID.String()))
	return true, nil
}

// Heartbeat refreshes the user's online marker.
func (s *Service) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	return s.markOnline(ctx, userID)
}

// IsOnline reports whether the user has a live presence marker.
func (s *Service) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := s.kv.Exists(ctx, presencePrefix+userID.String())
	if err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	return ok, nil
}

// OnlineUsers returns the subset of candidates currently online.
func (s *Service) OnlineUsers(ctx context.Context, candidates []uuid.UUID) ([]uuid.UUID, error) {
	online := make([]uuid.UUID, 0, len(candidates))
	for _, userID := range candidates {
		ok, err := s.IsOnline(ctx, userID)
		if err != nil {
			return nil, err
		}
		if ok {
			online = append(online, userID)
		}
	}
	return online, nil
}

func (s *Service) markOnline(ctx context.Context, userID uuid.UUID) error {
	key := presencePrefix + userID.String()
	value := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := s.kv.Set(ctx, key, value, presenceTTL); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}
