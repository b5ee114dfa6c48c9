package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/cache"
	"github.com/convohq/convo/internal/models"
)

const (
	profilePrefix = "discuss:user:"
	profileTTL    = 5 * time.Minute

	// enrichWorkers bounds the concurrent account lookups per bulk call.
	enrichWorkers = 8
)

// UserInfoService resolves user profiles through the account client,
// cache-aside per user id.
type UserInfoService struct {
	accounts AccountClient
	kv       cache.KV
	logger   *zap.Logger
}

func NewUserInfoService(accounts AccountClient, kv cache.KV, logger *zap.Logger) *UserInfoService {
	return &UserInfoService{
		accounts: accounts,
		kv:       kv,
		logger:   logger.Named("userinfo"),
	}
}

// Profile returns the user's profile, cache-first.
func (s *UserInfoService) Profile(ctx context.Context, tenantID, userID uuid.UUID) (*Profile, error) {
	key := profilePrefix + userID.String()
	if raw, ok, err := s.kv.Get(ctx, key); err == nil && ok {
		var profile Profile
		if err := json.Unmarshal([]byte(raw), &profile); err == nil {
			return &profile, nil
		}
	}

	profile, err := s.accounts.Profile(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(profile); err == nil {
		if err := s.kv.Set(ctx, key, string(raw), profileTTL); err != nil {
			s.logger.Warn("profile not cached",
				zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	return profile, nil
}

// EnrichedMessage pairs a message with its sender's profile. Sender is
// nil for system messages and for failed lookups.
type EnrichedMessage struct {
	*models.Message
	Sender *Profile `json:"sender,omitempty"`
}

// EnrichMessages attaches sender profiles to a batch of messages.
// Lookups run on a bounded worker pool; a failed lookup leaves that
// entry without a profile instead of failing the batch.
func (s *UserInfoService) EnrichMessages(ctx context.Context, tenantID uuid.UUID, messages []*models.Message) []EnrichedMessage {
	enriched := make([]EnrichedMessage, len(messages))
	for i, msg := range messages {
		enriched[i] = EnrichedMessage{Message: msg}
	}

	senderIDs := make(map[uuid.UUID]struct{})
	for _, msg := range messages {
		if msg.SenderID != uuid.Nil {
			senderIDs[msg.SenderID] = struct{}{}
		}
	}
	if len(senderIDs) == 0 {
		return enriched
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, enrichWorkers)
		profiles = make(map[uuid.UUID]*Profile, len(senderIDs))
	)
	for senderID := range senderIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(id uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()

			profile, err := s.Profile(ctx, tenantID, id)
			if err != nil {
				s.logger.Warn("profile lookup failed",
					zap.String("user_id", id.String()), zap.Error(err))
				return
			}
			mu.Lock()
			profiles[id] = profile
			mu.Unlock()
		}(senderID)
	}
	wg.Wait()

	for i := range enriched {
		if profile, ok := profiles[enriched[i].SenderID]; ok {
			enriched[i].Sender = profile
		}
	}
	return enriched
}
