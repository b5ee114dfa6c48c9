package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/cache"
	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/ws"
)

// ---- in-memory repositories ----

type channelStub struct {
	mu       sync.Mutex
	channels map[uuid.UUID]*models.Channel
}

func newChannelStub() *channelStub {
	return &channelStub{channels: make(map[uuid.UUID]*models.Channel)}
}

func (s *channelStub) Create(_ context.Context, ch *models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.channels {
		if existing.TenantID != ch.TenantID {
			continue
		}
		if ch.Type == models.ChannelDirect && existing.Type == models.ChannelDirect &&
			existing.CreatedBy == ch.CreatedBy && existing.PeerID != nil && ch.PeerID != nil &&
			*existing.PeerID == *ch.PeerID {
			return fmt.Errorf("duplicate direct channel")
		}
		if ch.Type == models.ChannelTopic && existing.Type == models.ChannelTopic &&
			existing.EntityType == ch.EntityType && existing.EntityID == ch.EntityID {
			return fmt.Errorf("duplicate topic channel")
		}
	}

	ch.ID = uuid.New()
	clone := *ch
	s.channels[ch.ID] = &clone
	return nil
}

func (s *channelStub) GetByID(_ context.Context, tenantID, channelID uuid.UUID) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok || ch.TenantID != tenantID {
		return nil, nil
	}
	clone := *ch
	return &clone, nil
}

func (s *channelStub) FindDirectChannel(_ context.Context, tenantID, u1, u2 uuid.UUID) (*models.Channel, error) {
	smaller, larger := models.CanonicalDirectPair(u1, u2)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.TenantID == tenantID && ch.Type == models.ChannelDirect &&
			ch.CreatedBy == smaller && ch.PeerID != nil && *ch.PeerID == larger {
			clone := *ch
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *channelStub) FindByEntity(_ context.Context, tenantID uuid.UUID, entityType string, entityID int64) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.TenantID == tenantID && ch.LinkedTo(entityType, entityID) {
			clone := *ch
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *channelStub) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Channel, 0)
	for _, ch := range s.channels {
		if ch.TenantID == tenantID && !ch.IsArchived {
			clone := *ch
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *channelStub) ListByType(ctx context.Context, tenantID uuid.UUID, channelType models.ChannelType) ([]*models.Channel, error) {
	all, _ := s.ListByTenant(ctx, tenantID)
	out := make([]*models.Channel, 0)
	for _, ch := range all {
		if ch.Type == channelType {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (s *channelStub) Update(_ context.Context, ch *models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ch.ID]; !ok {
		return models.NotFoundf("channel %s", ch.ID)
	}
	clone := *ch
	s.channels[ch.ID] = &clone
	return nil
}

func (s *channelStub) Delete(_ context.Context, tenantID, channelID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok || ch.TenantID != tenantID {
		return models.NotFoundf("channel %s", channelID)
	}
	delete(s.channels, channelID)
	return nil
}

type membershipStub struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.ChannelMember
}

func newMembershipStub() *membershipStub {
	return &membershipStub{rows: make(map[uuid.UUID]*models.ChannelMember)}
}

func (s *membershipStub) Create(_ context.Context, m *models.ChannelMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ChannelID == m.ChannelID && row.UserID == m.UserID {
			return fmt.Errorf("duplicate membership")
		}
	}
	m.ID = uuid.New()
	clone := *m
	s.rows[m.ID] = &clone
	return nil
}

func (s *membershipStub) FindByChannelAndUser(_ context.Context, channelID, userID uuid.UUID) (*models.ChannelMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ChannelID == channelID && row.UserID == userID {
			clone := *row
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *membershipStub) FindByChannelAndStatus(_ context.Context, channelID uuid.UUID, status models.MemberStatus) ([]*models.ChannelMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ChannelMember, 0)
	for _, row := range s.rows {
		if row.ChannelID == channelID && row.Status == status {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *membershipStub) FindByUserAndStatus(_ context.Context, userID uuid.UUID, status models.MemberStatus) ([]*models.ChannelMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ChannelMember, 0)
	for _, row := range s.rows {
		if row.UserID == userID && row.Status == status {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *membershipStub) IsMember(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ChannelID == channelID && row.UserID == userID && row.Status.CanAccessChannel() {
			return true, nil
		}
	}
	return false, nil
}

func (s *membershipStub) CountActive(_ context.Context, channelID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows {
		if row.ChannelID == channelID && row.Status == models.StatusActive {
			n++
		}
	}
	return n, nil
}

func (s *membershipStub) Update(_ context.Context, m *models.ChannelMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[m.ID]; !ok {
		return models.NotFoundf("membership %s", m.ID)
	}
	clone := *m
	s.rows[m.ID] = &clone
	return nil
}

func (s *membershipStub) UpdatePair(_ context.Context, first, second *models.ChannelMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range []*models.ChannelMember{first, second} {
		if _, ok := s.rows[m.ID]; !ok {
			return models.NotFoundf("membership %s", m.ID)
		}
	}
	for _, m := range []*models.ChannelMember{first, second} {
		clone := *m
		s.rows[m.ID] = &clone
	}
	return nil
}

func (s *membershipStub) IncrementUnreadForChannel(_ context.Context, channelID, senderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ChannelID == channelID && row.UserID != senderID && row.Status == models.StatusActive {
			row.UnreadCount++
		}
	}
	return nil
}

type messageStub struct {
	mu       sync.Mutex
	nextID   int64
	getCalls int
	msgs     map[int64]*models.Message
}

func newMessageStub() *messageStub {
	return &messageStub{msgs: make(map[int64]*models.Message)}
}

func (s *messageStub) Create(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	clone := *m
	s.msgs[m.ID] = &clone
	return nil
}

func (s *messageStub) GetByID(_ context.Context, channelID uuid.UUID, messageID int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	m, ok := s.msgs[messageID]
	if !ok || m.ChannelID != channelID {
		return nil, nil
	}
	clone := *m
	return &clone, nil
}

func (s *messageStub) getByIDCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func (s *messageStub) topLevelLive(channelID uuid.UUID) []*models.Message {
	out := make([]*models.Message, 0)
	for _, m := range s.msgs {
		if m.ChannelID == channelID && m.ParentID == nil && !m.IsDeleted {
			clone := *m
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *messageStub) ListPage(_ context.Context, channelID uuid.UUID, page, size int) ([]*models.Message, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.topLevelLive(channelID)
	total := int64(len(all))
	start := page * size
	if start >= len(all) {
		return []*models.Message{}, total, nil
	}
	end := min(start+size, len(all))
	return all[start:end], total, nil
}

func (s *messageStub) ListBefore(_ context.Context, channelID uuid.UUID, before int64, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.topLevelLive(channelID)
	out := make([]*models.Message, 0, limit)
	for _, m := range all {
		if before != 0 && m.ID >= before {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *messageStub) ListReplies(_ context.Context, parentID int64) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Message, 0)
	for _, m := range s.msgs {
		if m.ParentID != nil && *m.ParentID == parentID && !m.IsDeleted {
			clone := *m
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *messageStub) Search(_ context.Context, channelID uuid.UUID, query string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(query)
	out := make([]*models.Message, 0)
	for _, m := range s.msgs {
		if m.ChannelID == channelID && !m.IsDeleted && strings.Contains(strings.ToLower(m.Content), needle) {
			clone := *m
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *messageStub) CountAfter(_ context.Context, channelID uuid.UUID, afterID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.ChannelID == channelID && !m.IsDeleted && m.ID > afterID {
			n++
		}
	}
	return n, nil
}

func (s *messageStub) Update(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[m.ID]; !ok {
		return models.NotFoundf("message %d", m.ID)
	}
	clone := *m
	s.msgs[m.ID] = &clone
	return nil
}

// ---- delivery collaborators ----

type hubStub struct {
	mu    sync.Mutex
	sends []hubSend
}

type hubSend struct {
	userIDs []uuid.UUID
	event   ws.Event
}

func (h *hubStub) SendToUser(userID uuid.UUID, event ws.Event) error {
	return h.SendToUsers([]uuid.UUID{userID}, event)
}

func (h *hubStub) SendToUsers(userIDs []uuid.UUID, event ws.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sends = append(h.sends, hubSend{userIDs: userIDs, event: event})
	return nil
}

func (h *hubStub) all() []hubSend {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hubSend(nil), h.sends...)
}

func (h *hubStub) recipientsOf(eventType ws.EventType) []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sends {
		if s.event.Type == eventType {
			return s.userIDs
		}
	}
	return nil
}

type presenceStub struct {
	mu     sync.Mutex
	online map[uuid.UUID]bool
}

func newPresenceStub(onlineUsers ...uuid.UUID) *presenceStub {
	p := &presenceStub{online: make(map[uuid.UUID]bool)}
	for _, u := range onlineUsers {
		p.online[u] = true
	}
	return p
}

func (p *presenceStub) setOnline(userID uuid.UUID, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = online
}

func (p *presenceStub) IsOnline(_ context.Context, userID uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID], nil
}

func (p *presenceStub) OnlineUsers(_ context.Context, candidates []uuid.UUID) ([]uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uuid.UUID, 0, len(candidates))
	for _, u := range candidates {
		if p.online[u] {
			out = append(out, u)
		}
	}
	return out, nil
}

type accountStub struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*Profile
	calls    int
}

func newAccountStub() *accountStub {
	return &accountStub{profiles: make(map[uuid.UUID]*Profile)}
}

func (a *accountStub) put(userID uuid.UUID, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profiles[userID] = &Profile{UserID: userID, DisplayName: name}
}

func (a *accountStub) Profile(_ context.Context, _, userID uuid.UUID) (*Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	p, ok := a.profiles[userID]
	if !ok {
		return nil, models.NotFoundf("profile %s", userID)
	}
	clone := *p
	return &clone, nil
}

type publisherStub struct {
	mu     sync.Mutex
	events []ws.Event
}

func (p *publisherStub) PublishEvent(_ context.Context, event ws.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *publisherStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// ---- fixture ----

type fixture struct {
	channels   *ChannelService
	members    *MemberService
	messages   *MessageService
	delivery   *DeliveryService
	channelsDB *channelStub
	membersDB  *membershipStub
	messagesDB *messageStub
	hub        *hubStub
	presence   *presenceStub
	publisher  *publisherStub
	accounts   *accountStub
	coord      *cache.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	coord := cache.NewCoordinator(cache.NewMemory(), logger, []int{20, 25, 50}, 50)

	f := &fixture{
		channelsDB: newChannelStub(),
		membersDB:  newMembershipStub(),
		messagesDB: newMessageStub(),
		hub:        &hubStub{},
		presence:   newPresenceStub(),
		publisher:  &publisherStub{},
		accounts:   newAccountStub(),
		coord:      coord,
	}

	userInfo := NewUserInfoService(f.accounts, cache.NewMemory(), logger)
	f.channels = NewChannelService(f.channelsDB, f.membersDB, coord, logger)
	f.members = NewMemberService(f.membersDB, f.channelsDB, coord, logger)
	f.delivery = NewDeliveryService(f.members, f.presence, f.hub, userInfo, f.publisher, coord, logger)
	f.messages = NewMessageService(f.messagesDB, f.channels, f.members, coord, f.delivery, logger)
	return f
}

// group creates a GROUP channel owned by owner and adds the given users
// as members.
func (f *fixture) group(t *testing.T, tenantID, owner uuid.UUID, userIDs ...uuid.UUID) *models.Channel {
	t.Helper()
	ch, err := f.channels.CreateGroupChannel(context.Background(), tenantID, owner, "general", "", false)
	if err != nil {
		t.Fatalf("create group channel: %v", err)
	}
	for _, userID := range userIDs {
		if _, err := f.members.AddMember(context.Background(), tenantID, ch.ID, userID, userID, models.RoleMember); err != nil {
			t.Fatalf("add member %s: %v", userID, err)
		}
	}
	return ch
}
