package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/cache"
	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/ws"
)

func TestNotifyNewMessageReachesOnlineMembersExceptSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	ch := f.group(t, tenantID, owner, alice, bob)

	// owner sends, alice is online, bob is offline
	f.presence.setOnline(owner, true)
	f.presence.setOnline(alice, true)

	msg := models.NewMessage(ch.ID, owner, tenantID, "hello", nil)
	msg.ID = 1
	f.delivery.NotifyNewMessage(ctx, ch.ID, msg)

	recipients := f.hub.recipientsOf(ws.EventMessageNew)
	require.Equal(t, []uuid.UUID{alice}, recipients)

	// the broadcast topic always carries the event for the other instances
	require.Equal(t, 1, f.publisher.count())
}

func TestBroadcastWithNobodyOnlineStillPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)

	msg := models.NewMessage(ch.ID, owner, tenantID, "into the void", nil)
	msg.ID = 1
	f.delivery.NotifyNewMessage(ctx, ch.ID, msg)

	require.Empty(t, f.hub.all())
	require.Equal(t, 1, f.publisher.count())
}

func TestNotifyMessageUpdatedIncludesEditor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)

	f.presence.setOnline(owner, true)
	f.presence.setOnline(alice, true)

	msg := models.NewMessage(ch.ID, owner, tenantID, "edited", nil)
	msg.ID = 1
	f.delivery.NotifyMessageUpdated(ctx, ch.ID, msg)

	recipients := f.hub.recipientsOf(ws.EventMessageUpdated)
	require.ElementsMatch(t, []uuid.UUID{owner, alice}, recipients)
}

func TestTypingIndicatorCarriesDisplayName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)

	f.presence.setOnline(owner, true)
	f.presence.setOnline(alice, true)
	f.accounts.put(alice, "Alice")

	f.delivery.NotifyTypingStart(ctx, tenantID, ch.ID, alice)

	require.ElementsMatch(t, []uuid.UUID{alice}, f.coord.TypingUsers(ctx, ch.ID))
	require.Equal(t, []uuid.UUID{owner}, f.hub.recipientsOf(ws.EventTypingStart))

	var payload ws.TypingPayload
	for _, send := range f.hub.all() {
		if send.event.Type == ws.EventTypingStart {
			payload = send.event.Payload.(ws.TypingPayload)
		}
	}
	require.Equal(t, alice, payload.UserID)
	require.Equal(t, "Alice", payload.DisplayName)

	f.delivery.NotifyTypingStop(ctx, ch.ID, alice)
	require.Empty(t, f.coord.TypingUsers(ctx, ch.ID))
	require.Equal(t, []uuid.UUID{owner}, f.hub.recipientsOf(ws.EventTypingStop))
}

func TestTypingIndicatorSurvivesProfileMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)

	f.presence.setOnline(owner, true)

	// no profile registered for alice
	f.delivery.NotifyTypingStart(ctx, tenantID, ch.ID, alice)

	require.Equal(t, []uuid.UUID{owner}, f.hub.recipientsOf(ws.EventTypingStart))
	for _, send := range f.hub.all() {
		if send.event.Type == ws.EventTypingStart {
			require.Empty(t, send.event.Payload.(ws.TypingPayload).DisplayName)
		}
	}
}

func TestNotifyPresenceChangedFansOutPerChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	ch1 := f.group(t, tenantID, bob, alice)
	ch2 := f.group(t, tenantID, carol, alice)

	f.presence.setOnline(bob, true)
	f.presence.setOnline(carol, true)

	f.delivery.NotifyPresenceChanged(ctx, alice, true)

	byChannel := make(map[uuid.UUID][]uuid.UUID)
	for _, send := range f.hub.all() {
		if send.event.Type == ws.EventPresenceChanged {
			byChannel[send.event.ChannelID] = send.userIDs
		}
	}
	require.Equal(t, []uuid.UUID{bob}, byChannel[ch1.ID])
	require.Equal(t, []uuid.UUID{carol}, byChannel[ch2.ID])
}

func TestNotifyMembershipEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)

	f.presence.setOnline(owner, true)
	f.presence.setOnline(alice, true)

	member, err := f.members.GetMember(ctx, ch.ID, alice)
	require.NoError(t, err)
	f.delivery.NotifyMemberJoined(ctx, ch.ID, member)
	require.Equal(t, []uuid.UUID{owner}, f.hub.recipientsOf(ws.EventMemberJoined))

	f.delivery.NotifyMemberLeft(ctx, ch.ID, alice)
	require.Equal(t, []uuid.UUID{owner}, f.hub.recipientsOf(ws.EventMemberLeft))
}

func TestEnrichMessagesAttachesProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	f.accounts.put(alice, "Alice")

	userInfo := NewUserInfoService(f.accounts, cache.NewMemory(), zap.NewNop())
	msgs := []*models.Message{
		models.NewMessage(uuid.New(), alice, tenantID, "one", nil),
		models.NewMessage(uuid.New(), bob, tenantID, "two", nil),
	}
	sys, err := models.NewSystemMessage(uuid.New(), tenantID, "Bob joined")
	require.NoError(t, err)
	msgs = append(msgs, sys)

	enriched := userInfo.EnrichMessages(ctx, tenantID, msgs)
	require.Len(t, enriched, 3)
	require.NotNil(t, enriched[0].Sender)
	require.Equal(t, "Alice", enriched[0].Sender.DisplayName)
	require.Nil(t, enriched[1].Sender)
	require.Nil(t, enriched[2].Sender)
}

func TestProfileLookupIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	alice := uuid.New()
	f.accounts.put(alice, "Alice")

	userInfo := NewUserInfoService(f.accounts, cache.NewMemory(), zap.NewNop())

	first, err := userInfo.Profile(ctx, tenantID, alice)
	require.NoError(t, err)
	require.Equal(t, "Alice", first.DisplayName)

	_, err = userInfo.Profile(ctx, tenantID, alice)
	require.NoError(t, err)
	require.Equal(t, 1, f.accounts.calls)
}
