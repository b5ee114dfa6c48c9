package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/ws"
)

func TestSendMessageWritePath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)

	msg, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "morning all", nil)
	require.NoError(t, err)
	require.NotZero(t, msg.ID)

	// channel stats moved
	fresh, err := f.channels.GetChannelByID(ctx, tenantID, ch.ID)
	require.NoError(t, err)
	require.Equal(t, 1, fresh.MessageCount)
	require.NotNil(t, fresh.LastMessageAt)

	// unread moved for the recipient, not the sender
	count, err := f.members.UnreadCount(ctx, ch.ID, alice)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	count, err = f.members.UnreadCount(ctx, ch.ID, owner)
	require.NoError(t, err)
	require.Zero(t, count)

	// recent window and broadcast topic saw the message
	recent := f.coord.RecentMessages(ctx, ch.ID)
	require.Len(t, recent, 1)
	require.Equal(t, msg.ID, recent[0].ID)
	require.Equal(t, 1, f.publisher.count())
}

func TestSendMessageGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	ch := f.group(t, tenantID, owner)

	_, err := f.messages.SendMessage(ctx, tenantID, ch.ID, uuid.New(), "hi", nil)
	require.ErrorIs(t, err, models.ErrInvalidState)

	guest := uuid.New()
	_, err = f.members.AddMember(ctx, tenantID, ch.ID, owner, guest, models.RoleGuest)
	require.NoError(t, err)
	_, err = f.messages.SendMessage(ctx, tenantID, ch.ID, guest, "hi", nil)
	require.ErrorIs(t, err, models.ErrInvalidState)

	_, err = f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "   ", nil)
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = f.channels.ArchiveChannel(ctx, tenantID, ch.ID)
	require.NoError(t, err)
	_, err = f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "hi", nil)
	require.ErrorIs(t, err, models.ErrInvalidState)
}

func TestSendMessageUpdatesWarmFirstPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	ch := f.group(t, tenantID, owner)

	seed, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "first", nil)
	require.NoError(t, err)

	// warm page zero through the read path
	page, total, err := f.messages.GetMessages(ctx, ch.ID, 0, DefaultPageSize)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, page, 1)

	second, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "second", nil)
	require.NoError(t, err)

	// the cached page absorbed the send without a store round trip
	cached, ok := f.coord.CachedMessagePage(ctx, ch.ID, 0, DefaultPageSize)
	require.True(t, ok)
	require.Equal(t, int64(2), cached.TotalCount)
	require.Equal(t, second.ID, cached.Messages[0].ID)
	require.Equal(t, seed.ID, cached.Messages[1].ID)

	page, total, err = f.messages.GetMessages(ctx, ch.ID, 0, DefaultPageSize)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, second.ID, page[0].ID)
}

func TestReplyLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)

	parent, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "root", nil)
	require.NoError(t, err)

	reply, err := f.messages.SendReply(ctx, tenantID, ch.ID, alice, parent.ID, "first reply", nil)
	require.NoError(t, err)
	require.Equal(t, parent.ID, *reply.ParentID)

	gotParent, replies, err := f.messages.GetThread(ctx, ch.ID, parent.ID)
	require.NoError(t, err)
	require.Equal(t, 1, gotParent.ThreadCount)
	require.Len(t, replies, 1)
	require.Equal(t, reply.ID, replies[0].ID)

	// threads stay one level deep
	_, err = f.messages.SendReply(ctx, tenantID, ch.ID, owner, reply.ID, "nested", nil)
	require.ErrorIs(t, err, models.ErrInvalidState)

	// replies never appear in the top-level listing
	page, total, err := f.messages.GetMessages(ctx, ch.ID, 0, DefaultPageSize)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, page, 1)
	require.Equal(t, parent.ID, page[0].ID)

	// deleting the reply walks the thread count back
	require.NoError(t, f.messages.DeleteMessage(ctx, ch.ID, reply.ID, alice))
	gotParent, replies, err = f.messages.GetThread(ctx, ch.ID, parent.ID)
	require.NoError(t, err)
	require.Zero(t, gotParent.ThreadCount)
	require.Empty(t, replies)

	// and a deleted parent accepts no more replies
	require.NoError(t, f.messages.DeleteMessage(ctx, ch.ID, parent.ID, owner))
	_, err = f.messages.SendReply(ctx, tenantID, ch.ID, alice, parent.ID, "too late", nil)
	require.ErrorIs(t, err, models.ErrInvalidState)
}

func TestSendReplyReadsParentFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	ch := f.group(t, tenantID, owner)

	parent, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "root", nil)
	require.NoError(t, err)

	// the send cached the parent, so the reply resolves it without a
	// store lookup
	before := f.messagesDB.getByIDCalls()
	_, err = f.messages.SendReply(ctx, tenantID, ch.ID, owner, parent.ID, "reply", nil)
	require.NoError(t, err)
	require.Equal(t, before, f.messagesDB.getByIDCalls())
}

func TestEditMessageSenderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)
	f.presence.setOnline(owner, true)
	f.presence.setOnline(alice, true)

	msg, err := f.messages.SendMessage(ctx, tenantID, ch.ID, alice, "draft", nil)
	require.NoError(t, err)

	_, err = f.messages.EditMessage(ctx, ch.ID, msg.ID, owner, "hijack")
	require.ErrorIs(t, err, models.ErrInvalidState)

	edited, err := f.messages.EditMessage(ctx, ch.ID, msg.ID, alice, "final")
	require.NoError(t, err)
	require.Equal(t, "final", edited.Content)
	require.True(t, edited.IsEdited)

	got, err := f.messages.GetMessageByID(ctx, ch.ID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, "final", got.Content)

	require.NotNil(t, f.hub.recipientsOf(ws.EventMessageUpdated))
}

func TestDeleteMessagePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	ch := f.group(t, tenantID, owner, alice, bob)

	msg, err := f.messages.SendMessage(ctx, tenantID, ch.ID, alice, "hot take", nil)
	require.NoError(t, err)

	// another plain member may not delete it
	require.ErrorIs(t, f.messages.DeleteMessage(ctx, ch.ID, msg.ID, bob), models.ErrInvalidState)

	// the owner moderates it away
	require.NoError(t, f.messages.DeleteMessage(ctx, ch.ID, msg.ID, owner))

	got, err := f.messages.GetMessageByID(ctx, ch.ID, msg.ID)
	require.NoError(t, err)
	require.True(t, got.IsDeleted)
	require.Equal(t, owner, *got.DeletedBy)

	require.ErrorIs(t, f.messages.DeleteMessage(ctx, ch.ID, msg.ID, alice), models.ErrInvalidState)
}

func TestDeleteMessageDropsFromWarmFirstPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	ch := f.group(t, tenantID, owner)

	first, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "one", nil)
	require.NoError(t, err)
	second, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "two", nil)
	require.NoError(t, err)

	_, _, err = f.messages.GetMessages(ctx, ch.ID, 0, DefaultPageSize)
	require.NoError(t, err)

	require.NoError(t, f.messages.DeleteMessage(ctx, ch.ID, first.ID, owner))

	cached, ok := f.coord.CachedMessagePage(ctx, ch.ID, 0, DefaultPageSize)
	require.True(t, ok)
	require.Equal(t, int64(1), cached.TotalCount)
	require.Len(t, cached.Messages, 1)
	require.Equal(t, second.ID, cached.Messages[0].ID)
}

func TestReactionsRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)
	f.presence.setOnline(owner, true)
	f.presence.setOnline(alice, true)

	msg, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "ship it", nil)
	require.NoError(t, err)

	reacted, err := f.messages.AddReaction(ctx, ch.ID, msg.ID, alice, "🚀")
	require.NoError(t, err)
	require.Equal(t, 1, reacted.ReactionCount())

	// idempotent per (emoji, user)
	reacted, err = f.messages.AddReaction(ctx, ch.ID, msg.ID, alice, "🚀")
	require.NoError(t, err)
	require.Equal(t, 1, reacted.ReactionCount())

	require.NotNil(t, f.hub.recipientsOf(ws.EventReactionAdded))

	cleared, err := f.messages.RemoveReaction(ctx, ch.ID, msg.ID, alice, "🚀")
	require.NoError(t, err)
	require.Zero(t, cleared.ReactionCount())
	require.NotNil(t, f.hub.recipientsOf(ws.EventReactionRemoved))
}

func TestSystemMessageSkipsGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)

	msg, err := f.messages.SendSystemMessage(ctx, tenantID, ch.ID, "Alice joined the channel")
	require.NoError(t, err)
	require.True(t, msg.IsSystem())
	require.Equal(t, uuid.Nil, msg.SenderID)

	// no unread badge for announcements
	count, err := f.members.UnreadCount(ctx, ch.ID, alice)
	require.NoError(t, err)
	require.Zero(t, count)

	page, _, err := f.messages.GetMessages(ctx, ch.ID, 0, DefaultPageSize)
	require.NoError(t, err)
	require.Len(t, page, 1)
}

func TestMessagePagingAndCursors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	ch := f.group(t, tenantID, owner)

	var ids []int64
	for _, content := range []string{"one", "two", "three", "four", "five"} {
		msg, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, content, nil)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, total, err := f.messages.GetMessages(ctx, ch.ID, 0, 2)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Equal(t, []int64{ids[4], ids[3]}, []int64{page[0].ID, page[1].ID})

	page, _, err = f.messages.GetMessages(ctx, ch.ID, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{ids[2], ids[1]}, []int64{page[0].ID, page[1].ID})

	_, _, err = f.messages.GetMessages(ctx, ch.ID, -1, 2)
	require.ErrorIs(t, err, models.ErrValidation)
	_, _, err = f.messages.GetMessages(ctx, ch.ID, 0, 0)
	require.ErrorIs(t, err, models.ErrValidation)

	older, err := f.messages.GetMessagesBefore(ctx, ch.ID, ids[2], 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	require.Equal(t, ids[1], older[0].ID)
	require.Equal(t, ids[0], older[1].ID)

	// cursor zero means from the top
	newest, err := f.messages.GetMessagesBefore(ctx, ch.ID, 0, 3)
	require.NoError(t, err)
	require.Len(t, newest, 3)
	require.Equal(t, ids[4], newest[0].ID)
}

func TestSearchMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	ch := f.group(t, tenantID, owner)

	_, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "deploy at noon", nil)
	require.NoError(t, err)
	hit, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "rollback the deploy", nil)
	require.NoError(t, err)
	require.NoError(t, f.messages.DeleteMessage(ctx, ch.ID, hit.ID, owner))

	found, err := f.messages.SearchMessages(ctx, ch.ID, "deploy", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)

	_, err = f.messages.SearchMessages(ctx, ch.ID, "", 10)
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestMarkMessageReadIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	alice := uuid.New()
	ch := f.group(t, tenantID, owner, alice)

	msg, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "read me", nil)
	require.NoError(t, err)

	require.NoError(t, f.messages.MarkMessageRead(ctx, ch.ID, msg.ID, alice))
	require.NoError(t, f.messages.MarkMessageRead(ctx, ch.ID, msg.ID, alice))

	got, err := f.messages.GetMessageByID(ctx, ch.ID, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.ReadBy, 1)
	require.True(t, got.IsReadBy(alice))
}

func TestGetMessageByIDScopedToChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	ch := f.group(t, tenantID, owner)
	other := f.group(t, tenantID, owner)

	msg, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "in here", nil)
	require.NoError(t, err)

	_, err = f.messages.GetMessageByID(ctx, other.ID, msg.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestCountUnreadFromCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()
	ch := f.group(t, tenantID, owner)

	var lastRead int64
	for i := 0; i < 4; i++ {
		msg, err := f.messages.SendMessage(ctx, tenantID, ch.ID, owner, "ping", nil)
		require.NoError(t, err)
		if i == 1 {
			lastRead = msg.ID
		}
	}

	n, err := f.messages.CountUnread(ctx, ch.ID, lastRead)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
