package models

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewDirectChannelCanonicalOrder(t *testing.T) {
	u1 := uuid.New()
	u2 := uuid.New()

	a := NewDirectChannel(uuid.New(), u1, u2)
	b := NewDirectChannel(uuid.New(), u2, u1)

	require.Equal(t, a.CreatedBy, b.CreatedBy)
	require.Equal(t, *a.PeerID, *b.PeerID)
	require.True(t, bytes.Compare(a.CreatedBy[:], (*a.PeerID)[:]) < 0)
	require.Equal(t, 2, a.MemberCount)
	require.True(t, a.IsPrivate)
}

func TestChannelValidateForCreation(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	ch := NewGroupChannel(tenantID, userID, "general", "", false)
	require.NoError(t, ch.ValidateForCreation())

	ch.Name = "   "
	require.ErrorIs(t, ch.ValidateForCreation(), ErrValidation)

	topic := NewTopicChannel(tenantID, userID, "task-42", "", 0)
	require.ErrorIs(t, topic.ValidateForCreation(), ErrValidation)

	topic.EntityType = "task"
	topic.EntityID = 42
	require.NoError(t, topic.ValidateForCreation())

	direct := NewDirectChannel(tenantID, userID, uuid.New())
	direct.PeerID = nil
	require.ErrorIs(t, direct.ValidateForCreation(), ErrValidation)
}

func TestChannelUpdateInfoRules(t *testing.T) {
	ch := NewGroupChannel(uuid.New(), uuid.New(), "general", "", false)

	require.NoError(t, ch.UpdateInfo("renamed", "desc"))
	require.Equal(t, "renamed", ch.Name)
	require.Equal(t, "desc", ch.Description)

	require.ErrorIs(t, ch.UpdateInfo("  ", ""), ErrValidation)

	require.NoError(t, ch.Archive())
	require.ErrorIs(t, ch.UpdateInfo("again", ""), ErrInvalidState)

	direct := NewDirectChannel(uuid.New(), uuid.New(), uuid.New())
	require.ErrorIs(t, direct.UpdateInfo("nope", ""), ErrInvalidState)
}

func TestChannelArchiveLifecycle(t *testing.T) {
	ch := NewGroupChannel(uuid.New(), uuid.New(), "general", "", false)

	require.ErrorIs(t, ch.Unarchive(), ErrInvalidState)
	require.NoError(t, ch.Archive())
	require.ErrorIs(t, ch.Archive(), ErrInvalidState)
	require.ErrorIs(t, ch.RecordMessage(), ErrInvalidState)
	require.NoError(t, ch.Unarchive())
	require.NoError(t, ch.RecordMessage())
	require.Equal(t, 1, ch.MessageCount)
	require.NotNil(t, ch.LastMessageAt)

	direct := NewDirectChannel(uuid.New(), uuid.New(), uuid.New())
	require.ErrorIs(t, direct.Archive(), ErrInvalidState)
}

func TestDirectChannelMemberCap(t *testing.T) {
	ch := NewDirectChannel(uuid.New(), uuid.New(), uuid.New())
	require.ErrorIs(t, ch.IncrementMemberCount(), ErrInvalidState)

	group := NewGroupChannel(uuid.New(), uuid.New(), "general", "", false)
	require.NoError(t, group.IncrementMemberCount())
	require.Equal(t, 2, group.MemberCount)
	group.DecrementMemberCount()
	group.DecrementMemberCount()
	group.DecrementMemberCount()
	require.Equal(t, 0, group.MemberCount)
}

func TestChannelOtherUser(t *testing.T) {
	u1 := uuid.New()
	u2 := uuid.New()
	ch := NewDirectChannel(uuid.New(), u1, u2)

	other, ok := ch.OtherUser(u1)
	require.True(t, ok)
	require.Equal(t, u2, other)

	other, ok = ch.OtherUser(u2)
	require.True(t, ok)
	require.Equal(t, u1, other)

	_, ok = ch.OtherUser(uuid.New())
	require.False(t, ok)

	group := NewGroupChannel(uuid.New(), u1, "general", "", false)
	_, ok = group.OtherUser(u1)
	require.False(t, ok)
}

func TestChannelLinkedTo(t *testing.T) {
	ch := NewTopicChannel(uuid.New(), uuid.New(), "task-42", "task", 42)
	require.True(t, ch.LinkedTo("task", 42))
	require.False(t, ch.LinkedTo("task", 43))
	require.False(t, ch.LinkedTo("project", 42))
}
