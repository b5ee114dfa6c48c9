package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/models"
)

func TestCreateGroupChannelSeedsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	owner := uuid.New()

	ch, err := f.channels.CreateGroupChannel(ctx, tenantID, owner, "general", "all hands", false)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, ch.ID)

	member, err := f.members.GetMember(ctx, ch.ID, owner)
	require.NoError(t, err)
	require.Equal(t, models.RoleOwner, member.Role)

	cached, ok := f.coord.GetCachedChannel(ctx, ch.ID)
	require.True(t, ok)
	require.Equal(t, ch.Name, cached.Name)
	require.True(t, f.coord.IsMemberCached(ctx, ch.ID, owner))
}

func TestGetOrCreateDirectChannelIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	first, err := f.channels.GetOrCreateDirectChannel(ctx, tenantID, alice, bob)
	require.NoError(t, err)
	require.Equal(t, models.ChannelDirect, first.Type)

	// order of the pair never matters
	second, err := f.channels.GetOrCreateDirectChannel(ctx, tenantID, bob, alice)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	ok, err := f.members.IsMember(ctx, first.ID, alice)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.members.IsMember(ctx, first.ID, bob)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.channels.GetOrCreateDirectChannel(ctx, tenantID, alice, alice)
	require.ErrorIs(t, err, models.ErrValidation)
}

// racingChannelRepo simulates the loser of a concurrent first contact:
// the initial lookup misses, the insert hits the unique index.
type racingChannelRepo struct {
	*channelStub
	missNext bool
}

func (r *racingChannelRepo) FindDirectChannel(ctx context.Context, tenantID, u1, u2 uuid.UUID) (*models.Channel, error) {
	if r.missNext {
		r.missNext = false
		return nil, nil
	}
	return r.channelStub.FindDirectChannel(ctx, tenantID, u1, u2)
}

func TestGetOrCreateDirectChannelLosesCreationRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	winner, err := f.channels.GetOrCreateDirectChannel(ctx, tenantID, alice, bob)
	require.NoError(t, err)

	racing := &racingChannelRepo{channelStub: f.channelsDB, missNext: true}
	loser := NewChannelService(racing, f.membersDB, f.coord, zap.NewNop())

	got, err := loser.GetOrCreateDirectChannel(ctx, tenantID, alice, bob)
	require.NoError(t, err)
	require.Equal(t, winner.ID, got.ID)
}

func TestGetOrCreateTopicChannelIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	creator := uuid.New()

	first, err := f.channels.GetOrCreateTopicChannel(ctx, tenantID, creator, "task-42", "task", 42)
	require.NoError(t, err)

	second, err := f.channels.GetOrCreateTopicChannel(ctx, tenantID, uuid.New(), "renamed", "task", 42)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "task-42", second.Name)

	byEntity, err := f.channels.GetChannelByEntity(ctx, tenantID, "task", 42)
	require.NoError(t, err)
	require.Equal(t, first.ID, byEntity.ID)

	_, err = f.channels.GetChannelByEntity(ctx, tenantID, "task", 43)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetChannelByIDCacheAside(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	ch := f.group(t, tenantID, uuid.New())

	f.coord.InvalidateChannel(ctx, ch.ID)
	_, ok := f.coord.GetCachedChannel(ctx, ch.ID)
	require.False(t, ok)

	got, err := f.channels.GetChannelByID(ctx, tenantID, ch.ID)
	require.NoError(t, err)
	require.Equal(t, ch.ID, got.ID)

	// the read populated the cache; the store can now go away
	require.NoError(t, f.channelsDB.Delete(ctx, tenantID, ch.ID))
	got, err = f.channels.GetChannelByID(ctx, tenantID, ch.ID)
	require.NoError(t, err)
	require.Equal(t, ch.ID, got.ID)
}

func TestGetChannelByIDEnforcesTenantOnCacheHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	ch := f.group(t, tenantID, uuid.New())

	_, ok := f.coord.GetCachedChannel(ctx, ch.ID)
	require.True(t, ok)

	_, err := f.channels.GetChannelByID(ctx, uuid.New(), ch.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestArchiveChannelLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	ch := f.group(t, tenantID, uuid.New())

	archived, err := f.channels.ArchiveChannel(ctx, tenantID, ch.ID)
	require.NoError(t, err)
	require.True(t, archived.IsArchived)

	// archived channels are never served from cache
	_, ok := f.coord.GetCachedChannel(ctx, ch.ID)
	require.False(t, ok)

	listed, err := f.channels.ListChannels(ctx, tenantID)
	require.NoError(t, err)
	require.Empty(t, listed)

	_, err = f.channels.ArchiveChannel(ctx, tenantID, ch.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)

	restored, err := f.channels.UnarchiveChannel(ctx, tenantID, ch.ID)
	require.NoError(t, err)
	require.False(t, restored.IsArchived)

	listed, err = f.channels.ListChannels(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestUpdateChannelRefreshesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	ch := f.group(t, tenantID, uuid.New())

	updated, err := f.channels.UpdateChannel(ctx, tenantID, ch.ID, "renamed", "new purpose")
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)

	cached, ok := f.coord.GetCachedChannel(ctx, ch.ID)
	require.True(t, ok)
	require.Equal(t, "renamed", cached.Name)

	_, err = f.channels.UpdateChannel(ctx, tenantID, ch.ID, "  ", "")
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestListChannelsByTypeRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := uuid.New()
	f.group(t, tenantID, uuid.New())

	groups, err := f.channels.ListChannelsByType(ctx, tenantID, models.ChannelGroup)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	directs, err := f.channels.ListChannelsByType(ctx, tenantID, models.ChannelDirect)
	require.NoError(t, err)
	require.Empty(t, directs)

	_, err = f.channels.ListChannelsByType(ctx, tenantID, models.ChannelType("BROADCAST"))
	require.ErrorIs(t, err, models.ErrValidation)
}
