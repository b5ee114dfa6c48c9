package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/cache"
	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/repository"
)

// MemberService is the membership registry: join/leave lifecycle, role
// transitions, read positions and the member-set cache indices.
type MemberService struct {
	members  repository.MembershipRepository
	channels repository.ChannelRepository
	cache    *cache.Coordinator
	logger   *zap.Logger
}

func NewMemberService(members repository.MembershipRepository, channels repository.ChannelRepository, coord *cache.Coordinator, logger *zap.Logger) *MemberService {
	return &MemberService{
		members:  members,
		channels: channels,
		cache:    coord,
		logger:   logger.Named("members"),
	}
}

// AddMember adds userID to the channel with the given role, on behalf of
// actorID. Idempotent for users already in: an ACTIVE or MUTED member is
// returned unchanged, a LEFT member rejoins, a REMOVED member is
// reinstated only by someone with member management rights.
func (s *MemberService) AddMember(ctx context.Context, tenantID, channelID, actorID, userID uuid.UUID, role models.MemberRole) (*models.ChannelMember, error) {
	if !role.Valid() {
		return nil, models.Validationf("unknown member role %q", string(role))
	}
	if role == models.RoleOwner {
		return nil, models.Validationf("ownership is assigned at creation or by transfer")
	}

	ch, err := s.requireChannel(ctx, tenantID, channelID)
	if err != nil {
		return nil, err
	}
	if ch.IsArchived {
		return nil, models.InvalidStatef("cannot join archived channel %s", channelID)
	}
	if ch.IsDirect() {
		return nil, models.InvalidStatef("cannot add members to DIRECT channel %s", channelID)
	}

	selfJoin := actorID == userID
	if !selfJoin || ch.IsPrivate {
		if err := s.requireManager(ctx, channelID, actorID); err != nil {
			return nil, err
		}
	}

	existing, err := s.members.FindByChannelAndUser(ctx, channelID, userID)
	if err != nil {
		return nil, fmt.Errorf("find membership: %w", err)
	}
	if existing != nil {
		return s.reinstate(ctx, ch, existing, selfJoin)
	}

	var member *models.ChannelMember
	switch role {
	case models.RoleAdmin:
		member = models.NewAdmin(channelID, userID, tenantID)
	case models.RoleGuest:
		member = models.NewGuest(channelID, userID, tenantID)
	default:
		member = models.NewMember(channelID, userID, tenantID)
	}

	if err := s.members.Create(ctx, member); err != nil {
		return nil, fmt.Errorf("create membership: %w", err)
	}
	s.bumpMemberCount(ctx, ch, 1)
	s.cache.AddMemberToChannel(ctx, channelID, userID)
	s.cache.AddChannelToUser(ctx, userID, channelID)

	s.logger.Info("member added",
		zap.String("channel_id", channelID.String()),
		zap.String("user_id", userID.String()),
		zap.String("role", string(role)))
	return member, nil
}

// AddMembers adds a batch of users as MEMBER. Individual failures are
// logged and skipped; the successfully added members are returned.
func (s *MemberService) AddMembers(ctx context.Context, tenantID, channelID, actorID uuid.UUID, userIDs []uuid.UUID) []*models.ChannelMember {
	added := make([]*models.ChannelMember, 0, len(userIDs))
	for _, userID := range userIDs {
		member, err := s.AddMember(ctx, tenantID, channelID, actorID, userID, models.RoleMember)
		if err != nil {
			s.logger.Warn("add member skipped",
				zap.String("channel_id", channelID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		added = append(added, member)
	}
	return added
}

func (s *MemberService) reinstate(ctx context.Context, ch *models.Channel, existing *models.ChannelMember, selfJoin bool) (*models.ChannelMember, error) {
	switch existing.Status {
	case models.StatusActive, models.StatusMuted:
		return existing, nil
	case models.StatusRemoved:
		if selfJoin {
			return nil, models.InvalidStatef("user %s was removed from the channel", existing.UserID)
		}
		existing.Status = models.StatusLeft
		fallthrough
	default:
		if err := existing.Rejoin(); err != nil {
			return nil, err
		}
	}

	if err := s.members.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("rejoin membership: %w", err)
	}
	s.bumpMemberCount(ctx, ch, 1)
	s.cache.AddMemberToChannel(ctx, ch.ID, existing.UserID)
	s.cache.AddChannelToUser(ctx, existing.UserID, ch.ID)
	return existing, nil
}

// GetMember returns the membership row regardless of status.
func (s *MemberService) GetMember(ctx context.Context, channelID, userID uuid.UUID) (*models.ChannelMember, error) {
	member, err := s.members.FindByChannelAndUser(ctx, channelID, userID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return nil, models.NotFoundf("membership for user %s in channel %s", userID, channelID)
	}
	return member, nil
}

// GetActiveMembers returns the channel's ACTIVE members from the store.
func (s *MemberService) GetActiveMembers(ctx context.Context, channelID uuid.UUID) ([]*models.ChannelMember, error) {
	members, err := s.members.FindByChannelAndStatus(ctx, channelID, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	return members, nil
}

// GetMemberIDs returns the ACTIVE member ids, cache-first. On a miss the
// store result repopulates the set index.
func (s *MemberService) GetMemberIDs(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	if ids := s.cache.CachedChannelMembers(ctx, channelID); len(ids) > 0 {
		return ids, nil
	}

	members, err := s.GetActiveMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	s.cache.CacheChannelMembers(ctx, channelID, ids)
	return ids, nil
}

// GetUserChannels returns the ids of channels the user is active in.
func (s *MemberService) GetUserChannels(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if ids := s.cache.CachedUserChannels(ctx, userID); len(ids) > 0 {
		return ids, nil
	}

	memberships, err := s.members.FindByUserAndStatus(ctx, userID, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list user channels: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.ChannelID)
		s.cache.AddChannelToUser(ctx, userID, m.ChannelID)
	}
	return ids, nil
}

// IsMember probes the cached member set before touching the store.
func (s *MemberService) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	if s.cache.IsMemberCached(ctx, channelID, userID) {
		return true, nil
	}
	ok, err := s.members.IsMember(ctx, channelID, userID)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

// CountActiveMembers returns the live member count from the store.
func (s *MemberService) CountActiveMembers(ctx context.Context, channelID uuid.UUID) (int, error) {
	n, err := s.members.CountActive(ctx, channelID)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// PromoteToAdmin moves a member to ADMIN on behalf of actorID.
func (s *MemberService) PromoteToAdmin(ctx context.Context, channelID, actorID, userID uuid.UUID) (*models.ChannelMember, error) {
	if err := s.requireManager(ctx, channelID, actorID); err != nil {
		return nil, err
	}
	member, err := s.GetMember(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if err := member.PromoteToAdmin(); err != nil {
		return nil, err
	}
	if err := s.members.Update(ctx, member); err != nil {
		return nil, fmt.Errorf("promote member: %w", err)
	}
	return member, nil
}

// DemoteToMember moves an ADMIN back to MEMBER on behalf of actorID.
func (s *MemberService) DemoteToMember(ctx context.Context, channelID, actorID, userID uuid.UUID) (*models.ChannelMember, error) {
	if err := s.requireManager(ctx, channelID, actorID); err != nil {
		return nil, err
	}
	member, err := s.GetMember(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if err := member.DemoteToMember(); err != nil {
		return nil, err
	}
	if err := s.members.Update(ctx, member); err != nil {
		return nil, fmt.Errorf("demote member: %w", err)
	}
	return member, nil
}

// TransferOwnership is the paired transition: the current owner steps
// down to ADMIN and the new owner steps up. Both rows persist or the
// call fails; a half-applied transfer would leave the channel ownerless.
func (s *MemberService) TransferOwnership(ctx context.Context, channelID, currentOwnerID, newOwnerID uuid.UUID) error {
	if currentOwnerID == newOwnerID {
		return models.Validationf("cannot transfer ownership to the current owner")
	}

	owner, err := s.GetMember(ctx, channelID, currentOwnerID)
	if err != nil {
		return err
	}
	successor, err := s.GetMember(ctx, channelID, newOwnerID)
	if err != nil {
		return err
	}

	if err := owner.RelinquishOwnership(); err != nil {
		return err
	}
	if err := successor.BecomeOwner(); err != nil {
		return err
	}

	if err := s.members.UpdatePair(ctx, owner, successor); err != nil {
		return fmt.Errorf("persist ownership transfer: %w", err)
	}

	s.logger.Info("ownership transferred",
		zap.String("channel_id", channelID.String()),
		zap.String("from", currentOwnerID.String()),
		zap.String("to", newOwnerID.String()))
	return nil
}

// LeaveChannel marks the caller's membership LEFT.
func (s *MemberService) LeaveChannel(ctx context.Context, tenantID, channelID, userID uuid.UUID) error {
	member, err := s.GetMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if err := member.Leave(); err != nil {
		return err
	}
	if err := s.members.Update(ctx, member); err != nil {
		return fmt.Errorf("leave channel: %w", err)
	}
	s.afterDeparture(ctx, tenantID, channelID, userID)
	return nil
}

// RemoveMember marks userID's membership REMOVED on behalf of actorID.
func (s *MemberService) RemoveMember(ctx context.Context, tenantID, channelID, actorID, userID uuid.UUID) error {
	if err := s.requireManager(ctx, channelID, actorID); err != nil {
		return err
	}
	member, err := s.GetMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if err := member.RemoveBy(actorID); err != nil {
		return err
	}
	if err := s.members.Update(ctx, member); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	s.afterDeparture(ctx, tenantID, channelID, userID)
	return nil
}

func (s *MemberService) afterDeparture(ctx context.Context, tenantID, channelID, userID uuid.UUID) {
	if ch, err := s.channels.GetByID(ctx, tenantID, channelID); err == nil && ch != nil {
		s.bumpMemberCount(ctx, ch, -1)
	}
	s.cache.RemoveMemberFromChannel(ctx, channelID, userID)
	s.cache.RemoveChannelFromUser(ctx, userID, channelID)
	s.cache.ResetUnreadCount(ctx, userID, channelID)
}

// ToggleMute flips the caller's mute flag.
func (s *MemberService) ToggleMute(ctx context.Context, channelID, userID uuid.UUID) (*models.ChannelMember, error) {
	return s.mutate(ctx, channelID, userID, (*models.ChannelMember).ToggleMute)
}

// TogglePin flips the caller's pin flag.
func (s *MemberService) TogglePin(ctx context.Context, channelID, userID uuid.UUID) (*models.ChannelMember, error) {
	return s.mutate(ctx, channelID, userID, (*models.ChannelMember).TogglePin)
}

// UpdateNotificationLevel sets the caller's notification preference.
func (s *MemberService) UpdateNotificationLevel(ctx context.Context, channelID, userID uuid.UUID, level models.NotificationLevel) (*models.ChannelMember, error) {
	return s.mutate(ctx, channelID, userID, func(m *models.ChannelMember) error {
		return m.SetNotificationLevel(level)
	})
}

func (s *MemberService) mutate(ctx context.Context, channelID, userID uuid.UUID, op func(*models.ChannelMember) error) (*models.ChannelMember, error) {
	member, err := s.GetMember(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if err := op(member); err != nil {
		return nil, err
	}
	if err := s.members.Update(ctx, member); err != nil {
		return nil, fmt.Errorf("update membership: %w", err)
	}
	return member, nil
}

// MarkAsRead advances the read pointer, zeroes the stored and cached
// unread counters.
func (s *MemberService) MarkAsRead(ctx context.Context, channelID, userID uuid.UUID, messageID int64) error {
	member, err := s.GetMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if err := member.MarkAsRead(messageID); err != nil {
		return err
	}
	if err := s.members.Update(ctx, member); err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}
	s.cache.ResetUnreadCount(ctx, userID, channelID)
	return nil
}

// IncrementUnreadForChannel bumps the unread counters for every active
// member except the sender: one bulk store statement plus one batched
// cache round trip.
func (s *MemberService) IncrementUnreadForChannel(ctx context.Context, channelID, senderID uuid.UUID, memberIDs []uuid.UUID) error {
	if err := s.members.IncrementUnreadForChannel(ctx, channelID, senderID); err != nil {
		return err
	}
	recipients := make([]uuid.UUID, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}
	s.cache.IncrementUnreadBatch(ctx, recipients, channelID)
	return nil
}

// UnreadCount returns the cached counter, falling back to the stored
// membership row on a miss.
func (s *MemberService) UnreadCount(ctx context.Context, channelID, userID uuid.UUID) (int, error) {
	if count, ok := s.cache.CachedUnreadCount(ctx, userID, channelID); ok {
		return count, nil
	}
	member, err := s.GetMember(ctx, channelID, userID)
	if err != nil {
		return 0, err
	}
	s.cache.SetUnreadCount(ctx, userID, channelID, member.UnreadCount)
	return member.UnreadCount, nil
}

// CanSendMessages reports whether the user may post to the channel.
func (s *MemberService) CanSendMessages(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	member, err := s.members.FindByChannelAndUser(ctx, channelID, userID)
	if err != nil {
		return false, fmt.Errorf("check send permission: %w", err)
	}
	return member != nil && member.CanSendMessages(), nil
}

// CanManageChannel reports whether the user may update channel settings.
func (s *MemberService) CanManageChannel(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	member, err := s.members.FindByChannelAndUser(ctx, channelID, userID)
	if err != nil {
		return false, fmt.Errorf("check manage permission: %w", err)
	}
	return member != nil && member.CanManageChannel(), nil
}

func (s *MemberService) requireManager(ctx context.Context, channelID, actorID uuid.UUID) error {
	actor, err := s.members.FindByChannelAndUser(ctx, channelID, actorID)
	if err != nil {
		return fmt.Errorf("find actor membership: %w", err)
	}
	if actor == nil || !actor.CanManageMembers() {
		return models.InvalidStatef("user %s cannot manage members of channel %s", actorID, channelID)
	}
	return nil
}

func (s *MemberService) requireChannel(ctx context.Context, tenantID, channelID uuid.UUID) (*models.Channel, error) {
	ch, err := s.channels.GetByID(ctx, tenantID, channelID)
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	if ch == nil {
		return nil, models.NotFoundf("channel %s", channelID)
	}
	return ch, nil
}

func (s *MemberService) bumpMemberCount(ctx context.Context, ch *models.Channel, delta int) {
	if delta > 0 {
		if err := ch.IncrementMemberCount(); err != nil {
			s.logger.Warn("member count not incremented",
				zap.String("channel_id", ch.ID.String()),
				zap.Error(err))
			return
		}
	} else {
		ch.DecrementMemberCount()
	}
	if err := s.channels.Update(ctx, ch); err != nil {
		s.logger.Warn("member count not persisted",
			zap.String("channel_id", ch.ID.String()),
			zap.Error(err))
		return
	}
	s.cache.InvalidateChannel(ctx, ch.ID)
}
