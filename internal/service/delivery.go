package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/cache"
	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/ws"
)

// DeliveryService fans domain events out to connected members: resolve
// the channel's member set, intersect with who is online, push through
// the hub and mirror onto the broadcast topic.
//
// Delivery is strictly best effort. No method returns an error; a failed
// push is logged and the caller's write path is never disturbed.
type DeliveryService struct {
	members   *MemberService
	presence  Presence
	hub       Hub
	accounts  *UserInfoService
	publisher EventPublisher
	cache     *cache.Coordinator
	logger    *zap.Logger
}

func NewDeliveryService(
	members *MemberService,
	presence Presence,
	hub Hub,
	accounts *UserInfoService,
	publisher EventPublisher,
	coord *cache.Coordinator,
	logger *zap.Logger,
) *DeliveryService {
	return &DeliveryService{
		members:   members,
		presence:  presence,
		hub:       hub,
		accounts:  accounts,
		publisher: publisher,
		cache:     coord,
		logger:    logger.Named("delivery"),
	}
}

// NotifyNewMessage pushes a new message to every online member except
// the sender.
func (s *DeliveryService) NotifyNewMessage(ctx context.Context, channelID uuid.UUID, msg *models.Message) {
	event := ws.NewEvent(ws.EventMessageNew, channelID, msg)
	s.broadcastExcept(ctx, channelID, msg.SenderID, event)
}

// NotifyMessageUpdated pushes an edit to every online member, the editor
// included so their other sessions converge.
func (s *DeliveryService) NotifyMessageUpdated(ctx context.Context, channelID uuid.UUID, msg *models.Message) {
	event := ws.NewEvent(ws.EventMessageUpdated, channelID, msg)
	s.broadcast(ctx, channelID, event)
}

// NotifyMessageDeleted pushes a soft delete to every online member.
func (s *DeliveryService) NotifyMessageDeleted(ctx context.Context, channelID uuid.UUID, messageID int64, deletedBy uuid.UUID) {
	event := ws.NewEvent(ws.EventMessageDeleted, channelID, ws.DeletionPayload{
		MessageID: messageID,
		DeletedBy: deletedBy,
	})
	s.broadcast(ctx, channelID, event)
}

// NotifyReaction pushes a reaction change to every online member.
func (s *DeliveryService) NotifyReaction(ctx context.Context, channelID uuid.UUID, messageID int64, emoji string, userID uuid.UUID, added bool) {
	eventType := ws.EventReactionAdded
	if !added {
		eventType = ws.EventReactionRemoved
	}
	event := ws.NewEvent(eventType, channelID, ws.ReactionPayload{
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    userID,
	})
	s.broadcast(ctx, channelID, event)
}

// NotifyTypingStart marks the user typing and pushes the indicator to
// the other online members. A failed display-name lookup degrades to an
// empty name, never to a dropped indicator.
func (s *DeliveryService) NotifyTypingStart(ctx context.Context, tenantID, channelID, userID uuid.UUID) {
	s.cache.SetUserTyping(ctx, channelID, userID)

	displayName := ""
	if profile, err := s.accounts.Profile(ctx, tenantID, userID); err != nil {
		s.logger.Warn("typing indicator without display name",
			zap.String("user_id", userID.String()), zap.Error(err))
	} else {
		displayName = profile.DisplayName
	}

	event := ws.NewEvent(ws.EventTypingStart, channelID, ws.TypingPayload{
		UserID:      userID,
		DisplayName: displayName,
	})
	s.broadcastExcept(ctx, channelID, userID, event)
}

// NotifyTypingStop clears the typing marker and pushes the stop.
func (s *DeliveryService) NotifyTypingStop(ctx context.Context, channelID, userID uuid.UUID) {
	s.cache.ClearUserTyping(ctx, channelID, userID)
	event := ws.NewEvent(ws.EventTypingStop, channelID, ws.TypingPayload{UserID: userID})
	s.broadcastExcept(ctx, channelID, userID, event)
}

// NotifyMemberJoined announces a join to the online members.
func (s *DeliveryService) NotifyMemberJoined(ctx context.Context, channelID uuid.UUID, member *models.ChannelMember) {
	event := ws.NewEvent(ws.EventMemberJoined, channelID, ws.MembershipPayload{
		UserID: member.UserID,
		Role:   string(member.Role),
	})
	s.broadcastExcept(ctx, channelID, member.UserID, event)
}

// NotifyMemberLeft announces a departure to the remaining online members.
func (s *DeliveryService) NotifyMemberLeft(ctx context.Context, channelID, userID uuid.UUID) {
	event := ws.NewEvent(ws.EventMemberLeft, channelID, ws.MembershipPayload{UserID: userID})
	s.broadcastExcept(ctx, channelID, userID, event)
}

// NotifyChannelUpdated announces a rename or archive change.
func (s *DeliveryService) NotifyChannelUpdated(ctx context.Context, ch *models.Channel) {
	event := ws.NewEvent(ws.EventChannelUpdated, ch.ID, ch)
	s.broadcast(ctx, ch.ID, event)
}

// NotifyPresenceChanged announces a user going online or offline to the
// online members of every channel the user belongs to.
func (s *DeliveryService) NotifyPresenceChanged(ctx context.Context, userID uuid.UUID, online bool) {
	channelIDs, err := s.members.GetUserChannels(ctx, userID)
	if err != nil {
		s.logger.Warn("presence fan-out skipped",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	for _, channelID := range channelIDs {
		event := ws.NewEvent(ws.EventPresenceChanged, channelID, ws.PresencePayload{
			UserID: userID,
			Online: online,
		})
		s.broadcastExcept(ctx, channelID, userID, event)
	}
}

// TypingUsers returns who is currently typing in the channel.
func (s *DeliveryService) TypingUsers(ctx context.Context, channelID uuid.UUID) []uuid.UUID {
	return s.cache.TypingUsers(ctx, channelID)
}

func (s *DeliveryService) broadcast(ctx context.Context, channelID uuid.UUID, event ws.Event) {
	s.broadcastExcept(ctx, channelID, uuid.Nil, event)
}

func (s *DeliveryService) broadcastExcept(ctx context.Context, channelID, except uuid.UUID, event ws.Event) {
	memberIDs, err := s.members.GetMemberIDs(ctx, channelID)
	if err != nil {
		s.logger.Warn("fan-out skipped, member set unavailable",
			zap.String("channel_id", channelID.String()),
			zap.String("event", string(event.Type)),
			zap.Error(err))
		return
	}
	if except != uuid.Nil {
		memberIDs = lo.Without(memberIDs, except)
	}
	if len(memberIDs) == 0 {
		s.publish(ctx, event)
		return
	}

	online, err := s.presence.OnlineUsers(ctx, memberIDs)
	if err != nil {
		s.logger.Warn("fan-out skipped, presence unavailable",
			zap.String("channel_id", channelID.String()),
			zap.String("event", string(event.Type)),
			zap.Error(err))
		s.publish(ctx, event)
		return
	}

	if len(online) > 0 {
		if err := s.hub.SendToUsers(online, event); err != nil {
			s.logger.Warn("hub push failed",
				zap.String("channel_id", channelID.String()),
				zap.String("event", string(event.Type)),
				zap.Int("recipients", len(online)),
				zap.Error(err))
		}
	}
	s.publish(ctx, event)
}

func (s *DeliveryService) publish(ctx context.Context, event ws.Event) {
	if s.publisher != nil {
		s.publisher.PublishEvent(ctx, event)
	}
}
