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

// DefaultPageSize is the page size used when the caller does not pick
// one. It is part of the smart-update set so the hot path stays on the
// partial-update road.
const DefaultPageSize = 20

// MessageService is the message store facade: send/reply/edit/delete,
// reactions, read receipts and the paged read path, with the cache kept
// coherent at every mutation.
type MessageService struct {
	messages repository.MessageRepository
	channels *ChannelService
	members  *MemberService
	cache    *cache.Coordinator
	delivery *DeliveryService
	logger   *zap.Logger
}

func NewMessageService(
	messages repository.MessageRepository,
	channels *ChannelService,
	members *MemberService,
	coord *cache.Coordinator,
	delivery *DeliveryService,
	logger *zap.Logger,
) *MessageService {
	return &MessageService{
		messages: messages,
		channels: channels,
		members:  members,
		cache:    coord,
		delivery: delivery,
		logger:   logger.Named("messages"),
	}
}

// SendMessage posts a top-level message. Write order: persist, channel
// stats, unread counters, caches, then fan-out. Cache or fan-out
// failures never roll back the persisted message.
func (s *MessageService) SendMessage(ctx context.Context, tenantID, channelID, senderID uuid.UUID, content string, mentions []uuid.UUID) (*models.Message, error) {
	ch, err := s.channels.GetChannelByID(ctx, tenantID, channelID)
	if err != nil {
		return nil, err
	}
	if ch.IsArchived {
		return nil, models.InvalidStatef("cannot post to archived channel %s", channelID)
	}

	canSend, err := s.members.CanSendMessages(ctx, channelID, senderID)
	if err != nil {
		return nil, err
	}
	if !canSend {
		return nil, models.InvalidStatef("user %s cannot post to channel %s", senderID, channelID)
	}

	msg := models.NewMessage(channelID, senderID, tenantID, content, mentions)
	if err := msg.ValidateForCreation(); err != nil {
		return nil, err
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.afterSend(ctx, ch, msg)
	return msg, nil
}

// SendReply posts a threaded reply under parentID. Replies never touch
// the top-level paged cache; only the parent's entity cache changes.
func (s *MessageService) SendReply(ctx context.Context, tenantID, channelID, senderID uuid.UUID, parentID int64, content string, mentions []uuid.UUID) (*models.Message, error) {
	ch, err := s.channels.GetChannelByID(ctx, tenantID, channelID)
	if err != nil {
		return nil, err
	}
	if ch.IsArchived {
		return nil, models.InvalidStatef("cannot post to archived channel %s", channelID)
	}

	canSend, err := s.members.CanSendMessages(ctx, channelID, senderID)
	if err != nil {
		return nil, err
	}
	if !canSend {
		return nil, models.InvalidStatef("user %s cannot post to channel %s", senderID, channelID)
	}

	parent, err := s.GetMessageByID(ctx, channelID, parentID)
	if err != nil {
		return nil, err
	}
	if parent.IsDeleted {
		return nil, models.InvalidStatef("cannot reply to deleted message %d", parentID)
	}
	if parent.IsReply() {
		return nil, models.InvalidStatef("cannot reply to a reply, thread under message %d", *parent.ParentID)
	}

	msg := models.NewReply(channelID, senderID, tenantID, content, parentID, mentions)
	if err := msg.ValidateForCreation(); err != nil {
		return nil, err
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create reply: %w", err)
	}

	parent.IncrementThreadCount()
	if err := s.messages.Update(ctx, parent); err != nil {
		s.logger.Warn("thread count not persisted",
			zap.Int64("parent_id", parentID), zap.Error(err))
	}
	s.cache.InvalidateMessage(ctx, parentID)

	if err := s.channels.RecordMessage(ctx, tenantID, channelID); err != nil {
		s.logger.Warn("channel stats not recorded",
			zap.String("channel_id", channelID.String()), zap.Error(err))
	}
	if err := s.members.IncrementUnreadForChannel(ctx, channelID, senderID, s.memberIDs(ctx, channelID)); err != nil {
		s.logger.Warn("unread counters not incremented",
			zap.String("channel_id", channelID.String()), zap.Error(err))
	}
	s.cache.CacheMessage(ctx, msg)
	s.delivery.NotifyNewMessage(ctx, channelID, msg)
	return msg, nil
}

func (s *MessageService) afterSend(ctx context.Context, ch *models.Channel, msg *models.Message) {
	if err := s.channels.RecordMessage(ctx, ch.TenantID, ch.ID); err != nil {
		s.logger.Warn("channel stats not recorded",
			zap.String("channel_id", ch.ID.String()), zap.Error(err))
	}

	memberIDs := s.memberIDs(ctx, ch.ID)
	if err := s.members.IncrementUnreadForChannel(ctx, ch.ID, msg.SenderID, memberIDs); err != nil {
		s.logger.Warn("unread counters not incremented",
			zap.String("channel_id", ch.ID.String()), zap.Error(err))
	}

	s.cache.CacheMessage(ctx, msg)
	s.cache.AppendRecentMessage(ctx, ch.ID, msg)
	if !s.cache.PrependToFirstPage(ctx, ch.ID, msg, DefaultPageSize) {
		s.cache.InvalidateMessagePages(ctx, ch.ID)
	}

	s.delivery.NotifyNewMessage(ctx, ch.ID, msg)
}

// SendSystemMessage posts a platform-generated announcement. System
// messages skip permission checks and unread counters.
func (s *MessageService) SendSystemMessage(ctx context.Context, tenantID, channelID uuid.UUID, content string) (*models.Message, error) {
	msg, err := models.NewSystemMessage(channelID, tenantID, content)
	if err != nil {
		return nil, err
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create system message: %w", err)
	}

	s.cache.CacheMessage(ctx, msg)
	s.cache.AppendRecentMessage(ctx, channelID, msg)
	if !s.cache.PrependToFirstPage(ctx, channelID, msg, DefaultPageSize) {
		s.cache.InvalidateMessagePages(ctx, channelID)
	}
	s.delivery.NotifyNewMessage(ctx, channelID, msg)
	return msg, nil
}

// EditMessage replaces a message's content. Sender-only.
func (s *MessageService) EditMessage(ctx context.Context, channelID uuid.UUID, messageID int64, editorID uuid.UUID, newContent string) (*models.Message, error) {
	msg, err := s.requireMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if err := msg.Edit(newContent, editorID); err != nil {
		return nil, err
	}
	if err := s.messages.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	s.cache.CacheMessage(ctx, msg)
	s.cache.InvalidateChannelMessages(ctx, channelID)
	s.delivery.NotifyMessageUpdated(ctx, channelID, msg)
	return msg, nil
}

// DeleteMessage soft-deletes. Allowed for the sender, or for a member
// with channel management rights. A deleted reply decrements its
// parent's thread count.
func (s *MessageService) DeleteMessage(ctx context.Context, channelID uuid.UUID, messageID int64, deleterID uuid.UUID) error {
	msg, err := s.requireMessage(ctx, channelID, messageID)
	if err != nil {
		return err
	}

	isAdmin := false
	if msg.SenderID != deleterID {
		isAdmin, err = s.members.CanManageChannel(ctx, channelID, deleterID)
		if err != nil {
			return err
		}
	}
	if err := msg.Delete(deleterID, isAdmin); err != nil {
		return err
	}
	if err := s.messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	if msg.IsReply() {
		if parent, err := s.messages.GetByID(ctx, channelID, *msg.ParentID); err == nil && parent != nil {
			parent.DecrementThreadCount()
			if err := s.messages.Update(ctx, parent); err != nil {
				s.logger.Warn("thread count not persisted",
					zap.Int64("parent_id", parent.ID), zap.Error(err))
			}
			s.cache.InvalidateMessage(ctx, parent.ID)
		}
	} else {
		s.cache.RemoveFromFirstPage(ctx, channelID, messageID)
	}

	s.cache.InvalidateMessage(ctx, messageID)
	s.cache.InvalidateRecent(ctx, channelID)
	s.delivery.NotifyMessageDeleted(ctx, channelID, messageID, deleterID)
	return nil
}

// AddReaction records (emoji, user) on a message. Idempotent.
func (s *MessageService) AddReaction(ctx context.Context, channelID uuid.UUID, messageID int64, userID uuid.UUID, emoji string) (*models.Message, error) {
	msg, err := s.requireMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if err := msg.AddReaction(emoji, userID); err != nil {
		return nil, err
	}
	if err := s.messages.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("add reaction: %w", err)
	}
	s.cache.CacheMessage(ctx, msg)
	s.delivery.NotifyReaction(ctx, channelID, messageID, emoji, userID, true)
	return msg, nil
}

// RemoveReaction drops (emoji, user) from a message. No-op when absent.
func (s *MessageService) RemoveReaction(ctx context.Context, channelID uuid.UUID, messageID int64, userID uuid.UUID, emoji string) (*models.Message, error) {
	msg, err := s.requireMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if err := msg.RemoveReaction(emoji, userID); err != nil {
		return nil, err
	}
	if err := s.messages.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("remove reaction: %w", err)
	}
	s.cache.CacheMessage(ctx, msg)
	s.delivery.NotifyReaction(ctx, channelID, messageID, emoji, userID, false)
	return msg, nil
}

// MarkMessageRead appends the reader to the message's read receipts.
func (s *MessageService) MarkMessageRead(ctx context.Context, channelID uuid.UUID, messageID int64, userID uuid.UUID) error {
	msg, err := s.requireMessage(ctx, channelID, messageID)
	if err != nil {
		return err
	}
	if msg.IsReadBy(userID) {
		return nil
	}
	msg.MarkReadBy(userID)
	if err := s.messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	s.cache.CacheMessage(ctx, msg)
	return nil
}

// GetMessageByID is the cache-aside single-message read.
func (s *MessageService) GetMessageByID(ctx context.Context, channelID uuid.UUID, messageID int64) (*models.Message, error) {
	if cached, ok := s.cache.GetCachedMessage(ctx, messageID); ok && cached.ChannelID == channelID {
		return cached, nil
	}
	return s.requireMessage(ctx, channelID, messageID)
}

// GetMessages returns one page of the channel's top-level messages,
// newest first, with the total count. Page 0 is served through the
// paged cache.
func (s *MessageService) GetMessages(ctx context.Context, channelID uuid.UUID, page, size int) ([]*models.Message, int64, error) {
	if page < 0 || size <= 0 {
		return nil, 0, models.Validationf("page must be >= 0 and size > 0")
	}

	if cached, ok := s.cache.CachedMessagePage(ctx, channelID, page, size); ok {
		return cached.Messages, cached.TotalCount, nil
	}

	messages, total, err := s.messages.ListPage(ctx, channelID, page, size)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	s.cache.CacheMessagePage(ctx, channelID, page, size, messages, total)
	return messages, total, nil
}

// GetMessagesBefore returns up to limit messages older than the cursor.
func (s *MessageService) GetMessagesBefore(ctx context.Context, channelID uuid.UUID, before int64, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return nil, models.Validationf("limit must be > 0")
	}
	messages, err := s.messages.ListBefore(ctx, channelID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages before: %w", err)
	}
	return messages, nil
}

// GetThread returns a parent message together with its live replies,
// oldest reply first.
func (s *MessageService) GetThread(ctx context.Context, channelID uuid.UUID, parentID int64) (*models.Message, []*models.Message, error) {
	parent, err := s.requireMessage(ctx, channelID, parentID)
	if err != nil {
		return nil, nil, err
	}
	replies, err := s.messages.ListReplies(ctx, parentID)
	if err != nil {
		return nil, nil, fmt.Errorf("list replies: %w", err)
	}
	return parent, replies, nil
}

// SearchMessages returns live messages matching the query, newest first.
func (s *MessageService) SearchMessages(ctx context.Context, channelID uuid.UUID, query string, limit int) ([]*models.Message, error) {
	if query == "" {
		return nil, models.Validationf("search query is required")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	messages, err := s.messages.Search(ctx, channelID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return messages, nil
}

// CountUnread counts live messages newer than the given cursor, used to
// rebuild a member's badge from the store.
func (s *MessageService) CountUnread(ctx context.Context, channelID uuid.UUID, afterID int64) (int, error) {
	n, err := s.messages.CountAfter(ctx, channelID, afterID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *MessageService) requireMessage(ctx context.Context, channelID uuid.UUID, messageID int64) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, channelID, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, models.NotFoundf("message %d in channel %s", messageID, channelID)
	}
	return msg, nil
}

func (s *MessageService) memberIDs(ctx context.Context, channelID uuid.UUID) []uuid.UUID {
	ids, err := s.members.GetMemberIDs(ctx, channelID)
	if err != nil {
		s.logger.Warn("member ids unavailable",
			zap.String("channel_id", channelID.String()), zap.Error(err))
		return nil
	}
	return ids
}
