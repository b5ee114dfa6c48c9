package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/models"
)

// Keyspace. Everything the chat core caches lives under "discuss:".
const (
	channelPrefix      = "discuss:channel:"
	messagePrefix      = "discuss:msg:"
	recentPrefix       = "discuss:recent:"
	membersPrefix      = "discuss:members:"
	userChannelsPrefix = "discuss:user_channels:"
	unreadPrefix       = "discuss:unread:"
	typingPrefix       = "discuss:typing:"
	sessionPrefix      = "discuss:session:"
	userSessionsPrefix = "discuss:user_sessions:"
	subsPrefix         = "discuss:subs:"
	pagePrefix         = "discuss:channel_messages:"
)

const (
	channelTTL = time.Hour
	messageTTL = 5 * time.Minute
	recentTTL  = 10 * time.Minute
	pageTTL    = time.Minute
	typingTTL  = 5 * time.Second
	sessionTTL = 24 * time.Hour

	scanBatch = 100
)

// CachedPage is a cached page of a channel's message list together with
// the total count the store reported when the page was built.
type CachedPage struct {
	TotalCount int64             `json:"total_count"`
	Messages   []*models.Message `json:"messages"`
}

// SessionInfo is the cached record for one WebSocket session.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	UserID      uuid.UUID `json:"user_id"`
	InstanceID  string    `json:"instance_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Coordinator is the keyspace-aware accelerator over the KV port:
// entity caches, membership set indices, per-user unread hashes, paged
// message-list caches and the session registry.
//
// The coordinator is never a correctness dependency. Every read method
// returns the zero value on backend failure, and every write failure is
// logged and dropped; the store of record can always rebuild this state.
type Coordinator struct {
	kv            KV
	logger        *zap.Logger
	smartPageSize map[int]struct{}
	recentWindow  int64
}

// NewCoordinator builds a coordinator. smartPageSizes is the explicit
// set of page sizes eligible for partial ("smart") page updates; any
// other size always takes the full-invalidation path. recentWindow is
// the length of the per-channel recent-message list.
func NewCoordinator(kv KV, logger *zap.Logger, smartPageSizes []int, recentWindow int) *Coordinator {
	sizes := make(map[int]struct{}, len(smartPageSizes))
	for _, s := range smartPageSizes {
		sizes[s] = struct{}{}
	}
	if recentWindow <= 0 {
		recentWindow = 50
	}
	return &Coordinator{
		kv:            kv,
		logger:        logger.Named("cache"),
		smartPageSize: sizes,
		recentWindow:  int64(recentWindow),
	}
}

// SmartPageSizes returns the configured sizes, for diagnostics.
func (c *Coordinator) SmartPageSizes() []int {
	out := make([]int, 0, len(c.smartPageSize))
	for s := range c.smartPageSize {
		out = append(out, s)
	}
	return out
}

// ---- entity cache: channels ----

func (c *Coordinator) CacheChannel(ctx context.Context, channel *models.Channel) {
	if channel == nil || channel.ID == uuid.Nil {
		return
	}
	c.setJSON(ctx, channelPrefix+channel.ID.String(), channel, channelTTL)
}

func (c *Coordinator) GetCachedChannel(ctx context.Context, channelID uuid.UUID) (*models.Channel, bool) {
	var channel models.Channel
	if !c.getJSON(ctx, channelPrefix+channelID.String(), &channel) {
		return nil, false
	}
	return &channel, true
}

func (c *Coordinator) InvalidateChannel(ctx context.Context, channelID uuid.UUID) {
	c.delete(ctx, channelPrefix+channelID.String())
}

// ---- entity cache: messages ----

func (c *Coordinator) CacheMessage(ctx context.Context, msg *models.Message) {
	if msg == nil || msg.ID == 0 {
		return
	}
	c.setJSON(ctx, messageKey(msg.ID), msg, messageTTL)
}

func (c *Coordinator) GetCachedMessage(ctx context.Context, messageID int64) (*models.Message, bool) {
	var msg models.Message
	if !c.getJSON(ctx, messageKey(messageID), &msg) {
		return nil, false
	}
	return &msg, true
}

func (c *Coordinator) InvalidateMessage(ctx context.Context, messageID int64) {
	c.delete(ctx, messageKey(messageID))
}

// ---- recent-message window ----

// AppendRecentMessage pushes a message onto the head of the channel's
// recent list and trims it to the configured window.
func (c *Coordinator) AppendRecentMessage(ctx context.Context, channelID uuid.UUID, msg *models.Message) {
	if msg == nil {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("marshal recent message", zap.Int64("message_id", msg.ID), zap.Error(err))
		return
	}
	key := recentPrefix + channelID.String()
	if err := c.kv.LPush(ctx, key, string(raw)); err != nil {
		c.warn("lpush recent", key, err)
		return
	}
	if err := c.kv.LTrim(ctx, key, 0, c.recentWindow-1); err != nil {
		c.warn("ltrim recent", key, err)
	}
	if err := c.kv.Expire(ctx, key, recentTTL); err != nil {
		c.warn("expire recent", key, err)
	}
}

// RecentMessages returns the cached recent window, newest first. Entries
// that fail to decode are skipped.
func (c *Coordinator) RecentMessages(ctx context.Context, channelID uuid.UUID) []*models.Message {
	key := recentPrefix + channelID.String()
	raws, err := c.kv.LRange(ctx, key, 0, c.recentWindow-1)
	if err != nil {
		c.warn("lrange recent", key, err)
		return nil
	}
	out := make([]*models.Message, 0, len(raws))
	for _, raw := range raws {
		var msg models.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			c.logger.Warn("decode recent message", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, &msg)
	}
	return out
}

// ---- set indices: channel members, user channels ----

// CacheChannelMembers replaces the channel's member-id set.
func (c *Coordinator) CacheChannelMembers(ctx context.Context, channelID uuid.UUID, memberIDs []uuid.UUID) {
	key := membersPrefix + channelID.String()
	if err := c.kv.Delete(ctx, key); err != nil {
		c.warn("reset members", key, err)
		return
	}
	if len(memberIDs) > 0 {
		if err := c.kv.SAdd(ctx, key, uuidStrings(memberIDs)...); err != nil {
			c.warn("sadd members", key, err)
			return
		}
	}
	if err := c.kv.Expire(ctx, key, channelTTL); err != nil {
		c.warn("expire members", key, err)
	}
}

func (c *Coordinator) CachedChannelMembers(ctx context.Context, channelID uuid.UUID) []uuid.UUID {
	key := membersPrefix + channelID.String()
	members, err := c.kv.SMembers(ctx, key)
	if err != nil {
		c.warn("smembers", key, err)
		return nil
	}
	return parseUUIDs(members)
}

func (c *Coordinator) AddMemberToChannel(ctx context.Context, channelID, userID uuid.UUID) {
	key := membersPrefix + channelID.String()
	if err := c.kv.SAdd(ctx, key, userID.String()); err != nil {
		c.warn("sadd member", key, err)
	}
}

func (c *Coordinator) RemoveMemberFromChannel(ctx context.Context, channelID, userID uuid.UUID) {
	key := membersPrefix + channelID.String()
	if err := c.kv.SRem(ctx, key, userID.String()); err != nil {
		c.warn("srem member", key, err)
	}
}

func (c *Coordinator) IsMemberCached(ctx context.Context, channelID, userID uuid.UUID) bool {
	key := membersPrefix + channelID.String()
	ok, err := c.kv.SIsMember(ctx, key, userID.String())
	if err != nil {
		c.warn("sismember", key, err)
		return false
	}
	return ok
}

func (c *Coordinator) AddChannelToUser(ctx context.Context, userID, channelID uuid.UUID) {
	key := userChannelsPrefix + userID.String()
	if err := c.kv.SAdd(ctx, key, channelID.String()); err != nil {
		c.warn("sadd user channel", key, err)
	}
}

func (c *Coordinator) RemoveChannelFromUser(ctx context.Context, userID, channelID uuid.UUID) {
	key := userChannelsPrefix + userID.String()
	if err := c.kv.SRem(ctx, key, channelID.String()); err != nil {
		c.warn("srem user channel", key, err)
	}
}

func (c *Coordinator) CachedUserChannels(ctx context.Context, userID uuid.UUID) []uuid.UUID {
	key := userChannelsPrefix + userID.String()
	channels, err := c.kv.SMembers(ctx, key)
	if err != nil {
		c.warn("smembers user channels", key, err)
		return nil
	}
	return parseUUIDs(channels)
}

// ---- unread counters ----

// unread counters live in one hash per user, field = channel id, so a
// badge query for all channels is a single HGETALL.

func (c *Coordinator) SetUnreadCount(ctx context.Context, userID, channelID uuid.UUID, count int) {
	key := unreadPrefix + userID.String()
	if err := c.kv.HSet(ctx, key, channelID.String(), strconv.Itoa(count)); err != nil {
		c.warn("hset unread", key, err)
	}
}

func (c *Coordinator) ResetUnreadCount(ctx context.Context, userID, channelID uuid.UUID) {
	c.SetUnreadCount(ctx, userID, channelID, 0)
}

func (c *Coordinator) IncrementUnread(ctx context.Context, userID, channelID uuid.UUID) {
	key := unreadPrefix + userID.String()
	if _, err := c.kv.HIncrBy(ctx, key, channelID.String(), 1); err != nil {
		c.warn("hincrby unread", key, err)
	}
}

// IncrementUnreadBatch bumps the counter for every given user in a
// single pipelined round trip. This is the message-send hot path: cost
// must stay O(members) in cache work, not store round trips.
func (c *Coordinator) IncrementUnreadBatch(ctx context.Context, userIDs []uuid.UUID, channelID uuid.UUID) {
	if len(userIDs) == 0 {
		return
	}
	field := channelID.String()
	incrs := make([]HashIncrement, 0, len(userIDs))
	for _, userID := range userIDs {
		incrs = append(incrs, HashIncrement{
			Key:   unreadPrefix + userID.String(),
			Field: field,
			Delta: 1,
		})
	}
	if err := c.kv.HIncrByBatch(ctx, incrs); err != nil {
		c.logger.Warn("batch unread increment",
			zap.String("channel_id", channelID.String()),
			zap.Int("users", len(userIDs)),
			zap.Error(err))
	}
}

// CachedUnreadCount returns (count, true) on a hit.
func (c *Coordinator) CachedUnreadCount(ctx context.Context, userID, channelID uuid.UUID) (int, bool) {
	key := unreadPrefix + userID.String()
	val, ok, err := c.kv.HGet(ctx, key, channelID.String())
	if err != nil {
		c.warn("hget unread", key, err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return count, true
}

// TotalUnreadCount sums the user's counters across channels.
func (c *Coordinator) TotalUnreadCount(ctx context.Context, userID uuid.UUID) int64 {
	key := unreadPrefix + userID.String()
	entries, err := c.kv.HGetAll(ctx, key)
	if err != nil {
		c.warn("hgetall unread", key, err)
		return 0
	}
	var total int64
	for _, val := range entries {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

// ---- typing indicators ----

// typing markers are one short-TTL key per (channel, user); expiry is
// the implicit typing-stop.

func (c *Coordinator) SetUserTyping(ctx context.Context, channelID, userID uuid.UUID) {
	key := typingKey(channelID, userID)
	if err := c.kv.Set(ctx, key, strconv.FormatInt(time.Now().UnixMilli(), 10), typingTTL); err != nil {
		c.warn("set typing", key, err)
	}
}

func (c *Coordinator) ClearUserTyping(ctx context.Context, channelID, userID uuid.UUID) {
	c.delete(ctx, typingKey(channelID, userID))
}

func (c *Coordinator) TypingUsers(ctx context.Context, channelID uuid.UUID) []uuid.UUID {
	pattern := typingPrefix + channelID.String() + ":*"
	keys, err := c.kv.ScanKeys(ctx, pattern, scanBatch)
	if err != nil {
		c.warn("scan typing", pattern, err)
		return nil
	}
	out := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		id, err := uuid.Parse(key[strings.LastIndexByte(key, ':')+1:])
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// ---- paged message-list cache ----

// CacheMessagePage stores one page of a channel's message list. Only
// page 0 is cached; deeper pages churn too fast to be worth it.
func (c *Coordinator) CacheMessagePage(ctx context.Context, channelID uuid.UUID, page, size int, messages []*models.Message, totalCount int64) {
	if page != 0 || messages == nil {
		return
	}
	c.setJSON(ctx, pageKey(channelID, page, size), CachedPage{TotalCount: totalCount, Messages: messages}, pageTTL)
}

func (c *Coordinator) CachedMessagePage(ctx context.Context, channelID uuid.UUID, page, size int) (*CachedPage, bool) {
	if page != 0 {
		return nil, false
	}
	var cached CachedPage
	if !c.getJSON(ctx, pageKey(channelID, page, size), &cached) {
		return nil, false
	}
	return &cached, true
}

// InvalidateMessagePages drops every cached page for the channel. This
// is the safe default for any ambiguous mutation.
func (c *Coordinator) InvalidateMessagePages(ctx context.Context, channelID uuid.UUID) {
	pattern := pagePrefix + channelID.String() + ":*"
	if err := c.kv.ScanDelete(ctx, pattern, scanBatch); err != nil {
		c.warn("scan-delete pages", pattern, err)
	}
}

// PrependToFirstPage is the smart update for a new top-level message:
// insert at the head of the cached page 0 (order is store-assigned, head
// insertion preserves it without a resort) and bump the total.
// Returns false when the page size is not configured for smart updates
// or no cached page exists; any failure falls back to invalidation so
// the cache cannot silently diverge.
func (c *Coordinator) PrependToFirstPage(ctx context.Context, channelID uuid.UUID, msg *models.Message, pageSize int) bool {
	if msg == nil || pageSize <= 0 {
		return false
	}
	if _, ok := c.smartPageSize[pageSize]; !ok {
		return false
	}

	key := pageKey(channelID, 0, pageSize)
	var cached CachedPage
	hit, err := c.tryGetJSON(ctx, key, &cached)
	if err != nil {
		c.warn("read page for prepend", key, err)
		c.InvalidateMessagePages(ctx, channelID)
		return false
	}
	if !hit {
		return false
	}

	updated := make([]*models.Message, 0, pageSize)
	updated = append(updated, msg)
	limit := min(len(cached.Messages), pageSize-1)
	updated = append(updated, cached.Messages[:limit]...)

	if err := c.trySetJSON(ctx, key, CachedPage{TotalCount: cached.TotalCount + 1, Messages: updated}, pageTTL); err != nil {
		c.warn("write prepended page", key, err)
		c.InvalidateMessagePages(ctx, channelID)
		return false
	}
	return true
}

// RemoveFromFirstPage is the smart update for a delete: filter the
// message out of any cached page 0 across the configured sizes. When the
// message is not on a cached first page, the pages are invalidated
// instead: the cached state is then unknown and guessing is not allowed.
func (c *Coordinator) RemoveFromFirstPage(ctx context.Context, channelID uuid.UUID, messageID int64) bool {
	for size := range c.smartPageSize {
		key := pageKey(channelID, 0, size)
		var cached CachedPage
		hit, err := c.tryGetJSON(ctx, key, &cached)
		if err != nil {
			c.warn("read page for removal", key, err)
			c.InvalidateMessagePages(ctx, channelID)
			return false
		}
		if !hit || len(cached.Messages) == 0 {
			continue
		}

		filtered := make([]*models.Message, 0, len(cached.Messages))
		for _, m := range cached.Messages {
			if m.ID != messageID {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) == len(cached.Messages) {
			continue
		}

		updated := CachedPage{TotalCount: max(0, cached.TotalCount-1), Messages: filtered}
		if err := c.trySetJSON(ctx, key, updated, pageTTL); err != nil {
			c.warn("write filtered page", key, err)
			c.InvalidateMessagePages(ctx, channelID)
			return false
		}
		return true
	}

	c.InvalidateMessagePages(ctx, channelID)
	return false
}

// InvalidateRecent drops only the recent window.
func (c *Coordinator) InvalidateRecent(ctx context.Context, channelID uuid.UUID) {
	c.delete(ctx, recentPrefix+channelID.String())
}

// InvalidateChannelMessages drops the recent window and every cached
// page for the channel.
func (c *Coordinator) InvalidateChannelMessages(ctx context.Context, channelID uuid.UUID) {
	c.InvalidateRecent(ctx, channelID)
	c.InvalidateMessagePages(ctx, channelID)
}

// ---- session / subscription registry ----

func (c *Coordinator) StoreSession(ctx context.Context, sessionID string, userID uuid.UUID, instanceID string) {
	if sessionID == "" || userID == uuid.Nil {
		return
	}
	info := SessionInfo{
		SessionID:   sessionID,
		UserID:      userID,
		InstanceID:  instanceID,
		ConnectedAt: time.Now(),
	}
	c.setJSON(ctx, sessionPrefix+sessionID, info, sessionTTL)

	key := userSessionsPrefix + userID.String()
	if err := c.kv.SAdd(ctx, key, sessionID); err != nil {
		c.warn("sadd session", key, err)
		return
	}
	if err := c.kv.Expire(ctx, key, sessionTTL); err != nil {
		c.warn("expire sessions", key, err)
	}
}

func (c *Coordinator) Session(ctx context.Context, sessionID string) (*SessionInfo, bool) {
	var info SessionInfo
	if !c.getJSON(ctx, sessionPrefix+sessionID, &info) {
		return nil, false
	}
	return &info, true
}

func (c *Coordinator) RemoveSession(ctx context.Context, sessionID string, userID uuid.UUID) {
	c.delete(ctx, sessionPrefix+sessionID)
	if userID != uuid.Nil {
		key := userSessionsPrefix + userID.String()
		if err := c.kv.SRem(ctx, key, sessionID); err != nil {
			c.warn("srem session", key, err)
		}
	}
}

func (c *Coordinator) UserSessions(ctx context.Context, userID uuid.UUID) []string {
	key := userSessionsPrefix + userID.String()
	sessions, err := c.kv.SMembers(ctx, key)
	if err != nil {
		c.warn("smembers sessions", key, err)
		return nil
	}
	return sessions
}

func (c *Coordinator) ActiveSessionCount(ctx context.Context, userID uuid.UUID) int {
	key := userSessionsPrefix + userID.String()
	n, err := c.kv.SCard(ctx, key)
	if err != nil {
		c.warn("scard sessions", key, err)
		return 0
	}
	return int(n)
}

// Subscriptions track which channels a session asked to follow.

func (c *Coordinator) AddSubscription(ctx context.Context, sessionID string, channelID uuid.UUID) {
	key := subsPrefix + sessionID
	if err := c.kv.SAdd(ctx, key, channelID.String()); err != nil {
		c.warn("sadd subscription", key, err)
		return
	}
	if err := c.kv.Expire(ctx, key, sessionTTL); err != nil {
		c.warn("expire subscriptions", key, err)
	}
}

func (c *Coordinator) RemoveSubscription(ctx context.Context, sessionID string, channelID uuid.UUID) {
	key := subsPrefix + sessionID
	if err := c.kv.SRem(ctx, key, channelID.String()); err != nil {
		c.warn("srem subscription", key, err)
	}
}

func (c *Coordinator) Subscriptions(ctx context.Context, sessionID string) []uuid.UUID {
	key := subsPrefix + sessionID
	channels, err := c.kv.SMembers(ctx, key)
	if err != nil {
		c.warn("smembers subscriptions", key, err)
		return nil
	}
	return parseUUIDs(channels)
}

func (c *Coordinator) ClearSubscriptions(ctx context.Context, sessionID string) {
	c.delete(ctx, subsPrefix+sessionID)
}

// ---- helpers ----

func (c *Coordinator) setJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := c.trySetJSON(ctx, key, value, ttl); err != nil {
		c.warn("set", key, err)
	}
}

func (c *Coordinator) trySetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.kv.Set(ctx, key, string(raw), ttl)
}

func (c *Coordinator) getJSON(ctx context.Context, key string, out any) bool {
	hit, err := c.tryGetJSON(ctx, key, out)
	if err != nil {
		c.warn("get", key, err)
		return false
	}
	return hit
}

func (c *Coordinator) tryGetJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Coordinator) delete(ctx context.Context, key string) {
	if err := c.kv.Delete(ctx, key); err != nil {
		c.warn("delete", key, err)
	}
}

func (c *Coordinator) warn(op, key string, err error) {
	c.logger.Warn("cache degraded to miss",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
}

func messageKey(messageID int64) string {
	return messagePrefix + strconv.FormatInt(messageID, 10)
}

func typingKey(channelID, userID uuid.UUID) string {
	return typingPrefix + channelID.String() + ":" + userID.String()
}

func pageKey(channelID uuid.UUID, page, size int) string {
	return pagePrefix + channelID.String() + ":p" + strconv.Itoa(page) + ":s" + strconv.Itoa(size)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
