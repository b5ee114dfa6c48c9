package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/middleware"
	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/service"
)

// MembershipHandler serves the membership registry endpoints.
type MembershipHandler struct {
	members  *service.MemberService
	messages *service.MessageService
	delivery *service.DeliveryService
	accounts *service.UserInfoService
	logger   *zap.Logger
}

func NewMembershipHandler(
	members *service.MemberService,
	messages *service.MessageService,
	delivery *service.DeliveryService,
	accounts *service.UserInfoService,
	logger *zap.Logger,
) *MembershipHandler {
	return &MembershipHandler{
		members:  members,
		messages: messages,
		delivery: delivery,
		accounts: accounts,
		logger:   logger,
	}
}

type addMemberRequest struct {
	UserID uuid.UUID         `json:"user_id" binding:"required"`
	Role   models.MemberRole `json:"role" binding:"omitempty,memberrole"`
}

// Add handles POST /v1/channels/:id/members. Adding yourself to a public
// channel is a join; adding someone else requires management rights.
func (h *MembershipHandler) Add(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}

	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(c)
	actorID := middleware.GetUserID(c)

	member, err := h.members.AddMember(ctx, tenantID, channelID, actorID, req.UserID, req.Role)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.announce(c, tenantID, channelID, req.UserID, "joined")
	h.delivery.NotifyMemberJoined(ctx, channelID, member)
	c.JSON(http.StatusCreated, member)
}

type addMembersRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" binding:"required,min=1"`
}

// AddBatch handles POST /v1/channels/:id/members/batch
func (h *MembershipHandler) AddBatch(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req addMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	added := h.members.AddMembers(ctx, middleware.GetTenantID(c), channelID, middleware.GetUserID(c), req.UserIDs)
	for _, member := range added {
		h.delivery.NotifyMemberJoined(ctx, channelID, member)
	}
	c.JSON(http.StatusOK, added)
}

// List handles GET /v1/channels/:id/members
func (h *MembershipHandler) List(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	members, err := h.members.GetActiveMembers(c.Request.Context(), channelID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

// Leave handles POST /v1/channels/:id/leave
func (h *MembershipHandler) Leave(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(c)
	userID := middleware.GetUserID(c)

	if err := h.members.LeaveChannel(ctx, tenantID, channelID, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.announce(c, tenantID, channelID, userID, "left")
	h.delivery.NotifyMemberLeft(ctx, channelID, userID)
	c.Status(http.StatusNoContent)
}

// Remove handles DELETE /v1/channels/:id/members/:userId
func (h *MembershipHandler) Remove(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathUUID(c, "userId")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(c)

	if err := h.members.RemoveMember(ctx, tenantID, channelID, middleware.GetUserID(c), userID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.delivery.NotifyMemberLeft(ctx, channelID, userID)
	c.Status(http.StatusNoContent)
}

// Promote handles POST /v1/channels/:id/members/:userId/promote
func (h *MembershipHandler) Promote(c *gin.Context) {
	h.roleChange(c, h.members.PromoteToAdmin)
}

// Demote handles POST /v1/channels/:id/members/:userId/demote
func (h *MembershipHandler) Demote(c *gin.Context) {
	h.roleChange(c, h.members.DemoteToMember)
}

func (h *MembershipHandler) roleChange(c *gin.Context, op func(ctx context.Context, channelID, actorID, userID uuid.UUID) (*models.ChannelMember, error)) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathUUID(c, "userId")
	if !ok {
		return
	}

	member, err := op(c.Request.Context(), channelID, middleware.GetUserID(c), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

type transferOwnershipRequest struct {
	NewOwnerID uuid.UUID `json:"new_owner_id" binding:"required"`
}

// TransferOwnership handles POST /v1/channels/:id/transfer
func (h *MembershipHandler) TransferOwnership(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req transferOwnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.members.TransferOwnership(c.Request.Context(), channelID, middleware.GetUserID(c), req.NewOwnerID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type markReadRequest struct {
	MessageID int64 `json:"message_id" binding:"required"`
}

// MarkRead handles POST /v1/channels/:id/read
func (h *MembershipHandler) MarkRead(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.members.MarkAsRead(c.Request.Context(), channelID, middleware.GetUserID(c), req.MessageID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Unread handles GET /v1/channels/:id/unread
func (h *MembershipHandler) Unread(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	count, err := h.members.UnreadCount(c.Request.Context(), channelID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": channelID, "unread": count})
}

// Mute handles POST /v1/channels/:id/mute
func (h *MembershipHandler) Mute(c *gin.Context) {
	h.selfChange(c, h.members.ToggleMute)
}

// Pin handles POST /v1/channels/:id/pin
func (h *MembershipHandler) Pin(c *gin.Context) {
	h.selfChange(c, h.members.TogglePin)
}

func (h *MembershipHandler) selfChange(c *gin.Context, op func(ctx context.Context, channelID, userID uuid.UUID) (*models.ChannelMember, error)) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	member, err := op(c.Request.Context(), channelID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

type notificationLevelRequest struct {
	Level models.NotificationLevel `json:"level" binding:"required,notifylevel"`
}

// SetNotificationLevel handles PUT /v1/channels/:id/notifications
func (h *MembershipHandler) SetNotificationLevel(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req notificationLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.members.UpdateNotificationLevel(c.Request.Context(), channelID, middleware.GetUserID(c), req.Level)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// Typing handles GET /v1/channels/:id/typing
func (h *MembershipHandler) Typing(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	users := h.delivery.TypingUsers(c.Request.Context(), channelID)
	c.JSON(http.StatusOK, gin.H{"channel_id": channelID, "users": users})
}

// MyChannels handles GET /v1/me/channels
func (h *MembershipHandler) MyChannels(c *gin.Context) {
	channelIDs, err := h.members.GetUserChannels(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel_ids": channelIDs})
}

// announce posts the system message for a join or leave. A failed name
// lookup degrades to the bare user id.
func (h *MembershipHandler) announce(c *gin.Context, tenantID, channelID, userID uuid.UUID, verb string) {
	ctx := c.Request.Context()

	name := userID.String()
	if profile, err := h.accounts.Profile(ctx, tenantID, userID); err == nil && profile.DisplayName != "" {
		name = profile.DisplayName
	}

	if _, err := h.messages.SendSystemMessage(ctx, tenantID, channelID, fmt.Sprintf("%s %s the channel", name, verb)); err != nil {
		h.logger.Warn("system message not posted",
			zap.String("channel_id", channelID.String()),
			zap.Error(err))
	}
}
