package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/middleware"
	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/service"
)

// MessageHandler serves the message endpoints.
type MessageHandler struct {
	messages *service.MessageService
	accounts *service.UserInfoService
	logger   *zap.Logger
}

func NewMessageHandler(messages *service.MessageService, accounts *service.UserInfoService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, accounts: accounts, logger: logger}
}

type sendMessageRequest struct {
	Content  string      `json:"content" binding:"required"`
	Mentions []uuid.UUID `json:"mentions"`
	ParentID *int64      `json:"parent_id"`
}

// Send handles POST /v1/channels/:id/messages. A parent_id makes the
// message a threaded reply.
func (h *MessageHandler) Send(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(c)
	senderID := middleware.GetUserID(c)

	if req.ParentID != nil {
		msg, err := h.messages.SendReply(ctx, tenantID, channelID, senderID, *req.ParentID, req.Content, req.Mentions)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
		return
	}

	msg, err := h.messages.SendMessage(ctx, tenantID, channelID, senderID, req.Content, req.Mentions)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// List handles GET /v1/channels/:id/messages with either page/size
// pagination or a before cursor. Results carry sender profiles.
func (h *MessageHandler) List(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(c)

	if beforeStr := c.Query("before"); beforeStr != "" {
		before, err := strconv.ParseInt(beforeStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		limit := intQuery(c, "limit", service.DefaultPageSize)
		messages, err := h.messages.GetMessagesBefore(ctx, channelID, before, limit)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"messages": h.accounts.EnrichMessages(ctx, tenantID, messages),
		})
		return
	}

	page := intQuery(c, "page", 0)
	size := intQuery(c, "size", service.DefaultPageSize)
	messages, total, err := h.messages.GetMessages(ctx, channelID, page, size)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":    h.accounts.EnrichMessages(ctx, tenantID, messages),
		"total_count": total,
		"page":        page,
		"size":        size,
	})
}

// Get handles GET /v1/channels/:id/messages/:messageId
func (h *MessageHandler) Get(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathMessageID(c)
	if !ok {
		return
	}

	msg, err := h.messages.GetMessageByID(c.Request.Context(), channelID, messageID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// Edit handles PUT /v1/channels/:id/messages/:messageId
func (h *MessageHandler) Edit(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathMessageID(c)
	if !ok {
		return
	}

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.EditMessage(c.Request.Context(), channelID, messageID, middleware.GetUserID(c), req.Content)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Delete handles DELETE /v1/channels/:id/messages/:messageId
func (h *MessageHandler) Delete(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathMessageID(c)
	if !ok {
		return
	}

	if err := h.messages.DeleteMessage(c.Request.Context(), channelID, messageID, middleware.GetUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// AddReaction handles POST /v1/channels/:id/messages/:messageId/reactions
func (h *MessageHandler) AddReaction(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathMessageID(c)
	if !ok {
		return
	}

	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.AddReaction(c.Request.Context(), channelID, messageID, middleware.GetUserID(c), req.Emoji)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// RemoveReaction handles DELETE /v1/channels/:id/messages/:messageId/reactions/:emoji
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathMessageID(c)
	if !ok {
		return
	}

	msg, err := h.messages.RemoveReaction(c.Request.Context(), channelID, messageID, middleware.GetUserID(c), c.Param("emoji"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Thread handles GET /v1/channels/:id/messages/:messageId/thread
func (h *MessageHandler) Thread(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathMessageID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	parent, replies, err := h.messages.GetThread(ctx, channelID, messageID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	tenantID := middleware.GetTenantID(c)
	enrichedParent := h.accounts.EnrichMessages(ctx, tenantID, []*models.Message{parent})
	c.JSON(http.StatusOK, gin.H{
		"parent":  enrichedParent[0],
		"replies": h.accounts.EnrichMessages(ctx, tenantID, replies),
	})
}

// Search handles GET /v1/channels/:id/messages/search?q=
func (h *MessageHandler) Search(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	query := c.Query("q")
	limit := intQuery(c, "limit", service.DefaultPageSize)

	messages, err := h.messages.SearchMessages(c.Request.Context(), channelID, query, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// MarkRead handles POST /v1/channels/:id/messages/:messageId/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathMessageID(c)
	if !ok {
		return
	}

	if err := h.messages.MarkMessageRead(c.Request.Context(), channelID, messageID, middleware.GetUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathMessageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
