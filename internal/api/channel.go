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

// ChannelHandler serves the channel directory endpoints.
type ChannelHandler struct {
	channels *service.ChannelService
	delivery *service.DeliveryService
	logger   *zap.Logger
}

func NewChannelHandler(channels *service.ChannelService, delivery *service.DeliveryService, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, delivery: delivery, logger: logger}
}

type createChannelRequest struct {
	Type        models.ChannelType `json:"type" binding:"required,channeltype"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	IsPrivate   bool               `json:"is_private"`

	// DIRECT: the other participant.
	PeerID uuid.UUID `json:"peer_id"`

	// TOPIC: the bound domain object.
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
}

// Create handles POST /v1/channels. DIRECT and TOPIC creation is
// idempotent: the existing channel comes back with 200 instead of 201.
func (h *ChannelHandler) Create(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(c)
	userID := middleware.GetUserID(c)

	switch req.Type {
	case models.ChannelDirect:
		ch, err := h.channels.GetOrCreateDirectChannel(ctx, tenantID, userID, req.PeerID)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, ch)

	case models.ChannelGroup:
		ch, err := h.channels.CreateGroupChannel(ctx, tenantID, userID, req.Name, req.Description, req.IsPrivate)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusCreated, ch)

	case models.ChannelTopic:
		ch, err := h.channels.GetOrCreateTopicChannel(ctx, tenantID, userID, req.Name, req.EntityType, req.EntityID)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, ch)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel type"})
	}
}

// List handles GET /v1/channels with an optional ?type= filter.
func (h *ChannelHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(c)

	if t := c.Query("type"); t != "" {
		channels, err := h.channels.ListChannelsByType(ctx, tenantID, models.ChannelType(t))
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, channels)
		return
	}

	channels, err := h.channels.ListChannels(ctx, tenantID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

// GetByID handles GET /v1/channels/:id
func (h *ChannelHandler) GetByID(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ch, err := h.channels.GetChannelByID(c.Request.Context(), middleware.GetTenantID(c), channelID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// GetByEntity handles GET /v1/channels/entity/:entityType/:entityId
func (h *ChannelHandler) GetByEntity(c *gin.Context) {
	entityID, err := strconv.ParseInt(c.Param("entityId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
		return
	}

	ch, err := h.channels.GetChannelByEntity(c.Request.Context(), middleware.GetTenantID(c), c.Param("entityType"), entityID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

type updateChannelRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Update handles PUT /v1/channels/:id
func (h *ChannelHandler) Update(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req updateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ch, err := h.channels.UpdateChannel(ctx, middleware.GetTenantID(c), channelID, req.Name, req.Description)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.delivery.NotifyChannelUpdated(ctx, ch)
	c.JSON(http.StatusOK, ch)
}

// Archive handles POST /v1/channels/:id/archive
func (h *ChannelHandler) Archive(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ch, err := h.channels.ArchiveChannel(c.Request.Context(), middleware.GetTenantID(c), channelID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Unarchive handles POST /v1/channels/:id/unarchive
func (h *ChannelHandler) Unarchive(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ch, err := h.channels.UnarchiveChannel(c.Request.Context(), middleware.GetTenantID(c), channelID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Delete handles DELETE /v1/channels/:id
func (h *ChannelHandler) Delete(c *gin.Context) {
	channelID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.channels.DeleteChannel(c.Request.Context(), middleware.GetTenantID(c), channelID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
