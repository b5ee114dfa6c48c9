package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/cache"
	"github.com/convohq/convo/internal/middleware"
	"github.com/convohq/convo/internal/presence"
	"github.com/convohq/convo/internal/service"
	"github.com/convohq/convo/internal/ws"
)

// WSHandler upgrades authenticated requests into hub sessions.
type WSHandler struct {
	hub        *ws.Hub
	presence   *presence.Service
	delivery   *service.DeliveryService
	cache      *cache.Coordinator
	instanceID string
	logger     *zap.Logger

	upgrader websocket.Upgrader
}

func NewWSHandler(
	hub *ws.Hub,
	pres *presence.Service,
	delivery *service.DeliveryService,
	coord *cache.Coordinator,
	instanceID string,
	logger *zap.Logger,
) *WSHandler {
	return &WSHandler{
		hub:        hub,
		presence:   pres,
		delivery:   delivery,
		cache:      coord,
		instanceID: instanceID,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token auth happens in middleware, cross-origin browsers
			// are allowed through.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connect handles GET /v1/ws. The auth middleware accepts the token
// from a query parameter here since browsers cannot set headers on
// WebSocket dials.
func (h *WSHandler) Connect(c *gin.Context) {
	userID := middleware.GetUserID(c)
	tenantID := middleware.GetTenantID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, userID, tenantID, h.callbacks(), h.logger)

	ctx := c.Request.Context()
	wentOnline, err := h.presence.RegisterSession(ctx, userID, client.SessionID(), h.instanceID)
	if err != nil {
		h.logger.Warn("session registration failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	h.hub.Register(client)

	if wentOnline {
		h.delivery.NotifyPresenceChanged(ctx, userID, true)
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *WSHandler) callbacks() ws.SessionCallbacks {
	return &sessionCallbacks{handler: h}
}

// sessionCallbacks wires socket lifecycle frames back into presence,
// subscriptions, and typing fan-out.
type sessionCallbacks struct {
	handler *WSHandler
}

func (s *sessionCallbacks) OnDisconnect(ctx context.Context, userID uuid.UUID, sessionID string) {
	wentOffline, err := s.handler.presence.UnregisterSession(ctx, userID, sessionID)
	if err != nil {
		s.handler.logger.Warn("session unregistration failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
	if wentOffline {
		s.handler.delivery.NotifyPresenceChanged(ctx, userID, false)
	}
}

func (s *sessionCallbacks) OnSubscribe(ctx context.Context, sessionID string, channelID uuid.UUID) {
	s.handler.cache.AddSubscription(ctx, sessionID, channelID)
}

func (s *sessionCallbacks) OnUnsubscribe(ctx context.Context, sessionID string, channelID uuid.UUID) {
	s.handler.cache.RemoveSubscription(ctx, sessionID, channelID)
}

func (s *sessionCallbacks) OnTypingStart(ctx context.Context, tenantID, channelID, userID uuid.UUID) {
	s.handler.delivery.NotifyTypingStart(ctx, tenantID, channelID, userID)
}

func (s *sessionCallbacks) OnTypingStop(ctx context.Context, channelID, userID uuid.UUID) {
	s.handler.delivery.NotifyTypingStop(ctx, channelID, userID)
}

func (s *sessionCallbacks) OnHeartbeat(ctx context.Context, userID uuid.UUID) {
	if err := s.handler.presence.Heartbeat(ctx, userID); err != nil {
		s.handler.logger.Warn("heartbeat failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}
