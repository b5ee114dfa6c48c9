package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/middleware"
	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/ws"
)

// HealthChecker is anything with a pingable backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RouterDeps carries everything route registration needs.
type RouterDeps struct {
	Channels   *ChannelHandler
	Members    *MembershipHandler
	Messages   *MessageHandler
	WS         *WSHandler
	DB         HealthChecker
	Cache      HealthChecker
	Hub        *ws.Hub
	JWTSecret  string
	Production bool
	Logger     *zap.Logger
}

// NewRouter builds the gin engine with all routes registered. The
// health endpoint stays public for load balancer probes; everything
// else under /v1 requires a valid token.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	registerValidations()

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/v1/health", healthHandler(deps))

	v1 := engine.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.JWTSecret))

	v1.GET("/ws", deps.WS.Connect)

	v1.POST("/channels", deps.Channels.Create)
	v1.GET("/channels", deps.Channels.List)
	v1.GET("/channels/entity/:entityType/:entityId", deps.Channels.GetByEntity)
	v1.GET("/channels/:id", deps.Channels.GetByID)
	v1.PUT("/channels/:id", deps.Channels.Update)
	v1.DELETE("/channels/:id", deps.Channels.Delete)
	v1.POST("/channels/:id/archive", deps.Channels.Archive)
	v1.POST("/channels/:id/unarchive", deps.Channels.Unarchive)

	v1.POST("/channels/:id/members", deps.Members.Add)
	v1.POST("/channels/:id/members/batch", deps.Members.AddBatch)
	v1.GET("/channels/:id/members", deps.Members.List)
	v1.DELETE("/channels/:id/members/:userId", deps.Members.Remove)
	v1.POST("/channels/:id/members/:userId/promote", deps.Members.Promote)
	v1.POST("/channels/:id/members/:userId/demote", deps.Members.Demote)
	v1.POST("/channels/:id/leave", deps.Members.Leave)
	v1.POST("/channels/:id/transfer", deps.Members.TransferOwnership)
	v1.POST("/channels/:id/read", deps.Members.MarkRead)
	v1.GET("/channels/:id/unread", deps.Members.Unread)
	v1.POST("/channels/:id/mute", deps.Members.Mute)
	v1.POST("/channels/:id/pin", deps.Members.Pin)
	v1.PUT("/channels/:id/notifications", deps.Members.SetNotificationLevel)
	v1.GET("/channels/:id/typing", deps.Members.Typing)

	v1.GET("/me/channels", deps.Members.MyChannels)

	v1.POST("/channels/:id/messages", deps.Messages.Send)
	v1.GET("/channels/:id/messages", deps.Messages.List)
	v1.GET("/channels/:id/messages/search", deps.Messages.Search)
	v1.GET("/channels/:id/messages/:messageId", deps.Messages.Get)
	v1.PUT("/channels/:id/messages/:messageId", deps.Messages.Edit)
	v1.DELETE("/channels/:id/messages/:messageId", deps.Messages.Delete)
	v1.GET("/channels/:id/messages/:messageId/thread", deps.Messages.Thread)
	v1.POST("/channels/:id/messages/:messageId/read", deps.Messages.MarkRead)
	v1.POST("/channels/:id/messages/:messageId/reactions", deps.Messages.AddReaction)
	v1.DELETE("/channels/:id/messages/:messageId/reactions/:emoji", deps.Messages.RemoveReaction)

	return engine
}

// registerValidations installs the domain enum checks on gin's binding
// validator so request structs can carry them as tags.
func registerValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("channeltype", func(fl validator.FieldLevel) bool {
		return models.ChannelType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("memberrole", func(fl validator.FieldLevel) bool {
		return models.MemberRole(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("notifylevel", func(fl validator.FieldLevel) bool {
		return models.NotificationLevel(fl.Field().String()).Valid()
	})
}

func healthHandler(deps RouterDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		overall := "ok"
		dbState, cacheState := "ok", "ok"

		if err := deps.DB.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			overall = "degraded"
			dbState = "down"
			deps.Logger.Warn("db health check failed", zap.Error(err))
		}
		if err := deps.Cache.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			overall = "degraded"
			cacheState = "down"
			deps.Logger.Warn("cache health check failed", zap.Error(err))
		}

		c.JSON(status, gin.H{
			"status":    overall,
			"database":  dbState,
			"cache":     cacheState,
			"websocket": deps.Hub.Metrics(),
		})
	}
}
