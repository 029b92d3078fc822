package router

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbeoliero/estatechat/internal/config"
	"github.com/mbeoliero/estatechat/internal/gateway"
	"github.com/mbeoliero/estatechat/internal/handler"
	"github.com/mbeoliero/estatechat/internal/middleware"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	Message      *handler.MessageHandler
	Conversation *handler.ConversationHandler
}

// SetupRouter sets up all routes
func SetupRouter(h *server.Hertz, cfg *config.Config, handlers *Handlers, wsServer *gateway.WsServer) {
	h.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]interface{}{
			"status":       "ok",
			"online_users": wsServer.GetOnlineUserCount(),
		})
	})
	h.GET("/metrics", adaptor.HertzHandler(promhttp.Handler()))

	// Message routes (auth required)
	msgGroup := h.Group("/api/messages", middleware.JWTAuth(cfg))
	{
		msgGroup.GET("/conversations", handlers.Conversation.ListConversations)
		msgGroup.POST("/conversations", handlers.Conversation.CreateConversation)
		msgGroup.DELETE("/conversations/:id", handlers.Conversation.DeleteConversation)
		msgGroup.POST("/conversations/:id/read", handlers.Conversation.MarkRead)
		msgGroup.POST("/conversations/:id/block", handlers.Conversation.Block)
		msgGroup.POST("/conversations/:id/unblock", handlers.Conversation.Unblock)

		msgGroup.POST("/send", handlers.Message.SendMessage)
		msgGroup.DELETE("/message/:id", handlers.Message.DeleteMessage)
		msgGroup.GET("/:conversation_id", handlers.Message.GetMessages)
	}

	allowedOrigins := cfg.Server.AllowedOrigins
	upgrader := &websocket.HertzUpgrader{
		CheckOrigin: func(ctx *app.RequestContext) bool {
			return checkOrigin(ctx, allowedOrigins)
		},
	}

	h.GET("/ws", func(ctx context.Context, c *app.RequestContext) {
		wsServer.HandleHertzConnection(ctx, c, upgrader)
	})
}

// checkOrigin validates the Origin header against allowed origins
func checkOrigin(ctx *app.RequestContext, allowedOrigins []string) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))

	// same-origin request or non-browser client
	if origin == "" {
		return true
	}

	// no list configured rejects cross-origin sockets
	if len(allowedOrigins) == 0 {
		return false
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
