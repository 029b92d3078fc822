package gateway

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/hertz-contrib/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/internal/middleware"
	"github.com/mbeoliero/estatechat/pkg/jwt"
)

// authenticate validates the handshake query and returns the claims, or the
// HTTP status to reject with
func (s *WsServer) authenticate(ctx context.Context, token, userId string) (*jwt.Claims, int) {
	if s.onlineConnNum.Load() >= s.maxConnNum {
		return nil, http.StatusServiceUnavailable
	}
	if token == "" || userId == "" {
		return nil, http.StatusBadRequest
	}

	claims, err := middleware.ParseTokenWithFallback(token, s.cfg)
	if err != nil {
		log.CtxDebug(ctx, "token validation failed: user_id=%s, error=%v", userId, err)
		return nil, http.StatusUnauthorized
	}
	if claims.UserId != userId {
		log.CtxDebug(ctx, "token user mismatch: user_id=%s, token_user_id=%s", userId, claims.UserId)
		return nil, http.StatusUnauthorized
	}
	if !claims.Role.CanChat() {
		return nil, http.StatusForbidden
	}
	return claims, 0
}

func (s *WsServer) connOptions() ConnOptions {
	ws := s.cfg.WebSocket
	return ConnOptions{
		MaxMessageSize:   ws.MaxMessageSize,
		WriteWait:        ws.WriteWait,
		PongWait:         ws.PongWait,
		PingPeriod:       ws.PingPeriod,
		WriteChannelSize: ws.WriteChannelSize,
	}
}

// HandleHertzConnection upgrades /ws?token=&user_id= using hertz-contrib/websocket
func (s *WsServer) HandleHertzConnection(ctx context.Context, c *app.RequestContext, upgrader *websocket.HertzUpgrader) {
	claims, status := s.authenticate(ctx, c.Query(QueryToken), c.Query(QueryUserId))
	if claims == nil {
		c.String(status, http.StatusText(status))
		return
	}

	err := upgrader.Upgrade(c, func(conn *websocket.Conn) {
		client := NewClient(newSocketConn(conn, s.connOptions()), claims.UserId, claims.Role, uuid.NewString(), s)
		s.RegisterClient(client)

		// blocks until the connection is gone; the upgrader owns the conn
		client.readLoop()
	})
	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
	}
}

// HandleConnection is the net/http variant of the handshake
func (s *WsServer) HandleConnection(upgrader *gorilla.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		claims, status := s.authenticate(ctx, r.URL.Query().Get(QueryToken), r.URL.Query().Get(QueryUserId))
		if claims == nil {
			http.Error(w, http.StatusText(status), status)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
			return
		}

		client := NewClient(newSocketConn(conn, s.connOptions()), claims.UserId, claims.Role, uuid.NewString(), s)
		s.RegisterClient(client)
		client.Start()
	}
}
