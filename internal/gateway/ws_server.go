package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/estatechat/internal/config"
	"github.com/mbeoliero/estatechat/internal/service"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

// WsServer is the WebSocket server. It relays client events to the
// services and implements service.Pusher for what they emit.
type WsServer struct {
	cfg            *config.Config
	userMap        *UserMap
	clientEvents   chan clientEvent
	msgService     *service.MessageService
	metrics        *Metrics
	onlineUserNum  atomic.Int64
	onlineConnNum  atomic.Int64
	maxConnNum     int64
	now            func() time.Time
}

var _ service.Pusher = (*WsServer)(nil)

// NewWsServer creates a new WebSocket server. rdb may be nil.
func NewWsServer(cfg *config.Config, rdb *redis.Client, msgService *service.MessageService, metrics *Metrics) *WsServer {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &WsServer{
		cfg:            cfg,
		userMap:        NewUserMap(rdb, cfg.Presence.OnlineTTL),
		clientEvents:   make(chan clientEvent, 2000),
		msgService:     msgService,
		metrics:        metrics,
		maxConnNum:     cfg.WebSocket.MaxConnNum,
		now:            time.Now,
	}
}

// Run starts the registration loop and the online status refresher
func (s *WsServer) Run(ctx context.Context) {
	go s.eventLoop(ctx)
	go s.refreshLoop(ctx)
	log.Info("websocket server started: max_conn_num=%d", s.maxConnNum)
}

// clientEvent is a queued registration change. Both kinds share one queue so
// a connection's unregister is never applied before its register.
type clientEvent struct {
	client   *Client
	register bool
}

// eventLoop handles client registration and unregistration
func (s *WsServer) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.clientEvents:
			if ev.register {
				s.registerClient(ctx, ev.client)
			} else {
				s.unregisterClient(ctx, ev.client)
			}
		}
	}
}

// refreshLoop keeps the redis online mirror alive while users stay connected
func (s *WsServer) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.userMap.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.userMap.RefreshOnlineStatus(ctx)
		}
	}
}

// registerClient registers a client and announces the new online list
func (s *WsServer) registerClient(ctx context.Context, client *Client) {
	if s.userMap.Register(ctx, client) {
		s.onlineUserNum.Add(1)
	}
	s.onlineConnNum.Add(1)
	s.updateGauges()

	log.CtxInfo(ctx, "client registered: user_id=%s, conn_id=%s, online_users=%d, online_conns=%d",
		client.UserId, client.ConnId, s.onlineUserNum.Load(), s.onlineConnNum.Load())
	s.broadcastOnlineUsers(ctx)
}

// unregisterClient unregisters a client and announces the new online list
func (s *WsServer) unregisterClient(ctx context.Context, client *Client) {
	removed, isUserOffline := s.userMap.Unregister(ctx, client)
	if !removed {
		log.CtxDebug(ctx, "unregister of unknown client ignored: user_id=%s, conn_id=%s", client.UserId, client.ConnId)
		return
	}
	s.onlineConnNum.Add(-1)
	if isUserOffline {
		s.onlineUserNum.Add(-1)
	}
	s.updateGauges()

	log.CtxInfo(ctx, "client unregistered: user_id=%s, conn_id=%s, user_offline=%v, online_users=%d, online_conns=%d",
		client.UserId, client.ConnId, isUserOffline, s.onlineUserNum.Load(), s.onlineConnNum.Load())
	if isUserOffline {
		s.broadcastOnlineUsers(ctx)
	}
}

func (s *WsServer) updateGauges() {
	s.metrics.OnlineUsers.Set(float64(s.onlineUserNum.Load()))
	s.metrics.Connections.Set(float64(s.onlineConnNum.Load()))
}

// RegisterClient queues client for registration
func (s *WsServer) RegisterClient(client *Client) {
	s.clientEvents <- clientEvent{client: client, register: true}
}

// UnregisterClient queues client for unregistration
func (s *WsServer) UnregisterClient(client *Client) {
	select {
	case s.clientEvents <- clientEvent{client: client}:
	default:
		log.Warn("unregister channel full: user_id=%s", client.UserId)
	}
}

// PushToUsers delivers p to every connection of the given users. Offline
// users and full queues are counted and skipped.
func (s *WsServer) PushToUsers(ctx context.Context, p protocol.Payload, userIds ...string) {
	frame, err := protocol.Encode(p)
	if err != nil {
		log.CtxError(ctx, "encode push failed: event=%s, error=%v", p.EventName(), err)
		return
	}

	for _, userId := range userIds {
		clients, ok := s.userMap.GetAll(userId)
		if !ok {
			s.metrics.DroppedEvents.WithLabelValues(dropOffline).Inc()
			continue
		}
		for _, client := range clients {
			s.pushFrame(ctx, client, p.EventName(), frame)
		}
	}
}

// broadcastOnlineUsers sends the full online list to every connection
func (s *WsServer) broadcastOnlineUsers(ctx context.Context) {
	p := &protocol.OnlineUsers{UserIds: s.userMap.GetAllOnlineUserIds()}
	frame, err := protocol.Encode(p)
	if err != nil {
		log.CtxError(ctx, "encode online users failed: error=%v", err)
		return
	}
	s.userMap.Each(func(client *Client) {
		s.pushFrame(ctx, client, p.EventName(), frame)
	})
}

func (s *WsServer) pushFrame(ctx context.Context, client *Client, event string, frame []byte) {
	if err := client.Push(frame); err != nil {
		s.metrics.DroppedEvents.WithLabelValues(dropQueueFull).Inc()
		log.CtxDebug(ctx, "push to client failed: event=%s, user_id=%s, conn_id=%s, error=%v", event, client.UserId, client.ConnId, err)
	}
}

// GetOnlineUserCount returns online user count
func (s *WsServer) GetOnlineUserCount() int64 {
	return s.onlineUserNum.Load()
}

// GetOnlineConnCount returns online connection count
func (s *WsServer) GetOnlineConnCount() int64 {
	return s.onlineConnNum.Load()
}

// IsOnline reports whether a user has a connection here or on another node
func (s *WsServer) IsOnline(ctx context.Context, userId string) bool {
	return s.userMap.IsOnline(ctx, userId)
}
