package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mbeoliero/kit/log"
	"golang.org/x/time/rate"

	"github.com/mbeoliero/estatechat/pkg/errcode"
	"github.com/mbeoliero/estatechat/pkg/identity"
	"github.com/mbeoliero/estatechat/pkg/protocol"
)

// Client represents a connected WebSocket client
type Client struct {
	mu        sync.Mutex
	conn      ClientConn
	UserId    string
	Role      identity.RoleType
	ConnId    string
	server    *WsServer
	limiter   *rate.Limiter
	room      string
	closed    atomic.Bool
	closedErr error
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new client
func NewClient(conn ClientConn, userId string, role identity.RoleType, connId string, server *WsServer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:    conn,
		UserId:  userId,
		Role:    role,
		ConnId:  connId,
		server:  server,
		limiter: rate.NewLimiter(rate.Limit(server.cfg.WebSocket.EventRate), server.cfg.WebSocket.EventBurst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the client message handling
func (c *Client) Start() {
	go c.readLoop()
}

// readLoop continuously reads messages from the connection
func (c *Client) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.closedErr = ErrPanic
			log.CtxError(c.ctx, "client read loop panic: user_id=%s, error=%v", c.UserId, r)
		}
		c.close()
	}()

	for {
		message, err := c.conn.ReadMessage()
		if err != nil {
			log.CtxDebug(c.ctx, "read message error: user_id=%s, error=%v", c.UserId, err)
			c.closedErr = err
			return
		}

		if c.closed.Load() {
			c.closedErr = ErrConnClosed
			return
		}

		if err := c.handleMessage(message); err != nil {
			log.CtxWarn(c.ctx, "handle message error: user_id=%s, error=%v", c.UserId, err)
			c.closedErr = err
			return
		}
	}
}

// handleMessage decodes one frame and routes it. Only a failure to answer
// the client is returned; rejected events are reported with an error event.
func (c *Client) handleMessage(message []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.server.metrics.DroppedEvents.WithLabelValues(dropInvalid).Inc()
		return c.replyError(context.Background(), "", errcode.ErrInvalidProtocol, "")
	}

	if !c.limiter.Allow() {
		c.server.metrics.DroppedEvents.WithLabelValues(dropRateLimited).Inc()
		return c.replyError(c.ctx, env.Event, errcode.ErrRateLimited, "")
	}

	p, err := protocol.DecodeEnvelope(env)
	if err != nil {
		log.CtxDebug(c.ctx, "invalid event: user_id=%s, event=%s, error=%v", c.UserId, env.Event, err)
		c.server.metrics.DroppedEvents.WithLabelValues(dropInvalid).Inc()
		return c.replyError(c.ctx, env.Event, errcode.ErrInvalidProtocol.Wrap(err), "")
	}

	c.server.metrics.Events.WithLabelValues(env.Event).Inc()
	log.CtxDebug(c.ctx, "received event: event=%s, user_id=%s", env.Event, c.UserId)

	if err := c.server.dispatch(c.ctx, c, p); err != nil {
		return c.replyError(c.ctx, env.Event, err, tempIdOf(p))
	}
	return nil
}

// replyError answers the client with an error event
func (c *Client) replyError(ctx context.Context, event string, err error, tempId string) error {
	var e *errcode.Error
	if !errors.As(err, &e) {
		log.CtxError(ctx, "unexpected event error: event=%s, user_id=%s, error=%v", event, c.UserId, err)
		e = errcode.ErrInternalServer
	}
	frame, encErr := protocol.Encode(&protocol.Error{Event: event, Code: e.Code, Msg: e.Msg, TempId: tempId})
	if encErr != nil {
		return encErr
	}
	if err := c.Push(frame); err != nil && !errors.Is(err, ErrWriteChannelFull) {
		return err
	}
	return nil
}

// Push queues an encoded frame for the client
func (c *Client) Push(frame []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.conn.WriteMessage(frame)
}

// Room returns the conversation the client has open
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// SetRoom records the conversation the client has open
func (c *Client) SetRoom(conversationId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = conversationId
}

// Close closes the client connection
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	return c.conn.Close()
}

// close handles cleanup when connection is closed
func (c *Client) close() {
	_ = c.Close()
	c.server.UnregisterClient(c)
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

func tempIdOf(p protocol.Payload) string {
	if m, ok := p.(*protocol.SendMessage); ok {
		return m.TempId
	}
	return ""
}
