// Package transport is the client end of the realtime channel: one websocket
// per authenticated session, typed event dispatch and bounded reconnects.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/pkg/protocol"
)

var (
	// ErrNotConnected is returned by Publish while the socket is down
	ErrNotConnected = errors.New("transport: not connected")
	// ErrUnauthorized is returned by Run when the server rejects the token
	ErrUnauthorized = errors.New("transport: unauthorized")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("transport: closed")
)

// Handler receives a decoded event. Handlers for one channel run on the
// read goroutine in arrival order.
type Handler func(ctx context.Context, p protocol.Payload)

// Config configures a Channel
type Config struct {
	URL    string
	Token  string
	UserId string

	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int

	Dialer *websocket.Dialer
}

func (c *Config) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 10
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

type subscription struct {
	id uint64
	h  Handler
}

// Channel is a reconnecting websocket with event subscriptions
type Channel struct {
	cfg Config

	mu        sync.RWMutex
	handlers  map[string][]subscription
	onConnect []func(ctx context.Context)
	nextId    uint64

	connMu sync.Mutex
	conn   *wsConn

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a channel. Nothing is dialed until Run.
func New(cfg Config) *Channel {
	cfg.setDefaults()
	return &Channel{
		cfg:      cfg,
		handlers: make(map[string][]subscription),
		closed:   make(chan struct{}),
	}
}

// Subscribe registers h for an event and returns a function that removes it
func (ch *Channel) Subscribe(event string, h Handler) func() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.nextId++
	id := ch.nextId
	ch.handlers[event] = append(ch.handlers[event], subscription{id: id, h: h})

	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		subs := ch.handlers[event]
		for i, sub := range subs {
			if sub.id == id {
				ch.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// OnConnect registers a hook run after every successful (re)connect,
// before any inbound event is dispatched.
func (ch *Channel) OnConnect(fn func(ctx context.Context)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onConnect = append(ch.onConnect, fn)
}

// Publish queues an event for the server
func (ch *Channel) Publish(ctx context.Context, p protocol.Payload) error {
	frame, err := protocol.Encode(p)
	if err != nil {
		return err
	}

	ch.connMu.Lock()
	c := ch.conn
	ch.connMu.Unlock()
	if c == nil {
		log.CtxDebug(ctx, "publish while disconnected: event=%s", p.EventName())
		return ErrNotConnected
	}
	if err := c.writeMessage(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Connected reports whether a socket is currently open
func (ch *Channel) Connected() bool {
	ch.connMu.Lock()
	defer ch.connMu.Unlock()
	return ch.conn != nil
}

// Run dials and serves until ctx ends, Close is called, or reconnects are
// exhausted. Dropped connections are retried with exponential backoff.
func (ch *Channel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ch.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		c, err := ch.connect(ctx)
		if err != nil {
			if ch.isClosed() {
				return ErrClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.CtxWarn(ctx, "realtime channel gave up: url=%s, error=%v", ch.cfg.URL, err)
			return err
		}

		ch.serve(ctx, c)

		if ch.isClosed() {
			return ErrClosed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.CtxWarn(ctx, "realtime channel dropped, reconnecting: url=%s", ch.cfg.URL)
	}
}

// Close shuts the socket and stops Run
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() {
		close(ch.closed)
		ch.connMu.Lock()
		c := ch.conn
		ch.conn = nil
		ch.connMu.Unlock()
		if c != nil {
			c.close()
		}
	})
	return nil
}

func (ch *Channel) isClosed() bool {
	select {
	case <-ch.closed:
		return true
	default:
		return false
	}
}

// connect dials with bounded exponential backoff
func (ch *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = ch.cfg.InitialInterval
	eb.MaxInterval = ch.cfg.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, ch.cfg.MaxRetries), ctx)

	target, err := ch.dialURL()
	if err != nil {
		return nil, err
	}

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := ch.cfg.Dialer.DialContext(ctx, target, nil)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(fmt.Errorf("%w: status=%d", ErrUnauthorized, resp.StatusCode))
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.CtxWarn(ctx, "dial realtime channel failed: error=%v, retry_in=%s", err, wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (ch *Channel) dialURL() (string, error) {
	u, err := url.Parse(ch.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	if ch.cfg.Token != "" {
		q.Set("token", ch.cfg.Token)
	}
	if ch.cfg.UserId != "" {
		q.Set("user_id", ch.cfg.UserId)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// serve owns one connection until it drops
func (ch *Channel) serve(ctx context.Context, raw *websocket.Conn) {
	c := newWSConn(raw, ch.cfg)

	ch.connMu.Lock()
	if ch.isClosed() {
		ch.connMu.Unlock()
		c.abort()
		return
	}
	ch.conn = c
	ch.connMu.Unlock()

	log.CtxInfo(ctx, "realtime channel connected: url=%s, user_id=%s", ch.cfg.URL, ch.cfg.UserId)

	stop := context.AfterFunc(ctx, c.abort)
	defer stop()
	defer func() {
		ch.connMu.Lock()
		if ch.conn == c {
			ch.conn = nil
		}
		ch.connMu.Unlock()
		c.abort()
	}()

	ch.mu.RLock()
	hooks := append([]func(context.Context){}, ch.onConnect...)
	ch.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx)
	}

	for {
		frame, err := c.readMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.CtxWarn(ctx, "read realtime channel failed: error=%v", err)
			}
			return
		}
		ch.dispatch(ctx, frame)
	}
}

func (ch *Channel) dispatch(ctx context.Context, frame []byte) {
	p, err := protocol.Decode(frame)
	if err != nil {
		log.CtxDebug(ctx, "dropping inbound frame: error=%v", err)
		return
	}

	ch.mu.RLock()
	subs := ch.handlers[p.EventName()]
	hs := make([]Handler, len(subs))
	for i, sub := range subs {
		hs[i] = sub.h
	}
	ch.mu.RUnlock()

	if len(hs) == 0 {
		log.CtxDebug(ctx, "no handler for event: event=%s", p.EventName())
		return
	}
	for _, h := range hs {
		h(ctx, p)
	}
}
