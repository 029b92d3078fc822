package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
)

// ClientConn represents a WebSocket connection wrapper
type ClientConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// rawConn is the part of a websocket connection the wrapper drives. Both
// gorilla/websocket and hertz-contrib/websocket connections satisfy it.
type rawConn interface {
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ConnOptions tunes a socket connection
type ConnOptions struct {
	MaxMessageSize   int64
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	WriteChannelSize int
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = MaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.WriteChannelSize <= 0 {
		o.WriteChannelSize = WriteChannelSize
	}
	return o
}

// socketConn implements ClientConn with a single writer goroutine
type socketConn struct {
	conn      rawConn
	opts      ConnOptions
	writeChan chan []byte
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
}

// newSocketConn wraps conn and starts its write loop
func newSocketConn(conn rawConn, opts ConnOptions) *socketConn {
	opts = opts.withDefaults()
	c := &socketConn{
		conn:      conn,
		opts:      opts,
		writeChan: make(chan []byte, opts.WriteChannelSize),
	}

	conn.SetReadLimit(opts.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go c.writeLoop()
	return c
}

// writeLoop handles all writes to the connection (single writer pattern)
func (c *socketConn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		if r := recover(); r != nil {
			log.Debug("writeLoop recovered from panic: %v", r)
		}
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.writeChan:
			if !ok {
				c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				log.Debug("write message error: %v", err)
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Debug("ping error: %v", err)
				return
			}
		}
	}
}

func (c *socketConn) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}

// ReadMessage reads a message from the connection
func (c *socketConn) ReadMessage() ([]byte, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	_, message, err := c.conn.ReadMessage()
	return message, err
}

// WriteMessage queues a message to be written
func (c *socketConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.writeChan <- data:
		return nil
	default:
		// slow consumer
		return ErrWriteChannelFull
	}
}

// Close flushes a close frame and stops the write loop
func (c *socketConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		close(c.writeChan)
		c.writeMu.Unlock()
	})
	return nil
}
