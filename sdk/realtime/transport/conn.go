package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
)

var (
	errConnClosed       = errors.New("connection closed")
	errWriteChannelFull = errors.New("write channel full")
)

// wsConn wraps a gorilla connection with a single writer goroutine
type wsConn struct {
	conn       *websocket.Conn
	writeChan  chan []byte
	writeMu    sync.Mutex
	closeOnce  sync.Once
	abortOnce  sync.Once
	closed     bool
	closeChan  chan struct{}
	pingPeriod time.Duration
	pongWait   time.Duration
	writeWait  time.Duration
}

func newWSConn(conn *websocket.Conn, cfg Config) *wsConn {
	c := &wsConn{
		conn:       conn,
		writeChan:  make(chan []byte, cfg.SendBuffer),
		closeChan:  make(chan struct{}),
		pingPeriod: cfg.PingPeriod,
		pongWait:   cfg.PongWait,
		writeWait:  cfg.WriteWait,
	}

	conn.SetReadLimit(cfg.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	go c.writeLoop()
	return c
}

// writeLoop is the only goroutine that writes to the socket
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.writeChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("write message error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("ping error: %v", err)
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

func (c *wsConn) readMessage() ([]byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	_, message, err := c.conn.ReadMessage()
	return message, err
}

func (c *wsConn) writeMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return errConnClosed
	}
	select {
	case c.writeChan <- data:
		return nil
	default:
		return errWriteChannelFull
	}
}

// close flushes queued frames, sends a close frame and stops the writer
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		close(c.writeChan)
		c.writeMu.Unlock()
	})
}

// abort stops the writer without flushing
func (c *wsConn) abort() {
	c.close()
	c.abortOnce.Do(func() { close(c.closeChan) })
	c.conn.Close()
}
