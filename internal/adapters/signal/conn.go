package signal

import (
	"sync"
	"time"

	"github.com/dkeye/talkie/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WsSignalConn is the websocket implementation of core.SignalConnection.
// Frames go through a bounded channel drained by the write pump.
type WsSignalConn struct {
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewWsSignalConn(ws *websocket.Conn, buffer int, writeWait time.Duration) *WsSignalConn {
	return &WsSignalConn{
		conn:      ws,
		send:      make(chan core.Frame, buffer),
		writeWait: writeWait,
		done:      make(chan struct{}),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Ping writes a ping control frame; the peer's pong marks it alive.
func (c *WsSignalConn) Ping() error {
	if c.isClosed() {
		return core.ErrConnClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// CloseWith marks the connection closed and returns. The close frame and
// the socket teardown happen on their own goroutine, bounded by writeWait.
func (c *WsSignalConn) CloseWith(code core.CloseCode, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	go c.teardown(websocket.FormatCloseMessage(int(code), reason))
}

func (c *WsSignalConn) teardown(msg []byte) {
	defer close(c.done)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait)); err != nil && err != websocket.ErrCloseSent {
		log.Debug().Str("module", "signal").Err(err).Msg("close frame not sent")
	}
	_ = c.conn.Close()
}

// Done is closed once the socket has been torn down after CloseWith.
func (c *WsSignalConn) Done() <-chan struct{} { return c.done }

func (c *WsSignalConn) Close() {
	c.CloseWith(core.CloseNormal, "")
}

func (c *WsSignalConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
