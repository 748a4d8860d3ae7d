package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrConnectionClosed is returned by Conn.Send once Close has run.
var ErrConnectionClosed = errors.New("gateway: connection closed")

// ErrBacklogFull is returned by Conn.Send when the outbound buffer is
// saturated; the caller (the Broadcaster, via core.Connection) treats it
// as a best-effort delivery failure and moves on.
var ErrBacklogFull = errors.New("gateway: outbound backlog full")

// BackpressureAction decides what a Conn does to itself when its
// outbound backlog overflows.
type BackpressureAction int

const (
	// DropFrame discards the frame and leaves the connection open.
	DropFrame BackpressureAction = iota
	// KickConnection closes the connection outright.
	KickConnection
)

// Conn adapts a *websocket.Conn to core.Connection. Outbound writes are
// serialized by a single pump goroutine draining a buffered channel, so
// concurrent callers (the Broadcaster fanning an event out to many rooms'
// worth of connections) never interleave frames on one socket.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu         sync.RWMutex
	closed     bool
	onOverflow BackpressureAction
}

func newConn(ws *websocket.Conn, backlog int, onOverflow BackpressureAction) *Conn {
	return &Conn{
		ws:         ws,
		send:       make(chan []byte, backlog),
		onOverflow: onOverflow,
	}
}

// Send implements core.Connection.
func (c *Conn) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		if c.onOverflow == KickConnection {
			go c.Close()
		}
		return ErrBacklogFull
	}
}

// Close implements core.Connection. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.ws.Close()
}

// IsOpen implements core.Connection.
func (c *Conn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Msg("gateway: set write deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Msg("gateway: write failed")
				return
			}
		}
	}
}
