// Package gateway is the external edge of the service: it decodes
// inbound WebSocket frames, authenticates a connection to a room, and
// dispatches validated commands onto the Room that owns that state.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rebenew/musync/internal/broadcast"
	"github.com/rebenew/musync/internal/domain"
	"github.com/rebenew/musync/internal/reason"
	"github.com/rebenew/musync/internal/registry"
	"github.com/rebenew/musync/internal/wire"
)

// Config carries the gateway's own tunables from §6.3.
type Config struct {
	ClientIdleTimeout  time.Duration
	MaxOutboundBacklog int
	OverflowAction     BackpressureAction
	RateLimit          int
	RateLimitWindow    time.Duration
}

type authState struct {
	roomID   domain.RoomID
	senderID domain.SenderID
}

// Gateway wires a RoomRegistry and a Broadcaster to the WebSocket
// transport. One Gateway serves every connection in the process.
type Gateway struct {
	reg     *registry.Registry
	bc      *broadcast.Broadcaster
	cfg     Config
	limiter *RoomRateLimiter

	mu       sync.Mutex
	sessions map[*Conn]authState
}

// New builds a Gateway. cfg.RateLimit <= 0 disables the rate limiter.
func New(reg *registry.Registry, bc *broadcast.Broadcaster, cfg Config) *Gateway {
	g := &Gateway{
		reg:      reg,
		bc:       bc,
		cfg:      cfg,
		sessions: make(map[*Conn]authState),
	}
	if cfg.RateLimit > 0 {
		g.limiter = NewRoomRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	}
	return g
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a WebSocket and runs its read/write
// pumps until the connection closes.
func (g *Gateway) ServeWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("gateway: ws upgrade")
		return
	}

	conn := newConn(ws, g.cfg.MaxOutboundBacklog, g.cfg.OverflowAction)
	connCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		conn.writePump(connCtx)
	}()
	go func() {
		defer wg.Done()
		defer cancel() // stop writePump once the read side is done
		g.readPump(connCtx, conn)
	}()
	wg.Wait()
	cancel()
}

func (g *Gateway) readPump(ctx context.Context, conn *Conn) {
	defer g.handleDisconnect(conn)
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if g.cfg.ClientIdleTimeout > 0 {
			_ = conn.ws.SetReadDeadline(time.Now().Add(g.cfg.ClientIdleTimeout))
		}
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		g.HandleFrame(conn, data)
	}
}

func (g *Gateway) handleDisconnect(conn *Conn) {
	state, ok := g.popSession(conn)
	if !ok {
		return
	}
	if g.limiter != nil {
		g.limiter.Forget(state.senderID)
	}
	if room, found := g.reg.Get(state.roomID); found {
		room.DetachMember(conn)
	}
}

func (g *Gateway) getSession(conn *Conn) (authState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.sessions[conn]
	return state, ok
}

func (g *Gateway) setSession(conn *Conn, state authState) {
	g.mu.Lock()
	g.sessions[conn] = state
	g.mu.Unlock()
}

func (g *Gateway) popSession(conn *Conn) (authState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.sessions[conn]
	delete(g.sessions, conn)
	return state, ok
}

// HandleFrame decodes and dispatches one inbound frame. Exactly one ACK
// is sent to conn for every frame reaching this point, including malformed
// JSON, which is ACKed with invalid_message.
func (g *Gateway) HandleFrame(conn *Conn, raw []byte) {
	var fr wire.Frame
	if err := json.Unmarshal(raw, &fr); err != nil {
		g.bc.Ack(conn, false, reason.InvalidMessage, "")
		return
	}

	if fr.Type == "" {
		g.bc.Ack(conn, false, reason.MissingRequiredFields, fr.CorrelationID)
		return
	}

	if fr.Type != "auth" {
		state, ok := g.getSession(conn)
		if !ok || fr.RoomID == "" || fr.SenderID == "" ||
			state.roomID != domain.RoomID(fr.RoomID) || state.senderID != domain.SenderID(fr.SenderID) {
			g.bc.Ack(conn, false, reason.InvalidSession, fr.CorrelationID)
			return
		}
		if g.limiter != nil && !g.limiter.Allow(state.senderID) {
			g.bc.Ack(conn, false, reason.ProcessingError, fr.CorrelationID)
			return
		}
		if room, found := g.reg.Get(state.roomID); found {
			room.Touch(state.senderID)
		}
	}

	switch fr.Type {
	case "auth":
		g.handleAuth(conn, fr)
	case "heartbeat":
		g.bc.Ack(conn, true, "", fr.CorrelationID)
	case "playback":
		g.handlePlayback(conn, fr)
	case "playlist":
		g.handlePlaylist(conn, fr)
	case "settings":
		g.handleSettings(conn, fr)
	case "system":
		if fr.SubType == "health_check" {
			g.bc.Ack(conn, true, "", fr.CorrelationID)
			return
		}
		g.bc.Ack(conn, false, reason.UnknownSubtype, fr.CorrelationID)
	default:
		g.bc.Ack(conn, false, reason.UnknownMessageType, fr.CorrelationID)
	}
}

func (g *Gateway) handleAuth(conn *Conn, fr wire.Frame) {
	if fr.RoomID == "" || fr.SenderID == "" {
		g.bc.Ack(conn, false, reason.MissingRequiredFields, fr.CorrelationID)
		return
	}
	roomID := domain.RoomID(fr.RoomID)
	senderID := domain.SenderID(fr.SenderID)

	room, ok := g.reg.Get(roomID)
	if !ok {
		g.bc.Ack(conn, false, reason.RoomNotFound, fr.CorrelationID)
		return
	}

	before := room.Snapshot()
	if before.State == domain.Terminated && senderID != room.HostID() {
		g.bc.Ack(conn, false, reason.RoomNotActive, fr.CorrelationID)
		return
	}

	var data wire.AuthData
	if len(fr.Data) > 0 {
		_ = json.Unmarshal(fr.Data, &data)
	}

	ok2, rsn := room.AttachMember(senderID, conn, data.IsHost)
	if !ok2 {
		g.bc.Ack(conn, false, rsn, fr.CorrelationID)
		return
	}

	g.setSession(conn, authState{roomID: roomID, senderID: senderID})
	g.bc.Ack(conn, true, reason.Authenticated, fr.CorrelationID)
	g.bc.FullState(conn, room.Snapshot())
}
