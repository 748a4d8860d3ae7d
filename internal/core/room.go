// Package core implements the room coordination engine: a single-writer
// Room actor per room, reachable only through its command methods, plus
// the small set of types (Connection, Event, EventSink) the rest of the
// service wires it up with.
package core

import (
	"sync"
	"time"

	"github.com/rebenew/musync/internal/domain"
	"github.com/rebenew/musync/internal/reason"
)

// HealthSystemPrincipal is the reserved caller id RoomRegistry.Delete
// accepts in place of a room's host id.
const HealthSystemPrincipal domain.SenderID = "health_system"

// Expirer is notified by a Room when its reconnection window has elapsed
// without the host coming back. It decides whether to actually remove the
// room — the Room itself holds no deletion authority over the registry.
type Expirer interface {
	RequestExpire(id domain.RoomID)
}

// Config carries the duration knobs a Room needs from §6.3 of the spec.
type Config struct {
	HostTimeout        time.Duration
	ReconnectionWindow time.Duration
}

type member struct {
	conn Connection
}

type execFunc func(r *Room) (ok bool, rsn reason.Reason, events []Event)

type roomCommand struct {
	exec execFunc
	resp chan cmdResult // nil for fire-and-forget (timer-triggered) commands
}

type cmdResult struct {
	ok  bool
	rsn reason.Reason
}

// Room owns all per-room state and is the only thing allowed to mutate it.
// Every exported method that reads or mutates room state funnels through
// submit/postAsync onto a single consumer goroutine (run), so two commands
// on the same room are always observed as if one fully preceded the other.
type Room struct {
	id      domain.RoomID
	hostID  domain.SenderID
	cfg     Config
	clock   Clock
	sink    EventSink
	expirer Expirer

	cmdCh  chan roomCommand
	closed chan struct{}
	once   sync.Once

	// Everything below is touched only inside run()'s goroutine.
	state                domain.State
	allowGuestsControl   bool
	allowGuestsEditQueue bool
	queue                []domain.Track
	nowPlayingIndex      int // -1 means absent
	nowStartedAtMs       int64
	positionAtPauseMs    int64
	members              map[domain.SenderID]*member
	lastActivityAtMs     int64
	lastHostActivityAtMs int64
	createdAtMs          int64

	endTimer          Timer
	timerGen          uint64
	hostDisconnectGen uint64
}

// New creates a room in the CREATED state and starts its command loop.
// Callers (the registry) must eventually call Shutdown to stop the loop.
func New(id domain.RoomID, hostID domain.SenderID, cfg Config, sink EventSink, expirer Expirer) *Room {
	return newRoom(id, hostID, cfg, realClock{}, sink, expirer)
}

// newRoom is the test seam: it accepts an injected Clock.
func newRoom(id domain.RoomID, hostID domain.SenderID, cfg Config, clock Clock, sink EventSink, expirer Expirer) *Room {
	now := clock.Now().UnixMilli()
	r := &Room{
		id:                   id,
		hostID:               hostID,
		cfg:                  cfg,
		clock:                clock,
		sink:                 sink,
		expirer:              expirer,
		cmdCh:                make(chan roomCommand, 64),
		closed:               make(chan struct{}),
		state:                domain.Created,
		allowGuestsControl:   true,
		allowGuestsEditQueue: false,
		queue:                make([]domain.Track, 0, 8),
		nowPlayingIndex:      -1,
		members:              make(map[domain.SenderID]*member),
		lastActivityAtMs:     now,
		lastHostActivityAtMs: now,
		createdAtMs:          now,
	}
	go r.run()
	return r
}

// ID returns the room's id. Safe to call from any goroutine; it's
// immutable after construction.
func (r *Room) ID() domain.RoomID { return r.id }

// HostID returns the room's host id. Immutable after construction.
func (r *Room) HostID() domain.SenderID { return r.hostID }

func (r *Room) run() {
	for {
		select {
		case cmd := <-r.cmdCh:
			ok, rsn, events := cmd.exec(r)
			for _, ev := range events {
				r.sink.Publish(ev)
			}
			if cmd.resp != nil {
				cmd.resp <- cmdResult{ok: ok, rsn: rsn}
			}
		case <-r.closed:
			return
		}
	}
}

// submit enqueues exec and blocks for its result. Never call this from
// inside an exec closure already running on the room's own goroutine —
// the single consumer would be waiting on itself.
func (r *Room) submit(exec execFunc) (bool, reason.Reason) {
	resp := make(chan cmdResult, 1)
	select {
	case r.cmdCh <- roomCommand{exec: exec, resp: resp}:
	case <-r.closed:
		return false, reason.ActionFailed
	}
	select {
	case res := <-resp:
		return res.ok, res.rsn
	case <-r.closed:
		return false, reason.ActionFailed
	}
}

// postAsync enqueues exec without waiting for a result. Used by the
// end-of-track timer callback, which has no ACK recipient.
func (r *Room) postAsync(exec execFunc) {
	select {
	case r.cmdCh <- roomCommand{exec: exec}:
	case <-r.closed:
	}
}

// Shutdown idempotently stops the room's command loop and cancels any
// pending end-of-track timer. Safe to call from any goroutine, including
// the room's own (a timer callback that decides to self-terminate).
func (r *Room) Shutdown() {
	r.once.Do(func() {
		close(r.closed)
		if r.endTimer != nil {
			r.endTimer.Stop()
		}
	})
}

func (r *Room) nowMs() int64 { return r.clock.Now().UnixMilli() }

// allRecipients builds the Event.Recipients slice for every current
// member, optionally excluding one sender id. Must be called from within
// an exec closure (single-writer section) so the snapshot is consistent.
func (r *Room) allRecipients(exclude domain.SenderID) []Recipient {
	out := make([]Recipient, 0, len(r.members))
	for sid, m := range r.members {
		if sid == exclude {
			continue
		}
		out = append(out, Recipient{SenderID: sid, Conn: m.conn})
	}
	return out
}

func (r *Room) touchActivity(sender domain.SenderID) {
	r.lastActivityAtMs = r.nowMs()
	if sender == r.hostID {
		r.lastHostActivityAtMs = r.lastActivityAtMs
	}
}

func (r *Room) isHost(sender domain.SenderID) bool { return sender == r.hostID }

func (r *Room) canControl(sender domain.SenderID) bool {
	return r.isHost(sender) || r.allowGuestsControl
}

func (r *Room) canEditQueue(sender domain.SenderID) bool {
	return r.isHost(sender) || r.allowGuestsEditQueue
}

func (r *Room) hostConnected() bool {
	_, ok := r.members[r.hostID]
	return ok
}
