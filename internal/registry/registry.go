// Package registry owns the process-wide map of room id to Room. It is
// the only place a Room is created or removed; Room itself never deletes
// its own entry.
package registry

import (
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rebenew/musync/internal/core"
	"github.com/rebenew/musync/internal/domain"
)

var (
	// ErrInvalidID is returned by Create for an empty/blank room id.
	ErrInvalidID = errors.New("registry: invalid room id")
	// ErrRoomExists is returned by Create when the id is already taken.
	ErrRoomExists = errors.New("registry: room already exists")
)

// Registry is safe for concurrent use. Lookups take the read lock; create
// and delete take the write lock only for the map mutation itself — the
// Room's own command loop handles everything else concurrently.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*core.Room
	sink    core.EventSink
	roomCfg core.Config
}

// New builds an empty registry. sink receives every event published by
// every room it creates; roomCfg is handed to each new Room unchanged.
func New(sink core.EventSink, roomCfg core.Config) *Registry {
	return &Registry{
		rooms:   make(map[domain.RoomID]*core.Room),
		sink:    sink,
		roomCfg: roomCfg,
	}
}

// Create starts a new room in state CREATED owned by hostID.
func (reg *Registry) Create(id domain.RoomID, hostID domain.SenderID) (*core.Room, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, ErrInvalidID
	}

	reg.mu.Lock()
	if _, exists := reg.rooms[id]; exists {
		reg.mu.Unlock()
		return nil, ErrRoomExists
	}
	room := core.New(id, hostID, reg.roomCfg, reg.sink, reg)
	reg.rooms[id] = room
	reg.mu.Unlock()

	log.Info().Str("roomId", string(id)).Str("hostId", string(hostID)).Msg("room created")
	return room, nil
}

// Get returns the room for id, if any.
func (reg *Registry) Get(id domain.RoomID) (*core.Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	return room, ok
}

// Exists reports whether id currently names a live room.
func (reg *Registry) Exists(id domain.RoomID) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.rooms[id]
	return ok
}

// Delete removes room id, provided caller is its host or the reserved
// health_system principal. Idempotent: deleting an already-gone room
// succeeds silently, matching the spec's "idempotent on already
// terminated" contract.
func (reg *Registry) Delete(id domain.RoomID, caller domain.SenderID) bool {
	reg.mu.RLock()
	room, ok := reg.rooms[id]
	reg.mu.RUnlock()
	if !ok {
		return true
	}
	if caller != room.HostID() && caller != core.HealthSystemPrincipal {
		return false
	}

	if caller == core.HealthSystemPrincipal {
		room.BroadcastExpired()
	}
	conns := room.Terminate("system", "room_closed")

	reg.mu.Lock()
	delete(reg.rooms, id)
	reg.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	log.Info().Str("roomId", string(id)).Str("caller", string(caller)).Msg("room deleted")
	return true
}

// RequestExpire implements core.Expirer: a Room asks the registry to
// check-and-delete itself once its reconnection window has elapsed. The
// Room has already confirmed it is still HOST_DISCONNECTED for this
// disconnection episode before calling this.
func (reg *Registry) RequestExpire(id domain.RoomID) {
	reg.Delete(id, core.HealthSystemPrincipal)
}

// IterSnapshot returns a point-in-time Snapshot of every live room, for
// the health scanner and the HTTP dashboard endpoint.
func (reg *Registry) IterSnapshot() []core.Snapshot {
	reg.mu.RLock()
	rooms := make([]*core.Room, 0, len(reg.rooms))
	for _, rm := range reg.rooms {
		rooms = append(rooms, rm)
	}
	reg.mu.RUnlock()

	out := make([]core.Snapshot, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, rm.Snapshot())
	}
	return out
}

// Len reports the current room count.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Shutdown terminates every room, broadcasting room_closed and closing
// every member connection, as the last step of process shutdown.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	rooms := make([]*core.Room, 0, len(reg.rooms))
	for id, rm := range reg.rooms {
		rooms = append(rooms, rm)
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()

	for _, rm := range rooms {
		conns := rm.Terminate("system", "room_closed")
		for _, c := range conns {
			c.Close()
		}
	}
}
