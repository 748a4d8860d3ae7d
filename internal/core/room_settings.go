package core

import (
	"github.com/rebenew/musync/internal/domain"
	"github.com/rebenew/musync/internal/reason"
)

// Touch records inbound activity from sender without any other side
// effect — used by the Gateway's heartbeat and system.health_check
// handlers.
func (r *Room) Touch(sender domain.SenderID) {
	r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		rm.touchActivity(sender)
		return true, "", nil
	})
}

// UpdateSettings changes the guest permission flags. A nil pointer means
// "leave unchanged". Host only.
func (r *Room) UpdateSettings(sender domain.SenderID, allowControl, allowEditQueue *bool) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.isHost(sender) {
			return false, reason.NotAuthorized, nil
		}
		if allowControl != nil {
			rm.allowGuestsControl = *allowControl
		}
		if allowEditQueue != nil {
			rm.allowGuestsEditQueue = *allowEditQueue
		}
		rm.touchActivity(sender)

		ev := Event{
			Type: "system", SubType: "room_settings_updated", RoomID: rm.id,
			Data: map[string]any{
				"allowGuestsControl":   rm.allowGuestsControl,
				"allowGuestsEditQueue": rm.allowGuestsEditQueue,
				"roomId":               string(rm.id),
			},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}

// Snapshot is the full state of a room at one instant, used for the
// full_state envelope and the HTTP read-only getters.
type Snapshot struct {
	RoomID               domain.RoomID
	HostID               domain.SenderID
	State                domain.State
	AllowGuestsControl   bool
	AllowGuestsEditQueue bool
	Queue                []domain.Track
	NowPlayingIndex      int
	PositionMs           int64
	MemberCount          int
	CreatedAtMs          int64
	LastActivityAtMs     int64
	LastHostActivityAtMs int64
}

// CurrentTrack returns the now-playing track and whether one exists.
func (s Snapshot) CurrentTrack() (domain.Track, bool) {
	if s.NowPlayingIndex < 0 || s.NowPlayingIndex >= len(s.Queue) {
		return domain.Track{}, false
	}
	return s.Queue[s.NowPlayingIndex], true
}

// Snapshot returns the room's current state. Any authenticated member
// may call it; the permission layer only gates mutating commands.
func (r *Room) Snapshot() Snapshot {
	var snap Snapshot
	r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		snap = rm.buildSnapshot()
		return true, "", nil
	})
	return snap
}

func (rm *Room) buildSnapshot() Snapshot {
	pos := int64(0)
	switch rm.state {
	case domain.Active:
		pos = rm.nowMs() - rm.nowStartedAtMs
		if pos < 0 {
			pos = 0
		}
	case domain.Paused:
		pos = rm.positionAtPauseMs
	}

	queue := make([]domain.Track, len(rm.queue))
	copy(queue, rm.queue)

	return Snapshot{
		RoomID:               rm.id,
		HostID:               rm.hostID,
		State:                rm.state,
		AllowGuestsControl:   rm.allowGuestsControl,
		AllowGuestsEditQueue: rm.allowGuestsEditQueue,
		Queue:                queue,
		NowPlayingIndex:      rm.nowPlayingIndex,
		PositionMs:           pos,
		MemberCount:          len(rm.members),
		CreatedAtMs:          rm.createdAtMs,
		LastActivityAtMs:     rm.lastActivityAtMs,
		LastHostActivityAtMs: rm.lastHostActivityAtMs,
	}
}

// BroadcastExpired emits room_expired to every current member. Called by
// the registry immediately before Terminate when a room is removed by
// the health system rather than by its host.
func (r *Room) BroadcastExpired() {
	r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		ev := Event{
			Type: "system", SubType: "room_expired", RoomID: rm.id,
			Data:       map[string]any{"roomId": string(rm.id)},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}

// Terminate marks the room TERMINATED, broadcasts the given event
// (room_closed) to every member, and returns their connections for the
// caller to close; it does not close them itself. Called by the registry,
// which holds sole deletion authority; the room does not remove itself
// from any map.
func (r *Room) Terminate(eventType, eventSubType string) []Connection {
	var conns []Connection
	r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if rm.state == domain.Terminated {
			return true, "", nil
		}
		rm.cancelEndTimer()
		rm.state = domain.Terminated

		ev := Event{
			Type: eventType, SubType: eventSubType, RoomID: rm.id,
			Data:       map[string]any{"roomId": string(rm.id)},
			Recipients: rm.allRecipients(""),
		}
		for _, m := range rm.members {
			conns = append(conns, m.conn)
		}
		return true, "", []Event{ev}
	})
	r.Shutdown()
	return conns
}
