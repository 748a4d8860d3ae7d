package core

import (
	"github.com/rebenew/musync/internal/domain"
	"github.com/rebenew/musync/internal/reason"
)

// AttachMember authenticates sender to the room on conn. The host role is
// granted to host_id regardless of isHostClaim; non-host joins succeed
// only while the host is connected or has been gone no longer than the
// configured host timeout.
func (r *Room) AttachMember(sender domain.SenderID, conn Connection, isHostClaim bool) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if rm.state == domain.Terminated {
			return false, reason.JoinFailed, nil
		}

		isHost := rm.isHost(sender)
		if !isHost {
			hostGraceMs := rm.cfg.HostTimeout.Milliseconds()
			hostIdleMs := rm.nowMs() - rm.lastHostActivityAtMs
			if !rm.hostConnected() && hostIdleMs > hostGraceMs {
				return false, reason.JoinFailed, nil
			}
		}

		if prior, exists := rm.members[sender]; exists {
			prior.conn.Close()
		}
		rm.members[sender] = &member{conn: conn}
		rm.touchActivity(sender)

		wasDisconnected := rm.state == domain.HostDisconnected
		wasCreated := rm.state == domain.Created
		evType := "user_joined"
		if isHost {
			rm.hostDisconnectGen++ // invalidate any pending self-expire check
			switch {
			case wasDisconnected:
				evType = "host_reconnected"
				rm.state = domain.Active
				// The end-of-track timer was cancelled on disconnect
				// (transitionHostDisconnected); rearm it for the rest of
				// the track measured from nowStartedAtMs (time spent
				// disconnected counts as played) so the track keeps
				// advancing even if the host's syncState frame is
				// delayed or dropped.
				if rm.nowPlayingIndex >= 0 {
					track := rm.queue[rm.nowPlayingIndex]
					rm.rescheduleEndTimer(track.DurationMs, rm.nowMs()-rm.nowStartedAtMs)
				}
			case wasCreated:
				evType = "host_connected"
				rm.state = domain.Active
			default:
				evType = "host_connected"
			}
		}

		ev := Event{
			Type:       "system",
			SubType:    evType,
			RoomID:     rm.id,
			Data:       map[string]any{"senderId": string(sender), "roomId": string(rm.id)},
			Recipients: rm.allRecipients(sender),
		}
		return true, reason.Authenticated, []Event{ev}
	})
}

// DetachMember removes whichever member currently holds conn. If that
// member is the host, the room moves to HOST_DISCONNECTED and a one-shot
// expiration check is scheduled for the reconnection window from now.
func (r *Room) DetachMember(conn Connection) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		var sender domain.SenderID
		found := false
		for sid, m := range rm.members {
			if m.conn == conn {
				sender = sid
				found = true
				break
			}
		}
		if !found {
			return false, reason.ActionFailed, nil
		}

		delete(rm.members, sender)
		rm.touchActivity(sender)

		var events []Event
		if rm.isHost(sender) {
			events = append(events, rm.transitionHostDisconnected()...)
		} else {
			events = append(events, Event{
				Type:       "system",
				SubType:    "user_left",
				RoomID:     rm.id,
				Data:       map[string]any{"senderId": string(sender), "roomId": string(rm.id)},
				Recipients: rm.allRecipients(sender),
			})
		}
		return true, "", events
	})
}

// transitionHostDisconnected moves the room to HOST_DISCONNECTED, arms
// the one-shot expiration check, and returns the host_disconnected event
// to publish. Shared by DetachMember and the health-timeout path, which
// reach HOST_DISCONNECTED by different triggers but the same state
// change.
func (rm *Room) transitionHostDisconnected() []Event {
	rm.state = domain.HostDisconnected
	rm.lastHostActivityAtMs = rm.nowMs()
	rm.hostDisconnectGen++
	gen := rm.hostDisconnectGen

	// Playback is suspended while the host is gone; an end-of-track timer
	// armed before the disconnect must not fire and resurrect the room
	// into ACTIVE behind the health scan's back.
	rm.cancelEndTimer()

	if rm.expirer != nil {
		window := rm.cfg.ReconnectionWindow
		rm.clock.AfterFunc(window, func() {
			rm.checkExpire(gen)
		})
	}

	return []Event{{
		Type:       "system",
		SubType:    "host_disconnected",
		RoomID:     rm.id,
		Data:       map[string]any{"senderId": string(rm.hostID), "roomId": string(rm.id)},
		Recipients: rm.allRecipients(rm.hostID),
	}}
}

// MarkHostTimedOut is invoked by the health system when the host
// connection has gone silent without a clean disconnect — no
// DetachMember frame ever arrived, but last_host_activity_at says the
// host is gone. It evicts whatever connection is on file for the host
// and forces the same state transition detach_member would have caused.
func (r *Room) MarkHostTimedOut() {
	r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if rm.state == domain.HostDisconnected || rm.state == domain.Terminated {
			return true, "", nil
		}
		if m, ok := rm.members[rm.hostID]; ok {
			m.conn.Close()
			delete(rm.members, rm.hostID)
		}
		return true, "", rm.transitionHostDisconnected()
	})
}

// checkExpire runs on the timer goroutine (not the room's own), so it is
// free to call back into the expirer without risking a self-deadlock.
func (r *Room) checkExpire(gen uint64) {
	if r.expirer == nil {
		return
	}
	stillPending, _ := r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		return rm.state == domain.HostDisconnected && rm.hostDisconnectGen == gen, "", nil
	})
	if stillPending {
		r.expirer.RequestExpire(r.id)
	}
}
