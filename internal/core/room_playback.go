package core

import (
	"time"

	"github.com/rebenew/musync/internal/domain"
	"github.com/rebenew/musync/internal/reason"
)

// Play starts (or resumes) playback. A nil trackIndex keeps whatever is
// already current, or starts at 0 if nothing is. A nil positionMs resumes
// from positionAtPauseMs when the room was paused, else starts at 0.
func (r *Room) Play(sender domain.SenderID, trackIndex *int, positionMs *int64) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.canControl(sender) {
			return false, reason.NotAuthorized, nil
		}
		if trackIndex != nil {
			if *trackIndex < 0 || *trackIndex >= len(rm.queue) {
				return false, reason.ActionFailed, nil
			}
			rm.nowPlayingIndex = *trackIndex
		} else if rm.nowPlayingIndex < 0 {
			if len(rm.queue) == 0 {
				return false, reason.ActionFailed, nil
			}
			rm.nowPlayingIndex = 0
		}

		pos := int64(0)
		switch {
		case positionMs != nil:
			pos = *positionMs
		case rm.state == domain.Paused:
			pos = rm.positionAtPauseMs
		}
		if pos < 0 {
			pos = 0
		}

		rm.nowStartedAtMs = rm.nowMs() - pos
		rm.positionAtPauseMs = 0
		rm.state = domain.Active
		rm.touchActivity(sender)

		track := rm.queue[rm.nowPlayingIndex]
		rm.rescheduleEndTimer(track.DurationMs, pos)

		ev := Event{
			Type: "playback", SubType: "play", RoomID: rm.id,
			Data: map[string]any{
				"action": "play", "currentTrackIndex": rm.nowPlayingIndex,
				"positionMs": pos, "roomId": string(rm.id),
			},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}

// Pause freezes playback at its current computed position.
func (r *Room) Pause(sender domain.SenderID) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.canControl(sender) {
			return false, reason.NotAuthorized, nil
		}
		if rm.nowPlayingIndex < 0 {
			return false, reason.ActionFailed, nil
		}

		// Already paused: positionAtPauseMs is already the frozen position.
		// Recomputing from nowStartedAtMs here would pick up the full
		// wall-clock elapsed since play, not since the first pause.
		if rm.state == domain.Paused {
			rm.touchActivity(sender)
			return true, "", nil
		}

		pos := rm.nowMs() - rm.nowStartedAtMs
		if pos < 0 {
			pos = 0
		}
		rm.positionAtPauseMs = pos
		rm.state = domain.Paused
		rm.cancelEndTimer()
		rm.touchActivity(sender)

		ev := Event{
			Type: "playback", SubType: "pause", RoomID: rm.id,
			Data: map[string]any{
				"action": "pause", "currentTrackIndex": rm.nowPlayingIndex,
				"positionMs": pos, "roomId": string(rm.id),
			},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}

// Next advances to the following track. Past the end of the queue it
// clears playback and reports ok=false alongside a playlist_ended
// broadcast — the one documented exception to "broadcast iff ok".
func (r *Room) Next(sender domain.SenderID) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.canControl(sender) {
			return false, reason.NotAuthorized, nil
		}
		if rm.nowPlayingIndex < 0 {
			return false, reason.ActionFailed, nil
		}
		rm.touchActivity(sender)
		ok, events := rm.advanceIndex()
		if !ok {
			return false, reason.ActionFailed, events
		}
		return true, "", events
	})
}

// Previous retreats to the preceding track, or restarts the current one
// if it is already the first.
func (r *Room) Previous(sender domain.SenderID) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.canControl(sender) {
			return false, reason.NotAuthorized, nil
		}
		if rm.nowPlayingIndex < 0 {
			return false, reason.ActionFailed, nil
		}
		rm.touchActivity(sender)
		ok, events := rm.retreatIndex()
		if !ok {
			return false, reason.ActionFailed, nil
		}
		return true, "", events
	})
}

// Seek moves the playback position of the current track.
func (r *Room) Seek(sender domain.SenderID, positionMs int64) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.canControl(sender) {
			return false, reason.NotAuthorized, nil
		}
		if rm.nowPlayingIndex < 0 {
			return false, reason.ActionFailed, nil
		}
		track := rm.queue[rm.nowPlayingIndex]
		if positionMs < 0 {
			return false, reason.ActionFailed, nil
		}
		if track.DurationMs > 0 && positionMs > track.DurationMs {
			return false, reason.ActionFailed, nil
		}

		if rm.state == domain.Paused {
			rm.positionAtPauseMs = positionMs
		} else {
			rm.nowStartedAtMs = rm.nowMs() - positionMs
			rm.rescheduleEndTimer(track.DurationMs, positionMs)
		}
		rm.touchActivity(sender)

		ev := Event{
			Type: "playback", SubType: "seek", RoomID: rm.id,
			Data: map[string]any{
				"action": "seek", "currentTrackIndex": rm.nowPlayingIndex,
				"positionMs": positionMs, "roomId": string(rm.id),
			},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}

// advanceIndex moves to the next queue slot, clearing playback state and
// emitting playlist_ended past the last track. Shared by Next and the
// end-of-track timer.
func (rm *Room) advanceIndex() (bool, []Event) {
	next := rm.nowPlayingIndex + 1
	if next >= len(rm.queue) {
		rm.nowPlayingIndex = -1
		rm.nowStartedAtMs = 0
		rm.positionAtPauseMs = 0
		rm.cancelEndTimer()
		rm.state = domain.Created
		ev := Event{
			Type: "system", SubType: "playlist_ended", RoomID: rm.id,
			Data:       map[string]any{"roomId": string(rm.id)},
			Recipients: rm.allRecipients(""),
		}
		return false, []Event{ev}
	}

	rm.nowPlayingIndex = next
	rm.state = domain.Active
	rm.nowStartedAtMs = rm.nowMs()
	rm.positionAtPauseMs = 0
	track := rm.queue[rm.nowPlayingIndex]
	rm.rescheduleEndTimer(track.DurationMs, 0)

	ev := Event{
		Type: "playback", SubType: "play", RoomID: rm.id,
		Data: map[string]any{
			"action": "play", "currentTrackIndex": rm.nowPlayingIndex,
			"positionMs": int64(0), "roomId": string(rm.id),
		},
		Recipients: rm.allRecipients(""),
	}
	return true, []Event{ev}
}

// retreatIndex moves to the previous queue slot, or restarts the current
// track when already at index 0 — the spec leaves below-zero behavior
// undefined, so clamping at the start is the least surprising choice.
func (rm *Room) retreatIndex() (bool, []Event) {
	if rm.nowPlayingIndex > 0 {
		rm.nowPlayingIndex--
	}
	rm.state = domain.Active
	rm.nowStartedAtMs = rm.nowMs()
	rm.positionAtPauseMs = 0
	track := rm.queue[rm.nowPlayingIndex]
	rm.rescheduleEndTimer(track.DurationMs, 0)

	ev := Event{
		Type: "playback", SubType: "play", RoomID: rm.id,
		Data: map[string]any{
			"action": "play", "currentTrackIndex": rm.nowPlayingIndex,
			"positionMs": int64(0), "roomId": string(rm.id),
		},
		Recipients: rm.allRecipients(""),
	}
	return true, []Event{ev}
}

func (rm *Room) cancelEndTimer() {
	if rm.endTimer != nil {
		rm.endTimer.Stop()
		rm.endTimer = nil
	}
	rm.timerGen++
}

// rescheduleEndTimer arms the end-of-track timer for the remaining
// duration of the track starting at positionMs. durationMs == 0 means
// unknown duration, which disables the timer entirely.
func (rm *Room) rescheduleEndTimer(durationMs, positionMs int64) {
	rm.cancelEndTimer()
	if durationMs <= 0 {
		return
	}
	remaining := durationMs - positionMs
	if remaining < 0 {
		remaining = 0
	}
	gen := rm.timerGen
	rm.endTimer = rm.clock.AfterFunc(time.Duration(remaining)*time.Millisecond, func() {
		rm.postAsync(func(r2 *Room) (bool, reason.Reason, []Event) {
			if gen != r2.timerGen {
				return false, "", nil
			}
			_, events := r2.advanceIndex()
			return true, "", events
		})
	})
}
