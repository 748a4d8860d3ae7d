package core

import (
	"github.com/rebenew/musync/internal/domain"
	"github.com/rebenew/musync/internal/reason"
)

// AddTrack appends a track to the queue.
func (r *Room) AddTrack(sender domain.SenderID, track domain.Track) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.canEditQueue(sender) {
			return false, reason.NotAuthorized, nil
		}
		rm.queue = append(rm.queue, track)
		rm.touchActivity(sender)

		ev := Event{
			Type: "playlist_update", SubType: "add", RoomID: rm.id,
			Data: map[string]any{
				"action": "add", "track": track, "roomId": string(rm.id),
			},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}

// RemoveTrack removes the track at index, adjusting now_playing_index so
// the invariant "it's either absent or in range" always holds.
func (r *Room) RemoveTrack(sender domain.SenderID, index int) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.canEditQueue(sender) {
			return false, reason.NotAuthorized, nil
		}
		if index < 0 || index >= len(rm.queue) {
			return false, reason.ActionFailed, nil
		}

		rm.queue = append(rm.queue[:index], rm.queue[index+1:]...)
		switch {
		case rm.nowPlayingIndex == index:
			rm.nowPlayingIndex = -1
			rm.nowStartedAtMs = 0
			rm.positionAtPauseMs = 0
			rm.cancelEndTimer()
			rm.state = domain.Created
		case rm.nowPlayingIndex > index:
			rm.nowPlayingIndex--
		}
		rm.touchActivity(sender)

		ev := Event{
			Type: "playlist_update", SubType: "remove", RoomID: rm.id,
			Data: map[string]any{
				"action": "remove", "index": index, "roomId": string(rm.id),
			},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}

// MoveTrack relocates the track at from to position to, preserving the
// identity of whichever track is currently playing.
func (r *Room) MoveTrack(sender domain.SenderID, from, to int) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.canEditQueue(sender) {
			return false, reason.NotAuthorized, nil
		}
		n := len(rm.queue)
		if from < 0 || from >= n || to < 0 || to >= n {
			return false, reason.ActionFailed, nil
		}

		playing := rm.nowPlayingIndex
		track := rm.queue[from]
		rm.queue = append(rm.queue[:from], rm.queue[from+1:]...)
		rm.queue = append(rm.queue[:to], append([]domain.Track{track}, rm.queue[to:]...)...)
		rm.nowPlayingIndex = remapIndex(playing, from, to)
		rm.touchActivity(sender)

		ev := Event{
			Type: "playlist_update", SubType: "move", RoomID: rm.id,
			Data: map[string]any{
				"action": "move", "fromIndex": from, "toIndex": to, "roomId": string(rm.id),
			},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}

// remapIndex tracks where a single element ends up after it (or another
// element) is removed from "from" and reinserted at "to".
func remapIndex(playing, from, to int) int {
	if playing < 0 {
		return playing
	}
	if playing == from {
		return to
	}
	if from < to {
		if playing > from && playing <= to {
			return playing - 1
		}
		return playing
	}
	if playing >= to && playing < from {
		return playing + 1
	}
	return playing
}

// ClearQueue empties the queue and clears any current playback. Host only.
func (r *Room) ClearQueue(sender domain.SenderID) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.isHost(sender) {
			return false, reason.NotAuthorized, nil
		}
		rm.queue = rm.queue[:0]
		rm.nowPlayingIndex = -1
		rm.nowStartedAtMs = 0
		rm.positionAtPauseMs = 0
		rm.cancelEndTimer()
		rm.state = domain.Created
		rm.touchActivity(sender)

		ev := Event{
			Type: "system", SubType: "playlist_cleared", RoomID: rm.id,
			Data:       map[string]any{"roomId": string(rm.id)},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}

// ReplaceQueue atomically swaps the queue contents. Rejected for any
// non-host sender regardless of allow_guests_edit_queue, matching the
// original source's replacePlaylist.
func (r *Room) ReplaceQueue(sender domain.SenderID, tracks []domain.Track) (bool, reason.Reason) {
	return r.submit(func(rm *Room) (bool, reason.Reason, []Event) {
		if !rm.isHost(sender) {
			return false, reason.NotAuthorized, nil
		}
		var oldTrack *domain.Track
		if rm.nowPlayingIndex >= 0 && rm.nowPlayingIndex < len(rm.queue) {
			t := rm.queue[rm.nowPlayingIndex]
			oldTrack = &t
		}
		rm.queue = tracks
		switch {
		case rm.nowPlayingIndex >= len(rm.queue):
			rm.nowPlayingIndex = -1
			rm.nowStartedAtMs = 0
			rm.positionAtPauseMs = 0
			rm.cancelEndTimer()
			if rm.state == domain.Active || rm.state == domain.Paused {
				rm.state = domain.Created
			}
		case rm.nowPlayingIndex >= 0 && rm.state == domain.Active:
			newTrack := rm.queue[rm.nowPlayingIndex]
			if oldTrack == nil || oldTrack.DurationMs != newTrack.DurationMs {
				rm.rescheduleEndTimer(newTrack.DurationMs, rm.nowMs()-rm.nowStartedAtMs)
			}
		}
		rm.touchActivity(sender)

		ev := Event{
			Type: "system", SubType: "playlist_sync", RoomID: rm.id,
			Data:       map[string]any{"tracks": rm.queue, "roomId": string(rm.id)},
			Recipients: rm.allRecipients(""),
		}
		return true, "", []Event{ev}
	})
}
