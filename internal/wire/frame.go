// Package wire defines the JSON shapes exchanged over the WebSocket
// endpoint: the inbound SyncMsg frame envelope and the per-type payload
// schemas it carries in its data field.
package wire

import "encoding/json"

// Frame is the single inbound/outbound envelope shape. Data's schema
// depends on Type and SubType.
type Frame struct {
	Type          string          `json:"type"`
	SubType       string          `json:"subType,omitempty"`
	RoomID        string          `json:"roomId,omitempty"`
	SenderID      string          `json:"senderId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Timestamp     int64           `json:"timestamp,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// AuthData is the auth frame's data payload.
type AuthData struct {
	IsHost bool `json:"isHost"`
}

// PlayData is playback.play's data payload.
type PlayData struct {
	TrackIndex *int   `json:"trackIndex,omitempty"`
	PositionMs *int64 `json:"positionMs,omitempty"`
}

// SeekData is playback.seek's data payload.
type SeekData struct {
	PositionMs int64 `json:"positionMs"`
}

// SyncStateData is playback.syncState's data payload, the composite used
// on host reconnect to re-establish authoritative position in one frame.
type SyncStateData struct {
	TrackIndex *int  `json:"trackIndex,omitempty"`
	PositionMs int64 `json:"positionMs"`
	IsPlaying  bool  `json:"isPlaying"`
}

// AddTrackData is playlist.add's data payload.
type AddTrackData struct {
	TrackID    string `json:"trackId"`
	Title      string `json:"title,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// RemoveTrackData is playlist.remove's data payload.
type RemoveTrackData struct {
	TrackIndex int `json:"trackIndex"`
}

// MoveTrackData is playlist.move's data payload.
type MoveTrackData struct {
	FromIndex int `json:"fromIndex"`
	ToIndex   int `json:"toIndex"`
}

// QueueTrackData is one entry of playlist.sync_queue's track list.
// AddedBy is not in the distilled wire schema but is carried here so the
// full queue mirror can preserve per-track attribution (§4.1 resolution)
// instead of collapsing every entry to the syncing host.
type QueueTrackData struct {
	TrackID    string `json:"trackId"`
	Title      string `json:"title,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	AddedBy    string `json:"addedBy,omitempty"`
}

// SyncQueueData is playlist.sync_queue's data payload.
type SyncQueueData struct {
	Tracks []QueueTrackData `json:"tracks"`
}

// SettingsData is settings' data payload. AllowGuestsAddTracks maps onto
// Room's allow_guests_edit_queue flag.
type SettingsData struct {
	AllowGuestsAddTracks *bool `json:"allowGuestsAddTracks,omitempty"`
	AllowGuestsControl   *bool `json:"allowGuestsControl,omitempty"`
}
