package domain

// Track is a reference to an externally playable unit. The engine never
// fetches or decodes it; TrackID is opaque outside the engine.
type Track struct {
	TrackID    string   `json:"trackId"`
	Title      string   `json:"title"`
	AddedBy    SenderID `json:"addedBy"`
	AddedAtMs  int64    `json:"addedAt"`
	DurationMs int64    `json:"durationMs"`
}

// NewTrack fills in server-assigned fields and the "Unknown Track" default
// title, mirroring the original service's TrackEntry construction.
func NewTrack(trackID, title string, addedBy SenderID, durationMs int64, addedAtMs int64) Track {
	if title == "" {
		title = "Unknown Track"
	}
	if durationMs < 0 {
		durationMs = 0
	}
	return Track{
		TrackID:    trackID,
		Title:      title,
		AddedBy:    addedBy,
		AddedAtMs:  addedAtMs,
		DurationMs: durationMs,
	}
}
