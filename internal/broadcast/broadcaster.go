// Package broadcast turns core.Event values into wire envelopes and fans
// them out to their recipients. It is the sole implementation of
// core.EventSink in this service.
package broadcast

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rebenew/musync/internal/core"
	"github.com/rebenew/musync/internal/reason"
)

// Broadcaster is stateless; it holds no room or connection bookkeeping of
// its own, only the serialization and fan-out logic.
type Broadcaster struct{}

// New builds a Broadcaster.
func New() *Broadcaster { return &Broadcaster{} }

// Publish implements core.EventSink. The envelope is marshaled once and
// the same bytes are handed to every recipient's connection.
func (b *Broadcaster) Publish(ev core.Event) {
	payload := make(map[string]any, len(ev.Data)+2)
	for k, v := range ev.Data {
		payload[k] = v
	}
	payload["roomId"] = string(ev.RoomID)
	payload["timestamp"] = time.Now().UnixMilli()

	envelope := map[string]any{"type": ev.Type, "data": payload}
	if ev.SubType != "" {
		envelope["subType"] = ev.SubType
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Str("roomId", string(ev.RoomID)).Str("type", ev.Type).Msg("broadcast: marshal failed")
		return
	}

	for _, rcpt := range ev.Recipients {
		if err := rcpt.Conn.Send(raw); err != nil {
			log.Warn().Err(err).Str("roomId", string(ev.RoomID)).Str("senderId", string(rcpt.SenderID)).Msg("broadcast: send failed")
		}
	}
}

// Ack unicasts a command result back to its originator, echoing the
// correlation id so the client can match request to response.
func (b *Broadcaster) Ack(conn core.Connection, success bool, rsn reason.Reason, correlationID string) {
	data := map[string]any{
		"success":       success,
		"reason":        string(rsn),
		"correlationId": correlationID,
		"timestamp":     time.Now().UnixMilli(),
	}
	b.send(conn, map[string]any{"type": "ack", "data": data})
}

// FullState unicasts the one-shot post-authentication snapshot to a
// newly joined member.
func (b *Broadcaster) FullState(conn core.Connection, snap core.Snapshot) {
	var nowPlaying any
	if track, ok := snap.CurrentTrack(); ok {
		nowPlaying = track
	}

	data := map[string]any{
		"room": map[string]any{
			"id":          string(snap.RoomID),
			"hostId":      string(snap.HostID),
			"state":       snap.State.String(),
			"memberCount": snap.MemberCount,
		},
		"playlist":        snap.Queue,
		"nowPlayingIndex": snap.NowPlayingIndex,
		"nowPlaying":      nowPlaying,
		"settings": map[string]any{
			"allowGuestsControl":   snap.AllowGuestsControl,
			"allowGuestsEditQueue": snap.AllowGuestsEditQueue,
		},
		"timestamp": time.Now().UnixMilli(),
	}
	b.send(conn, map[string]any{"type": "full_state", "data": data})
}

func (b *Broadcaster) send(conn core.Connection, envelope map[string]any) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Msg("broadcast: marshal failed")
		return
	}
	if err := conn.Send(raw); err != nil {
		log.Warn().Err(err).Msg("broadcast: unicast send failed")
	}
}
