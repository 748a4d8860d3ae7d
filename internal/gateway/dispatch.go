package gateway

import (
	"encoding/json"
	"time"

	"github.com/rebenew/musync/internal/domain"
	"github.com/rebenew/musync/internal/reason"
	"github.com/rebenew/musync/internal/wire"
)

func (g *Gateway) handlePlayback(conn *Conn, fr wire.Frame) {
	state, _ := g.getSession(conn)
	room, ok := g.reg.Get(state.roomID)
	if !ok {
		g.bc.Ack(conn, false, reason.RoomNotFound, fr.CorrelationID)
		return
	}

	var ok2 bool
	var rsn reason.Reason

	switch fr.SubType {
	case "play":
		var d wire.PlayData
		if len(fr.Data) > 0 {
			if err := json.Unmarshal(fr.Data, &d); err != nil {
				g.bc.Ack(conn, false, reason.InvalidMessage, fr.CorrelationID)
				return
			}
		}
		ok2, rsn = room.Play(state.senderID, d.TrackIndex, d.PositionMs)

	case "pause":
		ok2, rsn = room.Pause(state.senderID)

	case "next":
		ok2, rsn = room.Next(state.senderID)

	case "previous":
		ok2, rsn = room.Previous(state.senderID)

	case "seek":
		if len(fr.Data) == 0 {
			g.bc.Ack(conn, false, reason.MissingParams, fr.CorrelationID)
			return
		}
		var d wire.SeekData
		if err := json.Unmarshal(fr.Data, &d); err != nil {
			g.bc.Ack(conn, false, reason.InvalidMessage, fr.CorrelationID)
			return
		}
		ok2, rsn = room.Seek(state.senderID, d.PositionMs)

	case "syncState":
		if len(fr.Data) == 0 {
			g.bc.Ack(conn, false, reason.MissingParams, fr.CorrelationID)
			return
		}
		var d wire.SyncStateData
		if err := json.Unmarshal(fr.Data, &d); err != nil {
			g.bc.Ack(conn, false, reason.InvalidMessage, fr.CorrelationID)
			return
		}
		if d.IsPlaying {
			pos := d.PositionMs
			ok2, rsn = room.Play(state.senderID, d.TrackIndex, &pos)
		} else {
			ok2, rsn = room.Pause(state.senderID)
			if ok2 && d.PositionMs > 0 {
				ok2, rsn = room.Seek(state.senderID, d.PositionMs)
			}
		}

	default:
		g.bc.Ack(conn, false, reason.UnknownSubtype, fr.CorrelationID)
		return
	}

	g.bc.Ack(conn, ok2, rsn, fr.CorrelationID)
}

func (g *Gateway) handlePlaylist(conn *Conn, fr wire.Frame) {
	state, _ := g.getSession(conn)
	room, ok := g.reg.Get(state.roomID)
	if !ok {
		g.bc.Ack(conn, false, reason.RoomNotFound, fr.CorrelationID)
		return
	}

	var ok2 bool
	var rsn reason.Reason

	switch fr.SubType {
	case "add":
		if len(fr.Data) == 0 {
			g.bc.Ack(conn, false, reason.MissingParams, fr.CorrelationID)
			return
		}
		var d wire.AddTrackData
		if err := json.Unmarshal(fr.Data, &d); err != nil {
			g.bc.Ack(conn, false, reason.InvalidMessage, fr.CorrelationID)
			return
		}
		if d.TrackID == "" {
			g.bc.Ack(conn, false, reason.MissingParams, fr.CorrelationID)
			return
		}
		track := domain.NewTrack(d.TrackID, d.Title, state.senderID, d.DurationMs, time.Now().UnixMilli())
		ok2, rsn = room.AddTrack(state.senderID, track)

	case "remove":
		if len(fr.Data) == 0 {
			g.bc.Ack(conn, false, reason.MissingParams, fr.CorrelationID)
			return
		}
		var d wire.RemoveTrackData
		if err := json.Unmarshal(fr.Data, &d); err != nil {
			g.bc.Ack(conn, false, reason.InvalidMessage, fr.CorrelationID)
			return
		}
		ok2, rsn = room.RemoveTrack(state.senderID, d.TrackIndex)

	case "move":
		if len(fr.Data) == 0 {
			g.bc.Ack(conn, false, reason.MissingParams, fr.CorrelationID)
			return
		}
		var d wire.MoveTrackData
		if err := json.Unmarshal(fr.Data, &d); err != nil {
			g.bc.Ack(conn, false, reason.InvalidMessage, fr.CorrelationID)
			return
		}
		ok2, rsn = room.MoveTrack(state.senderID, d.FromIndex, d.ToIndex)

	case "sync_queue":
		if len(fr.Data) == 0 {
			g.bc.Ack(conn, false, reason.MissingParams, fr.CorrelationID)
			return
		}
		var d wire.SyncQueueData
		if err := json.Unmarshal(fr.Data, &d); err != nil {
			g.bc.Ack(conn, false, reason.InvalidMessage, fr.CorrelationID)
			return
		}
		now := time.Now().UnixMilli()
		tracks := make([]domain.Track, 0, len(d.Tracks))
		for _, t := range d.Tracks {
			addedBy := state.senderID
			if t.AddedBy != "" {
				addedBy = domain.SenderID(t.AddedBy)
			}
			tracks = append(tracks, domain.NewTrack(t.TrackID, t.Title, addedBy, t.DurationMs, now))
		}
		ok2, rsn = room.ReplaceQueue(state.senderID, tracks)

	default:
		g.bc.Ack(conn, false, reason.UnknownSubtype, fr.CorrelationID)
		return
	}

	g.bc.Ack(conn, ok2, rsn, fr.CorrelationID)
}

func (g *Gateway) handleSettings(conn *Conn, fr wire.Frame) {
	state, _ := g.getSession(conn)
	room, ok := g.reg.Get(state.roomID)
	if !ok {
		g.bc.Ack(conn, false, reason.RoomNotFound, fr.CorrelationID)
		return
	}

	var d wire.SettingsData
	if len(fr.Data) > 0 {
		if err := json.Unmarshal(fr.Data, &d); err != nil {
			g.bc.Ack(conn, false, reason.InvalidMessage, fr.CorrelationID)
			return
		}
	}

	ok2, rsn := room.UpdateSettings(state.senderID, d.AllowGuestsControl, d.AllowGuestsAddTracks)
	g.bc.Ack(conn, ok2, rsn, fr.CorrelationID)
}
