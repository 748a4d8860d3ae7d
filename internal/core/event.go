package core

import "github.com/rebenew/musync/internal/domain"

// Recipient pairs a member's sender id with the live connection the
// Broadcaster should send to. Room computes the recipient set itself,
// inside the single-writer section that produced the event, so the
// membership snapshot is always consistent with the mutation that caused
// it.
type Recipient struct {
	SenderID domain.SenderID
	Conn     Connection
}

// Event is an outbound broadcast produced by a successful command. The
// Broadcaster serializes Data into a wire envelope once and fans the same
// bytes out to every Recipient.
type Event struct {
	Type      string
	SubType   string
	RoomID    domain.RoomID
	Data      map[string]any
	Recipients []Recipient
}

// EventSink receives events emitted by a Room. The Broadcaster is the only
// production implementation; tests may substitute a channel-backed fake.
type EventSink interface {
	Publish(ev Event)
}
