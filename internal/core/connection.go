package core

import "time"

// Connection is the engine's view of a ClientHandle: an opaque
// per-connection endpoint the room never dials into directly, only sends
// to. Ownership of the underlying transport stays with the adapter that
// created it; the room only calls Send/Close/IsOpen.
type Connection interface {
	Send(data []byte) error
	Close()
	IsOpen() bool
}

// Clock abstracts wall-clock reads so tests can control playback position
// and timer firing without sleeping. New defaults to realClock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer the room's end-of-track scheduling
// needs.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }
