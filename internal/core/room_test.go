package core

import (
	"sync"
	"testing"
	"time"

	"github.com/rebenew/musync/internal/domain"
	"github.com/rebenew/musync/internal/reason"
)

// fakeConn is a core.Connection test double recording everything sent to
// it, in the style of chilledoj-sockt's MockSocket.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosedConn
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

var errClosedConn = &connClosedErr{}

type connClosedErr struct{}

func (*connClosedErr) Error() string { return "fakeConn: closed" }

// fakeSink is a core.EventSink recording every published event.
type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSink) Publish(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *fakeSink) last() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return Event{}, false
	}
	return s.events[len(s.events)-1], true
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// fakeExpirer is a core.Expirer recording every request.
type fakeExpirer struct {
	mu       sync.Mutex
	requests []domain.RoomID
}

func (e *fakeExpirer) RequestExpire(id domain.RoomID) {
	e.mu.Lock()
	e.requests = append(e.requests, id)
	e.mu.Unlock()
}

func (e *fakeExpirer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

// fakeTimerJob is one scheduled AfterFunc call a test can fire by hand
// instead of sleeping.
type fakeTimerJob struct {
	f       func()
	stopped bool
	fired   bool
}

type fakeTimer struct{ job *fakeTimerJob }

func (t *fakeTimer) Stop() bool {
	if t.job.fired {
		return false
	}
	t.job.stopped = true
	return true
}

// fakeClock is a core.Clock whose Now() only advances when told to, and
// whose AfterFunc jobs only fire when told to — deterministic control
// over playback-position math and end-of-track timing.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimerJob
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	job := &fakeTimerJob{f: f}
	c.timers = append(c.timers, job)
	c.mu.Unlock()
	return &fakeTimer{job: job}
}

// fireLatest runs the most recently scheduled, still-live timer job — the
// end-of-track timer is always the latest one armed by a playback op.
func (c *fakeClock) fireLatest() bool {
	c.mu.Lock()
	var job *fakeTimerJob
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped && !c.timers[i].fired {
			job = c.timers[i]
			break
		}
	}
	c.mu.Unlock()
	if job == nil {
		return false
	}
	job.fired = true
	job.f()
	return true
}

func newTestRoom(clock Clock, sink EventSink, expirer Expirer) *Room {
	cfg := Config{HostTimeout: 10 * time.Minute, ReconnectionWindow: 5 * time.Minute}
	return newRoom("room-1", "host-1", cfg, clock, sink, expirer)
}

func TestAttachMemberHostBecomesActive(t *testing.T) {
	sink := &fakeSink{}
	r := newTestRoom(newFakeClock(), sink, &fakeExpirer{})
	defer r.Shutdown()

	ok, rsn := r.AttachMember("host-1", &fakeConn{}, true)
	if !ok || rsn != reason.Authenticated {
		t.Fatalf("AttachMember(host) = %v, %v", ok, rsn)
	}

	snap := r.Snapshot()
	if snap.State != domain.Active {
		t.Fatalf("state = %v, want ACTIVE", snap.State)
	}

	ev, ok := sink.last()
	if !ok || ev.SubType != "host_connected" {
		t.Fatalf("last event = %+v, want host_connected", ev)
	}
}

func TestAttachMemberGuestRejectedWhenHostGoneTooLong(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	r := newTestRoom(clock, sink, &fakeExpirer{})
	defer r.Shutdown()

	hostConn := &fakeConn{}
	if ok, _ := r.AttachMember("host-1", hostConn, true); !ok {
		t.Fatal("host attach failed")
	}
	if _, rsn := r.DetachMember(hostConn); rsn != "" {
		t.Fatalf("DetachMember = %v", rsn)
	}

	clock.Advance(11 * time.Minute) // past the 10-minute HostTimeout

	ok, rsn := r.AttachMember("guest-1", &fakeConn{}, false)
	if ok || rsn != reason.JoinFailed {
		t.Fatalf("AttachMember(guest) = %v, %v, want false, join_failed", ok, rsn)
	}
}

func TestAttachMemberGuestAllowedWithinGrace(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	r := newTestRoom(clock, sink, &fakeExpirer{})
	defer r.Shutdown()

	hostConn := &fakeConn{}
	r.AttachMember("host-1", hostConn, true)
	r.DetachMember(hostConn)

	clock.Advance(1 * time.Minute)

	ok, _ := r.AttachMember("guest-1", &fakeConn{}, false)
	if !ok {
		t.Fatal("guest should be allowed to join while within host grace period")
	}
}

func TestPlayPauseResumesFromStoredPosition(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "Song", "host-1", 180_000, 0))

	if ok, rsn := r.Play("host-1", nil, nil); !ok {
		t.Fatalf("Play failed: %v", rsn)
	}

	clock.Advance(30 * time.Second)
	if ok, rsn := r.Pause("host-1"); !ok {
		t.Fatalf("Pause failed: %v", rsn)
	}

	snap := r.Snapshot()
	if snap.State != domain.Paused {
		t.Fatalf("state = %v, want PAUSED", snap.State)
	}
	if snap.PositionMs != 30_000 {
		t.Fatalf("position = %d, want 30000", snap.PositionMs)
	}

	// Position must not drift further while paused.
	clock.Advance(1 * time.Minute)
	snap = r.Snapshot()
	if snap.PositionMs != 30_000 {
		t.Fatalf("position after idle pause = %d, want unchanged 30000", snap.PositionMs)
	}

	if ok, rsn := r.Play("host-1", nil, nil); !ok {
		t.Fatalf("resume failed: %v", rsn)
	}
	snap = r.Snapshot()
	if snap.State != domain.Active || snap.PositionMs != 30_000 {
		t.Fatalf("resumed snapshot = %+v, want ACTIVE at 30000", snap)
	}
}

func TestPauseIsIdempotentWhenAlreadyPaused(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "Song", "host-1", 180_000, 0))

	r.Play("host-1", nil, nil)
	clock.Advance(30 * time.Second)
	if ok, rsn := r.Pause("host-1"); !ok {
		t.Fatalf("first Pause failed: %v", rsn)
	}

	// A second pause, arriving much later, must not recompute the frozen
	// position from the stale play start time.
	clock.Advance(1 * time.Minute)
	if ok, rsn := r.Pause("host-1"); !ok {
		t.Fatalf("second Pause failed: %v", rsn)
	}

	snap := r.Snapshot()
	if snap.PositionMs != 30_000 {
		t.Fatalf("position after repeated pause = %d, want unchanged 30000", snap.PositionMs)
	}

	if ok, rsn := r.Play("host-1", nil, nil); !ok {
		t.Fatalf("resume failed: %v", rsn)
	}
	snap = r.Snapshot()
	if snap.PositionMs != 30_000 {
		t.Fatalf("resumed position = %d, want 30000 (pause; play(P); get_position == P)", snap.PositionMs)
	}
}

func TestNextAdvancesAndEndsPlaylist(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	r := newTestRoom(clock, sink, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 60_000, 0))
	r.AddTrack("host-1", domain.NewTrack("t2", "Two", "host-1", 60_000, 0))
	r.Play("host-1", nil, nil)

	if ok, rsn := r.Next("host-1"); !ok {
		t.Fatalf("Next (to t2) failed: %v", rsn)
	}
	if snap := r.Snapshot(); snap.NowPlayingIndex != 1 {
		t.Fatalf("now playing index = %d, want 1", snap.NowPlayingIndex)
	}

	ok, rsn := r.Next("host-1")
	if ok {
		t.Fatal("Next past the end of the queue should report ok=false")
	}
	if rsn != reason.ActionFailed {
		t.Fatalf("reason = %v, want action_failed", rsn)
	}

	ev, found := sink.last()
	if !found || ev.SubType != "playlist_ended" {
		t.Fatalf("last event = %+v, want playlist_ended broadcast despite ok=false", ev)
	}

	snap := r.Snapshot()
	if snap.NowPlayingIndex != -1 || snap.State != domain.Created {
		t.Fatalf("snapshot after playlist end = %+v", snap)
	}
}

func TestPreviousClampsAtZero(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 60_000, 0))
	r.Play("host-1", nil, nil)
	clock.Advance(10 * time.Second)

	if ok, rsn := r.Previous("host-1"); !ok {
		t.Fatalf("Previous at index 0 should succeed by restarting: %v", rsn)
	}
	snap := r.Snapshot()
	if snap.NowPlayingIndex != 0 || snap.PositionMs != 0 {
		t.Fatalf("snapshot = %+v, want index 0 restarted at position 0", snap)
	}
}

func TestSeekBounds(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 60_000, 0))
	r.Play("host-1", nil, nil)

	if ok, rsn := r.Seek("host-1", -1); ok || rsn != reason.ActionFailed {
		t.Fatalf("Seek(-1) = %v, %v, want rejected", ok, rsn)
	}
	if ok, rsn := r.Seek("host-1", 120_000); ok || rsn != reason.ActionFailed {
		t.Fatalf("Seek(past duration) = %v, %v, want rejected", ok, rsn)
	}
	if ok, rsn := r.Seek("host-1", 30_000); !ok {
		t.Fatalf("Seek(30000) failed: %v", rsn)
	}
	if snap := r.Snapshot(); snap.PositionMs != 30_000 {
		t.Fatalf("position after seek = %d, want 30000", snap.PositionMs)
	}
}

func TestCanControlPermission(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AttachMember("guest-1", &fakeConn{}, false)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 60_000, 0))

	no := false
	if ok, rsn := r.UpdateSettings("host-1", &no, nil); !ok {
		t.Fatalf("host UpdateSettings failed: %v", rsn)
	}

	if ok, rsn := r.Play("guest-1", nil, nil); ok || rsn != reason.NotAuthorized {
		t.Fatalf("guest Play after control disabled = %v, %v, want not_authorized", ok, rsn)
	}
	if ok, rsn := r.Play("host-1", nil, nil); !ok {
		t.Fatalf("host Play should still work: %v", rsn)
	}
}

func TestAddRemoveMoveTrack(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 0, 0))
	r.AddTrack("host-1", domain.NewTrack("t2", "Two", "host-1", 0, 0))
	r.AddTrack("host-1", domain.NewTrack("t3", "Three", "host-1", 0, 0))
	r.Play("host-1", intPtr(2), nil) // now playing "Three" at index 2

	if ok, rsn := r.MoveTrack("host-1", 0, 2); !ok {
		t.Fatalf("MoveTrack failed: %v", rsn)
	}
	snap := r.Snapshot()
	if snap.NowPlayingIndex != 1 {
		t.Fatalf("now playing index after move = %d, want 1 (track followed its identity)", snap.NowPlayingIndex)
	}
	if snap.Queue[snap.NowPlayingIndex].TrackID != "t3" {
		t.Fatalf("now playing track = %+v, want t3", snap.Queue[snap.NowPlayingIndex])
	}

	if ok, rsn := r.RemoveTrack("host-1", 0); !ok {
		t.Fatalf("RemoveTrack failed: %v", rsn)
	}
	snap = r.Snapshot()
	if len(snap.Queue) != 2 {
		t.Fatalf("queue length after remove = %d, want 2", len(snap.Queue))
	}
	if snap.NowPlayingIndex != 0 {
		t.Fatalf("now playing index after removing a preceding track = %d, want 0", snap.NowPlayingIndex)
	}
}

func TestRemoveNowPlayingTrackClearsPlayback(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 0, 0))
	r.Play("host-1", nil, nil)

	if ok, rsn := r.RemoveTrack("host-1", 0); !ok {
		t.Fatalf("RemoveTrack failed: %v", rsn)
	}
	snap := r.Snapshot()
	if snap.NowPlayingIndex != -1 || snap.State != domain.Created {
		t.Fatalf("snapshot after removing playing track = %+v", snap)
	}
}

func TestReplaceQueueHostOnly(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	yes := true
	r.AttachMember("host-1", &fakeConn{}, true)
	r.AttachMember("guest-1", &fakeConn{}, false)
	r.UpdateSettings("host-1", nil, &yes) // allow_guests_edit_queue = true

	tracks := []domain.Track{domain.NewTrack("t1", "One", "guest-1", 0, 0)}
	if ok, rsn := r.ReplaceQueue("guest-1", tracks); ok || rsn != reason.NotAuthorized {
		t.Fatalf("guest ReplaceQueue = %v, %v, want not_authorized even with edit-queue allowed", ok, rsn)
	}
	if ok, rsn := r.ReplaceQueue("host-1", tracks); !ok {
		t.Fatalf("host ReplaceQueue failed: %v", rsn)
	}
}

func TestDetachMemberHostSchedulesExpiration(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	expirer := &fakeExpirer{}
	r := newTestRoom(clock, sink, expirer)
	defer r.Shutdown()

	hostConn := &fakeConn{}
	r.AttachMember("host-1", hostConn, true)
	r.DetachMember(hostConn)

	snap := r.Snapshot()
	if snap.State != domain.HostDisconnected {
		t.Fatalf("state = %v, want HOST_DISCONNECTED", snap.State)
	}

	if !clock.fireLatest() {
		t.Fatal("expected a scheduled expiration timer")
	}
	if expirer.count() != 1 {
		t.Fatalf("expirer.count() = %d, want 1", expirer.count())
	}
}

func TestReconnectInvalidatesPendingExpiration(t *testing.T) {
	clock := newFakeClock()
	expirer := &fakeExpirer{}
	r := newTestRoom(clock, &fakeSink{}, expirer)
	defer r.Shutdown()

	hostConn := &fakeConn{}
	r.AttachMember("host-1", hostConn, true)
	r.DetachMember(hostConn)

	// Host reconnects before the reconnection window's timer fires.
	r.AttachMember("host-1", &fakeConn{}, true)

	if !clock.fireLatest() {
		t.Fatal("expected the stale expiration timer to still be schedulable")
	}
	if expirer.count() != 0 {
		t.Fatalf("expirer.count() = %d, want 0 (reconnect invalidated the pending check)", expirer.count())
	}
}

func TestEndOfTrackTimerAdvances(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	r := newTestRoom(clock, sink, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 1_000, 0))
	r.AddTrack("host-1", domain.NewTrack("t2", "Two", "host-1", 1_000, 0))
	r.Play("host-1", nil, nil)

	if !clock.fireLatest() {
		t.Fatal("expected the end-of-track timer to be armed")
	}

	snap := r.Snapshot()
	if snap.NowPlayingIndex != 1 {
		t.Fatalf("now playing index after timer fire = %d, want 1", snap.NowPlayingIndex)
	}
}

func TestCancelledTimerDoesNotFireLate(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	r.AttachMember("host-1", &fakeConn{}, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 1_000, 0))
	r.AddTrack("host-1", domain.NewTrack("t2", "Two", "host-1", 1_000, 0))
	r.Play("host-1", nil, nil)
	r.Pause("host-1") // cancels the end-of-track timer

	// Late fire of the now-cancelled timer (a fire racing its cancel):
	// fireLatest skips stopped jobs, so run the job by hand. It must be a
	// no-op.
	clock.timers[len(clock.timers)-1].f()

	snap := r.Snapshot()
	if snap.NowPlayingIndex != 0 || snap.State != domain.Paused {
		t.Fatalf("snapshot after late timer fire = %+v, want unchanged PAUSED at index 0", snap)
	}
}

func TestHostDisconnectCancelsEndOfTrackTimer(t *testing.T) {
	clock := newFakeClock()
	expirer := &fakeExpirer{}
	r := newTestRoom(clock, &fakeSink{}, expirer)
	defer r.Shutdown()

	hostConn := &fakeConn{}
	r.AttachMember("host-1", hostConn, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 1_000, 0))
	r.AddTrack("host-1", domain.NewTrack("t2", "Two", "host-1", 1_000, 0))
	r.Play("host-1", nil, nil)

	r.DetachMember(hostConn) // host drops mid-track; the end-of-track timer was armed

	// The only live timer left must be the reconnection-window expiry
	// check scheduled by transitionHostDisconnected, not a resurrected
	// end-of-track timer — firing it must not advance the queue.
	if !clock.fireLatest() {
		t.Fatal("expected the reconnection expiration timer to be live")
	}
	if expirer.count() != 1 {
		t.Fatalf("expirer.count() = %d, want 1 (expiry check fired, not the track timer)", expirer.count())
	}

	snap := r.Snapshot()
	if snap.State != domain.HostDisconnected || snap.NowPlayingIndex != 0 {
		t.Fatalf("snapshot = %+v, want unchanged HOST_DISCONNECTED at index 0 (no resurrection to ACTIVE)", snap)
	}
}

func TestHostReconnectRearmsEndOfTrackTimer(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})
	defer r.Shutdown()

	hostConn := &fakeConn{}
	r.AttachMember("host-1", hostConn, true)
	r.AddTrack("host-1", domain.NewTrack("t1", "One", "host-1", 1_000, 0))
	r.AddTrack("host-1", domain.NewTrack("t2", "Two", "host-1", 1_000, 0))
	r.Play("host-1", nil, nil)

	r.DetachMember(hostConn)
	r.AttachMember("host-1", &fakeConn{}, true) // reconnect rearms the end timer

	if !clock.fireLatest() {
		t.Fatal("expected the rearmed end-of-track timer to be live after reconnect")
	}

	snap := r.Snapshot()
	if snap.State != domain.Active || snap.NowPlayingIndex != 1 {
		t.Fatalf("snapshot after rearmed timer fire = %+v, want ACTIVE at index 1", snap)
	}
}

func TestTerminateIdempotentAndReturnsConnections(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(clock, &fakeSink{}, &fakeExpirer{})

	hostConn := &fakeConn{}
	guestConn := &fakeConn{}
	r.AttachMember("host-1", hostConn, true)
	r.AttachMember("guest-1", guestConn, false)

	conns := r.Terminate("system", "room_closed")
	if len(conns) != 2 {
		t.Fatalf("Terminate returned %d connections, want 2", len(conns))
	}

	// A second Terminate on an already-terminated room must be a no-op,
	// not a duplicate broadcast or panic.
	conns2 := r.Terminate("system", "room_closed")
	if len(conns2) != 0 {
		t.Fatalf("second Terminate returned %d connections, want 0", len(conns2))
	}
}

func intPtr(v int) *int { return &v }
