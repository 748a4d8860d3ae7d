package gateway

import (
	"sync"
	"time"

	"github.com/rebenew/musync/internal/domain"
)

// RoomRateLimiter is a per-sender sliding-window limiter guarding the
// dispatch path from a misbehaving or runaway client.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.SenderID][]time.Time
	limit    int
	interval time.Duration
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[domain.SenderID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow reports whether sender may send another frame right now, and
// records the attempt if so.
func (rl *RoomRateLimiter) Allow(sender domain.SenderID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sender]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sender] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[sender] = fresh
	return true
}

// Forget drops a sender's history, called on disconnect so the map
// doesn't accumulate entries for connections that have gone away.
func (rl *RoomRateLimiter) Forget(sender domain.SenderID) {
	rl.mu.Lock()
	delete(rl.history, sender)
	rl.mu.Unlock()
}
