// Package health runs the two periodic tasks that keep rooms honest when
// their own transport-level disconnect notice never arrives: a liveness
// scan that detects a silent host and an inactivity sweeper that culls
// whatever the scan missed.
package health

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rebenew/musync/internal/core"
	"github.com/rebenew/musync/internal/domain"
)

// Registry is the subset of *registry.Registry the monitor needs. Kept
// as an interface so tests can substitute an in-memory fake.
type Registry interface {
	IterSnapshot() []core.Snapshot
	Get(id domain.RoomID) (*core.Room, bool)
	Delete(id domain.RoomID, caller domain.SenderID) bool
}

// Config carries the four durations from §6.3 the monitor is driven by.
type Config struct {
	HealthCheckInterval time.Duration
	CleanupInterval     time.Duration
	HostTimeout         time.Duration
	ReconnectionWindow  time.Duration
}

// Monitor runs the liveness scan and inactivity sweeper as two
// independent goroutines until Stop is called.
type Monitor struct {
	reg Registry
	cfg Config

	mu      sync.Mutex
	healthy map[domain.RoomID]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Monitor. Call Start to begin its background goroutines.
func New(reg Registry, cfg Config) *Monitor {
	return &Monitor{
		reg:     reg,
		cfg:     cfg,
		healthy: make(map[domain.RoomID]bool),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the liveness scan and the sweeper.
func (m *Monitor) Start() {
	m.wg.Add(2)
	go m.runLoop(m.cfg.HealthCheckInterval, m.scanOnce)
	go m.runLoop(m.cfg.CleanupInterval, m.sweepOnce)
}

// Stop halts both goroutines and waits for them to return.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) runLoop(interval time.Duration, tick func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tick()
		case <-m.stopCh:
			return
		}
	}
}

// scanOnce is the liveness scan: edge-deduplicated healthy/unhealthy
// transitions, plus the room_expired delete for rooms that have sat in
// HOST_DISCONNECTED past the reconnection window.
func (m *Monitor) scanOnce() {
	now := time.Now().UnixMilli()
	hostTimeoutMs := m.cfg.HostTimeout.Milliseconds()
	windowMs := m.cfg.ReconnectionWindow.Milliseconds()

	for _, snap := range m.reg.IterSnapshot() {
		hostIdleMs := now - snap.LastHostActivityAtMs

		switch {
		case hostIdleMs > hostTimeoutMs && snap.State != domain.HostDisconnected && snap.State != domain.Terminated:
			if m.markUnhealthy(snap.RoomID) {
				log.Warn().Str("roomId", string(snap.RoomID)).Msg("health scan: host silent past timeout")
			}
			if room, ok := m.reg.Get(snap.RoomID); ok {
				room.MarkHostTimedOut()
			}

		case snap.State == domain.HostDisconnected && now-snap.LastActivityAtMs > windowMs:
			if m.reg.Delete(snap.RoomID, core.HealthSystemPrincipal) {
				log.Info().Str("roomId", string(snap.RoomID)).Msg("health scan: room expired")
			}
			m.clear(snap.RoomID)

		default:
			if m.markHealthy(snap.RoomID) {
				log.Debug().Str("roomId", string(snap.RoomID)).Msg("health check passed")
			}
		}
	}
}

// sweepOnce is the belt-and-braces inactivity cull described in §4.3: any
// room whose host has been silent longer than the reconnection window
// gets deleted, regardless of what state it's nominally in.
func (m *Monitor) sweepOnce() {
	now := time.Now().UnixMilli()
	windowMs := m.cfg.ReconnectionWindow.Milliseconds()

	for _, snap := range m.reg.IterSnapshot() {
		if snap.State == domain.Terminated {
			continue
		}
		if now-snap.LastHostActivityAtMs > windowMs {
			if m.reg.Delete(snap.RoomID, core.HealthSystemPrincipal) {
				log.Info().Str("roomId", string(snap.RoomID)).Msg("inactivity sweep: room expired")
			}
			m.clear(snap.RoomID)
		}
	}
}

// markUnhealthy returns true exactly on the healthy->unhealthy edge (or
// first observation).
func (m *Monitor) markUnhealthy(id domain.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasHealthy, known := m.healthy[id]
	m.healthy[id] = false
	return !known || wasHealthy
}

// markHealthy returns true exactly on the unhealthy->healthy edge (or
// first observation).
func (m *Monitor) markHealthy(id domain.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasHealthy, known := m.healthy[id]
	m.healthy[id] = true
	return !known || !wasHealthy
}

func (m *Monitor) clear(id domain.RoomID) {
	m.mu.Lock()
	delete(m.healthy, id)
	m.mu.Unlock()
}
