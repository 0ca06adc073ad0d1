// Package risk enforces circuit breakers in front of order entry:
// consecutive-loss pauses, a daily loss cap, and a total-exposure ceiling.
// State mutates under a single coarse-grained lock, matching the teacher's
// internal/risk manager — call latencies here are short enough that finer
// locking isn't justified.
package risk

import (
	"sync"
	"time"
)

// Config sets the circuit-breaker thresholds.
type Config struct {
	MaxConsecutiveLosses int
	CooldownAfterLoss    time.Duration
	MaxDailyLoss         float64
	MaxTotalExposure     float64
}

// State is the risk manager's externally observable snapshot.
type State struct {
	ConsecutiveLosses int
	DailyPnL          float64
	LastLossTime      time.Time
	IsPaused          bool
	PauseReason       string
	PauseUntil        time.Time
}

// Manager tracks trade outcomes and gates new entries.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	state State
}

// New constructs a risk manager with a fresh (unpaused) state.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// CanTrade reports whether entries are currently allowed. A pause
// automatically lifts on read once now >= pause_until.
func (m *Manager) CanTrade(now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearExpiredPauseLocked(now)
	if m.state.IsPaused {
		return false, m.state.PauseReason
	}
	return true, ""
}

// CanIncreaseExposure reports whether adding proposedSize to currentExposure
// would stay within the configured ceiling.
func (m *Manager) CanIncreaseExposure(currentExposure, proposedSize float64) bool {
	return currentExposure+proposedSize <= m.cfg.MaxTotalExposure
}

// RecordTradeResult updates daily P&L and the consecutive-loss counter
// after a position closes, pausing the manager if either circuit breaker
// trips.
func (m *Manager) RecordTradeResult(pnl float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.DailyPnL += pnl

	if pnl < 0 {
		m.state.ConsecutiveLosses++
		m.state.LastLossTime = now
		if m.state.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
			m.pauseLocked("consecutive loss limit reached", now.Add(m.cfg.CooldownAfterLoss))
		}
	} else {
		m.state.ConsecutiveLosses = 0
	}

	if m.state.DailyPnL <= -m.cfg.MaxDailyLoss {
		m.pauseLocked("daily loss limit reached", now.Add(24*time.Hour))
	}
}

// ResetDaily resets only the daily P&L accumulator (not consecutive
// losses), called externally at local midnight.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.DailyPnL = 0
}

// Snapshot returns the current state, with any expired pause cleared.
func (m *Manager) Snapshot(now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearExpiredPauseLocked(now)
	return m.state
}

func (m *Manager) pauseLocked(reason string, until time.Time) {
	m.state.IsPaused = true
	m.state.PauseReason = reason
	m.state.PauseUntil = until
}

func (m *Manager) clearExpiredPauseLocked(now time.Time) {
	if m.state.IsPaused && !now.Before(m.state.PauseUntil) {
		m.state.IsPaused = false
		m.state.PauseReason = ""
	}
}
