// Package stream implements the four external feed adapters the engine
// consumes: a direct spot-exchange trade stream, a venue-side multiplex
// stream carrying both spot and oracle prices, an on-chain oracle RPC
// poller, and a limit-order-book subscriber. The three WebSocket adapters
// share the same reconnect-with-backoff discipline the teacher's
// internal/exchange/ws.go uses for its market and user WebSocket feeds; the
// RPC poller runs its own fixed-interval poll loop. Each is adapted here to
// its own wire format, grounded on original_source/src/data/*.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/mx-town/updown-engine/pkg/types"
)

// Stats tracks per-adapter observability: update/reconnect counters and
// the last observed price/timestamp, per spec.md §4.1's "Observability is
// limited to counters... and last-price/last-timestamp accessors."
type Stats struct {
	mu            sync.RWMutex
	updateCount   int64
	reconnectCount int64
	lastPrice     float64
	lastTimestamp time.Time
	firstUpdate   time.Time
	connected     bool
}

func (s *Stats) recordUpdate(price float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCount++
	s.lastPrice = price
	s.lastTimestamp = ts
	if s.firstUpdate.IsZero() {
		s.firstUpdate = ts
	}
}

func (s *Stats) recordReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectCount++
}

func (s *Stats) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

// IsConnected reports whether the adapter currently believes its
// connection is live.
func (s *Stats) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// LatestPrice returns the last price observed and its timestamp.
func (s *Stats) LatestPrice() (price float64, ts time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastTimestamp.IsZero() {
		return 0, time.Time{}, false
	}
	return s.lastPrice, s.lastTimestamp, true
}

// UpdateCount and ReconnectCount are the two observability counters
// spec.md §4.1 names explicitly.
func (s *Stats) UpdateCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updateCount
}

func (s *Stats) ReconnectCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectCount
}

// UpdatesPerSec mirrors the Python original's StreamStats.updates_per_sec:
// total updates over observed wall-clock duration, 0 if no duration has
// elapsed yet.
func (s *Stats) UpdatesPerSec() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.firstUpdate.IsZero() || s.lastTimestamp.Equal(s.firstUpdate) {
		return 0
	}
	dur := s.lastTimestamp.Sub(s.firstUpdate).Seconds()
	if dur <= 0 {
		return 0
	}
	return float64(s.updateCount) / dur
}

// runWithReconnect runs connect in a loop, applying the teacher's
// exponential-backoff-capped-at-30s policy between attempts, until ctx is
// cancelled. connect blocks until the connection drops or ctx is done.
func runWithReconnect(ctx context.Context, stats *Stats, initialBackoff, maxBackoff time.Duration, connect func(context.Context) error) {
	backoff := initialBackoff
	for {
		stats.setConnected(true)
		err := connect(ctx)
		stats.setConnected(false)

		if ctx.Err() != nil {
			return
		}
		_ = err

		stats.recordReconnect()
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// PriceCallback is invoked for every price observation an adapter produces.
type PriceCallback func(types.PriceUpdate)

// BookCallback is invoked for every book update an adapter produces.
type BookCallback func(types.OrderBookUpdate)
