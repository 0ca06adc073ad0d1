// Package synchronizer is the fan-in point for all price-source and
// book-update producers, and the sole producer of
// types.SynchronizedSnapshot. Grounded on the teacher's internal/market
// book aggregation (latest-per-key map under a mutex) generalized to a
// multi-source, timer-driven publisher.
package synchronizer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mx-town/updown-engine/pkg/types"
)

// Config tunes the publisher cadence and ring buffer size.
type Config struct {
	SnapshotInterval time.Duration
	RingBufferSize   int
	MaxStale         time.Duration
}

// DefaultConfig matches the reference cadence and ring sizing.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval: 100 * time.Millisecond,
		RingBufferSize:   10000,
		MaxStale:         5 * time.Second,
	}
}

// LagStats summarizes lag_binance_to_chainlink_ms across the ring.
// P95/P99 are nil until the ring holds enough samples (20 / 100
// respectively) to make the percentile meaningful.
type LagStats struct {
	Count int
	Min   int64
	Max   int64
	P50   int64
	P95   *int64
	P99   *int64
}

// Synchronizer fans in price updates and book updates from many
// producers and publishes aligned snapshots on its own timer.
type Synchronizer struct {
	cfg Config

	mu            sync.Mutex
	latestPrices  map[types.PriceSource]types.PriceUpdate
	books         map[string]types.OrderBookUpdate
	ring          []types.SynchronizedSnapshot
	ringHead      int
	ringFull      bool

	onSnapshot func(types.SynchronizedSnapshot)

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a synchronizer. onSnapshot, if non-nil, is invoked
// synchronously from the publisher goroutine on every tick.
func New(cfg Config, onSnapshot func(types.SynchronizedSnapshot)) *Synchronizer {
	return &Synchronizer{
		cfg:          cfg,
		latestPrices: make(map[types.PriceSource]types.PriceUpdate),
		books:        make(map[string]types.OrderBookUpdate),
		ring:         make([]types.SynchronizedSnapshot, cfg.RingBufferSize),
		onSnapshot:   onSnapshot,
	}
}

// OnPriceUpdate records the latest update for its source. Safe for
// concurrent use by many producer goroutines.
func (s *Synchronizer) OnPriceUpdate(u types.PriceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestPrices[u.Source] = u
}

// OnBookUpdate records the latest book snapshot for a token.
func (s *Synchronizer) OnBookUpdate(u types.OrderBookUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[u.TokenID] = u
}

// Start launches the single-threaded publisher goroutine. Calling Start
// twice without an intervening Stop is a no-op.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.publishLoop(runCtx)
}

// Stop halts only the publisher; any in-flight onSnapshot callback
// completes before Stop returns.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Synchronizer) publishLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			snap := s.captureSnapshot(tick)
			s.pushRing(snap)
			if s.onSnapshot != nil {
				s.onSnapshot(snap)
			}
		}
	}
}

func (s *Synchronizer) captureSnapshot(now time.Time) types.SynchronizedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := types.SynchronizedSnapshot{
		TimestampMs: now.UnixMilli(),
		Prices:      make(map[types.PriceSource]types.PriceUpdate, len(s.latestPrices)),
		Books:       make(map[string]types.OrderBookUpdate, len(s.books)),
	}
	for source, u := range s.latestPrices {
		snap.Prices[source] = u
	}
	for token, b := range s.books {
		snap.Books[token] = b
	}
	return snap
}

func (s *Synchronizer) pushRing(snap types.SynchronizedSnapshot) {
	if len(s.ring) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.ringHead] = snap
	s.ringHead = (s.ringHead + 1) % len(s.ring)
	if s.ringHead == 0 {
		s.ringFull = true
	}
}

// Snapshots returns all snapshots currently held in the ring, oldest
// first.
func (s *Synchronizer) Snapshots() []types.SynchronizedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ringFull {
		out := make([]types.SynchronizedSnapshot, s.ringHead)
		copy(out, s.ring[:s.ringHead])
		return out
	}
	out := make([]types.SynchronizedSnapshot, len(s.ring))
	copy(out, s.ring[s.ringHead:])
	copy(out[len(s.ring)-s.ringHead:], s.ring[:s.ringHead])
	return out
}

// LatestSnapshot returns the most recently published snapshot, if any.
func (s *Synchronizer) LatestSnapshot() (types.SynchronizedSnapshot, bool) {
	snaps := s.Snapshots()
	if len(snaps) == 0 {
		return types.SynchronizedSnapshot{}, false
	}
	return snaps[len(snaps)-1], true
}

// LagStats computes p50/p95/p99/min/max over lag_ms across the ring's
// snapshots that have both spot and oracle populated. P95 requires at
// least 20 samples and p99 at least 100; below that they are nil.
func (s *Synchronizer) LagStats() LagStats {
	snaps := s.Snapshots()

	lags := make([]int64, 0, len(snaps))
	for _, snap := range snaps {
		if lag, ok := snap.LagMs(); ok {
			lags = append(lags, lag)
		}
	}
	if len(lags) == 0 {
		return LagStats{}
	}
	sort.Slice(lags, func(i, j int) bool { return lags[i] < lags[j] })

	n := len(lags)
	stats := LagStats{
		Count: n,
		Min:   lags[0],
		Max:   lags[n-1],
		P50:   lags[percentileIndex(n, 0.50)],
	}
	if n >= 20 {
		v := lags[percentileIndex(n, 0.95)]
		stats.P95 = &v
	}
	if n >= 100 {
		v := lags[percentileIndex(n, 0.99)]
		stats.P99 = &v
	}
	return stats
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return idx
}
