// Package pricetracker maintains, per symbol, an interval-aligned candle
// plus a bounded rolling window of recent trades, and emits a
// DirectionSignal whenever the move from the candle open clears a
// threshold. Grounded on the teacher's per-source concurrency pattern
// (one mutator per symbol slot) generalized from a single-market book to
// a momentum tracker.
package pricetracker

import (
	"sync"
	"time"

	"github.com/mx-town/updown-engine/pkg/types"
)

// Trade is one observed execution on the underlying spot feed.
type Trade struct {
	Price     float64
	Size      float64
	IsBuy     bool
	Timestamp time.Time
}

// DirectionSignal is emitted whenever the move from the candle open clears
// the configured threshold.
type DirectionSignal struct {
	Symbol         string
	Direction      types.Direction
	MoveFromOpen   float64
	Momentum       float64
	Confidence     float64
	ExpectedWinner string
	CandleOpen     float64
	CurrentPrice   float64
	Timestamp      time.Time
}

// Config tunes the rolling window and trigger threshold.
type Config struct {
	WindowSeconds float64
	MoveThreshold float64
	IntervalLen   time.Duration
}

type candle struct {
	open          float64
	intervalStart time.Time
}

// Tracker is a single symbol's rolling window and candle state.
type Tracker struct {
	mu     sync.Mutex
	symbol string
	cfg    Config

	candle  candle
	window  []Trade
	current float64
}

// NewTracker constructs a tracker for one symbol, seeded with the candle
// open fetched at startup (see internal/execution's CandleOpenSource).
func NewTracker(symbol string, cfg Config, openPrice float64, intervalStart time.Time) *Tracker {
	return &Tracker{
		symbol: symbol,
		cfg:    cfg,
		candle: candle{open: openPrice, intervalStart: intervalStart},
	}
}

// AddTrade appends a trade, prunes entries older than the window, updates
// current price, and returns a DirectionSignal if the move from open
// clears the threshold. Boundary rollover: when the trade's timestamp has
// crossed into a new interval, it becomes the new candle's open.
func (t *Tracker) AddTrade(trade Trade) *DirectionSignal {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.IntervalLen > 0 && !trade.Timestamp.Before(t.candle.intervalStart.Add(t.cfg.IntervalLen)) {
		t.candle = candle{open: trade.Price, intervalStart: intervalBoundary(trade.Timestamp, t.cfg.IntervalLen)}
	}

	t.window = append(t.window, trade)
	t.current = trade.Price
	t.pruneLocked(trade.Timestamp)

	moveFromOpen := 0.0
	if t.candle.open != 0 {
		moveFromOpen = (t.current - t.candle.open) / t.candle.open
	}

	direction := types.Neutral
	switch {
	case moveFromOpen >= t.cfg.MoveThreshold:
		direction = types.Up
	case moveFromOpen <= -t.cfg.MoveThreshold:
		direction = types.Down
	}

	if absFloat(moveFromOpen) < t.cfg.MoveThreshold {
		return nil
	}

	momentum := t.momentumLocked()
	confidence := t.confidenceLocked(direction)
	winner := "UP"
	if direction == types.Down {
		winner = "DOWN"
	}

	return &DirectionSignal{
		Symbol:         t.symbol,
		Direction:      direction,
		MoveFromOpen:   moveFromOpen,
		Momentum:       momentum,
		Confidence:     confidence,
		ExpectedWinner: winner,
		CandleOpen:     t.candle.open,
		CurrentPrice:   t.current,
		Timestamp:      trade.Timestamp,
	}
}

func intervalBoundary(ts time.Time, interval time.Duration) time.Time {
	return ts.Truncate(interval)
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Duration(t.cfg.WindowSeconds * float64(time.Second)))
	i := 0
	for ; i < len(t.window); i++ {
		if !t.window[i].Timestamp.Before(cutoff) {
			break
		}
	}
	t.window = t.window[i:]
}

// momentumLocked is (end - start) / start over the current window.
func (t *Tracker) momentumLocked() float64 {
	if len(t.window) == 0 {
		return 0
	}
	start := t.window[0].Price
	end := t.window[len(t.window)-1].Price
	if start == 0 {
		return 0
	}
	return (end - start) / start
}

// confidenceLocked is the buy- or sell-volume fraction inside the window,
// aligned to direction; Neutral direction or no volume falls back to 0.5.
func (t *Tracker) confidenceLocked(direction types.Direction) float64 {
	if direction == types.Neutral {
		return 0.5
	}

	var buyVol, sellVol float64
	for _, tr := range t.window {
		if tr.IsBuy {
			buyVol += tr.Size
		} else {
			sellVol += tr.Size
		}
	}
	total := buyVol + sellVol
	if total == 0 {
		return 0.5
	}
	if direction == types.Up {
		return buyVol / total
	}
	return sellVol / total
}

// CurrentPrice returns the last observed trade price.
func (t *Tracker) CurrentPrice() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// CandleOpen returns the current interval's open price.
func (t *Tracker) CandleOpen() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.candle.open
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
