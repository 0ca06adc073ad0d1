// Package signal implements the tiered signal evaluator: Dutch-book
// arbitrage, lag arbitrage, momentum, and flash-crash detection. Evaluate
// is a pure function of its inputs — same inputs always produce the same
// signal list in the same order, which is what lets the engine call it
// concurrently and what makes it straightforward to test.
package signal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mx-town/updown-engine/pkg/types"
)

// Config tunes the four tiers' preconditions and thresholds. Field names
// mirror spec §4.5 exactly.
type Config struct {
	DutchBookThreshold        float64
	MomentumTriggerThreshold  float64
	MaxCombinedPrice          float64
	MomentumMinEdge           float64
	MomentumMinConfidence     float64
	MinTimeRemainingSec       float64
	FlashCrashThreshold       float64
	FlashCrashReversionTarget float64
}

// DefaultConfig matches the defaults named throughout spec §4.5.
func DefaultConfig() Config {
	return Config{
		DutchBookThreshold:        0.99,
		MomentumTriggerThreshold:  0.001,
		MaxCombinedPrice:          0.995,
		MomentumMinEdge:           0.03,
		MomentumMinConfidence:     0.5,
		MinTimeRemainingSec:       300,
		FlashCrashThreshold:       0.05,
		FlashCrashReversionTarget: 0.5,
	}
}

// Evaluator is stateless and reentrant; the same instance may be invoked
// concurrently for different markets.
type Evaluator struct {
	cfg Config
}

// New constructs an Evaluator.
func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Input bundles everything one Evaluate call needs: the current momentum
// and deviation readings, the spot price and candle open they were derived
// from, the market's paired-token quote, an optional model output, time
// remaining to resolution, and the symbol/market identifiers to stamp
// onto emitted signals.
type Input struct {
	Symbol           string
	MarketID         string
	Momentum         float64
	DeviationPct     float64
	SpotPrice        float64
	CandleOpen       float64
	Market           types.MarketContext
	Model            *types.ModelOutput
	TimeRemainingSec float64
	Now              time.Time
}

// Evaluate runs all four tiers and returns every triggered signal, stable
// sorted by tier priority (ties retain construction order, i.e. the order
// the tiers are checked in below).
func (e *Evaluator) Evaluate(in Input) []types.UnifiedSignal {
	var out []types.UnifiedSignal

	if s := e.evalDutchBook(in); s != nil {
		out = append(out, *s)
	}
	if s := e.evalLagArb(in); s != nil {
		out = append(out, *s)
	}
	if s := e.evalMomentum(in); s != nil {
		out = append(out, *s)
	}
	if s := e.evalFlashCrash(in); s != nil {
		out = append(out, *s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

// evalDutchBook is Tier 1. Precondition: combined ask below threshold.
// Direction is the cheaper side, tie -> Up. Momentum is not examined.
func (e *Evaluator) evalDutchBook(in Input) *types.UnifiedSignal {
	m := in.Market
	if m.CombinedAsk() >= e.cfg.DutchBookThreshold {
		return nil
	}

	direction := types.Up
	if m.DownAsk < m.UpAsk {
		direction = types.Down
	}

	profit := 1.0 - m.CombinedAsk()
	market := m
	return &types.UnifiedSignal{
		Tier:         types.DutchBook,
		Direction:    direction,
		Symbol:       in.Symbol,
		MarketID:     in.MarketID,
		Timestamp:    in.Now,
		Momentum:     in.Momentum,
		CandleOpen:   in.CandleOpen,
		SpotPrice:    in.SpotPrice,
		MoveFromOpen: moveFromOpen(in.SpotPrice, in.CandleOpen),
		Market:       &market,
		ExpectedEdge: profit,
		Confidence:   1.0,
		Metadata:     map[string]string{"combined_ask": fmt.Sprintf("%.6f", m.CombinedAsk())},
	}
}

// evalLagArb is Tier 2. Precondition: |momentum| clears the trigger AND
// combined ask stays below the max-combined-price cap.
func (e *Evaluator) evalLagArb(in Input) *types.UnifiedSignal {
	if math.Abs(in.Momentum) < e.cfg.MomentumTriggerThreshold {
		return nil
	}
	if in.Market.CombinedAsk() >= e.cfg.MaxCombinedPrice {
		return nil
	}

	direction := types.Down
	if in.Momentum > 0 {
		direction = types.Up
	}

	var expectedEdge, confidence float64
	if in.Model != nil && in.Model.HasEdge() {
		expectedEdge = in.Model.EdgeAfterFees
		confidence = in.Model.ConfidenceScore
	} else {
		expectedEdge = 2.0 * math.Abs(in.Momentum)
		confidence = 0.7
	}

	if expectedEdge < e.cfg.MomentumMinEdge {
		return nil
	}

	market := in.Market
	return &types.UnifiedSignal{
		Tier:         types.LagArb,
		Direction:    direction,
		Symbol:       in.Symbol,
		MarketID:     in.MarketID,
		Timestamp:    in.Now,
		Momentum:     in.Momentum,
		CandleOpen:   in.CandleOpen,
		SpotPrice:    in.SpotPrice,
		MoveFromOpen: moveFromOpen(in.SpotPrice, in.CandleOpen),
		Market:       &market,
		Model:        in.Model,
		ExpectedEdge: expectedEdge,
		Confidence:   confidence,
	}
}

// evalMomentum is Tier 3. Precondition: a model output is present, has
// edge, clears the minimum edge and confidence, and enough time remains.
func (e *Evaluator) evalMomentum(in Input) *types.UnifiedSignal {
	if in.Model == nil || !in.Model.HasEdge() {
		return nil
	}
	if in.Model.EdgeAfterFees < e.cfg.MomentumMinEdge {
		return nil
	}
	if in.Model.ConfidenceScore < e.cfg.MomentumMinConfidence {
		return nil
	}
	if in.TimeRemainingSec < e.cfg.MinTimeRemainingSec {
		return nil
	}

	market := in.Market
	model := *in.Model
	return &types.UnifiedSignal{
		Tier:         types.Momentum,
		Direction:    in.Model.Direction,
		Symbol:       in.Symbol,
		MarketID:     in.MarketID,
		Timestamp:    in.Now,
		Momentum:     in.Momentum,
		CandleOpen:   in.CandleOpen,
		SpotPrice:    in.SpotPrice,
		MoveFromOpen: moveFromOpen(in.SpotPrice, in.CandleOpen),
		Market:       &market,
		Model:        &model,
		ExpectedEdge: in.Model.EdgeAfterFees,
		Confidence:   in.Model.ConfidenceScore,
	}
}

// evalFlashCrash is Tier 4. Precondition: |deviation| strictly exceeds the
// threshold. Contrarian: positive deviation -> Down, negative -> Up. No
// model required.
func (e *Evaluator) evalFlashCrash(in Input) *types.UnifiedSignal {
	if math.Abs(in.DeviationPct) <= e.cfg.FlashCrashThreshold {
		return nil
	}

	direction := types.Up
	if in.DeviationPct > 0 {
		direction = types.Down
	}

	expectedEdge := math.Abs(in.DeviationPct) * e.cfg.FlashCrashReversionTarget

	market := in.Market
	return &types.UnifiedSignal{
		Tier:         types.FlashCrash,
		Direction:    direction,
		Symbol:       in.Symbol,
		MarketID:     in.MarketID,
		Timestamp:    in.Now,
		Momentum:     in.Momentum,
		CandleOpen:   in.CandleOpen,
		SpotPrice:    in.SpotPrice,
		MoveFromOpen: moveFromOpen(in.SpotPrice, in.CandleOpen),
		Market:       &market,
		ExpectedEdge: expectedEdge,
		Confidence:   0.4,
	}
}

func moveFromOpen(spot, candleOpen float64) float64 {
	if candleOpen == 0 {
		return 0
	}
	return (spot - candleOpen) / candleOpen
}
