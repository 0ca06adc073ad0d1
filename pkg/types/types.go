// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — price and book
// updates, synchronized snapshots, market context, probability-surface
// output, and the evaluator's signal record. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Direction and tiers
// ————————————————————————————————————————————————————————————————————————

// Direction is the tagged outcome a signal or model favors.
type Direction int

const (
	Neutral Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "Up"
	case Down:
		return "Down"
	default:
		return "Neutral"
	}
}

// SignalTier ranks the evaluator's detectors. Lower value = higher priority.
type SignalTier int

const (
	DutchBook SignalTier = 1
	LagArb    SignalTier = 2
	Momentum  SignalTier = 3
	FlashCrash SignalTier = 4
)

func (t SignalTier) String() string {
	switch t {
	case DutchBook:
		return "DutchBook"
	case LagArb:
		return "LagArb"
	case Momentum:
		return "Momentum"
	case FlashCrash:
		return "FlashCrash"
	default:
		return "Unknown"
	}
}

// ————————————————————————————————————————————————————————————————————————
// Price and book updates
// ————————————————————————————————————————————————————————————————————————

// PriceSource distinguishes the four feeds the synchronizer fans in.
type PriceSource int

const (
	DirectSpot PriceSource = iota
	VenueSpot
	VenueOracle
	ChainOracle
)

func (s PriceSource) String() string {
	switch s {
	case DirectSpot:
		return "direct_spot"
	case VenueSpot:
		return "venue_spot"
	case VenueOracle:
		return "venue_oracle"
	case ChainOracle:
		return "chain_oracle"
	default:
		return "unknown"
	}
}

// PriceUpdate is an immutable record emitted by a stream adapter.
type PriceUpdate struct {
	Source      PriceSource
	Symbol      string
	Price       float64
	TimestampMs int64
	Sequence    int64 // 0 when the source does not provide one
}

// Side is the resting side of a book level.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderBookUpdate is an immutable top-of-book record for one token.
type OrderBookUpdate struct {
	TokenID     string
	BestBid     float64
	AskPresent  bool
	BidPresent  bool
	BestAsk     float64
	BidSize     float64
	AskSize     float64
	TimestampMs int64
}

// MidPrice returns (bid+ask)/2, falling back to whichever side is present
// when the other is absent. ok is false when neither side is present.
func (o OrderBookUpdate) MidPrice() (mid float64, ok bool) {
	switch {
	case o.BidPresent && o.AskPresent:
		return (o.BestBid + o.BestAsk) / 2, true
	case o.BidPresent:
		return o.BestBid, true
	case o.AskPresent:
		return o.BestAsk, true
	default:
		return 0, false
	}
}

// Spread returns BestAsk - BestBid. ok is false unless both sides are present.
func (o OrderBookUpdate) Spread() (spread float64, ok bool) {
	if !o.BidPresent || !o.AskPresent {
		return 0, false
	}
	return o.BestAsk - o.BestBid, true
}

// ————————————————————————————————————————————————————————————————————————
// Synchronized snapshot
// ————————————————————————————————————————————————————————————————————————

// SynchronizedSnapshot is a per-instant aggregate produced by the synchronizer.
// Prices and Books are captured under the synchronizer's lock at publish time;
// downstream consumers treat the snapshot as an immutable point-in-time sample.
type SynchronizedSnapshot struct {
	TimestampMs int64
	Prices      map[PriceSource]PriceUpdate
	Books       map[string]OrderBookUpdate
}

// SpotPrice returns the best-available spot price, preferring direct-spot
// over venue-side spot. ok is false if neither slot is populated.
func (s SynchronizedSnapshot) SpotPrice() (PriceUpdate, bool) {
	if p, ok := s.Prices[DirectSpot]; ok {
		return p, true
	}
	if p, ok := s.Prices[VenueSpot]; ok {
		return p, true
	}
	return PriceUpdate{}, false
}

// OraclePrice returns the best-available oracle price, preferring venue-side
// oracle over the on-chain RPC poll. ok is false if neither slot is populated.
func (s SynchronizedSnapshot) OraclePrice() (PriceUpdate, bool) {
	if p, ok := s.Prices[VenueOracle]; ok {
		return p, true
	}
	if p, ok := s.Prices[ChainOracle]; ok {
		return p, true
	}
	return PriceUpdate{}, false
}

// LagMs returns spot_ts - oracle_ts using the same source preference as
// SpotPrice/OraclePrice. ok is false unless both slots are populated.
func (s SynchronizedSnapshot) LagMs() (lag int64, ok bool) {
	spot, spotOK := s.SpotPrice()
	oracle, oracleOK := s.OraclePrice()
	if !spotOK || !oracleOK {
		return 0, false
	}
	return spot.TimestampMs - oracle.TimestampMs, true
}

// DivergencePct returns the percentage divergence between spot and oracle
// price, relative to the oracle price. ok is false unless both are populated
// and the oracle price is non-zero.
func (s SynchronizedSnapshot) DivergencePct() (pct float64, ok bool) {
	spot, spotOK := s.SpotPrice()
	oracle, oracleOK := s.OraclePrice()
	if !spotOK || !oracleOK || oracle.Price == 0 {
		return 0, false
	}
	return (spot.Price - oracle.Price) / oracle.Price, true
}

// ————————————————————————————————————————————————————————————————————————
// Market context
// ————————————————————————————————————————————————————————————————————————

// MarketContext is a snapshot tied to one prediction market's paired tokens.
type MarketContext struct {
	Timestamp        time.Time
	MarketID         string
	UpAsk            float64
	DownAsk          float64
	UpBid            float64
	DownBid          float64
	TimeRemainingSec float64
	Session          string
}

// CombinedAsk is the sum of both legs' asks.
func (m MarketContext) CombinedAsk() float64 { return m.UpAsk + m.DownAsk }

// CombinedBid is the sum of both legs' bids.
func (m MarketContext) CombinedBid() float64 { return m.UpBid + m.DownBid }

// IsDutchBook reports whether the combined ask is below 1.0 — a risk-free
// arbitrage if both legs can be bought at their current ask.
func (m MarketContext) IsDutchBook() bool { return m.CombinedAsk() < 1.0 }

// ————————————————————————————————————————————————————————————————————————
// Probability surface output
// ————————————————————————————————————————————————————————————————————————

// ModelOutput is the direction-aware evaluation the probability surface and
// edge calculator produce for one market observation.
type ModelOutput struct {
	ProbUp          float64
	CiLower         float64
	CiUpper         float64
	Reliable        bool
	EdgeAfterFees   float64
	ConfidenceScore float64
	KellyFraction   float64
	Direction       Direction
	Deviation       float64
	VolRegime       string
}

// HasEdge reports whether the model output is both reliable and profitable
// after fees.
func (m ModelOutput) HasEdge() bool {
	return m.EdgeAfterFees > 0 && m.Reliable
}

// ————————————————————————————————————————————————————————————————————————
// Unified signal
// ————————————————————————————————————————————————————————————————————————

// UnifiedSignal is the evaluator's output record for one triggered tier.
type UnifiedSignal struct {
	Tier          SignalTier
	Direction     Direction
	Symbol        string
	MarketID      string
	Timestamp     time.Time
	Momentum      float64
	CandleOpen    float64
	SpotPrice     float64
	MoveFromOpen  float64
	Market        *MarketContext
	Model         *ModelOutput
	ExpectedEdge  float64
	Confidence    float64
	Metadata      map[string]string
}

// IsActionable reports whether this signal clears the minimum bar to act on.
func (u UnifiedSignal) IsActionable() bool {
	return u.Direction != Neutral && u.Confidence >= 0.4 && u.ExpectedEdge > 0
}

// Priority is the tier's numeric value; lower sorts first.
func (u UnifiedSignal) Priority() int { return int(u.Tier) }

// ————————————————————————————————————————————————————————————————————————
// Execution interface types
// ————————————————————————————————————————————————————————————————————————

// UserOrder is the order the engine submits through the execution interface.
// Price and Size use decimal.Decimal on the execution boundary; the position
// and risk managers keep their own cost and exposure figures in float64.
type UserOrder struct {
	TokenID string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// ExecutionResult is the outcome of one PlaceOrder call.
type ExecutionResult struct {
	Success      bool
	FilledSize   decimal.Decimal
	FilledPrice  decimal.Decimal
	ErrorMessage string
}

// ————————————————————————————————————————————————————————————————————————
// Engine events
// ————————————————————————————————————————————————————————————————————————

// EventKind enumerates the user-visible events the engine emits on its
// single event channel.
type EventKind string

const (
	EventSignalDetected EventKind = "signal-detected"
	EventPositionOpened EventKind = "position-opened"
	EventPositionClosed EventKind = "position-closed"
	EventEntryBlocked   EventKind = "entry-blocked"
	EventEntryFailed    EventKind = "entry-failed"
	EventPartialExit    EventKind = "partial-exit"
)

// Event is one structured record on the engine's event channel.
type Event struct {
	Kind      EventKind
	MarketID  string
	Timestamp time.Time
	Reason    string
	Data      map[string]string
}

// RoundTo rounds v to the given number of decimal places — a small shared
// helper used by formatting and tick-size rounding across packages.
func RoundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}
