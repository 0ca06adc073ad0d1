// Package edge implements the edge calculator: given probability-surface
// output and a market's ask prices, it derives direction, effective edge
// after fees, a confidence score, and a Kelly-sized fraction.
package edge

import (
	"math"

	"github.com/mx-town/updown-engine/internal/surface"
	"github.com/mx-town/updown-engine/pkg/types"
)

// Config tunes the calculator's tradeability gate.
type Config struct {
	FeeRate            float64
	MinEdgeThreshold   float64
	MinConfidenceScore float64
	RequireReliable    bool
}

// Calculator evaluates market edge against a frozen probability surface.
type Calculator struct {
	surface *surface.Surface
	cfg     Config
}

// New constructs a Calculator bound to a loaded, read-only surface.
func New(s *surface.Surface, cfg Config) *Calculator {
	return &Calculator{surface: s, cfg: cfg}
}

// Opportunity is the full edge-calculation output for one market observation.
type Opportunity struct {
	types.ModelOutput
	IsTradeable  bool
	RejectReason string
}

// Evaluate implements §4.4's algorithm in order.
func (c *Calculator) Evaluate(deviationPct, timeRemainingSec, upAsk, downAsk float64, volRegime string) Opportunity {
	bucket := c.surface.LookupBucket(deviationPct, timeRemainingSec, volRegime, "all")
	winRate, ciLower, ciUpper, reliable := bucket.WinRate, bucket.CILower, bucket.CIUpper, bucket.Reliable()

	total := upAsk + downAsk
	var impliedProbUp float64
	if total > 0 {
		impliedProbUp = upAsk / total
	}

	edgeUp := winRate - impliedProbUp
	edgeDown := (1 - winRate) - (1 - impliedProbUp)

	direction := types.Neutral
	switch {
	case edgeUp > 0 && math.Abs(edgeUp) >= math.Abs(edgeDown):
		direction = types.Up
	case edgeDown > 0:
		direction = types.Down
	}

	var conservativeEdge float64
	var marketPrice float64
	switch direction {
	case types.Up:
		conservativeEdge = ciLower - impliedProbUp
		marketPrice = upAsk
	case types.Down:
		conservativeEdge = (1 - ciUpper) - (1 - impliedProbUp)
		marketPrice = downAsk
	}

	feeDrag := 2 * c.cfg.FeeRate
	effectiveEdge := conservativeEdge - feeDrag

	ciWidth := ciUpper - ciLower
	sampleScore := 1 - math.Exp(-float64(bucket.SampleSize)/30.0)
	confidenceScore := 0.6*sampleScore + 0.4*math.Max(0, 1-ciWidth)

	var kelly float64
	if direction != types.Neutral && effectiveEdge > 0 && marketPrice > 0 {
		b := (1 - marketPrice) * (1 - c.cfg.FeeRate) / marketPrice
		winProb := winRate
		if direction == types.Down {
			winProb = 1 - winRate
		}
		kelly = calculateKelly(winProb, b)
	}

	out := types.ModelOutput{
		ProbUp:          winRate,
		CiLower:         ciLower,
		CiUpper:         ciUpper,
		Reliable:        reliable,
		EdgeAfterFees:   effectiveEdge,
		ConfidenceScore: confidenceScore,
		KellyFraction:   kelly,
		Direction:       direction,
		Deviation:       deviationPct,
		VolRegime:       volRegime,
	}

	opp := Opportunity{ModelOutput: out}
	opp.IsTradeable, opp.RejectReason = c.tradeable(out)
	return opp
}

func (c *Calculator) tradeable(out types.ModelOutput) (bool, string) {
	switch {
	case out.Direction == types.Neutral:
		return false, "no directional edge"
	case out.EdgeAfterFees < c.cfg.MinEdgeThreshold:
		return false, "edge below minimum threshold"
	case out.ConfidenceScore < c.cfg.MinConfidenceScore:
		return false, "confidence below minimum"
	case c.cfg.RequireReliable && !out.Reliable:
		return false, "bucket not reliable"
	default:
		return true, ""
	}
}

// calculateKelly returns (winProb*b - (1-winProb)) / b, clamped to [0, 0.25],
// where b is the payout-to-stake ratio for a winning bet at marketPrice.
func calculateKelly(winProb, b float64) float64 {
	if b <= 0 {
		return 0
	}
	kelly := (winProb*b - (1 - winProb)) / b
	if kelly < 0 {
		return 0
	}
	if kelly > 0.25 {
		return 0.25
	}
	return kelly
}
