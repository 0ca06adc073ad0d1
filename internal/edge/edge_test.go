package edge

import (
	"testing"

	"github.com/mx-town/updown-engine/internal/surface"
	"github.com/mx-town/updown-engine/pkg/types"
)

func testCalculator() *Calculator {
	s := surface.New(surface.DefaultConfig())
	s.Put(surface.Bucket{
		DevMin: 0.0, DevMax: 0.001, TimeRemaining: 600,
		VolRegime: "all", Session: "all",
		SampleSize: 200, WinCount: 130, WinRate: 0.65, CILower: 0.58, CIUpper: 0.71,
	})
	return New(s, Config{
		FeeRate:            0.03,
		MinEdgeThreshold:   0.05,
		MinConfidenceScore: 0.5,
		RequireReliable:    true,
	})
}

func TestEvaluateDirectionAndTradeability(t *testing.T) {
	t.Parallel()
	c := testCalculator()

	opp := c.Evaluate(0.0005, 600, 0.50, 0.49, "all")
	if opp.Direction != types.Up {
		t.Fatalf("direction = %v, want Up", opp.Direction)
	}
	if opp.KellyFraction < 0 || opp.KellyFraction > 0.25 {
		t.Errorf("kelly = %v, want in [0,0.25]", opp.KellyFraction)
	}
	if opp.ConfidenceScore < 0 || opp.ConfidenceScore > 1 {
		t.Errorf("confidence = %v, want in [0,1]", opp.ConfidenceScore)
	}
}

func TestEvaluateNeutralWhenNoEdge(t *testing.T) {
	t.Parallel()
	s := surface.New(surface.DefaultConfig())
	s.Put(surface.Bucket{
		DevMin: 0.0, DevMax: 0.001, TimeRemaining: 600,
		VolRegime: "all", Session: "all",
		SampleSize: 200, WinCount: 100, WinRate: 0.50, CILower: 0.43, CIUpper: 0.57,
	})
	c := New(s, Config{FeeRate: 0.03, MinEdgeThreshold: 0.05, MinConfidenceScore: 0.5, RequireReliable: true})

	// market already priced at fair value -> no raw edge either way
	opp := c.Evaluate(0.0005, 600, 0.50, 0.50, "all")
	if opp.Direction != types.Neutral {
		t.Errorf("direction = %v, want Neutral", opp.Direction)
	}
	if opp.IsTradeable {
		t.Errorf("expected not tradeable, got reason=%q", opp.RejectReason)
	}
}

func TestEvaluateRejectsUnreliableWhenRequired(t *testing.T) {
	t.Parallel()
	s := surface.New(surface.DefaultConfig())
	s.Put(surface.Bucket{
		DevMin: 0.0, DevMax: 0.001, TimeRemaining: 600,
		VolRegime: "all", Session: "all",
		SampleSize: 12, WinCount: 9, WinRate: 0.75, CILower: 0.45, CIUpper: 0.92,
	})
	c := New(s, Config{FeeRate: 0.03, MinEdgeThreshold: 0.01, MinConfidenceScore: 0.0, RequireReliable: true})

	// Cheap Up ask so the conservative edge clears the threshold and
	// reliability is the only failing check.
	opp := c.Evaluate(0.0005, 600, 0.30, 0.69, "all")
	if opp.IsTradeable {
		t.Errorf("expected not tradeable because bucket is unreliable (n=12 < 30)")
	}
	if opp.RejectReason != "bucket not reliable" {
		t.Errorf("reject reason = %q", opp.RejectReason)
	}
}

func TestCalculateKellyClampedToRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		winProb float64
		b       float64
		want    float64
	}{
		{"negative clamps to zero", 0.1, 2.0, 0.0},
		{"large edge clamps to cap", 0.99, 10.0, 0.25},
		{"zero b returns zero", 0.8, 0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateKelly(tt.winProb, tt.b)
			if got != tt.want {
				t.Errorf("calculateKelly(%v, %v) = %v, want %v", tt.winProb, tt.b, got, tt.want)
			}
		})
	}
}
