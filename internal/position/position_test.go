package position

import (
	"testing"
	"time"
)

// Scenario 5 (spec §8): partial exit then full close.
func TestPartialExitThenFullClose(t *testing.T) {
	t.Parallel()
	m := New()
	now := time.Now()

	if err := m.Open("mkt1", 100, 0.45, 100, 0.50, now); err != nil {
		t.Fatalf("open: %v", err)
	}

	realized, err := m.PartialExit("mkt1", ExitUp, 0.60, now)
	if err != nil {
		t.Fatalf("partial exit: %v", err)
	}
	if realized != 15 {
		t.Errorf("partial exit realized = %v, want 15", realized)
	}

	p, ok := m.Get("mkt1")
	if !ok {
		t.Fatal("expected position to still exist")
	}
	if p.Status != Open {
		t.Errorf("status = %v, want Open", p.Status)
	}
	if p.UpShares != 0 {
		t.Errorf("up shares = %v, want 0", p.UpShares)
	}
	if p.DownShares != 100 {
		t.Errorf("down shares = %v, want 100 (unchanged)", p.DownShares)
	}

	closed, err := m.Close("mkt1", 0, 0.40, "expired", now)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.RealizedPnL != 5 {
		t.Errorf("total realized = %v, want 5", closed.RealizedPnL)
	}
	if m.HasPosition("mkt1") {
		t.Error("expected position removed from open map after close")
	}
}

func TestOpenPositionInvariants(t *testing.T) {
	t.Parallel()
	m := New()
	now := time.Now()

	if err := m.Open("mkt1", 100, 0.45, 50, 0.50, now); err != nil {
		t.Fatalf("open: %v", err)
	}

	p, _ := m.Get("mkt1")
	if p.TotalCost() != 100*0.45+50*0.50 {
		t.Errorf("total cost = %v, want %v", p.TotalCost(), 100*0.45+50*0.50)
	}
	if p.GuaranteedPayout() != 50 {
		t.Errorf("guaranteed payout = %v, want 50", p.GuaranteedPayout())
	}
}

func TestCannotOpenSecondPositionForSameMarket(t *testing.T) {
	t.Parallel()
	m := New()
	now := time.Now()

	if err := m.Open("mkt1", 10, 0.5, 10, 0.5, now); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := m.Open("mkt1", 10, 0.5, 10, 0.5, now); err == nil {
		t.Fatal("expected error opening a second position for the same market")
	}
}

func TestTotalExposureAndUnrealizedPnL(t *testing.T) {
	t.Parallel()
	m := New()
	now := time.Now()

	_ = m.Open("mkt1", 100, 0.40, 100, 0.50, now)
	_ = m.Open("mkt2", 50, 0.30, 50, 0.60, now)

	wantExposure := (100*0.40 + 100*0.50) + (50*0.30 + 50*0.60)
	if got := m.TotalExposure(); got != wantExposure {
		t.Errorf("total exposure = %v, want %v", got, wantExposure)
	}

	quotes := map[string]BidQuote{
		"mkt1": {UpBid: 0.45, DownBid: 0.48},
		"mkt2": {UpBid: 0.30, DownBid: 0.60},
	}
	unrealized := m.TotalUnrealizedPnL(quotes)
	want1 := 100*0.45 + 100*0.48 - (100*0.40 + 100*0.50)
	want2 := 50*0.30 + 50*0.60 - (50*0.30 + 50*0.60)
	if unrealized != want1+want2 {
		t.Errorf("unrealized pnl = %v, want %v", unrealized, want1+want2)
	}
}
