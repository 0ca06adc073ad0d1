package risk

import (
	"testing"
	"time"
)

// Scenario 6 (spec §8): risk pause after consecutive losses, with cooldown
// expiry and a win resetting the counter.
func TestConsecutiveLossPauseAndCooldown(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Config{
		MaxConsecutiveLosses: 3,
		CooldownAfterLoss:    300 * time.Second,
		MaxDailyLoss:         1e9, // disable this breaker for this test
		MaxTotalExposure:     1e9,
	})

	m.RecordTradeResult(-10, start)
	m.RecordTradeResult(-10, start.Add(1*time.Second))
	if ok, _ := m.CanTrade(start.Add(2 * time.Second)); !ok {
		t.Fatal("should still be able to trade after two losses")
	}

	m.RecordTradeResult(-10, start.Add(2*time.Second))
	ok, reason := m.CanTrade(start.Add(3 * time.Second))
	if ok {
		t.Fatal("expected CanTrade to be false after three consecutive losses")
	}
	if reason == "" {
		t.Error("expected a non-empty pause reason")
	}

	// Still paused 299s after the third loss.
	ok, _ = m.CanTrade(start.Add(2*time.Second + 299*time.Second))
	if ok {
		t.Error("expected still paused at 299s")
	}

	// Lifted 301s after the third loss.
	ok, _ = m.CanTrade(start.Add(2*time.Second + 301*time.Second))
	if !ok {
		t.Error("expected pause lifted at 301s")
	}
}

func TestWinResetsConsecutiveLossCounter(t *testing.T) {
	t.Parallel()
	start := time.Now()
	m := New(Config{MaxConsecutiveLosses: 3, CooldownAfterLoss: time.Minute, MaxDailyLoss: 1e9, MaxTotalExposure: 1e9})

	m.RecordTradeResult(-10, start)
	m.RecordTradeResult(-10, start)
	m.RecordTradeResult(5, start) // win resets to zero
	m.RecordTradeResult(-10, start)
	m.RecordTradeResult(-10, start)

	if ok, _ := m.CanTrade(start); !ok {
		t.Fatal("should still be able to trade: only 2 consecutive losses since the win")
	}
}

func TestDailyLossPauseLasts24Hours(t *testing.T) {
	t.Parallel()
	start := time.Now()
	m := New(Config{MaxConsecutiveLosses: 100, CooldownAfterLoss: time.Second, MaxDailyLoss: 500, MaxTotalExposure: 1e9})

	m.RecordTradeResult(-500, start)
	ok, reason := m.CanTrade(start.Add(time.Hour))
	if ok {
		t.Fatal("expected paused after hitting daily loss cap")
	}
	if reason != "daily loss limit reached" {
		t.Errorf("reason = %q", reason)
	}

	ok, _ = m.CanTrade(start.Add(25 * time.Hour))
	if !ok {
		t.Error("expected pause lifted after 24h")
	}
}

func TestResetDailyDoesNotResetConsecutiveLosses(t *testing.T) {
	t.Parallel()
	start := time.Now()
	m := New(Config{MaxConsecutiveLosses: 5, CooldownAfterLoss: time.Minute, MaxDailyLoss: 1e9, MaxTotalExposure: 1e9})

	m.RecordTradeResult(-10, start)
	m.RecordTradeResult(-10, start)
	m.ResetDaily()

	snap := m.Snapshot(start)
	if snap.ConsecutiveLosses != 2 {
		t.Errorf("consecutive losses = %d, want 2 (ResetDaily must not clear it)", snap.ConsecutiveLosses)
	}
	if snap.DailyPnL != 0 {
		t.Errorf("daily pnl = %v, want 0", snap.DailyPnL)
	}
}

func TestCanIncreaseExposure(t *testing.T) {
	t.Parallel()
	m := New(Config{MaxTotalExposure: 1000, MaxConsecutiveLosses: 3, CooldownAfterLoss: time.Minute, MaxDailyLoss: 1e9})

	if !m.CanIncreaseExposure(900, 100) {
		t.Error("expected exactly-at-cap increase to be allowed")
	}
	if m.CanIncreaseExposure(900, 101) {
		t.Error("expected over-cap increase to be rejected")
	}
}
