package synchronizer

import (
	"context"
	"testing"
	"time"

	"github.com/mx-town/updown-engine/pkg/types"
)

func TestCaptureSnapshotPrefersDirectSpotAndVenueOracle(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig(), nil)

	s.OnPriceUpdate(types.PriceUpdate{Source: types.VenueSpot, Price: 100, TimestampMs: 1})
	s.OnPriceUpdate(types.PriceUpdate{Source: types.DirectSpot, Price: 101, TimestampMs: 2})
	s.OnPriceUpdate(types.PriceUpdate{Source: types.ChainOracle, Price: 99, TimestampMs: 3})
	s.OnPriceUpdate(types.PriceUpdate{Source: types.VenueOracle, Price: 100.5, TimestampMs: 4})

	snap := s.captureSnapshot(time.UnixMilli(1000))

	spot, ok := snap.SpotPrice()
	if !ok || spot.Price != 101 {
		t.Errorf("spot price = %+v, ok=%v, want direct-spot 101", spot, ok)
	}
	oracle, ok := snap.OraclePrice()
	if !ok || oracle.Price != 100.5 {
		t.Errorf("oracle price = %+v, ok=%v, want venue-oracle 100.5", oracle, ok)
	}
}

func TestRingBufferEvictsOldestFirst(t *testing.T) {
	t.Parallel()
	s := New(Config{SnapshotInterval: time.Millisecond, RingBufferSize: 3}, nil)

	for i := 0; i < 5; i++ {
		snap := types.SynchronizedSnapshot{TimestampMs: int64(i)}
		s.pushRing(snap)
	}

	got := s.Snapshots()
	if len(got) != 3 {
		t.Fatalf("ring length = %d, want 3", len(got))
	}
	want := []int64{2, 3, 4}
	for i, snap := range got {
		if snap.TimestampMs != want[i] {
			t.Errorf("snapshot[%d].TimestampMs = %d, want %d", i, snap.TimestampMs, want[i])
		}
	}
}

func TestLagStatsThresholds(t *testing.T) {
	t.Parallel()
	s := New(Config{SnapshotInterval: time.Millisecond, RingBufferSize: 200}, nil)

	for i := 0; i < 10; i++ {
		s.pushRing(snapshotWithLag(int64(i)))
	}
	stats := s.LagStats()
	if stats.Count != 10 {
		t.Errorf("count = %d, want 10", stats.Count)
	}
	if stats.P95 != nil {
		t.Error("expected p95 to be nil below 20 samples")
	}

	s2 := New(Config{SnapshotInterval: time.Millisecond, RingBufferSize: 200}, nil)
	for i := 0; i < 25; i++ {
		s2.pushRing(snapshotWithLag(int64(i)))
	}
	stats2 := s2.LagStats()
	if stats2.P95 == nil {
		t.Error("expected p95 populated at 25 samples")
	}
	if stats2.P99 != nil {
		t.Error("expected p99 nil below 100 samples")
	}

	s3 := New(Config{SnapshotInterval: time.Millisecond, RingBufferSize: 200}, nil)
	for i := 0; i < 120; i++ {
		s3.pushRing(snapshotWithLag(int64(i)))
	}
	stats3 := s3.LagStats()
	if stats3.P99 == nil {
		t.Error("expected p99 populated at 120 samples")
	}
}

func snapshotWithLag(lagMs int64) types.SynchronizedSnapshot {
	return types.SynchronizedSnapshot{
		Prices: map[types.PriceSource]types.PriceUpdate{
			types.DirectSpot:  {Source: types.DirectSpot, TimestampMs: lagMs},
			types.VenueOracle: {Source: types.VenueOracle, TimestampMs: 0},
		},
	}
}

func TestStartPublishesOnTicksAndStopIsClean(t *testing.T) {
	t.Parallel()
	received := make(chan types.SynchronizedSnapshot, 10)
	s := New(Config{SnapshotInterval: 5 * time.Millisecond, RingBufferSize: 100}, func(snap types.SynchronizedSnapshot) {
		received <- snap
	})
	s.OnPriceUpdate(types.PriceUpdate{Source: types.DirectSpot, Price: 100, TimestampMs: 1})

	s.Start(context.Background())
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published snapshot")
	}
	s.Stop()

	if len(s.Snapshots()) == 0 {
		t.Error("expected at least one snapshot retained in the ring")
	}
}
