package surface

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSurface() *Surface {
	s := New(DefaultConfig())
	s.Put(Bucket{
		DevMin: 0.002, DevMax: 0.003, TimeRemaining: 600,
		VolRegime: "high", Session: "all",
		SampleSize: 50, WinCount: 30, WinRate: 0.6, CILower: 0.46, CIUpper: 0.73,
	})
	s.Put(Bucket{
		DevMin: 0.002, DevMax: 0.003, TimeRemaining: 600,
		VolRegime: "high", Session: "us",
		SampleSize: 5, WinCount: 3, WinRate: 0.6, CILower: 0.2, CIUpper: 0.9,
	})
	return s
}

func TestWilsonScoreIntervalBounds(t *testing.T) {
	t.Parallel()

	for _, n := range []int{10, 30, 100, 1000} {
		center, lower, upper := WilsonScoreInterval(n/2, n, 0.95)
		assert.GreaterOrEqual(t, center, 0.0)
		assert.LessOrEqual(t, center, 1.0)
		assert.LessOrEqual(t, lower, center)
		assert.LessOrEqual(t, center, upper)
		assert.GreaterOrEqual(t, lower, 0.0)
		assert.LessOrEqual(t, upper, 1.0)
	}
}

func TestWilsonScoreIntervalZeroSamples(t *testing.T) {
	t.Parallel()
	center, lower, upper := WilsonScoreInterval(0, 0, 0.95)
	assert.Equal(t, 0.5, center)
	assert.Equal(t, 0.0, lower)
	assert.Equal(t, 1.0, upper)
}

func TestDeviationBucketSentinels(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())

	lo, hi := s.DeviationBucket(-0.05)
	assert.True(t, math.IsInf(lo, -1))
	assert.Equal(t, -0.02, hi)

	lo, hi = s.DeviationBucket(0.05)
	assert.Equal(t, 0.02, lo)
	assert.True(t, math.IsInf(hi, 1))
}

func TestDeviationBucketFlooring(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())

	lo, hi := s.DeviationBucket(0.0025)
	assert.InDelta(t, 0.002, lo, 1e-9)
	assert.InDelta(t, 0.003, hi, 1e-9)
}

func TestLookupFallbackChain(t *testing.T) {
	t.Parallel()
	s := newTestSurface()

	// exact session hit is served as-is even though n=5 is below
	// MinSamplesReliable — a bucket is only a "miss" when the key itself
	// isn't present, per spec.md's literal fallback condition.
	winRate, lower, upper, reliable := s.Lookup(0.0025, 600, "high", "us")
	require.Equal(t, 0.6, winRate)
	assert.Equal(t, 0.2, lower)
	assert.Equal(t, 0.9, upper)
	assert.False(t, reliable)

	// Unknown session/vol regime entirely -> uniform prior.
	winRate, lower, upper, reliable = s.Lookup(0.0025, 600, "low", "europe")
	assert.Equal(t, 0.5, winRate)
	assert.Equal(t, 0.0, lower)
	assert.Equal(t, 1.0, upper)
	assert.False(t, reliable)
}

func TestLookupCIOrdering(t *testing.T) {
	t.Parallel()
	s := newTestSurface()

	winRate, lower, upper, _ := s.Lookup(0.0025, 600, "all", "all")
	assert.True(t, lower <= winRate)
	assert.True(t, winRate <= upper)
	assert.True(t, lower >= 0)
	assert.True(t, upper <= 1)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestSurface()

	dir := t.TempDir()
	path := filepath.Join(dir, "surface.json")
	require.NoError(t, Save(s, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	want := s.Buckets()
	got := loaded.Buckets()
	assert.ElementsMatch(t, want, got)
}

func TestLoadLegacyFourFieldKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.json")
	legacy := `{
		"config": {"deviation_step":0.001,"deviation_range_lo":-0.02,"deviation_range_hi":0.02,"confidence_level":0.95},
		"deviation_bins": [0.002],
		"time_bins": [600],
		"vol_regimes": ["all"],
		"sessions": ["all"],
		"buckets": {
			"0.002|0.003|600|all": {"dev_min":0.002,"dev_max":0.003,"time_remaining":600,"vol_regime":"all","session":"","n":40,"wins":25,"win_rate":0.625,"ci_lower":0.5,"ci_upper":0.74}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	s, err := Load(path)
	require.NoError(t, err)

	winRate, _, _, reliable := s.Lookup(0.0025, 600, "all", "all")
	assert.Equal(t, 0.625, winRate)
	assert.True(t, reliable)
}
