// Package surface implements the frozen empirical probability surface the
// edge calculator and signal evaluator consult at runtime. Fitting the
// surface from historical candles is research-time, out-of-core work (see
// spec's Non-goals); this package only loads, looks up, and re-serializes
// an already-fit surface.
package surface

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Reliability thresholds. Lookup does not apply them: a bucket that is
// present is served whatever its sample size; callers check Reliable/Usable.
const (
	MinSamplesReliable = 30
	MinSamplesUsable   = 10
)

// Sessions and volatility regimes the surface is stratified by.
var (
	Sessions   = []string{"asia", "europe", "us_eu_overlap", "us", "late_us", "all"}
	VolRegimes = []string{"low", "medium", "high", "all"}
)

// Bucket is one cell of the empirical surface.
type Bucket struct {
	DevMin        float64 `json:"dev_min"`
	DevMax        float64 `json:"dev_max"`
	TimeRemaining float64 `json:"time_remaining"`
	VolRegime     string  `json:"vol_regime"`
	Session       string  `json:"session"`

	SampleSize    int     `json:"n"`
	WinCount      int     `json:"wins"`
	WinRate       float64 `json:"win_rate"`
	CILower       float64 `json:"ci_lower"`
	CIUpper       float64 `json:"ci_upper"`
}

// Reliable reports whether the bucket has enough samples to trust outright.
func (b Bucket) Reliable() bool { return b.SampleSize >= MinSamplesReliable }

// Usable reports whether the bucket has at least MinSamplesUsable samples.
// LookupBucket does not consult it: a present bucket below this size is
// still returned.
func (b Bucket) Usable() bool { return b.SampleSize >= MinSamplesUsable }

// Config describes the surface's deviation grid and the confidence level
// used to compute the Wilson score interval at fit time.
type Config struct {
	DeviationStep    float64 `json:"deviation_step"`
	DeviationRangeLo float64 `json:"deviation_range_lo"`
	DeviationRangeHi float64 `json:"deviation_range_hi"`
	ConfidenceLevel  float64 `json:"confidence_level"`
}

// DefaultConfig matches the research pipeline's defaults.
func DefaultConfig() Config {
	return Config{
		DeviationStep:    0.001,
		DeviationRangeLo: -0.02,
		DeviationRangeHi: 0.02,
		ConfidenceLevel:  0.95,
	}
}

// Surface is the loaded probability surface. Put is the only method that
// changes it; reads need no synchronization while no Put runs alongside them.
type Surface struct {
	Config     Config
	DeviationBins []float64
	TimeBins      []float64
	VolRegimes    []string
	Sessions      []string
	buckets       map[string]Bucket
}

// New constructs an empty surface with the given config, ready for direct
// bucket insertion via Put (used by tests).
func New(cfg Config) *Surface {
	return &Surface{
		Config:     cfg,
		VolRegimes: append([]string(nil), VolRegimes...),
		Sessions:   append([]string(nil), Sessions...),
		buckets:    make(map[string]Bucket),
	}
}

// Put inserts or replaces a bucket, keyed by its (devMin, devMax,
// timeRemaining, volRegime, session) tuple.
func (s *Surface) Put(b Bucket) {
	s.buckets[bucketKey(b.DevMin, b.DevMax, b.TimeRemaining, b.VolRegime, b.Session)] = b
	s.DeviationBins = insertSortedUnique(s.DeviationBins, b.DevMin)
	s.TimeBins = insertSortedUnique(s.TimeBins, b.TimeRemaining)
}

func bucketKey(devMin, devMax, timeRemaining float64, volRegime, session string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		formatBound(devMin), formatBound(devMax), formatNumber(timeRemaining), volRegime, session)
}

func formatBound(v float64) string {
	if math.IsInf(v, -1) {
		return "-inf"
	}
	if math.IsInf(v, 1) {
		return "inf"
	}
	return formatNumber(v)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func insertSortedUnique(xs []float64, v float64) []float64 {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	xs = append(xs, v)
	sort.Float64s(xs)
	return xs
}

// WilsonScoreInterval computes the asymmetric Wilson binomial confidence
// interval for wins/n at the given confidence level, clamped to [0, 1].
// z is the standard-normal quantile for (1 - (1-confidence)/2); since this
// package has no stats dependency, z is resolved from a small table of the
// handful of confidence levels the research pipeline actually fits with —
// the surface file is frozen, so this only needs to match the levels used
// to produce it, not compute an arbitrary quantile.
func WilsonScoreInterval(wins, n int, confidence float64) (center, lower, upper float64) {
	if n == 0 {
		return 0.5, 0, 1
	}
	z := zScoreFor(confidence)
	pHat := float64(wins) / float64(n)
	nf := float64(n)
	denominator := 1 + z*z/nf
	centerRaw := (pHat + z*z/(2*nf)) / denominator
	spread := z * math.Sqrt((pHat*(1-pHat)+z*z/(4*nf))/nf) / denominator

	lo := clamp01(centerRaw - spread)
	hi := clamp01(centerRaw + spread)
	return clamp01(centerRaw), lo, hi
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// zScoreFor resolves the two-sided normal quantile for the confidence
// levels the research pipeline fits with. 0.95 (z=1.959964) is the default;
// 0.90 and 0.99 are included for completeness.
func zScoreFor(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.575829
	case confidence >= 0.95:
		return 1.959964
	case confidence >= 0.90:
		return 1.644854
	default:
		return 1.959964
	}
}

// DeviationBucket floors (deviation - rangeLo) / step to find the bucket
// edges, clamping to the two sentinel buckets outside [rangeLo, rangeHi).
func (s *Surface) DeviationBucket(deviation float64) (lo, hi float64) {
	cfg := s.Config
	if deviation < cfg.DeviationRangeLo {
		return math.Inf(-1), cfg.DeviationRangeLo
	}
	if deviation >= cfg.DeviationRangeHi {
		return cfg.DeviationRangeHi, math.Inf(1)
	}
	steps := math.Floor((deviation - cfg.DeviationRangeLo) / cfg.DeviationStep)
	// Edges are rounded to 10 decimal places so they match the bounds as
	// written in bucket keys (0.002, not 0.0019999999999999983).
	lo = math.Round((cfg.DeviationRangeLo+steps*cfg.DeviationStep)*1e10) / 1e10
	hi = math.Round((lo+cfg.DeviationStep)*1e10) / 1e10
	return lo, hi
}

// nearestTimeBin snaps timeRemaining to the nearest observed value in TimeBins.
func (s *Surface) nearestTimeBin(timeRemaining float64) float64 {
	if len(s.TimeBins) == 0 {
		return timeRemaining
	}
	best := s.TimeBins[0]
	bestDiff := math.Abs(timeRemaining - best)
	for _, t := range s.TimeBins[1:] {
		diff := math.Abs(timeRemaining - t)
		if diff < bestDiff {
			best = t
			bestDiff = diff
		}
	}
	return best
}

// Lookup implements the §3/§4.4 contract: given (deviation, time_remaining,
// vol_regime, session), return (win_rate, ci_lower, ci_upper, reliable)
// after falling back: requested session -> "all" session -> "all" vol ->
// uniform prior (0.5, 0.0, 1.0, false).
func (s *Surface) Lookup(deviation, timeRemaining float64, volRegime, session string) (winRate, ciLower, ciUpper float64, reliable bool) {
	b := s.LookupBucket(deviation, timeRemaining, volRegime, session)
	return b.WinRate, b.CILower, b.CIUpper, b.Reliable()
}

// LookupBucket resolves the same fallback chain as Lookup but returns the
// full matched Bucket (including its sample size), for callers like the
// edge calculator's confidence score that need n directly rather than just
// the derived interval. The uniform-prior fallback is synthesized as a
// zero-sample bucket, so Reliable()/Usable() on it are both false.
func (s *Surface) LookupBucket(deviation, timeRemaining float64, volRegime, session string) Bucket {
	devLo, devHi := s.DeviationBucket(deviation)
	snappedTime := s.nearestTimeBin(timeRemaining)

	if b, ok := s.buckets[bucketKey(devLo, devHi, snappedTime, volRegime, session)]; ok {
		return b
	}
	if session != "all" {
		if b, ok := s.buckets[bucketKey(devLo, devHi, snappedTime, volRegime, "all")]; ok {
			return b
		}
	}
	if volRegime != "all" {
		if b, ok := s.buckets[bucketKey(devLo, devHi, snappedTime, "all", "all")]; ok {
			return b
		}
	}
	return Bucket{
		DevMin: devLo, DevMax: devHi, TimeRemaining: snappedTime,
		VolRegime: volRegime, Session: session,
		WinRate: 0.5, CILower: 0.0, CIUpper: 1.0,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Persistence
// ————————————————————————————————————————————————————————————————————————

type fileFormat struct {
	Config        Config            `json:"config"`
	DeviationBins []float64         `json:"deviation_bins"`
	TimeBins      []float64         `json:"time_bins"`
	VolRegimes    []string          `json:"vol_regimes"`
	Sessions      []string          `json:"sessions"`
	Buckets       map[string]Bucket `json:"buckets"`
}

// Save writes the surface to path using the schema documented in spec §6,
// via an atomic tmp-file-then-rename, matching the teacher's crash-safe
// write pattern.
func Save(s *Surface, path string) error {
	ff := fileFormat{
		Config:        s.Config,
		DeviationBins: s.DeviationBins,
		TimeBins:      s.TimeBins,
		VolRegimes:    s.VolRegimes,
		Sessions:      s.Sessions,
		Buckets:       s.buckets,
	}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal surface: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write surface: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a surface file. A legacy bucket key with four `|`-separated
// fields (no session) is interpreted as session="all".
func Load(path string) (*Surface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read surface: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("unmarshal surface: %w", err)
	}

	s := &Surface{
		Config:        ff.Config,
		DeviationBins: ff.DeviationBins,
		TimeBins:      ff.TimeBins,
		VolRegimes:    ff.VolRegimes,
		Sessions:      ff.Sessions,
		buckets:       make(map[string]Bucket, len(ff.Buckets)),
	}

	for key, b := range ff.Buckets {
		parts := strings.Split(key, "|")
		if len(parts) == 4 {
			b.Session = "all"
		}
		s.buckets[bucketKey(b.DevMin, b.DevMax, b.TimeRemaining, b.VolRegime, b.Session)] = b
	}
	return s, nil
}

// Buckets returns a copy of all buckets, for tests and round-trip checks.
func (s *Surface) Buckets() []Bucket {
	out := make([]Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	return out
}
