// Package config defines configuration for the signal and execution engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ENGINE_* environment variables. Loading
// and flag parsing are thin wrappers around the core the engine consumes;
// the Config type and its validation are what every other component
// depends on.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun         bool            `mapstructure:"dry_run"`
	WorkingSetPath string          `mapstructure:"working_set_path"`
	API            APIConfig       `mapstructure:"api"`
	Surface        SurfaceConfig   `mapstructure:"surface"`
	Tracker        TrackerConfig   `mapstructure:"tracker"`
	Sync           SyncConfig      `mapstructure:"sync"`
	Edge           EdgeConfig      `mapstructure:"edge"`
	Evaluator      EvaluatorConfig `mapstructure:"evaluator"`
	Risk           RiskConfig      `mapstructure:"risk"`
	Store          StoreConfig     `mapstructure:"store"`
	Logging        LoggingConfig   `mapstructure:"logging"`
}

// APIConfig holds the external endpoints the engine depends on for feeds
// and execution.
type APIConfig struct {
	DirectSpotWSURL   string   `mapstructure:"direct_spot_ws_url"`
	VenueMultiplexURL string   `mapstructure:"venue_multiplex_url"`
	BookSubscribeURL  string   `mapstructure:"book_subscribe_url"`
	ChainRPCURLs      []string `mapstructure:"chain_rpc_urls"`
	ChainAggregator   string   `mapstructure:"chain_aggregator_address"`
	CandleOpenURL     string   `mapstructure:"candle_open_url"`
	ExecutionBaseURL  string   `mapstructure:"execution_base_url"`
	APIKey            string   `mapstructure:"api_key"`
	APISecret         string   `mapstructure:"api_secret"`
}

// SurfaceConfig locates the frozen probability surface file.
type SurfaceConfig struct {
	Path string `mapstructure:"path"`
}

// TrackerConfig tunes the price tracker's rolling window and threshold.
type TrackerConfig struct {
	WindowSeconds float64       `mapstructure:"window_seconds"`
	MoveThreshold float64       `mapstructure:"move_threshold"`
	IntervalLen   time.Duration `mapstructure:"interval_length"`
}

// SyncConfig tunes the synchronizer's cadence and ring buffer.
type SyncConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	RingBufferSize   int           `mapstructure:"ring_buffer_size"`
	MaxStale         time.Duration `mapstructure:"max_stale"`
	SpoolPath        string        `mapstructure:"spool_path"`
}

// EdgeConfig tunes the edge calculator.
type EdgeConfig struct {
	FeeRate            float64 `mapstructure:"fee_rate"`
	MinEdgeThreshold   float64 `mapstructure:"min_edge_threshold"`
	MinConfidenceScore float64 `mapstructure:"min_confidence_score"`
	RequireReliable    bool    `mapstructure:"require_reliable"`
}

// EvaluatorConfig tunes the four signal tiers.
//
//   - DutchBookThreshold: combined ask below this triggers Tier 1 (default 0.99).
//   - MomentumTriggerThreshold: |momentum| must clear this for Tier 2 (default 0.001).
//   - MaxCombinedPrice: Tier 2 also requires combined ask below this (default 0.995).
//   - MomentumMinEdge: Tier 2/3 reject below this edge (default 0.03).
//   - MomentumMinConfidence: Tier 3 requires model confidence at least this (default 0.5).
//   - MinTimeRemainingSec: Tier 3 requires at least this much time left (default 300).
//   - FlashCrashThreshold: |deviation| must exceed this for Tier 4 (default 0.05).
//   - FlashCrashReversionTarget: fraction of the deviation Tier 4 expects reverted (default 0.5).
type EvaluatorConfig struct {
	DutchBookThreshold        float64 `mapstructure:"dutch_book_threshold"`
	MomentumTriggerThreshold  float64 `mapstructure:"momentum_trigger_threshold"`
	MaxCombinedPrice          float64 `mapstructure:"max_combined_price"`
	MomentumMinEdge           float64 `mapstructure:"momentum_min_edge"`
	MomentumMinConfidence     float64 `mapstructure:"momentum_min_confidence"`
	MinTimeRemainingSec       float64 `mapstructure:"min_time_remaining_sec"`
	FlashCrashThreshold       float64 `mapstructure:"flash_crash_threshold"`
	FlashCrashReversionTarget float64 `mapstructure:"flash_crash_reversion_target"`
}

// RiskConfig sets the circuit-breaker limits the risk manager enforces.
type RiskConfig struct {
	MaxConsecutiveLosses int           `mapstructure:"max_consecutive_losses"`
	CooldownAfterLoss    time.Duration `mapstructure:"cooldown_after_loss"`
	MaxDailyLoss         float64       `mapstructure:"max_daily_loss"`
	MaxTotalExposure     float64       `mapstructure:"max_total_exposure"`
	BaseSizeUSD          float64       `mapstructure:"base_size_usd"`
	KellyFloor           float64       `mapstructure:"kelly_floor"`
	KellyCap             float64       `mapstructure:"kelly_cap"`
}

// StoreConfig sets where the synchronizer's observational spool is written.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig selects slog's handler and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ENGINE_API_KEY, ENGINE_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ENGINE_API_KEY"); key != "" {
		cfg.API.APIKey = key
	}
	if secret := os.Getenv("ENGINE_API_SECRET"); secret != "" {
		cfg.API.APISecret = secret
	}
	if os.Getenv("ENGINE_DRY_RUN") == "true" || os.Getenv("ENGINE_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Surface.Path == "" {
		return fmt.Errorf("surface.path is required")
	}
	if c.WorkingSetPath == "" {
		return fmt.Errorf("working_set_path is required")
	}
	if c.Tracker.WindowSeconds <= 0 {
		return fmt.Errorf("tracker.window_seconds must be > 0")
	}
	if c.Sync.SnapshotInterval <= 0 {
		return fmt.Errorf("sync.snapshot_interval must be > 0")
	}
	if c.Sync.RingBufferSize <= 0 {
		return fmt.Errorf("sync.ring_buffer_size must be > 0")
	}
	if c.Edge.FeeRate < 0 {
		return fmt.Errorf("edge.fee_rate must be >= 0")
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("risk.max_consecutive_losses must be > 0")
	}
	if c.Risk.MaxTotalExposure <= 0 {
		return fmt.Errorf("risk.max_total_exposure must be > 0")
	}
	if c.Risk.BaseSizeUSD <= 0 {
		return fmt.Errorf("risk.base_size_usd must be > 0")
	}
	if c.Risk.KellyCap <= c.Risk.KellyFloor {
		return fmt.Errorf("risk.kelly_cap must be greater than risk.kelly_floor")
	}
	if !c.DryRun && c.API.ExecutionBaseURL == "" {
		return fmt.Errorf("api.execution_base_url is required unless dry_run is set")
	}
	return nil
}
