// updown-engine — a real-time signal and execution engine for binary
// Up/Down crypto prediction markets.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires every
//	                              subsystem, starts the engine, waits for
//	                              a shutdown or refresh signal.
//	internal/stream            — direct-spot, venue-multiplex, chainlink-rpc,
//	                              and order-book WebSocket/RPC adapters.
//	internal/synchronizer      — fans price/book updates into one
//	                              SynchronizedSnapshot per tick.
//	internal/pricetracker      — per-symbol candle + momentum tracking,
//	                              emits DirectionSignal on threshold breach.
//	internal/surface           — frozen, pre-fit win-rate probability surface.
//	internal/edge               — edge calculation and Kelly sizing against
//	                              the surface.
//	internal/signal            — the four-tier signal evaluator.
//	internal/risk              — circuit breakers in front of order entry.
//	internal/position          — open/partial-exit/close lifecycle.
//	internal/execution         — dry-run or live venue order placement.
//	internal/engine            — the orchestrator tying all of the above
//	                              together, per spec's §4.8 entry/exit loop.
//
// The engine does not discover markets itself — it is handed a working
// set (configs/working_set.json by default) at startup, and re-reads it
// on SIGHUP ("the refresh signal" in the core's control-signal model).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mx-town/updown-engine/internal/config"
	"github.com/mx-town/updown-engine/internal/edge"
	"github.com/mx-town/updown-engine/internal/engine"
	"github.com/mx-town/updown-engine/internal/execution"
	"github.com/mx-town/updown-engine/internal/metrics"
	"github.com/mx-town/updown-engine/internal/position"
	"github.com/mx-town/updown-engine/internal/pricetracker"
	"github.com/mx-town/updown-engine/internal/risk"
	"github.com/mx-town/updown-engine/internal/signal"
	"github.com/mx-town/updown-engine/internal/store"
	"github.com/mx-town/updown-engine/internal/stream"
	"github.com/mx-town/updown-engine/internal/surface"
	"github.com/mx-town/updown-engine/internal/synchronizer"
	"github.com/mx-town/updown-engine/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ENGINE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	surf, err := surface.Load(cfg.Surface.Path)
	if err != nil {
		logger.Error("failed to load probability surface", "error", err, "path", cfg.Surface.Path)
		os.Exit(1)
	}

	slots, err := loadWorkingSet(cfg.WorkingSetPath)
	if err != nil {
		logger.Error("failed to load working set", "error", err, "path", cfg.WorkingSetPath)
		os.Exit(1)
	}

	symbols := symbolsOf(slots)

	spool, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open snapshot spool", "error", err, "dir", cfg.Store.DataDir)
		os.Exit(1)
	}

	var execBackend execution.Execution
	var candleSource execution.CandleOpenSource
	if cfg.DryRun {
		dry := execution.NewDryRun(execution.DryRunConfig{FeeRate: cfg.Edge.FeeRate})
		execBackend = dry
		candleSource = execution.NewRESTCandleOpenSource(cfg.API.CandleOpenURL)
	} else {
		execBackend = execution.NewREST(execution.RESTConfig{
			BaseURL:        cfg.API.ExecutionBaseURL,
			RequestsPerSec: 10,
			Burst:          20,
		}, logger)
		candleSource = execution.NewRESTCandleOpenSource(cfg.API.CandleOpenURL)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	opens, err := candleSource.FetchOpens(bootCtx, symbols)
	bootCancel()
	if err != nil {
		logger.Error("failed to fetch candle opens", "error", err)
		os.Exit(1)
	}

	trackers := make(map[string]*pricetracker.Tracker, len(symbols))
	trackerCfg := pricetracker.Config{
		WindowSeconds: cfg.Tracker.WindowSeconds,
		MoveThreshold: cfg.Tracker.MoveThreshold,
		IntervalLen:   cfg.Tracker.IntervalLen,
	}
	for _, sym := range symbols {
		open, ok := opens[sym]
		if !ok {
			logger.Warn("no candle open fetched for symbol, seeding zero", "symbol", sym)
		}
		trackers[sym] = pricetracker.NewTracker(sym, trackerCfg, open.OpenPrice, open.IntervalStart)
	}

	deps := engine.Dependencies{
		Evaluator: signal.New(signal.Config{
			DutchBookThreshold:        cfg.Evaluator.DutchBookThreshold,
			MomentumTriggerThreshold:  cfg.Evaluator.MomentumTriggerThreshold,
			MaxCombinedPrice:          cfg.Evaluator.MaxCombinedPrice,
			MomentumMinEdge:           cfg.Evaluator.MomentumMinEdge,
			MomentumMinConfidence:     cfg.Evaluator.MomentumMinConfidence,
			MinTimeRemainingSec:       cfg.Evaluator.MinTimeRemainingSec,
			FlashCrashThreshold:       cfg.Evaluator.FlashCrashThreshold,
			FlashCrashReversionTarget: cfg.Evaluator.FlashCrashReversionTarget,
		}),
		Edge: edge.New(surf, edge.Config{
			FeeRate:            cfg.Edge.FeeRate,
			MinEdgeThreshold:   cfg.Edge.MinEdgeThreshold,
			MinConfidenceScore: cfg.Edge.MinConfidenceScore,
			RequireReliable:    cfg.Edge.RequireReliable,
		}),
		Risk: risk.New(risk.Config{
			MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
			CooldownAfterLoss:    cfg.Risk.CooldownAfterLoss,
			MaxDailyLoss:         cfg.Risk.MaxDailyLoss,
			MaxTotalExposure:     cfg.Risk.MaxTotalExposure,
		}),
		Positions: position.New(),
		Exec:      execBackend,
		Metrics:   metrics.New(),
		Trackers:  trackers,
	}

	eng := engine.New(engine.Config{
		BaseSize:           cfg.Risk.BaseSizeUSD,
		KellyFloor:         cfg.Risk.KellyFloor,
		KellyCap:           cfg.Risk.KellyCap,
		HeartbeatInterval:  time.Second,
		SnapshotBufferSize: 64,
		SignalBufferSize:   64,
		EventBufferSize:    256,
		ShutdownGrace:      5 * time.Second,
	}, deps, logger)
	eng.UpdateWorkingSet(slots)

	sync := synchronizer.New(synchronizer.Config{
		SnapshotInterval: cfg.Sync.SnapshotInterval,
		RingBufferSize:   cfg.Sync.RingBufferSize,
		MaxStale:         cfg.Sync.MaxStale,
	}, func(snap types.SynchronizedSnapshot) {
		spool.Add(snap)
		eng.OnSnapshot(snap)
	})

	directSpot := stream.NewDirectSpotAdapter(stream.DirectSpotConfig{
		URL:     cfg.API.DirectSpotWSURL,
		Symbols: symbols,
	}, sync.OnPriceUpdate, func(trade stream.RawTrade) {
		tr, ok := trackers[trade.Symbol]
		if !ok {
			return
		}
		if sig := tr.AddTrade(pricetracker.Trade{
			Price:     trade.Price,
			Size:      trade.Quantity,
			IsBuy:     trade.IsBuy,
			Timestamp: trade.Timestamp,
		}); sig != nil {
			eng.OnDirectionSignal(*sig)
		}
	}, logger)

	venueMultiplex := stream.NewVenueMultiplexAdapter(stream.VenueMultiplexConfig{
		URL:    cfg.API.VenueMultiplexURL,
		Symbol: primarySymbol(symbols),
	}, sync.OnPriceUpdate, logger)

	book := stream.NewBookAdapter(stream.BookConfig{
		URL:      cfg.API.BookSubscribeURL,
		TokenIDs: tokenIDsOf(slots),
	}, sync.OnBookUpdate, logger)

	chainlink := stream.NewChainlinkRPCAdapter(stream.ChainlinkRPCConfig{
		AggregatorAddress: cfg.API.ChainAggregator,
		RPCURLs:           cfg.API.ChainRPCURLs,
		Symbol:            primarySymbol(symbols),
	}, sync.OnPriceUpdate, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go directSpot.Connect(ctx)
	go venueMultiplex.Connect(ctx)
	go book.Connect(ctx)
	go chainlink.Connect(ctx)

	sync.Start(ctx)
	eng.Start(ctx)

	go drainEvents(eng, logger)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("updown engine started",
		"markets", len(slots),
		"symbols", symbols,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			next, err := loadWorkingSet(cfg.WorkingSetPath)
			if err != nil {
				logger.Error("refresh signal: failed to reload working set, keeping current set", "error", err)
				continue
			}
			eng.UpdateWorkingSet(next)
			logger.Info("refresh signal: working set reloaded", "markets", len(next))
			continue
		}

		logger.Info("received shutdown signal", "signal", sig.String())
		break
	}

	// Cancellation order per spec's §5: engine first, then the
	// synchronizer publisher, then the stream adapters beneath it.
	eng.Stop()
	sync.Stop()
	cancel()

	if n, err := spool.Flush(fmt.Sprintf("snapshots-%d.csv", time.Now().UnixMilli())); err != nil {
		logger.Error("failed to flush snapshot spool on shutdown", "error", err)
	} else if n > 0 {
		logger.Info("flushed buffered snapshots on shutdown", "rows", n)
	}
}

func drainEvents(eng *engine.Engine, logger *slog.Logger) {
	for ev := range eng.Events() {
		logger.Info("engine event",
			"kind", ev.Kind,
			"market", ev.MarketID,
			"reason", ev.Reason,
			"data", ev.Data,
		)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// workingSetEntry is the on-disk JSON shape of configs/working_set.json —
// the operator-maintained list of tradable markets the core is "given"
// rather than discovers itself.
type workingSetEntry struct {
	MarketID       string    `json:"market_id"`
	Symbol         string    `json:"symbol"`
	UpTokenID      string    `json:"up_token_id"`
	DownTokenID    string    `json:"down_token_id"`
	ResolutionTime time.Time `json:"resolution_time"`
	Session        string    `json:"session"`
	VolRegime      string    `json:"vol_regime"`
}

func loadWorkingSet(path string) ([]engine.MarketSlot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read working set: %w", err)
	}
	var entries []workingSetEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse working set: %w", err)
	}
	slots := make([]engine.MarketSlot, len(entries))
	for i, e := range entries {
		slots[i] = engine.MarketSlot{
			MarketID:       e.MarketID,
			Symbol:         e.Symbol,
			UpTokenID:      e.UpTokenID,
			DownTokenID:    e.DownTokenID,
			ResolutionTime: e.ResolutionTime,
			Session:        e.Session,
			VolRegime:      e.VolRegime,
		}
	}
	return slots, nil
}

func symbolsOf(slots []engine.MarketSlot) []string {
	seen := make(map[string]bool, len(slots))
	var out []string
	for _, s := range slots {
		if !seen[s.Symbol] {
			seen[s.Symbol] = true
			out = append(out, s.Symbol)
		}
	}
	return out
}

func tokenIDsOf(slots []engine.MarketSlot) []string {
	out := make([]string, 0, len(slots)*2)
	for _, s := range slots {
		out = append(out, s.UpTokenID, s.DownTokenID)
	}
	return out
}

func primarySymbol(symbols []string) string {
	if len(symbols) == 0 {
		return ""
	}
	return symbols[0]
}
