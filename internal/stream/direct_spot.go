package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mx-town/updown-engine/pkg/types"
)

// DirectSpotConfig configures the direct spot-exchange trade adapter.
type DirectSpotConfig struct {
	URL            string // e.g. combined aggTrade stream URL
	Symbols        []string
	ReconnectDelay time.Duration
}

// RawTrade is a single aggregate trade, carrying the buy/sell-pressure
// flag and size the price tracker's momentum-confidence calculation
// needs but a bare types.PriceUpdate does not.
type RawTrade struct {
	Symbol    string
	Price     float64
	Quantity  float64
	IsBuy     bool
	Timestamp time.Time
}

// DirectSpotAdapter streams individual trades straight from the
// underlying spot exchange's aggregate-trade feed. Ping/pong here is
// library-driven (gorilla/websocket answers server pings automatically),
// matching the teacher's market feed which relies on the same library
// default rather than an application-level ping loop.
//
// Grounded on original_source/src/data/binance_ws.py.
type DirectSpotAdapter struct {
	cfg           DirectSpotConfig
	onPriceUpdate func(types.PriceUpdate)
	onRawTrade    func(RawTrade)
	stats         Stats
	logger        *slog.Logger
}

// NewDirectSpotAdapter constructs a direct-spot adapter. onPriceUpdate
// feeds the synchronizer; onRawTrade (may be nil) feeds the price
// tracker, which needs quantity and buy/sell direction that a
// types.PriceUpdate doesn't carry.
func NewDirectSpotAdapter(cfg DirectSpotConfig, onPriceUpdate func(types.PriceUpdate), onRawTrade func(RawTrade), logger *slog.Logger) *DirectSpotAdapter {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &DirectSpotAdapter{
		cfg:           cfg,
		onPriceUpdate: onPriceUpdate,
		onRawTrade:    onRawTrade,
		logger:        logger.With("component", "stream.direct_spot"),
	}
}

// Connect runs the adapter until ctx is cancelled, reconnecting with
// exponential backoff on every drop.
func (a *DirectSpotAdapter) Connect(ctx context.Context) {
	runWithReconnect(ctx, &a.stats, time.Second, 30*time.Second, a.connectOnce)
}

// Stats exposes the adapter's observability counters.
func (a *DirectSpotAdapter) Stats() *Stats { return &a.stats }

func (a *DirectSpotAdapter) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial direct spot stream: %w", err)
	}
	defer conn.Close()

	a.logger.Info("connected")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		a.dispatch(msg)
	}
}

type aggTradeEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type aggTrade struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (a *DirectSpotAdapter) dispatch(msg []byte) {
	raw := msg
	var envelope aggTradeEnvelope
	if err := json.Unmarshal(msg, &envelope); err == nil && len(envelope.Data) > 0 {
		raw = envelope.Data
	}

	var trade aggTrade
	if err := json.Unmarshal(raw, &trade); err != nil {
		a.logger.Debug("malformed direct-spot message, dropping", "error", err)
		return
	}
	if trade.EventType != "aggTrade" {
		return
	}

	price := parseFloatOrZero(trade.Price)
	if price == 0 {
		return
	}
	symbol := strings.ToUpper(trade.Symbol)
	ts := time.UnixMilli(trade.TradeTime)

	a.stats.recordUpdate(price, ts)
	if a.onPriceUpdate != nil {
		a.onPriceUpdate(types.PriceUpdate{
			Source:      types.DirectSpot,
			Symbol:      symbol,
			Price:       price,
			TimestampMs: trade.TradeTime,
		})
	}
	if a.onRawTrade != nil {
		a.onRawTrade(RawTrade{
			Symbol:    symbol,
			Price:     price,
			Quantity:  parseFloatOrZero(trade.Quantity),
			IsBuy:     !trade.IsBuyerMaker,
			Timestamp: ts,
		})
	}
}

func parseFloatOrZero(s string) float64 {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return 0
	}
	return f
}
