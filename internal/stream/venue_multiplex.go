package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mx-town/updown-engine/pkg/types"
)

// VenueMultiplexConfig configures the venue-side stream that carries both
// spot and oracle prices on separately dispatched topics.
type VenueMultiplexConfig struct {
	URL            string
	Symbol         string // e.g. "btcusdt", matched case-insensitively against crypto_prices.symbol
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// VenueMultiplexAdapter subscribes to a single multiplexed connection
// carrying both a spot-price topic ("crypto_prices") and an oracle-price
// topic ("crypto_prices_chainlink"). Per spec.md §4.1, ping cadence here
// is a JSON `{"action":"ping"}` frame every 10s — distinct from the book
// subscriber's plain-text ping.
//
// Grounded on original_source/src/data/streams/rtds.py.
type VenueMultiplexAdapter struct {
	cfg           VenueMultiplexConfig
	onPriceUpdate func(types.PriceUpdate)
	stats         Stats
	logger        *slog.Logger
}

// NewVenueMultiplexAdapter constructs the venue-multiplex adapter.
func NewVenueMultiplexAdapter(cfg VenueMultiplexConfig, onPriceUpdate func(types.PriceUpdate), logger *slog.Logger) *VenueMultiplexAdapter {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 10 * time.Second
	}
	return &VenueMultiplexAdapter{
		cfg:           cfg,
		onPriceUpdate: onPriceUpdate,
		logger:        logger.With("component", "stream.venue_multiplex"),
	}
}

// Connect runs the adapter until ctx is cancelled.
func (a *VenueMultiplexAdapter) Connect(ctx context.Context) {
	runWithReconnect(ctx, &a.stats, time.Second, 30*time.Second, a.connectOnce)
}

// Stats exposes the adapter's observability counters.
func (a *VenueMultiplexAdapter) Stats() *Stats { return &a.stats }

func (a *VenueMultiplexAdapter) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial venue multiplex stream: %w", err)
	}
	defer conn.Close()

	if err := a.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	a.logger.Info("connected")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go a.pingLoop(pingCtx, conn)

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

func (a *VenueMultiplexAdapter) subscribe(conn *websocket.Conn) error {
	msg := map[string]any{
		"action": "subscribe",
		"subscriptions": []map[string]string{
			{"topic": "crypto_prices", "type": "update"},
			{"topic": "crypto_prices_chainlink", "type": "*"},
		},
	}
	return conn.WriteJSON(msg)
}

func (a *VenueMultiplexAdapter) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"action": "ping"}); err != nil {
				a.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

type multiplexEnvelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type cryptoPricePayload struct {
	Symbol    string `json:"symbol"`
	Value     any    `json:"value"`
	Timestamp any    `json:"timestamp"`
}

func (a *VenueMultiplexAdapter) dispatch(msg []byte) {
	trimmed := strings.TrimSpace(string(msg))
	if trimmed == "" || (!strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[")) {
		return // non-JSON / heartbeat frames dropped silently, per spec.md §4.1
	}

	var envelope multiplexEnvelope
	if err := json.Unmarshal(msg, &envelope); err != nil {
		a.logger.Debug("malformed venue-multiplex message, dropping", "error", err)
		return
	}

	switch envelope.Topic {
	case "crypto_prices":
		a.handleSpot(envelope.Payload)
	case "crypto_prices_chainlink":
		a.handleOracle(envelope.Payload)
	}
}

func (a *VenueMultiplexAdapter) handleSpot(payload json.RawMessage) {
	var p cryptoPricePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	if !strings.EqualFold(p.Symbol, a.cfg.Symbol) {
		return
	}
	price, ts, ok := parseValueAndTimestamp(p.Value, p.Timestamp)
	if !ok {
		return
	}
	a.stats.recordUpdate(price, time.UnixMilli(ts))
	if a.onPriceUpdate != nil {
		a.onPriceUpdate(types.PriceUpdate{
			Source:      types.VenueSpot,
			Symbol:      strings.ToUpper(a.cfg.Symbol),
			Price:       price,
			TimestampMs: ts,
		})
	}
}

func (a *VenueMultiplexAdapter) handleOracle(payload json.RawMessage) {
	var p cryptoPricePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	if !strings.EqualFold(p.Symbol, "btc/usd") {
		return
	}
	price, ts, ok := parseValueAndTimestamp(p.Value, p.Timestamp)
	if !ok {
		return
	}
	a.stats.recordUpdate(price, time.UnixMilli(ts))
	if a.onPriceUpdate != nil {
		a.onPriceUpdate(types.PriceUpdate{
			Source:      types.VenueOracle,
			Symbol:      "BTCUSD",
			Price:       price,
			TimestampMs: ts,
		})
	}
}

func parseValueAndTimestamp(value, timestamp any) (price float64, ts int64, ok bool) {
	switch v := value.(type) {
	case float64:
		price = v
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, 0, false
		}
		price = parsed
	default:
		return 0, 0, false
	}

	switch v := timestamp.(type) {
	case float64:
		ts = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			ts = time.Now().UnixMilli()
		} else {
			ts = parsed
		}
	default:
		ts = time.Now().UnixMilli()
	}
	return price, ts, true
}
