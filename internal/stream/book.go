package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mx-town/updown-engine/pkg/types"
)

// BookConfig configures the limit-order-book subscriber.
type BookConfig struct {
	URL            string
	TokenIDs       []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

type bookSide struct {
	price float64
	size  float64
}

// BookAdapter normalizes both full-book snapshots ("book" events) and
// incremental price-change messages ("price_change" events) into
// types.OrderBookUpdate, retaining each side's last-known size across
// price-change messages that report a new price but omit size — the CLOB
// only reports the field that moved.
//
// Ping cadence here is a plain-text "ping" frame every 5s, distinct from
// the venue-multiplex adapter's JSON ping.
//
// Grounded on original_source/src/data/polymarket_ws.py (_handle_book,
// _handle_price_change) and structurally on the teacher's
// internal/market/book.go.
type BookAdapter struct {
	cfg        BookConfig
	onBookUpdate func(types.OrderBookUpdate)
	stats      Stats
	logger     *slog.Logger

	mu    sync.Mutex
	books map[string]struct {
		bid bookSide
		ask bookSide
	}
}

// NewBookAdapter constructs the book subscriber.
func NewBookAdapter(cfg BookConfig, onBookUpdate func(types.OrderBookUpdate), logger *slog.Logger) *BookAdapter {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 5 * time.Second
	}
	return &BookAdapter{
		cfg:          cfg,
		onBookUpdate: onBookUpdate,
		logger:       logger.With("component", "stream.book"),
		books: make(map[string]struct {
			bid bookSide
			ask bookSide
		}),
	}
}

// Stats exposes the adapter's observability counters.
func (a *BookAdapter) Stats() *Stats { return &a.stats }

// Connect runs the adapter until ctx is cancelled.
func (a *BookAdapter) Connect(ctx context.Context) {
	runWithReconnect(ctx, &a.stats, time.Second, 30*time.Second, a.connectOnce)
}

func (a *BookAdapter) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial book stream: %w", err)
	}
	defer conn.Close()

	if err := a.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	a.logger.Info("connected", "tokens", len(a.cfg.TokenIDs))

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

func (a *BookAdapter) subscribe(conn *websocket.Conn) error {
	return conn.WriteJSON(map[string]any{
		"type":       "market",
		"assets_ids": a.cfg.TokenIDs,
	})
}

func (a *BookAdapter) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				a.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

type bookEnvelope struct {
	EventType string `json:"event_type"`
}

type bookSnapshotMsg struct {
	AssetID string     `json:"asset_id"`
	Bids    [][]string `json:"bids"`
	Asks    [][]string `json:"asks"`
}

type priceChangeMsg struct {
	AssetID      string `json:"asset_id"`
	PriceChanges []struct {
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	} `json:"price_changes"`
}

func (a *BookAdapter) dispatch(msg []byte) {
	trimmed := strings.TrimSpace(string(msg))
	if trimmed == "" {
		return
	}
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return // "ping"/"pong"/heartbeat text frames dropped silently
	}

	var envelope bookEnvelope
	if err := json.Unmarshal(msg, &envelope); err != nil {
		a.logger.Debug("malformed book message, dropping", "error", err)
		return
	}

	switch envelope.EventType {
	case "book":
		a.handleBook(msg)
	case "price_change":
		a.handlePriceChange(msg)
	}
}

func (a *BookAdapter) handleBook(msg []byte) {
	var snap bookSnapshotMsg
	if err := json.Unmarshal(msg, &snap); err != nil || snap.AssetID == "" {
		return
	}

	var bid, ask bookSide
	if len(snap.Bids) > 0 && len(snap.Bids[0]) >= 2 {
		bid = bookSide{price: parseFloatSafe(snap.Bids[0][0]), size: parseFloatSafe(snap.Bids[0][1])}
	}
	if len(snap.Asks) > 0 && len(snap.Asks[0]) >= 2 {
		ask = bookSide{price: parseFloatSafe(snap.Asks[0][0]), size: parseFloatSafe(snap.Asks[0][1])}
	}

	a.mu.Lock()
	a.books[snap.AssetID] = struct {
		bid bookSide
		ask bookSide
	}{bid: bid, ask: ask}
	a.mu.Unlock()

	a.emit(snap.AssetID, bid, ask)
}

// handlePriceChange applies an incremental update. The message reports a
// new best_bid/best_ask but never a size — the prior side's size is
// retained rather than zeroed, per spec.md §4.1's "preserving per-level
// size across price-change messages that omit size."
func (a *BookAdapter) handlePriceChange(msg []byte) {
	var change priceChangeMsg
	if err := json.Unmarshal(msg, &change); err != nil || change.AssetID == "" || len(change.PriceChanges) == 0 {
		return
	}
	first := change.PriceChanges[0]
	newBid := parseFloatSafe(first.BestBid)
	newAsk := parseFloatSafe(first.BestAsk)
	if newBid <= 0 || newAsk <= 0 {
		return
	}

	a.mu.Lock()
	entry := a.books[change.AssetID]
	entry.bid = bookSide{price: newBid, size: entry.bid.size}
	entry.ask = bookSide{price: newAsk, size: entry.ask.size}
	a.books[change.AssetID] = entry
	a.mu.Unlock()

	a.emit(change.AssetID, entry.bid, entry.ask)
}

func (a *BookAdapter) emit(tokenID string, bid, ask bookSide) {
	update := types.OrderBookUpdate{
		TokenID:     tokenID,
		BestBid:     bid.price,
		BidPresent:  bid.price > 0,
		BidSize:     bid.size,
		BestAsk:     ask.price,
		AskPresent:  ask.price > 0,
		AskSize:     ask.size,
		TimestampMs: time.Now().UnixMilli(),
	}
	if mid, ok := update.MidPrice(); ok {
		a.stats.recordUpdate(mid, time.Now())
	}
	if a.onBookUpdate != nil {
		a.onBookUpdate(update)
	}
}

func parseFloatSafe(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
