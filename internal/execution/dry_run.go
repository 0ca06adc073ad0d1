package execution

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mx-town/updown-engine/pkg/types"
)

// DryRunConfig tunes the simulated fill behavior.
type DryRunConfig struct {
	FeeRate float64
}

// DryRun fabricates immediate fills at the order's limit price (fee added on
// BUY). Fills do not consult the operator-seeded book; that book is only
// served back by GetOrderBook/GetOrderBooksBatch. Mirrors the teacher's dryRun short-circuit in
// internal/exchange/client.go (mutating methods return fake success
// without an HTTP call) but generalized into its own implementation of
// the Execution interface rather than an if-branch inside the real client.
type DryRun struct {
	cfg DryRunConfig

	mu     sync.RWMutex
	books  map[string]types.OrderBookUpdate
	nextID int
}

// NewDryRun constructs a dry-run execution backend.
func NewDryRun(cfg DryRunConfig) *DryRun {
	return &DryRun{cfg: cfg, books: make(map[string]types.OrderBookUpdate)}
}

// SeedBook lets a test or a live book-subscriber feed update the
// simulated venue's current book for a token.
func (d *DryRun) SeedBook(update types.OrderBookUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.books[update.TokenID] = update
}

// PlaceOrder fills immediately at the order's limit price, applying the
// configured fee rate.
func (d *DryRun) PlaceOrder(ctx context.Context, order types.UserOrder) (types.ExecutionResult, error) {
	d.mu.Lock()
	d.nextID++
	d.mu.Unlock()

	filled := order.Price
	if order.Side == types.BUY {
		filled = applyFee(order.Price, d.cfg.FeeRate)
	}

	return types.ExecutionResult{
		Success:     true,
		FilledSize:  order.Size,
		FilledPrice: filled,
	}, nil
}

// GetOrderBook returns the last seeded book for a token, or an empty one
// if none has been seeded yet.
func (d *DryRun) GetOrderBook(ctx context.Context, tokenID string) (types.OrderBookUpdate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if b, ok := d.books[tokenID]; ok {
		return b, nil
	}
	return types.OrderBookUpdate{TokenID: tokenID}, nil
}

// GetOrderBooksBatch fetches several books; always succeeds for seeded
// tokens in this simulated backend.
func (d *DryRun) GetOrderBooksBatch(ctx context.Context, tokenIDs []string) (map[string]types.OrderBookUpdate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]types.OrderBookUpdate, len(tokenIDs))
	for _, id := range tokenIDs {
		if b, ok := d.books[id]; ok {
			out[id] = b
		} else {
			out[id] = types.OrderBookUpdate{TokenID: id}
		}
	}
	return out, nil
}

var _ Execution = (*DryRun)(nil)

// DecimalOrZero is a small helper for constructing UserOrder prices in
// tests without importing shopspring/decimal directly everywhere.
func DecimalOrZero(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
