// Package execution places orders and fetches order books against the
// prediction-market venue. Two implementations share one interface: a
// dry-run implementation that fabricates fills for backtesting/paper
// trading, and a REST implementation built the way the teacher's
// internal/exchange/client.go builds its CLOB client — resty for HTTP,
// now golang.org/x/time/rate for rate limiting (replacing the teacher's
// hand-rolled token bucket) and sony/gobreaker wrapped around the call so
// a misbehaving venue trips a breaker instead of compounding retries.
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mx-town/updown-engine/pkg/types"
)

// Execution is the narrow interface the engine depends on to enter,
// exit, and observe markets. It intentionally does not expose raw
// order-signing — see DESIGN.md for why polymarket-go-sdk was dropped in
// favor of this narrower boundary.
type Execution interface {
	PlaceOrder(ctx context.Context, order types.UserOrder) (types.ExecutionResult, error)
	GetOrderBook(ctx context.Context, tokenID string) (types.OrderBookUpdate, error)
	GetOrderBooksBatch(ctx context.Context, tokenIDs []string) (map[string]types.OrderBookUpdate, error)
}

// CandleOpenSource is the narrow interface the price tracker depends on
// at construction to seed each symbol's candle open, per spec.md §4.2's
// "candle opens are fetched via a one-shot batch REST call."
type CandleOpenSource interface {
	FetchOpens(ctx context.Context, symbols []string) (map[string]CandleOpen, error)
}

// CandleOpen is one symbol's interval-open price and the interval's start
// time.
type CandleOpen struct {
	OpenPrice     float64
	IntervalStart time.Time
}

// applyFee marks a price up by the venue's fee rate: price * (1 + feeRate).
// The dry-run implementation uses it for BUY fills; the REST implementation
// does not call it.
func applyFee(price decimal.Decimal, feeRate float64) decimal.Decimal {
	fee := decimal.NewFromFloat(feeRate)
	return price.Mul(decimal.NewFromInt(1).Add(fee))
}
