package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/mx-town/updown-engine/pkg/types"
)

// RESTConfig configures the live REST execution backend.
type RESTConfig struct {
	BaseURL        string
	RequestsPerSec float64
	Burst          int
}

// REST talks to the venue's order-entry and book-read REST endpoints.
// Built the way the teacher's internal/exchange/client.go builds its
// CLOB client — resty for HTTP with retry on 5xx — but with the rate
// limiter swapped for golang.org/x/time/rate (the teacher hand-rolls a
// token bucket; this module uses the ecosystem's rate limiter instead)
// and a gobreaker circuit breaker wrapped around the order-placement
// call so repeated venue failures open the breaker rather than piling up
// retries against a struggling endpoint.
type REST struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewREST constructs a live execution backend.
func NewREST(cfg RESTConfig, logger *slog.Logger) *REST {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	burst := cfg.Burst
	if burst == 0 {
		burst = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "execution-rest",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &REST{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst),
		breaker: breaker,
		logger:  logger.With("component", "execution.rest"),
	}
}

// PlaceOrder submits an order for the given token/side/price/size.
func (r *REST) PlaceOrder(ctx context.Context, order types.UserOrder) (types.ExecutionResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return types.ExecutionResult{}, fmt.Errorf("rate limiter wait: %w", err)
	}

	result, err := r.breaker.Execute(func() (any, error) {
		var out types.ExecutionResult
		resp, err := r.http.R().
			SetContext(ctx).
			SetBody(order).
			SetResult(&out).
			Post("/orders")
		if err != nil {
			return nil, fmt.Errorf("post order: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
		}
		return out, nil
	})
	if err != nil {
		return types.ExecutionResult{Success: false, ErrorMessage: err.Error()}, err
	}
	return result.(types.ExecutionResult), nil
}

// GetOrderBook fetches the current top-of-book for a single token.
func (r *REST) GetOrderBook(ctx context.Context, tokenID string) (types.OrderBookUpdate, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return types.OrderBookUpdate{}, fmt.Errorf("rate limiter wait: %w", err)
	}

	var out types.OrderBookUpdate
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get("/book")
	if err != nil {
		return types.OrderBookUpdate{}, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderBookUpdate{}, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}

// GetOrderBooksBatch fetches several books via a single batch endpoint,
// per SPEC_FULL.md's "candle-open batch fetch" pattern generalized to
// book reads as well — one round trip instead of N.
func (r *REST) GetOrderBooksBatch(ctx context.Context, tokenIDs []string) (map[string]types.OrderBookUpdate, error) {
	if len(tokenIDs) == 0 {
		return map[string]types.OrderBookUpdate{}, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	body, err := json.Marshal(struct {
		TokenIDs []string `json:"token_ids"`
	}{TokenIDs: tokenIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	var out []types.OrderBookUpdate
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(json.RawMessage(body)).
		SetResult(&out).
		Post("/books")
	if err != nil {
		return nil, fmt.Errorf("get books batch: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get books batch: status %d: %s", resp.StatusCode(), resp.String())
	}

	result := make(map[string]types.OrderBookUpdate, len(out))
	for _, b := range out {
		result[b.TokenID] = b
	}
	return result, nil
}

var _ Execution = (*REST)(nil)
