package execution

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// RESTCandleOpenSource fetches candle opens via a one-shot batch REST
// call at engine start, grounded on trading/bot.py's "fetch candle opens
// from Binance Klines API" step that seeds each SymbolTracker before the
// engine begins consuming trades.
type RESTCandleOpenSource struct {
	http *resty.Client
}

// NewRESTCandleOpenSource constructs a candle-open fetcher against the
// given klines-compatible base URL.
func NewRESTCandleOpenSource(baseURL string) *RESTCandleOpenSource {
	return &RESTCandleOpenSource{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
	}
}

type klineResponse [][]any

// FetchOpens fetches the most recent kline open for each symbol in a
// single batch of requests (one per symbol — the venue's klines endpoint
// has no multi-symbol form) and returns a symbol -> CandleOpen map.
func (s *RESTCandleOpenSource) FetchOpens(ctx context.Context, symbols []string) (map[string]CandleOpen, error) {
	out := make(map[string]CandleOpen, len(symbols))
	for _, symbol := range symbols {
		var klines klineResponse
		resp, err := s.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":   symbol,
				"interval": "1h",
				"limit":    "1",
			}).
			SetResult(&klines).
			Get("/api/v3/klines")
		if err != nil {
			return nil, fmt.Errorf("fetch candle open for %s: %w", symbol, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("fetch candle open for %s: status %d", symbol, resp.StatusCode())
		}
		if len(klines) == 0 || len(klines[0]) < 2 {
			return nil, fmt.Errorf("fetch candle open for %s: empty klines response", symbol)
		}

		openTimeMs, _ := klines[0][0].(float64)
		openPriceStr, _ := klines[0][1].(string)
		var openPrice float64
		fmt.Sscanf(openPriceStr, "%g", &openPrice)

		out[symbol] = CandleOpen{
			OpenPrice:     openPrice,
			IntervalStart: time.UnixMilli(int64(openTimeMs)),
		}
	}
	return out, nil
}

var _ CandleOpenSource = (*RESTCandleOpenSource)(nil)
