package stream

import (
	"log/slog"
	"io"
	"testing"

	"github.com/mx-town/updown-engine/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDirectSpotDispatchEmitsPriceAndRawTrade(t *testing.T) {
	t.Parallel()
	var gotPrice types.PriceUpdate
	var gotTrade RawTrade
	a := NewDirectSpotAdapter(DirectSpotConfig{}, func(u types.PriceUpdate) { gotPrice = u }, func(r RawTrade) { gotTrade = r }, discardLogger())

	msg := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","p":"50100.5","q":"0.3","T":1700000000000,"m":false}}`)
	a.dispatch(msg)

	if gotPrice.Source != types.DirectSpot || gotPrice.Price != 50100.5 {
		t.Errorf("price update = %+v", gotPrice)
	}
	if !gotTrade.IsBuy {
		t.Error("expected IsBuy=true when is_buyer_maker=false")
	}
	if gotTrade.Quantity != 0.3 {
		t.Errorf("quantity = %v, want 0.3", gotTrade.Quantity)
	}
}

func TestDirectSpotDispatchIgnoresNonAggTradeEvents(t *testing.T) {
	t.Parallel()
	called := false
	a := NewDirectSpotAdapter(DirectSpotConfig{}, func(types.PriceUpdate) { called = true }, nil, discardLogger())

	a.dispatch([]byte(`{"e":"depthUpdate"}`))
	if called {
		t.Error("expected no callback for non-aggTrade event")
	}
}

func TestVenueMultiplexHandlesSpotAndOracleTopics(t *testing.T) {
	t.Parallel()
	var updates []types.PriceUpdate
	a := NewVenueMultiplexAdapter(VenueMultiplexConfig{Symbol: "btcusdt"}, func(u types.PriceUpdate) {
		updates = append(updates, u)
	}, discardLogger())

	a.dispatch([]byte(`{"topic":"crypto_prices","payload":{"symbol":"btcusdt","value":78542.54,"timestamp":1770077127000}}`))
	a.dispatch([]byte(`{"topic":"crypto_prices_chainlink","payload":{"symbol":"btc/usd","value":78483.94,"timestamp":1770077127500}}`))
	a.dispatch([]byte(`{"topic":"crypto_prices","payload":{"symbol":"ethusdt","value":3000}}`)) // wrong symbol, filtered

	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[0].Source != types.VenueSpot || updates[0].Price != 78542.54 {
		t.Errorf("spot update = %+v", updates[0])
	}
	if updates[1].Source != types.VenueOracle || updates[1].Price != 78483.94 {
		t.Errorf("oracle update = %+v", updates[1])
	}
}

func TestVenueMultiplexDropsNonJSONFrames(t *testing.T) {
	t.Parallel()
	called := false
	a := NewVenueMultiplexAdapter(VenueMultiplexConfig{Symbol: "btcusdt"}, func(types.PriceUpdate) { called = true }, discardLogger())

	a.dispatch([]byte("0"))
	a.dispatch([]byte(""))
	a.dispatch([]byte("pong"))
	if called {
		t.Error("expected no callback for heartbeat/non-JSON frames")
	}
}

func TestBookAdapterFullSnapshotThenPriceChangeRetainsSize(t *testing.T) {
	t.Parallel()
	var updates []types.OrderBookUpdate
	a := NewBookAdapter(BookConfig{}, func(u types.OrderBookUpdate) { updates = append(updates, u) }, discardLogger())

	a.handleBook([]byte(`{"event_type":"book","asset_id":"tok1","bids":[["0.52","1000"]],"asks":[["0.54","800"]]}`))
	a.handlePriceChange([]byte(`{"event_type":"price_change","asset_id":"tok1","price_changes":[{"best_bid":"0.53","best_ask":"0.55"}]}`))

	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	second := updates[1]
	if second.BestBid != 0.53 || second.BestAsk != 0.55 {
		t.Errorf("prices after price_change = %+v", second)
	}
	if second.BidSize != 1000 || second.AskSize != 800 {
		t.Errorf("sizes after price_change = bid=%v ask=%v, want retained 1000/800", second.BidSize, second.AskSize)
	}
}

func TestBookAdapterIgnoresZeroSidePriceChange(t *testing.T) {
	t.Parallel()
	var updates []types.OrderBookUpdate
	a := NewBookAdapter(BookConfig{}, func(u types.OrderBookUpdate) { updates = append(updates, u) }, discardLogger())

	a.handleBook([]byte(`{"event_type":"book","asset_id":"tok1","bids":[["0.52","1000"]],"asks":[["0.54","800"]]}`))
	a.handlePriceChange([]byte(`{"event_type":"price_change","asset_id":"tok1","price_changes":[{"best_bid":"0","best_ask":"0"}]}`))

	if len(updates) != 1 {
		t.Errorf("updates = %d, want 1 (zero-side change ignored)", len(updates))
	}
}

func TestIsRateLimitError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		msg  string
		want bool
	}{
		{"execution reverted: rate limit exceeded", true},
		{"json-rpc error -32090", true},
		{"connection refused", false},
	}
	for _, c := range cases {
		if got := isRateLimitError(errString(c.msg)); got != c.want {
			t.Errorf("isRateLimitError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
