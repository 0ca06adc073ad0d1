package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mx-town/updown-engine/pkg/types"
)

func TestDryRunPlaceOrderAppliesFeeOnBuy(t *testing.T) {
	t.Parallel()
	d := NewDryRun(DryRunConfig{FeeRate: 0.02})

	result, err := d.PlaceOrder(context.Background(), types.UserOrder{
		TokenID: "tok1",
		Side:    types.BUY,
		Price:   decimal.NewFromFloat(0.50),
		Size:    decimal.NewFromFloat(100),
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	want := decimal.NewFromFloat(0.50).Mul(decimal.NewFromFloat(1.02))
	if !result.FilledPrice.Equal(want) {
		t.Errorf("filled price = %v, want %v", result.FilledPrice, want)
	}
}

func TestDryRunPlaceOrderNoFeeOnSell(t *testing.T) {
	t.Parallel()
	d := NewDryRun(DryRunConfig{FeeRate: 0.02})

	result, err := d.PlaceOrder(context.Background(), types.UserOrder{
		TokenID: "tok1",
		Side:    types.SELL,
		Price:   decimal.NewFromFloat(0.60),
		Size:    decimal.NewFromFloat(50),
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !result.FilledPrice.Equal(decimal.NewFromFloat(0.60)) {
		t.Errorf("filled price = %v, want 0.60 (no fee on sell)", result.FilledPrice)
	}
}

func TestDryRunGetOrderBookReturnsSeededBook(t *testing.T) {
	t.Parallel()
	d := NewDryRun(DryRunConfig{})
	d.SeedBook(types.OrderBookUpdate{TokenID: "tok1", BestBid: 0.4, BestAsk: 0.5, BidPresent: true, AskPresent: true})

	b, err := d.GetOrderBook(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("get order book: %v", err)
	}
	if b.BestBid != 0.4 || b.BestAsk != 0.5 {
		t.Errorf("book = %+v", b)
	}

	empty, err := d.GetOrderBook(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("get order book: %v", err)
	}
	if empty.BidPresent || empty.AskPresent {
		t.Errorf("expected empty book for unseeded token, got %+v", empty)
	}
}

func TestDryRunGetOrderBooksBatch(t *testing.T) {
	t.Parallel()
	d := NewDryRun(DryRunConfig{})
	d.SeedBook(types.OrderBookUpdate{TokenID: "tok1", BestBid: 0.4, BidPresent: true})
	d.SeedBook(types.OrderBookUpdate{TokenID: "tok2", BestBid: 0.3, BidPresent: true})

	books, err := d.GetOrderBooksBatch(context.Background(), []string{"tok1", "tok2", "tok3"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(books) != 3 {
		t.Fatalf("books = %d, want 3", len(books))
	}
	if books["tok3"].BidPresent {
		t.Error("expected tok3 to be an empty unseeded book")
	}
}
