package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-engine/internal/events"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func intent(id string, qty, price string) events.OrderIntent {
	return events.OrderIntent{
		CorrelationID: id,
		StrategyID:    "test",
		Symbol:        "BTCUSDT",
		Side:          events.SideBuy,
		Qty:           d(qty),
		Price:         d(price),
	}
}

// collect drains lifecycle events from the bus until want events of the given
// types arrive or the deadline passes.
func collect(t *testing.T, sub *events.Subscription, want int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, want)
	deadline := time.After(2 * time.Second)
	for len(out) < want {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d of %d events", len(out), want)
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(out), want)
		}
	}
	return out
}

func lifecycleSub(bus *events.Bus) *events.Subscription {
	return bus.Subscribe(events.SubscribeOptions{
		Name:   "test",
		Buffer: 64,
		Policy: events.BlockPublisher,
		Types: []events.Type{
			events.TypeOrderAck,
			events.TypeOrderFill,
			events.TypeOrderReject,
			events.TypeOrderCancelAck,
		},
	})
}

func TestSubmitAcksThenFills(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	sub := lifecycleSub(bus)
	g := New(bus, Config{}, nil)

	if err := g.Submit(context.Background(), intent("c1", "10", "100")); err != nil {
		t.Fatal(err)
	}

	got := collect(t, sub, 2)
	if got[0].Type != events.TypeOrderAck {
		t.Fatalf("first event = %s, want order_ack", got[0].Type)
	}
	if got[0].Ack.CorrelationID != "c1" || got[0].Ack.ExchangeOrderID == "" {
		t.Fatalf("ack = %+v", got[0].Ack)
	}
	if got[1].Type != events.TypeOrderFill {
		t.Fatalf("second event = %s, want order_fill", got[1].Type)
	}
	fill := got[1].Fill
	if !fill.Qty.Equal(d("10")) || !fill.Price.Equal(d("100")) {
		t.Fatalf("fill = %+v, want 10 @ 100", fill)
	}
	if !fill.Fee.IsZero() {
		t.Fatalf("fee = %s, want 0 with no fee configured", fill.Fee)
	}
}

func TestFeeChargedOnFillNotional(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	sub := lifecycleSub(bus)
	g := New(bus, Config{FeeBps: 10}, nil)

	if err := g.Submit(context.Background(), intent("c1", "10", "100")); err != nil {
		t.Fatal(err)
	}

	// 10 bps of 10 * 100 notional.
	got := collect(t, sub, 2)
	if !got[1].Fill.Fee.Equal(d("1")) {
		t.Fatalf("fee = %s, want 1", got[1].Fill.Fee)
	}
}

func TestSubmitSplitsIntoChunks(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	sub := lifecycleSub(bus)
	g := New(bus, Config{FillChunks: 4}, nil)

	if err := g.Submit(context.Background(), intent("c1", "10", "100")); err != nil {
		t.Fatal(err)
	}

	got := collect(t, sub, 5) // ack + 4 fills
	total := decimal.Zero
	for _, ev := range got[1:] {
		if ev.Type != events.TypeOrderFill {
			t.Fatalf("event = %s, want order_fill", ev.Type)
		}
		total = total.Add(ev.Fill.Qty)
	}
	if !total.Equal(d("10")) {
		t.Fatalf("fills sum to %s, want 10", total)
	}
}

func TestMarketOrderNeedsPrice(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	g := New(bus, Config{}, nil)

	err := g.Submit(context.Background(), intent("c1", "1", "0"))
	if !errors.Is(err, ErrNoMarketPrice) {
		t.Fatalf("err = %v, want ErrNoMarketPrice", err)
	}

	// With a seeded last trade price the market order executes at it.
	sub := lifecycleSub(bus)
	g.SetPrice("BTCUSDT", d("250"))
	if err := g.Submit(context.Background(), intent("c2", "1", "0")); err != nil {
		t.Fatal(err)
	}
	got := collect(t, sub, 2)
	if !got[1].Fill.Price.Equal(d("250")) {
		t.Fatalf("fill price = %s, want seeded 250", got[1].Fill.Price)
	}
}

func TestRejectQtyAboveLimit(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	sub := lifecycleSub(bus)
	g := New(bus, Config{RejectQtyAbove: d("5")}, nil)

	if err := g.Submit(context.Background(), intent("c1", "6", "100")); err != nil {
		t.Fatal(err)
	}
	got := collect(t, sub, 1)
	if got[0].Type != events.TypeOrderReject {
		t.Fatalf("event = %s, want order_reject", got[0].Type)
	}
	if got[0].Reject.CorrelationID != "c1" || got[0].Reject.Reason == "" {
		t.Fatalf("reject = %+v", got[0].Reject)
	}
}

func TestDropAcksLeavesOrderSilent(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	sub := lifecycleSub(bus)
	g := New(bus, Config{DropAcks: true}, nil)

	if err := g.Submit(context.Background(), intent("c1", "1", "100")); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s with acks dropped", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelOpenOrder(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	sub := lifecycleSub(bus)
	// Latency keeps the order open long enough to cancel it between fills.
	g := New(bus, Config{LatencyMin: 50 * time.Millisecond, LatencyMax: 60 * time.Millisecond, FillChunks: 50}, nil)

	if err := g.Submit(context.Background(), intent("c1", "10", "100")); err != nil {
		t.Fatal(err)
	}
	// Wait for the ack so the order is live at the venue.
	got := collect(t, sub, 1)
	if got[0].Type != events.TypeOrderAck {
		t.Fatalf("event = %s, want order_ack", got[0].Type)
	}

	if err := g.Cancel(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == events.TypeOrderCancelAck {
				if ev.CancelAck.CorrelationID != "c1" {
					t.Fatalf("cancel ack = %+v", ev.CancelAck)
				}
				return
			}
			// Fills already in flight may still land first.
			if ev.Type != events.TypeOrderFill {
				t.Fatalf("unexpected event %s while canceling", ev.Type)
			}
		case <-deadline:
			t.Fatal("no cancel ack")
		}
	}
}

func TestCancelUnknownOrderIsNoOp(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	g := New(bus, Config{}, nil)
	if err := g.Cancel(context.Background(), "ghost"); err != nil {
		t.Fatal(err)
	}
}
