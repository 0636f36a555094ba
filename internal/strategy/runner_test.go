package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-engine/internal/events"
	"trading-engine/internal/ledger"
	"trading-engine/internal/order"
)

type submitHook struct {
	mu      sync.Mutex
	intents []events.OrderIntent
}

func (h *submitHook) submit(in events.OrderIntent) {
	h.mu.Lock()
	h.intents = append(h.intents, in)
	h.mu.Unlock()
}

func (h *submitHook) wait(t *testing.T, n int) []events.OrderIntent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		if len(h.intents) >= n {
			out := append([]events.OrderIntent(nil), h.intents...)
			h.mu.Unlock()
			return out
		}
		h.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	t.Fatalf("got %d intents, want %d", len(h.intents), n)
	return nil
}

func newTestRunner(t *testing.T) (*Runner, *events.Bus, *submitHook) {
	t.Helper()
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	led := ledger.New(ledger.Limits{}, nil)
	mach := order.NewMachine(led, 0, nil, nil)
	hook := &submitHook{}
	return NewRunner(bus, led, mach, hook.submit, nil), bus, hook
}

func TestRunnerDispatchesFilteredTicks(t *testing.T) {
	r, bus, hook := newTestRunner(t)
	r.Register(NewMomentum("mom", "BTCUSDT", d("1"), d("0.01")), Filter{Symbols: []string{"BTCUSDT"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	for _, ev := range []events.Event{
		tick("BTCUSDT", "100"),
		tick("ETHUSDT", "999"), // filtered out by the subscription
		tick("BTCUSDT", "105"),
	} {
		if _, err := bus.Publish(ev); err != nil {
			t.Fatal(err)
		}
	}

	got := hook.wait(t, 1)
	in := got[0]
	if in.Symbol != "BTCUSDT" || in.Side != events.SideBuy || !in.Qty.Equal(d("1")) {
		t.Fatalf("intent = %+v, want BTCUSDT buy of 1", in)
	}
	if in.StrategyID != "mom" || in.CorrelationID == "" {
		t.Fatalf("intent identity = strategy %q correlation %q", in.StrategyID, in.CorrelationID)
	}
}

func TestRunnerAppliesSizer(t *testing.T) {
	r, bus, hook := newTestRunner(t)
	r.SetSizer(&Sizer{MaxOrderQty: d("0.25")})
	r.Register(NewMomentum("mom", "BTCUSDT", d("1"), d("0.01")), Filter{Symbols: []string{"BTCUSDT"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	bus.Publish(tick("BTCUSDT", "100"))
	bus.Publish(tick("BTCUSDT", "105"))

	got := hook.wait(t, 1)
	if !got[0].Qty.Equal(d("0.25")) {
		t.Fatalf("qty = %s, want clipped 0.25", got[0].Qty)
	}
}

func TestRunnerRejectionReachesContext(t *testing.T) {
	r, _, _ := newTestRunner(t)
	r.Register(NewMomentum("mom", "BTCUSDT", d("1"), d("0.01")), Filter{})

	rej := Rejection{CorrelationID: "c1", Symbol: "BTCUSDT", Reason: "RiskLimitExceeded", At: time.Now()}
	r.NotifyRejection("mom", rej)
	// Unknown strategy ids are dropped without effect.
	r.NotifyRejection("ghost", rej)

	r.mu.Lock()
	e := r.entries["mom"]
	r.mu.Unlock()
	got, ok := e.ctx.LastRejection()
	if !ok || got.CorrelationID != "c1" || got.Reason != "RiskLimitExceeded" {
		t.Fatalf("rejection = %+v ok=%v", got, ok)
	}
	// Reading clears it.
	if _, ok := e.ctx.LastRejection(); ok {
		t.Fatal("rejection survived a read")
	}
}

func TestRunnerStatesRoundTrip(t *testing.T) {
	r, _, _ := newTestRunner(t)
	mom := NewMomentum("mom", "BTCUSDT", d("1"), d("0.01"))
	r.Register(mom, Filter{})
	// CopyTrade is stateless and must not appear in the state map.
	r.Register(NewCopyTrade("copy", map[string]decimal.Decimal{"w": d("1")}), Filter{})

	mom.OnEvent(tick("BTCUSDT", "123"), nil)

	states := r.States()
	if len(states) != 1 {
		t.Fatalf("states = %v, want only mom", states)
	}
	data, ok := states["mom"]
	if !ok {
		t.Fatal("mom state missing")
	}

	r2, _, _ := newTestRunner(t)
	mom2 := NewMomentum("mom", "BTCUSDT", d("1"), d("0.01"))
	r2.Register(mom2, Filter{})
	r2.RestoreState("mom", data)
	r2.RestoreState("ghost", data) // unknown id is a no-op

	if got := mom2.OnEvent(tick("BTCUSDT", "125"), nil); len(got) != 1 || got[0].Side != events.SideBuy {
		t.Fatalf("restored momentum intents = %+v, want one buy", got)
	}
}
