// Package paper simulates an exchange for development and tests: orders are
// acknowledged and filled in-memory with configurable latency, slippage and
// fee behavior, reporting back through the event bus exactly like a real
// venue adapter would.
package paper

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-engine/internal/events"
	"trading-engine/pkg/cache"
)

var ErrNoMarketPrice = errors.New("paper: no market price for symbol")

// Config controls the simulation.
type Config struct {
	LatencyMin  time.Duration // per hop: submit->ack, ack->fill
	LatencyMax  time.Duration
	SlippageBps float64 // applied against the taker on market orders
	FeeBps      float64 // taker fee charged on each fill's notional
	FillChunks  int     // number of partial fills per order (>=1)
	// DropAcks suppresses acknowledgments entirely, leaving orders pending
	// until the core's ack timeout expires. Test hook.
	DropAcks bool
	// RejectQtyAbove rejects any order larger than this quantity, zero
	// disables. Stands in for venue-side order validation.
	RejectQtyAbove decimal.Decimal
}

type liveOrder struct {
	intent    events.OrderIntent
	remaining decimal.Decimal
	canceled  bool
}

// Gateway is the simulated exchange. It tracks last trade prices from the
// bus's market ticks to price incoming market orders.
type Gateway struct {
	bus *events.Bus
	cfg Config
	log *zap.Logger

	prices *cache.PriceCache

	mu   sync.Mutex
	rng  *rand.Rand
	open map[string]*liveOrder
}

func New(bus *events.Bus, cfg Config, log *zap.Logger) *Gateway {
	if cfg.FillChunks <= 0 {
		cfg.FillChunks = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		bus:    bus,
		cfg:    cfg,
		log:    log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		prices: cache.NewPriceCache(),
		open:   make(map[string]*liveOrder),
	}
}

// Start consumes market ticks so the simulated venue always has a last trade
// price to execute market orders against.
func (g *Gateway) Start(ctx context.Context) {
	sub := g.bus.Subscribe(events.SubscribeOptions{
		Name:   "paper-gateway",
		Buffer: 512,
		Policy: events.DropOldest,
		Types:  []events.Type{events.TypeMarketTick},
	})
	go sub.Run(ctx, func(ev events.Event) {
		g.prices.Set(ev.Tick.Symbol, ev.Tick.Price)
	})
}

// SetPrice seeds a last trade price directly. Test hook.
func (g *Gateway) SetPrice(symbol string, price decimal.Decimal) {
	g.prices.Set(symbol, price)
}

// Submit accepts an intent and simulates the venue's asynchronous responses.
func (g *Gateway) Submit(ctx context.Context, intent events.OrderIntent) error {
	price, havePrice := g.prices.Get(intent.Symbol)
	if intent.Market() && !havePrice {
		return ErrNoMarketPrice
	}
	if !intent.Market() {
		price = intent.Price
	}

	g.mu.Lock()
	g.open[intent.CorrelationID] = &liveOrder{intent: intent, remaining: intent.Qty}
	g.mu.Unlock()

	go g.execute(ctx, intent, price)
	return nil
}

// Cancel asks the venue to cancel an order. The cancel ack arrives
// asynchronously; canceling an order the venue already finished is a no-op
// (the core will see a duplicate-tolerant terminal event instead).
func (g *Gateway) Cancel(ctx context.Context, correlationID string) error {
	g.mu.Lock()
	o, ok := g.open[correlationID]
	if ok {
		o.canceled = true
	}
	g.mu.Unlock()
	if !ok {
		return nil
	}

	go func() {
		g.sleep(ctx)
		g.finish(correlationID)
		g.publish(events.Event{
			Type:      events.TypeOrderCancelAck,
			Symbol:    o.intent.Symbol,
			CancelAck: &events.OrderCancelAck{CorrelationID: correlationID},
		})
	}()
	return nil
}

func (g *Gateway) execute(ctx context.Context, intent events.OrderIntent, price decimal.Decimal) {
	g.sleep(ctx)

	if g.cfg.RejectQtyAbove.IsPositive() && intent.Qty.GreaterThan(g.cfg.RejectQtyAbove) {
		g.finish(intent.CorrelationID)
		g.publish(events.Event{
			Type:   events.TypeOrderReject,
			Symbol: intent.Symbol,
			Reject: &events.OrderReject{CorrelationID: intent.CorrelationID, Reason: "qty above venue limit"},
		})
		return
	}

	if g.cfg.DropAcks {
		g.finish(intent.CorrelationID)
		return
	}

	g.publish(events.Event{
		Type:   events.TypeOrderAck,
		Symbol: intent.Symbol,
		Ack: &events.OrderAck{
			CorrelationID:   intent.CorrelationID,
			ExchangeOrderID: "paper-" + uuid.NewString(),
		},
	})

	fillPrice := g.slip(intent.Side, price)
	chunks := g.splitQty(intent.Qty)
	for _, qty := range chunks {
		g.sleep(ctx)
		if ctx.Err() != nil {
			return
		}

		g.mu.Lock()
		o, ok := g.open[intent.CorrelationID]
		if !ok || o.canceled {
			g.mu.Unlock()
			return
		}
		o.remaining = o.remaining.Sub(qty)
		done := o.remaining.IsZero()
		if done {
			delete(g.open, intent.CorrelationID)
		}
		g.mu.Unlock()

		g.publish(events.Event{
			Type:   events.TypeOrderFill,
			Symbol: intent.Symbol,
			Fill: &events.OrderFill{
				CorrelationID: intent.CorrelationID,
				Qty:           qty,
				Price:         fillPrice,
				Fee:           g.fee(qty, fillPrice),
			},
		})
		if done {
			return
		}
	}
}

// splitQty divides an order into FillChunks lot-sized partial fills, with the
// remainder on the last chunk.
func (g *Gateway) splitQty(qty decimal.Decimal) []decimal.Decimal {
	n := g.cfg.FillChunks
	if n <= 1 {
		return []decimal.Decimal{qty}
	}
	chunk := qty.Div(decimal.NewFromInt(int64(n))).Truncate(8)
	if !chunk.IsPositive() {
		return []decimal.Decimal{qty}
	}
	out := make([]decimal.Decimal, 0, n)
	rest := qty
	for i := 0; i < n-1; i++ {
		out = append(out, chunk)
		rest = rest.Sub(chunk)
	}
	return append(out, rest)
}

func (g *Gateway) fee(qty, price decimal.Decimal) decimal.Decimal {
	if g.cfg.FeeBps <= 0 {
		return decimal.Zero
	}
	rate := decimal.NewFromFloat(g.cfg.FeeBps).Div(decimal.NewFromInt(10000))
	return qty.Mul(price).Mul(rate)
}

func (g *Gateway) slip(side events.Side, price decimal.Decimal) decimal.Decimal {
	if g.cfg.SlippageBps <= 0 {
		return price
	}
	g.mu.Lock()
	noise := g.rng.Float64() * g.cfg.SlippageBps / 10000.0
	g.mu.Unlock()
	f := decimal.NewFromFloat(noise)
	if side == events.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(f))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(f))
}

func (g *Gateway) sleep(ctx context.Context) {
	max := g.cfg.LatencyMax
	min := g.cfg.LatencyMin
	if max <= 0 {
		return
	}
	if min < 0 {
		min = 0
	}
	if min > max {
		min, max = max, min
	}
	d := min
	if span := max - min; span > 0 {
		g.mu.Lock()
		d += time.Duration(g.rng.Int63n(int64(span) + 1))
		g.mu.Unlock()
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (g *Gateway) finish(correlationID string) {
	g.mu.Lock()
	delete(g.open, correlationID)
	g.mu.Unlock()
}

func (g *Gateway) publish(ev events.Event) {
	ev.SourceTime = time.Now()
	if _, err := g.bus.Publish(ev); err != nil {
		g.log.Warn("paper: publish failed", zap.Error(err))
	}
}
