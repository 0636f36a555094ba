package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-engine/internal/events"
)

// MockFeed generates synthetic random-walk ticks for local development and
// paper trading. When Traders is non-empty, a fraction of ticks carry
// simulated trader activity for copy-trade strategies.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice decimal.Decimal
	Step       decimal.Decimal
	Interval   time.Duration
	Traders    []string
	Log        *zap.Logger

	rng    *rand.Rand
	prices map[string]decimal.Decimal
}

// Start launches the tick generator. It returns after spawning; the generator
// stops when ctx is canceled.
func (m *MockFeed) Start(ctx context.Context) error {
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	if m.StartPrice.IsZero() {
		m.StartPrice = decimal.NewFromInt(100)
	}
	if m.Step.IsZero() {
		m.Step = decimal.NewFromFloat(0.5)
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	m.prices = make(map[string]decimal.Decimal, len(m.Symbols))
	for _, sym := range m.Symbols {
		m.prices[sym] = m.StartPrice
	}

	go m.run(ctx)
	return nil
}

func (m *MockFeed) run(ctx context.Context) {
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, sym := range m.Symbols {
				tick := m.nextTick(sym)
				if _, err := m.Bus.Publish(events.Event{
					Type:       events.TypeMarketTick,
					Symbol:     sym,
					SourceTime: time.Now(),
					Tick:       &tick,
				}); err != nil {
					m.Log.Warn("mock feed stopped", zap.Error(err))
					return
				}
			}
		}
	}
}

func (m *MockFeed) nextTick(symbol string) events.MarketTick {
	walk := decimal.NewFromFloat(m.rng.Float64()*2 - 1).Mul(m.Step)
	price := m.prices[symbol].Add(walk)
	if !price.IsPositive() {
		price = m.prices[symbol]
	}
	m.prices[symbol] = price

	tick := events.MarketTick{Symbol: symbol, Price: price}
	// Roughly one tick in five carries trader activity.
	if len(m.Traders) > 0 && m.rng.Intn(5) == 0 {
		tick.TraderID = m.Traders[m.rng.Intn(len(m.Traders))]
		tick.TradeSide = events.SideBuy
		if m.rng.Intn(2) == 0 {
			tick.TradeSide = events.SideSell
		}
		tick.TradeQty = decimal.NewFromFloat(m.rng.Float64() * 2).Round(4)
	}
	return tick
}
