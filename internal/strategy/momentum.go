package strategy

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"trading-engine/internal/events"
)

// Momentum is a simple momentum strategy for exercising order flow: it buys
// when price jumps up and sells when it jumps down by a small fractional
// threshold.
type Momentum struct {
	id        string
	symbol    string
	size      decimal.Decimal
	threshold decimal.Decimal
	lastPrice decimal.Decimal
}

func NewMomentum(id, symbol string, size, threshold decimal.Decimal) *Momentum {
	if !threshold.IsPositive() {
		threshold = decimal.NewFromFloat(0.001) // 0.1%
	}
	if !size.IsPositive() {
		size = decimal.NewFromFloat(0.001)
	}
	return &Momentum{
		id:        id,
		symbol:    symbol,
		size:      size,
		threshold: threshold,
	}
}

func (m *Momentum) ID() string { return m.id }

func (m *Momentum) Name() string { return "momentum_" + m.symbol }

type momentumState struct {
	LastPrice decimal.Decimal `json:"last_price"`
}

func (m *Momentum) GetState() (json.RawMessage, error) {
	return json.Marshal(momentumState{LastPrice: m.lastPrice})
}

func (m *Momentum) SetState(data json.RawMessage) error {
	var s momentumState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	m.lastPrice = s.LastPrice
	return nil
}

func (m *Momentum) OnEvent(ev events.Event, _ *Context) []Intent {
	if ev.Type != events.TypeMarketTick || ev.Tick.Symbol != m.symbol {
		return nil
	}
	price := ev.Tick.Price
	if !price.IsPositive() {
		return nil
	}
	if m.lastPrice.IsZero() {
		m.lastPrice = price
		return nil
	}

	change := price.Sub(m.lastPrice).Div(m.lastPrice)
	m.lastPrice = price

	if change.GreaterThanOrEqual(m.threshold) {
		return []Intent{{
			Symbol: m.symbol,
			Side:   events.SideBuy,
			Qty:    m.size,
			Note:   "momentum buy",
		}}
	}
	if change.LessThanOrEqual(m.threshold.Neg()) {
		return []Intent{{
			Symbol: m.symbol,
			Side:   events.SideSell,
			Qty:    m.size,
			Note:   "momentum sell",
		}}
	}
	return nil
}
