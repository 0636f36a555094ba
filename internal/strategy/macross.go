package strategy

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"trading-engine/internal/events"
	"trading-engine/internal/indicators"
)

// MACross trades moving-average crossovers: it buys when the fast average
// crosses above the slow one and sells the held position when it crosses
// back below. Only ever long.
type MACross struct {
	id     string
	symbol string
	size   decimal.Decimal
	fast   int
	slow   int

	window    *indicators.Window
	fastAbove bool
	primed    bool
}

func NewMACross(id, symbol string, size decimal.Decimal, fast, slow int) *MACross {
	if fast <= 0 {
		fast = 7
	}
	if slow <= fast {
		slow = fast * 3
	}
	if !size.IsPositive() {
		size = decimal.NewFromFloat(0.001)
	}
	return &MACross{
		id:     id,
		symbol: symbol,
		size:   size,
		fast:   fast,
		slow:   slow,
		window: indicators.NewWindow(slow * 2),
	}
}

func (m *MACross) ID() string { return m.id }

func (m *MACross) Name() string { return "ma_cross_" + m.symbol }

type maCrossState struct {
	Prices    []float64 `json:"prices"`
	FastAbove bool      `json:"fast_above"`
	Primed    bool      `json:"primed"`
}

func (m *MACross) GetState() (json.RawMessage, error) {
	return json.Marshal(maCrossState{
		Prices:    m.window.Values(),
		FastAbove: m.fastAbove,
		Primed:    m.primed,
	})
}

func (m *MACross) SetState(data json.RawMessage) error {
	var s maCrossState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	m.window = indicators.NewWindow(m.slow * 2)
	for _, p := range s.Prices {
		m.window.Push(p)
	}
	m.fastAbove = s.FastAbove
	m.primed = s.Primed
	return nil
}

func (m *MACross) OnEvent(ev events.Event, ctx *Context) []Intent {
	if ev.Type != events.TypeMarketTick || ev.Tick.Symbol != m.symbol {
		return nil
	}
	price, _ := ev.Tick.Price.Float64()
	m.window.Push(price)
	if m.window.Len() < m.slow {
		return nil
	}

	fastAbove := m.window.SMA(m.fast) > m.window.SMA(m.slow)
	if !m.primed {
		// First full window only establishes which side we are on.
		m.primed = true
		m.fastAbove = fastAbove
		return nil
	}
	if fastAbove == m.fastAbove {
		return nil
	}
	m.fastAbove = fastAbove

	if fastAbove {
		return []Intent{{
			Symbol: m.symbol,
			Side:   events.SideBuy,
			Qty:    m.size,
			Note:   "ma cross up",
		}}
	}

	held := ctx.Position(m.symbol).Qty
	if !held.IsPositive() {
		return nil
	}
	return []Intent{{
		Symbol: m.symbol,
		Side:   events.SideSell,
		Qty:    held,
		Note:   "ma cross down",
	}}
}
