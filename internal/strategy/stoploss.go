package strategy

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"trading-engine/internal/events"
)

// StopLoss exits a held position when price falls a configured fraction below
// the high-water mark seen while the position was open. Tracking starts when
// a position appears and is dropped once the position is flat.
type StopLoss struct {
	id       string
	dropFrac decimal.Decimal // e.g. 0.2 = exit on a 20% drop from the high
	high     map[string]decimal.Decimal
}

func NewStopLoss(id string, dropFrac decimal.Decimal) *StopLoss {
	if !dropFrac.IsPositive() {
		dropFrac = decimal.NewFromFloat(0.5)
	}
	return &StopLoss{
		id:       id,
		dropFrac: dropFrac,
		high:     make(map[string]decimal.Decimal),
	}
}

func (s *StopLoss) ID() string { return s.id }

func (s *StopLoss) Name() string { return "stop_loss" }

type stopLossState struct {
	High map[string]decimal.Decimal `json:"high"`
}

func (s *StopLoss) GetState() (json.RawMessage, error) {
	return json.Marshal(stopLossState{High: s.high})
}

func (s *StopLoss) SetState(data json.RawMessage) error {
	var st stopLossState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if st.High != nil {
		s.high = st.High
	}
	return nil
}

func (s *StopLoss) OnEvent(ev events.Event, ctx *Context) []Intent {
	if ev.Type != events.TypeMarketTick {
		return nil
	}
	symbol := ev.Tick.Symbol
	price := ev.Tick.Price
	if !price.IsPositive() {
		return nil
	}

	held := ctx.Position(symbol).Qty
	if !held.IsPositive() {
		delete(s.high, symbol)
		return nil
	}

	high, tracked := s.high[symbol]
	if !tracked || price.GreaterThan(high) {
		s.high[symbol] = price
		return nil
	}

	drop := high.Sub(price).Div(high)
	if drop.LessThan(s.dropFrac) {
		return nil
	}

	delete(s.high, symbol)
	return []Intent{{
		Symbol: symbol,
		Side:   events.SideSell,
		Qty:    held,
		Note:   "stop loss: drop " + drop.StringFixed(4) + " from high",
	}}
}
