package strategy

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"trading-engine/internal/events"
)

// CopyTrade mirrors observed trader activity scaled by a per-trader weight.
// Ticks that carry trader activity from a copy-trade feed drive it; traders
// outside the weight table are ignored. Sells are capped at the currently
// held position so the strategy never requests a short.
type CopyTrade struct {
	id      string
	weights map[string]decimal.Decimal
}

func NewCopyTrade(id string, weights map[string]decimal.Decimal) *CopyTrade {
	return &CopyTrade{id: id, weights: weights}
}

func (c *CopyTrade) ID() string { return c.id }

func (c *CopyTrade) Name() string { return "copy_trade" }

// CopyTrade keeps no mutable state; the weight table is startup config.
func (c *CopyTrade) GetState() (json.RawMessage, error) { return nil, nil }

func (c *CopyTrade) SetState(json.RawMessage) error { return nil }

func (c *CopyTrade) OnEvent(ev events.Event, ctx *Context) []Intent {
	if ev.Type != events.TypeMarketTick {
		return nil
	}
	tick := ev.Tick
	if tick.TraderID == "" || !tick.TradeQty.IsPositive() {
		return nil
	}
	weight, ok := c.weights[tick.TraderID]
	if !ok {
		return nil
	}

	qty := tick.TradeQty.Mul(weight)
	if !qty.IsPositive() {
		return nil
	}

	switch tick.TradeSide {
	case events.SideBuy:
		return []Intent{{
			Symbol: tick.Symbol,
			Side:   events.SideBuy,
			Qty:    qty,
			Note:   "copy " + tick.TraderID,
		}}
	case events.SideSell:
		held := ctx.Position(tick.Symbol).Qty
		if !held.IsPositive() {
			return nil
		}
		if qty.GreaterThan(held) {
			qty = held
		}
		return []Intent{{
			Symbol: tick.Symbol,
			Side:   events.SideSell,
			Qty:    qty,
			Note:   "copy " + tick.TraderID,
		}}
	default:
		return nil
	}
}
