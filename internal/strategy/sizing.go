package strategy

import (
	"github.com/shopspring/decimal"
)

// Sizer caps intent size before submission: an absolute quantity cap and a
// per-trade notional cap. Intents above the caps are clipped, not rejected;
// intents that clip to nothing are dropped.
type Sizer struct {
	MaxOrderQty      decimal.Decimal // zero = uncapped
	MaxOrderNotional decimal.Decimal // zero = uncapped
}

// Clip returns the intent with quantity reduced to satisfy the caps. The
// second return is false when nothing submittable remains.
func (s *Sizer) Clip(in Intent, ctx *Context) (Intent, bool) {
	qty := in.Qty

	if s.MaxOrderQty.IsPositive() && qty.GreaterThan(s.MaxOrderQty) {
		qty = s.MaxOrderQty
	}

	if s.MaxOrderNotional.IsPositive() {
		price := in.Price
		if price.IsZero() {
			price = ctx.LastPrice(in.Symbol)
		}
		if price.IsPositive() {
			notional := qty.Mul(price)
			if notional.GreaterThan(s.MaxOrderNotional) {
				qty = s.MaxOrderNotional.Div(price)
			}
		}
	}

	if !qty.IsPositive() {
		return in, false
	}
	in.Qty = qty
	return in, true
}
