package strategy

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-engine/internal/events"
	"trading-engine/internal/ledger"
	"trading-engine/internal/order"
)

// Intent is a strategy's trade decision before it becomes an OrderIntent.
// The runner assigns the correlation id and strategy id at the submission
// boundary, so strategy output stays reproducible for a fixed event sequence.
type Intent struct {
	Symbol string
	Side   events.Side
	Qty    decimal.Decimal
	Price  decimal.Decimal // zero = market
	Note   string
}

// Strategy is the pluggable decision logic contract. OnEvent must be
// deterministic for a fixed event sequence and context snapshots, and must
// not retain or mutate the context.
type Strategy interface {
	// ID returns the unique instance id.
	ID() string
	// Name returns the human-readable name.
	Name() string
	// OnEvent processes one event and returns zero or more intents.
	OnEvent(ev events.Event, ctx *Context) []Intent

	// GetState returns the serializable state of the strategy.
	GetState() (json.RawMessage, error)
	// SetState restores the state of the strategy.
	SetState(data json.RawMessage) error
}

// Rejection tells a strategy that one of its intents was turned down. It is
// delivered as ordinary context, never as a fault.
type Rejection struct {
	CorrelationID string
	Symbol        string
	Reason        string
	Detail        string
	At            time.Time
}

// Context exposes read-only snapshots of position and order state to one
// strategy. Strategies never get mutable access to the ledger or the order
// machine.
type Context struct {
	led  *ledger.Ledger
	mach *order.Machine

	mu        sync.Mutex
	rejection *Rejection
	strategyID string
}

func newContext(strategyID string, led *ledger.Ledger, mach *order.Machine) *Context {
	return &Context{led: led, mach: mach, strategyID: strategyID}
}

// Position returns the current position for a symbol.
func (c *Context) Position(symbol string) ledger.Position {
	return c.led.Position(symbol)
}

// LastPrice returns the most recent mark for a symbol.
func (c *Context) LastPrice(symbol string) decimal.Decimal {
	return c.led.LastPrice(symbol)
}

// Exposure returns current aggregate notional exposure.
func (c *Context) Exposure() decimal.Decimal {
	return c.led.Exposure()
}

// OpenOrders returns copies of this strategy's non-terminal orders.
func (c *Context) OpenOrders() []order.Order {
	var out []order.Order
	for _, o := range c.mach.Live() {
		if o.StrategyID == c.strategyID {
			out = append(out, o)
		}
	}
	return out
}

// LastRejection returns the most recent rejection of one of this strategy's
// intents, if any, and clears it.
func (c *Context) LastRejection() (Rejection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejection == nil {
		return Rejection{}, false
	}
	r := *c.rejection
	c.rejection = nil
	return r, true
}

func (c *Context) setRejection(r Rejection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejection = &r
}
