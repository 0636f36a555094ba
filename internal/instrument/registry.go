package instrument

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Instrument is immutable reference data for one tradable symbol.
type Instrument struct {
	Symbol   string
	TickSize decimal.Decimal
	LotSize  decimal.Decimal
}

// RoundPrice snaps a price down to the instrument's tick grid.
func (i Instrument) RoundPrice(p decimal.Decimal) decimal.Decimal {
	if i.TickSize.IsZero() {
		return p
	}
	return p.Div(i.TickSize).Floor().Mul(i.TickSize)
}

// RoundQty snaps a quantity down to the instrument's lot grid.
func (i Instrument) RoundQty(q decimal.Decimal) decimal.Decimal {
	if i.LotSize.IsZero() {
		return q
	}
	return q.Div(i.LotSize).Floor().Mul(i.LotSize)
}

// Registry holds instruments looked up by symbol. Entries are registered at
// startup and never mutated afterwards.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Instrument
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Instrument)}
}

// Add registers an instrument. Re-registering a symbol is an error.
func (r *Registry) Add(ins Instrument) error {
	if ins.Symbol == "" {
		return fmt.Errorf("instrument symbol is empty")
	}
	if ins.TickSize.IsNegative() || ins.LotSize.IsNegative() {
		return fmt.Errorf("instrument %s: tick/lot size must be >= 0", ins.Symbol)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[ins.Symbol]; ok {
		return fmt.Errorf("instrument %s already registered", ins.Symbol)
	}
	r.byID[ins.Symbol] = ins
	return nil
}

// Lookup returns the instrument for a symbol.
func (r *Registry) Lookup(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ins, ok := r.byID[symbol]
	return ins, ok
}

// Symbols returns all registered symbols.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byID))
	for sym := range r.byID {
		out = append(out, sym)
	}
	return out
}
