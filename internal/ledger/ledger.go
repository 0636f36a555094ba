package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trading-engine/internal/events"
)

// reservation is provisional exposure held while an order is unresolved.
type reservation struct {
	symbol    string
	side      events.Side
	remaining decimal.Decimal // unfilled quantity still reserved
	price     decimal.Decimal // per-unit price the notional was reserved at
}

func (r *reservation) notional() decimal.Decimal {
	return r.remaining.Mul(r.price)
}

// book is the per-instrument mutable state. Reservation requests for the same
// instrument serialize on book.mu; different instruments proceed in parallel.
type book struct {
	mu          sync.Mutex
	pos         Position
	lastPrice   decimal.Decimal
	posNotional decimal.Decimal // |pos.Qty| * lastPrice, mirrored into the aggregate
	pendingBuy  decimal.Decimal
	pendingSell decimal.Decimal
}

// Ledger is the authoritative running state of positions, exposure, and
// pending reservations. Reserve is the single chokepoint every intent passes
// through before submission.
type Ledger struct {
	limits  Limits
	limiter *rate.Limiter
	log     *zap.Logger

	mu    sync.RWMutex // guards books and reservations maps (not their contents)
	books map[string]*book
	res   map[string]*reservation

	// The cross-instrument aggregate is the one serialization point shared by
	// all partitions; expMu guards only this counter, never the books.
	expMu    sync.Mutex
	exposure decimal.Decimal
}

func New(limits Limits, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	var limiter *rate.Limiter
	if limits.MaxOrderRate > 0 {
		burst := limits.OrderBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(limits.MaxOrderRate, burst)
	}
	return &Ledger{
		limits:  limits,
		limiter: limiter,
		log:     log,
		books:   make(map[string]*book),
		res:     make(map[string]*reservation),
	}
}

func (l *Ledger) book(symbol string) *book {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.books[symbol]
	if !ok {
		b = &book{pos: Position{Symbol: symbol}}
		l.books[symbol] = b
	}
	return b
}

// Reserve validates an intent against every configured limit using the
// projected state and, if approved, records a pending reservation that counts
// toward exposure until the order resolves. Rejected intents record nothing.
func (l *Ledger) Reserve(intent events.OrderIntent) Decision {
	if intent.CorrelationID == "" {
		return rejected(ReasonValidation, "empty correlation id")
	}
	if intent.Symbol == "" {
		return rejected(ReasonValidation, "empty symbol")
	}
	if intent.Side != events.SideBuy && intent.Side != events.SideSell {
		return rejected(ReasonValidation, fmt.Sprintf("unknown side %q", intent.Side))
	}
	if !intent.Qty.IsPositive() {
		return rejected(ReasonValidation, "quantity must be > 0")
	}
	if intent.Price.IsNegative() {
		return rejected(ReasonValidation, "price must be >= 0")
	}

	l.mu.RLock()
	_, dup := l.res[intent.CorrelationID]
	l.mu.RUnlock()
	if dup {
		return rejected(ReasonDuplicateIntent, intent.CorrelationID)
	}

	if l.limiter != nil && !l.limiter.Allow() {
		return rejected(ReasonRiskLimit, "order rate limit exceeded")
	}

	b := l.book(intent.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	price := intent.Price
	if intent.Market() {
		price = b.lastPrice
		if !price.IsPositive() {
			return rejected(ReasonValidation, "no reference price for market order")
		}
	}

	// Position projection counts unresolved same-direction reservations so
	// two in-flight intents cannot both squeeze under the cap.
	projected := b.pos.Qty.Add(b.pendingBuy).Sub(b.pendingSell)
	if intent.Side == events.SideBuy {
		projected = projected.Add(intent.Qty)
	} else {
		projected = projected.Sub(intent.Qty)
	}
	if l.limits.MaxPositionPerInstrument.IsPositive() && projected.Abs().GreaterThan(l.limits.MaxPositionPerInstrument) {
		return rejected(ReasonRiskLimit, fmt.Sprintf(
			"position limit: projected %s exceeds %s",
			projected.Abs(), l.limits.MaxPositionPerInstrument))
	}

	notional := intent.Qty.Mul(price)

	l.expMu.Lock()
	if l.limits.MaxNotionalExposure.IsPositive() {
		if l.exposure.Add(notional).GreaterThan(l.limits.MaxNotionalExposure) {
			projectedExp := l.exposure.Add(notional)
			l.expMu.Unlock()
			return rejected(ReasonRiskLimit, fmt.Sprintf(
				"exposure limit: projected %s exceeds %s",
				projectedExp, l.limits.MaxNotionalExposure))
		}
	}
	l.exposure = l.exposure.Add(notional)
	l.expMu.Unlock()

	if intent.Side == events.SideBuy {
		b.pendingBuy = b.pendingBuy.Add(intent.Qty)
	} else {
		b.pendingSell = b.pendingSell.Add(intent.Qty)
	}

	l.mu.Lock()
	l.res[intent.CorrelationID] = &reservation{
		symbol:    intent.Symbol,
		side:      intent.Side,
		remaining: intent.Qty,
		price:     price,
	}
	l.mu.Unlock()

	return approved()
}

// ApplyFill consumes reserved quantity and updates the position with
// weighted-average cost accounting. It must be called in the same logical
// step as the order state transition that records the fill.
func (l *Ledger) ApplyFill(correlationID string, qty, price decimal.Decimal) error {
	if !qty.IsPositive() || !price.IsPositive() {
		return fmt.Errorf("apply fill %s: non-positive qty or price", correlationID)
	}

	l.mu.RLock()
	res, ok := l.res[correlationID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("apply fill %s: no reservation", correlationID)
	}

	b := l.book(res.symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	if qty.GreaterThan(res.remaining) {
		return fmt.Errorf("apply fill %s: qty %s exceeds reserved %s", correlationID, qty, res.remaining)
	}

	// Consume the reservation.
	res.remaining = res.remaining.Sub(qty)
	releasedNotional := qty.Mul(res.price)
	if res.side == events.SideBuy {
		b.pendingBuy = b.pendingBuy.Sub(qty)
	} else {
		b.pendingSell = b.pendingSell.Sub(qty)
	}
	if res.remaining.IsZero() {
		l.mu.Lock()
		delete(l.res, correlationID)
		l.mu.Unlock()
	}

	// Apply the fill to the position.
	oldQty := b.pos.Qty
	signed := qty
	if res.side == events.SideSell {
		signed = qty.Neg()
	}
	newQty := oldQty.Add(signed)
	switch {
	case newQty.IsZero():
		b.pos.AvgCost = decimal.Zero
	case oldQty.IsZero() || oldQty.Sign() != newQty.Sign():
		// Opened or flipped through zero: cost basis restarts at fill price.
		b.pos.AvgCost = price
	case oldQty.Sign() == signed.Sign():
		// Increasing: weighted average of old basis and fill.
		total := oldQty.Abs().Mul(b.pos.AvgCost).Add(qty.Mul(price))
		b.pos.AvgCost = total.Div(newQty.Abs())
	default:
		// Reducing: basis unchanged.
	}
	b.pos.Qty = newQty
	b.pos.UpdatedAt = time.Now()
	b.lastPrice = price

	oldPosNotional := b.posNotional
	b.posNotional = newQty.Abs().Mul(price)

	l.expMu.Lock()
	l.exposure = l.exposure.Sub(releasedNotional).Sub(oldPosNotional).Add(b.posNotional)
	l.expMu.Unlock()

	return nil
}

// Release frees whatever remains of an order's reservation. It is called once
// when the order reaches a terminal state; calling it for an already-released
// reservation is a no-op and returns false.
func (l *Ledger) Release(correlationID string) bool {
	l.mu.Lock()
	res, ok := l.res[correlationID]
	if ok {
		delete(l.res, correlationID)
	}
	l.mu.Unlock()
	if !ok {
		return false
	}

	b := l.book(res.symbol)
	b.mu.Lock()
	if res.side == events.SideBuy {
		b.pendingBuy = b.pendingBuy.Sub(res.remaining)
	} else {
		b.pendingSell = b.pendingSell.Sub(res.remaining)
	}
	b.mu.Unlock()

	l.expMu.Lock()
	l.exposure = l.exposure.Sub(res.notional())
	l.expMu.Unlock()

	return true
}

// MarkPrice refreshes the mark used for a symbol's share of aggregate
// exposure. Called on every market tick.
func (l *Ledger) MarkPrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	b := l.book(symbol)
	b.mu.Lock()
	b.lastPrice = price
	oldNotional := b.posNotional
	b.posNotional = b.pos.Qty.Abs().Mul(price)
	newNotional := b.posNotional
	b.mu.Unlock()

	if oldNotional.Equal(newNotional) {
		return
	}
	l.expMu.Lock()
	l.exposure = l.exposure.Sub(oldNotional).Add(newNotional)
	l.expMu.Unlock()
}

// Position returns the current position for a symbol.
func (l *Ledger) Position(symbol string) Position {
	b := l.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

// LastPrice returns the most recent mark for a symbol.
func (l *Ledger) LastPrice(symbol string) decimal.Decimal {
	b := l.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPrice
}

// Exposure returns the current aggregate exposure.
func (l *Ledger) Exposure() decimal.Decimal {
	l.expMu.Lock()
	defer l.expMu.Unlock()
	return l.exposure
}

// Snapshot returns a read-only copy of positions and exposure.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	books := make([]*book, 0, len(l.books))
	for _, b := range l.books {
		books = append(books, b)
	}
	reservations := len(l.res)
	l.mu.RUnlock()

	positions := make(map[string]Position, len(books))
	for _, b := range books {
		b.mu.Lock()
		if !b.pos.Qty.IsZero() {
			positions[b.pos.Symbol] = b.pos
		}
		b.mu.Unlock()
	}

	return Snapshot{
		Positions:    positions,
		Exposure:     l.Exposure(),
		Reservations: reservations,
		TakenAt:      time.Now(),
	}
}
