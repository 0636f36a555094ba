package order

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-engine/internal/events"
	"trading-engine/internal/ledger"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill")
)

const anomalyRingSize = 256

// Machine tracks every live order from submission to terminal state. Fills
// update the ledger in the same logical step as the state transition, so
// filled + remaining == original quantity and the position delta always agree.
// Terminal orders are retained for a grace period (late events against them
// are anomalies, discarded) and then handed to the archive sink.
type Machine struct {
	ledger *ledger.Ledger
	log    *zap.Logger
	grace  time.Duration
	sink   ArchiveSink

	mu       sync.Mutex
	live     map[string]*Order
	terminal map[string]*Order

	anomalies []Anomaly // ring, newest last
	anomTotal uint64
}

func NewMachine(led *ledger.Ledger, grace time.Duration, sink ArchiveSink, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	if grace <= 0 {
		grace = time.Minute
	}
	return &Machine{
		ledger:   led,
		log:      log,
		grace:    grace,
		sink:     sink,
		live:     make(map[string]*Order),
		terminal: make(map[string]*Order),
	}
}

// Track creates the Pending order record for a reservation-approved intent.
func (m *Machine) Track(intent events.OrderIntent) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[intent.CorrelationID]; ok {
		return Order{}, ErrDuplicateOrder
	}
	if _, ok := m.terminal[intent.CorrelationID]; ok {
		return Order{}, ErrDuplicateOrder
	}

	now := time.Now()
	o := &Order{
		CorrelationID: intent.CorrelationID,
		StrategyID:    intent.StrategyID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Qty:           intent.Qty,
		Remaining:     intent.Qty,
		Price:         intent.Price,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.live[o.CorrelationID] = o
	return *o, nil
}

// ApplyAck transitions Pending -> Open.
func (m *Machine) ApplyAck(ack events.OrderAck) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.lookupLocked(ack.CorrelationID, "ack")
	if err != nil {
		return Order{}, err
	}
	if o.State != StatePending {
		m.anomalyLocked("duplicate_ack", ack.CorrelationID,
			fmt.Sprintf("ack in state %s", o.State))
		return *o, ErrInvalidTransition
	}
	o.ExchangeOrderID = ack.ExchangeOrderID
	o.State = StateOpen
	o.UpdatedAt = time.Now()
	return *o, nil
}

// ApplyReject transitions Pending -> Rejected and releases the reservation.
func (m *Machine) ApplyReject(rej events.OrderReject) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.lookupLocked(rej.CorrelationID, "reject")
	if err != nil {
		return Order{}, err
	}
	if o.State != StatePending {
		m.anomalyLocked("reject_not_pending", rej.CorrelationID,
			fmt.Sprintf("reject in state %s", o.State))
		return *o, ErrInvalidTransition
	}
	m.terminalLocked(o, StateRejected, rej.Reason)
	return *o, nil
}

// ApplyFill applies a partial or full execution: Open -> Open while quantity
// remains, Open -> Filled when remaining reaches zero. The ledger fill is
// applied in the same step.
func (m *Machine) ApplyFill(fill events.OrderFill) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.lookupLocked(fill.CorrelationID, "fill")
	if err != nil {
		return Order{}, err
	}
	if o.State != StateOpen {
		m.anomalyLocked("fill_not_open", fill.CorrelationID,
			fmt.Sprintf("fill in state %s", o.State))
		return *o, ErrInvalidTransition
	}
	if !fill.Qty.IsPositive() || fill.Qty.GreaterThan(o.Remaining) {
		m.anomalyLocked("invalid_fill_qty", fill.CorrelationID,
			fmt.Sprintf("fill qty %s, remaining %s", fill.Qty, o.Remaining))
		return *o, ErrInvalidFill
	}

	if err := m.ledger.ApplyFill(o.CorrelationID, fill.Qty, fill.Price); err != nil {
		m.anomalyLocked("ledger_fill_failed", fill.CorrelationID, err.Error())
		return *o, err
	}

	// Weighted average over fills received so far.
	total := o.AvgFillPrice.Mul(o.Filled).Add(fill.Price.Mul(fill.Qty))
	o.Filled = o.Filled.Add(fill.Qty)
	o.Remaining = o.Remaining.Sub(fill.Qty)
	o.AvgFillPrice = total.Div(o.Filled)
	o.Fees = o.Fees.Add(fill.Fee)
	o.UpdatedAt = time.Now()

	if o.Remaining.IsZero() {
		// The reservation was fully consumed by fills; nothing to release.
		m.terminalLocked(o, StateFilled, "")
	}
	return *o, nil
}

// ApplyCancelAck transitions Open -> Canceled and releases the remaining
// reservation.
func (m *Machine) ApplyCancelAck(ack events.OrderCancelAck) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.lookupLocked(ack.CorrelationID, "cancel_ack")
	if err != nil {
		return Order{}, err
	}
	if o.State != StateOpen {
		m.anomalyLocked("cancel_ack_not_open", ack.CorrelationID,
			fmt.Sprintf("cancel ack in state %s", o.State))
		return *o, ErrInvalidTransition
	}
	m.terminalLocked(o, StateCanceled, "")
	return *o, nil
}

// ExpireIfPending transitions Pending -> Expired when the ack-timeout timer
// fires. A stale timer against an order that progressed is not an anomaly.
func (m *Machine) ExpireIfPending(correlationID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.live[correlationID]
	if !ok || o.State != StatePending {
		return Order{}, false
	}
	m.terminalLocked(o, StateExpired, "ack timeout")
	return *o, true
}

// FailSubmission marks an order whose submission never reached the exchange:
// immediately Rejected with SubmissionFailed, reservation released. No zombie
// orders.
func (m *Machine) FailSubmission(correlationID string, cause error) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.live[correlationID]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	if o.State.Terminal() {
		return *o, ErrInvalidTransition
	}
	detail := ReasonSubmissionFailed
	if cause != nil {
		detail = fmt.Sprintf("%s: %v", ReasonSubmissionFailed, cause)
	}
	m.terminalLocked(o, StateRejected, detail)
	return *o, nil
}

// ForceCancel locally cancels a non-terminal order whose cancel ack never
// arrived within the drain timeout. Reported as an anomaly.
func (m *Machine) ForceCancel(correlationID, reason string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.live[correlationID]
	if !ok || o.State.Terminal() {
		return Order{}, false
	}
	m.anomalyLocked("force_canceled", correlationID, reason)
	m.terminalLocked(o, StateCanceled, reason)
	return *o, true
}

// Get returns a copy of an order, live or retained-terminal.
func (m *Machine) Get(correlationID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.live[correlationID]; ok {
		return *o, true
	}
	if o, ok := m.terminal[correlationID]; ok {
		return *o, true
	}
	return Order{}, false
}

// Live returns copies of all non-terminal orders.
func (m *Machine) Live() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.live))
	for _, o := range m.live {
		out = append(out, *o)
	}
	return out
}

// LiveCount returns the number of non-terminal orders.
func (m *Machine) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// SweepArchive hands terminal orders past the grace period to the archive
// sink and drops them from live memory. Returns the number archived.
func (m *Machine) SweepArchive(now time.Time) int {
	m.mu.Lock()
	var evicted []*Order
	for id, o := range m.terminal {
		if now.Sub(o.TerminalAt) >= m.grace {
			evicted = append(evicted, o)
			delete(m.terminal, id)
		}
	}
	m.mu.Unlock()

	for _, o := range evicted {
		if m.sink != nil {
			m.sink.ArchiveOrder(*o)
		}
	}
	return len(evicted)
}

// Anomalies returns a copy of the retained anomaly ring, newest last, and the
// total count observed.
func (m *Machine) Anomalies() ([]Anomaly, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Anomaly(nil), m.anomalies...), m.anomTotal
}

func (m *Machine) lookupLocked(correlationID, event string) (*Order, error) {
	if o, ok := m.live[correlationID]; ok {
		return o, nil
	}
	if _, ok := m.terminal[correlationID]; ok {
		m.anomalyLocked("event_on_terminal", correlationID, event)
		return nil, ErrInvalidTransition
	}
	m.anomalyLocked("unknown_order", correlationID, event)
	return nil, ErrUnknownOrder
}

func (m *Machine) terminalLocked(o *Order, state State, reason string) {
	o.State = state
	o.Reason = reason
	now := time.Now()
	o.UpdatedAt = now
	o.TerminalAt = now
	delete(m.live, o.CorrelationID)
	m.terminal[o.CorrelationID] = o

	// Any quantity never filled releases its share of the reservation. The
	// release is idempotent inside the ledger, so a fully-filled order (whose
	// reservation was consumed by fills) is a no-op here.
	if o.Remaining.GreaterThan(decimal.Zero) && m.ledger != nil {
		m.ledger.Release(o.CorrelationID)
	}
}

func (m *Machine) anomalyLocked(kind, correlationID, detail string) {
	m.anomTotal++
	a := Anomaly{At: time.Now(), Kind: kind, CorrelationID: correlationID, Detail: detail}
	m.anomalies = append(m.anomalies, a)
	if len(m.anomalies) > anomalyRingSize {
		m.anomalies = m.anomalies[len(m.anomalies)-anomalyRingSize:]
	}
	m.log.Warn("order anomaly",
		zap.String("kind", kind),
		zap.String("correlation_id", correlationID),
		zap.String("detail", detail))
}
