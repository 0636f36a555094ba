package order

import (
	"time"

	"github.com/shopspring/decimal"

	"trading-engine/internal/events"
)

// State tracks the lifecycle of an order.
type State uint8

const (
	StateUnknown State = iota
	StatePending       // intent accepted, not yet acknowledged
	StateOpen          // acknowledged by the exchange
	StateFilled
	StateCanceled
	StateRejected
	StateExpired
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateOpen:
		return "OPEN"
	case StateFilled:
		return "FILLED"
	case StateCanceled:
		return "CANCELED"
	case StateRejected:
		return "REJECTED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are accepted from s.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// ReasonSubmissionFailed marks orders rejected because the gateway could not
// deliver them to the exchange.
const ReasonSubmissionFailed = "SubmissionFailed"

// Order is the engine-owned record of one accepted intent. ExchangeOrderID is
// empty until the exchange acknowledges. Mutated only through the Machine's
// transition methods.
type Order struct {
	CorrelationID   string
	ExchangeOrderID string
	StrategyID      string
	Symbol          string
	Side            events.Side
	Qty             decimal.Decimal
	Filled          decimal.Decimal
	Remaining       decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Fees            decimal.Decimal
	Price           decimal.Decimal // zero for market orders
	State           State
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	TerminalAt      time.Time
}

// Anomaly records an event that referenced an unknown or terminal order, or
// any other discarded input. Anomalies are reported, never fatal.
type Anomaly struct {
	At            time.Time `json:"at"`
	Kind          string    `json:"kind"`
	CorrelationID string    `json:"correlation_id"`
	Detail        string    `json:"detail"`
}

// ArchiveSink receives terminal orders evicted from live memory after the
// retention grace period. Implementations must not block the caller.
type ArchiveSink interface {
	ArchiveOrder(Order)
}
