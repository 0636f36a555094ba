package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the event variants carried by the bus.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeMarketTick
	TypeOrderAck
	TypeOrderFill
	TypeOrderReject
	TypeOrderCancelAck
	TypeTimer
	TypeShutdownRequest
)

func (t Type) String() string {
	switch t {
	case TypeMarketTick:
		return "market_tick"
	case TypeOrderAck:
		return "order_ack"
	case TypeOrderFill:
		return "order_fill"
	case TypeOrderReject:
		return "order_reject"
	case TypeOrderCancelAck:
		return "order_cancel_ack"
	case TypeTimer:
		return "timer"
	case TypeShutdownRequest:
		return "shutdown_request"
	default:
		return "unknown"
	}
}

// Side is the direction of an intent or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TimerKind distinguishes the timeouts injected into the event stream.
type TimerKind uint8

const (
	TimerAckTimeout TimerKind = iota + 1
	TimerDrainTimeout
	TimerArchiveSweep
)

// MarketTick is a price update for one instrument.
type MarketTick struct {
	Symbol string
	Price  decimal.Decimal
	// Trader activity attached by copy-trade feeds; empty for plain ticks.
	TraderID  string
	TradeSide Side
	TradeQty  decimal.Decimal
}

// OrderAck reports exchange acceptance of a submitted order.
type OrderAck struct {
	CorrelationID   string
	ExchangeOrderID string
}

// OrderFill reports a (possibly partial) execution.
type OrderFill struct {
	CorrelationID string
	Qty           decimal.Decimal
	Price         decimal.Decimal
	Fee           decimal.Decimal // venue fee charged on this execution
}

// OrderReject reports exchange rejection of a submitted order.
type OrderReject struct {
	CorrelationID string
	Reason        string
}

// OrderCancelAck confirms cancellation of an open order.
type OrderCancelAck struct {
	CorrelationID string
}

// TimerFired is a scheduled timeout re-entering the ordered stream.
type TimerFired struct {
	Kind          TimerKind
	CorrelationID string
}

// ShutdownRequest asks the coordinator to drain and stop.
type ShutdownRequest struct {
	Reason string
}

// Event is the immutable, sequenced fact delivered by the bus. Seq is
// assigned at ingress by the bus; SourceTime by the originating adapter.
// Exactly one payload pointer is set, matching Type.
type Event struct {
	Seq        uint64
	Type       Type
	Symbol     string
	SourceTime time.Time

	Tick      *MarketTick
	Ack       *OrderAck
	Fill      *OrderFill
	Reject    *OrderReject
	CancelAck *OrderCancelAck
	Timer     *TimerFired
	Shutdown  *ShutdownRequest
}

// CorrelationID returns the order correlation id carried by order-lifecycle
// and timer events, or "" for events that do not reference an order.
func (e Event) CorrelationID() string {
	switch e.Type {
	case TypeOrderAck:
		return e.Ack.CorrelationID
	case TypeOrderFill:
		return e.Fill.CorrelationID
	case TypeOrderReject:
		return e.Reject.CorrelationID
	case TypeOrderCancelAck:
		return e.CancelAck.CorrelationID
	case TypeTimer:
		return e.Timer.CorrelationID
	default:
		return ""
	}
}

// OrderIntent is a strategy's request to trade, prior to risk approval.
// Price is zero for market orders. Immutable after creation.
type OrderIntent struct {
	CorrelationID string
	StrategyID    string
	Symbol        string
	Side          Side
	Qty           decimal.Decimal
	Price         decimal.Decimal
	CreatedAt     time.Time
}

// Market reports whether the intent has no limit price.
func (i OrderIntent) Market() bool {
	return i.Price.IsZero()
}
