package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Limits is the immutable risk configuration for a run. A zero value means
// the corresponding check is disabled.
type Limits struct {
	// MaxPositionPerInstrument caps the absolute position size, counting
	// unresolved same-direction reservations toward the projection.
	MaxPositionPerInstrument decimal.Decimal
	// MaxNotionalExposure caps aggregate |position*price| plus reserved
	// notional across all instruments.
	MaxNotionalExposure decimal.Decimal
	// MaxOrderRate caps approved reservations per second; OrderBurst is the
	// token bucket depth (defaults to 1 when rate limiting is enabled).
	MaxOrderRate rate.Limit
	OrderBurst   int
}

// RejectReason classifies why a reservation was denied.
type RejectReason string

const (
	ReasonNone            RejectReason = ""
	ReasonValidation      RejectReason = "ValidationError"
	ReasonRiskLimit       RejectReason = "RiskLimitExceeded"
	ReasonDuplicateIntent RejectReason = "DuplicateIntent"
)

// Decision is the outcome of passing an intent through Reserve.
type Decision struct {
	Approved bool
	Reason   RejectReason
	Detail   string
}

func approved() Decision {
	return Decision{Approved: true}
}

func rejected(reason RejectReason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Position is the per-instrument signed quantity and average cost. Mutated
// only by the ledger upon fills.
type Position struct {
	Symbol    string
	Qty       decimal.Decimal
	AvgCost   decimal.Decimal
	UpdatedAt time.Time
}

// Snapshot is a read-only projection of ledger state.
type Snapshot struct {
	Positions    map[string]Position
	Exposure     decimal.Decimal
	Reservations int
	TakenAt      time.Time
}
