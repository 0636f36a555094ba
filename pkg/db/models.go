package db

import "time"

// ArchivedOrder is a terminal order persisted after eviction from live
// memory. Quantities and prices are decimal strings.
type ArchivedOrder struct {
	CorrelationID   string
	ExchangeOrderID string
	StrategyID      string
	Symbol          string
	Side            string
	Qty             string
	FilledQty       string
	AvgFillPrice    string
	Fees            string
	Price           string
	Status          string
	Reason          string
	CreatedAt       time.Time
	TerminalAt      time.Time
}

// LedgerSnapshot is a persisted point-in-time view of positions and exposure.
// Positions holds the JSON-encoded position map.
type LedgerSnapshot struct {
	ID           int64
	TakenAt      time.Time
	Exposure     string
	Reservations int
	Positions    string
}

// StrategyState is a checkpointed strategy state blob.
type StrategyState struct {
	StrategyID string
	State      string
	UpdatedAt  time.Time
}
