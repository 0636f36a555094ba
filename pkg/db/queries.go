package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// Queries provides read and single-row write access. Bulk order archival goes
// through the batch writer instead.
type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// InsertArchivedOrderOp returns the statement and args for archiving one
// order, for use with a batch writer.
func InsertArchivedOrderOp(o ArchivedOrder) (string, []any) {
	return `
		INSERT OR REPLACE INTO archived_orders
		(correlation_id, exchange_order_id, strategy_id, symbol, side, qty,
		 filled_qty, avg_fill_price, fees, price, status, reason, created_at, terminal_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, []any{
		o.CorrelationID, o.ExchangeOrderID, o.StrategyID, o.Symbol, o.Side,
		o.Qty, o.FilledQty, o.AvgFillPrice, o.Fees, o.Price, o.Status, o.Reason,
		o.CreatedAt, o.TerminalAt,
	}
}

// GetArchivedOrder looks up one archived order by correlation id.
func (q *Queries) GetArchivedOrder(ctx context.Context, correlationID string) (*ArchivedOrder, error) {
	var o ArchivedOrder
	err := q.db.QueryRowContext(ctx, `
		SELECT correlation_id, exchange_order_id, strategy_id, symbol, side, qty,
		       filled_qty, avg_fill_price, fees, price, status, COALESCE(reason, ''),
		       created_at, terminal_at
		FROM archived_orders WHERE correlation_id = ?
	`, correlationID).Scan(
		&o.CorrelationID, &o.ExchangeOrderID, &o.StrategyID, &o.Symbol, &o.Side,
		&o.Qty, &o.FilledQty, &o.AvgFillPrice, &o.Fees, &o.Price, &o.Status, &o.Reason,
		&o.CreatedAt, &o.TerminalAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query archived order: %w", err)
	}
	return &o, nil
}

// ListArchivedOrders returns the most recently terminal orders, newest first.
func (q *Queries) ListArchivedOrders(ctx context.Context, limit int) ([]ArchivedOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT correlation_id, exchange_order_id, strategy_id, symbol, side, qty,
		       filled_qty, avg_fill_price, fees, price, status, COALESCE(reason, ''),
		       created_at, terminal_at
		FROM archived_orders
		ORDER BY terminal_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archived orders: %w", err)
	}
	defer rows.Close()

	var out []ArchivedOrder
	for rows.Next() {
		var o ArchivedOrder
		if err := rows.Scan(
			&o.CorrelationID, &o.ExchangeOrderID, &o.StrategyID, &o.Symbol, &o.Side,
			&o.Qty, &o.FilledQty, &o.AvgFillPrice, &o.Fees, &o.Price, &o.Status, &o.Reason,
			&o.CreatedAt, &o.TerminalAt,
		); err != nil {
			return nil, fmt.Errorf("scan archived order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertSnapshot persists one ledger snapshot.
func (q *Queries) InsertSnapshot(ctx context.Context, s LedgerSnapshot) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_snapshots (taken_at, exposure, reservations, positions)
		VALUES (?, ?, ?, ?)
	`, s.TakenAt, s.Exposure, s.Reservations, s.Positions)
	return err
}

// LatestSnapshot returns the most recent ledger snapshot.
func (q *Queries) LatestSnapshot(ctx context.Context) (*LedgerSnapshot, error) {
	var s LedgerSnapshot
	err := q.db.QueryRowContext(ctx, `
		SELECT id, taken_at, exposure, reservations, positions
		FROM ledger_snapshots ORDER BY id DESC LIMIT 1
	`).Scan(&s.ID, &s.TakenAt, &s.Exposure, &s.Reservations, &s.Positions)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return &s, nil
}

// UpsertStrategyState checkpoints one strategy's serialized state.
func (q *Queries) UpsertStrategyState(ctx context.Context, strategyID, state string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO strategy_states (strategy_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_id) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP
	`, strategyID, state)
	return err
}

// ListStrategyStates returns all checkpointed strategy states.
func (q *Queries) ListStrategyStates(ctx context.Context) ([]StrategyState, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT strategy_id, state, updated_at FROM strategy_states
	`)
	if err != nil {
		return nil, fmt.Errorf("query strategy states: %w", err)
	}
	defer rows.Close()

	var out []StrategyState
	for rows.Next() {
		var s StrategyState
		if err := rows.Scan(&s.StrategyID, &s.State, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy state: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
