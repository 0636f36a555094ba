package db

import (
	"database/sql"
	"fmt"
)

// Monetary columns are TEXT holding decimal strings; REAL would lose
// precision on round trips.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS archived_orders (
    correlation_id TEXT PRIMARY KEY,
    exchange_order_id TEXT,
    strategy_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty TEXT NOT NULL,
    filled_qty TEXT NOT NULL,
    avg_fill_price TEXT NOT NULL,
    fees TEXT NOT NULL DEFAULT '0',
    price TEXT NOT NULL,
    status TEXT NOT NULL,
    reason TEXT,
    created_at DATETIME NOT NULL,
    terminal_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archived_orders_symbol ON archived_orders(symbol);
CREATE INDEX IF NOT EXISTS idx_archived_orders_strategy ON archived_orders(strategy_id);

CREATE TABLE IF NOT EXISTS ledger_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    taken_at DATETIME NOT NULL,
    exposure TEXT NOT NULL,
    reservations INTEGER NOT NULL,
    positions TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_states (
    strategy_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Migrate applies the schema. Statements are idempotent, so it is safe to run
// at every startup.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
