// Package archive persists terminal orders, ledger snapshots, and strategy
// state checkpoints.
package archive

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"trading-engine/internal/ledger"
	"trading-engine/internal/order"
	"trading-engine/internal/persistence"
	"trading-engine/pkg/db"
)

// Service receives terminal orders from the state machine's archive sweep and
// checkpoints ledger and strategy state on a timer. All writes go through the
// batch writer, so the hot path never touches SQLite directly.
type Service struct {
	writer  *persistence.BatchWriter
	queries *db.Queries
	log     *zap.Logger

	snapshotEvery time.Duration
	snapshot      func() ledger.Snapshot
	states        func() map[string]json.RawMessage
}

type Config struct {
	Writer  *persistence.BatchWriter
	Queries *db.Queries
	Logger  *zap.Logger

	// SnapshotEvery sets the checkpoint interval; zero disables checkpoints.
	SnapshotEvery time.Duration
	// Snapshot and States supply the data to checkpoint.
	Snapshot func() ledger.Snapshot
	States   func() map[string]json.RawMessage
}

func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		writer:        cfg.Writer,
		queries:       cfg.Queries,
		log:           log,
		snapshotEvery: cfg.SnapshotEvery,
		snapshot:      cfg.Snapshot,
		states:        cfg.States,
	}
}

// ArchiveOrder implements order.ArchiveSink. It only buffers; the batch
// writer flushes asynchronously.
func (s *Service) ArchiveOrder(o order.Order) {
	query, args := db.InsertArchivedOrderOp(db.ArchivedOrder{
		CorrelationID:   o.CorrelationID,
		ExchangeOrderID: o.ExchangeOrderID,
		StrategyID:      o.StrategyID,
		Symbol:          o.Symbol,
		Side:            string(o.Side),
		Qty:             o.Qty.String(),
		FilledQty:       o.Filled.String(),
		AvgFillPrice:    o.AvgFillPrice.String(),
		Fees:            o.Fees.String(),
		Price:           o.Price.String(),
		Status:          o.State.String(),
		Reason:          o.Reason,
		CreatedAt:       o.CreatedAt,
		TerminalAt:      o.TerminalAt,
	})
	s.writer.Write(query, args...)
}

// Run checkpoints on the configured interval until ctx ends, then takes a
// final checkpoint.
func (s *Service) Run(ctx context.Context) {
	if s.snapshotEvery <= 0 || s.snapshot == nil {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(s.snapshotEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Checkpoint(context.Background())
			return
		case <-t.C:
			s.Checkpoint(ctx)
		}
	}
}

// Checkpoint persists the current ledger snapshot and strategy states.
func (s *Service) Checkpoint(ctx context.Context) {
	if s.snapshot != nil {
		snap := s.snapshot()
		positions, err := json.Marshal(snap.Positions)
		if err != nil {
			s.log.Error("snapshot encode failed", zap.Error(err))
		} else if err := s.queries.InsertSnapshot(ctx, db.LedgerSnapshot{
			TakenAt:      snap.TakenAt,
			Exposure:     snap.Exposure.String(),
			Reservations: snap.Reservations,
			Positions:    string(positions),
		}); err != nil {
			s.log.Error("snapshot write failed", zap.Error(err))
		}
	}

	if s.states != nil {
		for id, state := range s.states() {
			if err := s.queries.UpsertStrategyState(ctx, id, string(state)); err != nil {
				s.log.Error("strategy state write failed",
					zap.String("strategy", id), zap.Error(err))
			}
		}
	}
}

// RestoreStates loads checkpointed strategy states, keyed by strategy id.
func (s *Service) RestoreStates(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.queries.ListStrategyStates(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		out[r.StrategyID] = json.RawMessage(r.State)
	}
	return out, nil
}
