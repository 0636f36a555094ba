// Package persistence batches database writes off the hot path.
package persistence

import (
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// WriteOp is one buffered database write.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter coalesces writes into transactions, flushing on size or a
// timer. Write never blocks on the database.
type BatchWriter struct {
	db          *sql.DB
	log         *zap.Logger
	buffer      []WriteOp
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	wg          sync.WaitGroup

	totalWrites  uint64
	totalBatches uint64
	totalErrors  uint64
}

// Metrics reports batch writer counters.
type Metrics struct {
	TotalWrites  uint64 `json:"total_writes"`
	TotalBatches uint64 `json:"total_batches"`
	TotalErrors  uint64 `json:"total_errors"`
	Pending      int    `json:"pending"`
}

func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration, log *zap.Logger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	bw := &BatchWriter{
		db:          db,
		log:         log,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write buffers one operation, flushing if the buffer is full.
func (bw *BatchWriter) Write(query string, args ...any) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, WriteOp{Query: query, Args: args})
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		bw.Flush()
	}
}

// Flush writes all buffered operations in one transaction.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ops)
}

func (bw *BatchWriter) executeBatch(ops []WriteOp) error {
	atomic.AddUint64(&bw.totalWrites, uint64(len(ops)))
	atomic.AddUint64(&bw.totalBatches, 1)

	tx, err := bw.db.Begin()
	if err != nil {
		atomic.AddUint64(&bw.totalErrors, 1)
		bw.log.Error("batch begin failed", zap.Error(err))
		return err
	}

	for _, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			tx.Rollback()
			atomic.AddUint64(&bw.totalErrors, 1)
			bw.log.Error("batch query failed, rolled back", zap.Error(err))
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddUint64(&bw.totalErrors, 1)
		bw.log.Error("batch commit failed", zap.Error(err))
		return err
	}

	bw.log.Debug("batch flushed", zap.Int("ops", len(ops)))
	return nil
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bw.Flush()
		case <-bw.done:
			bw.Flush()
			return
		}
	}
}

// Pending returns the number of buffered operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Stats returns a copy of the counters.
func (bw *BatchWriter) Stats() Metrics {
	return Metrics{
		TotalWrites:  atomic.LoadUint64(&bw.totalWrites),
		TotalBatches: atomic.LoadUint64(&bw.totalBatches),
		TotalErrors:  atomic.LoadUint64(&bw.totalErrors),
		Pending:      bw.Pending(),
	}
}

// Close flushes remaining operations and stops the background loop.
func (bw *BatchWriter) Close() error {
	close(bw.done)
	bw.wg.Wait()
	return nil
}
