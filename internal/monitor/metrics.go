// Package monitor collects runtime metrics from the event stream.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall engine throughput and latency.
type SystemMetrics struct {
	// DeliveryLatency measures publish-to-observe delay on the bus.
	DeliveryLatency *LatencyHistogram

	ticksProcessed uint64
	ordersAcked    uint64
	fillsApplied   uint64
	ordersRejected uint64
	timersFired    uint64
	errorsCount    uint64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples over a sliding window, computing
// stats lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		DeliveryLatency: NewLatencyHistogram(1000),
		startedAt:       time.Now(),
	}
}

func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when samples
// have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementTicks()   { atomic.AddUint64(&m.ticksProcessed, 1) }
func (m *SystemMetrics) IncrementAcks()    { atomic.AddUint64(&m.ordersAcked, 1) }
func (m *SystemMetrics) IncrementFills()   { atomic.AddUint64(&m.fillsApplied, 1) }
func (m *SystemMetrics) IncrementRejects() { atomic.AddUint64(&m.ordersRejected, 1) }
func (m *SystemMetrics) IncrementTimers()  { atomic.AddUint64(&m.timersFired, 1) }
func (m *SystemMetrics) IncrementErrors()  { atomic.AddUint64(&m.errorsCount, 1) }

// MetricsSnapshot is a point-in-time view for the API.
type MetricsSnapshot struct {
	DeliveryLatency LatencyStats `json:"delivery_latency_ms"`
	TicksProcessed  uint64       `json:"ticks_processed"`
	OrdersAcked     uint64       `json:"orders_acked"`
	FillsApplied    uint64       `json:"fills_applied"`
	OrdersRejected  uint64       `json:"orders_rejected"`
	TimersFired     uint64       `json:"timers_fired"`
	ErrorsCount     uint64       `json:"errors_count"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	UptimeSec       float64      `json:"uptime_sec"`
	Timestamp       time.Time    `json:"timestamp"`
}

func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		DeliveryLatency: m.DeliveryLatency.Stats(),
		TicksProcessed:  atomic.LoadUint64(&m.ticksProcessed),
		OrdersAcked:     atomic.LoadUint64(&m.ordersAcked),
		FillsApplied:    atomic.LoadUint64(&m.fillsApplied),
		OrdersRejected:  atomic.LoadUint64(&m.ordersRejected),
		TimersFired:     atomic.LoadUint64(&m.timersFired),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		UptimeSec:       time.Since(m.startedAt).Seconds(),
		Timestamp:       time.Now().UTC(),
	}
}
