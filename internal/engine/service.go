// Package engine coordinates the order lifecycle across the event bus, risk
// ledger, order state machine, and exchange gateway. The API layer interacts
// with it only through the Service interface.
package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trading-engine/internal/ledger"
	"trading-engine/internal/order"
)

// Service is the read-only view exposed to the API layer.
type Service interface {
	Status() SystemStatus
	Positions() []ledger.Position
	OpenOrders() []order.Order
	Anomalies() ([]order.Anomaly, uint64)
	LedgerSnapshot() ledger.Snapshot
}

// SystemStatus summarizes engine health.
type SystemStatus struct {
	ServerTime time.Time       `json:"server_time"`
	UptimeSec  float64         `json:"uptime_sec"`
	EventSeq   uint64          `json:"event_seq"`
	LiveOrders int             `json:"live_orders"`
	Exposure   decimal.Decimal `json:"exposure"`
	Draining   bool            `json:"draining"`
}

func (c *Coordinator) Status() SystemStatus {
	c.stateMu.Lock()
	draining := c.draining
	c.stateMu.Unlock()
	return SystemStatus{
		ServerTime: time.Now().UTC(),
		UptimeSec:  time.Since(c.started).Seconds(),
		EventSeq:   c.bus.Seq(),
		LiveOrders: c.mach.LiveCount(),
		Exposure:   c.led.Exposure(),
		Draining:   draining,
	}
}

func (c *Coordinator) Positions() []ledger.Position {
	snap := c.led.Snapshot()
	out := make([]ledger.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (c *Coordinator) OpenOrders() []order.Order {
	return c.mach.Live()
}

func (c *Coordinator) Anomalies() ([]order.Anomaly, uint64) {
	return c.mach.Anomalies()
}

func (c *Coordinator) LedgerSnapshot() ledger.Snapshot {
	return c.led.Snapshot()
}
