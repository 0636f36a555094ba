package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trading-engine/internal/events"
)

// Monitor observes the full event stream and feeds the metrics counters. It
// subscribes with a drop-oldest policy so a slow observer never stalls
// publishers.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Log     *zap.Logger
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		return
	}
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	sub := m.Bus.Subscribe(events.SubscribeOptions{
		Name:   "monitor",
		Buffer: 1024,
		Policy: events.DropOldest,
	})
	go sub.Run(ctx, m.observe)
}

func (m *Monitor) observe(ev events.Event) {
	if !ev.SourceTime.IsZero() {
		m.Metrics.DeliveryLatency.RecordDuration(time.Since(ev.SourceTime))
	}
	switch ev.Type {
	case events.TypeMarketTick:
		m.Metrics.IncrementTicks()
	case events.TypeOrderAck:
		m.Metrics.IncrementAcks()
	case events.TypeOrderFill:
		m.Metrics.IncrementFills()
	case events.TypeOrderReject:
		m.Metrics.IncrementRejects()
	case events.TypeTimer:
		m.Metrics.IncrementTimers()
	case events.TypeShutdownRequest:
		m.Log.Info("shutdown observed", zap.String("reason", ev.Shutdown.Reason))
	}
}
