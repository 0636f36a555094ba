package engine

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-engine/internal/adapter"
	"trading-engine/internal/events"
	"trading-engine/internal/instrument"
	"trading-engine/internal/ledger"
	"trading-engine/internal/order"
	"trading-engine/internal/strategy"
)

// Options configures the coordinator's timing behavior.
type Options struct {
	// AckTimeout is how long a submitted order may stay Pending before it is
	// expired. Zero disables expiry.
	AckTimeout time.Duration
	// DrainTimeout bounds graceful shutdown: open orders still live when it
	// elapses are force-canceled locally.
	DrainTimeout time.Duration
	// SweepInterval is how often terminal orders past their retention grace
	// are moved to the archive sink. Zero disables sweeping.
	SweepInterval time.Duration
	// Partitions is the number of dispatch workers. Events for one instrument
	// always land on the same worker.
	Partitions int
}

// Config composes the modules the coordinator drives.
type Config struct {
	Bus         *events.Bus
	Instruments *instrument.Registry
	Ledger      *ledger.Ledger
	Machine     *order.Machine
	Gateway     adapter.OrderGateway
	Runner      *strategy.Runner
	Options     Options
	Logger      *zap.Logger
}

// Coordinator owns the order lifecycle: it passes intents through the risk
// ledger, hands approved orders to the gateway, and applies the venue's
// responses to the state machine. Lifecycle events for one instrument are
// processed by a single worker, so per-instrument ordering is preserved.
type Coordinator struct {
	bus  *events.Bus
	reg  *instrument.Registry
	led  *ledger.Ledger
	mach *order.Machine
	gw   adapter.OrderGateway
	log  *zap.Logger
	opts Options

	runnerMu sync.Mutex
	runner   *strategy.Runner

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	stateMu   sync.Mutex
	draining  bool
	drainedCh chan struct{}

	parts   []chan events.Event
	wg      sync.WaitGroup
	started time.Time
}

func NewCoordinator(cfg Config) *Coordinator {
	opts := cfg.Options
	if opts.Partitions <= 0 {
		opts.Partitions = 4
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		bus:       cfg.Bus,
		reg:       cfg.Instruments,
		led:       cfg.Ledger,
		mach:      cfg.Machine,
		gw:        cfg.Gateway,
		runner:    cfg.Runner,
		log:       log,
		opts:      opts,
		timers:    make(map[string]*time.Timer),
		drainedCh: make(chan struct{}),
	}
}

// SetRunner installs the strategy runner used for rejection feedback. The
// runner is constructed with the coordinator's Submit, so wiring happens in
// two steps.
func (c *Coordinator) SetRunner(r *strategy.Runner) {
	c.runnerMu.Lock()
	c.runner = r
	c.runnerMu.Unlock()
}

// Submit is the single entry point for order intents. It validates against
// the instrument registry, reserves risk capacity, registers the order, and
// forwards it to the gateway. Rejections at any step are reported back to the
// owning strategy; Submit itself never fails loudly.
func (c *Coordinator) Submit(intent events.OrderIntent) {
	ins, ok := c.reg.Lookup(intent.Symbol)
	if !ok {
		c.rejectIntent(intent, string(ledger.ReasonValidation), "unknown instrument "+intent.Symbol)
		return
	}
	intent.Qty = ins.RoundQty(intent.Qty)
	intent.Price = ins.RoundPrice(intent.Price)
	if !intent.Qty.IsPositive() {
		c.rejectIntent(intent, string(ledger.ReasonValidation), "quantity rounds to zero lot")
		return
	}

	c.stateMu.Lock()
	draining := c.draining
	c.stateMu.Unlock()
	if draining {
		c.rejectIntent(intent, string(ledger.ReasonValidation), "engine is draining")
		return
	}

	dec := c.led.Reserve(intent)
	if !dec.Approved {
		c.rejectIntent(intent, string(dec.Reason), dec.Detail)
		return
	}

	if _, err := c.mach.Track(intent); err != nil {
		c.led.Release(intent.CorrelationID)
		c.rejectIntent(intent, string(ledger.ReasonDuplicateIntent), err.Error())
		return
	}

	if err := c.gw.Submit(context.Background(), intent); err != nil {
		// The order never reached the venue, so no ack or fill can follow.
		c.mach.FailSubmission(intent.CorrelationID, err)
		c.rejectIntent(intent, order.ReasonSubmissionFailed, err.Error())
		return
	}

	c.scheduleAckTimeout(intent)
	c.log.Debug("order submitted",
		zap.String("correlation_id", intent.CorrelationID),
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.String("qty", intent.Qty.String()))
}

// Shutdown publishes a drain request into the event stream. Safe to call more
// than once.
func (c *Coordinator) Shutdown(reason string) {
	c.bus.Publish(events.Event{
		Type:       events.TypeShutdownRequest,
		SourceTime: time.Now(),
		Shutdown:   &events.ShutdownRequest{Reason: reason},
	})
}

// Drained is closed once a requested shutdown has finished draining.
func (c *Coordinator) Drained() <-chan struct{} {
	return c.drainedCh
}

// Run consumes the event stream until ctx is canceled or a shutdown request
// has fully drained. It must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	c.started = time.Now()
	sub := c.bus.Subscribe(events.SubscribeOptions{
		Name:   "coordinator",
		Buffer: 1024,
		// Lifecycle events must not be dropped; publishers block instead.
		Policy: events.BlockPublisher,
		Types: []events.Type{
			events.TypeMarketTick,
			events.TypeOrderAck,
			events.TypeOrderFill,
			events.TypeOrderReject,
			events.TypeOrderCancelAck,
			events.TypeTimer,
			events.TypeShutdownRequest,
		},
	})
	defer c.bus.Unsubscribe(sub)

	c.parts = make([]chan events.Event, c.opts.Partitions)
	for i := range c.parts {
		c.parts[i] = make(chan events.Event, 256)
		c.wg.Add(1)
		go c.partitionLoop(c.parts[i])
	}
	defer func() {
		for _, p := range c.parts {
			close(p)
		}
		c.wg.Wait()
		c.cancelAllTimers()
	}()

	var sweep *time.Ticker
	var sweepCh <-chan time.Time
	if c.opts.SweepInterval > 0 {
		sweep = time.NewTicker(c.opts.SweepInterval)
		sweepCh = sweep.C
		defer sweep.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.drainedCh:
			return nil
		case <-sweepCh:
			if n := c.mach.SweepArchive(time.Now()); n > 0 {
				c.log.Debug("archived terminal orders", zap.Int("count", n))
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			c.route(ev)
		}
	}
}

func (c *Coordinator) route(ev events.Event) {
	switch ev.Type {
	case events.TypeShutdownRequest:
		c.beginDrain(ev.Shutdown.Reason)
		return
	case events.TypeTimer:
		if ev.Timer.Kind == events.TimerDrainTimeout {
			c.finishDrain(true)
			return
		}
	}
	if ev.Symbol == "" {
		c.handle(ev)
		return
	}
	h := fnv.New32a()
	h.Write([]byte(ev.Symbol))
	c.parts[int(h.Sum32())%len(c.parts)] <- ev
}

func (c *Coordinator) partitionLoop(ch <-chan events.Event) {
	defer c.wg.Done()
	for ev := range ch {
		c.handle(ev)
	}
}

func (c *Coordinator) handle(ev events.Event) {
	switch ev.Type {
	case events.TypeMarketTick:
		c.led.MarkPrice(ev.Tick.Symbol, ev.Tick.Price)

	case events.TypeOrderAck:
		c.cancelAckTimer(ev.Ack.CorrelationID)
		if _, err := c.mach.ApplyAck(*ev.Ack); err != nil {
			c.log.Debug("ack discarded", zap.String("correlation_id", ev.Ack.CorrelationID), zap.Error(err))
		}

	case events.TypeOrderFill:
		o, err := c.mach.ApplyFill(*ev.Fill)
		if err != nil {
			c.log.Debug("fill discarded", zap.String("correlation_id", ev.Fill.CorrelationID), zap.Error(err))
			break
		}
		if o.State.Terminal() {
			c.onTerminal(o)
		}

	case events.TypeOrderReject:
		c.cancelAckTimer(ev.Reject.CorrelationID)
		o, err := c.mach.ApplyReject(*ev.Reject)
		if err != nil {
			c.log.Debug("reject discarded", zap.String("correlation_id", ev.Reject.CorrelationID), zap.Error(err))
			break
		}
		c.notifyOrderRejection(o)
		c.onTerminal(o)

	case events.TypeOrderCancelAck:
		o, err := c.mach.ApplyCancelAck(*ev.CancelAck)
		if err != nil {
			c.log.Debug("cancel ack discarded", zap.String("correlation_id", ev.CancelAck.CorrelationID), zap.Error(err))
			break
		}
		c.onTerminal(o)

	case events.TypeTimer:
		if ev.Timer.Kind != events.TimerAckTimeout {
			break
		}
		c.cancelAckTimer(ev.Timer.CorrelationID)
		if o, expired := c.mach.ExpireIfPending(ev.Timer.CorrelationID); expired {
			c.log.Warn("order expired waiting for ack",
				zap.String("correlation_id", o.CorrelationID),
				zap.String("symbol", o.Symbol))
			// Best effort: the venue may still hold it.
			c.gw.Cancel(context.Background(), o.CorrelationID)
			c.onTerminal(o)
		}
	}
}

// onTerminal runs after any transition into a terminal state.
func (c *Coordinator) onTerminal(o order.Order) {
	c.cancelAckTimer(o.CorrelationID)

	c.stateMu.Lock()
	draining := c.draining
	c.stateMu.Unlock()
	if draining && c.mach.LiveCount() == 0 {
		c.finishDrain(false)
	}
}

func (c *Coordinator) beginDrain(reason string) {
	c.stateMu.Lock()
	if c.draining {
		c.stateMu.Unlock()
		return
	}
	c.draining = true
	c.stateMu.Unlock()

	live := c.mach.Live()
	c.log.Info("drain started",
		zap.String("reason", reason),
		zap.Int("live_orders", len(live)))

	if len(live) == 0 {
		c.finishDrain(false)
		return
	}
	for _, o := range live {
		if o.State == order.StateOpen {
			if err := c.gw.Cancel(context.Background(), o.CorrelationID); err != nil {
				c.log.Warn("drain cancel failed",
					zap.String("correlation_id", o.CorrelationID), zap.Error(err))
			}
		}
	}
	if c.opts.DrainTimeout > 0 {
		time.AfterFunc(c.opts.DrainTimeout, func() {
			c.bus.Publish(events.Event{
				Type:       events.TypeTimer,
				SourceTime: time.Now(),
				Timer:      &events.TimerFired{Kind: events.TimerDrainTimeout},
			})
		})
	}
}

func (c *Coordinator) finishDrain(forced bool) {
	c.stateMu.Lock()
	select {
	case <-c.drainedCh:
		c.stateMu.Unlock()
		return
	default:
	}
	if forced {
		for _, o := range c.mach.Live() {
			c.mach.ForceCancel(o.CorrelationID, "drain timeout")
			c.log.Warn("order force-canceled at drain timeout",
				zap.String("correlation_id", o.CorrelationID),
				zap.String("symbol", o.Symbol))
		}
	}
	close(c.drainedCh)
	c.stateMu.Unlock()
	c.log.Info("drain complete", zap.Bool("forced", forced))
}

func (c *Coordinator) scheduleAckTimeout(intent events.OrderIntent) {
	if c.opts.AckTimeout <= 0 {
		return
	}
	id, symbol := intent.CorrelationID, intent.Symbol
	t := time.AfterFunc(c.opts.AckTimeout, func() {
		c.bus.Publish(events.Event{
			Type:       events.TypeTimer,
			Symbol:     symbol,
			SourceTime: time.Now(),
			Timer:      &events.TimerFired{Kind: events.TimerAckTimeout, CorrelationID: id},
		})
	})
	c.timerMu.Lock()
	c.timers[id] = t
	c.timerMu.Unlock()
}

func (c *Coordinator) cancelAckTimer(correlationID string) {
	c.timerMu.Lock()
	if t, ok := c.timers[correlationID]; ok {
		t.Stop()
		delete(c.timers, correlationID)
	}
	c.timerMu.Unlock()
}

func (c *Coordinator) cancelAllTimers() {
	c.timerMu.Lock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.timerMu.Unlock()
}

func (c *Coordinator) rejectIntent(intent events.OrderIntent, reason, detail string) {
	c.log.Info("intent rejected",
		zap.String("correlation_id", intent.CorrelationID),
		zap.String("strategy", intent.StrategyID),
		zap.String("symbol", intent.Symbol),
		zap.String("reason", reason),
		zap.String("detail", detail))
	c.notify(intent.StrategyID, strategy.Rejection{
		CorrelationID: intent.CorrelationID,
		Symbol:        intent.Symbol,
		Reason:        reason,
		Detail:        detail,
		At:            time.Now(),
	})
}

func (c *Coordinator) notifyOrderRejection(o order.Order) {
	c.notify(o.StrategyID, strategy.Rejection{
		CorrelationID: o.CorrelationID,
		Symbol:        o.Symbol,
		Reason:        o.Reason,
		At:            time.Now(),
	})
}

func (c *Coordinator) notify(strategyID string, rej strategy.Rejection) {
	c.runnerMu.Lock()
	r := c.runner
	c.runnerMu.Unlock()
	if r != nil && strategyID != "" {
		r.NotifyRejection(strategyID, rej)
	}
}
