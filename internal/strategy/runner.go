package strategy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-engine/internal/events"
	"trading-engine/internal/ledger"
	"trading-engine/internal/order"
)

// Filter restricts which events a strategy receives.
type Filter struct {
	Symbols []string
	Types   []events.Type
}

// SubmitFunc accepts a finished OrderIntent for risk approval and submission.
type SubmitFunc func(events.OrderIntent)

type entry struct {
	strat Strategy
	sub   *events.Subscription
	ctx   *Context
}

// Runner invokes registered strategies on their filtered view of the event
// stream and turns their decisions into order intents. Each strategy runs on
// its own subscription, so a faulting strategy is isolated by the bus and
// does not affect the others.
type Runner struct {
	bus    *events.Bus
	led    *ledger.Ledger
	mach   *order.Machine
	log    *zap.Logger
	submit SubmitFunc
	sizer  *Sizer

	mu      sync.Mutex
	entries map[string]*entry
	started bool
}

func NewRunner(bus *events.Bus, led *ledger.Ledger, mach *order.Machine, submit SubmitFunc, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		bus:     bus,
		led:     led,
		mach:    mach,
		log:     log,
		submit:  submit,
		entries: make(map[string]*entry),
	}
}

// SetSizer installs a position sizing policy applied to every intent before
// submission.
func (r *Runner) SetSizer(s *Sizer) {
	r.sizer = s
}

// Register subscribes a strategy to its filtered event view. Must be called
// before Start.
func (r *Runner) Register(s Strategy, filter Filter) {
	types := filter.Types
	if len(types) == 0 {
		types = []events.Type{events.TypeMarketTick}
	}
	sub := r.bus.Subscribe(events.SubscribeOptions{
		Name:    "strategy-" + s.ID(),
		Buffer:  512,
		Policy:  events.DropOldest,
		Types:   types,
		Symbols: filter.Symbols,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID()] = &entry{
		strat: s,
		sub:   sub,
		ctx:   newContext(s.ID(), r.led, r.mach),
	}
	r.log.Info("strategy registered",
		zap.String("id", s.ID()),
		zap.String("name", s.Name()),
		zap.Strings("symbols", filter.Symbols))
}

// Start launches one consumer goroutine per registered strategy.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	for _, e := range r.entries {
		e := e
		go e.sub.Run(ctx, func(ev events.Event) {
			r.dispatch(e, ev)
		})
	}
}

func (r *Runner) dispatch(e *entry, ev events.Event) {
	for _, intent := range e.strat.OnEvent(ev, e.ctx) {
		if !intent.Qty.IsPositive() {
			continue
		}
		if r.sizer != nil {
			clipped, ok := r.sizer.Clip(intent, e.ctx)
			if !ok {
				r.log.Debug("intent dropped by sizing policy",
					zap.String("strategy", e.strat.ID()),
					zap.String("symbol", intent.Symbol))
				continue
			}
			intent = clipped
		}
		out := events.OrderIntent{
			CorrelationID: uuid.NewString(),
			StrategyID:    e.strat.ID(),
			Symbol:        intent.Symbol,
			Side:          intent.Side,
			Qty:           intent.Qty,
			Price:         intent.Price,
			CreatedAt:     time.Now(),
		}
		r.log.Info("strategy intent",
			zap.String("strategy", e.strat.ID()),
			zap.String("symbol", out.Symbol),
			zap.String("side", string(out.Side)),
			zap.String("qty", out.Qty.String()),
			zap.String("note", intent.Note))
		r.submit(out)
	}
}

// NotifyRejection surfaces a rejected intent back to its strategy's context.
func (r *Runner) NotifyRejection(strategyID string, rej Rejection) {
	r.mu.Lock()
	e, ok := r.entries[strategyID]
	r.mu.Unlock()
	if ok {
		e.ctx.setRejection(rej)
	}
}

// States returns the serialized state of every strategy, keyed by id.
func (r *Runner) States() map[string]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]json.RawMessage, len(r.entries))
	for id, e := range r.entries {
		state, err := e.strat.GetState()
		if err != nil {
			r.log.Warn("strategy state save failed", zap.String("id", id), zap.Error(err))
			continue
		}
		if state != nil {
			out[id] = state
		}
	}
	return out
}

// RestoreState restores a previously saved strategy state.
func (r *Runner) RestoreState(strategyID string, data json.RawMessage) {
	r.mu.Lock()
	e, ok := r.entries[strategyID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := e.strat.SetState(data); err != nil {
		r.log.Warn("strategy state restore failed", zap.String("id", strategyID), zap.Error(err))
	}
}
