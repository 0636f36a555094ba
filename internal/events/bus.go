package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backpressure selects what Publish does when a subscriber's buffer is full.
type Backpressure uint8

const (
	// BlockPublisher makes Publish wait until the subscriber drains.
	BlockPublisher Backpressure = iota
	// DropOldest evicts the oldest buffered event to make room.
	DropOldest
	// DisconnectConsumer closes the subscription.
	DisconnectConsumer
)

var ErrBusClosed = errors.New("event bus closed")

// FaultFunc is invoked when a consumer panics while handling an event.
type FaultFunc func(subscriber string, ev Event, recovered any)

// SubscribeOptions declares a consumer's delivery contract at registration.
type SubscribeOptions struct {
	Name    string
	Buffer  int
	Policy  Backpressure
	Types   []Type   // empty = all types
	Symbols []string // empty = all symbols; events without a symbol always match
}

// Subscription is a handle to one consumer's ordered event stream.
type Subscription struct {
	name    string
	ch      chan Event
	types   map[Type]bool
	symbols map[string]bool
	policy  Backpressure

	bus    *Bus
	closed bool // guarded by bus.mu
}

// Events returns the consumer's delivery channel. It is closed when the
// subscription is disconnected or the bus shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Name returns the consumer name given at registration.
func (s *Subscription) Name() string {
	return s.name
}

// Run consumes events until the context is done or the subscription closes.
// A panic inside handler is recovered, reported through the bus fault hook,
// and does not stop delivery; the faulted event is skipped.
func (s *Subscription) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.ch:
			if !ok {
				return
			}
			s.handle(ev, handler)
		}
	}
}

func (s *Subscription) handle(ev Event, handler func(Event)) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.reportFault(s.name, ev, r)
		}
	}()
	handler(ev)
}

func (s *Subscription) matches(ev Event) bool {
	if s.types != nil && !s.types[ev.Type] {
		return false
	}
	if s.symbols != nil && ev.Symbol != "" && !s.symbols[ev.Symbol] {
		return false
	}
	return true
}

// Bus delivers typed events to registered consumers in a single total order.
// It assigns the authoritative sequence number at ingress; delivery to every
// subscriber is in strictly increasing sequence order with no reordering.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	subs    []*Subscription
	closed  bool
	onFault FaultFunc
	log     *zap.Logger
}

// NewBus creates an event bus.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// OnFault installs the consumer fault hook. Must be called before Publish.
func (b *Bus) OnFault(fn FaultFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFault = fn
}

// Subscribe registers a consumer and returns its subscription handle.
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscription {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	sub := &Subscription{
		name:   opts.Name,
		ch:     make(chan Event, opts.Buffer),
		policy: opts.Policy,
		bus:    b,
	}
	if len(opts.Types) > 0 {
		sub.types = make(map[Type]bool, len(opts.Types))
		for _, t := range opts.Types {
			sub.types[t] = true
		}
	}
	if len(opts.Symbols) > 0 {
		sub.symbols = make(map[string]bool, len(opts.Symbols))
		for _, s := range opts.Symbols {
			sub.symbols[s] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes the consumer and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

func (b *Bus) dropLocked(sub *Subscription) {
	if sub == nil || sub.closed {
		return
	}
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	sub.closed = true
	close(sub.ch)
}

// Publish stamps the event with the next sequence number and source time (if
// the adapter left it zero) and fans it out to matching subscribers. The full
// assignment+delivery step is serialized so no subscriber can observe events
// out of sequence order.
func (b *Bus) Publish(ev Event) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrBusClosed
	}

	b.seq++
	ev.Seq = b.seq
	if ev.SourceTime.IsZero() {
		ev.SourceTime = time.Now()
	}

	// Iterate over a snapshot: DisconnectConsumer mutates b.subs.
	for _, sub := range append([]*Subscription(nil), b.subs...) {
		if sub.closed || !sub.matches(ev) {
			continue
		}
		b.deliverLocked(sub, ev)
	}
	return ev.Seq, nil
}

func (b *Bus) deliverLocked(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	switch sub.policy {
	case DropOldest:
		select {
		case dropped := <-sub.ch:
			b.log.Warn("bus: dropping oldest event for slow consumer",
				zap.String("subscriber", sub.name),
				zap.Uint64("dropped_seq", dropped.Seq))
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	case DisconnectConsumer:
		b.log.Warn("bus: disconnecting slow consumer", zap.String("subscriber", sub.name))
		b.dropLocked(sub)
	default: // BlockPublisher
		sub.ch <- ev
	}
}

// Close stops the bus and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.closed = true
		close(sub.ch)
	}
	b.subs = nil
}

// Seq returns the sequence number of the most recently accepted event.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func (b *Bus) reportFault(name string, ev Event, recovered any) {
	b.mu.Lock()
	fn := b.onFault
	b.mu.Unlock()
	b.log.Error("bus: consumer fault isolated",
		zap.String("subscriber", name),
		zap.Uint64("seq", ev.Seq),
		zap.String("type", ev.Type.String()),
		zap.Any("panic", recovered))
	if fn != nil {
		fn(name, ev, recovered)
	}
}
