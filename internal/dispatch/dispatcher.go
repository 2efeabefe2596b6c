package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"larder/internal/batch"
	"larder/internal/category"
	"larder/internal/escalation"
	"larder/internal/eventbus"
	"larder/internal/ratelimit"
	"larder/internal/rules"
	"larder/internal/runtime/supervisor"
	"larder/internal/store"
	"larder/internal/timerwheel"
	logx "larder/pkg/logx"
)

var ErrStopped = errors.New("dispatcher stopped")

const (
	pruneKey   = "ratelimit/prune"
	pruneEvery = 10 * time.Minute
)

// Config holds the runtime knobs of a dispatcher. It can be swapped with Apply.
type Config struct {
	Engine     rules.Config
	RateScope  ratelimit.Scope
	Escalation escalation.Policy
}

type Option func(*Dispatcher)

// WithClock overrides time.Now for every decision and timer.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(d *Dispatcher) {
		if bus != nil {
			d.bus = bus
		}
	}
}

func WithRegistry(reg *category.Registry) Option {
	return func(d *Dispatcher) {
		if reg != nil {
			d.reg = reg
		}
	}
}

// WithRetryDelay sets how long a failed flush or escalation waits before the
// next attempt.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.retry = delay }
}

// Dispatcher is the Dispatch Bus.
type Dispatcher struct {
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
	retry time.Duration

	reg     *category.Registry
	set     *rules.Set
	engine  *rules.Engine
	limiter *ratelimit.Limiter
	wheel   *timerwheel.Wheel
	batches *batch.Scheduler
	monitor *escalation.Monitor
	store   *store.Store
	sup     *supervisor.Supervisor

	scope atomic.Value // ratelimit.Scope

	// mu serializes id assignment, store appends and mailbox posts so
	// subscribers see deliveries in store order.
	mu     sync.Mutex
	nextID uint64
	subs   []*mailbox
	subSeq uint64

	dirty   atomic.Bool
	stopped atomic.Bool

	runMu     sync.Mutex
	started   bool
	wheelStop context.CancelFunc
}

func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		bus:     eventbus.Nop(),
		now:     time.Now,
		reg:     category.NewRegistry(),
		set:     rules.NewSet(),
		limiter: ratelimit.New(),
		store:   store.New(),
		nextID:  1,
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if err := cfg.Escalation.Validate(); err != nil {
		return nil, err
	}

	engine, err := rules.NewEngine(cfg.Engine, d.set)
	if err != nil {
		return nil, err
	}
	d.engine = engine
	d.setScope(cfg.RateScope)

	d.wheel = timerwheel.New(
		timerwheel.WithRetry(d.retry),
		timerwheel.WithClock(d.now),
		timerwheel.WithLogger(d.log.With(logx.String("comp", "timerwheel"))),
	)
	d.batches = batch.New(d.wheel, d.flushBatch, d.log.With(logx.String("comp", "batch")))
	d.monitor = escalation.NewMonitor(d.wheel, cfg.Escalation, d.escalate, d.exhausted, d.log.With(logx.String("comp", "escalation")))
	d.sup = supervisor.New(context.Background(), supervisor.WithLogger(d.log.With(logx.String("comp", "supervisor"))))
	d.wheel.Schedule(pruneKey, d.now().Add(pruneEvery), d.prune)
	return d, nil
}

// Apply swaps the runtime config. Rules, the store and pending timers are kept.
func (d *Dispatcher) Apply(cfg Config) error {
	if err := cfg.Escalation.Validate(); err != nil {
		return err
	}
	if err := d.engine.Apply(cfg.Engine); err != nil {
		return err
	}
	d.monitor.Apply(cfg.Escalation)
	d.setScope(cfg.RateScope)
	return nil
}

func (d *Dispatcher) setScope(s ratelimit.Scope) {
	if s == "" {
		s = ratelimit.ScopeCategory
	}
	d.scope.Store(s)
}

func (d *Dispatcher) rateScope() ratelimit.Scope {
	s, _ := d.scope.Load().(ratelimit.Scope)
	return s
}

// Registry is the category registry owned by this dispatcher.
func (d *Dispatcher) Registry() *category.Registry { return d.reg }

// Start runs the timer wheel loop. Subscribers receive deliveries whether or
// not the loop is running; only flushes and escalations need it.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.stopped.Load() {
		return ErrStopped
	}
	if d.started {
		return nil
	}
	wctx, cancel := context.WithCancel(d.sup.Context())
	stopOnParent := context.AfterFunc(ctx, cancel)
	d.wheelStop = func() {
		stopOnParent()
		cancel()
	}
	d.sup.Go("timerwheel", func(context.Context) error {
		err := d.wheel.Run(wctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	d.started = true
	d.log.Info("dispatcher started", logx.Int("rules", d.set.Len()), logx.Int("timers", d.wheel.Len()))
	return nil
}

// Stop rejects new submissions, stops the timer loop and drains subscriber
// mailboxes until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.stopped.CompareAndSwap(false, true) {
		return nil
	}
	start := time.Now()
	d.runMu.Lock()
	if d.wheelStop != nil {
		d.wheelStop()
	}
	d.runMu.Unlock()

	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()
	for _, mb := range subs {
		mb.close(true)
	}

	err := d.sup.Wait(ctx)
	if err != nil {
		shortCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = d.sup.Stop(shortCtx)
		cancel()
		err = fmt.Errorf("dispatcher stop: %w", err)
	}
	d.log.Info("dispatcher stopped", logx.Duration("took", time.Since(start)), logx.Int("open_batches", d.batches.Len()), logx.Int("escalations", d.monitor.Len()))
	return err
}

// Dirty reports whether state changed since the last TakeDirty.
func (d *Dispatcher) Dirty() bool { return d.dirty.Load() }

// TakeDirty reports and clears the change flag.
func (d *Dispatcher) TakeDirty() bool { return d.dirty.Swap(false) }

func (d *Dispatcher) markDirty() { d.dirty.Store(true) }

func (d *Dispatcher) publish(typ string, data any) {
	d.bus.Publish(eventbus.Event{Type: typ, Time: d.now(), Data: data})
}

// prune drops idle rate-limit windows and re-arms itself.
func (d *Dispatcher) prune(now time.Time) error {
	if n := d.limiter.Prune(now); n > 0 {
		d.log.Debug("rate windows pruned", logx.Int("keys", n), logx.Int("left", d.limiter.Keys()))
	}
	d.wheel.Schedule(pruneKey, now.Add(pruneEvery), d.prune)
	return nil
}

// RunDue runs every timer due at now on the caller's goroutine. It is meant
// for tests and tools that drive the clock themselves.
func (d *Dispatcher) RunDue(now time.Time) int { return d.wheel.RunDue(now) }
