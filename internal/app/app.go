package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"larder/internal/category"
	"larder/internal/config"
	"larder/internal/dispatch"
	"larder/internal/eventbus"
	"larder/internal/observability/debugsrv"
	"larder/internal/runtime/supervisor"
	"larder/internal/storage"
	logx "larder/pkg/logx"
)

// App wires config, logging, storage and the dispatcher into one process.
type App struct {
	cfgm *config.Manager
	rt   config.Runtime
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	reg    *category.Registry
	disp   *dispatch.Dispatcher
	store  storage.Store
	driver string
	out    *outbound
	dbg    *debugsrv.Service

	saveMu sync.Mutex
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(rt.Log)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	reg := category.NewRegistry()
	applyCategories(reg, rt.Categories, appLog)

	disp, err := dispatch.New(rt.Dispatch,
		dispatch.WithLogger(log.With(logx.String("comp", "dispatch"))),
		dispatch.WithBus(bus),
		dispatch.WithRegistry(reg),
		dispatch.WithRetryDelay(rt.RetryDelay),
	)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	out, err := openSinks(rt.Sinks, log, bus)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("sinks: %w", err)
	}

	store, err := openStorage(rt, log)
	if err != nil {
		if out != nil && out.feed != nil {
			_ = out.feed.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgm:   cfgm,
		rt:     rt,
		log:    appLog,
		logs:   logSvc,
		bus:    bus,
		reg:    reg,
		disp:   disp,
		store:  store,
		driver: rt.Storage.Driver,
		out:    out,
		dbg:    debugsrv.New(rt.Debug, log.With(logx.String("comp", "debug"))),
	}, nil
}

// Dispatcher is the engine producers and consumers talk to.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	restored, err := a.restore(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	// Persisted rules win; config rules only fill an empty set.
	if len(a.disp.Rules()) == 0 {
		installRules(a.disp, configuredRules(a.rt, a.reg), a.log)
	}
	if a.out != nil {
		a.out.start(a.disp)
	}
	if err := a.disp.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	if a.store != nil {
		every := a.rt.Checkpoint
		a.sup.Go0("checkpoint", func(c context.Context) { a.checkpointLoop(c, every) })
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce a burst of reloads into the newest one.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.registerDebugRoutes()
	a.dbg.Start(a.sup.Context())

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Bool("restored", restored),
		logx.Int("rules", len(a.disp.Rules())),
		logx.String("timezone", a.disp.Location().String()),
	)
	return nil
}

// applyConfig hot-applies a validated config. Storage changes need a restart.
// It runs only on the config.reload goroutine, which owns a.rt after Start.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rt, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	if ch.Has("logging") {
		a.logs.Apply(rt.Log)
	}
	if ch.Has("categories") {
		applyCategories(a.reg, rt.Categories, a.log)
	}
	if ch.Has("engine") {
		if err := a.disp.Apply(rt.Dispatch); err != nil {
			a.log.Warn("engine config rejected; keeping previous", logx.Err(err))
		}
		if rt.RetryDelay != a.rt.RetryDelay {
			a.log.Warn("engine.retry_delay changed; restart required for changes to take effect")
		}
	}
	if ch.Has("rules") || (ch.Has("engine") && rt.SeedRules != a.rt.SeedRules) {
		installRules(a.disp, configuredRules(rt, a.reg), a.log)
	}
	if ch.Has("sinks") {
		a.applySinks(a.rt.Sinks, rt.Sinks)
	}
	if ch.Has("debug") {
		a.dbg.Reconfigure(a.sup.Context(), rt.Debug)
	}
	if ch.Has("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	a.rt = rt

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "debug", time.Second, a.dbg.Stop)
	// Producers are cut off first so the final checkpoint sees everything.
	a.step(ctx, "dispatcher", 3*time.Second, a.disp.Stop)
	if a.out != nil {
		a.step(ctx, "sinks", 2*time.Second, a.out.stop)
	}
	a.step(ctx, "checkpoint", 2*time.Second, a.checkpoint)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the parent deadline. A step
// that overruns is left running and its late completion is logged.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
