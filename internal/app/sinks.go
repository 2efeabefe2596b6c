package app

import (
	"context"
	"errors"

	"larder/internal/config"
	"larder/internal/dispatch"
	"larder/internal/eventbus"
	"larder/internal/sink"
	logx "larder/pkg/logx"
)

// outbound is the sink pipeline subscribed to the dispatcher.
type outbound struct {
	svc   *sink.Service
	feed  *sink.Feed
	unsub func()
}

func openSinks(rt config.SinksRuntime, log logx.Logger, bus eventbus.Bus) (*outbound, error) {
	if !rt.Enabled {
		return nil, nil
	}
	var (
		targets sink.Multi
		feed    *sink.Feed
	)
	if rt.Log {
		targets = append(targets, sink.Log{L: log.With(logx.String("comp", "sink.log"))})
	}
	if rt.Feed != "" {
		f, err := sink.OpenFeed(rt.Feed)
		if err != nil {
			return nil, err
		}
		feed = f
		targets = append(targets, f)
	}
	var s sink.Sink = targets
	if len(targets) == 1 {
		s = targets[0]
	}
	svc := sink.New(rt.Service, s, log.With(logx.String("comp", "sink")), bus)
	log.Info("sinks enabled", logx.String("sink", s.Name()))
	return &outbound{svc: svc, feed: feed}, nil
}

// start runs the workers detached from the app context so stop can drain
// the queue after the supervisor is canceled.
func (o *outbound) start(d *dispatch.Dispatcher) {
	o.svc.Start(context.Background())
	o.unsub = d.Subscribe(o.svc.Deliver)
}

func (o *outbound) stop(ctx context.Context) error {
	if o.unsub != nil {
		o.unsub()
	}
	err := o.svc.Stop(ctx)
	if o.feed != nil {
		err = errors.Join(err, o.feed.Close())
	}
	return err
}

// applySinks hot-applies rate, retry and dedup settings. Enabling, disabling
// or retargeting sinks needs a restart.
func (a *App) applySinks(prev, next config.SinksRuntime) {
	if prev.Enabled != next.Enabled || prev.Log != next.Log || prev.Feed != next.Feed ||
		prev.Service.Workers != next.Service.Workers || prev.Service.QueueSize != next.Service.QueueSize {
		a.log.Warn("sinks targets or pool changed; restart required for changes to take effect")
	}
	if a.out != nil && next.Enabled {
		a.out.svc.Apply(next.Service)
	}
}
