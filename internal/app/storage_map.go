package app

import (
	"context"
	"errors"
	"time"

	"larder/internal/config"
	"larder/internal/eventbus"
	"larder/internal/storage"
	logx "larder/pkg/logx"
)

func openStorage(rt config.Runtime, log logx.Logger) (storage.Store, error) {
	st, err := storage.Open(rt.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if st != nil {
		log.Info("storage enabled", logx.String("driver", rt.Storage.Driver), logx.Duration("checkpoint_interval", rt.Checkpoint))
	}
	return st, nil
}

// restore loads the last checkpoint into the dispatcher. It reports whether
// a non-empty state was found.
func (a *App) restore(ctx context.Context) (bool, error) {
	if a.store == nil {
		return false, nil
	}
	st, ok, err := a.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if !ok || st.Empty() {
		return false, nil
	}
	if err := a.disp.Restore(st); err != nil {
		return false, err
	}
	return true, nil
}

// checkpoint saves the dispatcher state. Saves are serialized so the final
// checkpoint at stop never races the periodic one.
func (a *App) checkpoint(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	start := time.Now()
	st := a.disp.State()
	err := a.store.Save(ctx, st)
	ev := eventbus.CheckpointEvent{Driver: a.driver, Log: len(st.Log), Took: time.Since(start)}
	if err != nil {
		ev.Error = err.Error()
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeCheckpoint, Time: time.Now(), Data: ev})
	if err != nil {
		return err
	}
	a.log.Debug("checkpoint saved", logx.Int("log", len(st.Log)), logx.Int("batches", len(st.Batches)), logx.Int("escalations", len(st.Escalations)), logx.Duration("took", ev.Took))
	return nil
}

// checkpointLoop saves on every tick where the dispatcher changed. A failed
// save is retried on the next tick.
func (a *App) checkpointLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	pending := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !a.disp.TakeDirty() && !pending {
			continue
		}
		err := a.checkpoint(ctx)
		pending = err != nil
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("checkpoint failed; retrying next tick", logx.Err(err))
		}
	}
}
