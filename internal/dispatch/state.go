package dispatch

import (
	"larder/internal/storage"
	logx "larder/pkg/logx"
)

// State captures everything needed to resume after a restart.
func (d *Dispatcher) State() storage.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return storage.State{
		Version:     storage.StateVersion,
		SavedAt:     d.now(),
		NextID:      d.nextID,
		Log:         d.store.All(),
		Suppressed:  d.store.Suppressions(),
		Rules:       d.set.List(),
		Batches:     d.batches.Pending(),
		Escalations: d.monitor.Pending(),
	}
}

// Restore loads a saved state. Batches whose flush time passed go out on the
// next wheel tick; escalations resume at their level with a fresh timeout.
// Rules from the state replace the current set when the state has any.
func (d *Dispatcher) Restore(st storage.State) error {
	now := d.now()

	d.mu.Lock()
	d.store.Reset(st.Log, st.Suppressed)
	next := st.NextID
	if m := d.store.MaxID() + 1; m > next {
		next = m
	}
	for _, b := range st.Batches {
		for _, n := range b.Items {
			if n.ID >= next {
				next = n.ID + 1
			}
		}
	}
	if next > d.nextID {
		d.nextID = next
	}
	d.mu.Unlock()

	if len(st.Rules) > 0 {
		for _, err := range d.set.Replace(st.Rules) {
			d.log.Warn("restored rule skipped", logx.Err(err))
		}
	}
	d.batches.Restore(st.Batches, now)

	// Escalations of notifications acknowledged before the checkpoint are
	// dropped.
	pending := st.Escalations[:0:0]
	for _, t := range st.Escalations {
		if n, ok := d.store.Get(t.ID); ok && !n.Acknowledged {
			pending = append(pending, t)
		}
	}
	d.monitor.Restore(pending, now)

	d.log.Info("state restored",
		logx.Int("log", d.store.Len()),
		logx.Int("rules", d.set.Len()),
		logx.Int("batches", len(st.Batches)),
		logx.Int("escalations", len(pending)),
		logx.Uint64("next_id", d.nextID),
	)
	return nil
}
