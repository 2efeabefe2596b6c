package dispatch

import (
	"io"
	"iter"

	"larder/internal/notification"
	"larder/internal/store"
	logx "larder/pkg/logx"
)

// Query yields delivered notifications matching f, newest first.
func (d *Dispatcher) Query(f notification.Filter) iter.Seq[notification.Notification] {
	return d.store.Query(f)
}

// Get returns one delivered notification.
func (d *Dispatcher) Get(id uint64) (notification.Notification, error) {
	n, ok := d.store.Get(id)
	if !ok {
		return n, notification.ErrNotFound
	}
	return n, nil
}

// Snapshot recomputes analytics at the current time in the engine time zone.
func (d *Dispatcher) Snapshot() store.Snapshot {
	return d.store.Snapshot(d.now(), d.Location())
}

// Export writes the log (or the part matching f) as json or csv.
func (d *Dispatcher) Export(w io.Writer, format store.Format, f notification.Filter) (int, error) {
	return d.store.Export(w, format, f)
}

// Import replaces the log with a JSON export. The suppression ledger, open
// batches and escalations are kept; ids continue after the largest imported id.
func (d *Dispatcher) Import(r io.Reader) (int, error) {
	list, err := store.ImportJSON(r)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	n := d.store.Reset(list, d.store.Suppressions())
	if next := d.store.MaxID() + 1; next > d.nextID {
		d.nextID = next
	}
	d.mu.Unlock()
	d.markDirty()
	d.log.Info("log imported", logx.Int("entries", n))
	return n, nil
}
