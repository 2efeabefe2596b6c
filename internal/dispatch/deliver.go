package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"larder/internal/batch"
	"larder/internal/escalation"
	"larder/internal/eventbus"
	"larder/internal/notification"
	logx "larder/pkg/logx"
)

// Subscriber receives deliveries. It runs on its own goroutine and may be
// slow; producers never wait for it.
type Subscriber func(notification.Delivery)

// mailbox is an unbounded FIFO in front of one subscriber.
type mailbox struct {
	id  uint64
	fn  Subscriber
	log logx.Logger

	mu     sync.Mutex
	queue  []notification.Delivery
	closed bool
	drain  bool
	wake   chan struct{}

	onPanic func(id uint64, r any)
}

func (m *mailbox) post(d notification.Delivery) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, d)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// close stops the mailbox. With drain the queued deliveries are still handed
// out before the goroutine exits.
func (m *mailbox) close(drain bool) {
	m.mu.Lock()
	m.closed = true
	m.drain = drain
	if !drain {
		m.queue = nil
	}
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run(done <-chan struct{}) {
	for {
		m.mu.Lock()
		next := m.queue
		m.queue = nil
		closed, drain := m.closed, m.drain
		m.mu.Unlock()

		if closed && !drain {
			return
		}
		for _, d := range next {
			select {
			case <-done:
				return
			default:
			}
			m.deliver(d)
		}
		if len(next) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-done:
			return
		case <-m.wake:
		}
	}
}

func (m *mailbox) deliver(d notification.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("subscriber panicked", logx.Uint64("subscriber", m.id), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			if m.onPanic != nil {
				m.onPanic(m.id, r)
			}
		}
	}()
	m.fn(d)
}

// Subscribe registers fn for every delivery (immediate, batched and
// escalation). The returned func unsubscribes; pending deliveries are
// dropped.
func (d *Dispatcher) Subscribe(fn Subscriber) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	if d.stopped.Load() {
		return func() {}
	}
	d.mu.Lock()
	d.subSeq++
	mb := &mailbox{
		id:   d.subSeq,
		fn:   fn,
		log:  d.log.With(logx.String("comp", "mailbox")),
		wake: make(chan struct{}, 1),
		onPanic: func(id uint64, r any) {
			d.publish(eventbus.TypeSubscriberPanic, map[string]any{"subscriber": id, "panic": fmt.Sprint(r)})
		},
	}
	d.subs = append(d.subs, mb)
	d.mu.Unlock()

	d.sup.Go0("subscriber#"+strconv.FormatUint(mb.id, 10), func(ctx context.Context) {
		mb.run(ctx.Done())
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			for i, s := range d.subs {
				if s == mb {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					break
				}
			}
			d.mu.Unlock()
			mb.close(false)
		})
	}
}

// Subscribers is the number of live subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// postLocked hands one delivery to every mailbox. Callers hold d.mu.
func (d *Dispatcher) postLocked(del notification.Delivery) {
	for _, mb := range d.subs {
		mb.post(del)
	}
}

// flushBatch appends a batch to the store and delivers it as one group.
// Items already in the store (a repeated flush after a restart) are skipped.
// Exempt items start escalating from the flush, when they are first seen.
func (d *Dispatcher) flushBatch(b batch.Batch, now time.Time) error {
	d.mu.Lock()
	items := make([]notification.Notification, 0, len(b.Items))
	for _, n := range b.Items {
		at := now
		if at.Before(n.CreatedAt) {
			at = n.CreatedAt
		}
		n.DeliveredAt = &at
		n.GroupID = b.GroupID
		if d.store.Append(n) {
			items = append(items, n)
			if n.Category.Exempt() {
				d.monitor.Track(n.ID, n.Category, now)
			}
		}
	}
	if len(items) > 0 {
		d.postLocked(notification.Delivery{
			Kind:     notification.DeliveryBatch,
			At:       now,
			Category: b.Key.Category,
			GroupID:  b.GroupID,
			Summary:  batch.Summarize(b.Key.Category, items),
			Items:    items,
		})
	}
	d.mu.Unlock()

	if len(items) == 0 {
		return nil
	}
	d.markDirty()
	d.log.Debug("batch delivered", logx.String("key", b.Key.String()), logx.String("group", b.GroupID), logx.Int("items", len(items)))
	d.publish(eventbus.TypeBatchFlushed, eventbus.BatchEvent{GroupID: b.GroupID, Category: string(b.Key.Category), Bucket: b.Key.Bucket, Items: len(items), FlushAt: b.FlushAt})
	return nil
}

// escalate re-delivers an unacknowledged notification at a more urgent
// priority. The acknowledgment check and the post happen under d.mu, the
// same lock Acknowledge takes, so an acknowledged notification is never
// re-delivered.
func (d *Dispatcher) escalate(t escalation.Timer, now time.Time) error {
	d.mu.Lock()
	n, ok := d.store.Get(t.ID)
	if !ok || n.Acknowledged {
		d.mu.Unlock()
		if !ok {
			d.log.Warn("escalation for unknown notification", logx.Uint64("id", t.ID))
		}
		return nil
	}
	n, err := d.store.RecordEscalation(t.ID)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	raised := n
	raised.Priority = max(1, n.Priority-t.Level)
	d.postLocked(notification.Delivery{
		Kind:     notification.DeliveryEscalation,
		At:       now,
		Category: n.Category,
		Level:    t.Level,
		Summary:  fmt.Sprintf("escalation %d/%d: %s", t.Level, t.MaxLevel, summaryOf(n)),
		Items:    []notification.Notification{raised},
	})
	d.mu.Unlock()

	d.markDirty()
	d.publish(eventbus.TypeEscalated, eventbus.EscalationEvent{ID: t.ID, Category: string(t.Category), Level: t.Level, MaxLevel: t.MaxLevel})
	return nil
}

func (d *Dispatcher) exhausted(t escalation.Timer, _ time.Time) {
	if err := d.store.MarkExhausted(t.ID); err != nil {
		d.log.Warn("mark exhausted failed", logx.Uint64("id", t.ID), logx.Err(err))
		return
	}
	d.markDirty()
	d.publish(eventbus.TypeEscalationExhausted, eventbus.EscalationEvent{ID: t.ID, Category: string(t.Category), Level: t.Level, MaxLevel: t.MaxLevel})
}
