package dispatch

import (
	"context"
	"time"

	"larder/internal/category"
	"larder/internal/eventbus"
	"larder/internal/notification"
	"larder/internal/ratelimit"
	"larder/internal/rules"
	"larder/internal/store"
	logx "larder/pkg/logx"
)

// Submit validates req and routes it through the policy chain. It returns as
// soon as the decision is made; delivery to subscribers is asynchronous.
func (d *Dispatcher) Submit(ctx context.Context, req notification.Request) (notification.Receipt, error) {
	if d.stopped.Load() {
		return notification.Receipt{}, ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return notification.Receipt{}, err
	}
	req, err := req.Validate(d.reg)
	if err != nil {
		return notification.Receipt{}, err
	}

	now := d.now()
	res := d.engine.Resolve(req.Category, req.Priority, now)
	dec := res.Decision

	if dec.Action != notification.ActionSuppress && !req.Category.Exempt() {
		lim := ratelimit.Limits{MaxPerHour: res.MaxPerHour, MinInterval: res.MinInterval}
		if lim.MaxPerHour < 0 {
			lim.MaxPerHour = 0
		}
		if !d.limiter.Admit(d.rateScope().Key(string(req.Category), req.Source), now, lim) {
			dec = notification.Decision{Action: notification.ActionSuppress, Rule: dec.Rule, Reason: "rate limited"}
		}
	}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	n := notification.Notification{
		ID:        id,
		Category:  req.Category,
		Priority:  req.Priority,
		Title:     req.Title,
		Message:   req.Message,
		Source:    req.Source,
		CreatedAt: now,
	}
	switch dec.Action {
	case notification.ActionSuppress:
		d.store.RecordSuppressed(store.Suppression{At: now, ID: id, Category: n.Category, Reason: dec.Reason})
	case notification.ActionBatch:
		b := d.batches.Enqueue(n, dec.Bucket, dec.FlushAt, now)
		dec.FlushAt = b.FlushAt
	default:
		delivered := now
		n.DeliveredAt = &delivered
		d.store.Append(n)
		d.postLocked(notification.Delivery{
			Kind:     notification.DeliveryImmediate,
			At:       now,
			Category: n.Category,
			Summary:  summaryOf(n),
			Items:    []notification.Notification{n},
		})
		if dec.Action == notification.ActionEscalate {
			d.monitor.Track(id, n.Category, now)
		}
	}
	d.mu.Unlock()
	d.markDirty()

	ev := eventbus.NotificationEvent{ID: id, Category: string(n.Category), Priority: n.Priority, Action: dec.Action.String(), Reason: dec.Reason}
	switch dec.Action {
	case notification.ActionSuppress:
		d.log.Debug("notification suppressed", logx.Uint64("id", id), logx.String("category", string(n.Category)), logx.String("reason", dec.Reason))
		d.publish(eventbus.TypeSuppressed, ev)
	case notification.ActionBatch:
		d.publish(eventbus.TypeBatched, ev)
	default:
		d.publish(eventbus.TypeDelivered, ev)
	}
	return notification.Receipt{ID: id, Decision: dec}, nil
}

func summaryOf(n notification.Notification) string {
	if n.Title != "" {
		return n.Title
	}
	return n.Message
}

// ConfigureRule adds or replaces a rule. Overlaps with rules of the same
// specificity are logged and published as warnings; they are not errors.
func (d *Dispatcher) ConfigureRule(r rules.Rule) error {
	conflicts, err := d.set.Put(r)
	if err != nil {
		return err
	}
	d.markDirty()
	d.reportConflicts(conflicts)
	return nil
}

func (d *Dispatcher) reportConflicts(conflicts []rules.Conflict) {
	for _, c := range conflicts {
		d.log.Warn("rule conflict", logx.String("added", c.Added.String()), logx.String("existing", c.Existing.String()), logx.String("winner", c.Winner.String()))
		d.publish(eventbus.TypeRuleConflict, eventbus.ConflictEvent{Added: c.Added.String(), Existing: c.Existing.String(), Winner: c.Winner.String()})
	}
}

// RemoveRule deletes every rule of c and returns how many were removed.
func (d *Dispatcher) RemoveRule(c category.Category) int {
	n := d.set.Remove(c)
	if n > 0 {
		d.markDirty()
	}
	return n
}

// ReplaceRules swaps the whole rule set. Invalid rules are skipped and
// returned as errors.
func (d *Dispatcher) ReplaceRules(rs []rules.Rule) []error {
	errs := d.set.Replace(rs)
	d.markDirty()
	seen := rules.NewSet()
	for _, r := range d.set.List() {
		conflicts, _ := seen.Put(r)
		d.reportConflicts(conflicts)
	}
	return errs
}

// Rules lists the active rules.
func (d *Dispatcher) Rules() []rules.Rule { return d.set.List() }

// Acknowledge marks id as acknowledged and cancels its escalation. It is
// idempotent for known ids. Ids still waiting in a batch are not in the
// store yet and report ErrNotFound.
func (d *Dispatcher) Acknowledge(id uint64) error {
	now := d.now()
	d.mu.Lock()
	changed, err := d.store.Acknowledge(id, now)
	if err == nil {
		d.monitor.Acknowledge(id)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		d.markDirty()
		n, _ := d.store.Get(id)
		d.publish(eventbus.TypeAcknowledged, eventbus.NotificationEvent{ID: id, Category: string(n.Category), Priority: n.Priority})
	}
	return nil
}

// MarkRead marks id as read.
func (d *Dispatcher) MarkRead(id uint64) error {
	changed, err := d.store.MarkRead(id, d.now())
	if changed {
		d.markDirty()
	}
	return err
}

// MarkAllRead marks everything read and returns how many changed.
func (d *Dispatcher) MarkAllRead() int {
	n := d.store.MarkAllRead(d.now())
	if n > 0 {
		d.markDirty()
	}
	return n
}

// Location is the time zone used for quiet hours, digests and analytics.
func (d *Dispatcher) Location() *time.Location { return d.engine.Config().Location }
