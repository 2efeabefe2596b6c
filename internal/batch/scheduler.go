package batch

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"larder/internal/notification"
	"larder/internal/timerwheel"
	logx "larder/pkg/logx"
)

// FlushFunc delivers a detached batch. A non-nil error keeps the batch and
// the wheel retries it later.
type FlushFunc func(b Batch, now time.Time) error

// Scheduler owns the open batches.
type Scheduler struct {
	wheel *timerwheel.Wheel
	flush FlushFunc
	log   logx.Logger

	mu sync.Mutex
	// open maps a key to the group id of its open batch.
	open map[Key]string
	// batches holds open batches and detached batches not yet flushed.
	batches map[string]*Batch
}

func New(wheel *timerwheel.Wheel, flush FlushFunc, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		wheel:   wheel,
		flush:   flush,
		log:     log,
		open:    map[Key]string{},
		batches: map[string]*Batch{},
	}
}

func wheelKey(groupID string) string { return "batch/" + groupID }

// Enqueue adds n to the open batch of (n.Category, bucket), opening one that
// flushes at flushAt if needed. An open batch whose flush time has passed is
// detached first so the item starts a new batch instead of joining one that
// is being delivered. It returns the batch the item joined.
func (s *Scheduler) Enqueue(n notification.Notification, bucket string, flushAt, now time.Time) Batch {
	k := Key{Category: n.Category, Bucket: bucket}

	s.mu.Lock()
	var b *Batch
	if id, ok := s.open[k]; ok {
		b = s.batches[id]
		if b != nil && !now.Before(b.FlushAt) {
			delete(s.open, k)
			s.log.Debug("batch detached on enqueue", logx.String("key", k.String()), logx.String("group", b.GroupID), logx.Int("items", len(b.Items)))
			b = nil
		}
	}
	created := false
	if b == nil {
		if flushAt.Before(now) {
			flushAt = now
		}
		b = &Batch{Key: k, GroupID: uuid.NewString(), OpenedAt: now, FlushAt: flushAt}
		s.open[k] = b.GroupID
		s.batches[b.GroupID] = b
		created = true
	}
	b.Items = append(b.Items, n)
	out := b.snapshot()
	s.mu.Unlock()

	if created {
		s.wheel.Schedule(wheelKey(out.GroupID), out.FlushAt, s.task(out.GroupID))
	}
	return out
}

func (b *Batch) snapshot() Batch {
	out := *b
	out.Items = append([]notification.Notification(nil), b.Items...)
	return out
}

// task flushes the batch with the given group id. It detaches the batch under
// the lock and delivers outside it, so an enqueue racing the flush lands in a
// new batch.
func (s *Scheduler) task(groupID string) timerwheel.Task {
	return func(now time.Time) error {
		s.mu.Lock()
		b := s.batches[groupID]
		if b == nil {
			s.mu.Unlock()
			return nil
		}
		if s.open[b.Key] == groupID {
			delete(s.open, b.Key)
		}
		out := b.snapshot()
		s.mu.Unlock()

		if err := s.flush(out, now); err != nil {
			return err
		}

		s.mu.Lock()
		delete(s.batches, groupID)
		s.mu.Unlock()
		s.log.Debug("batch flushed", logx.String("key", out.Key.String()), logx.String("group", groupID), logx.Int("items", len(out.Items)))
		return nil
	}
}

// Open returns the open batch for k.
func (s *Scheduler) Open(k Key) (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.open[k]
	if !ok {
		return Batch{}, false
	}
	b := s.batches[id]
	if b == nil {
		return Batch{}, false
	}
	return b.snapshot(), true
}

// Pending returns every batch not yet delivered, ordered by flush time.
func (s *Scheduler) Pending() []Batch {
	s.mu.Lock()
	out := make([]Batch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b.snapshot())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FlushAt.Equal(out[j].FlushAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].FlushAt.Before(out[j].FlushAt)
	})
	return out
}

// Len is the number of undelivered batches.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Restore re-arms persisted batches. Batches whose flush time already passed
// are armed at now and go out on the next wheel tick.
func (s *Scheduler) Restore(bs []Batch, now time.Time) {
	for _, in := range bs {
		if in.GroupID == "" || len(in.Items) == 0 {
			continue
		}
		b := in.snapshot()
		at := b.FlushAt
		s.mu.Lock()
		if _, dup := s.batches[b.GroupID]; dup {
			s.mu.Unlock()
			continue
		}
		s.batches[b.GroupID] = &b
		if at.After(now) {
			if _, taken := s.open[b.Key]; !taken {
				s.open[b.Key] = b.GroupID
			}
		} else {
			at = now
		}
		s.mu.Unlock()
		s.wheel.Schedule(wheelKey(b.GroupID), at, s.task(b.GroupID))
	}
}
