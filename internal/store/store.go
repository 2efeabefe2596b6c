package store

import (
	"iter"
	"sync"
	"time"

	"larder/internal/category"
	"larder/internal/notification"
)

// Suppression is one entry of the suppression ledger.
type Suppression struct {
	At       time.Time         `json:"at"`
	ID       uint64            `json:"id"`
	Category category.Category `json:"category"`
	Reason   string            `json:"reason,omitempty"`
}

// Store is the notification log.
//
// It is safe for concurrent use; writers are serialized by one lock.
type Store struct {
	mu         sync.RWMutex
	log        []notification.Notification
	index      map[uint64]int
	suppressed []Suppression
	gen        uint64 // bumped by Reset
}

func New() *Store {
	return &Store{index: map[uint64]int{}}
}

// Append adds n to the end of the log. Appending an id that is already
// present is a no-op and returns false.
func (s *Store) Append(n notification.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[n.ID]; ok {
		return false
	}
	s.index[n.ID] = len(s.log)
	s.log = append(s.log, n)
	return true
}

// Has reports whether id is in the log.
func (s *Store) Has(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

func (s *Store) Get(id uint64) (notification.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return notification.Notification{}, false
	}
	return s.log[i], true
}

// update applies fn to the entry of id under the write lock.
func (s *Store) update(id uint64, fn func(n *notification.Notification) bool) (notification.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return notification.Notification{}, false, notification.ErrNotFound
	}
	changed := fn(&s.log[i])
	return s.log[i], changed, nil
}

// MarkRead marks id as read. It reports whether the state changed.
func (s *Store) MarkRead(id uint64, at time.Time) (bool, error) {
	_, changed, err := s.update(id, func(n *notification.Notification) bool {
		if n.Read {
			return false
		}
		n.Read = true
		n.ReadAt = &at
		return true
	})
	return changed, err
}

// MarkAllRead marks every unread entry as read and returns how many changed.
func (s *Store) MarkAllRead(at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.log {
		if s.log[i].Read {
			continue
		}
		s.log[i].Read = true
		s.log[i].ReadAt = &at
		n++
	}
	return n
}

// Acknowledge marks id as acknowledged. Acknowledging twice keeps the first
// timestamp and reports false.
func (s *Store) Acknowledge(id uint64, at time.Time) (bool, error) {
	_, changed, err := s.update(id, func(n *notification.Notification) bool {
		if n.Acknowledged {
			return false
		}
		n.Acknowledged = true
		n.AcknowledgedAt = &at
		n.Exhausted = false
		return true
	})
	return changed, err
}

// RecordEscalation bumps the escalation count of id and returns the entry.
func (s *Store) RecordEscalation(id uint64) (notification.Notification, error) {
	n, _, err := s.update(id, func(n *notification.Notification) bool {
		n.EscalationCount++
		return true
	})
	return n, err
}

// MarkExhausted flags id as having run out of escalation levels.
func (s *Store) MarkExhausted(id uint64) error {
	_, _, err := s.update(id, func(n *notification.Notification) bool {
		if n.Acknowledged || n.Exhausted {
			return false
		}
		n.Exhausted = true
		return true
	})
	return err
}

// RecordSuppressed appends to the suppression ledger.
func (s *Store) RecordSuppressed(e Suppression) {
	s.mu.Lock()
	s.suppressed = append(s.suppressed, e)
	s.mu.Unlock()
}

// Suppressions returns a copy of the suppression ledger.
func (s *Store) Suppressions() []Suppression {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Suppression(nil), s.suppressed...)
}

// Len is the number of logged notifications.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// All returns a copy of the log in append order.
func (s *Store) All() []notification.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]notification.Notification(nil), s.log...)
}

// Query yields matching notifications newest-first. The sequence is lazy:
// entries are read one at a time as the caller ranges, and entries appended
// after iteration started are not visited. A Reset during iteration ends
// it. Ranging again restarts it.
func (s *Store) Query(f notification.Filter) iter.Seq[notification.Notification] {
	return func(yield func(notification.Notification) bool) {
		s.mu.RLock()
		i := len(s.log) - 1
		gen := s.gen
		s.mu.RUnlock()

		n := 0
		for ; i >= 0; i-- {
			s.mu.RLock()
			if s.gen != gen || i >= len(s.log) {
				s.mu.RUnlock()
				return
			}
			e := s.log[i]
			s.mu.RUnlock()
			if !f.Match(e) {
				continue
			}
			if !yield(e) {
				return
			}
			n++
			if f.Limit > 0 && n >= f.Limit {
				return
			}
		}
	}
}

// Collect drains a query into a slice.
func Collect(seq iter.Seq[notification.Notification]) []notification.Notification {
	var out []notification.Notification
	for n := range seq {
		out = append(out, n)
	}
	return out
}

// Reset replaces the log and the suppression ledger. Entries keep their
// order; duplicate ids after the first are dropped.
func (s *Store) Reset(log []notification.Notification, suppressed []Suppression) int {
	idx := make(map[uint64]int, len(log))
	out := make([]notification.Notification, 0, len(log))
	for _, n := range log {
		if _, dup := idx[n.ID]; dup {
			continue
		}
		idx[n.ID] = len(out)
		out = append(out, n)
	}
	s.mu.Lock()
	s.log = out
	s.index = idx
	s.suppressed = append([]Suppression(nil), suppressed...)
	s.gen++
	s.mu.Unlock()
	return len(out)
}

// MaxID is the largest id in the log or ledger.
func (s *Store) MaxID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var m uint64
	for _, n := range s.log {
		if n.ID > m {
			m = n.ID
		}
	}
	for _, e := range s.suppressed {
		if e.ID > m {
			m = e.ID
		}
	}
	return m
}
