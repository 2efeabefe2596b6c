package escalation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"larder/internal/category"
	"larder/internal/timerwheel"
	logx "larder/pkg/logx"
)

var ErrNotTracked = errors.New("escalation not tracked")

type State int

const (
	Pending State = iota
	Acknowledged
	Exhausted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Acknowledged:
		return "acknowledged"
	case Exhausted:
		return "exhausted"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = Pending
	case "acknowledged":
		*s = Acknowledged
	case "exhausted":
		*s = Exhausted
	default:
		return fmt.Errorf("unknown escalation state %q", b)
	}
	return nil
}

// Timer is the escalation state of one notification.
type Timer struct {
	ID       uint64            `json:"id"`
	Category category.Category `json:"category"`
	// Level is the number of re-deliveries already fired.
	Level    int       `json:"level"`
	MaxLevel int       `json:"max_level"`
	NextFire time.Time `json:"next_fire"`
	State    State     `json:"state"`
}

// FireFunc re-delivers notification t.ID at escalation level t.Level (1-based).
// A non-nil error leaves the level unchanged and the wheel retries.
type FireFunc func(t Timer, now time.Time) error

// ExhaustFunc is told when a timer gives up.
type ExhaustFunc func(t Timer, now time.Time)

// Monitor tracks escalation timers on a timer wheel.
type Monitor struct {
	wheel     *timerwheel.Wheel
	fire      FireFunc
	onExhaust ExhaustFunc
	log       logx.Logger

	mu     sync.Mutex
	policy Policy
	timers map[uint64]*Timer
	// closed remembers the most recent terminal states for Status, oldest
	// first in closedOrder. It holds at most maxClosed ids.
	closed      map[uint64]closedState
	closedOrder []closedRef
	closedSeq   uint64
	maxClosed   int
}

// DefaultClosedHistory bounds how many finished timers Status remembers.
const DefaultClosedHistory = 4096

type closedState struct {
	state State
	seq   uint64
}

type closedRef struct {
	id  uint64
	seq uint64
}

func NewMonitor(wheel *timerwheel.Wheel, policy Policy, fire FireFunc, onExhaust ExhaustFunc, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		wheel:     wheel,
		fire:      fire,
		onExhaust: onExhaust,
		log:       log,
		policy:    policy.Normalize(),
		timers:    map[uint64]*Timer{},
		closed:    map[uint64]closedState{},
		maxClosed: DefaultClosedHistory,
	}
}

// closeLocked records a terminal state and forgets the oldest ones past
// maxClosed. Callers hold m.mu.
func (m *Monitor) closeLocked(id uint64, st State) {
	m.closedSeq++
	m.closed[id] = closedState{state: st, seq: m.closedSeq}
	m.closedOrder = append(m.closedOrder, closedRef{id: id, seq: m.closedSeq})
	for len(m.closed) > m.maxClosed && len(m.closedOrder) > 0 {
		ref := m.closedOrder[0]
		m.closedOrder = m.closedOrder[1:]
		if c, ok := m.closed[ref.id]; ok && c.seq == ref.seq {
			delete(m.closed, ref.id)
		}
	}
	// Drop refs superseded by Track or a later close.
	if len(m.closedOrder) > 2*m.maxClosed {
		live := m.closedOrder[:0]
		for _, ref := range m.closedOrder {
			if c, ok := m.closed[ref.id]; ok && c.seq == ref.seq {
				live = append(live, ref)
			}
		}
		m.closedOrder = append([]closedRef(nil), live...)
	}
}

// Apply swaps the policy. Running timers keep their next fire time and use
// the new policy from their next level on.
func (m *Monitor) Apply(p Policy) {
	m.mu.Lock()
	m.policy = p.Normalize()
	m.mu.Unlock()
}

func (m *Monitor) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

func wheelKey(id uint64) string { return "esc/" + strconv.FormatUint(id, 10) }

// Track starts escalating notification id. Tracking an id twice is a no-op.
func (m *Monitor) Track(id uint64, c category.Category, now time.Time) Timer {
	m.mu.Lock()
	if t, ok := m.timers[id]; ok {
		out := *t
		m.mu.Unlock()
		return out
	}
	t := &Timer{ID: id, Category: c, MaxLevel: m.policy.MaxLevel, NextFire: now.Add(m.policy.Delay(0)), State: Pending}
	m.timers[id] = t
	delete(m.closed, id)
	out := *t
	m.mu.Unlock()

	m.wheel.Schedule(wheelKey(id), out.NextFire, m.task(id))
	return out
}

// Acknowledge stops the timer of id. It reports whether a pending timer was
// cancelled.
func (m *Monitor) Acknowledge(id uint64) bool {
	m.mu.Lock()
	t, ok := m.timers[id]
	if ok {
		t.State = Acknowledged
		delete(m.timers, id)
		m.closeLocked(id, Acknowledged)
	}
	m.mu.Unlock()
	if ok {
		m.wheel.Cancel(wheelKey(id))
	}
	return ok
}

// Status returns the state of id's timer.
func (m *Monitor) Status(id uint64) (Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		return *t, nil
	}
	if c, ok := m.closed[id]; ok {
		return Timer{ID: id, State: c.state}, nil
	}
	return Timer{}, ErrNotTracked
}

func (m *Monitor) task(id uint64) timerwheel.Task {
	return func(now time.Time) error {
		m.mu.Lock()
		t, ok := m.timers[id]
		if !ok || t.State != Pending {
			m.mu.Unlock()
			return nil
		}
		next := *t
		next.Level++
		m.mu.Unlock()

		if err := m.fire(next, now); err != nil {
			return err
		}

		m.mu.Lock()
		t, ok = m.timers[id]
		if !ok || t.State != Pending {
			// Acknowledged while firing.
			m.mu.Unlock()
			return nil
		}
		t.Level = next.Level
		if t.Level >= t.MaxLevel {
			t.State = Exhausted
			delete(m.timers, id)
			m.closeLocked(id, Exhausted)
			out := *t
			m.mu.Unlock()
			m.log.Warn("escalation exhausted", logx.Uint64("id", id), logx.String("category", string(out.Category)), logx.Int("level", out.Level))
			if m.onExhaust != nil {
				m.onExhaust(out, now)
			}
			return nil
		}
		t.NextFire = now.Add(m.policy.Delay(t.Level))
		at := t.NextFire
		m.mu.Unlock()

		m.log.Info("escalated", logx.Uint64("id", id), logx.Int("level", next.Level), logx.Time("next_fire", at))
		m.wheel.Schedule(wheelKey(id), at, m.task(id))
		return nil
	}
}

// Pending returns every running timer ordered by id.
func (m *Monitor) Pending() []Timer {
	m.mu.Lock()
	out := make([]Timer, 0, len(m.timers))
	for _, t := range m.timers {
		out = append(out, *t)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Restore resumes persisted timers at their recorded level with a fresh
// next fire time.
func (m *Monitor) Restore(ts []Timer, now time.Time) {
	for _, in := range ts {
		if in.State != Pending {
			continue
		}
		m.mu.Lock()
		if _, dup := m.timers[in.ID]; dup {
			m.mu.Unlock()
			continue
		}
		t := in
		if t.MaxLevel <= 0 {
			t.MaxLevel = m.policy.MaxLevel
		}
		if t.Level >= t.MaxLevel {
			m.mu.Unlock()
			continue
		}
		t.NextFire = now.Add(m.policy.Delay(t.Level))
		m.timers[t.ID] = &t
		at := t.NextFire
		m.mu.Unlock()
		m.wheel.Schedule(wheelKey(t.ID), at, m.task(t.ID))
	}
}
