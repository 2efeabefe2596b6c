package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/category"
	"larder/internal/timerwheel"
	logx "larder/pkg/logx"
)

var t0 = time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)

type fires struct {
	mu        sync.Mutex
	levels    []int
	exhausted []Timer
	fail      int
}

func (f *fires) fire(t Timer, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("sink down")
	}
	f.levels = append(f.levels, t.Level)
	return nil
}

func (f *fires) exhaust(t Timer, _ time.Time) {
	f.mu.Lock()
	f.exhausted = append(f.exhausted, t)
	f.mu.Unlock()
}

func (f *fires) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.levels)
}

func TestPolicyDelay(t *testing.T) {
	t.Parallel()
	p := Policy{Timeout: time.Minute, Multiplier: 2, MaxTimeout: 5 * time.Minute, MaxLevel: 5}
	assert.Equal(t, time.Minute, p.Delay(0))
	assert.Equal(t, 2*time.Minute, p.Delay(1))
	assert.Equal(t, 4*time.Minute, p.Delay(2))
	assert.Equal(t, 5*time.Minute, p.Delay(3))

	flat := Policy{Timeout: time.Second, Multiplier: 1}
	assert.Equal(t, time.Second, flat.Delay(7))

	assert.Error(t, Policy{Multiplier: 0.5}.Validate())
	assert.NoError(t, DefaultPolicy().Validate())
}

func TestMaxLevelThenExhausted(t *testing.T) {
	t.Parallel()
	w := timerwheel.New()
	f := &fires{}
	m := NewMonitor(w, Policy{Timeout: time.Minute, Multiplier: 1, MaxLevel: 3}, f.fire, f.exhaust, logx.Nop())

	m.Track(7, category.Critical, t0)
	for i := 1; i <= 10; i++ {
		w.RunDue(t0.Add(time.Duration(i) * time.Minute))
	}
	assert.Equal(t, []int{1, 2, 3}, f.levels)
	require.Len(t, f.exhausted, 1)
	assert.Equal(t, uint64(7), f.exhausted[0].ID)
	assert.Equal(t, 3, f.exhausted[0].Level)

	st, err := m.Status(7)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, st.State)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, w.Len())
}

func TestGrowingTimeouts(t *testing.T) {
	t.Parallel()
	w := timerwheel.New()
	f := &fires{}
	m := NewMonitor(w, Policy{Timeout: time.Minute, Multiplier: 2, MaxLevel: 3}, f.fire, f.exhaust, logx.Nop())
	m.Track(1, category.Emergency, t0)

	w.RunDue(t0.Add(time.Minute))
	tm, err := m.Status(1)
	require.NoError(t, err)
	assert.Equal(t, 1, tm.Level)
	assert.Equal(t, t0.Add(3*time.Minute), tm.NextFire)

	w.RunDue(t0.Add(3 * time.Minute))
	tm, _ = m.Status(1)
	assert.Equal(t, t0.Add(7*time.Minute), tm.NextFire)
}

func TestAcknowledgeCancels(t *testing.T) {
	t.Parallel()
	w := timerwheel.New()
	f := &fires{}
	m := NewMonitor(w, Policy{Timeout: time.Minute, MaxLevel: 3}, f.fire, f.exhaust, logx.Nop())
	m.Track(3, category.Security, t0)
	w.RunDue(t0.Add(time.Minute))

	assert.True(t, m.Acknowledge(3))
	assert.False(t, m.Acknowledge(3))
	w.RunDue(t0.Add(time.Hour))
	assert.Equal(t, 1, f.count())
	st, err := m.Status(3)
	require.NoError(t, err)
	assert.Equal(t, Acknowledged, st.State)
	assert.Empty(t, f.exhausted)
}

func TestClosedHistoryIsBounded(t *testing.T) {
	t.Parallel()
	w := timerwheel.New()
	f := &fires{}
	m := NewMonitor(w, Policy{Timeout: time.Minute, MaxLevel: 3}, f.fire, f.exhaust, logx.Nop())
	m.maxClosed = 3

	for id := uint64(1); id <= 10; id++ {
		m.Track(id, category.Emergency, t0)
		require.True(t, m.Acknowledge(id))
	}
	assert.Len(t, m.closed, 3)

	for id := uint64(1); id <= 7; id++ {
		_, err := m.Status(id)
		assert.ErrorIs(t, err, ErrNotTracked, "id %d", id)
	}
	for id := uint64(8); id <= 10; id++ {
		st, err := m.Status(id)
		require.NoError(t, err)
		assert.Equal(t, Acknowledged, st.State)
	}

	// Re-closing an id refreshes it instead of letting a stale entry evict it.
	m.Track(8, category.Emergency, t0)
	require.True(t, m.Acknowledge(8))
	m.Track(11, category.Emergency, t0)
	require.True(t, m.Acknowledge(11))
	_, err := m.Status(9)
	assert.ErrorIs(t, err, ErrNotTracked)
	for _, id := range []uint64{8, 10, 11} {
		st, err := m.Status(id)
		require.NoError(t, err)
		assert.Equal(t, Acknowledged, st.State)
	}
	assert.LessOrEqual(t, len(m.closedOrder), 2*m.maxClosed)
}

func TestAcknowledgeDuringFireStopsTimer(t *testing.T) {
	t.Parallel()
	w := timerwheel.New()
	var m *Monitor
	n := 0
	m = NewMonitor(w, Policy{Timeout: time.Minute, MaxLevel: 3}, func(Timer, time.Time) error {
		n++
		m.Acknowledge(9)
		return nil
	}, nil, logx.Nop())
	m.Track(9, category.Critical, t0)
	w.RunDue(t0.Add(time.Hour))
	w.RunDue(t0.Add(2 * time.Hour))
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, w.Len())
}

func TestFailedFireRetriesSameLevel(t *testing.T) {
	t.Parallel()
	w := timerwheel.New(timerwheel.WithRetry(time.Second))
	f := &fires{fail: 1}
	m := NewMonitor(w, Policy{Timeout: time.Minute, Multiplier: 1, MaxLevel: 2}, f.fire, f.exhaust, logx.Nop())
	m.Track(4, category.Critical, t0)

	w.RunDue(t0.Add(time.Minute))
	assert.Equal(t, 0, f.count())
	w.RunDue(t0.Add(time.Minute + time.Second))
	assert.Equal(t, []int{1}, f.levels)
}

func TestRestoreResumesLevel(t *testing.T) {
	t.Parallel()
	w := timerwheel.New()
	f := &fires{}
	m := NewMonitor(w, Policy{Timeout: time.Minute, Multiplier: 1, MaxLevel: 3}, f.fire, f.exhaust, logx.Nop())
	m.Restore([]Timer{
		{ID: 5, Category: category.Critical, Level: 2, MaxLevel: 3, NextFire: t0.Add(-time.Hour), State: Pending},
		{ID: 6, Category: category.Critical, Level: 1, State: Acknowledged},
	}, t0)

	require.Equal(t, 1, m.Len())
	tm, _ := m.Status(5)
	assert.Equal(t, t0.Add(time.Minute), tm.NextFire)

	w.RunDue(t0.Add(time.Minute))
	assert.Equal(t, []int{3}, f.levels)
	require.Len(t, f.exhausted, 1)
}

func TestAcknowledgeInRealTime(t *testing.T) {
	t.Parallel()
	w := timerwheel.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	f := &fires{}
	m := NewMonitor(w, Policy{Timeout: time.Second, Multiplier: 1, MaxLevel: 3}, f.fire, f.exhaust, logx.Nop())
	m.Track(1, category.Critical, time.Now())
	time.Sleep(500 * time.Millisecond)
	require.True(t, m.Acknowledge(1))
	time.Sleep(2 * time.Second)
	assert.Equal(t, 0, f.count())
}
