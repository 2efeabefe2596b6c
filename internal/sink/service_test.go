package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/category"
	"larder/internal/eventbus"
	"larder/internal/notification"
	logx "larder/pkg/logx"
)

func delivery(id uint64, summary string) notification.Delivery {
	return notification.Delivery{
		Kind:     notification.DeliveryImmediate,
		Category: category.Error,
		Summary:  summary,
		Items:    []notification.Notification{{ID: id, Category: category.Error, Priority: 4, Title: summary}},
	}
}

type recordingSink struct {
	mu  sync.Mutex
	got []uint64
}

func (r *recordingSink) Name() string { return "rec" }

func (r *recordingSink) Send(_ context.Context, d notification.Delivery) error {
	r.mu.Lock()
	r.got = append(r.got, d.Items[0].ID)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) ids() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.got...)
}

func fastConfig() Config {
	return Config{Workers: 1, RatePerSec: 1000, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func stop(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestDeliverAndDrain(t *testing.T) {
	t.Parallel()
	rec := &recordingSink{}
	s := New(fastConfig(), rec, logx.Nop(), nil)
	s.Start(context.Background())

	for i := uint64(1); i <= 20; i++ {
		s.Deliver(delivery(i, "oven "+string(rune('a'+i))))
	}
	stop(t, s)

	ids := rec.ids()
	require.Len(t, ids, 20)
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id, "one worker keeps queue order")
	}
	st := s.Stats()
	assert.Equal(t, uint64(20), st.Queued)
	assert.Equal(t, uint64(20), st.Sent)

	assert.ErrorIs(t, s.Enqueue(delivery(99, "late")), ErrStopped)
	require.NoError(t, s.Stop(context.Background()))
}

func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	sk := Func{ID: "flaky", Fn: func(context.Context, notification.Delivery) error {
		if calls.Add(1) < 3 {
			return errors.New("channel busy")
		}
		return nil
	}}
	cfg := fastConfig()
	cfg.RetryMax = 3
	s := New(cfg, sk, logx.Nop(), nil)
	s.Start(context.Background())
	require.NoError(t, s.Enqueue(delivery(1, "x")))
	stop(t, s)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(1), s.Stats().Sent)
	assert.Zero(t, s.Stats().Failed)
}

func TestFailureAndPanicArePublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	sk := Func{ID: "broken", Fn: func(_ context.Context, d notification.Delivery) error {
		if d.Items[0].ID == 2 {
			panic("nil channel")
		}
		return errors.New("rejected")
	}}
	cfg := fastConfig()
	cfg.RetryMax = 1
	s := New(cfg, sk, logx.Nop(), bus)
	s.Start(context.Background())
	require.NoError(t, s.Enqueue(delivery(1, "a")))
	require.NoError(t, s.Enqueue(delivery(2, "b")))
	stop(t, s)

	assert.Equal(t, uint64(2), s.Stats().Failed)
	var failed int
	for len(events) > 0 {
		e := <-events
		if e.Type == eventbus.TypeSinkFailed {
			failed++
			assert.Equal(t, "broken", e.Data.(eventbus.SinkEvent).Sink)
		}
	}
	assert.Equal(t, 2, failed)
}

func TestDedupWindow(t *testing.T) {
	t.Parallel()
	rec := &recordingSink{}
	cfg := fastConfig()
	cfg.DedupWindow = time.Minute
	s := New(cfg, rec, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.Enqueue(delivery(1, "walk-in door open")))
	require.NoError(t, s.Enqueue(delivery(1, "walk-in door open")))
	require.NoError(t, s.Enqueue(delivery(2, "walk-in door closed")))
	stop(t, s)

	assert.Equal(t, []uint64{1, 2}, rec.ids())
	assert.Equal(t, uint64(1), s.Stats().Deduped)
}

func TestDedupCap(t *testing.T) {
	t.Parallel()
	s := New(Config{DedupMaxEntries: 2}, &recordingSink{}, logx.Nop(), nil)
	now := time.Now()
	assert.True(t, s.dedupAllow("a", now, time.Minute, 2))
	assert.True(t, s.dedupAllow("b", now.Add(time.Second), time.Minute, 2))
	assert.True(t, s.dedupAllow("c", now.Add(2*time.Second), time.Minute, 2))
	assert.Len(t, s.dedup, 2)
	assert.True(t, s.dedupAllow("a", now.Add(3*time.Second), time.Minute, 2), "oldest entry was evicted")
	assert.False(t, s.dedupAllow("c", now.Add(4*time.Second), time.Minute, 2))
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	sk := Func{ID: "slow", Fn: func(ctx context.Context, _ notification.Delivery) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	cfg := fastConfig()
	cfg.QueueSize = 1
	s := New(cfg, sk, logx.Nop(), nil)
	s.Start(context.Background())

	var full bool
	for i := uint64(1); i <= 10 && !full; i++ {
		full = errors.Is(s.Enqueue(delivery(i, "x")), ErrQueueFull)
	}
	assert.True(t, full)
	assert.NotZero(t, s.Stats().Dropped)
	close(release)
	stop(t, s)
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}.withDefaults()
	for i := 0; i < 50; i++ {
		d1 := retryDelay(cfg, 1)
		assert.GreaterOrEqual(t, d1, 70*time.Millisecond)
		assert.LessOrEqual(t, d1, 130*time.Millisecond)
		assert.LessOrEqual(t, retryDelay(cfg, 10), time.Second)
	}
}

func TestFeedAndMulti(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "feed.jsonl")
	feed, err := OpenFeed(path)
	require.NoError(t, err)

	rec := &recordingSink{}
	m := Multi{feed, rec, Func{ID: "down", Fn: func(context.Context, notification.Delivery) error { return errors.New("down") }}}
	assert.Equal(t, "feed+rec+down", m.Name())

	err = m.Send(context.Background(), delivery(7, "pantry restocked"))
	assert.EqualError(t, err, "down")
	assert.Equal(t, []uint64{7}, rec.ids())
	require.NoError(t, feed.Close())
	assert.ErrorIs(t, feed.Send(context.Background(), delivery(8, "x")), ErrStopped)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var got notification.Delivery
	require.NoError(t, json.Unmarshal(sc.Bytes(), &got))
	assert.Equal(t, "pantry restocked", got.Summary)
	assert.Equal(t, uint64(7), got.Items[0].ID)
	assert.False(t, sc.Scan())

	_, err = OpenFeed(" ")
	assert.Error(t, err)
}
