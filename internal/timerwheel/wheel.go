package timerwheel

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "larder/pkg/logx"
)

const DefaultRetry = 5 * time.Second

// Task runs when its fire time is reached. now is the time the wheel
// observed when it picked the task up.
type Task func(now time.Time) error

type item struct {
	key   string
	at    time.Time
	seq   uint64
	fn    Task
	index int
}

type queue []*item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}
func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *queue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

type Option func(*Wheel)

// WithRetry sets the delay before a failed task runs again.
func WithRetry(d time.Duration) Option {
	return func(w *Wheel) {
		if d > 0 {
			w.retry = d
		}
	}
}

// WithClock overrides time.Now for the Run loop.
func WithClock(now func() time.Time) Option {
	return func(w *Wheel) {
		if now != nil {
			w.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(w *Wheel) { w.log = log }
}

// Wheel is a keyed timer queue.
type Wheel struct {
	mu    sync.Mutex
	q     queue
	items map[string]*item
	// last is the seq of the latest Schedule or Cancel per key; a failed
	// task is only re-armed if nothing touched its key while it ran.
	last map[string]uint64
	seq  uint64

	// runMu serializes RunDue so tasks never run concurrently.
	runMu sync.Mutex

	wake  chan struct{}
	retry time.Duration
	now   func() time.Time
	log   logx.Logger
}

func New(opts ...Option) *Wheel {
	w := &Wheel{
		items: map[string]*item{},
		last:  map[string]uint64{},
		wake:  make(chan struct{}, 1),
		retry: DefaultRetry,
		now:   time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	if w.log.IsZero() {
		w.log = logx.Nop()
	}
	return w
}

// Schedule arms fn under key at the given time, replacing any task already
// armed under the same key.
func (w *Wheel) Schedule(key string, at time.Time, fn Task) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.seq++
	w.last[key] = w.seq
	if it, ok := w.items[key]; ok {
		it.at, it.fn, it.seq = at, fn, w.seq
		heap.Fix(&w.q, it.index)
	} else {
		it := &item{key: key, at: at, fn: fn, seq: w.seq}
		heap.Push(&w.q, it)
		w.items[key] = it
	}
	w.mu.Unlock()
	w.signal()
}

// Cancel removes the task armed under key. It reports whether one was armed.
func (w *Wheel) Cancel(key string) bool {
	w.mu.Lock()
	w.seq++
	w.last[key] = w.seq
	it, ok := w.items[key]
	if ok {
		heap.Remove(&w.q, it.index)
		delete(w.items, key)
	}
	w.mu.Unlock()
	if ok {
		w.signal()
	}
	return ok
}

// When returns the fire time of the task armed under key.
func (w *Wheel) When(key string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	it, ok := w.items[key]
	if !ok {
		return time.Time{}, false
	}
	return it.at, true
}

func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.q)
}

// Next returns the earliest fire time.
func (w *Wheel) Next() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.q) == 0 {
		return time.Time{}, false
	}
	return w.q[0].at, true
}

func (w *Wheel) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// RunDue runs every task whose fire time is not after now, in fire-time
// order, and returns how many ran. Tasks that fail are re-armed at
// now + retry.
func (w *Wheel) RunDue(now time.Time) int {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.mu.Lock()
	var due []*item
	for len(w.q) > 0 && !w.q[0].at.After(now) {
		it := heap.Pop(&w.q).(*item)
		delete(w.items, it.key)
		due = append(due, it)
	}
	w.mu.Unlock()

	for _, it := range due {
		err := w.run(it, now)

		w.mu.Lock()
		untouched := w.last[it.key] == it.seq
		if err != nil && untouched {
			w.seq++
			w.last[it.key] = w.seq
			re := &item{key: it.key, at: now.Add(w.retry), fn: it.fn, seq: w.seq}
			heap.Push(&w.q, re)
			w.items[it.key] = re
		} else if untouched {
			delete(w.last, it.key)
		}
		w.mu.Unlock()

		if err != nil {
			w.log.Warn("task failed", logx.String("key", it.key), logx.Err(err), logx.Bool("retry", untouched), logx.Duration("delay", w.retry))
		}
	}
	return len(due)
}

func (w *Wheel) run(it *item, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.log.Error("task panicked", logx.String("key", it.key), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return it.fn(now)
}

// Run is the scheduling loop. It sleeps until the earliest fire time (or
// until Schedule/Cancel changes it) and returns when ctx is done.
func (w *Wheel) Run(ctx context.Context) error {
	tmr := time.NewTimer(time.Hour)
	defer tmr.Stop()
	for {
		w.RunDue(w.now())

		wait := time.Hour
		if at, ok := w.Next(); ok {
			wait = at.Sub(w.now())
			if wait < 0 {
				wait = 0
			}
		}
		if !tmr.Stop() {
			select {
			case <-tmr.C:
			default:
			}
		}
		tmr.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.wake:
		case <-tmr.C:
		}
	}
}
