package sink

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"larder/internal/eventbus"
	"larder/internal/notification"
	"larder/internal/runtime/supervisor"
	logx "larder/pkg/logx"
)

type job struct {
	d   notification.Delivery
	key string
}

// Service is an async outbound pipeline: queue + worker pool + rate limit +
// retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	bus  eventbus.Bus
	sink Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *supervisor.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time

	queued, sent, failed, deduped, dropped atomic.Uint64
}

func New(cfg Config, s Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	svc := &Service{sink: s, log: log, bus: bus, dedup: map[string]time.Time{}}
	svc.applyLocked(cfg)
	return svc
}

// Apply swaps rate, retry and dedup settings. Worker count and queue size
// take effect at the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg.withDefaults()
	// Burst equals the per-second rate so short spikes do not stall.
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "sink.supervisor"))))
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		// A worker that panics is restarted; a clean return ends it.
		sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		}, 100*time.Millisecond, 5*time.Second)
	}
	s.log.Debug("sink started", logx.String("sink", s.sink.Name()), logx.Int("workers", workers))
}

// Stop stops intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return nil
	}
	s.accepting = false
	s.mu.Unlock()

	// In-flight Deliver calls finish before the queue closes.
	s.sendWG.Wait()
	close(q)

	err := sup.Wait(ctx)
	if err != nil {
		sup.Cancel()
	}
	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	return err
}

// Deliver enqueues d without blocking. It has the dispatcher subscriber
// signature; errors are counted, logged and published instead of returned.
func (s *Service) Deliver(d notification.Delivery) {
	if err := s.Enqueue(d); err != nil {
		s.log.Debug("delivery not queued", logx.String("kind", string(d.Kind)), logx.Err(err))
	}
}

// Enqueue queues d for sending. Identical deliveries inside the dedup window
// are dropped silently.
func (s *Service) Enqueue(d notification.Delivery) error {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(d)
	if window > 0 && !s.dedupAllow(key, time.Now(), window, maxEntries) {
		s.deduped.Add(1)
		s.publish(eventbus.TypeSinkDeduped, d, key, "")
		return nil
	}

	select {
	case q <- job{d: d, key: key}:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		s.publish(eventbus.TypeSinkDropped, d, key, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

func (s *Service) Stats() Stats {
	return Stats{
		Queued:  s.queued.Load(),
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Deduped: s.deduped.Load(),
		Dropped: s.dropped.Load(),
	}
}

func (s *Service) publish(typ string, d notification.Delivery, key, errText string) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: eventbus.SinkEvent{
		Sink:    s.sink.Name(),
		Kind:    string(d.Kind),
		GroupID: d.GroupID,
		Items:   d.Count(),
		Key:     key,
		Error:   errText,
	}})
}

// workerLoop runs until the queue closes or ctx ends.
func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := s.send(callCtx, j.d)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.publish(eventbus.TypeSinkSent, j.d, j.key, "")
			return
		}
		lastErr = err
		s.log.Debug("sink send failed", logx.String("sink", s.sink.Name()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.failed.Add(1)
	s.log.Warn("sink delivery failed", logx.String("sink", s.sink.Name()), logx.String("kind", string(j.d.Kind)), logx.Err(lastErr))
	s.publish(eventbus.TypeSinkFailed, j.d, j.key, lastErr.Error())
}

// send isolates a panicking sink so one bad delivery cannot kill a worker.
func (s *Service) send(ctx context.Context, d notification.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", s.sink.Name(), r)
		}
	}()
	return s.sink.Send(ctx, d)
}

// dedupKey fingerprints what a reader would see.
func dedupKey(d notification.Delivery) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%d|%s", d.Kind, d.Category, d.Level, d.Summary)
	for _, n := range d.Items {
		_, _ = fmt.Fprintf(h, "|%d:%s", n.Priority, n.Message)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func (s *Service) dedupAllow(key string, now time.Time, window time.Duration, maxEntries int) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Over the cap, forget the entries that expire first.
	for len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1), capped, with
// 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
