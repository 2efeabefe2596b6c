package ratelimit

import (
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Window is the trailing window that MaxPerHour counts over.
const Window = time.Hour

// Limits are the admission limits for one key.
type Limits struct {
	// MaxPerHour <= 0 disables the count cap.
	MaxPerHour int
	// MinInterval > 0 enforces minimum spacing between admissions.
	MinInterval time.Duration
}

type bucket struct {
	mu sync.Mutex

	// stamps holds admission times inside the trailing window, oldest first.
	stamps []time.Time

	spacing  *rate.Limiter
	interval time.Duration

	// dead is set when Prune dropped the bucket from the map.
	dead bool
}

// Limiter is a per-key sliding-window admission counter.
//
// Each key has its own lock; the key map is guarded separately so unrelated
// categories never contend. Eviction is lazy (on Admit).
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func New() *Limiter {
	return &Limiter{buckets: map[string]*bucket{}}
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{}
		l.buckets[key] = b
	}
	return b
}

// Admit reports whether one more notification for key may pass at now, and
// records it if so.
func (l *Limiter) Admit(key string, now time.Time, lim Limits) bool {
	if lim.MaxPerHour <= 0 && lim.MinInterval <= 0 {
		return true
	}
	for {
		b := l.bucket(key)
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		ok := b.admit(now, lim)
		b.mu.Unlock()
		return ok
	}
}

// admit applies the limits. Callers hold b.mu.
func (b *bucket) admit(now time.Time, lim Limits) bool {
	b.evict(now)
	if lim.MaxPerHour > 0 && len(b.stamps) >= lim.MaxPerHour {
		return false
	}
	if lim.MinInterval > 0 {
		if b.spacing == nil || b.interval != lim.MinInterval {
			b.spacing = rate.NewLimiter(rate.Every(lim.MinInterval), 1)
			b.interval = lim.MinInterval
		}
		if !b.spacing.AllowN(now, 1) {
			return false
		}
	}
	b.insert(now)
	return true
}

// insert keeps stamps ordered. Concurrent submitters read the clock before
// taking b.mu, so now may predate the newest stamp.
func (b *bucket) insert(now time.Time) {
	i := len(b.stamps)
	for i > 0 && b.stamps[i-1].After(now) {
		i--
	}
	b.stamps = slices.Insert(b.stamps, i, now)
}

// evict drops stamps that left the trailing window. Callers hold b.mu.
func (b *bucket) evict(now time.Time) {
	cut := now.Add(-Window)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cut) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// Count returns the number of admissions for key in the window ending at now.
func (l *Limiter) Count(key string, now time.Time) int {
	l.mu.Lock()
	b := l.buckets[key]
	l.mu.Unlock()
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict(now)
	return len(b.stamps)
}

// Prune forgets keys with no admissions left in the window. It returns the
// number of keys removed.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.buckets {
		b.mu.Lock()
		b.evict(now)
		idle := len(b.stamps) == 0 && (b.spacing == nil || b.spacing.TokensAt(now) >= 1)
		if idle {
			b.dead = true
		}
		b.mu.Unlock()
		if idle {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Keys returns the number of tracked keys.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Scope selects what a rate-limit window is keyed by.
type Scope string

const (
	ScopeCategory       Scope = "category"
	ScopeCategorySource Scope = "category_source"
)

// Key builds the limiter key for a notification.
func (s Scope) Key(category, source string) string {
	if s == ScopeCategorySource {
		return category + "|" + source
	}
	return category
}

// ParseScope maps a config value to a Scope (default ScopeCategory).
func ParseScope(v string) (Scope, bool) {
	switch Scope(v) {
	case "", ScopeCategory:
		return ScopeCategory, true
	case ScopeCategorySource:
		return ScopeCategorySource, true
	default:
		return ScopeCategory, false
	}
}
