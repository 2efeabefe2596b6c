package rules

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"larder/internal/category"
	"larder/internal/notification"
)

const (
	BucketQuiet  = "quiet"
	BucketDigest = "digest"

	DefaultDigestSpec = "0 8 * * *"
)

// Config holds the engine-wide policy knobs.
type Config struct {
	// Location is used for quiet hours and digest times (default time.Local).
	Location           *time.Location
	DefaultBatchWindow time.Duration
	// DigestSpec is a standard 5-field cron spec for daily digests.
	DigestSpec string
	Quiet      QuietHours
	// DefaultMaxPerHour applies to rules with MaxPerHour == 0 and to unmatched
	// notifications. Zero or negative disables the cap.
	DefaultMaxPerHour int
}

// Resolution is a Decision plus the admission limits of the matched rule.
type Resolution struct {
	notification.Decision
	MaxPerHour  int
	MinInterval time.Duration
}

// Engine resolves a proposed notification against the active rule set.
// Resolve has no side effects.
type Engine struct {
	set *Set

	mu     sync.RWMutex
	cfg    Config
	digest cron.Schedule
}

func NewEngine(cfg Config, set *Set) (*Engine, error) {
	if set == nil {
		set = NewSet()
	}
	e := &Engine{set: set}
	if err := e.Apply(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Apply swaps the engine config.
func (e *Engine) Apply(cfg Config) error {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DefaultBatchWindow <= 0 {
		cfg.DefaultBatchWindow = category.DefaultBatchWindow
	}
	if strings.TrimSpace(cfg.DigestSpec) == "" {
		cfg.DigestSpec = DefaultDigestSpec
	}
	sched, err := cron.ParseStandard(cfg.DigestSpec)
	if err != nil {
		return fmt.Errorf("digest schedule %q: %w", cfg.DigestSpec, err)
	}
	e.mu.Lock()
	e.cfg = cfg
	e.digest = sched
	e.mu.Unlock()
	return nil
}

func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) Rules() *Set { return e.set }

// Resolve decides what happens to a notification of category c and priority p
// proposed at now.
func (e *Engine) Resolve(c category.Category, p int, now time.Time) Resolution {
	e.mu.RLock()
	cfg := e.cfg
	digest := e.digest
	e.mu.RUnlock()

	local := now.In(cfg.Location)
	res := Resolution{MaxPerHour: cfg.DefaultMaxPerHour}
	quiet := cfg.Quiet

	rule, ok := e.set.Match(c, p)
	if ok {
		res.Rule = rule.Key().String()
		if rule.MaxPerHour != 0 {
			res.MaxPerHour = rule.MaxPerHour
		}
		res.MinInterval = rule.MinInterval
		if rule.Quiet.Enabled() {
			quiet = rule.Quiet
		}
		switch rule.Frequency {
		case Batched:
			res.Action = notification.ActionBatch
			res.Bucket = rule.BatchWindow.String()
			res.FlushAt = now.Add(rule.BatchWindow)
			res.Reason = "rule batches"
		case DailyDigest:
			res.Action = notification.ActionBatch
			res.Bucket = BucketDigest
			res.FlushAt = digest.Next(local)
			res.Reason = "rule collects into daily digest"
		case Suppressed:
			res.Action = notification.ActionSuppress
			res.Reason = "rule suppresses"
		default:
			res.Action = notification.ActionDeliver
			res.Reason = "rule delivers immediately"
		}
	} else if p <= notification.CriticalBand {
		res.Action = notification.ActionDeliver
		res.Reason = "critical band"
	} else {
		res.Action = notification.ActionBatch
		res.Bucket = cfg.DefaultBatchWindow.String()
		res.FlushAt = now.Add(cfg.DefaultBatchWindow)
		res.Reason = "default batching"
	}

	if c.Exempt() {
		if res.Action == notification.ActionSuppress {
			res.Action = notification.ActionDeliver
			res.Reason = "exempt from suppression"
		}
		if res.Action == notification.ActionDeliver {
			res.Action = notification.ActionEscalate
		}
		return res
	}

	if res.Action == notification.ActionDeliver && IsQuiet(local, quiet) {
		res.Action = notification.ActionBatch
		res.Bucket = BucketQuiet
		res.FlushAt = NextEnd(local, quiet)
		res.Reason = "quiet hours " + quiet.String()
	}
	return res
}
