package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"larder/internal/category"
	"larder/internal/dispatch"
	"larder/internal/escalation"
	"larder/internal/observability/debugsrv"
	"larder/internal/ratelimit"
	"larder/internal/rules"
	"larder/internal/sink"
	"larder/internal/storage"
	logx "larder/pkg/logx"
)

const DefaultCheckpointInterval = 30 * time.Second

// Runtime is a validated Config converted to the engine's own types.
type Runtime struct {
	Log        logx.Config
	Dispatch   dispatch.Config
	RetryDelay time.Duration

	Rules     []rules.Rule
	SeedRules bool

	Categories map[category.Category]category.Override

	Sinks SinksRuntime

	Storage    storage.Config
	Checkpoint time.Duration

	Debug debugsrv.Config
}

// SinksRuntime is the resolved sinks section.
type SinksRuntime struct {
	Enabled bool
	Log     bool
	Feed    string
	Service sink.Config
}

// Resolve validates cfg and converts it. Errors name the offending field.
func Resolve(cfg *Config) (Runtime, error) {
	var rt Runtime
	if cfg == nil {
		return rt, fmt.Errorf("config is nil")
	}

	rt.Log = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  strings.ToLower(strings.TrimSpace(cfg.Logging.Format)),
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	}
	switch rt.Log.Format {
	case "", "console", "json":
	default:
		return rt, fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format)
	}

	eng, err := resolveEngine(cfg.Engine)
	if err != nil {
		return rt, err
	}
	rt.Dispatch.Engine = eng

	scope, ok := ratelimit.ParseScope(strings.TrimSpace(cfg.Engine.RateLimitScope))
	if !ok {
		return rt, fmt.Errorf("engine.rate_limit_scope: unknown scope %q", cfg.Engine.RateLimitScope)
	}
	rt.Dispatch.RateScope = scope

	pol, err := resolveEscalation(cfg.Engine.Escalation)
	if err != nil {
		return rt, err
	}
	rt.Dispatch.Escalation = pol

	if rt.RetryDelay, err = ParseDurationField("engine.retry_delay", cfg.Engine.RetryDelay); err != nil {
		return rt, err
	}
	rt.SeedRules = cfg.Engine.SeedCategoryRules

	for i, rc := range cfg.Rules {
		r, err := resolveRule(fmt.Sprintf("rules[%d]", i), rc)
		if err != nil {
			return rt, err
		}
		rt.Rules = append(rt.Rules, r)
	}

	if len(cfg.Categories) > 0 {
		rt.Categories = make(map[category.Category]category.Override, len(cfg.Categories))
		for name, cc := range cfg.Categories {
			c, o, err := resolveCategory(name, cc)
			if err != nil {
				return rt, err
			}
			rt.Categories[c] = o
		}
	}

	if rt.Sinks, err = resolveSinks(cfg.Sinks); err != nil {
		return rt, err
	}

	if rt.Debug, err = resolveDebug(cfg.Debug); err != nil {
		return rt, err
	}

	rt.Checkpoint = DefaultCheckpointInterval
	if s := cfg.Storage; s != nil {
		busy, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		if err != nil {
			return rt, err
		}
		if rt.Checkpoint, err = ParseDurationOrDefault("storage.checkpoint_interval", s.CheckpointInterval, DefaultCheckpointInterval); err != nil {
			return rt, err
		}
		rt.Storage = storage.Config{Driver: strings.TrimSpace(s.Driver), Path: strings.TrimSpace(s.Path), BusyTimeout: busy}
		switch strings.ToLower(rt.Storage.Driver) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if rt.Storage.Path == "" {
				return rt, fmt.Errorf("storage.path: required for driver %q", rt.Storage.Driver)
			}
		default:
			return rt, fmt.Errorf("storage.driver: unknown driver %q", rt.Storage.Driver)
		}
	}
	return rt, nil
}

func resolveEngine(e EngineConfig) (rules.Config, error) {
	var out rules.Config
	out.Location = time.Local
	if tz := strings.TrimSpace(e.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return out, fmt.Errorf("engine.timezone: %w", err)
		}
		out.Location = loc
	}

	var err error
	if out.DefaultBatchWindow, err = ParseDurationOrDefault("engine.default_batch_window", e.DefaultBatchWindow, category.DefaultBatchWindow); err != nil {
		return out, err
	}
	if e.DefaultMaxPerHour < 0 {
		return out, fmt.Errorf("engine.default_max_per_hour: must be >= 0")
	}
	out.DefaultMaxPerHour = e.DefaultMaxPerHour
	out.DigestSpec = strings.TrimSpace(e.DigestSchedule)

	if out.Quiet, err = rules.ParseQuietHours(strings.TrimSpace(e.QuietHours.Start), strings.TrimSpace(e.QuietHours.End)); err != nil {
		return out, fmt.Errorf("engine.quiet_hours: %w", err)
	}

	// Parse the digest schedule now so a bad cron expression is rejected before reload.
	if _, err := rules.NewEngine(out, nil); err != nil {
		return out, fmt.Errorf("engine.digest_schedule: %w", err)
	}
	return out, nil
}

func resolveEscalation(e EscalationConfig) (escalation.Policy, error) {
	var (
		p   escalation.Policy
		err error
	)
	if p.Timeout, err = ParseDurationField("engine.escalation.timeout", e.Timeout); err != nil {
		return p, err
	}
	if p.MaxTimeout, err = ParseDurationField("engine.escalation.max_timeout", e.MaxTimeout); err != nil {
		return p, err
	}
	p.Multiplier = e.Multiplier
	p.MaxLevel = e.MaxLevel
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("engine.escalation: %w", err)
	}
	return p.Normalize(), nil
}

func resolveSinks(s *SinksConfig) (SinksRuntime, error) {
	var out SinksRuntime
	if s == nil || !s.Enabled {
		return out, nil
	}
	out.Enabled = true
	out.Log = s.Log
	out.Feed = strings.TrimSpace(s.Feed)
	if !out.Log && out.Feed == "" {
		return out, fmt.Errorf("sinks: enabled without log or feed")
	}
	if s.Workers < 0 || s.QueueSize < 0 || s.RatePerSec < 0 || s.RetryMax < 0 || s.DedupMaxEntries < 0 {
		return out, fmt.Errorf("sinks: counts must be >= 0")
	}
	c := sink.Config{
		Workers:         s.Workers,
		QueueSize:       s.QueueSize,
		RatePerSec:      s.RatePerSec,
		RetryMax:        s.RetryMax,
		DedupMaxEntries: s.DedupMaxEntries,
	}
	var err error
	if c.RetryBase, err = ParseDurationField("sinks.retry_base", s.RetryBase); err != nil {
		return out, err
	}
	if c.RetryMaxDelay, err = ParseDurationField("sinks.retry_max_delay", s.RetryMaxDelay); err != nil {
		return out, err
	}
	if c.DedupWindow, err = ParseDurationField("sinks.dedup_window", s.DedupWindow); err != nil {
		return out, err
	}
	if c.SendTimeout, err = ParseDurationField("sinks.send_timeout", s.SendTimeout); err != nil {
		return out, err
	}
	out.Service = c
	return out, nil
}

func resolveDebug(d *DebugConfig) (debugsrv.Config, error) {
	var out debugsrv.Config
	if d == nil {
		return out, nil
	}
	out = debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
	if out.Addr != "" {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("debug.addr: %w", err)
		}
	}
	var err error
	if out.ReadTimeout, err = ParseDurationField("debug.read_timeout", d.ReadTimeout); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = ParseDurationField("debug.write_timeout", d.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = ParseDurationField("debug.idle_timeout", d.IdleTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func resolveRule(path string, rc RuleConfig) (rules.Rule, error) {
	r := rules.Rule{
		Category:          category.Category(strings.TrimSpace(rc.Category)),
		PriorityThreshold: rc.PriorityThreshold,
		Frequency:         category.Frequency(strings.ToLower(strings.TrimSpace(rc.Frequency))),
		MaxPerHour:        rc.MaxPerHour,
	}
	var err error
	if r.BatchWindow, err = ParseDurationField(path+".batch_window", rc.BatchWindow); err != nil {
		return r, err
	}
	if r.MinInterval, err = ParseDurationField(path+".min_interval", rc.MinInterval); err != nil {
		return r, err
	}
	if q := rc.QuietHours; q != nil {
		if r.Quiet, err = rules.ParseQuietHours(strings.TrimSpace(q.Start), strings.TrimSpace(q.End)); err != nil {
			return r, fmt.Errorf("%s.quiet_hours: %w", path, err)
		}
	}
	if r, err = r.Normalize(); err != nil {
		return r, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func resolveCategory(name string, cc CategoryConfig) (category.Category, category.Override, error) {
	path := "categories." + name
	c, err := category.Parse(name)
	if err != nil {
		return "", category.Override{}, fmt.Errorf("%s: %w", path, err)
	}
	o := category.Override{
		Priority:  cc.Priority,
		Icon:      cc.Icon,
		Color:     cc.Color,
		Frequency: category.Frequency(strings.ToLower(strings.TrimSpace(cc.Frequency))),
	}
	if o.BatchWindow, err = ParseDurationField(path+".batch_window", cc.BatchWindow); err != nil {
		return "", o, err
	}
	// Validate against a scratch registry so bad values never reach the live one.
	if err := category.NewRegistry().Override(c, o); err != nil {
		return "", o, fmt.Errorf("%s: %w", path, err)
	}
	return c, o, nil
}
