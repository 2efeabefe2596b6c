package config

// Config is the on-disk configuration. JSON and YAML share the same keys.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Engine  EngineConfig  `json:"engine"`

	// Rules replace the active rule set on load and on every reload that
	// changes them. Rules configured at runtime and persisted by storage win
	// over this list at startup.
	Rules []RuleConfig `json:"rules,omitempty"`

	// Categories overrides registry metadata keyed by category name.
	Categories map[string]CategoryConfig `json:"categories,omitempty"`

	// Sinks forwards deliveries to outbound channels. Nil disables it.
	Sinks *SinksConfig `json:"sinks,omitempty"`

	// Storage is optional; nil or driver "none" disables persistence.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Debug is the optional pprof and state-inspection HTTP server.
	Debug *DebugConfig `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Format is "console" (default) or "json".
	Format string      `json:"format,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig holds the engine-wide policy knobs.
//
// All durations are Go duration strings (e.g. "90s", "5m").
//
// Defaults (when fields are omitted/zero):
//   - timezone: local
//   - default_batch_window: "5m"
//   - default_max_per_hour: 0 (no cap)
//   - rate_limit_scope: "category"
//   - digest_schedule: "0 8 * * *"
//   - quiet_hours: disabled
//   - escalation: timeout "5m", multiplier 2, max_timeout "1h", max_level 3
//   - retry_delay: "5s"
type EngineConfig struct {
	Timezone           string `json:"timezone,omitempty"`
	DefaultBatchWindow string `json:"default_batch_window,omitempty"`
	DefaultMaxPerHour  int    `json:"default_max_per_hour,omitempty"`
	// RateLimitScope is "category" or "category_source".
	RateLimitScope string `json:"rate_limit_scope,omitempty"`
	// DigestSchedule is a standard 5-field cron spec.
	DigestSchedule string           `json:"digest_schedule,omitempty"`
	QuietHours     QuietHoursConfig `json:"quiet_hours"`
	Escalation     EscalationConfig `json:"escalation"`
	RetryDelay     string           `json:"retry_delay,omitempty"`

	// SeedCategoryRules installs one rule per category from the registry's
	// default frequency when no rules are configured or persisted.
	SeedCategoryRules bool `json:"seed_category_rules,omitempty"`
}

// QuietHoursConfig is a local "HH:MM" window. Start after End wraps past
// midnight; both empty disables it.
type QuietHoursConfig struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type EscalationConfig struct {
	Timeout    string  `json:"timeout,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
	MaxTimeout string  `json:"max_timeout,omitempty"`
	MaxLevel   int     `json:"max_level,omitempty"`
}

// RuleConfig mirrors rules.Rule with string durations.
type RuleConfig struct {
	Category          string            `json:"category"`
	PriorityThreshold int               `json:"priority_threshold,omitempty"`
	Frequency         string            `json:"frequency,omitempty"`
	BatchWindow       string            `json:"batch_window,omitempty"`
	MaxPerHour        int               `json:"max_per_hour,omitempty"`
	MinInterval       string            `json:"min_interval,omitempty"`
	QuietHours        *QuietHoursConfig `json:"quiet_hours,omitempty"`
}

// CategoryConfig overrides registry metadata. Zero fields keep the default.
type CategoryConfig struct {
	Priority    int    `json:"priority,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
	BatchWindow string `json:"batch_window,omitempty"`
}

// SinksConfig controls the async outbound pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Workers and queue_size take effect on restart; the rest on reload.
type SinksConfig struct {
	Enabled bool `json:"enabled"`
	// Log writes each delivery as a structured log line.
	Log bool `json:"log,omitempty"`
	// Feed appends each delivery as a JSON line to this file.
	Feed string `json:"feed,omitempty"`

	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./larder.db", "checkpoint_interval": "30s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// CheckpointInterval is how often changed state is saved (default 30s).
	CheckpointInterval string `json:"checkpoint_interval,omitempty"`
}

// DebugConfig controls the optional debug HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
