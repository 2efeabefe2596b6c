package config

import (
	"reflect"
	"sort"
	"strings"

	logx "larder/pkg/logx"
)

// Change lists what differs between two configs.
type Change struct {
	// Sections are the top-level keys that changed, sorted.
	Sections []string
	// Attrs summarize the new values for the reload log line.
	Attrs []logx.Field
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		e := newCfg.Engine
		ch.Sections = append(ch.Sections, "engine")
		ch.Attrs = append(ch.Attrs,
			logx.String("engine.timezone", strings.TrimSpace(e.Timezone)),
			logx.String("engine.default_batch_window", strings.TrimSpace(e.DefaultBatchWindow)),
			logx.Int("engine.default_max_per_hour", e.DefaultMaxPerHour),
			logx.String("engine.rate_limit_scope", strings.TrimSpace(e.RateLimitScope)),
			logx.String("engine.quiet_hours", strings.TrimSpace(e.QuietHours.Start)+"-"+strings.TrimSpace(e.QuietHours.End)),
			logx.String("engine.escalation.timeout", strings.TrimSpace(e.Escalation.Timeout)),
			logx.Int("engine.escalation.max_level", e.Escalation.MaxLevel),
		)
	}

	if !reflect.DeepEqual(oldCfg.Rules, newCfg.Rules) {
		ch.Sections = append(ch.Sections, "rules")
		ch.Attrs = append(ch.Attrs, logx.Int("rules.count", len(newCfg.Rules)))
	}

	if changed := diffCategories(oldCfg.Categories, newCfg.Categories); len(changed) > 0 {
		ch.Sections = append(ch.Sections, "categories")
		ch.Attrs = append(ch.Attrs, logx.String("categories.changed", strings.Join(changed, ",")))
	}

	var oK, nK SinksConfig
	if oldCfg.Sinks != nil {
		oK = *oldCfg.Sinks
	}
	if newCfg.Sinks != nil {
		nK = *newCfg.Sinks
	}
	if oK != nK {
		ch.Sections = append(ch.Sections, "sinks")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("sinks.enabled", nK.Enabled),
			logx.Bool("sinks.log", nK.Log),
			logx.Bool("sinks.feed_set", strings.TrimSpace(nK.Feed) != ""),
			logx.Int("sinks.rate_per_sec", nK.RatePerSec),
			logx.Int("sinks.retry_max", nK.RetryMax),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		ch.Sections = append(ch.Sections, "storage")
		ch.Attrs = append(ch.Attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.checkpoint_interval", strings.TrimSpace(nS.CheckpointInterval)),
		)
	}

	var oD, nD DebugConfig
	if oldCfg.Debug != nil {
		oD = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		nD = *newCfg.Debug
	}
	if oD != nD {
		ch.Sections = append(ch.Sections, "debug")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nD.Token) != ""),
		)
	}

	sort.Strings(ch.Sections)
	return ch
}

func diffCategories(oldM, newM map[string]CategoryConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	var out []string
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
