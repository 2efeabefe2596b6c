package app

import (
	"larder/internal/category"
	"larder/internal/config"
	"larder/internal/dispatch"
	"larder/internal/rules"
	logx "larder/pkg/logx"
)

// applyCategories resets reg to the built-in metadata and applies overrides.
func applyCategories(reg *category.Registry, overrides map[category.Category]category.Override, log logx.Logger) {
	reg.Reset()
	for c, o := range overrides {
		if err := reg.Override(c, o); err != nil {
			log.Warn("category override skipped", logx.String("category", string(c)), logx.Err(err))
		}
	}
}

// configuredRules is the rule set a config asks for: its explicit rules, or
// one rule per category when seeding is enabled and none are listed.
func configuredRules(rt config.Runtime, reg *category.Registry) []rules.Rule {
	if len(rt.Rules) > 0 {
		return rt.Rules
	}
	if rt.SeedRules {
		return rules.FromRegistry(reg)
	}
	return nil
}

func installRules(d *dispatch.Dispatcher, rs []rules.Rule, log logx.Logger) {
	for _, err := range d.ReplaceRules(rs) {
		log.Warn("rule skipped", logx.Err(err))
	}
}
