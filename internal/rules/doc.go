// Package rules resolves incoming notifications against configured
// NotificationRules.
//
// Resolution picks at most one effective rule per (category, priority): an
// exact category beats the wildcard and, among equally specific rules, the
// lowest priority threshold wins. The chosen frequency mode maps to a Deliver,
// Batch or Suppress decision; quiet hours then downgrade Deliver to Batch for
// non-exempt categories, and exempt categories turn Deliver into Escalate.
//
// Resolve is a pure function of the rule set, the engine config and the time.
package rules
