package rules

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"larder/internal/category"
)

var (
	ErrInvalidRule  = errors.New("invalid rule")
	ErrRuleConflict = errors.New("rule conflict")
)

// FrequencyMode is the delivery cadence a rule imposes.
type FrequencyMode = category.Frequency

const (
	Immediate   = category.FrequencyImmediate
	Batched     = category.FrequencyBatched
	DailyDigest = category.FrequencyDailyDigest
	Suppressed  = category.FrequencySuppressed
)

// Rule is a configured policy for one category (or the wildcard).
type Rule struct {
	Category category.Category `json:"category"`
	// PriorityThreshold: the rule applies only when priority <= threshold.
	// Zero means every priority.
	PriorityThreshold int           `json:"priority_threshold,omitempty"`
	Frequency         FrequencyMode `json:"frequency"`
	// BatchWindow is the N of batched-N-minutes (default 5m).
	BatchWindow time.Duration `json:"batch_window,omitempty"`
	// MaxPerHour caps admissions in the trailing hour.
	// Zero uses the engine default; negative disables the cap.
	MaxPerHour int `json:"max_per_hour,omitempty"`
	// MinInterval is the minimum spacing between two admissions.
	MinInterval time.Duration `json:"min_interval,omitempty"`
	// Quiet overrides the engine-wide quiet hours when enabled.
	Quiet QuietHours `json:"quiet"`
}

// Threshold returns the effective priority threshold.
func (r Rule) Threshold() int {
	if r.PriorityThreshold <= 0 {
		return category.MaxPriority
	}
	return r.PriorityThreshold
}

// Key identifies a rule inside a Set. Configuring an existing key replaces it.
type Key struct {
	Category  category.Category
	Threshold int
}

func (r Rule) Key() Key { return Key{Category: r.Category, Threshold: r.Threshold()} }

func (k Key) String() string {
	return string(k.Category) + "<=" + strconv.Itoa(k.Threshold)
}

// Matches reports whether r applies to a notification of category c and priority p.
func (r Rule) Matches(c category.Category, p int) bool {
	if r.Category != category.Wildcard && r.Category != c {
		return false
	}
	return p <= r.Threshold()
}

// Specific reports whether r names an exact category.
func (r Rule) Specific() bool { return r.Category != category.Wildcard }

// Normalize validates r and fills defaults.
func (r Rule) Normalize() (Rule, error) {
	c, err := category.ParseRuleTarget(string(r.Category))
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	r.Category = c
	if r.PriorityThreshold < 0 || r.PriorityThreshold > category.MaxPriority {
		return r, fmt.Errorf("%w: priority_threshold %d out of range", ErrInvalidRule, r.PriorityThreshold)
	}
	if r.Frequency == "" {
		r.Frequency = Immediate
	}
	if !r.Frequency.Valid() {
		return r, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
	if r.BatchWindow < 0 || r.MinInterval < 0 {
		return r, fmt.Errorf("%w: durations must be >= 0", ErrInvalidRule)
	}
	if r.Frequency == Batched && r.BatchWindow == 0 {
		r.BatchWindow = category.DefaultBatchWindow
	}
	return r, nil
}

// Conflict describes two rules of identical specificity that both match some
// priority. It is resolved by the lowest threshold and reported as a warning.
type Conflict struct {
	Added    Key
	Existing Key
	Winner   Key
}

func (c Conflict) Error() string {
	return fmt.Sprintf("%s: %s overlaps %s (%s wins)", ErrRuleConflict, c.Added, c.Existing, c.Winner)
}

func (c Conflict) Unwrap() error { return ErrRuleConflict }

// FromRegistry derives one rule per category from the registry's default
// frequencies. Immediate categories get no rule since that is the default
// for the critical band anyway.
func FromRegistry(reg *category.Registry) []Rule {
	var out []Rule
	for _, m := range reg.List() {
		if m.Frequency == Immediate {
			continue
		}
		out = append(out, Rule{Category: m.Category, Frequency: m.Frequency, BatchWindow: m.BatchWindow})
	}
	return out
}
