package category

import (
	"fmt"
	"sync"
	"time"
)

// Frequency is a delivery cadence policy.
type Frequency string

const (
	FrequencyImmediate   Frequency = "immediate"
	FrequencyBatched     Frequency = "batched"
	FrequencyDailyDigest Frequency = "daily_digest"
	FrequencySuppressed  Frequency = "suppressed"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyImmediate, FrequencyBatched, FrequencyDailyDigest, FrequencySuppressed:
		return true
	default:
		return false
	}
}

const (
	MinPriority = 1
	MaxPriority = 20

	DefaultBatchWindow = 5 * time.Minute
)

// Meta is the static description of a category.
type Meta struct {
	Category    Category      `json:"category"`
	Priority    int           `json:"priority"`
	Icon        string        `json:"icon"`
	Color       string        `json:"color"`
	Frequency   Frequency     `json:"frequency"`
	BatchWindow time.Duration `json:"batch_window,omitempty"`
}

// Override replaces selected metadata fields. Zero values keep the current value.
type Override struct {
	Priority    int
	Icon        string
	Color       string
	Frequency   Frequency
	BatchWindow time.Duration
}

// Registry maps each category to its metadata. It is owned by one engine
// instance; there is no process-wide registry.
//
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	meta map[Category]Meta
}

var defaults = []Meta{
	{Category: Emergency, Icon: "🚨", Color: "#b71c1c", Frequency: FrequencyImmediate},
	{Category: Security, Icon: "🔒", Color: "#c62828", Frequency: FrequencyImmediate},
	{Category: Critical, Icon: "❗", Color: "#d32f2f", Frequency: FrequencyImmediate},
	{Category: Error, Icon: "⛔", Color: "#e53935", Frequency: FrequencyImmediate},
	{Category: Failure, Icon: "💥", Color: "#f4511e", Frequency: FrequencyImmediate},
	{Category: Warning, Icon: "⚠️", Color: "#fb8c00", Frequency: FrequencyBatched},
	{Category: Maintenance, Icon: "🔧", Color: "#8d6e63", Frequency: FrequencyBatched},
	{Category: Resource, Icon: "📉", Color: "#6d4c41", Frequency: FrequencyBatched},
	{Category: Inventory, Icon: "📦", Color: "#f9a825", Frequency: FrequencyBatched},
	{Category: Staff, Icon: "👥", Color: "#5e35b1", Frequency: FrequencyBatched},
	{Category: Schedule, Icon: "📅", Color: "#3949ab", Frequency: FrequencyBatched},
	{Category: Budget, Icon: "💰", Color: "#2e7d32", Frequency: FrequencyBatched},
	{Category: Recipe, Icon: "🍳", Color: "#00897b", Frequency: FrequencyBatched},
	{Category: Completion, Icon: "✅", Color: "#43a047", Frequency: FrequencyBatched},
	{Category: Sync, Icon: "🔄", Color: "#039be5", Frequency: FrequencyBatched},
	{Category: Update, Icon: "⬆️", Color: "#1e88e5", Frequency: FrequencyDailyDigest},
	{Category: Success, Icon: "🎉", Color: "#7cb342", Frequency: FrequencyBatched},
	{Category: Info, Icon: "ℹ️", Color: "#546e7a", Frequency: FrequencyDailyDigest},
	{Category: System, Icon: "🖥️", Color: "#455a64", Frequency: FrequencyDailyDigest},
}

// NewRegistry returns a registry populated with the built-in defaults.
// Default priorities follow the order of All (emergency=1 ... system=19).
func NewRegistry() *Registry {
	r := &Registry{meta: make(map[Category]Meta, len(defaults))}
	for i, m := range defaults {
		m.Priority = i + 1
		if m.Frequency == FrequencyBatched {
			m.BatchWindow = DefaultBatchWindow
		}
		r.meta[m.Category] = m
	}
	return r
}

func (r *Registry) Lookup(c Category) (Meta, bool) {
	r.mu.RLock()
	m, ok := r.meta[c]
	r.mu.RUnlock()
	return m, ok
}

// DefaultPriority returns the category's default priority, or MaxPriority for unknown categories.
func (r *Registry) DefaultPriority(c Category) int {
	if m, ok := r.Lookup(c); ok {
		return m.Priority
	}
	return MaxPriority
}

// Override applies metadata overrides for one category.
func (r *Registry) Override(c Category, o Override) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, c)
	}
	if o.Priority != 0 && (o.Priority < MinPriority || o.Priority > MaxPriority) {
		return fmt.Errorf("category %s: priority %d out of range [%d,%d]", c, o.Priority, MinPriority, MaxPriority)
	}
	if o.Frequency != "" && !o.Frequency.Valid() {
		return fmt.Errorf("category %s: unknown frequency %q", c, o.Frequency)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.meta[c]
	if o.Priority != 0 {
		m.Priority = o.Priority
	}
	if o.Icon != "" {
		m.Icon = o.Icon
	}
	if o.Color != "" {
		m.Color = o.Color
	}
	if o.Frequency != "" {
		m.Frequency = o.Frequency
	}
	if o.BatchWindow > 0 {
		m.BatchWindow = o.BatchWindow
	}
	if m.Frequency == FrequencyBatched && m.BatchWindow <= 0 {
		m.BatchWindow = DefaultBatchWindow
	}
	r.meta[c] = m
	return nil
}

// List returns all metadata in default-priority order.
func (r *Registry) List() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(All))
	for _, c := range All {
		out = append(out, r.meta[c])
	}
	return out
}

// Reset drops every override and restores the built-in defaults.
func (r *Registry) Reset() {
	fresh := NewRegistry()
	r.mu.Lock()
	r.meta = fresh.meta
	r.mu.Unlock()
}
