package notification

import (
	"time"

	"larder/internal/category"
)

// Filter selects notifications. Zero fields do not constrain.
type Filter struct {
	Categories   []category.Category
	MinPriority  int
	MaxPriority  int
	Since        time.Time // inclusive, compared to CreatedAt
	Until        time.Time // exclusive
	Read         *bool
	Acknowledged *bool
	Source       string
	// Limit caps the number of results (0 = no cap).
	Limit int
}

// Match reports whether n passes the filter (Limit is not considered).
func (f Filter) Match(n Notification) bool {
	if len(f.Categories) > 0 {
		ok := false
		for _, c := range f.Categories {
			if c == n.Category {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.MinPriority > 0 && n.Priority < f.MinPriority {
		return false
	}
	if f.MaxPriority > 0 && n.Priority > f.MaxPriority {
		return false
	}
	if !f.Since.IsZero() && n.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !n.CreatedAt.Before(f.Until) {
		return false
	}
	if f.Read != nil && n.Read != *f.Read {
		return false
	}
	if f.Acknowledged != nil && n.Acknowledged != *f.Acknowledged {
		return false
	}
	if f.Source != "" && n.Source != f.Source {
		return false
	}
	return true
}

// Bool is a helper for the pointer fields of Filter.
func Bool(v bool) *bool { return &v }
