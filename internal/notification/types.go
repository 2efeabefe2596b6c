package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"larder/internal/category"
)

var (
	ErrInvalidCategory = category.ErrInvalidCategory
	ErrInvalidPriority = errors.New("invalid priority")
	ErrNotFound        = errors.New("notification not found")
)

// CriticalBand is the highest priority value still treated as critical.
const CriticalBand = 5

// Notification is one ingested notification. The Store owns the canonical copy;
// every other component works with ids or value copies.
type Notification struct {
	ID       uint64            `json:"id"`
	Category category.Category `json:"category"`
	Priority int               `json:"priority"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Source   string            `json:"source,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	Read   bool       `json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	EscalationCount int  `json:"escalation_count"`
	Exhausted       bool `json:"exhausted,omitempty"`

	// GroupID identifies the batch delivery that carried this notification.
	GroupID string `json:"group_id,omitempty"`
}

// Critical reports whether n is in the critical priority band.
func (n Notification) Critical() bool { return n.Priority <= CriticalBand }

// Outstanding reports whether n is critical and still waiting for acknowledgment.
func (n Notification) Outstanding() bool { return n.Critical() && !n.Acknowledged }

// Request is what producers submit.
type Request struct {
	Category category.Category
	Title    string
	Message  string
	Source   string
	// Priority overrides the category default when non-zero.
	Priority int
}

// Validate checks the request and fills in the default priority from reg.
func (r Request) Validate(reg *category.Registry) (Request, error) {
	c, err := category.Parse(string(r.Category))
	if err != nil {
		return r, err
	}
	r.Category = c
	if r.Priority == 0 {
		r.Priority = reg.DefaultPriority(c)
	}
	if r.Priority < category.MinPriority || r.Priority > category.MaxPriority {
		return r, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidPriority, r.Priority, category.MinPriority, category.MaxPriority)
	}
	r.Title = strings.TrimSpace(r.Title)
	r.Source = strings.TrimSpace(r.Source)
	return r, nil
}

// Band names the priority band of p.
func Band(p int) string {
	switch {
	case p <= CriticalBand:
		return "critical"
	case p <= 10:
		return "high"
	case p <= 15:
		return "normal"
	default:
		return "low"
	}
}

// Bands lists band names from most to least urgent.
var Bands = []string{"critical", "high", "normal", "low"}
