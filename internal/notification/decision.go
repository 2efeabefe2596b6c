package notification

import (
	"fmt"
	"time"

	"larder/internal/category"
)

// Action is the outcome of rule resolution.
type Action int

const (
	ActionDeliver Action = iota
	ActionBatch
	ActionSuppress
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionDeliver:
		return "deliver"
	case ActionBatch:
		return "batch"
	case ActionSuppress:
		return "suppress"
	case ActionEscalate:
		return "escalate"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Decision is returned to the producer synchronously. Batch decisions carry the
// bucket and the flush time of the batch the notification was assigned to.
type Decision struct {
	Action  Action    `json:"action"`
	Bucket  string    `json:"bucket,omitempty"`
	FlushAt time.Time `json:"flush_at,omitempty"`
	Rule    string    `json:"rule,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Immediate reports whether the decision delivers right away.
func (d Decision) Immediate() bool {
	return d.Action == ActionDeliver || d.Action == ActionEscalate
}

// Receipt is the synchronous result of a submission.
type Receipt struct {
	ID       uint64   `json:"id"`
	Decision Decision `json:"decision"`
}

// DeliveryKind tells subscribers why they receive a delivery.
type DeliveryKind string

const (
	DeliveryImmediate  DeliveryKind = "immediate"
	DeliveryBatch      DeliveryKind = "batch"
	DeliveryEscalation DeliveryKind = "escalation"
)

// Delivery is one event handed to subscribers.
type Delivery struct {
	Kind     DeliveryKind      `json:"kind"`
	At       time.Time         `json:"at"`
	Category category.Category `json:"category"`
	GroupID  string            `json:"group_id,omitempty"`
	Summary  string            `json:"summary"`
	// Level is the escalation level of an escalation re-delivery (1-based).
	Level int            `json:"level,omitempty"`
	Items []Notification `json:"items"`
}

// Count is the number of notifications carried.
func (d Delivery) Count() int { return len(d.Items) }
