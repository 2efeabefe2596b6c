package eventbus

import "time"

// Event types published on the bus.
const (
	TypeDelivered           = "notification.delivered"
	TypeSuppressed          = "notification.suppressed"
	TypeBatched             = "notification.batched"
	TypeBatchFlushed        = "batch.flushed"
	TypeEscalated           = "escalation.fired"
	TypeEscalationExhausted = "escalation.exhausted"
	TypeAcknowledged        = "notification.acknowledged"
	TypeRuleConflict        = "rule.conflict"
	TypeSubscriberPanic     = "subscriber.panic"
	TypeCheckpoint          = "state.checkpoint"
	TypeSinkSent            = "sink.sent"
	TypeSinkFailed          = "sink.failed"
	TypeSinkDeduped         = "sink.deduped"
	TypeSinkDropped         = "sink.dropped"
)

// NotificationEvent carries one notification's identity and outcome.
type NotificationEvent struct {
	ID       uint64 `json:"id"`
	Category string `json:"category"`
	Priority int    `json:"priority"`
	Action   string `json:"action,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type BatchEvent struct {
	GroupID  string    `json:"group_id"`
	Category string    `json:"category"`
	Bucket   string    `json:"bucket"`
	Items    int       `json:"items"`
	FlushAt  time.Time `json:"flush_at"`
}

type EscalationEvent struct {
	ID       uint64 `json:"id"`
	Category string `json:"category"`
	Level    int    `json:"level"`
	MaxLevel int    `json:"max_level"`
}

type ConflictEvent struct {
	Added    string `json:"added"`
	Existing string `json:"existing"`
	Winner   string `json:"winner"`
}

type CheckpointEvent struct {
	Driver string        `json:"driver"`
	Log    int           `json:"log"`
	Took   time.Duration `json:"took"`
	Error  string        `json:"error,omitempty"`
}

type SinkEvent struct {
	Sink    string `json:"sink"`
	Kind    string `json:"kind"`
	GroupID string `json:"group_id,omitempty"`
	Items   int    `json:"items"`
	Key     string `json:"key"`
	Error   string `json:"error,omitempty"`
}
