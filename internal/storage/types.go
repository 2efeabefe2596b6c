package storage

import (
	"errors"
	"time"

	"larder/internal/batch"
	"larder/internal/escalation"
	"larder/internal/notification"
	"larder/internal/rules"
	"larder/internal/store"
)

var ErrDisabled = errors.New("storage disabled")

// StateVersion is bumped when State changes shape incompatibly.
const StateVersion = 1

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// State is one checkpoint of the engine.
type State struct {
	Version     int                         `json:"version"`
	SavedAt     time.Time                   `json:"saved_at"`
	NextID      uint64                      `json:"next_id"`
	Log         []notification.Notification `json:"log"`
	Suppressed  []store.Suppression         `json:"suppressed"`
	Rules       []rules.Rule                `json:"rules"`
	Batches     []batch.Batch               `json:"batches"`
	Escalations []escalation.Timer          `json:"escalations"`
}

// Empty reports whether the state carries nothing worth restoring.
func (s State) Empty() bool {
	return s.NextID == 0 && len(s.Log) == 0 && len(s.Suppressed) == 0 &&
		len(s.Rules) == 0 && len(s.Batches) == 0 && len(s.Escalations) == 0
}
