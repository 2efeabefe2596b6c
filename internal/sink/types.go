package sink

import (
	"context"
	"errors"
	"time"

	"larder/internal/notification"
)

var (
	ErrQueueFull = errors.New("sink queue full")
	ErrStopped   = errors.New("sink stopped")
)

// Sink delivers one notification group to an outbound channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, d notification.Delivery) error
}

// Config controls the outbound pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// DedupWindow suppresses a delivery identical to one sent within the
	// window. Zero disables it.
	DedupWindow     time.Duration
	DedupMaxEntries int
	// SendTimeout bounds one Send call.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Stats counts pipeline outcomes since start.
type Stats struct {
	Queued  uint64 `json:"queued"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Deduped uint64 `json:"deduped"`
	Dropped uint64 `json:"dropped"`
}
