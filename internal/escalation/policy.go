package escalation

import (
	"fmt"
	"math"
	"time"
)

const (
	DefaultTimeout    = 5 * time.Minute
	DefaultMultiplier = 2.0
	DefaultMaxTimeout = time.Hour
	DefaultMaxLevel   = 3
)

// Policy is the escalation growth law.
type Policy struct {
	// Timeout is the delay before the first re-delivery.
	Timeout time.Duration
	// Multiplier scales the delay per level (1 keeps it constant).
	Multiplier float64
	// MaxTimeout caps the delay. Zero means no cap.
	MaxTimeout time.Duration
	// MaxLevel is the number of re-deliveries before giving up.
	MaxLevel int
}

func DefaultPolicy() Policy {
	return Policy{Timeout: DefaultTimeout, Multiplier: DefaultMultiplier, MaxTimeout: DefaultMaxTimeout, MaxLevel: DefaultMaxLevel}
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxLevel <= 0 {
		p.MaxLevel = DefaultMaxLevel
	}
	return p
}

func (p Policy) Validate() error {
	if p.Timeout < 0 || p.MaxTimeout < 0 {
		return fmt.Errorf("escalation durations must be >= 0")
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("escalation multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.MaxLevel < 0 {
		return fmt.Errorf("escalation max_level must be >= 0, got %d", p.MaxLevel)
	}
	return nil
}

// Delay is the wait before the re-delivery that follows level.
func (p Policy) Delay(level int) time.Duration {
	d := float64(p.Timeout) * math.Pow(p.Multiplier, float64(level))
	if p.MaxTimeout > 0 && d > float64(p.MaxTimeout) {
		return p.MaxTimeout
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
