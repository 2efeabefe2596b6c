// Package escalation re-raises unacknowledged critical notifications.
//
// Each tracked notification has one timer that moves through
// Pending(level) until it is acknowledged or reaches the maximum level, at
// which point it becomes Exhausted. The delay before each level grows by a
// configurable multiplier and is capped.
package escalation
