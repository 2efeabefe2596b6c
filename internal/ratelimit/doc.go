// Package ratelimit caps notification admissions per key within a trailing
// one-hour window, with optional minimum spacing between admissions
// (golang.org/x/time/rate). Windows are evicted lazily on each call.
package ratelimit
