// Package store holds the append-only notification log and derives
// analytics from it.
//
// The log is the single authoritative copy of every delivered
// notification. Read, acknowledgment and escalation state change in place;
// entries are never removed or reordered. Analytics are recomputed from the
// log on every Snapshot call.
package store
