// Package storage persists the engine state so it survives restarts.
//
// Drivers:
//   - "file": one JSON snapshot, replaced atomically (tmp + rename)
//   - "sqlite": SQLite database (modernc.org/sqlite through sqlx, goose migrations)
//
// The state is a full checkpoint: the notification log, the suppression
// ledger, the rule set, the next id, open batches and pending escalations.
package storage
