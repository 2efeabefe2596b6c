// Package timerwheel runs keyed one-shot tasks at their fire time from a
// single scheduling loop.
//
// Tasks live in a min-heap ordered by fire time. Scheduling an existing key
// replaces it and cancelling removes it. A task that returns an error is
// re-scheduled after the retry delay instead of being dropped.
package timerwheel
