// Package batch accumulates non-urgent notifications into time-windowed
// batches and flushes each one as a single grouped delivery.
//
// There is at most one open batch per (category, bucket). A batch's flush
// time is fixed when it opens; later arrivals never extend it. Flushes run
// on the timer wheel, so they never race each other.
package batch
