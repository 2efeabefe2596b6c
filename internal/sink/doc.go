// Package sink forwards deliveries to outbound channels.
//
// The dispatcher hands every delivery to its subscribers in store order. A
// Service is one such subscriber: it queues deliveries and lets a small worker
// pool push them to a Sink with a shared send rate, bounded retries with
// jittered backoff, and suppression of identical deliveries inside a window.
//
// # Sinks
//
// A Sink is anything that can take a delivery: a log, a JSON-lines feed file,
// or an adapter to an external channel. Multi fans one delivery out to
// several sinks.
package sink
