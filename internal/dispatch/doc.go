// Package dispatch is the single entry point of the notification engine.
//
// Submit threads a request through validation, rule resolution, rate
// limiting and quiet hours, then delivers it now, parks it in a batch or
// suppresses it. Batch flushes and escalations fire later from the timer
// wheel. Every delivery lands in the store first and is then posted to each
// subscriber's mailbox in the same order.
package dispatch
