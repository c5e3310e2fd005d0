// Package delivery runs the scan-and-dispatch loop.
//
// A scan cycle selects every unsent capsule whose send date is on or before
// today, hands each one to the notifier and marks it sent only after the
// notifier accepted it. Failures are contained per capsule: a failed send or a
// failed commit leaves the capsule selectable for the next cycle.
//
// Marking sent is a single-row update with no surrounding transaction. If it
// fails after a successful send, the next cycle delivers the capsule again.
// That window is the one place delivery is at-least-once rather than
// exactly-once.
package delivery
