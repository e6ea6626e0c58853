// Package notifier owns every outbound chat message.
//
// Reminders, digest segments and command replies all pass through one
// bounded queue drained by a small worker pool. Workers share a token
// bucket so bursts stay under Telegram's flood limits, and failed sends are
// retried with jittered exponential backoff.
//
// # Delivery modes
//
// Notify enqueues and returns immediately. Deliver enqueues and blocks until
// the message was sent or finally failed; the reminder engine relies on it
// so counters only advance after a confirmed send.
//
// # History
//
// For operator visibility (/status), the service keeps a small in-memory
// history of recent deliveries.
package notifier
