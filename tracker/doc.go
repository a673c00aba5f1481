// Package tracker implements the status tracker, the single writer for
// job and item state. Every state transition — lease, outcome, retry
// scheduling, cancellation, purge — goes through the Tracker, which
// serializes them under one mutex, keeps the aggregate job status
// consistent with its item states, and emits lifecycle hook events.
//
// All other components read snapshots; nothing outside this package
// mutates a job record.
package tracker
