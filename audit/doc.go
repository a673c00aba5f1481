// Package audit bridges soundpipe lifecycle events to an audit trail
// backend. Register it as a hook and every job and item transition is
// emitted as a structured audit event through an injected Recorder,
// keeping the engine decoupled from the concrete audit store.
//
// Recording is best-effort: a failing recorder is logged by the hook
// registry and never affects processing.
package audit
