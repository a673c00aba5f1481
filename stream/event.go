// Package stream provides a real-time event broker for SoundPipe lifecycle
// events. It bridges the hook system to in-process consumers via topic-based
// pub/sub. Per-job topics are finite: once the job's terminal event has been
// published the topic closes, and with it every subscriber scoped only to
// that job.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobSubmitted EventType = "job.submitted"
	EventJobFinished  EventType = "job.finished"

	// Item events.
	EventItemStarted   EventType = "item.started"
	EventItemSucceeded EventType = "item.succeeded"
	EventItemRetrying  EventType = "item.retrying"
	EventItemFailed    EventType = "item.failed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// Terminal reports whether this event is the last one a per-job topic
// will carry.
func (e *Event) Terminal() bool { return e.Type == EventJobFinished }

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// ItemEventData is the payload for item lifecycle events.
type ItemEventData struct {
	JobID         string `json:"job_id"`
	ItemID        string `json:"item_id"`
	Index         int    `json:"index"`
	Attempt       int    `json:"attempt"`
	ElapsedMs     int64  `json:"elapsed_ms,omitempty"`
	Error         string `json:"error,omitempty"`
	Class         string `json:"class,omitempty"`
	NextAttemptAt string `json:"next_attempt_at,omitempty"`
}
