package job

import (
	"encoding/json"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
)

// Status represents the aggregate lifecycle state of a job.
type Status string

const (
	// StatusPending means no item has started yet.
	StatusPending Status = "pending"
	// StatusRunning means at least one item has started and the job is
	// not yet settled.
	StatusRunning Status = "running"
	// StatusCompleted means every item succeeded.
	StatusCompleted Status = "completed"
	// StatusPartiallyFailed means a mix of succeeded and terminally
	// failed items, with nothing still in flight.
	StatusPartiallyFailed Status = "partially_failed"
	// StatusFailed means every item failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal job status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyFailed, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ItemStatus represents the lifecycle state of a single item.
type ItemStatus string

const (
	// ItemPending means the item is admitted and waiting for dispatch.
	ItemPending ItemStatus = "pending"
	// ItemRunning means a worker is currently executing the item.
	ItemRunning ItemStatus = "running"
	// ItemRetrying means the last attempt failed recoverably and the
	// item is waiting out its backoff delay.
	ItemRetrying ItemStatus = "retrying"
	// ItemSucceeded means the item finished and produced a result.
	ItemSucceeded ItemStatus = "succeeded"
	// ItemFailed means the item failed terminally (terminal
	// classification, exhausted attempts, or cancellation).
	ItemFailed ItemStatus = "failed"
)

// Terminal reports whether s is a terminal item status.
func (s ItemStatus) Terminal() bool {
	return s == ItemSucceeded || s == ItemFailed
}

// Job is a caller-submitted unit of work containing one or more items,
// tracked as a whole.
type Job struct {
	soundpipe.Entity

	ID   id.JobID `json:"id"`
	Kind string   `json:"kind"`

	// Config carries opaque processing parameters, passed through to the
	// processing function unexamined by the engine.
	Config json.RawMessage `json:"config,omitempty"`

	Status   Status  `json:"status"`
	Priority int     `json:"priority"`
	Items    []*Item `json:"items"`

	// MaxAttempts is the per-item retry budget for this job.
	MaxAttempts int `json:"max_attempts"`
	// InFlightLimit caps how many of this job's items run at once.
	// Zero means no per-job cap.
	InFlightLimit int `json:"in_flight_limit,omitempty"`
	// Timeout is the per-attempt execution deadline. Zero means unlimited.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Retention is how long the record is kept after reaching a terminal
	// status. Zero means the engine default.
	Retention time.Duration `json:"retention,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Item is one individually schedulable unit of processing within a job.
type Item struct {
	ID    id.ItemID `json:"id"`
	Index int       `json:"index"`

	// Payload is an opaque reference to input data (file handle, URI),
	// not interpreted by the engine.
	Payload []byte `json:"payload"`

	Status  ItemStatus `json:"status"`
	Attempt int        `json:"attempt"`

	// Result is an opaque output reference, set only when Succeeded.
	Result []byte `json:"result,omitempty"`

	LastError     *soundpipe.Failure `json:"last_error,omitempty"`
	NextAttemptAt time.Time          `json:"next_attempt_at,omitzero"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	FinishedAt    *time.Time         `json:"finished_at,omitempty"`
}

// Progress summarizes how far along a job is.
type Progress struct {
	Done    int `json:"done"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

// Progress returns the job's done/total/percent counts. An item counts
// as done once it reaches a terminal status.
func (j *Job) Progress() Progress {
	p := Progress{Total: len(j.Items)}
	for _, it := range j.Items {
		if it.Status.Terminal() {
			p.Done++
		}
	}
	if p.Total > 0 {
		p.Percent = p.Done * 100 / p.Total
	} else {
		p.Percent = 100
	}
	return p
}

// Aggregate computes the job status implied by the current item states.
// A cancelled job stays cancelled regardless of late item outcomes.
//
//	Completed        iff every item succeeded
//	Failed           iff every item failed terminally
//	PartiallyFailed  iff a mix of succeeded and failed, nothing in flight
//	Pending          iff no item has left pending
//	Running          otherwise
func (j *Job) Aggregate() Status {
	if j.Status == StatusCancelled {
		return StatusCancelled
	}

	var succeeded, failed, pending int
	for _, it := range j.Items {
		switch it.Status {
		case ItemSucceeded:
			succeeded++
		case ItemFailed:
			failed++
		case ItemPending:
			pending++
		}
	}

	n := len(j.Items)
	switch {
	case succeeded == n:
		return StatusCompleted
	case failed == n:
		return StatusFailed
	case succeeded+failed == n:
		return StatusPartiallyFailed
	case pending == n:
		return StatusPending
	default:
		return StatusRunning
	}
}

// Item returns the item with the given ID, or nil.
func (j *Job) Item(itemID id.ItemID) *Item {
	for _, it := range j.Items {
		if it.ID == itemID {
			return it
		}
	}
	return nil
}

// Clone returns a deep copy of the job. Snapshots handed to callers are
// always clones so nothing outside the tracker can mutate the record.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Items = make([]*Item, len(j.Items))
	for i, it := range j.Items {
		itc := *it
		if it.LastError != nil {
			fe := *it.LastError
			itc.LastError = &fe
		}
		cp.Items[i] = &itc
	}
	return &cp
}

// ItemResult pairs an item with its final result or failure, in item
// index order.
type ItemResult struct {
	ItemID id.ItemID          `json:"item_id"`
	Index  int                `json:"index"`
	Status ItemStatus         `json:"status"`
	Result []byte             `json:"result,omitempty"`
	Error  *soundpipe.Failure `json:"error,omitempty"`
}
