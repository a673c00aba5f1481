// Package store defines the persistence contract for SoundPipe and the
// journal hook that feeds adapters from lifecycle events. The engine
// itself runs against the in-memory record store; an Adapter adds
// durability on top, with rehydration of in-flight jobs at startup.
package store

import (
	"context"
	"time"

	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
)

// Transition is one append-only entry in the state transition journal.
// Item-level transitions carry an ItemID; job-level ones leave it nil.
type Transition struct {
	ID      id.EventID `json:"id"`
	JobID   id.JobID   `json:"job_id"`
	ItemID  id.ItemID  `json:"item_id,omitzero"`
	Event   string     `json:"event"`
	Attempt int        `json:"attempt,omitempty"`
	Detail  string     `json:"detail,omitempty"`
	At      time.Time  `json:"at"`
}

// Adapter is the full persistence contract: the job record table plus an
// append-only transition journal and lifecycle management.
type Adapter interface {
	job.RecordStore

	// AppendTransition records a state transition in the journal.
	AppendTransition(ctx context.Context, tr *Transition) error

	// ListTransitions returns a job's journal entries in append order.
	ListTransitions(ctx context.Context, jobID id.JobID) ([]*Transition, error)

	// LoadActive returns every non-terminal job, ordered by creation
	// time. Used at startup to rehydrate in-flight work.
	LoadActive(ctx context.Context) ([]*job.Job, error)

	// Migrate creates or upgrades the backing schema.
	Migrate(ctx context.Context) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the adapter's resources.
	Close() error
}
