package job

import (
	"context"
	"time"

	"github.com/soundpipe/soundpipe/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Status filters by job status. Empty means all statuses.
	Status Status
	// Kind filters by processor kind. Empty means all kinds.
	Kind string
}

// RecordStore is the persistence contract for the job record table — the
// source of truth the rest of the engine reads and writes. The status
// tracker is its sole mutator; every other component reads snapshots.
//
// Implementations must return defensive copies from all read operations.
type RecordStore interface {
	// CreateJob persists a new job record with all its items.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob replaces an existing job record wholesale.
	UpdateJob(ctx context.Context, j *Job) error

	// ListJobs returns jobs matching the given options, ordered by
	// creation time.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// DeleteJob removes a job record and its items.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// PurgeTerminal removes terminal jobs whose retention period has
	// elapsed at the given instant. Jobs without an explicit retention
	// use defaultRetention. Returns the number of jobs removed.
	PurgeTerminal(ctx context.Context, now time.Time, defaultRetention time.Duration) (int, error)
}
