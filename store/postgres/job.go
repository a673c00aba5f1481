package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
)

const jobColumns = `
	id, kind, config, status, priority, max_attempts, in_flight_limit,
	timeout_ns, retention_ns, completed_at, created_at, updated_at`

const itemColumns = `
	id, job_id, item_index, payload, status, attempt, result,
	last_error_class, last_error_message, next_attempt_at, started_at, finished_at`

// CreateJob persists a new job record with all its items.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("soundpipe/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO soundpipe_jobs (
			id, kind, config, status, priority, max_attempts, in_flight_limit,
			timeout_ns, retention_ns, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		encodeJob(j)...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return soundpipe.ErrJobAlreadyExists
		}
		return fmt.Errorf("soundpipe/postgres: create job: %w", err)
	}

	for _, it := range j.Items {
		if err := upsertItem(ctx, tx, j.ID, it); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("soundpipe/postgres: commit: %w", err)
	}
	return nil
}

// GetJob retrieves a job and its items by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM soundpipe_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, soundpipe.ErrJobNotFound
		}
		return nil, fmt.Errorf("soundpipe/postgres: get job: %w", err)
	}

	if err := s.attachItems(ctx, []*job.Job{j}); err != nil {
		return nil, err
	}
	return j, nil
}

// UpdateJob replaces an existing job record and upserts its items.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("soundpipe/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE soundpipe_jobs SET
			kind = $2, config = $3, status = $4, priority = $5,
			max_attempts = $6, in_flight_limit = $7, timeout_ns = $8,
			retention_ns = $9, completed_at = $10, updated_at = $11
		WHERE id = $1`,
		j.ID.String(), j.Kind, []byte(j.Config), string(j.Status),
		j.Priority, j.MaxAttempts, j.InFlightLimit,
		j.Timeout.Nanoseconds(), j.Retention.Nanoseconds(),
		j.CompletedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("soundpipe/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return soundpipe.ErrJobNotFound
	}

	for _, it := range j.Items {
		if err := upsertItem(ctx, tx, j.ID, it); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("soundpipe/postgres: commit: %w", err)
	}
	return nil
}

// DeleteJob removes a job and, via cascade, its items and transitions.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM soundpipe_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("soundpipe/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return soundpipe.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching the given options, ordered by creation
// time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM soundpipe_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, opts.Kind)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("soundpipe/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// LoadActive returns every non-terminal job, ordered by creation time.
func (s *Store) LoadActive(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM soundpipe_jobs
		WHERE status IN ('pending', 'running')
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("soundpipe/postgres: load active: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// PurgeTerminal removes terminal jobs whose retention has elapsed at now.
// Postgres intervals carry microsecond resolution, so retention is
// rounded down to the microsecond in the comparison.
func (s *Store) PurgeTerminal(ctx context.Context, now time.Time, defaultRetention time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM soundpipe_jobs
		WHERE status IN ('completed', 'partially_failed', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL
		  AND completed_at
		      + (CASE WHEN retention_ns > 0 THEN retention_ns ELSE $2 END) / 1000
		        * interval '1 microsecond'
		      <= $1`,
		now, defaultRetention.Nanoseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("soundpipe/postgres: purge terminal: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// attachItems loads and attaches the items of the given jobs, in index
// order.
func (s *Store) attachItems(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	ids := make([]string, len(jobs))
	byID := make(map[string]*job.Job, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID.String()
		byID[j.ID.String()] = j
		j.Items = nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM soundpipe_items
		WHERE job_id = ANY($1)
		ORDER BY job_id, item_index ASC`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("soundpipe/postgres: load items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		it, jobIDStr, err := scanItem(rows)
		if err != nil {
			return fmt.Errorf("soundpipe/postgres: scan item row: %w", err)
		}
		if j := byID[jobIDStr]; j != nil {
			j.Items = append(j.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("soundpipe/postgres: iterate item rows: %w", err)
	}
	return nil
}

// upsertItem inserts or replaces one item row within a transaction.
func upsertItem(ctx context.Context, tx pgx.Tx, jobID id.JobID, it *job.Item) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO soundpipe_items (
			id, job_id, item_index, payload, status, attempt, result,
			last_error_class, last_error_message, next_attempt_at,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt = EXCLUDED.attempt,
			result = EXCLUDED.result,
			last_error_class = EXCLUDED.last_error_class,
			last_error_message = EXCLUDED.last_error_message,
			next_attempt_at = EXCLUDED.next_attempt_at,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		encodeItem(jobID, it)...,
	)
	if err != nil {
		return fmt.Errorf("soundpipe/postgres: upsert item: %w", err)
	}
	return nil
}

// encodeJob produces the column values of a job row, in jobColumns
// order.
func encodeJob(j *job.Job) []any {
	return []any{
		j.ID.String(), j.Kind, []byte(j.Config), string(j.Status),
		j.Priority, j.MaxAttempts, j.InFlightLimit,
		j.Timeout.Nanoseconds(), j.Retention.Nanoseconds(),
		j.CompletedAt, j.CreatedAt, j.UpdatedAt,
	}
}

// encodeItem produces the column values of an item row, in itemColumns
// order. Absent failure details and a zero NextAttemptAt map to NULL.
func encodeItem(jobID id.JobID, it *job.Item) []any {
	var errClass, errMessage *string
	if it.LastError != nil {
		c := string(it.LastError.Class)
		m := it.LastError.Message
		errClass, errMessage = &c, &m
	}

	var nextAttemptAt *time.Time
	if !it.NextAttemptAt.IsZero() {
		nextAttemptAt = &it.NextAttemptAt
	}

	return []any{
		it.ID.String(), jobID.String(), it.Index, it.Payload,
		string(it.Status), it.Attempt, it.Result,
		errClass, errMessage, nextAttemptAt,
		it.StartedAt, it.FinishedAt,
	}
}

// scanJob scans a single job row without its items.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		config      []byte
		statusStr   string
		timeoutNs   int64
		retentionNs int64
	)
	err := row.Scan(
		&idStr, &j.Kind, &config, &statusStr,
		&j.Priority, &j.MaxAttempts, &j.InFlightLimit,
		&timeoutNs, &retentionNs, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Config = config
	j.Status = job.Status(statusStr)
	j.Timeout = time.Duration(timeoutNs)
	j.Retention = time.Duration(retentionNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("soundpipe/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	return &j, nil
}

// scanItem scans a single item row, returning the owning job ID.
func scanItem(row pgx.Row) (*job.Item, string, error) {
	var (
		it            job.Item
		idStr         string
		jobIDStr      string
		statusStr     string
		errClass      *string
		errMessage    *string
		nextAttemptAt *time.Time
	)
	err := row.Scan(
		&idStr, &jobIDStr, &it.Index, &it.Payload, &statusStr,
		&it.Attempt, &it.Result, &errClass, &errMessage,
		&nextAttemptAt, &it.StartedAt, &it.FinishedAt,
	)
	if err != nil {
		return nil, "", err
	}

	it.Status = job.ItemStatus(statusStr)
	if errClass != nil {
		it.LastError = &soundpipe.Failure{Class: soundpipe.Class(*errClass)}
		if errMessage != nil {
			it.LastError.Message = *errMessage
		}
	}
	if nextAttemptAt != nil {
		it.NextAttemptAt = *nextAttemptAt
	}

	parsedID, parseErr := id.ParseItemID(idStr)
	if parseErr != nil {
		return nil, "", fmt.Errorf("soundpipe/postgres: parse item id %q: %w", idStr, parseErr)
	}
	it.ID = parsedID

	return &it, jobIDStr, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("soundpipe/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("soundpipe/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
