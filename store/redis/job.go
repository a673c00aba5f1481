package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
)

// CreateJob stores the job blob and registers it in the membership sets.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("soundpipe/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return soundpipe.ErrJobAlreadyExists
	}

	data, err := encodeJob(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, jobIDsKey, jID)
	if j.Status.Terminal() {
		pipe.SAdd(ctx, terminalIDsKey, jID)
	} else {
		pipe.SAdd(ctx, activeIDsKey, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("soundpipe/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, soundpipe.ErrJobNotFound
		}
		return nil, fmt.Errorf("soundpipe/redis: get job: %w", err)
	}
	return decodeJob(data)
}

// UpdateJob replaces the job blob and moves it between the active and
// terminal sets as its status dictates.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("soundpipe/redis: update check exists: %w", err)
	}
	if exists == 0 {
		return soundpipe.ErrJobNotFound
	}

	data, err := encodeJob(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	if j.Status.Terminal() {
		pipe.SRem(ctx, activeIDsKey, jID)
		pipe.SAdd(ctx, terminalIDsKey, jID)
	} else {
		pipe.SAdd(ctx, activeIDsKey, jID)
		pipe.SRem(ctx, terminalIDsKey, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("soundpipe/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes the job blob, its journal, and its set memberships.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	exists, err := s.client.Exists(ctx, jobKey(jID)).Result()
	if err != nil {
		return fmt.Errorf("soundpipe/redis: delete check exists: %w", err)
	}
	if exists == 0 {
		return soundpipe.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.Del(ctx, journalKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.SRem(ctx, activeIDsKey, jID)
	pipe.SRem(ctx, terminalIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("soundpipe/redis: delete job: %w", err)
	}
	return nil
}

// ListJobs returns jobs matching the given options, ordered by creation
// time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.fetchSet(ctx, jobIDsKey)
	if err != nil {
		return nil, err
	}

	filtered := jobs[:0]
	for _, j := range jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		filtered = append(filtered, j)
	}

	sort.Slice(filtered, func(i, k int) bool {
		return filtered[i].CreatedAt.Before(filtered[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// LoadActive returns every non-terminal job, ordered by creation time.
func (s *Store) LoadActive(ctx context.Context) ([]*job.Job, error) {
	jobs, err := s.fetchSet(ctx, activeIDsKey)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// PurgeTerminal removes terminal jobs whose retention has elapsed at now.
func (s *Store) PurgeTerminal(ctx context.Context, now time.Time, defaultRetention time.Duration) (int, error) {
	ids, err := s.client.SMembers(ctx, terminalIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("soundpipe/redis: purge list terminal: %w", err)
	}

	purged := 0
	for _, jID := range ids {
		data, err := s.client.Get(ctx, jobKey(jID)).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				// Dangling membership; clean it up.
				s.client.SRem(ctx, terminalIDsKey, jID)
				continue
			}
			return purged, fmt.Errorf("soundpipe/redis: purge get job: %w", err)
		}

		j, err := decodeJob(data)
		if err != nil {
			return purged, err
		}
		if j.CompletedAt == nil {
			continue
		}
		retention := j.Retention
		if retention <= 0 {
			retention = defaultRetention
		}
		if j.CompletedAt.Add(retention).After(now) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, jobKey(jID))
		pipe.Del(ctx, journalKey(jID))
		pipe.SRem(ctx, jobIDsKey, jID)
		pipe.SRem(ctx, terminalIDsKey, jID)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("soundpipe/redis: purge delete job: %w", err)
		}
		purged++
	}
	return purged, nil
}

// fetchSet loads and decodes every job referenced by the given Set.
func (s *Store) fetchSet(ctx context.Context, setKey string) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("soundpipe/redis: list set %s: %w", setKey, err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		data, err := s.client.Get(ctx, jobKey(jID)).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, fmt.Errorf("soundpipe/redis: get job %s: %w", jID, err)
		}
		j, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
