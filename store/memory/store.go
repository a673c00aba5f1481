// Package memory provides a fully in-memory store.Adapter. It backs the
// engine's record table by default and doubles as the reference
// implementation for the durable adapters.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
	"github.com/soundpipe/soundpipe/store"
)

var _ store.Adapter = (*Store)(nil)

// Store is an in-memory implementation of store.Adapter.
// Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	jobs        map[string]*job.Job
	transitions map[string][]*store.Transition // jobID → journal entries
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		transitions: make(map[string][]*store.Transition),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Record store
// ──────────────────────────────────────────────────

// CreateJob persists a new job record with all its items.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return soundpipe.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID. The returned record is a deep copy.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, soundpipe.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob replaces an existing job record wholesale.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return soundpipe.ErrJobNotFound
	}
	m.jobs[key] = j.Clone()
	return nil
}

// ListJobs returns jobs matching the given options, ordered by creation
// time.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		result = append(result, j.Clone())
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// DeleteJob removes a job record, its items, and its journal entries.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return soundpipe.ErrJobNotFound
	}
	delete(m.jobs, key)
	delete(m.transitions, key)
	return nil
}

// PurgeTerminal removes terminal jobs whose retention period has elapsed.
func (m *Store) PurgeTerminal(_ context.Context, now time.Time, defaultRetention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key, j := range m.jobs {
		if !j.Status.Terminal() || j.CompletedAt == nil {
			continue
		}
		retention := j.Retention
		if retention == 0 {
			retention = defaultRetention
		}
		if j.CompletedAt.Add(retention).After(now) {
			continue
		}
		delete(m.jobs, key)
		delete(m.transitions, key)
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Journal / rehydration
// ──────────────────────────────────────────────────

// AppendTransition records a journal entry.
func (m *Store) AppendTransition(_ context.Context, tr *store.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tr.JobID.String()
	cp := *tr
	m.transitions[key] = append(m.transitions[key], &cp)
	return nil
}

// ListTransitions returns a job's journal entries in append order.
func (m *Store) ListTransitions(_ context.Context, jobID id.JobID) ([]*store.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.transitions[jobID.String()]
	result := make([]*store.Transition, len(entries))
	for i, tr := range entries {
		cp := *tr
		result[i] = &cp
	}
	return result, nil
}

// LoadActive returns all non-terminal jobs ordered by creation time.
func (m *Store) LoadActive(_ context.Context) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.Status.Terminal() {
			continue
		}
		result = append(result, j.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}
