package redis

import (
	"context"
	"fmt"

	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/store"
)

// AppendTransition pushes the transition onto the job's journal List.
func (s *Store) AppendTransition(ctx context.Context, tr *store.Transition) error {
	data, err := encodeTransition(tr)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, journalKey(tr.JobID.String()), data).Err(); err != nil {
		return fmt.Errorf("soundpipe/redis: append transition: %w", err)
	}
	return nil
}

// ListTransitions returns a job's journal entries in append order.
func (s *Store) ListTransitions(ctx context.Context, jobID id.JobID) ([]*store.Transition, error) {
	entries, err := s.client.LRange(ctx, journalKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("soundpipe/redis: list transitions: %w", err)
	}

	trs := make([]*store.Transition, 0, len(entries))
	for _, raw := range entries {
		tr, err := decodeTransition([]byte(raw))
		if err != nil {
			return nil, err
		}
		trs = append(trs, tr)
	}
	return trs, nil
}
