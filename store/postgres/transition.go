package postgres

import (
	"context"
	"fmt"

	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/store"
)

// AppendTransition records a state transition in the journal.
func (s *Store) AppendTransition(ctx context.Context, tr *store.Transition) error {
	var itemID *string
	if !tr.ItemID.IsNil() {
		v := tr.ItemID.String()
		itemID = &v
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO soundpipe_transitions (id, job_id, item_id, event, attempt, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID.String(), tr.JobID.String(), itemID,
		tr.Event, tr.Attempt, tr.Detail, tr.At,
	)
	if err != nil {
		return fmt.Errorf("soundpipe/postgres: append transition: %w", err)
	}
	return nil
}

// ListTransitions returns a job's journal entries in append order.
func (s *Store) ListTransitions(ctx context.Context, jobID id.JobID) ([]*store.Transition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, item_id, event, attempt, detail, at
		FROM soundpipe_transitions
		WHERE job_id = $1
		ORDER BY seq ASC`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("soundpipe/postgres: list transitions: %w", err)
	}
	defer rows.Close()

	var trs []*store.Transition
	for rows.Next() {
		var (
			tr       store.Transition
			idStr    string
			jobIDStr string
			itemID   *string
			detail   *string
		)
		if err := rows.Scan(&idStr, &jobIDStr, &itemID, &tr.Event, &tr.Attempt, &detail, &tr.At); err != nil {
			return nil, fmt.Errorf("soundpipe/postgres: scan transition row: %w", err)
		}

		parsedID, parseErr := id.Parse(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("soundpipe/postgres: parse transition id %q: %w", idStr, parseErr)
		}
		tr.ID = parsedID

		parsedJob, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			return nil, fmt.Errorf("soundpipe/postgres: parse job id %q: %w", jobIDStr, parseErr)
		}
		tr.JobID = parsedJob

		if itemID != nil {
			parsedItem, parseErr := id.ParseItemID(*itemID)
			if parseErr != nil {
				return nil, fmt.Errorf("soundpipe/postgres: parse item id %q: %w", *itemID, parseErr)
			}
			tr.ItemID = parsedItem
		}
		if detail != nil {
			tr.Detail = *detail
		}

		trs = append(trs, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("soundpipe/postgres: iterate transition rows: %w", err)
	}
	return trs, nil
}
