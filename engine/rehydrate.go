package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/job"
	"github.com/soundpipe/soundpipe/queue"
)

// rehydrateParallelism bounds concurrent job restores during startup.
const rehydrateParallelism = 8

// rehydrate reloads active jobs from the persistence adapter into the
// live record store and re-queues their unfinished items. Items that
// were Running when the previous process died cannot have reported an
// outcome, so they are treated as recoverable failures: re-admitted as
// Retrying with their interrupted attempt counted.
func (e *Engine) rehydrate(ctx context.Context) error {
	jobs, err := e.adapter.LoadActive(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	now := time.Now().UTC()

	var (
		mu       sync.Mutex
		entries  []queue.Entry
		restored int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rehydrateParallelism)
	for _, j := range jobs {
		g.Go(func() error {
			pending := make([]queue.Entry, 0, len(j.Items))
			for _, it := range j.Items {
				switch it.Status {
				case job.ItemRunning:
					it.Status = job.ItemRetrying
					it.NextAttemptAt = now
				case job.ItemPending, job.ItemRetrying:
				default:
					continue
				}
				pending = append(pending, queue.Entry{
					JobID:     j.ID,
					ItemID:    it.ID,
					Index:     it.Index,
					Priority:  j.Priority,
					NotBefore: it.NextAttemptAt,
				})
			}
			j.Status = j.Aggregate()
			j.Touch(now)

			if err := e.tracker.Restore(ctx, j); err != nil {
				if errors.Is(err, soundpipe.ErrJobAlreadyExists) {
					return nil
				}
				return err
			}
			if j.InFlightLimit > 0 {
				e.caps.SetJobLimit(j.ID, j.InFlightLimit)
			}

			mu.Lock()
			entries = append(entries, pending...)
			restored++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(entries) > 0 {
		if err := e.queue.Push(entries...); err != nil {
			// A backlog larger than the configured queue capacity.
			// The records are restored; the stranded items need a
			// bigger QueueCapacity and a restart to proceed.
			e.logger.Error("rehydration backlog exceeds queue capacity",
				slog.Int("items", len(entries)),
				slog.Int("capacity", e.cfg.QueueCapacity),
			)
			return err
		}
	}

	e.logger.Info("rehydrated active jobs",
		slog.Int("jobs", restored),
		slog.Int("requeued_items", len(entries)),
	)
	return nil
}
