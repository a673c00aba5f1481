package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundpipe/soundpipe/job"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, task *job.Task, next Handler) error {
		logger.Info("item attempt started",
			slog.String("kind", task.Kind),
			slog.String("job_id", task.JobID.String()),
			slog.String("item_id", task.ItemID.String()),
			slog.Int("attempt", task.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("item attempt failed",
				slog.String("kind", task.Kind),
				slog.String("job_id", task.JobID.String()),
				slog.String("item_id", task.ItemID.String()),
				slog.Int("attempt", task.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("item attempt completed",
				slog.String("kind", task.Kind),
				slog.String("job_id", task.JobID.String()),
				slog.String("item_id", task.ItemID.String()),
				slog.Int("attempt", task.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
