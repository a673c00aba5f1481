package middleware

import (
	"context"
	"log/slog"

	"github.com/soundpipe/soundpipe/job"
)

// Timeout returns middleware that enforces a per-attempt execution deadline.
// If the task has a non-zero Timeout, a context.WithTimeout wraps the handler
// call. When the deadline is exceeded the context is cancelled and the
// processing function should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, task *job.Task, next Handler) error {
		if task.Timeout > 0 {
			logger.Debug("attempt timeout set",
				slog.String("item_id", task.ItemID.String()),
				slog.Duration("timeout", task.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, task.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
