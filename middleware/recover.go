package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/soundpipe/soundpipe/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace. The resulting
// error is unclassified, so a panicking item is retried like any other
// recoverable failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, task *job.Task, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("processing function panicked",
					slog.String("kind", task.Kind),
					slog.String("job_id", task.JobID.String()),
					slog.String("item_id", task.ItemID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in %s item: %v", task.Kind, r)
			}
		}()
		return next(ctx)
	}
}
