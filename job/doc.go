// Package job defines the job and item entities, their state machines,
// typed processor kinds, and the record store interface.
//
// # Entities
//
// A [Job] is a caller-submitted batch of one or more [Item] values
// (a single-file request is a job with one item). Items progress through:
//
//	pending → running → succeeded
//	pending → running → retrying → pending → ...
//	pending → running → failed
//	pending → failed                    (cancellation)
//
// and the parent job aggregates them:
//
//	pending → running → completed | partially_failed | failed
//	any non-terminal → cancelled
//
// Once an item is succeeded or failed no further transitions occur.
//
// # Processor kinds
//
// The original request's loosely-typed processing type is modeled as a
// closed set of kinds resolved once at submission time. Define one with
// [NewKind] and register it via [RegisterKind]:
//
//	var Transcode = job.NewKind("transcode",
//	    func(ctx context.Context, payload []byte, cfg TranscodeConfig) ([]byte, error) {
//	        return codec.Run(ctx, payload, cfg)
//	    },
//	)
//
// Unknown kinds are rejected at admission, not at execution.
package job
