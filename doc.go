// Package soundpipe provides a composable batch-processing engine for
// audio jobs. It accepts single or batched processing requests, schedules
// them against a bounded worker pool, tracks per-job and per-item status
// through a defined lifecycle, and recovers from transient failures via
// retry with exponential backoff.
//
// Soundpipe is designed as a library, not a service. Import it, register
// processor kinds, and submit jobs:
//
//	cfg := soundpipe.DefaultConfig()
//	cfg.Workers = 8
//	eng := engine.New(cfg, logger)
//	engine.Register(eng, job.NewKind("transcode", transcodeFn))
//
//	j, err := engine.Submit(ctx, eng, "transcode", payloads, config)
//
// # Architecture
//
// Work flows through a bounded admission queue into a single dispatcher
// loop that matches eligible items to idle workers, respecting a global
// in-flight cap and optional per-job caps. Workers invoke the registered
// processing function and report each outcome exactly once to the status
// tracker, the sole mutator of the job record store. Failed attempts are
// re-admitted with backoff until the retry budget runs out.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package soundpipe
