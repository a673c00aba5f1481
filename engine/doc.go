// Package engine assembles the soundpipe processing engine: admission
// queue, dispatcher, worker pool, status tracker, event broker, and
// optional persistence, wired together behind a small facade.
//
// Typical use:
//
//	eng := engine.New(soundpipe.DefaultConfig(), logger,
//		engine.WithAdapter(pg),
//	)
//	eng.RegisterFunc("transcode", transcode)
//	if err := eng.Start(ctx); err != nil {
//		return err
//	}
//	defer eng.Stop(ctx)
//
//	j, err := eng.Submit(ctx, engine.SubmitRequest{
//		Kind:  "transcode",
//		Items: payloads,
//	}, job.WithPriority(5))
//
// Progress can be polled through Job/Item/Results or streamed through
// Subscribe, which yields a finite per-job event channel that closes
// after the job's terminal event.
package engine
