package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/audit"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
)

type capture struct {
	events []*audit.Event
}

func (c *capture) Record(_ context.Context, evt *audit.Event) error {
	c.events = append(c.events, evt)
	return nil
}

func sampleJob(status job.Status) *job.Job {
	j := &job.Job{
		Entity:   soundpipe.NewEntity(),
		ID:       id.NewJobID(),
		Kind:     "transcode",
		Status:   status,
		Priority: 2,
		Items: []*job.Item{
			{ID: id.NewItemID(), Index: 0, Status: job.ItemPending},
		},
	}
	if status.Terminal() {
		done := j.CreatedAt.Add(250 * time.Millisecond)
		j.CompletedAt = &done
	}
	return j
}

func TestJobSubmittedEvent(t *testing.T) {
	rec := &capture{}
	h := audit.New(rec)

	if err := h.OnJobSubmitted(context.Background(), sampleJob(job.StatusPending)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("events = %d, want 1", len(rec.events))
	}
	evt := rec.events[0]
	if evt.Action != audit.ActionJobSubmitted || evt.Category != audit.CategoryJob {
		t.Fatalf("event = %+v", evt)
	}
	if evt.Metadata["kind"] != "transcode" || evt.Metadata["items"] != 1 {
		t.Fatalf("metadata = %+v", evt.Metadata)
	}
}

func TestJobFinishedSeverityTracksStatus(t *testing.T) {
	cases := []struct {
		status   job.Status
		severity string
		outcome  string
	}{
		{job.StatusCompleted, audit.SeverityInfo, audit.OutcomeSuccess},
		{job.StatusPartiallyFailed, audit.SeverityWarning, audit.OutcomeFailure},
		{job.StatusFailed, audit.SeverityCritical, audit.OutcomeFailure},
		{job.StatusCancelled, audit.SeverityWarning, audit.OutcomeFailure},
	}
	for _, tc := range cases {
		rec := &capture{}
		h := audit.New(rec)
		if err := h.OnJobFinished(context.Background(), sampleJob(tc.status)); err != nil {
			t.Fatalf("%s: %v", tc.status, err)
		}
		evt := rec.events[0]
		if evt.Severity != tc.severity || evt.Outcome != tc.outcome {
			t.Errorf("%s: severity=%s outcome=%s, want %s/%s",
				tc.status, evt.Severity, evt.Outcome, tc.severity, tc.outcome)
		}
	}
}

func TestItemFailedCarriesReason(t *testing.T) {
	rec := &capture{}
	h := audit.New(rec)

	j := sampleJob(job.StatusRunning)
	it := j.Items[0]
	failure := &soundpipe.Failure{Class: soundpipe.ClassTerminal, Message: "unsupported sample format"}

	if err := h.OnItemFailed(context.Background(), j, it, failure); err != nil {
		t.Fatalf("record: %v", err)
	}
	evt := rec.events[0]
	if evt.Reason != "unsupported sample format" {
		t.Fatalf("reason = %q", evt.Reason)
	}
	if evt.Metadata["class"] != string(soundpipe.ClassTerminal) {
		t.Fatalf("metadata = %+v", evt.Metadata)
	}
}

func TestActionFilter(t *testing.T) {
	rec := &capture{}
	h := audit.New(rec, audit.WithActions(audit.ActionJobFinished))

	j := sampleJob(job.StatusCompleted)
	if err := h.OnJobSubmitted(context.Background(), j); err != nil {
		t.Fatalf("submitted: %v", err)
	}
	if err := h.OnItemStarted(context.Background(), j, j.Items[0]); err != nil {
		t.Fatalf("started: %v", err)
	}
	if err := h.OnJobFinished(context.Background(), j); err != nil {
		t.Fatalf("finished: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0].Action != audit.ActionJobFinished {
		t.Fatalf("events = %+v", rec.events)
	}
}

func TestRecorderErrorPropagates(t *testing.T) {
	boom := errors.New("trail unavailable")
	h := audit.New(audit.RecorderFunc(func(context.Context, *audit.Event) error {
		return boom
	}))
	if err := h.OnJobSubmitted(context.Background(), sampleJob(job.StatusPending)); !errors.Is(err, boom) {
		t.Fatalf("got %v, want recorder error", err)
	}
}
