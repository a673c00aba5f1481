package redis

import (
	"testing"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
	"github.com/soundpipe/soundpipe/store"
)

func TestJobCodecRoundTrip(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	j := &job.Job{
		Entity: soundpipe.Entity{
			CreatedAt: started,
			UpdatedAt: started.Add(time.Minute),
		},
		ID:            id.NewJobID(),
		Kind:          "transcode",
		Config:        []byte(`{"bitrate":128}`),
		Status:        job.StatusRunning,
		Priority:      3,
		MaxAttempts:   5,
		InFlightLimit: 2,
		Timeout:       30 * time.Second,
		Retention:     time.Hour,
		Items: []*job.Item{
			{
				ID:      id.NewItemID(),
				Index:   0,
				Payload: []byte("s3://in/track-0.wav"),
				Status:  job.ItemSucceeded,
				Attempt: 1,
				Result:  []byte("s3://out/track-0.mp3"),
			},
			{
				ID:      id.NewItemID(),
				Index:   1,
				Status:  job.ItemRetrying,
				Attempt: 2,
				LastError: &soundpipe.Failure{
					Class:   soundpipe.ClassRecoverable,
					Message: "upstream flaked",
				},
				NextAttemptAt: started.Add(5 * time.Second),
			},
		},
	}

	data, err := encodeJob(j)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeJob(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.ID != j.ID || got.Kind != j.Kind || got.Status != j.Status {
		t.Errorf("job header mismatch: %+v", got)
	}
	if got.Timeout != j.Timeout || got.Retention != j.Retention {
		t.Errorf("durations mismatch: timeout %v retention %v", got.Timeout, got.Retention)
	}
	if len(got.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(got.Items))
	}
	if string(got.Items[0].Result) != "s3://out/track-0.mp3" {
		t.Errorf("item 0 result = %q", got.Items[0].Result)
	}
	retry := got.Items[1]
	if retry.LastError == nil || retry.LastError.Class != soundpipe.ClassRecoverable {
		t.Errorf("item 1 error = %+v", retry.LastError)
	}
	if !retry.NextAttemptAt.Equal(started.Add(5 * time.Second)) {
		t.Errorf("item 1 NextAttemptAt = %v", retry.NextAttemptAt)
	}
}

func TestTransitionCodecOmitsNilItem(t *testing.T) {
	tr := &store.Transition{
		ID:    id.NewEventID(),
		JobID: id.NewJobID(),
		Event: "job.finished",
		At:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := encodeTransition(tr)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeTransition(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !got.ItemID.IsNil() {
		t.Errorf("ItemID = %v, want nil", got.ItemID)
	}
	if got.Event != "job.finished" || !got.At.Equal(tr.At) {
		t.Errorf("transition mismatch: %+v", got)
	}
}
