package redis

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/job"
	"github.com/soundpipe/soundpipe/store"
)

// jobRecord is the msgpack wire form of a job. IDs travel as strings and
// durations as nanoseconds so records survive schema-free storage.
type jobRecord struct {
	ID            string       `msgpack:"id"`
	Kind          string       `msgpack:"kind"`
	Config        []byte       `msgpack:"config,omitempty"`
	Status        string       `msgpack:"status"`
	Priority      int          `msgpack:"priority"`
	MaxAttempts   int          `msgpack:"max_attempts"`
	InFlightLimit int          `msgpack:"in_flight_limit"`
	TimeoutNs     int64        `msgpack:"timeout_ns"`
	RetentionNs   int64        `msgpack:"retention_ns"`
	CompletedAt   *time.Time   `msgpack:"completed_at,omitempty"`
	CreatedAt     time.Time    `msgpack:"created_at"`
	UpdatedAt     time.Time    `msgpack:"updated_at"`
	Items         []itemRecord `msgpack:"items"`
}

type itemRecord struct {
	ID            string     `msgpack:"id"`
	Index         int        `msgpack:"index"`
	Payload       []byte     `msgpack:"payload,omitempty"`
	Status        string     `msgpack:"status"`
	Attempt       int        `msgpack:"attempt"`
	Result        []byte     `msgpack:"result,omitempty"`
	ErrorClass    string     `msgpack:"error_class,omitempty"`
	ErrorMessage  string     `msgpack:"error_message,omitempty"`
	NextAttemptAt *time.Time `msgpack:"next_attempt_at,omitempty"`
	StartedAt     *time.Time `msgpack:"started_at,omitempty"`
	FinishedAt    *time.Time `msgpack:"finished_at,omitempty"`
}

type transitionRecord struct {
	ID      string    `msgpack:"id"`
	JobID   string    `msgpack:"job_id"`
	ItemID  string    `msgpack:"item_id,omitempty"`
	Event   string    `msgpack:"event"`
	Attempt int       `msgpack:"attempt,omitempty"`
	Detail  string    `msgpack:"detail,omitempty"`
	At      time.Time `msgpack:"at"`
}

func encodeJob(j *job.Job) ([]byte, error) {
	rec := jobRecord{
		ID:            j.ID.String(),
		Kind:          j.Kind,
		Config:        j.Config,
		Status:        string(j.Status),
		Priority:      j.Priority,
		MaxAttempts:   j.MaxAttempts,
		InFlightLimit: j.InFlightLimit,
		TimeoutNs:     j.Timeout.Nanoseconds(),
		RetentionNs:   j.Retention.Nanoseconds(),
		CompletedAt:   j.CompletedAt,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		Items:         make([]itemRecord, len(j.Items)),
	}
	for i, it := range j.Items {
		ir := itemRecord{
			ID:         it.ID.String(),
			Index:      it.Index,
			Payload:    it.Payload,
			Status:     string(it.Status),
			Attempt:    it.Attempt,
			Result:     it.Result,
			StartedAt:  it.StartedAt,
			FinishedAt: it.FinishedAt,
		}
		if it.LastError != nil {
			ir.ErrorClass = string(it.LastError.Class)
			ir.ErrorMessage = it.LastError.Message
		}
		if !it.NextAttemptAt.IsZero() {
			t := it.NextAttemptAt
			ir.NextAttemptAt = &t
		}
		rec.Items[i] = ir
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("soundpipe/redis: encode job: %w", err)
	}
	return data, nil
}

func decodeJob(data []byte) (*job.Job, error) {
	var rec jobRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("soundpipe/redis: decode job: %w", err)
	}

	jobID, err := id.ParseJobID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("soundpipe/redis: parse job id %q: %w", rec.ID, err)
	}

	j := &job.Job{
		Entity: soundpipe.Entity{
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		},
		ID:            jobID,
		Kind:          rec.Kind,
		Config:        rec.Config,
		Status:        job.Status(rec.Status),
		Priority:      rec.Priority,
		MaxAttempts:   rec.MaxAttempts,
		InFlightLimit: rec.InFlightLimit,
		Timeout:       time.Duration(rec.TimeoutNs),
		Retention:     time.Duration(rec.RetentionNs),
		CompletedAt:   rec.CompletedAt,
		Items:         make([]*job.Item, len(rec.Items)),
	}

	for i, ir := range rec.Items {
		itemID, err := id.ParseItemID(ir.ID)
		if err != nil {
			return nil, fmt.Errorf("soundpipe/redis: parse item id %q: %w", ir.ID, err)
		}
		it := &job.Item{
			ID:         itemID,
			Index:      ir.Index,
			Payload:    ir.Payload,
			Status:     job.ItemStatus(ir.Status),
			Attempt:    ir.Attempt,
			Result:     ir.Result,
			StartedAt:  ir.StartedAt,
			FinishedAt: ir.FinishedAt,
		}
		if ir.ErrorClass != "" {
			it.LastError = &soundpipe.Failure{
				Class:   soundpipe.Class(ir.ErrorClass),
				Message: ir.ErrorMessage,
			}
		}
		if ir.NextAttemptAt != nil {
			it.NextAttemptAt = *ir.NextAttemptAt
		}
		j.Items[i] = it
	}

	return j, nil
}

func encodeTransition(tr *store.Transition) ([]byte, error) {
	rec := transitionRecord{
		ID:      tr.ID.String(),
		JobID:   tr.JobID.String(),
		Event:   tr.Event,
		Attempt: tr.Attempt,
		Detail:  tr.Detail,
		At:      tr.At,
	}
	if !tr.ItemID.IsNil() {
		rec.ItemID = tr.ItemID.String()
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("soundpipe/redis: encode transition: %w", err)
	}
	return data, nil
}

func decodeTransition(data []byte) (*store.Transition, error) {
	var rec transitionRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("soundpipe/redis: decode transition: %w", err)
	}

	trID, err := id.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("soundpipe/redis: parse transition id %q: %w", rec.ID, err)
	}
	jobID, err := id.ParseJobID(rec.JobID)
	if err != nil {
		return nil, fmt.Errorf("soundpipe/redis: parse job id %q: %w", rec.JobID, err)
	}

	tr := &store.Transition{
		ID:      trID,
		JobID:   jobID,
		Event:   rec.Event,
		Attempt: rec.Attempt,
		Detail:  rec.Detail,
		At:      rec.At,
	}
	if rec.ItemID != "" {
		itemID, err := id.ParseItemID(rec.ItemID)
		if err != nil {
			return nil, fmt.Errorf("soundpipe/redis: parse item id %q: %w", rec.ItemID, err)
		}
		tr.ItemID = itemID
	}
	return tr, nil
}
