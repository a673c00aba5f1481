package job

import (
	"encoding/json"
	"time"

	"github.com/soundpipe/soundpipe/id"
)

// Task is the work description handed to a worker when an item is
// dispatched. It is a value copy — workers hold no reference into the
// record store and never mutate records directly.
type Task struct {
	JobID  id.JobID
	ItemID id.ItemID
	Kind   string
	Index  int

	// Attempt is the attempt number this execution represents (1-based).
	Attempt int

	Priority int
	Payload  []byte
	Config   json.RawMessage

	// Timeout is the per-attempt execution deadline. Zero means unlimited.
	Timeout time.Duration
}
