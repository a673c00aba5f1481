// Package dispatch moves admitted items from the queue onto workers.
// A single dispatcher goroutine pops eligible entries in priority order,
// leases them through the status tracker, and hands the resulting tasks
// to the worker pool. The Caps manager enforces the global and per-job
// concurrency limits, plus optional per-tier dispatch rates.
package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/soundpipe/soundpipe/id"
	"github.com/soundpipe/soundpipe/queue"
)

// Caps tracks in-flight executions against the global concurrency cap,
// per-job in-flight limits, and optional per-priority-tier rate limits.
// Safe for concurrent use.
type Caps struct {
	mu sync.Mutex

	// global is the maximum number of concurrently executing items.
	// Zero means unlimited.
	global   int
	inflight int

	// active counts executing items per job; limits holds each job's
	// in-flight cap (zero or absent means uncapped).
	active map[string]int
	limits map[string]int

	// tiers rate-limits dispatch per priority tier.
	tiers map[int]*rate.Limiter

	// nextPermit is the earliest time a tier limiter that rejected an
	// entry will grant a token. The dispatcher consumes it to arm its
	// wake-up timer: nothing else signals token refills.
	nextPermit time.Time
}

// NewCaps creates a caps manager with the given global concurrency limit.
func NewCaps(global int) *Caps {
	return &Caps{
		global: global,
		active: make(map[string]int),
		limits: make(map[string]int),
		tiers:  make(map[int]*rate.Limiter),
	}
}

// SetJobLimit registers a per-job in-flight cap. Zero removes the cap.
func (c *Caps) SetJobLimit(jobID id.JobID, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 {
		delete(c.limits, jobID.String())
		return
	}
	c.limits[jobID.String()] = limit
}

// ClearJob drops the per-job cap and active count for a finished job.
func (c *Caps) ClearJob(jobID id.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.limits, jobID.String())
	delete(c.active, jobID.String())
}

// SetTierRate limits how fast items of the given priority tier are
// dispatched. A zero limit removes the tier's limiter.
func (c *Caps) SetTierRate(priority int, limit rate.Limit, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 {
		delete(c.tiers, priority)
		return
	}
	c.tiers[priority] = rate.NewLimiter(limit, burst)
}

// TryAcquire reports whether the entry may dispatch now, and if so claims
// a global slot and a per-job slot. Designed to serve as the allow
// callback of the queue's Pop: entries it rejects are skipped, not
// dropped.
func (c *Caps) TryAcquire(e queue.Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.global > 0 && c.inflight >= c.global {
		return false
	}
	key := e.JobID.String()
	if limit := c.limits[key]; limit > 0 && c.active[key] >= limit {
		return false
	}
	if lim := c.tiers[e.Priority]; lim != nil {
		now := time.Now()
		r := lim.ReserveN(now, 1)
		if !r.OK() {
			return false
		}
		if delay := r.DelayFrom(now); delay > 0 {
			// No token yet. Give it back and remember when one
			// arrives so the dispatcher can wake itself.
			r.CancelAt(now)
			at := now.Add(delay)
			if c.nextPermit.IsZero() || at.Before(c.nextPermit) {
				c.nextPermit = at
			}
			return false
		}
	}

	c.inflight++
	c.active[key]++
	return true
}

// Release returns the slots claimed by TryAcquire after an execution
// finishes.
func (c *Caps) Release(jobID id.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight > 0 {
		c.inflight--
	}
	key := jobID.String()
	if c.active[key] > 0 {
		c.active[key]--
	}
	if c.active[key] == 0 {
		delete(c.active, key)
	}
}

// NextPermit returns the earliest time a tier limiter will grant a
// token to an entry it rejected since the last call, and clears it.
// ok is false when no tier-limited rejection is outstanding.
func (c *Caps) NextPermit() (t time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextPermit.IsZero() {
		return time.Time{}, false
	}
	t = c.nextPermit
	c.nextPermit = time.Time{}
	return t, true
}

// InFlight returns the number of currently executing items.
func (c *Caps) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}
