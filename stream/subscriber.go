package stream

import (
	"sync"
	"sync/atomic"
)

// Filter decides whether an event is delivered to a subscriber.
type Filter func(*Event) bool

// Subscriber is one consumer of job event streams. Delivery is
// credit-based: each delivered event costs one credit, and a
// subscriber with no credits left is skipped rather than blocked on.
type Subscriber struct {
	id string

	// ch carries delivered events. Closed exactly once, either by the
	// broker or when the last topic the subscriber was on closes.
	ch     chan *Event
	closed atomic.Bool

	credits atomic.Int64

	// filter, when non-nil, gates delivery. Stored atomically because
	// callers may install it after the subscriber is already wired
	// into topics receiving events.
	filter atomic.Pointer[Filter]

	mu     sync.RWMutex
	topics map[string]struct{}
}

// NewSubscriber creates a subscriber with the given buffer size
// and initial credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. The channel is closed when the
// subscriber is removed, the broker shuts down, or the last topic the
// subscriber was on closes.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) {
	s.credits.Add(n)
}

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 {
	return s.credits.Load()
}

// SetFilter installs a delivery predicate. A nil filter delivers
// everything. Safe to call while events are being delivered.
func (s *Subscriber) SetFilter(fn Filter) {
	if fn == nil {
		s.filter.Store(nil)
		return
	}
	s.filter.Store(&fn)
}

// addTopic records that this subscriber is on the given topic.
func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

// removeTopic removes a topic from the subscriber's tracked set and
// reports how many topics remain.
func (s *Subscriber) removeTopic(topic string) int {
	s.mu.Lock()
	delete(s.topics, topic)
	n := len(s.topics)
	s.mu.Unlock()
	return n
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// takeCredit consumes one credit, reporting false when none remain.
func (s *Subscriber) takeCredit() bool {
	for {
		current := s.credits.Load()
		if current <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// send attempts to deliver an event. It reports false when the event
// was dropped: subscriber closed, filter mismatch, no credits, or a
// full buffer.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}

	if fn := s.filter.Load(); fn != nil && !(*fn)(evt) {
		return false
	}

	if !s.takeCredit() {
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full. The event is dropped, so give the credit back.
		s.credits.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Closed reports whether the subscriber has been closed.
func (s *Subscriber) Closed() bool { return s.closed.Load() }
