package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/hook"
	"github.com/soundpipe/soundpipe/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook          = (*Broker)(nil)
	_ hook.JobSubmitted  = (*Broker)(nil)
	_ hook.JobFinished   = (*Broker)(nil)
	_ hook.ItemStarted   = (*Broker)(nil)
	_ hook.ItemSucceeded = (*Broker)(nil)
	_ hook.ItemRetrying  = (*Broker)(nil)
	_ hook.ItemFailed    = (*Broker)(nil)
	_ hook.Shutdown      = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the hook.Hook
// interface to receive lifecycle events and fans them out to subscribers
// via topic-based pub/sub. When a job's terminal event has been published
// the job's topic closes, so job-scoped subscribers observe a finite
// stream ending with the terminal event.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Hook.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// ReplayFinished delivers a synthetic terminal event for an already
// settled job to a single subscriber, then closes it. Used for
// subscribers that arrive after the job's topic has closed, so a
// job-scoped stream is finite no matter when it is opened. Safe to call
// on a subscriber that already received the live terminal event.
func (b *Broker) ReplayFinished(sub *Subscriber, j *job.Job) {
	if sub.Closed() {
		return
	}
	data := jobData(j)
	if j.CompletedAt != nil {
		data.ElapsedMs = j.CompletedAt.Sub(j.CreatedAt).Milliseconds()
	}
	sub.send(&Event{
		Type:      EventJobFinished,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data:      mustMarshal(data),
	})
	sub.Close()
	b.subscribers.Delete(sub.ID())
	b.topics.UnsubscribeAll(sub.ID())
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// publish creates an event and broadcasts it to all matching topics.
// Terminal events additionally close the job's topic, ending every
// stream scoped to that job.
func (b *Broker) publish(evt *Event) {
	topics := resolveTopics(evt)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))

	if evt.Terminal() && evt.Topic != "" {
		for _, sub := range b.topics.Close(evt.Topic) {
			b.subscribers.Delete(sub.ID())
		}
	}
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func jobData(j *job.Job) JobEventData {
	p := j.Progress()
	return JobEventData{
		JobID:   j.ID.String(),
		Kind:    j.Kind,
		Status:  string(j.Status),
		Done:    p.Done,
		Total:   p.Total,
		Percent: p.Percent,
	}
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobSubmitted(_ context.Context, j *job.Job) error {
	b.publish(&Event{
		Type:      EventJobSubmitted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data:      mustMarshal(jobData(j)),
	})
	return nil
}

func (b *Broker) OnJobFinished(_ context.Context, j *job.Job) error {
	data := jobData(j)
	if j.CompletedAt != nil {
		data.ElapsedMs = j.CompletedAt.Sub(j.CreatedAt).Milliseconds()
	}
	b.publish(&Event{
		Type:      EventJobFinished,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data:      mustMarshal(data),
	})
	return nil
}

// ── Item lifecycle hooks ────────────────────────────

func (b *Broker) OnItemStarted(_ context.Context, j *job.Job, it *job.Item) error {
	b.publish(&Event{
		Type:      EventItemStarted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(ItemEventData{
			JobID:   j.ID.String(),
			ItemID:  it.ID.String(),
			Index:   it.Index,
			Attempt: it.Attempt,
		}),
	})
	return nil
}

func (b *Broker) OnItemSucceeded(_ context.Context, j *job.Job, it *job.Item, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventItemSucceeded,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(ItemEventData{
			JobID:     j.ID.String(),
			ItemID:    it.ID.String(),
			Index:     it.Index,
			Attempt:   it.Attempt,
			ElapsedMs: elapsed.Milliseconds(),
		}),
	})
	return nil
}

func (b *Broker) OnItemRetrying(_ context.Context, j *job.Job, it *job.Item, attempt int, nextAttemptAt time.Time) error {
	data := ItemEventData{
		JobID:         j.ID.String(),
		ItemID:        it.ID.String(),
		Index:         it.Index,
		Attempt:       attempt,
		NextAttemptAt: nextAttemptAt.Format(time.RFC3339),
	}
	if it.LastError != nil {
		data.Error = it.LastError.Message
		data.Class = string(it.LastError.Class)
	}
	b.publish(&Event{
		Type:      EventItemRetrying,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data:      mustMarshal(data),
	})
	return nil
}

func (b *Broker) OnItemFailed(_ context.Context, j *job.Job, it *job.Item, failure *soundpipe.Failure) error {
	data := ItemEventData{
		JobID:   j.ID.String(),
		ItemID:  it.ID.String(),
		Index:   it.Index,
		Attempt: it.Attempt,
	}
	if failure != nil {
		data.Error = failure.Message
		data.Class = string(failure.Class)
	}
	b.publish(&Event{
		Type:      EventItemFailed,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data:      mustMarshal(data),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
