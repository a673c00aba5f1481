package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ProcessFunc is a type-erased processing function. It receives an opaque
// item payload and the job's opaque config, and returns an opaque result
// reference. Failure classification is part of its contract with the
// engine: return soundpipe.Recoverable / soundpipe.Terminal wrapped
// errors; unclassified errors are treated as recoverable.
//
// A ProcessFunc must be safe to call concurrently with independent
// payloads.
type ProcessFunc func(ctx context.Context, payload []byte, config json.RawMessage) ([]byte, error)

// Kind is a typed processor definition. T is the config type the job's
// opaque config deserializes into before the handler runs.
type Kind[T any] struct {
	// Name is the unique identifier for this processor kind.
	Name string

	// Handler processes one item payload with the decoded config.
	Handler func(ctx context.Context, payload []byte, config T) ([]byte, error)
}

// NewKind creates a typed processor definition.
func NewKind[T any](name string, handler func(ctx context.Context, payload []byte, config T) ([]byte, error)) *Kind[T] {
	return &Kind[T]{Name: name, Handler: handler}
}

// Registry maps processor kind names to type-erased processing functions.
// The set of kinds is closed at admission time: submitting a job with an
// unregistered kind fails immediately rather than at execution.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]ProcessFunc
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]ProcessFunc)}
}

// RegisterFunc registers a raw processing function under the given kind.
func (r *Registry) RegisterFunc(kind string, fn ProcessFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = fn
}

// RegisterKind registers a typed processor definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the job config into T
// before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterKind[T any](r *Registry, k *Kind[T]) {
	fn := func(ctx context.Context, payload []byte, config json.RawMessage) ([]byte, error) {
		var t T
		if len(config) > 0 {
			if err := json.Unmarshal(config, &t); err != nil {
				return nil, fmt.Errorf("unmarshal config for kind %q: %w", k.Name, err)
			}
		}
		return k.Handler(ctx, payload, t)
	}
	r.RegisterFunc(k.Name, fn)
}

// Resolve returns the processing function for the given kind.
// Returns false if no function is registered.
func (r *Registry) Resolve(kind string) (ProcessFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.kinds[kind]
	return fn, ok
}

// Kinds returns all registered kind names.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	return names
}
