// Package task drives background task execution: a registry of operation
// handlers keyed by task type, and a pool of workers that claim queued
// tasks from the store and run their items in order.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNoHandler is returned when a task names a type no handler was
// registered for. It is recorded as an item failure, never escalated.
var ErrNoHandler = errors.New("no handler registered for task type")

// Handler performs the actual domain action for one item's payload. It is
// invoked once per item and must be safe to call repeatedly without shared
// mutable state between calls. A handler enforces its own per-item timeout
// (typically via its HTTP client or the passed context).
type Handler interface {
	Execute(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, payload)
}

// Registry maps task types to their operation handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task type, replacing any previous binding.
func (r *Registry) Register(taskType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = handler
}

// Resolve looks up the handler for a task type.
func (r *Registry) Resolve(taskType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, taskType)
	}
	return handler, nil
}

// Types returns the registered task types, for enqueue validation.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Known reports whether a handler exists for the task type.
func (r *Registry) Known(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[taskType]
	return ok
}
