// Package worker runs queued jobs. A pool of workers claims jobs under
// time-bounded leases, heartbeats while executing, and routes each job to
// the handler registered for its task type.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/luminabi/lumina/queue"
)

// JobHandler executes one task type. Task packages implement this
// interface so the worker pool stays decoupled from delivery logic.
//
// Handlers decode their own payloads from job.Payload and MUST honor
// ctx cancellation: the pool cancels ctx when the job's lease is lost,
// when cancellation is requested, or when the soft task timeout passes.
// The returned result is persisted on the job when nil error.
type JobHandler interface {
	Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error)

	// Type returns the task type this handler serves.
	Type() queue.TaskType
}

// HandlerRegistry routes jobs to handlers by task type.
// Thread-safe for concurrent registration and lookup.
type HandlerRegistry struct {
	handlers map[queue.TaskType]JobHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[queue.TaskType]JobHandler),
	}
}

// Register adds a handler under its task type.
// Panics if a handler is already registered for that type.
func (r *HandlerRegistry) Register(handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	taskType := handler.Type()
	if _, exists := r.handlers[taskType]; exists {
		panic(fmt.Sprintf("handler already registered for task type: %s", taskType))
	}
	r.handlers[taskType] = handler
}

// Get retrieves the handler for a task type.
// Returns nil if no handler is registered.
func (r *HandlerRegistry) Get(taskType queue.TaskType) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[taskType]
}

// Has checks if a handler is registered for a task type.
func (r *HandlerRegistry) Has(taskType queue.TaskType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[taskType]
	return exists
}

// Types returns all registered task types.
func (r *HandlerRegistry) Types() []queue.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]queue.TaskType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
