// Package events provides a minimal in-process event system that decouples
// task creation in the service layer from dispatch.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskCreatedEvent announces that a task has been persisted in the pending
// state and is ready to be dispatched. It carries only identifiers; the
// store remains the single source of truth for task data.
type TaskCreatedEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// TaskID identifies the newly created task
	TaskID uuid.UUID `json:"task_id"`

	// TaskType is the task's type, for handler-side filtering
	TaskType string `json:"task_type"`

	// Payload contains optional event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskCreatedEvent creates a new TaskCreatedEvent for the given task.
func NewTaskCreatedEvent(taskID uuid.UUID, taskType string) *TaskCreatedEvent {
	return &TaskCreatedEvent{
		ID:        uuid.New(),
		TaskID:    taskID,
		TaskType:  taskType,
		CreatedAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskCreatedEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskCreatedEvent) error
}
