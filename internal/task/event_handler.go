package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MRwang520a/pixelstudio-api/internal/events"
	"github.com/google/uuid"
)

// TaskRunner is the narrow submission surface the event handler needs from
// the dispatcher.
type TaskRunner interface {
	Submit(ctx context.Context, taskID uuid.UUID) error
}

// DispatchEventHandler forwards TaskCreatedEvents to the dispatcher queue.
// It implements events.EventHandler.
type DispatchEventHandler struct {
	runner TaskRunner
	logger *slog.Logger
}

// NewDispatchEventHandler creates a handler that submits created tasks to
// the given runner.
func NewDispatchEventHandler(runner TaskRunner, logger *slog.Logger) (*DispatchEventHandler, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DispatchEventHandler{
		runner: runner,
		logger: logger.With("component", "dispatch_event_handler"),
	}, nil
}

// HandleEvent submits the event's task to the dispatcher. A full queue is
// reported back to the emitter; the recovery sweep will pick the task up
// later since it is already persisted as pending.
func (h *DispatchEventHandler) HandleEvent(ctx context.Context, event *events.TaskCreatedEvent) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	if err := h.runner.Submit(ctx, event.TaskID); err != nil {
		h.logger.Warn("failed to submit task for dispatch",
			"error", err,
			"task_id", event.TaskID,
			"event_id", event.ID)
		return fmt.Errorf("failed to submit task %s: %w", event.TaskID, err)
	}

	h.logger.Debug("task submitted for dispatch",
		"task_id", event.TaskID,
		"task_type", event.TaskType)
	return nil
}

var _ events.EventHandler = (*DispatchEventHandler)(nil)
