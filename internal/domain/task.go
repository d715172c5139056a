package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies one of the supported image-transformation operations.
type TaskType string

// Supported task types.
const (
	TaskTypeMatting    TaskType = "matting"
	TaskTypeRetouch    TaskType = "retouch"
	TaskTypeBackground TaskType = "background"
	TaskTypeDesigner   TaskType = "designer"
	TaskTypeUpscale    TaskType = "upscale"
	TaskTypeTranslate  TaskType = "translate"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Params is the open, type-dependent task payload. Result metadata produced
// by the processor (e.g. extracted text for translate tasks) is merged into
// it on completion.
type Params map[string]any

// Common validation errors for Task.
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyTaskUserID   = errors.New("task user ID cannot be empty")
	ErrInvalidTaskType   = errors.New("invalid task type")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrMissingInputRef   = errors.New("input image reference is required for this task type")
)

// Task represents one unit of requested image work with its own lifecycle.
// Status transitions are pending -> processing -> {completed, failed};
// completed and failed are terminal.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Type         TaskType   `json:"task_type"`
	Status       TaskStatus `json:"status"`
	InputRef     string     `json:"input_ref,omitempty"`
	OutputRef    string     `json:"output_ref,omitempty"`
	Parameters   Params     `json:"parameters,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a new Task in the pending state with a fresh UUID.
// Returns an error if validation fails, including a missing inputRef for
// task types that require one.
func NewTask(userID uuid.UUID, taskType TaskType, inputRef string, parameters Params) (*Task, error) {
	task := &Task{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       taskType,
		Status:     TaskStatusPending,
		InputRef:   inputRef,
		Parameters: parameters,
		CreatedAt:  time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.UserID == uuid.Nil {
		return ErrEmptyTaskUserID
	}

	if !IsValidTaskType(t.Type) {
		return ErrInvalidTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.Type.RequiresInputRef() && t.InputRef == "" {
		return ErrMissingInputRef
	}

	return nil
}

// IsTerminal reports whether the task has reached a terminal state.
// Terminal tasks never transition again.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// RequiresInputRef reports whether the task type requires a source image.
// All types except designer operate on an existing image.
func (tt TaskType) RequiresInputRef() bool {
	return tt != TaskTypeDesigner
}

// RequiresPrompt reports whether the task type requires a "prompt" parameter.
// The prompt lives inside the open parameters payload, so its absence is
// only detected at dispatch time, not at creation.
func (tt TaskType) RequiresPrompt() bool {
	return tt == TaskTypeBackground || tt == TaskTypeDesigner
}

// IsValidTaskType checks if the given type is one of the supported task types.
func IsValidTaskType(tt TaskType) bool {
	switch tt {
	case TaskTypeMatting, TaskTypeRetouch, TaskTypeBackground,
		TaskTypeDesigner, TaskTypeUpscale, TaskTypeTranslate:
		return true
	default:
		return false
	}
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsValidTaskStatus checks if the given status is a valid TaskStatus.
// Exported for request validation in the transport layer.
func IsValidTaskStatus(status TaskStatus) bool {
	return isValidTaskStatus(status)
}

// Prompt extracts the "prompt" parameter, if present and non-empty.
func (p Params) Prompt() (string, bool) {
	v, ok := p["prompt"].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Merge returns a copy of p with the entries of other applied on top.
// A nil receiver is treated as an empty payload.
func (p Params) Merge(other Params) Params {
	if len(other) == 0 {
		return p
	}
	merged := make(Params, len(p)+len(other))
	for k, v := range p {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
