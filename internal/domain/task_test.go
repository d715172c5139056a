package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewTask(t *testing.T) {
	t.Parallel() // Enable parallel execution
	userID := uuid.New()

	task, err := NewTask(userID, TaskTypeMatting, "images/input-1.png", Params{"feather": 2})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if task.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if task.UserID != userID {
		t.Errorf("Expected user ID %s, got %s", userID, task.UserID)
	}

	if task.Status != TaskStatusPending {
		t.Errorf("Expected status %s, got %s", TaskStatusPending, task.Status)
	}

	if task.InputRef != "images/input-1.png" {
		t.Errorf("Expected input ref images/input-1.png, got %s", task.InputRef)
	}

	if task.CreatedAt.IsZero() {
		t.Error("Expected non-zero CreatedAt time")
	}

	if task.CompletedAt != nil {
		t.Error("Expected nil CompletedAt on a new task")
	}

	// Test invalid userID
	_, err = NewTask(uuid.Nil, TaskTypeMatting, "images/input-1.png", nil)
	if !errors.Is(err, ErrEmptyTaskUserID) {
		t.Errorf("Expected error %v, got %v", ErrEmptyTaskUserID, err)
	}

	// Test invalid task type
	_, err = NewTask(userID, TaskType("collage"), "images/input-1.png", nil)
	if !errors.Is(err, ErrInvalidTaskType) {
		t.Errorf("Expected error %v, got %v", ErrInvalidTaskType, err)
	}
}

func TestNewTaskInputRefRequirement(t *testing.T) {
	t.Parallel()
	userID := uuid.New()

	// Every type except designer requires a source image.
	for _, taskType := range []TaskType{
		TaskTypeMatting, TaskTypeRetouch, TaskTypeBackground,
		TaskTypeUpscale, TaskTypeTranslate,
	} {
		_, err := NewTask(userID, taskType, "", nil)
		if !errors.Is(err, ErrMissingInputRef) {
			t.Errorf("%s: expected ErrMissingInputRef for empty input ref, got %v", taskType, err)
		}
	}

	// Designer generates an image from scratch, no input needed.
	task, err := NewTask(userID, TaskTypeDesigner, "", Params{"prompt": "a red bicycle"})
	if err != nil {
		t.Fatalf("Expected designer task without input ref to be valid, got %v", err)
	}
	if task.InputRef != "" {
		t.Errorf("Expected empty input ref, got %s", task.InputRef)
	}
}

func TestTaskIsTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusProcessing, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tc := range cases {
		task := Task{Status: tc.status}
		if task.IsTerminal() != tc.terminal {
			t.Errorf("status %s: expected IsTerminal=%v", tc.status, tc.terminal)
		}
	}
}

func TestTaskTypeRequiresPrompt(t *testing.T) {
	t.Parallel()

	for _, taskType := range []TaskType{TaskTypeBackground, TaskTypeDesigner} {
		if !taskType.RequiresPrompt() {
			t.Errorf("%s: expected RequiresPrompt true", taskType)
		}
	}

	for _, taskType := range []TaskType{
		TaskTypeMatting, TaskTypeRetouch, TaskTypeUpscale, TaskTypeTranslate,
	} {
		if taskType.RequiresPrompt() {
			t.Errorf("%s: expected RequiresPrompt false", taskType)
		}
	}
}

func TestParamsPrompt(t *testing.T) {
	t.Parallel()

	if _, ok := Params(nil).Prompt(); ok {
		t.Error("Expected no prompt on nil params")
	}

	if _, ok := (Params{"prompt": ""}).Prompt(); ok {
		t.Error("Expected empty prompt to be treated as absent")
	}

	if _, ok := (Params{"prompt": 42}).Prompt(); ok {
		t.Error("Expected non-string prompt to be treated as absent")
	}

	prompt, ok := (Params{"prompt": "sunset beach"}).Prompt()
	if !ok || prompt != "sunset beach" {
		t.Errorf("Expected prompt %q, got %q (ok=%v)", "sunset beach", prompt, ok)
	}
}

func TestParamsMerge(t *testing.T) {
	t.Parallel()

	base := Params{"scale": 2, "prompt": "old"}
	merged := base.Merge(Params{"prompt": "new", "originalText": "hola"})

	if merged["scale"] != 2 {
		t.Errorf("Expected scale 2 preserved, got %v", merged["scale"])
	}
	if merged["prompt"] != "new" {
		t.Errorf("Expected prompt overwritten, got %v", merged["prompt"])
	}
	if merged["originalText"] != "hola" {
		t.Errorf("Expected originalText merged in, got %v", merged["originalText"])
	}

	// Merging into nil params still works.
	out := Params(nil).Merge(Params{"a": 1})
	if out["a"] != 1 {
		t.Errorf("Expected merge into nil params to carry values, got %v", out)
	}
}

func TestTaskValidateStatus(t *testing.T) {
	t.Parallel()

	task := Task{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Type:     TaskTypeUpscale,
		Status:   TaskStatus("archived"),
		InputRef: "images/x.png",
	}

	if err := task.Validate(); !errors.Is(err, ErrInvalidTaskStatus) {
		t.Errorf("Expected ErrInvalidTaskStatus, got %v", err)
	}
}
