package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MRwang520a/pixelstudio-api/internal/api/shared"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/service"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	taskService  service.TaskService
	quotaService service.QuotaService
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(taskService service.TaskService, quotaService service.QuotaService) *TaskHandler {
	return &TaskHandler{
		taskService:  taskService,
		quotaService: quotaService,
	}
}

// CreateTask handles POST /api/tasks requests.
// Quota is settled before the task is created: one unit of the task type's
// category is deducted, and only then is the task inserted and queued for
// dispatch. Processing happens asynchronously, so success is 202 Accepted.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(shared.UserIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		respondServiceError(w, r, domain.ErrUnauthorized)
		return
	}

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	taskType := domain.TaskType(req.TaskType)
	if !domain.IsValidTaskType(taskType) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type: "+req.TaskType)
		return
	}

	// Reject obviously invalid requests before touching the ledger, so a
	// validation failure never costs quota.
	if taskType.RequiresInputRef() && req.InputRef == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "input_ref is required for this task type")
		return
	}

	if _, err := h.quotaService.Consume(r.Context(), userID, string(taskType), 1); err != nil {
		respondServiceError(w, r, err)
		return
	}

	task, err := h.taskService.CreateTask(r.Context(), userID, taskType, req.InputRef, req.Parameters)
	if err != nil {
		// Quota is already deducted at this point; the client may retry.
		respondServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(task))
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(shared.UserIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		respondServiceError(w, r, domain.ErrUnauthorized)
		return
	}

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.taskService.GetTask(r.Context(), userID, taskID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// ListTasks handles GET /api/tasks requests. Supported query parameters:
// status, task_type, limit, offset.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(shared.UserIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		respondServiceError(w, r, domain.ErrUnauthorized)
		return
	}

	var filter store.TaskFilter
	if v := r.URL.Query().Get("task_type"); v != "" {
		taskType := domain.TaskType(v)
		if !domain.IsValidTaskType(taskType) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type: "+v)
			return
		}
		filter.Type = &taskType
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.TaskStatus(v)
		if !domain.IsValidTaskStatus(status) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown status: "+v)
			return
		}
		filter.Status = &status
	}

	limit := parseIntParam(r, "limit", 0)
	offset := parseIntParam(r, "offset", 0)

	tasks, total, err := h.taskService.ListTasks(r.Context(), userID, filter, limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	items := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, taskToResponse(t))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks:  items,
		Total:  total,
		Limit:  service.ClampListLimit(limit),
		Offset: max(offset, 0),
	})
}

// CancelTask handles POST /api/tasks/{id}/cancel requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(shared.UserIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		respondServiceError(w, r, domain.ErrUnauthorized)
		return
	}

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	if err := h.taskService.CancelTask(r.Context(), userID, taskID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	task, err := h.taskService.GetTask(r.Context(), userID, taskID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// parseIntParam reads an integer query parameter, returning fallback when
// absent or malformed.
func parseIntParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
