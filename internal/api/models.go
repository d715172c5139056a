package api

import (
	"time"

	"github.com/MRwang520a/pixelstudio-api/internal/domain"
)

// Common request/response structures

// CreateTaskRequest defines the payload for the task creation endpoint.
// inputRef is validated per task type by the domain layer, so it has no
// required tag here.
type CreateTaskRequest struct {
	TaskType   string        `json:"task_type"  validate:"required"`
	InputRef   string        `json:"input_ref"`
	Parameters domain.Params `json:"parameters"`
}

// TaskResponse represents the response data for a single task.
type TaskResponse struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	TaskType     string        `json:"task_type"`
	Status       string        `json:"status"`
	InputRef     string        `json:"input_ref,omitempty"`
	OutputRef    string        `json:"output_ref,omitempty"`
	Parameters   domain.Params `json:"parameters,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// TaskListResponse wraps a page of tasks with the total match count.
type TaskListResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ConsumeQuotaRequest defines the payload for the quota consumption endpoint.
type ConsumeQuotaRequest struct {
	QuotaType string `json:"quota_type" validate:"required"`
	Amount    int    `json:"amount"     validate:"required,gt=0"`
}

// ConsumeQuotaResponse reports the remaining budget after a deduction.
type ConsumeQuotaResponse struct {
	QuotaType string `json:"quota_type"`
	Remaining int    `json:"remaining"`
}

// QuotaResponse represents the response data for one quota category.
type QuotaResponse struct {
	QuotaType  string     `json:"quota_type"`
	TotalQuota int        `json:"total_quota"`
	UsedQuota  int        `json:"used_quota"`
	Remaining  int        `json:"remaining"`
	ResetAt    *time.Time `json:"reset_at,omitempty"`
}

// QuotaListResponse wraps the user's quota categories.
type QuotaListResponse struct {
	Quotas []QuotaResponse `json:"quotas"`
}

// taskToResponse converts a domain.Task to a TaskResponse.
func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID.String(),
		UserID:       t.UserID.String(),
		TaskType:     string(t.Type),
		Status:       string(t.Status),
		InputRef:     t.InputRef,
		OutputRef:    t.OutputRef,
		Parameters:   t.Parameters,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

// quotaToResponse converts a domain.UserQuota to a QuotaResponse.
func quotaToResponse(q *domain.UserQuota) QuotaResponse {
	return QuotaResponse{
		QuotaType:  q.QuotaType,
		TotalQuota: q.TotalQuota,
		UsedQuota:  q.UsedQuota,
		Remaining:  q.Remaining(),
		ResetAt:    q.ResetAt,
	}
}
