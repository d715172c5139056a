package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for UserQuota.
var (
	ErrEmptyQuotaID     = errors.New("quota ID cannot be empty")
	ErrEmptyQuotaUserID = errors.New("quota user ID cannot be empty")
	ErrEmptyQuotaType   = errors.New("quota type cannot be empty")
	ErrNegativeQuota    = errors.New("quota counters cannot be negative")
	ErrQuotaOverdrawn   = errors.New("used quota cannot exceed total quota")
)

// DefaultQuotaTotals holds the seed budget for each quota category when a
// user's ledger rows are first provisioned. Quota categories mirror task
// types.
var DefaultQuotaTotals = map[string]int{
	string(TaskTypeMatting):    100,
	string(TaskTypeRetouch):    50,
	string(TaskTypeBackground): 50,
	string(TaskTypeDesigner):   30,
	string(TaskTypeUpscale):    100,
	string(TaskTypeTranslate):  50,
}

// UserQuota is one per-user, per-category consumption budget.
// The (UserID, QuotaType) pair is unique. The invariant
// 0 <= UsedQuota <= TotalQuota holds after every successful deduction.
type UserQuota struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	QuotaType  string     `json:"quota_type"`
	TotalQuota int        `json:"total_quota"`
	UsedQuota  int        `json:"used_quota"`
	ResetAt    *time.Time `json:"reset_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewUserQuota creates a quota row with a fresh UUID and zero usage.
// Returns an error if validation fails.
func NewUserQuota(userID uuid.UUID, quotaType string, total int, resetAt *time.Time) (*UserQuota, error) {
	now := time.Now().UTC()
	quota := &UserQuota{
		ID:         uuid.New(),
		UserID:     userID,
		QuotaType:  quotaType,
		TotalQuota: total,
		UsedQuota:  0,
		ResetAt:    resetAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := quota.Validate(); err != nil {
		return nil, err
	}

	return quota, nil
}

// Validate checks if the UserQuota has valid data.
func (q *UserQuota) Validate() error {
	if q.ID == uuid.Nil {
		return ErrEmptyQuotaID
	}

	if q.UserID == uuid.Nil {
		return ErrEmptyQuotaUserID
	}

	if q.QuotaType == "" {
		return ErrEmptyQuotaType
	}

	if q.TotalQuota < 0 || q.UsedQuota < 0 {
		return ErrNegativeQuota
	}

	if q.UsedQuota > q.TotalQuota {
		return ErrQuotaOverdrawn
	}

	return nil
}

// Remaining returns the remaining budget for this quota row.
func (q *UserQuota) Remaining() int {
	return q.TotalQuota - q.UsedQuota
}
