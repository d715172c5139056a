package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
	"github.com/google/uuid"
)

// QuotaService provides quota ledger operations.
type QuotaService interface {
	// GetRemaining returns the quota rows for a user. When quotaType is
	// non-empty only that category is returned; otherwise all of the
	// user's rows are returned.
	// Returns ErrQuotaNotFound when a specific category was requested and
	// no row exists for it.
	GetRemaining(ctx context.Context, userID uuid.UUID, quotaType string) ([]*domain.UserQuota, error)

	// Consume atomically deducts amount from the user's budget for the
	// category and returns the new remaining value.
	// Returns ErrQuotaNotFound if no row exists for the pair and
	// ErrInsufficientQuota if the remaining budget cannot cover amount.
	Consume(ctx context.Context, userID uuid.UUID, quotaType string, amount int) (int, error)

	// EnsureDefaults provisions the ledger rows a user is entitled to,
	// seeding each missing category with its default total. Existing rows
	// are left untouched.
	EnsureDefaults(ctx context.Context, userID uuid.UUID) error
}

// QuotaServiceError wraps unexpected errors from the quota service with context.
type QuotaServiceError struct {
	// Operation is the operation that failed (e.g., "consume", "get_remaining")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for QuotaServiceError.
func (e *QuotaServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quota service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("quota service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *QuotaServiceError) Unwrap() error {
	return e.Err
}

// NewQuotaServiceError creates a new QuotaServiceError.
// It returns known sentinel errors directly without wrapping and maps
// store-level sentinels to their service-level equivalents.
func NewQuotaServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrQuotaNotFound) || errors.Is(err, ErrInsufficientQuota) {
		return err
	}

	if errors.Is(err, store.ErrQuotaNotFound) {
		return ErrQuotaNotFound
	}
	if errors.Is(err, store.ErrInsufficientQuota) {
		return ErrInsufficientQuota
	}

	return &QuotaServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// quotaServiceImpl implements the QuotaService interface
type quotaServiceImpl struct {
	quotaStore  store.QuotaStore
	db          *sql.DB // nil when the store has no SQL backend
	resetPeriod time.Duration
	logger      *slog.Logger
}

// NewQuotaService creates a new QuotaService.
// db is used to seed a user's ledger rows in a single transaction; it may be
// nil (in-memory stores), in which case rows are seeded one by one.
// resetPeriod is the budget window used when seeding new rows.
// It returns an error if quotaStore is nil.
func NewQuotaService(
	quotaStore store.QuotaStore,
	db *sql.DB,
	resetPeriod time.Duration,
	logger *slog.Logger,
) (QuotaService, error) {
	if quotaStore == nil {
		return nil, &QuotaServiceError{
			Operation: "create_service",
			Message:   "quotaStore cannot be nil",
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &quotaServiceImpl{
		quotaStore:  quotaStore,
		db:          db,
		resetPeriod: resetPeriod,
		logger:      logger.With("component", "quota_service"),
	}, nil
}

// GetRemaining returns one or all quota rows for the user. Each row is a
// consistent snapshot, so remaining = total - used never observes a torn
// write.
func (s *quotaServiceImpl) GetRemaining(
	ctx context.Context,
	userID uuid.UUID,
	quotaType string,
) ([]*domain.UserQuota, error) {
	if quotaType != "" {
		quota, err := s.quotaStore.GetByUserAndType(ctx, userID, quotaType)
		if err != nil {
			return nil, NewQuotaServiceError("get_remaining", "failed to retrieve quota", err)
		}
		return []*domain.UserQuota{quota}, nil
	}

	quotas, err := s.quotaStore.ListByUser(ctx, userID)
	if err != nil {
		return nil, NewQuotaServiceError("get_remaining", "failed to list quotas", err)
	}
	return quotas, nil
}

// Consume atomically deducts amount from the user's budget for the category.
// Under concurrent callers, exactly the deductions that fit succeed; the
// rest fail with ErrInsufficientQuota and leave the row untouched.
func (s *quotaServiceImpl) Consume(
	ctx context.Context,
	userID uuid.UUID,
	quotaType string,
	amount int,
) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: consume amount must be positive, got %d", domain.ErrValidation, amount)
	}

	remaining, err := s.quotaStore.Consume(ctx, userID, quotaType, amount)
	if err != nil {
		if !errors.Is(err, store.ErrInsufficientQuota) && !errors.Is(err, store.ErrQuotaNotFound) {
			s.logger.Error("failed to consume quota",
				"error", err,
				"user_id", userID,
				"quota_type", quotaType,
				"amount", amount)
		}
		return 0, NewQuotaServiceError("consume", "failed to consume quota", err)
	}

	s.logger.Info("quota consumed",
		"user_id", userID,
		"quota_type", quotaType,
		"amount", amount,
		"remaining", remaining)

	return remaining, nil
}

// EnsureDefaults provisions the user's ledger rows, seeding each missing
// category with its default total and a reset one period out. Rows that
// already exist are left untouched. With a SQL backend all rows are seeded
// in one transaction so a user is never left half-provisioned.
func (s *quotaServiceImpl) EnsureDefaults(ctx context.Context, userID uuid.UUID) error {
	if s.db != nil {
		return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			return s.seedDefaults(ctx, s.quotaStore.WithTx(tx), userID)
		})
	}

	return s.seedDefaults(ctx, s.quotaStore, userID)
}

func (s *quotaServiceImpl) seedDefaults(ctx context.Context, quotaStore store.QuotaStore, userID uuid.UUID) error {
	resetAt := time.Now().UTC().Add(s.resetPeriod)

	for quotaType, total := range domain.DefaultQuotaTotals {
		quota, err := domain.NewUserQuota(userID, quotaType, total, &resetAt)
		if err != nil {
			return NewQuotaServiceError("ensure_defaults", "failed to build quota row", err)
		}

		if err := quotaStore.Create(ctx, quota); err != nil {
			if errors.Is(err, store.ErrQuotaExists) {
				continue
			}
			return NewQuotaServiceError("ensure_defaults", "failed to seed quota row", err)
		}

		s.logger.Info("quota row seeded",
			"user_id", userID,
			"quota_type", quotaType,
			"total_quota", total)
	}

	return nil
}

var _ QuotaService = (*quotaServiceImpl)(nil)
