package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
)

// QuotaStore defines the interface for the per-user, per-category quota
// ledger.
// Version: 1.0
type QuotaStore interface {
	// Create saves a new quota row to the store.
	// Returns ErrQuotaExists if a row for the (user, quotaType) pair
	// already exists.
	Create(ctx context.Context, quota *domain.UserQuota) error

	// GetByUserAndType retrieves the quota row for one (user, quotaType)
	// pair as a single consistent snapshot.
	// Returns ErrQuotaNotFound if no row exists.
	GetByUserAndType(ctx context.Context, userID uuid.UUID, quotaType string) (*domain.UserQuota, error)

	// ListByUser retrieves all quota rows for the user. Each row is a
	// consistent snapshot; remaining = total - used never observes a torn
	// write.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserQuota, error)

	// Consume atomically deducts amount from the row's remaining budget
	// and returns the new remaining value. Under concurrent callers for
	// the same pair, exactly the deductions that fit are applied; the
	// rest fail with ErrInsufficientQuota and leave the row untouched.
	// Returns ErrQuotaNotFound if no row exists for the pair.
	Consume(ctx context.Context, userID uuid.UUID, quotaType string, amount int) (remaining int, err error)

	// ResetExpired zeroes UsedQuota on every row whose ResetAt has passed
	// and advances ResetAt by period. Returns the number of rows reset.
	// Reset is a periodic policy job, never a side effect of reads.
	ResetExpired(ctx context.Context, now time.Time, period time.Duration) (int64, error)

	// WithTx returns a new QuotaStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) QuotaStore
}
