package memory

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
)

// quotaKey identifies one ledger row.
type quotaKey struct {
	userID    uuid.UUID
	quotaType string
}

// QuotaStore is a mutex-guarded, map-backed implementation of
// store.QuotaStore. Consume performs its check and deduction under a single
// lock acquisition, so concurrent deductions for the same pair serialize and
// 0 <= used <= total holds after every call.
type QuotaStore struct {
	mu     sync.RWMutex
	quotas map[quotaKey]*domain.UserQuota
}

// NewQuotaStore creates an empty in-memory quota store.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{
		quotas: make(map[quotaKey]*domain.UserQuota),
	}
}

// Ensure QuotaStore implements store.QuotaStore.
var _ store.QuotaStore = (*QuotaStore)(nil)

// Create implements store.QuotaStore.Create.
func (s *QuotaStore) Create(ctx context.Context, quota *domain.UserQuota) error {
	if err := quota.Validate(); err != nil {
		return err
	}

	key := quotaKey{userID: quota.UserID, quotaType: quota.QuotaType}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.quotas[key]; exists {
		return store.ErrQuotaExists
	}

	s.quotas[key] = copyQuota(quota)
	return nil
}

// GetByUserAndType implements store.QuotaStore.GetByUserAndType.
func (s *QuotaStore) GetByUserAndType(
	ctx context.Context,
	userID uuid.UUID,
	quotaType string,
) (*domain.UserQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quota, ok := s.quotas[quotaKey{userID: userID, quotaType: quotaType}]
	if !ok {
		return nil, store.ErrQuotaNotFound
	}

	return copyQuota(quota), nil
}

// ListByUser implements store.QuotaStore.ListByUser.
func (s *QuotaStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotas := make([]*domain.UserQuota, 0)
	for key, quota := range s.quotas {
		if key.userID == userID {
			quotas = append(quotas, copyQuota(quota))
		}
	}

	return quotas, nil
}

// Consume implements store.QuotaStore.Consume. The remaining-balance check
// and the deduction are a single critical section, so under N concurrent
// calls whose amounts exceed the remainder, exactly the calls that fit
// succeed and the rest fail with no partial deduction.
func (s *QuotaStore) Consume(
	ctx context.Context,
	userID uuid.UUID,
	quotaType string,
	amount int,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quota, ok := s.quotas[quotaKey{userID: userID, quotaType: quotaType}]
	if !ok {
		return 0, store.ErrQuotaNotFound
	}

	if quota.Remaining() < amount {
		return 0, store.ErrInsufficientQuota
	}

	quota.UsedQuota += amount
	quota.UpdatedAt = time.Now().UTC()

	return quota.Remaining(), nil
}

// ResetExpired implements store.QuotaStore.ResetExpired.
func (s *QuotaStore) ResetExpired(ctx context.Context, now time.Time, period time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reset int64
	for _, quota := range s.quotas {
		if quota.ResetAt == nil || quota.ResetAt.After(now) {
			continue
		}
		quota.UsedQuota = 0
		next := now.Add(period).UTC()
		quota.ResetAt = &next
		quota.UpdatedAt = now.UTC()
		reset++
	}

	return reset, nil
}

// WithTx implements store.QuotaStore.WithTx. The in-memory store has no
// transaction support; it returns the same store.
func (s *QuotaStore) WithTx(tx *sql.Tx) store.QuotaStore {
	return s
}

func copyQuota(q *domain.UserQuota) *domain.UserQuota {
	clone := *q
	if q.ResetAt != nil {
		resetAt := *q.ResetAt
		clone.ResetAt = &resetAt
	}
	return &clone
}
