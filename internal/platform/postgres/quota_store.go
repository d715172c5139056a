package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/MRwang520a/pixelstudio-api/internal/domain"
	"github.com/MRwang520a/pixelstudio-api/internal/platform/logger"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
)

// PostgreSQL error codes
const pgUniqueViolationCode = "23505"

// PostgresQuotaStore implements the store.QuotaStore interface
// using a PostgreSQL database as the storage backend. Atomicity of Consume
// rests on a single UPDATE whose WHERE clause re-checks the budget, so
// concurrent deductions for the same (user, quotaType) pair serialize on the
// row lock and the invariant used <= total holds after every call.
type PostgresQuotaStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresQuotaStore creates a new PostgreSQL implementation of the QuotaStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresQuotaStore(db store.DBTX, logger *slog.Logger) *PostgresQuotaStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresQuotaStore{
		db:     db,
		logger: logger.With(slog.String("component", "quota_store")),
	}
}

// Ensure PostgresQuotaStore implements store.QuotaStore interface
var _ store.QuotaStore = (*PostgresQuotaStore)(nil)

// Create implements store.QuotaStore.Create
// Returns store.ErrQuotaExists when a row for the (user, quotaType) pair
// already exists (unique constraint violation).
func (s *PostgresQuotaStore) Create(ctx context.Context, quota *domain.UserQuota) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := quota.Validate(); err != nil {
		log.Warn("quota validation failed during create",
			slog.String("error", err.Error()),
			slog.String("quota_id", quota.ID.String()))
		return err
	}

	query := `
		INSERT INTO user_quotas (id, user_id, quota_type, total_quota, used_quota, reset_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		quota.ID,
		quota.UserID,
		quota.QuotaType,
		quota.TotalQuota,
		quota.UsedQuota,
		quota.ResetAt,
		quota.CreatedAt,
		quota.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			log.Warn("duplicate quota row",
				slog.String("user_id", quota.UserID.String()),
				slog.String("quota_type", quota.QuotaType))
			return store.ErrQuotaExists
		}

		log.Error("failed to create quota",
			slog.String("error", err.Error()),
			slog.String("quota_id", quota.ID.String()),
			slog.String("user_id", quota.UserID.String()))
		return store.NewStoreError("quota", "create", "insert failed", err)
	}

	log.Info("quota created successfully",
		slog.String("quota_id", quota.ID.String()),
		slog.String("user_id", quota.UserID.String()),
		slog.String("quota_type", quota.QuotaType))
	return nil
}

// GetByUserAndType implements store.QuotaStore.GetByUserAndType
// Returns store.ErrQuotaNotFound if no row exists for the pair.
func (s *PostgresQuotaStore) GetByUserAndType(
	ctx context.Context,
	userID uuid.UUID,
	quotaType string,
) (*domain.UserQuota, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, user_id, quota_type, total_quota, used_quota, reset_at, created_at, updated_at
		FROM user_quotas
		WHERE user_id = $1 AND quota_type = $2
	`

	quota, err := scanQuota(s.db.QueryRowContext(ctx, query, userID, quotaType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("quota not found",
				slog.String("user_id", userID.String()),
				slog.String("quota_type", quotaType))
			return nil, store.ErrQuotaNotFound
		}
		log.Error("failed to get quota",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()),
			slog.String("quota_type", quotaType))
		return nil, store.NewStoreError("quota", "get_by_user_and_type", "query failed", err)
	}

	return quota, nil
}

// ListByUser implements store.QuotaStore.ListByUser
func (s *PostgresQuotaStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserQuota, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, user_id, quota_type, total_quota, used_quota, reset_at, created_at, updated_at
		FROM user_quotas
		WHERE user_id = $1
		ORDER BY quota_type ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		log.Error("failed to list quotas by user",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, store.NewStoreError("quota", "list_by_user", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	quotas := make([]*domain.UserQuota, 0)
	for rows.Next() {
		quota, err := scanQuota(rows)
		if err != nil {
			return nil, err
		}
		quotas = append(quotas, quota)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return quotas, nil
}

// Consume implements store.QuotaStore.Consume
// The budget re-check lives inside the UPDATE's WHERE clause, so the
// deduction is atomic: a call that would overdraw matches zero rows and the
// ledger is left untouched.
func (s *PostgresQuotaStore) Consume(
	ctx context.Context,
	userID uuid.UUID,
	quotaType string,
	amount int,
) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE user_quotas
		SET used_quota = used_quota + $1, updated_at = $2
		WHERE user_id = $3 AND quota_type = $4 AND used_quota + $1 <= total_quota
		RETURNING total_quota - used_quota
	`

	var remaining int
	err := s.db.QueryRowContext(ctx, query, amount, time.Now().UTC(), userID, quotaType).
		Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the row does not exist or the deduction would
			// overdraw it. Distinguish for the caller.
			var exists bool
			checkErr := s.db.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM user_quotas WHERE user_id = $1 AND quota_type = $2)`,
				userID, quotaType).Scan(&exists)
			if checkErr != nil {
				return 0, store.NewStoreError("quota", "consume", "existence check failed", checkErr)
			}
			if !exists {
				return 0, store.ErrQuotaNotFound
			}

			log.Debug("quota deduction rejected",
				slog.String("user_id", userID.String()),
				slog.String("quota_type", quotaType),
				slog.Int("amount", amount))
			return 0, store.ErrInsufficientQuota
		}

		log.Error("failed to consume quota",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()),
			slog.String("quota_type", quotaType))
		return 0, store.NewStoreError("quota", "consume", "update failed", err)
	}

	log.Info("quota consumed",
		slog.String("user_id", userID.String()),
		slog.String("quota_type", quotaType),
		slog.Int("amount", amount),
		slog.Int("remaining", remaining))
	return remaining, nil
}

// ResetExpired implements store.QuotaStore.ResetExpired
func (s *PostgresQuotaStore) ResetExpired(
	ctx context.Context,
	now time.Time,
	period time.Duration,
) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE user_quotas
		SET used_quota = 0, reset_at = $1, updated_at = $2
		WHERE reset_at IS NOT NULL AND reset_at <= $3
	`

	result, err := s.db.ExecContext(ctx, query, now.Add(period).UTC(), now.UTC(), now.UTC())
	if err != nil {
		log.Error("failed to reset expired quotas", slog.String("error", err.Error()))
		return 0, store.NewStoreError("quota", "reset_expired", "update failed", err)
	}

	reset, err := result.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("quota", "reset_expired", "failed to get rows affected", err)
	}

	if reset > 0 {
		log.Info("reset expired quotas", slog.Int64("rows", reset))
	}
	return reset, nil
}

// WithTx implements store.QuotaStore.WithTx
func (s *PostgresQuotaStore) WithTx(tx *sql.Tx) store.QuotaStore {
	return &PostgresQuotaStore{
		db:     tx,
		logger: s.logger,
	}
}

func scanQuota(row rowScanner) (*domain.UserQuota, error) {
	var quota domain.UserQuota
	var resetAt sql.NullTime

	err := row.Scan(
		&quota.ID,
		&quota.UserID,
		&quota.QuotaType,
		&quota.TotalQuota,
		&quota.UsedQuota,
		&resetAt,
		&quota.CreatedAt,
		&quota.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if resetAt.Valid {
		t := resetAt.Time
		quota.ResetAt = &t
	}

	return &quota, nil
}
