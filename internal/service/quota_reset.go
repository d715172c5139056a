package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MRwang520a/pixelstudio-api/internal/store"
	"github.com/robfig/cron/v3"
)

// QuotaResetJob periodically zeroes the usage of quota rows whose reset
// timestamp has passed and advances the timestamp by one period. Reset is
// an explicit policy job; the ledger itself never resets on read.
type QuotaResetJob struct {
	quotaStore store.QuotaStore
	period     time.Duration
	cron       *cron.Cron
	logger     *slog.Logger
}

// NewQuotaResetJob creates a reset job that fires on the given cron
// schedule (standard five-field expressions and descriptors like "@hourly").
// period is how far each reset pushes a row's next reset timestamp.
func NewQuotaResetJob(
	quotaStore store.QuotaStore,
	schedule string,
	period time.Duration,
	logger *slog.Logger,
) (*QuotaResetJob, error) {
	if quotaStore == nil {
		return nil, &QuotaServiceError{
			Operation: "create_reset_job",
			Message:   "quotaStore cannot be nil",
		}
	}
	if period <= 0 {
		return nil, &QuotaServiceError{
			Operation: "create_reset_job",
			Message:   fmt.Sprintf("reset period must be positive, got %s", period),
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	job := &QuotaResetJob{
		quotaStore: quotaStore,
		period:     period,
		cron:       cron.New(),
		logger:     logger.With("component", "quota_reset_job"),
	}

	if _, err := job.cron.AddFunc(schedule, job.run); err != nil {
		return nil, &QuotaServiceError{
			Operation: "create_reset_job",
			Message:   fmt.Sprintf("invalid cron schedule %q", schedule),
			Err:       err,
		}
	}

	return job, nil
}

// Start begins firing the job on its schedule. It returns immediately.
func (j *QuotaResetJob) Start() {
	j.cron.Start()
	j.logger.Info("quota reset job started", "period", j.period)
}

// Stop halts the schedule and waits for any in-flight run to finish.
func (j *QuotaResetJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("quota reset job stopped")
}

// RunOnce performs a single reset sweep outside the schedule. Exposed so
// startup and tests can trigger a sweep deterministically.
func (j *QuotaResetJob) RunOnce(ctx context.Context) (int64, error) {
	reset, err := j.quotaStore.ResetExpired(ctx, time.Now().UTC(), j.period)
	if err != nil {
		return 0, NewQuotaServiceError("reset_expired", "failed to reset expired quotas", err)
	}
	return reset, nil
}

func (j *QuotaResetJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reset, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("quota reset sweep failed", "error", err)
		return
	}

	if reset > 0 {
		j.logger.Info("quota reset sweep completed", "rows_reset", reset)
	}
}
