package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// IntegrityChecker reports products whose cached stock disagrees with the ledger.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]ledger.Drift, error)
}

// IntegrityJob processes TaskIntegrity tasks.
type IntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityJob initialises the integrity handler.
func NewIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle runs the integrity check. Drift is reported, never repaired.
func (j *IntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Checker == nil {
		return errors.New("integrity job: handler not configured")
	}
	logger := slog.Default()
	if j.Logger != nil {
		logger = j.Logger
	}
	logger = logger.With(slog.String("job", TaskIntegrity))
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}

	tracker := metrics.Track(TaskIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	drifts, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("integrity check failed", slog.Any("error", err))
		return err
	}
	for _, d := range drifts {
		logger.Warn("stock drift detected",
			slog.Int64("product_id", d.ProductID),
			slog.String("code", d.Code),
			slog.Int64("cached_stock", d.CachedStock),
			slog.Int64("ledger_stock", d.LedgerStock),
		)
	}
	metrics.SetDrift(len(drifts))
	logger.Info("integrity check executed", slog.Int("drifted", len(drifts)))
	return nil
}
