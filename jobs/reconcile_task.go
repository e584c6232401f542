package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/reconcile"
)

// ReconcileRunner runs one batch.
type ReconcileRunner interface {
	Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Summary, error)
}

// ReconcileJob processes TaskReconcile tasks.
type ReconcileJob struct {
	Runner  ReconcileRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(runner ReconcileRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle runs the batch carried by the task. Only lock contention is
// retried since a batch that reached the ledger must not be replayed.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Runner == nil {
		return errors.New("reconcile job: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("reconcile job: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("source", payload.Source),
		slog.String("direction", string(payload.Direction)),
	)
	start := time.Now()
	summary, err := j.Runner.Reconcile(ctx, reconcile.Request{
		Source:    payload.Source,
		Direction: payload.Direction,
		Input:     bytes.NewReader(payload.Data),
	})
	if errors.Is(err, reconcile.ErrBatchInProgress) {
		logger.Info("batch in progress, will retry")
		return err
	}
	if err != nil {
		logger.Error("reconcile task failed", slog.String("batch_id", summary.BatchID), slog.Any("error", err))
		return fmt.Errorf("reconcile job: %w: %w", err, asynq.SkipRetry)
	}
	logger.Info("reconcile task completed",
		slog.String("batch_id", summary.BatchID),
		slog.String("status", string(summary.Status)),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("processed", summary.Processed),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcile))
	}
	return slog.Default().With(slog.String("job", TaskReconcile))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
