package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcile replays an uploaded CSV batch against the ledger.
	TaskReconcile = "stock:reconcile"
	// TaskIntegrity compares cached stock with ledger sums.
	TaskIntegrity = "stock:integrity"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"

	// reconcileMaxRetry only matters for lock contention; every other
	// failure is returned with asynq.SkipRetry.
	reconcileMaxRetry = 5
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReconcilePayload carries an uploaded batch.
type ReconcilePayload struct {
	Source     string           `json:"source"`
	Direction  ledger.Direction `json:"direction"`
	Data       []byte           `json:"data"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// NewReconcileTask constructs an Asynq task for batch reconciliation.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(reconcileMaxRetry)), nil
}

// IntegrityPayload carries scheduling metadata.
type IntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIntegrityTask constructs an Asynq task for the stock integrity check.
func NewIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// CleanupPayload carries scheduling metadata for key pruning.
type CleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIdempotencyCleanupTask constructs an Asynq task pruning idempotency keys.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
