package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/reconcile"
)

var (
	discard  = slog.New(slog.NewTextHandler(io.Discard, nil))
	testTime = time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC)
)

type fakeRunner struct {
	req     reconcile.Request
	data    []byte
	summary reconcile.Summary
	err     error
}

func (f *fakeRunner) Reconcile(_ context.Context, req reconcile.Request) (reconcile.Summary, error) {
	f.req = req
	f.data, _ = io.ReadAll(req.Input)
	return f.summary, f.err
}

func reconcileTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewReconcileTask(ReconcilePayload{Source: "in.csv", Direction: ledger.DirectionIn, Data: []byte("masp,soluong\nSP-A1B2C,1\n")})
	require.NoError(t, err)
	return task
}

func TestReconcileTaskPayload(t *testing.T) {
	task := reconcileTask(t)
	require.Equal(t, TaskReconcile, task.Type())
	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, ledger.DirectionIn, payload.Direction)
}

func TestReconcileJobRunsBatch(t *testing.T) {
	runner := &fakeRunner{summary: reconcile.Summary{Status: reconcile.StatusCompleted, Processed: 1, Succeeded: 1}}
	job := NewReconcileJob(runner, discard, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), reconcileTask(t)))
	require.Equal(t, "in.csv", runner.req.Source)
	require.Equal(t, ledger.DirectionIn, runner.req.Direction)
	require.Equal(t, "masp,soluong\nSP-A1B2C,1\n", string(runner.data))
}

func TestReconcileJobRetryPolicy(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())

	busy := NewReconcileJob(&fakeRunner{err: reconcile.ErrBatchInProgress}, discard, metrics)
	err := busy.Handle(context.Background(), reconcileTask(t))
	require.ErrorIs(t, err, reconcile.ErrBatchInProgress)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	broken := NewReconcileJob(&fakeRunner{err: reconcile.ErrMissingRequiredColumn}, discard, metrics)
	require.ErrorIs(t, broken.Handle(context.Background(), reconcileTask(t)), asynq.SkipRetry)

	garbage := NewReconcileJob(&fakeRunner{}, discard, metrics)
	require.ErrorIs(t, garbage.Handle(context.Background(), asynq.NewTask(TaskReconcile, []byte("{"))), asynq.SkipRetry)
}

type fakeChecker struct {
	drifts []ledger.Drift
	err    error
}

func (f fakeChecker) CheckIntegrity(context.Context) ([]ledger.Drift, error) {
	return f.drifts, f.err
}

func TestIntegrityJob(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	checker := fakeChecker{drifts: []ledger.Drift{{ProductID: 7, Code: "SP-A1B2C", CachedStock: 5, LedgerStock: 4}}}
	task, err := NewIntegrityTask(testTime)
	require.NoError(t, err)

	job := NewIntegrityJob(checker, logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Contains(t, buf.String(), "stock drift detected")
	require.Contains(t, buf.String(), `"code":"SP-A1B2C"`)

	failing := NewIntegrityJob(fakeChecker{err: errors.New("db down")}, discard, nil)
	require.Error(t, failing.Handle(context.Background(), task))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, discard).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"archived":0}`, rr.Body.String())
}

func TestNewWorkerRejectsIncompleteHandler(t *testing.T) {
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{{Type: TaskReconcile}},
	})
	require.ErrorContains(t, err, TaskReconcile)
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	task, err := NewIntegrityTask(testTime)
	require.NoError(t, err)
	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Cron:      []CronRegistration{{Spec: "not a cron", Task: task}},
	})
	require.ErrorContains(t, err, "register cron")
}

func TestNilWorkerRun(t *testing.T) {
	var w *Worker
	require.Error(t, w.Run(context.Background()))
}

func TestNewClientRequiresAddr(t *testing.T) {
	_, err := NewClient(asynq.RedisClientOpt{})
	require.Error(t, err)
}

type fakePruner struct {
	olderThan time.Duration
	removed   int64
	err       error
}

func (f *fakePruner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.removed, f.err
}

func TestIdempotencyCleanupJob(t *testing.T) {
	task, err := NewIdempotencyCleanupTask(testTime)
	require.NoError(t, err)
	require.Equal(t, TaskIdempotencyCleanup, task.Type())

	var buf bytes.Buffer
	pruner := &fakePruner{removed: 12}
	job := NewIdempotencyCleanupJob(pruner, 48*time.Hour, slog.New(slog.NewJSONHandler(&buf, nil)), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, pruner.olderThan)
	require.Contains(t, buf.String(), `"removed":12`)

	defaulted := NewIdempotencyCleanupJob(&fakePruner{}, 0, discard, nil)
	require.Equal(t, DefaultIdempotencyRetention, defaulted.Retention)

	failing := NewIdempotencyCleanupJob(&fakePruner{err: errors.New("db down")}, time.Hour, discard, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.Error(t, failing.Handle(context.Background(), task))

	var unset *IdempotencyCleanupJob
	require.Error(t, unset.Handle(context.Background(), task))
}
