package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/jobs"
	_ "github.com/odyssey-erp/stockledger/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, pgx.ReadCommitted, cfg.Isolation())
	require.Equal(t, 5, cfg.ReconcileErrorCap)
	require.Equal(t, "SP", cfg.CodePrefix)
	require.Equal(t, slog.LevelInfo, cfg.Level())
	require.Equal(t, 1, cfg.WorkerConcurrency)
	require.Equal(t, "0 2 * * *", cfg.IntegrityCron)
	require.Equal(t, "30 3 * * *", cfg.IdempotencyCleanupCron)
	require.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)
	require.Equal(t, ":9091", cfg.WorkerMetricsAddr)
	require.False(t, cfg.ReconcileRequireActive)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LEDGER_ISOLATION", "Serializable")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RECONCILE_ERROR_CAP", "10")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, pgx.Serializable, cfg.Isolation())
	require.Equal(t, slog.LevelDebug, cfg.Level())
	require.Equal(t, 10, cfg.ReconcileErrorCap)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("LEDGER_ISOLATION", "snapshot")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "LEDGER_ISOLATION")

	t.Setenv("LEDGER_ISOLATION", "read_committed")
	t.Setenv("LOG_LEVEL", "loud")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "LOG_LEVEL")

	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("WORKER_CONCURRENCY", "0")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "WORKER_CONCURRENCY")

	t.Setenv("WORKER_CONCURRENCY", "2")
	t.Setenv("IDEMPOTENCY_RETENTION", "0s")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "IDEMPOTENCY_RETENTION")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CODE_PREFIX=WH\n"), 0o600))
	t.Setenv("CODE_PREFIX", "")
	require.NoError(t, os.Unsetenv("CODE_PREFIX"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "WH", cfg.CodePrefix)
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogFormat: "json", LogLevel: "warn"}
	require.NoError(t, cfg.validate())
	logger := newLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestTestModeEnabled(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}

func TestRouterServesHealthMetricsAndJobs(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:     &Config{RateLimitPerMinute: 100},
		JobHandler: jobs.NewHandler(nil, slog.Default()),
		Metrics:    metrics,
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rr.Header().Get("X-Ratelimit-Limit"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `stockledger_http_requests_total{code="200",route="/healthz"} 1`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

type driftChecker []ledger.Drift

func (d driftChecker) CheckIntegrity(context.Context) ([]ledger.Drift, error) {
	return d, nil
}

func TestWorkerRouterExposesJobMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	checker := driftChecker{
		{ProductID: 1, Code: "SP-A1B2C", CachedStock: 9, LedgerStock: 7},
		{ProductID: 2, Code: "SP-B2C3D", CachedStock: 0, LedgerStock: 1},
	}
	task, err := jobs.NewIntegrityTask(time.Now().UTC())
	require.NoError(t, err)
	job := jobs.NewIntegrityJob(checker, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.Jobs())
	require.NoError(t, job.Handle(context.Background(), task))

	router := NewWorkerRouter(metrics)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "stockledger_stock_drift_products 2")
	require.Contains(t, rr.Body.String(), `stockledger_jobs_total{job="stock:integrity",status="success"} 1`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
