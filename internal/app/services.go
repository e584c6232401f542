package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/processlog"
	"github.com/odyssey-erp/stockledger/internal/reconcile"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Services is the domain object graph shared by the server, worker and CLI.
type Services struct {
	Catalog     *catalog.Service
	Ledger      *ledger.Service
	Reconciler  *reconcile.Reconciler
	Idempotency *shared.IdempotencyStore
	sink        *processlog.FileSink
}

// ServiceParams groups infrastructure handles. Redis and Metrics are optional.
type ServiceParams struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

// BuildServices wires repositories, services and the reconciler.
func BuildServices(p ServiceParams) (*Services, error) {
	if p.Config == nil || p.Pool == nil {
		return nil, fmt.Errorf("app: config and pool are required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := p.Config.Isolation()

	catalogRepo := catalog.NewRepository(p.Pool, level)
	codes, err := catalog.NewCodeGenerator(catalogRepo, p.Config.CodePrefix)
	if err != nil {
		return nil, err
	}
	catalogService := catalog.NewService(catalogRepo, codes, logger)

	var metrics ledger.MetricsPort
	var batchMetrics reconcile.Metrics
	if p.Metrics != nil {
		metrics = p.Metrics
		batchMetrics = p.Metrics
	}
	idempotency := shared.NewIdempotencyStore(p.Pool)
	ledgerService := ledger.NewService(ledger.NewRepository(p.Pool, level), ledger.ServiceDeps{
		Audit:       shared.NewAuditLogger(p.Pool),
		Idempotency: idempotency,
		Metrics:     metrics,
		Logger:      logger,
	})

	sink, err := processlog.OpenFile(p.Config.ProcessLogPath)
	if err != nil {
		return nil, err
	}
	var locker reconcile.Locker = reconcile.NewLocalLocker()
	if p.Redis != nil {
		locker = reconcile.NewRedisLocker(p.Redis, p.Config.ReconcileLockTTL, logger)
	}
	reconciler := reconcile.NewReconciler(reconcile.Deps{
		Products:  catalogService,
		Movements: ledgerService,
		Sink:      sink,
		Locker:    locker,
		Metrics:   batchMetrics,
		Logger:    logger,
	}, reconcile.Config{
		ErrorCap:      p.Config.ReconcileErrorCap,
		RequireActive: p.Config.ReconcileRequireActive,
	})

	logger.Debug("services ready",
		slog.String("isolation", string(level)),
		slog.String("process_log", p.Config.ProcessLogPath),
		slog.Bool("redis_lock", p.Redis != nil))
	return &Services{
		Catalog:     catalogService,
		Ledger:      ledgerService,
		Reconciler:  reconciler,
		Idempotency: idempotency,
		sink:        sink,
	}, nil
}

// Close releases the process log.
func (s *Services) Close() error {
	if s == nil || s.sink == nil {
		return nil
	}
	return s.sink.Close()
}
