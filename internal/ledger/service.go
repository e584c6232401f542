package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	HasMovements(ctx context.Context, productID int64) (bool, error)
	StockDrift(ctx context.Context) ([]Drift, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, productID int64) (ProductState, error)
	UpdateStock(ctx context.Context, productID, stock int64, at time.Time) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort receives movement outcomes.
type MetricsPort interface {
	ObserveMovement(direction, result string)
}

// ErrTotalOverflow indicates quantity × unit price does not fit in int64.
var ErrTotalOverflow = httpx.Mark(httpx.ErrValidation, "ledger: movement total out of range")

const idempotencyModule = "ledger"

// Service coordinates stock movements.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     MetricsPort
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceDeps groups optional collaborators.
type ServiceDeps struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ApplyMovement atomically updates the product's cached stock and appends
// one ledger entry. On any error nothing is written.
func (s *Service) ApplyMovement(ctx context.Context, input MovementInput) (Result, error) {
	res, err := s.applyMovement(ctx, input)
	s.observe(input.Direction, err)
	return res, err
}

func (s *Service) applyMovement(ctx context.Context, input MovementInput) (Result, error) {
	if err := validateInput(input); err != nil {
		return Result{}, err
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	insertedKey := false
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return Result{}, err
		}
		insertedKey = true
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if input.RequireActive && product.Hidden {
			return fmt.Errorf("%w: %s", ErrProductHidden, product.Code)
		}
		unitPrice := input.UnitPrice
		if input.UseProductPrice {
			unitPrice = product.Price
		}
		total, err := MovementTotal(input.Quantity, unitPrice)
		if err != nil {
			return err
		}
		if input.Direction == DirectionOut && input.Quantity > product.Stock {
			return fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, product.Code, product.Stock, input.Quantity)
		}
		if input.Direction == DirectionIn && product.Stock > math.MaxInt64-input.Quantity {
			return fmt.Errorf("%w: stock would overflow", ErrInvalidQuantity)
		}
		newStock := product.Stock + input.Direction.Sign()*input.Quantity
		now := s.now()
		if err := tx.UpdateStock(ctx, product.ID, newStock, now); err != nil {
			return err
		}
		movement, err := tx.InsertMovement(ctx, Movement{
			ProductID: product.ID,
			Direction: input.Direction,
			Quantity:  input.Quantity,
			UnitPrice: unitPrice,
			Total:     total,
			Notes:     input.Notes,
			Actor:     input.Actor,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		result = Result{NewStock: newStock, Movement: movement}
		return nil
	})
	if err != nil {
		if insertedKey {
			if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		if !httpx.IsExpected(err) {
			s.logger.Error("apply movement failed",
				slog.Int64("product_id", input.ProductID),
				slog.String("direction", string(input.Direction)),
				slog.Any("error", err))
		}
		return Result{}, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   fmt.Sprintf("ledger:%s", input.Direction),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", result.Movement.ID),
			Meta: map[string]any{
				"product_id": input.ProductID,
				"quantity":   input.Quantity,
				"unit_price": result.Movement.UnitPrice,
				"new_stock":  result.NewStock,
			},
			At: result.Movement.CreatedAt,
		}); err != nil {
			s.logger.Warn("audit movement", slog.Any("error", err))
		}
	}
	return result, nil
}

func validateInput(input MovementInput) error {
	if !input.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, input.Direction)
	}
	if input.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if input.UseProductPrice {
		return validateProduct(input)
	}
	if input.UnitPrice < 0 {
		return ErrInvalidUnitPrice
	}
	if _, err := MovementTotal(input.Quantity, input.UnitPrice); err != nil {
		return err
	}
	return validateProduct(input)
}

func validateProduct(input MovementInput) error {
	if input.ProductID <= 0 {
		return ErrProductNotFound
	}
	return nil
}

func (s *Service) observe(direction Direction, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientStock):
		result = "insufficient_stock"
	case errors.Is(err, ErrProductNotFound):
		result = "not_found"
	case errors.Is(err, httpx.ErrValidation):
		result = "invalid"
	case errors.Is(err, httpx.ErrConflict):
		result = "conflict"
	default:
		result = "error"
	}
	s.metrics.ObserveMovement(string(direction), result)
}

// ListMovements lists ledger entries, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Direction != "" && !filter.Direction.Valid() {
		return nil, ErrInvalidDirection
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, httpx.Mark(httpx.ErrValidation, "ledger: from must not be after to")
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// HasMovements reports whether any ledger entry references the product.
func (s *Service) HasMovements(ctx context.Context, productID int64) (bool, error) {
	if productID <= 0 {
		return false, ErrProductNotFound
	}
	return s.repo.HasMovements(ctx, productID)
}

// CheckIntegrity returns every product whose cached stock differs from
// the sum of its ledger entries.
func (s *Service) CheckIntegrity(ctx context.Context) ([]Drift, error) {
	drift, err := s.repo.StockDrift(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: integrity check: %w", err)
	}
	return drift, nil
}
