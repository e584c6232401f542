package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const (
	maxCreateAttempts = 3
	defaultPerPage    = 50
	maxPerPage        = 200
)

// Service owns the product lifecycle.
type Service struct {
	repo      Repository
	codes     *CodeGenerator
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo Repository, codes *CodeGenerator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		codes:     codes,
		validator: newValidator(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateProduct validates input, assigns a fresh code and stores the product.
// Opening stock is recorded as an inbound ledger entry in the same transaction.
func (s *Service) CreateProduct(ctx context.Context, input CreateInput) (Product, error) {
	input = normalizeCreate(input)
	if err := s.validate(input); err != nil {
		return Product{}, err
	}
	if _, err := ledger.MovementTotal(input.OpeningStock, input.Price); err != nil {
		return Product{}, &ValidationError{Fields: map[string]string{
			"opening_stock": "opening value (opening_stock × price) is out of range",
		}}
	}
	for attempt := 1; ; attempt++ {
		code, err := s.codes.Generate(ctx)
		if err != nil {
			if errors.Is(err, ErrGenerationExhausted) {
				s.logger.Warn("product code generation exhausted")
			}
			return Product{}, err
		}
		now := s.now()
		product := Product{
			Code:        code,
			Name:        input.Name,
			Description: input.Description,
			Unit:        input.Unit,
			Price:       input.Price,
			Stock:       input.OpeningStock,
			Status:      StatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		var opening *ledger.Movement
		if input.OpeningStock > 0 {
			m, err := ledger.NewOpeningMovement(0, input.OpeningStock, input.Price, now)
			if err != nil {
				return Product{}, err
			}
			opening = &m
		}
		created, err := s.repo.Create(ctx, product, opening)
		if errors.Is(err, ErrDuplicateCode) && attempt < maxCreateAttempts {
			// lost a race with a concurrent create between check and insert
			continue
		}
		if err != nil {
			return Product{}, err
		}
		s.logger.Info("product created",
			slog.Int64("product_id", created.ID),
			slog.String("code", created.Code),
			slog.Int64("opening_stock", created.Stock))
		return created, nil
	}
}

// EditProduct updates descriptive fields and price. Stock and code are untouched.
func (s *Service) EditProduct(ctx context.Context, id int64, input EditInput) error {
	if id <= 0 {
		return ErrProductNotFound
	}
	input = normalizeEdit(input)
	if err := s.validate(input); err != nil {
		return err
	}
	return s.repo.UpdateDetails(ctx, id, input, s.now())
}

// HideProduct soft-deletes the product.
func (s *Service) HideProduct(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, StatusHidden)
}

// RestoreProduct makes a hidden product active again.
func (s *Service) RestoreProduct(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, StatusActive)
}

func (s *Service) setStatus(ctx context.Context, id int64, status Status) error {
	if id <= 0 {
		return ErrProductNotFound
	}
	if err := s.repo.SetStatus(ctx, id, status, s.now()); err != nil {
		return err
	}
	s.logger.Info("product status changed", slog.Int64("product_id", id), slog.String("status", string(status)))
	return nil
}

// Get returns a product by id, hidden included.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, ErrProductNotFound
	}
	return s.repo.Get(ctx, id)
}

// GetByCode returns a product by code, hidden included. Lookup is
// case-insensitive since codes are stored upper case.
func (s *Service) GetByCode(ctx context.Context, code string) (Product, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Product{}, ErrProductNotFound
	}
	return s.repo.GetByCode(ctx, code)
}

// List returns a page of products with the pagination actually applied.
// PerPage defaults to 50 and is capped at 200.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, shared.Pagination, error) {
	if filter.PerPage <= 0 || filter.PerPage > maxPerPage {
		filter.PerPage = defaultPerPage
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	filter.Search = strings.TrimSpace(filter.Search)
	products, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return products, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// LowStock lists active products whose stock is at or below threshold.
func (s *Service) LowStock(ctx context.Context, threshold int64) ([]Product, error) {
	if threshold < 0 {
		threshold = 0
	}
	return s.repo.LowStock(ctx, threshold)
}
