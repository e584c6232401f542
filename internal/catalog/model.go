package catalog

import (
	"time"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Status is the product lifecycle flag.
type Status string

const (
	// StatusActive products appear in normal listings.
	StatusActive Status = "active"
	// StatusHidden products are soft-deleted; their ledger history is kept.
	StatusHidden Status = "hidden"
)

// Product represents a product entity
type Product struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Unit        string    `json:"unit"`
	Price       int64     `json:"price"`
	Stock       int64     `json:"stock"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Hidden reports whether the product is soft-deleted.
func (p Product) Hidden() bool {
	return p.Status == StatusHidden
}

// CreateInput carries the fields accepted when creating a product.
type CreateInput struct {
	Name         string `json:"name" validate:"required,max=100"`
	Description  string `json:"description" validate:"max=500"`
	Unit         string `json:"unit" validate:"max=20"`
	OpeningStock int64  `json:"opening_stock" validate:"gte=0"`
	Price        int64  `json:"price" validate:"gte=0"`
}

// EditInput carries editable fields. Code and stock are never editable.
type EditInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	Unit        string `json:"unit" validate:"max=20"`
	Price       int64  `json:"price" validate:"gte=0"`
}

// ListFilter narrows product listings.
type ListFilter struct {
	Search        string
	IncludeHidden bool
	OnlyHidden    bool
	Page          int
	PerPage       int
	SortBy        string
	SortDir       string
}

var (
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = httpx.Mark(httpx.ErrNotFound, "catalog: product not found")
	// ErrDuplicateCode indicates a code collision at insert time.
	ErrDuplicateCode = httpx.Mark(httpx.ErrDuplicate, "catalog: product code already exists")
	// ErrGenerationExhausted is returned when no unused code was found within
	// the attempt budget. Callers should ask the user to retry.
	ErrGenerationExhausted = httpx.Mark(httpx.ErrConflict, "catalog: could not generate a unique product code, please retry")
)
