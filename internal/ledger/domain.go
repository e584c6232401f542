package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Direction enumerates supported stock movements.
type Direction string

const (
	// DirectionIn represents an inbound movement.
	DirectionIn Direction = "IN"
	// DirectionOut represents an outbound movement.
	DirectionOut Direction = "OUT"
)

// Actor labels written by the system itself.
const (
	ActorOpening = "system_init"
	ActorBatch   = "file_csv"
)

// OpeningNotes is written on the movement that records stock supplied at
// product creation.
const OpeningNotes = "Initial stock on create"

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Sign returns +1 for inbound and -1 for outbound.
func (d Direction) Sign() int64 {
	if d == DirectionOut {
		return -1
	}
	return 1
}

// ParseDirection accepts IN/OUT in any case, plus the words inbound/outbound.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IN", "INBOUND":
		return DirectionIn, nil
	case "OUT", "OUTBOUND":
		return DirectionOut, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// Movement is an immutable ledger entry.
type Movement struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Direction Direction `json:"direction"`
	Quantity  int64     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Total     int64     `json:"total"`
	Notes     string    `json:"notes"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// NewOpeningMovement builds the inbound entry recording opening stock.
func NewOpeningMovement(productID, quantity, unitPrice int64, at time.Time) (Movement, error) {
	total, err := MovementTotal(quantity, unitPrice)
	if err != nil {
		return Movement{}, err
	}
	return Movement{
		ProductID: productID,
		Direction: DirectionIn,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Total:     total,
		Notes:     OpeningNotes,
		Actor:     ActorOpening,
		CreatedAt: at,
	}, nil
}

// MovementTotal returns quantity × unitPrice, or ErrTotalOverflow when the
// product does not fit in int64. Both operands must be non-negative.
func MovementTotal(quantity, unitPrice int64) (int64, error) {
	if unitPrice > 0 && quantity > math.MaxInt64/unitPrice {
		return 0, ErrTotalOverflow
	}
	return quantity * unitPrice, nil
}

// ProductState is the slice of a product row the ledger reads and locks.
type ProductState struct {
	ID     int64
	Code   string
	Stock  int64
	Price  int64
	Hidden bool
}

// MovementInput describes a request to move stock.
type MovementInput struct {
	ProductID      int64
	Direction      Direction
	Quantity       int64
	UnitPrice      int64
	Notes          string
	Actor          string
	IdempotencyKey string
	// UseProductPrice takes the unit price from the locked product row
	// instead of UnitPrice.
	UseProductPrice bool
	// RequireActive rejects movements against hidden products. Manual entry
	// points set it; corrections and batch replays do not.
	RequireActive bool
}

// Result is returned by a successful movement.
type Result struct {
	NewStock int64    `json:"new_stock"`
	Movement Movement `json:"movement"`
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID int64
	Direction Direction
	From      time.Time
	To        time.Time
	Limit     int
}

// Drift describes a product whose cached stock disagrees with its ledger.
type Drift struct {
	ProductID   int64  `json:"product_id"`
	Code        string `json:"code"`
	CachedStock int64  `json:"cached_stock"`
	LedgerStock int64  `json:"ledger_stock"`
}

// Sentinel errors. Each is classified for HTTP mapping.
var (
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = httpx.Mark(httpx.ErrNotFound, "ledger: product not found")
	// ErrInvalidQuantity indicates a non-positive or non-numeric quantity.
	ErrInvalidQuantity = httpx.Mark(httpx.ErrValidation, "ledger: quantity must be a positive integer")
	// ErrInvalidUnitPrice indicates a negative or non-numeric unit price.
	ErrInvalidUnitPrice = httpx.Mark(httpx.ErrValidation, "ledger: unit price must be a non-negative integer")
	// ErrInvalidDirection indicates a direction other than IN or OUT.
	ErrInvalidDirection = httpx.Mark(httpx.ErrValidation, "ledger: direction must be IN or OUT")
	// ErrInsufficientStock triggered when an outbound movement exceeds cached stock.
	ErrInsufficientStock = httpx.Mark(httpx.ErrConflict, "ledger: insufficient stock")
	// ErrProductHidden indicates a manual movement against a hidden product.
	ErrProductHidden = httpx.Mark(httpx.ErrConflict, "ledger: product is hidden")
)

// ParseQuantity converts a raw cell into a positive quantity. Integral
// decimals such as "3.0" are accepted.
func ParseQuantity(raw string) (int64, error) {
	n, err := parseWhole(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
	}
	return n, nil
}

// ParseUnitPrice converts a raw cell into a non-negative unit price.
func ParseUnitPrice(raw string) (int64, error) {
	n, err := parseWhole(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnitPrice, raw)
	}
	return n, nil
}

var maxWhole = decimal.NewFromInt(math.MaxInt64)

// IsNumeric reports whether raw reads as a number at all, whole or not.
func IsNumeric(raw string) bool {
	_, err := decimal.NewFromString(stripSeparators(raw))
	return err == nil
}

func stripSeparators(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
}

func parseWhole(raw string) (int64, error) {
	// thousands separators, as in "1,000"
	trimmed := stripSeparators(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("empty value")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("not an integer: %s", trimmed)
	}
	if d.Abs().GreaterThan(maxWhole) {
		return 0, fmt.Errorf("out of range: %s", trimmed)
	}
	return d.IntPart(), nil
}
