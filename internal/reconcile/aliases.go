package reconcile

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Role names what a CSV column carries.
type Role string

const (
	RoleCode      Role = "code"
	RoleQuantity  Role = "quantity"
	RoleUnitPrice Role = "unit_price"
	RoleNotes     Role = "notes"
)

// Aliases maps each column role to the header spellings accepted for it.
// Matching is case-insensitive and Unicode-normalized.
type Aliases map[Role][]string

// DefaultAliases is the header alias table used unless configured otherwise.
var DefaultAliases = Aliases{
	RoleCode:      {"masp", "mãsp", "mã sp", "sku", "code"},
	RoleQuantity:  {"soluong", "sốlượng", "soluongnhap", "soluongxuat", "quantity", "qty"},
	RoleUnitPrice: {"dongia", "đơngiá", "đơn giá", "giá", "price", "unitprice", "unit_price"},
	RoleNotes:     {"ghichu", "ghi chú", "notes", "note", "diengiai"},
}

var requiredRoles = []Role{RoleCode, RoleQuantity}

// ErrMissingRequiredColumn is returned when the header lacks a code or quantity column.
var ErrMissingRequiredColumn = httpx.Mark(httpx.ErrValidation, "reconcile: missing required column")

// Columns holds the zero-based index of each matched column, -1 when absent.
type Columns struct {
	Code      int `json:"code"`
	Quantity  int `json:"quantity"`
	UnitPrice int `json:"unit_price"`
	Notes     int `json:"notes"`
}

func (c *Columns) set(role Role, idx int) {
	switch role {
	case RoleCode:
		c.Code = idx
	case RoleQuantity:
		c.Quantity = idx
	case RoleUnitPrice:
		c.UnitPrice = idx
	case RoleNotes:
		c.Notes = idx
	}
}

func (c Columns) index(role Role) int {
	switch role {
	case RoleCode:
		return c.Code
	case RoleQuantity:
		return c.Quantity
	case RoleUnitPrice:
		return c.UnitPrice
	case RoleNotes:
		return c.Notes
	}
	return -1
}

// NormalizeHeader trims, NFC-composes and case-folds a header cell so that
// "maSP", "MASP" and decomposed "mã sp" compare equal to their aliases.
func NormalizeHeader(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	return cases.Fold().String(norm.NFC.String(s))
}

// Resolve matches header cells against the alias table. The first column
// matching a role wins.
func (a Aliases) Resolve(header []string) (Columns, error) {
	lookup := make(map[string]Role)
	for role, names := range a {
		for _, name := range names {
			lookup[NormalizeHeader(name)] = role
		}
	}

	cols := Columns{Code: -1, Quantity: -1, UnitPrice: -1, Notes: -1}
	for i, cell := range header {
		role, ok := lookup[NormalizeHeader(cell)]
		if !ok || cols.index(role) >= 0 {
			continue
		}
		cols.set(role, i)
	}

	var missing []string
	for _, role := range requiredRoles {
		if cols.index(role) < 0 {
			missing = append(missing, fmt.Sprintf("%s (one of %s)", role, strings.Join(a[role], ", ")))
		}
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("%w: %s", ErrMissingRequiredColumn, strings.Join(missing, "; "))
	}
	return cols, nil
}
