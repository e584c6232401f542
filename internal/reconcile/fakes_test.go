package reconcile

import (
	"context"
	"errors"
	"sync"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// stockBook is an in-memory catalog and ledger pair.
type stockBook struct {
	mu        sync.Mutex
	products  map[string]*catalog.Product
	movements []ledger.MovementInput
	failID    int64
}

func newStockBook(products ...catalog.Product) *stockBook {
	b := &stockBook{products: make(map[string]*catalog.Product)}
	for i := range products {
		p := products[i]
		if p.ID == 0 {
			p.ID = int64(i + 1)
		}
		b.products[p.Code] = &p
	}
	return b
}

func (b *stockBook) GetByCode(_ context.Context, code string) (catalog.Product, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.products[code]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return *p, nil
}

func (b *stockBook) ApplyMovement(_ context.Context, input ledger.MovementInput) (ledger.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if input.ProductID == b.failID {
		return ledger.Result{}, errors.New("connection reset")
	}
	var product *catalog.Product
	for _, p := range b.products {
		if p.ID == input.ProductID {
			product = p
		}
	}
	if product == nil {
		return ledger.Result{}, ledger.ErrProductNotFound
	}
	if input.Direction == ledger.DirectionOut && input.Quantity > product.Stock {
		return ledger.Result{}, ledger.ErrInsufficientStock
	}
	if input.UseProductPrice {
		input.UnitPrice = product.Price
	}
	product.Stock += input.Direction.Sign() * input.Quantity
	b.movements = append(b.movements, input)
	return ledger.Result{NewStock: product.Stock}, nil
}

func (b *stockBook) stock(code string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.products[code].Stock
}

type recordingMetrics struct {
	direction, status string
	succeeded, failed int
}

func (m *recordingMetrics) ObserveBatch(direction, status string, succeeded, failed int) {
	m.direction, m.status, m.succeeded, m.failed = direction, status, succeeded, failed
}
