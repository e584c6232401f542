package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

type memoryRepo struct {
	mu         sync.Mutex
	products   map[int64]Product
	movements  []ledger.Movement
	nextID     int64
	dupOnce    bool
	codeChecks int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[int64]Product)}
}

func (r *memoryRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codeChecks++
	for _, p := range r.products {
		if p.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) Create(ctx context.Context, product Product, opening *ledger.Movement) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dupOnce {
		r.dupOnce = false
		return Product{}, ErrDuplicateCode
	}
	for _, p := range r.products {
		if p.Code == product.Code {
			return Product{}, ErrDuplicateCode
		}
	}
	r.nextID++
	product.ID = r.nextID
	r.products[product.ID] = product
	if opening != nil {
		m := *opening
		m.ProductID = product.ID
		r.movements = append(r.movements, m)
	}
	return product, nil
}

func (r *memoryRepo) UpdateDetails(ctx context.Context, id int64, input EditInput, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Name, p.Description, p.Unit, p.Price, p.UpdatedAt = input.Name, input.Description, input.Unit, input.Price, at
	r.products[id] = p
	return nil
}

func (r *memoryRepo) SetStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Status, p.UpdatedAt = status, at
	r.products[id] = p
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetByCode(ctx context.Context, code string) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.Code == code {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Product
	for _, p := range r.products {
		if filter.OnlyHidden && !p.Hidden() {
			continue
		}
		if !filter.OnlyHidden && !filter.IncludeHidden && p.Hidden() {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.Code), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if filter.PerPage > 0 {
		start := min((filter.Page-1)*filter.PerPage, total)
		end := min(start+filter.PerPage, total)
		out = out[start:end]
	}
	return out, total, nil
}

func (r *memoryRepo) LowStock(ctx context.Context, threshold int64) ([]Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Product
	for _, p := range r.products {
		if !p.Hidden() && p.Stock <= threshold {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stock < out[j].Stock })
	return out, nil
}

// sequenceSource replays fixed suffixes, then repeats the last one.
func sequenceSource(suffixes ...string) SuffixSource {
	i := 0
	return func() (string, error) {
		s := suffixes[i]
		if i < len(suffixes)-1 {
			i++
		}
		return s, nil
	}
}
