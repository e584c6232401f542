package catalog

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	gen, err := NewCodeGenerator(repo, DefaultCodePrefix)
	require.NoError(t, err)
	return NewService(repo, gen, nil), repo
}

func TestCreateProductWritesOpeningMovement(t *testing.T) {
	svc, repo := newTestService(t)

	p, err := svc.CreateProduct(context.Background(), CreateInput{Name: "  Coffee beans ", Unit: "kg", OpeningStock: 10, Price: 1000})
	require.NoError(t, err)
	require.Regexp(t, codePattern, p.Code)
	require.Equal(t, "Coffee beans", p.Name)
	require.EqualValues(t, 10, p.Stock)
	require.Equal(t, StatusActive, p.Status)

	require.Len(t, repo.movements, 1)
	m := repo.movements[0]
	require.Equal(t, p.ID, m.ProductID)
	require.Equal(t, ledger.DirectionIn, m.Direction)
	require.EqualValues(t, 10, m.Quantity)
	require.EqualValues(t, 10000, m.Total)
	require.Equal(t, ledger.ActorOpening, m.Actor)
}

func TestCreateProductWithoutOpeningStock(t *testing.T) {
	svc, repo := newTestService(t)

	p, err := svc.CreateProduct(context.Background(), CreateInput{Name: "Tea", Price: 0})
	require.NoError(t, err)
	require.Zero(t, p.Stock)
	require.Empty(t, repo.movements)
}

func TestCreateProductRejectsOverflowingOpeningValue(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.CreateProduct(context.Background(), CreateInput{Name: "Gold", OpeningStock: math.MaxInt64 / 2, Price: 4})
	require.ErrorIs(t, err, httpx.ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "opening_stock")
	require.Empty(t, repo.products)
	require.Empty(t, repo.movements)
}

func TestCreateProductValidation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, CreateInput{Name: "   ", Unit: strings.Repeat("u", 21), Price: -1, OpeningStock: -5})
	require.ErrorIs(t, err, httpx.ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "name")
	require.Contains(t, verr.Fields, "unit")
	require.Contains(t, verr.Fields, "price")
	require.Contains(t, verr.Fields, "opening_stock")

	_, err = svc.CreateProduct(ctx, CreateInput{Name: strings.Repeat("n", 101)})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "must be at most 100 characters", verr.Fields["name"])

	_, err = svc.CreateProduct(ctx, CreateInput{Name: strings.Repeat("á", 100)})
	require.NoError(t, err)
	require.Len(t, repo.products, 1)
}

func TestCreateProductRetriesOnDuplicateRace(t *testing.T) {
	svc, repo := newTestService(t)
	repo.dupOnce = true

	p, err := svc.CreateProduct(context.Background(), CreateInput{Name: "Sugar"})
	require.NoError(t, err)
	require.NotZero(t, p.ID)
}

func TestCreateProductGenerationExhausted(t *testing.T) {
	svc, repo := newTestService(t)
	_, err := repo.Create(context.Background(), Product{Code: "SP-XXXXX"}, nil)
	require.NoError(t, err)
	svc.codes.WithSource(sequenceSource("XXXXX"))

	_, err = svc.CreateProduct(context.Background(), CreateInput{Name: "Salt"})
	require.ErrorIs(t, err, ErrGenerationExhausted)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestEditProductKeepsStockAndCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateProduct(ctx, CreateInput{Name: "Rice", Unit: "bag", OpeningStock: 7, Price: 500})
	require.NoError(t, err)

	require.NoError(t, svc.EditProduct(ctx, p.ID, EditInput{Name: "Jasmine rice", Unit: "sack", Price: 650, Description: "5kg"}))
	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Jasmine rice", got.Name)
	require.EqualValues(t, 650, got.Price)
	require.EqualValues(t, 7, got.Stock)
	require.Equal(t, p.Code, got.Code)

	require.ErrorIs(t, svc.EditProduct(ctx, 999, EditInput{Name: "x"}), ErrProductNotFound)
	require.ErrorIs(t, svc.EditProduct(ctx, p.ID, EditInput{Name: ""}), httpx.ErrValidation)
}

func TestHideAndRestoreProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateProduct(ctx, CreateInput{Name: "Flour"})
	require.NoError(t, err)

	require.NoError(t, svc.HideProduct(ctx, p.ID))
	list, page, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Zero(t, page.Total)
	require.Empty(t, list)

	hidden, err := svc.GetByCode(ctx, strings.ToLower(p.Code))
	require.NoError(t, err)
	require.True(t, hidden.Hidden())

	require.NoError(t, svc.RestoreProduct(ctx, p.ID))
	_, page, err = svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	require.ErrorIs(t, svc.HideProduct(ctx, 404), ErrProductNotFound)
}

func TestLowStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, in := range []CreateInput{{Name: "A", OpeningStock: 2}, {Name: "B", OpeningStock: 50}, {Name: "C"}} {
		_, err := svc.CreateProduct(ctx, in)
		require.NoError(t, err)
	}
	low, err := svc.LowStock(ctx, 5)
	require.NoError(t, err)
	require.Len(t, low, 2)
	require.Equal(t, "C", low[0].Name)
}
