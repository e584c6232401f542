package reconcile

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/processlog"
)

func newTestReconciler(book *stockBook, sink processlog.Sink, metrics Metrics) *Reconciler {
	return NewReconciler(Deps{Products: book, Movements: book, Sink: sink, Metrics: metrics}, Config{})
}

func sampleBook() *stockBook {
	return newStockBook(
		catalog.Product{ID: 1, Code: "SP-A1B2C", Stock: 6, Price: 1000},
		catalog.Product{ID: 2, Code: "SP-B2C3D", Stock: 0, Price: 250},
	)
}

func TestReconcileInboundScenario(t *testing.T) {
	book := sampleBook()
	sink := processlog.NewMemorySink()
	metrics := &recordingMetrics{}
	r := newTestReconciler(book, sink, metrics)

	summary, err := r.Reconcile(context.Background(), Request{
		Source:    "nhapHang.csv",
		Direction: ledger.DirectionIn,
		Input:     strings.NewReader("maSP,soLuong\nSP-A1B2C,3\nSP-ZZZZZ,1\n"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, StatusPartial, summary.Status)
	require.Len(t, summary.Errors, 1)
	require.Contains(t, summary.Errors[0], "row 2")
	require.Contains(t, summary.Errors[0], "SP-ZZZZZ")
	require.EqualValues(t, 9, book.stock("SP-A1B2C"))

	require.Len(t, book.movements, 1)
	m := book.movements[0]
	require.True(t, m.UseProductPrice)
	require.Equal(t, ledger.ActorBatch, m.Actor)
	require.Equal(t, "From file nhapHang.csv, row 1. Notes: ", m.Notes)

	require.Len(t, sink.ByKind(processlog.KindRow), 2)
	require.Len(t, sink.ByKind(processlog.KindBatchStart), 1)
	history := sink.ByKind(processlog.KindHistory)
	require.Len(t, history, 1)
	require.Equal(t, "IN_FILE: 'nhapHang.csv', ok: 1/2", history[0].Message)
	for _, e := range sink.Entries() {
		require.Equal(t, summary.BatchID, e.BatchID)
	}

	require.Equal(t, "partial", metrics.status)
	require.Equal(t, 1, metrics.failed)
}

func TestReconcileMissingColumnsTouchesNothing(t *testing.T) {
	book := sampleBook()
	r := newTestReconciler(book, nil, nil)

	summary, err := r.Reconcile(context.Background(), Request{
		Direction: ledger.DirectionIn,
		Input:     strings.NewReader("product,amount\nSP-A1B2C,3\n"),
	})
	require.ErrorIs(t, err, ErrMissingRequiredColumn)
	require.Zero(t, summary.Processed)
	require.Empty(t, book.movements)
}

func TestReconcileNothingToDo(t *testing.T) {
	book := sampleBook()
	sink := processlog.NewMemorySink()
	r := newTestReconciler(book, sink, nil)

	summary, err := r.Reconcile(context.Background(), Request{Direction: ledger.DirectionOut, Input: strings.NewReader("masp,soluong\n")})
	require.NoError(t, err)
	require.Equal(t, StatusNothingToDo, summary.Status)
	require.Empty(t, sink.ByKind(processlog.KindHistory))
}

func TestReconcileRowFailuresContinue(t *testing.T) {
	book := sampleBook()
	r := newTestReconciler(book, nil, nil)

	input := strings.Join([]string{
		"sku,qty,price,notes",
		"SP-A1B2C,2,1500,promo",
		"SP-A1B2C,50,,too many",
		",1,,",
		"SP-B2C3D,abc,,",
		"SP-A1B2C,1,oops,",
	}, "\n")
	summary, err := r.Reconcile(context.Background(), Request{Source: "out.csv", Direction: ledger.DirectionOut, Input: strings.NewReader(input)})
	require.NoError(t, err)
	require.Equal(t, 5, summary.Processed)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 3, summary.Failed)
	require.Len(t, summary.Outcomes, 5)
	require.Contains(t, summary.Errors[0], "insufficient stock")
	require.Contains(t, summary.Errors[1], "missing code or quantity")
	require.Contains(t, summary.Errors[2], "quantity must be a positive integer")
	require.EqualValues(t, 3, book.stock("SP-A1B2C"))

	require.EqualValues(t, 1500, book.movements[0].UnitPrice)
	require.False(t, book.movements[0].UseProductPrice)
	require.Equal(t, "From file out.csv, row 1. Notes: promo", book.movements[0].Notes)
	// bad price cell falls back to the product price
	require.True(t, book.movements[1].UseProductPrice)
	require.EqualValues(t, 1000, book.movements[1].UnitPrice)
}

func TestReconcileErrorCapAndAllFailed(t *testing.T) {
	book := sampleBook()
	sink := processlog.NewMemorySink()
	r := NewReconciler(Deps{Products: book, Movements: book, Sink: sink}, Config{ErrorCap: 2})

	var b strings.Builder
	b.WriteString("code,quantity\n")
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&b, "SP-NOPE%d,1\n", i)
	}
	summary, err := r.Reconcile(context.Background(), Request{Direction: ledger.DirectionIn, Input: strings.NewReader(b.String())})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, summary.Status)
	require.Len(t, summary.Errors, 2)
	require.Len(t, summary.Outcomes, 7)
	require.Len(t, sink.ByKind(processlog.KindRow), 7)
}

func TestReconcileInfrastructureErrorIsRowFailure(t *testing.T) {
	book := sampleBook()
	book.failID = 2
	r := newTestReconciler(book, nil, nil)

	summary, err := r.Reconcile(context.Background(), Request{Direction: ledger.DirectionIn, Input: strings.NewReader("masp,soluong\nSP-B2C3D,1\nSP-A1B2C,1\n")})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, summary.Status)
	require.Equal(t, "row 1: internal error", summary.Errors[0])
}

func TestReconcileStopsOnCancel(t *testing.T) {
	book := sampleBook()
	r := newTestReconciler(book, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := r.Reconcile(ctx, Request{Direction: ledger.DirectionIn, Input: strings.NewReader("masp,soluong\nSP-A1B2C,1\n")})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, summary.Processed)
	require.Empty(t, book.movements)
}

func TestReconcileRejectsConcurrentBatch(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	book := sampleBook()
	r := NewReconciler(Deps{Products: book, Movements: book, Locker: locker}, Config{})
	_, err = r.Reconcile(context.Background(), Request{Direction: ledger.DirectionIn, Input: strings.NewReader("masp,soluong\nSP-A1B2C,1\n")})
	require.ErrorIs(t, err, ErrBatchInProgress)
	require.Empty(t, book.movements)
}

func TestReconcileInvalidDirection(t *testing.T) {
	r := newTestReconciler(sampleBook(), nil, nil)
	_, err := r.Reconcile(context.Background(), Request{Direction: "SIDEWAYS", Input: strings.NewReader("")})
	require.ErrorIs(t, err, ledger.ErrInvalidDirection)
}

func TestReconcileRejectsNegativePriceRow(t *testing.T) {
	book := sampleBook()
	r := newTestReconciler(book, nil, nil)

	summary, err := r.Reconcile(context.Background(), Request{
		Source:    "in.csv",
		Direction: ledger.DirectionIn,
		Input:     strings.NewReader("masp,soluong,dongia\nSP-A1B2C,2,-500\nSP-A1B2C,1,\n"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, StatusPartial, summary.Status)
	require.Contains(t, summary.Errors[0], "row 1")
	require.Contains(t, summary.Errors[0], "unit price must be a non-negative integer")
	require.False(t, summary.Outcomes[0].OK)

	require.Len(t, book.movements, 1)
	require.True(t, book.movements[0].UseProductPrice)
	require.EqualValues(t, 7, book.stock("SP-A1B2C"))
}

func TestReconcileRequireActiveSkipsHiddenProducts(t *testing.T) {
	newBook := func() *stockBook {
		return newStockBook(
			catalog.Product{ID: 1, Code: "SP-A1B2C", Stock: 6, Price: 1000},
			catalog.Product{ID: 3, Code: "SP-H1DD3", Stock: 4, Price: 500, Status: catalog.StatusHidden},
		)
	}
	input := "masp,soluong\nSP-H1DD3,1\nSP-A1B2C,1\n"

	book := newBook()
	r := NewReconciler(Deps{Products: book, Movements: book}, Config{RequireActive: true})
	summary, err := r.Reconcile(context.Background(), Request{Direction: ledger.DirectionIn, Input: strings.NewReader(input)})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, "row 1: product is hidden: SP-H1DD3", summary.Errors[0])
	require.EqualValues(t, 4, book.stock("SP-H1DD3"))
	require.Len(t, book.movements, 1)
	require.True(t, book.movements[0].RequireActive)

	book = newBook()
	r = newTestReconciler(book, nil, nil)
	summary, err = r.Reconcile(context.Background(), Request{Direction: ledger.DirectionIn, Input: strings.NewReader(input)})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded)
	require.EqualValues(t, 5, book.stock("SP-H1DD3"))
}
