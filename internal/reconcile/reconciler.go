package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/processlog"
)

// DefaultErrorCap bounds the failure messages returned in a Summary.
const DefaultErrorCap = 5

// Status is the aggregate outcome of a batch.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusPartial     Status = "partial"
	StatusFailed      Status = "failed"
	StatusNothingToDo Status = "nothing_to_do"
)

// ErrMissingField marks a row without a code or quantity.
var ErrMissingField = httpx.Mark(httpx.ErrValidation, "reconcile: missing code or quantity")

// ProductLookup resolves products by code.
type ProductLookup interface {
	GetByCode(ctx context.Context, code string) (catalog.Product, error)
}

// MovementApplier performs one atomic stock mutation.
type MovementApplier interface {
	ApplyMovement(ctx context.Context, input ledger.MovementInput) (ledger.Result, error)
}

// Metrics receives batch outcomes.
type Metrics interface {
	ObserveBatch(direction, status string, succeeded, failed int)
}

// Deps groups the reconciler's collaborators. Sink, Locker, Metrics and
// Logger are optional.
type Deps struct {
	Products  ProductLookup
	Movements MovementApplier
	Sink      processlog.Sink
	Locker    Locker
	Metrics   Metrics
	Logger    *slog.Logger
}

// Config tunes reconciliation.
type Config struct {
	ErrorCap int
	Aliases  Aliases
	Actor    string
	// RequireActive fails rows whose product is hidden.
	RequireActive bool
}

// Request is one batch to replay.
type Request struct {
	Source    string
	Direction ledger.Direction
	Input     io.Reader
}

// Outcome is the result of a single row.
type Outcome struct {
	Line     int    `json:"line"`
	Code     string `json:"code"`
	Quantity int64  `json:"quantity,omitempty"`
	OK       bool   `json:"ok"`
	NewStock int64  `json:"new_stock,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Summary aggregates a batch.
type Summary struct {
	BatchID   string           `json:"batch_id"`
	Source    string           `json:"source"`
	Direction ledger.Direction `json:"direction"`
	Status    Status           `json:"status"`
	Processed int              `json:"processed"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Errors    []string         `json:"errors"`
	Outcomes  []Outcome        `json:"outcomes"`
	Message   string           `json:"message"`
}

// Reconciler replays CSV movement batches against the ledger row by row.
type Reconciler struct {
	products  ProductLookup
	movements MovementApplier
	sink      processlog.Sink
	locker    Locker
	metrics   Metrics
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// NewReconciler wires a Reconciler.
func NewReconciler(deps Deps, cfg Config) *Reconciler {
	if cfg.ErrorCap <= 0 {
		cfg.ErrorCap = DefaultErrorCap
	}
	if cfg.Aliases == nil {
		cfg.Aliases = DefaultAliases
	}
	if cfg.Actor == "" {
		cfg.Actor = ledger.ActorBatch
	}
	r := &Reconciler{
		products:  deps.Products,
		movements: deps.Movements,
		sink:      deps.Sink,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if r.sink == nil {
		r.sink = processlog.Nop{}
	}
	if r.locker == nil {
		r.locker = NewLocalLocker()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Reconcile parses the input and applies each row as its own movement.
// A parse failure aborts before any ledger write. Row failures are recorded
// and the loop continues; the batch as a whole is not atomic.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (Summary, error) {
	if !req.Direction.Valid() {
		return Summary{}, ledger.ErrInvalidDirection
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "upload"
	}
	summary := Summary{
		BatchID:   uuid.NewString(),
		Source:    source,
		Direction: req.Direction,
		Errors:    []string{},
		Outcomes:  []Outcome{},
	}
	logger := r.logger.With(slog.String("batch_id", summary.BatchID), slog.String("source", source),
		slog.String("direction", string(req.Direction)))

	parsed, err := ParseWith(req.Input, r.cfg.Aliases, logger)
	if err != nil {
		logger.Warn("reconcile parse failed", slog.Any("error", err))
		r.write(ctx, summary, processlog.Entry{Kind: processlog.KindBatchEnd, Message: "parse failed: " + err.Error()})
		return summary, err
	}
	if parsed.Status == StatusNoData {
		summary.Status = StatusNothingToDo
		summary.Message = fmt.Sprintf("File '%s' has no data rows.", source)
		r.observe(summary)
		return summary, nil
	}

	release, err := r.locker.Acquire(ctx)
	if err != nil {
		return summary, err
	}
	defer release()

	r.write(ctx, summary, processlog.Entry{Kind: processlog.KindBatchStart,
		Message: fmt.Sprintf("Begin processing %s file: %s", req.Direction, source)})
	for _, a := range parsed.Anomalies {
		r.write(ctx, summary, processlog.Entry{Kind: processlog.KindAnomaly, Line: a.Line, Message: a.Message})
	}

	var loopErr error
	for _, row := range parsed.Rows {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}
		outcome := r.applyRow(ctx, logger, source, req.Direction, row)
		summary.Processed++
		if outcome.OK {
			summary.Succeeded++
		} else {
			summary.Failed++
			if len(summary.Errors) < r.cfg.ErrorCap {
				summary.Errors = append(summary.Errors, outcome.Error)
			}
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
		msg := "ok"
		if !outcome.OK {
			msg = outcome.Error
		}
		r.write(ctx, summary, processlog.Entry{Kind: processlog.KindRow, Line: row.Line, Code: row.Code, OK: outcome.OK, Message: msg})
	}

	summary.Status = statusOf(summary)
	summary.Message = fmt.Sprintf("Finished processing file '%s'. Succeeded: %d/%d.", source, summary.Succeeded, summary.Processed)
	r.write(ctx, summary, processlog.Entry{Kind: processlog.KindBatchEnd, OK: summary.Failed == 0, Message: summary.Message})
	if summary.Processed > 0 {
		r.write(ctx, summary, processlog.Entry{Kind: processlog.KindHistory, OK: summary.Succeeded > 0,
			Message: fmt.Sprintf("%s_FILE: '%s', ok: %d/%d", req.Direction, source, summary.Succeeded, summary.Processed)})
	}
	r.observe(summary)
	logger.Info("reconcile finished",
		slog.String("status", string(summary.Status)),
		slog.Int("processed", summary.Processed),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed))
	return summary, loopErr
}

func (r *Reconciler) applyRow(ctx context.Context, logger *slog.Logger, source string, direction ledger.Direction, row Row) Outcome {
	outcome := Outcome{Line: row.Line, Code: row.Code}
	fail := func(err error) Outcome {
		if !httpx.IsExpected(err) {
			logger.Error("reconcile row failed", slog.Int("row", row.Line), slog.Any("error", err))
		}
		outcome.Error = fmt.Sprintf("row %d: %s", row.Line, rowMessage(err))
		return outcome
	}

	if row.Code == "" || row.Quantity == "" {
		return fail(ErrMissingField)
	}
	qty, err := ledger.ParseQuantity(row.Quantity)
	if err != nil {
		return fail(err)
	}
	outcome.Quantity = qty
	if row.PriceErr != nil {
		return fail(row.PriceErr)
	}

	product, err := r.products.GetByCode(ctx, row.Code)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return fail(fmt.Errorf("%w: %q", ledger.ErrProductNotFound, row.Code))
		}
		return fail(err)
	}
	if r.cfg.RequireActive && product.Hidden() {
		return fail(fmt.Errorf("%w: %s", ledger.ErrProductHidden, product.Code))
	}

	input := ledger.MovementInput{
		ProductID: product.ID,
		Direction: direction,
		Quantity:  qty,
		Notes:     fmt.Sprintf("From file %s, row %d. Notes: %s", source, row.Line, row.Notes),
		Actor:     r.cfg.Actor,

		RequireActive: r.cfg.RequireActive,
	}
	if row.UnitPrice != nil {
		input.UnitPrice = *row.UnitPrice
	} else {
		input.UseProductPrice = true
	}
	res, err := r.movements.ApplyMovement(ctx, input)
	if err != nil {
		return fail(err)
	}
	outcome.OK = true
	outcome.NewStock = res.NewStock
	return outcome
}

func rowMessage(err error) string {
	msg := httpx.SafeMessage(err)
	for _, prefix := range []string{"ledger: ", "catalog: ", "reconcile: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}

func statusOf(s Summary) Status {
	switch {
	case s.Processed == 0:
		return StatusNothingToDo
	case s.Failed == 0:
		return StatusCompleted
	case s.Succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

func (r *Reconciler) write(ctx context.Context, s Summary, entry processlog.Entry) {
	entry.BatchID = s.BatchID
	entry.Source = s.Source
	entry.Direction = string(s.Direction)
	entry.At = r.now()
	if err := r.sink.Write(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("process log write failed", slog.Any("error", err))
	}
}

func (r *Reconciler) observe(s Summary) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveBatch(string(s.Direction), string(s.Status), s.Succeeded, s.Failed)
}
