package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/reconcile"
)

// Exit codes shared by stockctl commands.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitPartial     = 2
	ExitNothingToDo = 3
	ExitAllFailed   = 4
	ExitDrift       = 10
)

// Reconciler runs one batch.
type Reconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Summary, error)
}

// IntegrityChecker compares cached stock with ledger sums.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]ledger.Drift, error)
}

// StockCLI implements the stock maintenance commands.
type StockCLI struct {
	reconciler Reconciler
	checker    IntegrityChecker
}

// NewStockCLI builds the CLI. Either collaborator may be nil when the
// corresponding command is not used.
func NewStockCLI(reconciler Reconciler, checker IntegrityChecker) *StockCLI {
	return &StockCLI{reconciler: reconciler, checker: checker}
}

// ReconcileOptions defines the flags of the reconcile command.
type ReconcileOptions struct {
	Direction  string
	Path       string
	JSONOutput bool
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileCommand replays a CSV file (or stdin when Path is "-").
func (c *StockCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if c == nil || c.reconciler == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "reconcile: not configured")
		return ExitError
	}
	direction, err := ledger.ParseDirection(opts.Direction)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: -direction must be in or out (got %q)\n", opts.Direction)
		return ExitError
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "reconcile: a file path or - is required")
		return ExitError
	}

	input, source := opts.Stdin, "stdin"
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
			return ExitError
		}
		defer f.Close()
		input, source = f, filepath.Base(path)
	}

	summary, err := c.reconciler.Reconcile(ctx, reconcile.Request{Source: source, Direction: direction, Input: input})
	if err != nil && summary.Processed == 0 {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if encErr := json.NewEncoder(opts.Stdout).Encode(summary); encErr != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", encErr)
			return ExitError
		}
	} else {
		renderSummaryHuman(opts.Stdout, summary)
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: stopped early: %v\n", err)
		return ExitError
	}
	return exitCodeFor(summary.Status)
}

func exitCodeFor(status reconcile.Status) int {
	switch status {
	case reconcile.StatusCompleted:
		return ExitOK
	case reconcile.StatusPartial:
		return ExitPartial
	case reconcile.StatusNothingToDo:
		return ExitNothingToDo
	case reconcile.StatusFailed:
		return ExitAllFailed
	default:
		return ExitError
	}
}

func renderSummaryHuman(out io.Writer, s reconcile.Summary) {
	_, _ = fmt.Fprintf(out, "%s batch %s from %s: %s\n", s.Direction, s.BatchID, s.Source, s.Status)
	if s.Status == reconcile.StatusNothingToDo {
		_, _ = fmt.Fprintln(out, "No data rows found.")
		return
	}
	_, _ = fmt.Fprintf(out, "Succeeded: %d/%d\n", s.Succeeded, s.Processed)
	if len(s.Errors) > 0 {
		_, _ = fmt.Fprintf(out, "Failures (showing %d of %d):\n", len(s.Errors), s.Failed)
		for _, msg := range s.Errors {
			_, _ = fmt.Fprintf(out, "  - %s\n", msg)
		}
	}
}

// IntegrityOptions defines the flags of the integrity command.
type IntegrityOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// IntegritySummary is the JSON output of the integrity command.
type IntegritySummary struct {
	OK     bool           `json:"ok"`
	Drifts []ledger.Drift `json:"drifts"`
}

// IntegrityCommand reports products whose cached stock drifted from the ledger.
func (c *StockCLI) IntegrityCommand(ctx context.Context, opts IntegrityOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if c == nil || c.checker == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "integrity: not configured")
		return ExitError
	}
	drifts, err := c.checker.CheckIntegrity(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "integrity: %v\n", err)
		return ExitError
	}
	if drifts == nil {
		drifts = []ledger.Drift{}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(IntegritySummary{OK: len(drifts) == 0, Drifts: drifts}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "integrity: encode json: %v\n", err)
			return ExitError
		}
	} else if len(drifts) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "Cached stock matches the ledger for every product.")
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "%d product(s) drifted:\n", len(drifts))
		for _, d := range drifts {
			_, _ = fmt.Fprintf(opts.Stdout, "  %-10s cached=%d ledger=%d\n", d.Code, d.CachedStock, d.LedgerStock)
		}
	}
	if len(drifts) > 0 {
		return ExitDrift
	}
	return ExitOK
}

// ErrUnknownCommand is returned for unsupported subcommands.
var ErrUnknownCommand = errors.New("stockctl: unknown command")
