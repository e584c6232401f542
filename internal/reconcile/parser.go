package reconcile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// ParseStatus distinguishes "rows found" from "header only".
type ParseStatus string

const (
	StatusRows   ParseStatus = "rows"
	StatusNoData ParseStatus = "no_data"
)

var (
	// ErrEmptyInput indicates the input had no header row at all.
	ErrEmptyInput = httpx.Mark(httpx.ErrValidation, "reconcile: input is empty")
	// ErrMalformedInput indicates the CSV could not be read.
	ErrMalformedInput = httpx.Mark(httpx.ErrValidation, "reconcile: malformed csv")
)

// Row is one data row as received, before validation.
type Row struct {
	Line      int
	Code      string
	Quantity  string
	UnitPrice *int64
	Notes     string
	// PriceErr is set when the price cell is a number the ledger rejects,
	// such as a negative or fractional value.
	PriceErr error
}

// Anomaly is a tolerated problem found while parsing.
type Anomaly struct {
	Line    int
	Message string
}

// ParseResult is the canonical output of the parser.
type ParseResult struct {
	Rows      []Row
	Status    ParseStatus
	Columns   Columns
	Anomalies []Anomaly
}

// Parse reads CSV input using DefaultAliases.
func Parse(r io.Reader, logger *slog.Logger) (ParseResult, error) {
	return ParseWith(r, DefaultAliases, logger)
}

// ParseWith reads CSV input with a header row and converts every non-blank
// data row into a Row. Rows are numbered from 1 in input order.
func ParseWith(r io.Reader, aliases Aliases, logger *slog.Logger) (ParseResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	br := bufio.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return ParseResult{}, ErrEmptyInput
	}
	if err != nil {
		return ParseResult{}, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	cols, err := aliases.Resolve(header)
	if err != nil {
		return ParseResult{}, err
	}

	result := ParseResult{Columns: cols, Status: StatusNoData}
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ParseResult{}, fmt.Errorf("%w: %w", ErrMalformedInput, err)
		}
		if blank(record) {
			continue
		}
		line++
		row := Row{
			Line:     line,
			Code:     strings.ToUpper(cell(record, cols.Code)),
			Quantity: cell(record, cols.Quantity),
			Notes:    cell(record, cols.Notes),
		}
		if raw := cell(record, cols.UnitPrice); raw != "" {
			price, err := ledger.ParseUnitPrice(raw)
			switch {
			case err == nil:
				row.UnitPrice = &price
			case ledger.IsNumeric(raw):
				row.PriceErr = err
			default:
				msg := fmt.Sprintf("row %d: unit price %q ignored, using product price", line, raw)
				logger.Warn("reconcile price cell ignored", slog.Int("row", line), slog.String("value", raw))
				result.Anomalies = append(result.Anomalies, Anomaly{Line: line, Message: msg})
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if len(result.Rows) > 0 {
		result.Status = StatusRows
	}
	return result, nil
}

// sniffDelimiter picks ';' or tab when the header line uses it instead of ','.
func sniffDelimiter(br *bufio.Reader) rune {
	peek, _ := br.Peek(4096)
	if i := bytes.IndexByte(peek, '\n'); i >= 0 {
		peek = peek[:i]
	}
	best, bestCount := ',', bytes.Count(peek, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(peek, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
