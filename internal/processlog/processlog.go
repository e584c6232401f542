// Package processlog records durable, per-row accounts of batch processing.
// Sinks are injected into the reconciler; production writes JSON lines to a
// file and tests use the in-memory sink.
package processlog

import (
	"context"
	"time"
)

// Kind classifies a process log entry.
type Kind string

const (
	// KindBatchStart opens a batch section.
	KindBatchStart Kind = "batch_start"
	// KindRow records the outcome of one input row.
	KindRow Kind = "row"
	// KindAnomaly records a tolerated input problem such as a bad price cell.
	KindAnomaly Kind = "anomaly"
	// KindBatchEnd closes a batch section.
	KindBatchEnd Kind = "batch_end"
	// KindHistory is the one-line transaction history summary of a batch.
	KindHistory Kind = "history"
)

// Entry is a single process log record.
type Entry struct {
	BatchID   string    `json:"batch_id"`
	Kind      Kind      `json:"kind"`
	Source    string    `json:"source,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Line      int       `json:"line,omitempty"`
	Code      string    `json:"code,omitempty"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Sink persists process log entries.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// Nop discards every entry.
type Nop struct{}

// Write implements Sink.
func (Nop) Write(context.Context, Entry) error { return nil }
