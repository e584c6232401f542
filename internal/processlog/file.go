package processlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSink appends entries as JSON lines to a file.
type FileSink struct {
	mu      sync.Mutex
	file    *os.File
	handler slog.Handler
}

// OpenFile opens (or creates) path for appending.
func OpenFile(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("processlog: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("processlog: open %s: %w", path, err)
	}
	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &FileSink{file: f, handler: handler}, nil
}

// Write implements Sink.
func (s *FileSink) Write(ctx context.Context, entry Entry) error {
	if s == nil {
		return fmt.Errorf("processlog: sink closed")
	}
	level := slog.LevelInfo
	if !entry.OK && entry.Kind == KindRow {
		level = slog.LevelWarn
	}
	if entry.Kind == KindAnomaly {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("batch_id", entry.BatchID),
		slog.String("kind", string(entry.Kind)),
		slog.Bool("ok", entry.OK),
	}
	if entry.Source != "" {
		attrs = append(attrs, slog.String("source", entry.Source))
	}
	if entry.Direction != "" {
		attrs = append(attrs, slog.String("direction", entry.Direction))
	}
	if entry.Line > 0 {
		attrs = append(attrs, slog.Int("line", entry.Line))
	}
	if entry.Code != "" {
		attrs = append(attrs, slog.String("code", entry.Code))
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	record := slog.NewRecord(at, level, entry.Message, 0)
	record.AddAttrs(attrs...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("processlog: sink closed")
	}
	if err := s.handler.Handle(ctx, record); err != nil {
		return fmt.Errorf("processlog: write: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
