package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSink is the reference audit provider: JSON lines appended to a log
// file rotated by size and age.
type FileSink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// FileSinkOptions configures rotation.
type FileSinkOptions struct {
	// Dir is the audit log directory (typically <dataDir>/audit).
	Dir string
	// MaxSizeMB rotates the current file once it exceeds this size.
	MaxSizeMB int
	// MaxAgeDays removes rotated files older than this.
	MaxAgeDays int
}

// NewFileSink creates a file-backed sink writing to <dir>/audit.log.
func NewFileSink(opts FileSinkOptions) *FileSink {
	if opts.MaxSizeMB == 0 {
		opts.MaxSizeMB = 100
	}
	if opts.MaxAgeDays == 0 {
		opts.MaxAgeDays = 90
	}
	return &FileSink{
		writer: &lumberjack.Logger{
			Filename: filepath.Join(opts.Dir, "audit.log"),
			MaxSize:  opts.MaxSizeMB,
			MaxAge:   opts.MaxAgeDays,
			Compress: true,
		},
	}
}

// ID implements Sink.
func (f *FileSink) ID() string { return "file" }

// Emit appends one event as a JSON line.
func (f *FileSink) Emit(_ context.Context, event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// EmitBatch appends several events under one lock acquisition.
func (f *FileSink) EmitBatch(ctx context.Context, events []*Event) error {
	var buf []byte
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.writer.Write(buf); err != nil {
		return fmt.Errorf("failed to write audit batch: %w", err)
	}
	return nil
}

// Flush is a no-op; writes go straight to the file.
func (f *FileSink) Flush() error { return nil }

// Close closes the underlying file.
func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writer.Close()
}
