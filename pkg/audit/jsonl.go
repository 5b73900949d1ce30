/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// JSONLSink appends one JSON record per line to a durable destination.
// Write failures are returned to the caller. It has no read-back; use
// ReadJSONL on the file instead.
type JSONLSink struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	w      io.Writer
	file   *os.File // set when the sink owns the destination
	closed bool
	fsync  bool
}

// JSONLOption customises a JSONLSink.
type JSONLOption func(*JSONLSink)

// WithFsync makes every write call fsync on file-backed sinks.
func WithFsync() JSONLOption {
	return func(s *JSONLSink) { s.fsync = true }
}

// NewJSONLSink opens path for appending, creating it and its parent
// directory when missing.
func NewJSONLSink(path string, logger *zap.Logger, opts ...JSONLOption) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create audit log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	s := newJSONL("jsonl:"+filepath.Base(path), f, logger, opts)
	s.file = f
	s.logger.Info("jsonl sink opened", zap.String("path", path), zap.Bool("fsync", s.fsync))
	return s, nil
}

// NewJSONLWriter writes records to w. The sink does not close w.
func NewJSONLWriter(name string, w io.Writer, logger *zap.Logger, opts ...JSONLOption) *JSONLSink {
	if name == "" {
		name = "jsonl"
	}
	return newJSONL(name, w, logger, opts)
}

func newJSONL(name string, w io.Writer, logger *zap.Logger, opts []JSONLOption) *JSONLSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &JSONLSink{
		name:   name,
		w:      w,
		logger: logger.Named("jsonl-sink").With(zap.String("sink", name)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write appends the event's canonical record. When ctx carries a deadline
// that expires first, the write is reported as failed; the record may still
// land afterwards but is never torn.
func (s *JSONLSink) Write(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("jsonl sink %s: %w", s.name, err)
	}
	ser, err := Serialize(event)
	if err != nil {
		return err
	}
	line := append(ser.Record, '\n')

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return s.append(line)
	}

	done := make(chan error, 1)
	go func() { done <- s.append(line) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("jsonl sink %s: write of %s: %w", s.name, ser.EventID, ctx.Err())
	}
}

func (s *JSONLSink) append(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	// One Write per record keeps lines whole under O_APPEND.
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("jsonl sink %s: append: %w", s.name, err)
	}
	if s.fsync && s.file != nil {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("jsonl sink %s: fsync: %w", s.name, err)
		}
	}
	return nil
}

// Close closes the file when the sink opened it.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Name returns the sink identifier.
func (s *JSONLSink) Name() string {
	return s.name
}
