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
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/metrics"
)

var (
	// ErrSinkClosed is returned by writes after Close.
	ErrSinkClosed = errors.New("audit: sink is closed")
	// ErrCircuitOpen is returned by a GuardedSink while its circuit is open.
	ErrCircuitOpen = errors.New("audit: sink circuit is open")
	// ErrQueueFull is returned by a QueuedSink that dropped the event.
	ErrQueueFull = errors.New("audit: sink queue is full")
	// ErrAsyncWriteFailed reports queued events the wrapped sink rejected
	// after their Write had already returned.
	ErrAsyncWriteFailed = errors.New("audit: queued write failed")
)

// Sink defines the interface for audit event destinations.
type Sink interface {
	// Write hands an event to the sink. The sink keeps its own copy.
	Write(ctx context.Context, event Event) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// QuerySink is a Sink that can return what it has accepted.
type QuerySink interface {
	Sink
	Snapshot(filter SnapshotFilter) Snapshot
}

// SnapshotFilter narrows a snapshot. SinceTs is an inclusive lower bound on
// the timestamp; Limit keeps the most recent qualifying events. Zero Limit
// means no limit.
type SnapshotFilter struct {
	SinceTs *int64 `json:"sinceTs,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Since is a helper for building filters.
func Since(ts int64) *int64 { return &ts }

// Snapshot is a timestamp-ordered view of a query sink.
type Snapshot struct {
	Events []Event `json:"events"`
}

// selectEvents applies a filter to events, returning copies in ascending
// timestamp order. Events with equal timestamps keep their arrival order.
func selectEvents(events []Event, since *int64, limit int) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if since != nil && e.Timestamp < *since {
			continue
		}
		out = append(out, e.clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// LogSink writes audit events to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Write logs the audit event.
func (s *LogSink) Write(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.Int64("timestamp", event.Timestamp),
		zap.String("trace_id", event.TraceID),
		zap.String("agent_id", event.AgentID),
	}

	if event.SpanID != "" {
		fields = append(fields, zap.String("span_id", event.SpanID))
	}
	if event.SkillID != "" {
		fields = append(fields, zap.String("skill_id", event.SkillID))
	}
	if event.RiskTier != "" {
		fields = append(fields, zap.String("risk_tier", string(event.RiskTier)))
	}
	if event.Decision != nil {
		fields = append(fields, zap.String("decision", string(event.Decision.Outcome)))
		if event.Decision.Reason != "" {
			fields = append(fields, zap.String("decision_reason", event.Decision.Reason))
		}
	}
	if event.Payload.Len() > 0 {
		fields = append(fields, zap.String("payload", event.Payload.String()))
	}

	s.logger.Info("audit_event", fields...)
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// CompositeSink fans each write out to every child. A failing child never
// stops the others; all failures are returned together and can be
// recovered with multierr.Errors.
type CompositeSink struct {
	name   string
	sinks  []Sink
	logger *zap.Logger
}

// NewCompositeSink creates a sink that writes to multiple destinations.
func NewCompositeSink(name string, logger *zap.Logger, sinks ...Sink) *CompositeSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = "composite"
	}
	return &CompositeSink{
		name:   name,
		sinks:  sinks,
		logger: logger.Named("composite-sink"),
	}
}

// Write sends the event to all sinks in order and aggregates failures.
func (s *CompositeSink) Write(ctx context.Context, event Event) error {
	var errs error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, event.clone()); err != nil {
			// Use string representation to avoid noisy stacktraces for transient errors
			s.logger.Warn("audit sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("event_type", event.EventType),
				zap.String("error", err.Error()))
			metrics.AuditSinkErrors.WithLabelValues(sink.Name()).Inc()
			errs = multierr.Append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
			continue
		}
		metrics.AuditEventsWritten.WithLabelValues(sink.Name()).Inc()
	}
	return errs
}

// Close closes all sinks and returns every failure.
func (s *CompositeSink) Close() error {
	var errs error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close sink %s: %w", sink.Name(), err))
		}
	}
	return errs
}

// Name returns the sink identifier.
func (s *CompositeSink) Name() string {
	return s.name
}

// Sinks returns the children in write order.
func (s *CompositeSink) Sinks() []Sink {
	return append([]Sink(nil), s.sinks...)
}
