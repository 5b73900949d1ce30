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

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/trustcore/pkg/metrics"
	"github.com/telekom/trustcore/pkg/payload"
	"github.com/telekom/trustcore/pkg/redact"
	"github.com/telekom/trustcore/pkg/tracing"
)

// LoggerConfig configures a Logger.
type LoggerConfig struct {
	// Redaction is applied to every payload before it reaches the sink.
	Redaction redact.Rules

	// DefaultAgentID is used when neither the entry nor the trace names one.
	DefaultAgentID string

	Clock clock.PassiveClock
}

// Entry is what callers record. Trace identifiers come from the context.
type Entry struct {
	EventType string
	AgentID   string
	SkillID   string
	Decision  *Decision
	RiskTier  RiskTier
	Payload   payload.Value
	// Timestamp in epoch milliseconds; zero means now.
	Timestamp int64
}

// Logger is the entry point agents and tools call. It stamps, redacts and
// serializes each entry, then forwards it to one sink (often a CompositeSink).
type Logger struct {
	sink     Sink
	redactor *redact.Redactor
	agentID  string
	clock    clock.PassiveClock
	logger   *zap.Logger
}

// NewLogger creates a Logger writing to sink.
func NewLogger(sink Sink, cfg LoggerConfig, logger *zap.Logger) (*Logger, error) {
	if sink == nil {
		return nil, fmt.Errorf("audit logger: sink is required")
	}
	r, err := redact.New(cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		sink:     sink,
		redactor: r,
		agentID:  cfg.DefaultAgentID,
		clock:    cfg.Clock,
		logger:   logger.Named("audit-logger"),
	}, nil
}

// Log records entry. The returned event carries its eventId. A sink failure
// is returned together with the event so the caller can decide whether to
// alert; the event is still valid.
func (l *Logger) Log(ctx context.Context, entry Entry) (Event, error) {
	tc, ok := tracing.FromContext(ctx)
	if !ok {
		tc = tracing.NewRoot("", entry.AgentID, nil)
	}

	ev := Event{
		SchemaVersion: SchemaVersion,
		EventVersion:  EventVersion,
		Timestamp:     entry.Timestamp,
		TraceID:       tc.TraceID,
		SpanID:        tc.SpanID,
		ParentSpanID:  tc.ParentSpanID,
		AgentID:       firstNonEmpty(entry.AgentID, tc.AgentID, l.agentID),
		SkillID:       entry.SkillID,
		EventType:     entry.EventType,
		RiskTier:      entry.RiskTier,
		Payload:       entry.Payload,
	}
	if entry.Decision != nil {
		d := *entry.Decision
		ev.Decision = &d
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = l.clock.Now().UnixMilli()
	}
	if ev.Payload.IsNull() {
		ev.Payload = payload.Map(nil)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}

	ev.Payload = l.redactor.Redact(ev.Payload)
	id, err := EventID(ev)
	if err != nil {
		return Event{}, err
	}
	ev.EventID = id

	if err := l.sink.Write(ctx, ev); err != nil {
		metrics.AuditSinkErrors.WithLabelValues(l.sink.Name()).Inc()
		l.logger.Warn("audit event not fully recorded",
			zap.String("event_id", id),
			zap.String("event_type", ev.EventType),
			zap.String("error", err.Error()))
		return ev, fmt.Errorf("record %s: %w", ev.EventType, err)
	}
	metrics.AuditEventsWritten.WithLabelValues(l.sink.Name()).Inc()
	return ev, nil
}

// Sink returns the configured sink.
func (l *Logger) Sink() Sink { return l.sink }

// Close closes the configured sink.
func (l *Logger) Close() error {
	return l.sink.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
