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

	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/metrics"
)

// SinkProvider is the provider key under which sinks are tracked.
const SinkProvider = "audit.sink"

// Gate is the circuit breaker a GuardedSink consults. *health.Tracker
// satisfies it.
type Gate interface {
	IsCircuitOpen(provider, model string) bool
	NoteFailure(provider, model, reason string)
	NoteSuccess(provider, model string)
}

// GuardedSink wraps a Sink with circuit breaker protection. While the
// circuit for the sink is open, writes fail fast with ErrCircuitOpen.
//
// The gate must not deliver state changes back into this sink
// synchronously; use a tracker dedicated to sinks.
type GuardedSink struct {
	sink   Sink
	gate   Gate
	logger *zap.Logger
}

// NewGuardedSink wraps sink.
func NewGuardedSink(sink Sink, gate Gate, logger *zap.Logger) *GuardedSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardedSink{
		sink:   sink,
		gate:   gate,
		logger: logger.Named("guarded-sink").With(zap.String("sink", sink.Name())),
	}
}

// Write implements Sink with circuit breaker protection.
func (s *GuardedSink) Write(ctx context.Context, event Event) error {
	name := s.sink.Name()
	if s.gate.IsCircuitOpen(SinkProvider, name) {
		metrics.AuditEventsDropped.WithLabelValues(name, "circuit_open").Inc()
		return ErrCircuitOpen
	}
	if err := s.sink.Write(ctx, event); err != nil {
		s.gate.NoteFailure(SinkProvider, name, err.Error())
		return err
	}
	s.gate.NoteSuccess(SinkProvider, name)
	return nil
}

// Close closes the underlying sink.
func (s *GuardedSink) Close() error {
	s.logger.Info("closing guarded sink")
	return s.sink.Close()
}

// Name returns the sink name.
func (s *GuardedSink) Name() string {
	return s.sink.Name()
}
