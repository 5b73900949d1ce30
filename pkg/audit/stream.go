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
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/trustcore/pkg/metrics"
	"github.com/telekom/trustcore/pkg/redact"
)

const (
	DefaultMaxBufferedEvents = 1000
	DefaultReplayWindow      = 60 * time.Second
)

// StreamSinkConfig configures a StreamSink.
type StreamSinkConfig struct {
	// Name identifies the sink in logs and metrics.
	// Default: "stream"
	Name string `yaml:"name"`

	// MaxBufferedEvents is the ring buffer capacity. The oldest event is
	// evicted when it is exceeded.
	// Default: 1000
	MaxBufferedEvents int `yaml:"maxBufferedEvents"`

	// ReplayWindow is how far back a snapshot without SinceTs reaches.
	// Default: 60s
	ReplayWindow time.Duration `yaml:"replayWindow"`

	// Redaction is applied to every payload on write.
	Redaction redact.Rules `yaml:"redaction"`

	Clock clock.PassiveClock `yaml:"-"`
}

// StreamSink is a bounded, replayable, deduplicating sink. Events are
// redacted and given their content-derived id on write. An event whose id
// is already buffered is accepted as an idempotent repeat and not stored
// twice.
type StreamSink struct {
	name     string
	windowMs int64
	redactor *redact.Redactor
	clock    clock.PassiveClock
	logger   *zap.Logger

	mu    sync.Mutex
	ring  []Event
	start int // index of the oldest event
	count int
	ids   map[string]struct{}
}

// NewStreamSink validates cfg and creates an empty StreamSink.
func NewStreamSink(cfg StreamSinkConfig, logger *zap.Logger) (*StreamSink, error) {
	if cfg.MaxBufferedEvents < 0 {
		return nil, fmt.Errorf("stream sink: maxBufferedEvents must not be negative, got %d", cfg.MaxBufferedEvents)
	}
	if cfg.ReplayWindow < 0 {
		return nil, fmt.Errorf("stream sink: replayWindow must not be negative, got %s", cfg.ReplayWindow)
	}
	if cfg.Name == "" {
		cfg.Name = "stream"
	}
	if cfg.MaxBufferedEvents == 0 {
		cfg.MaxBufferedEvents = DefaultMaxBufferedEvents
	}
	if cfg.ReplayWindow == 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r, err := redact.New(cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("stream sink %s: %w", cfg.Name, err)
	}

	return &StreamSink{
		name:     cfg.Name,
		windowMs: cfg.ReplayWindow.Milliseconds(),
		redactor: r,
		clock:    cfg.Clock,
		logger:   logger.Named("stream-sink").With(zap.String("sink", cfg.Name)),
		ring:     make([]Event, cfg.MaxBufferedEvents),
		ids:      make(map[string]struct{}, cfg.MaxBufferedEvents),
	}, nil
}

// Write redacts event, assigns its id and appends it to the ring.
func (s *StreamSink) Write(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event = event.clone()
	event.Payload = s.redactor.Redact(event.Payload)
	id, err := EventID(event)
	if err != nil {
		return fmt.Errorf("stream sink %s: %w", s.name, err)
	}
	event.EventID = id

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[id]; dup {
		metrics.AuditEventsDropped.WithLabelValues(s.name, "duplicate").Inc()
		return nil
	}

	if s.count == len(s.ring) {
		evicted := s.ring[s.start]
		delete(s.ids, evicted.EventID)
		s.ring[s.start] = event
		s.start = (s.start + 1) % len(s.ring)
		metrics.AuditEventsDropped.WithLabelValues(s.name, "evicted").Inc()
	} else {
		s.ring[(s.start+s.count)%len(s.ring)] = event
		s.count++
	}
	s.ids[id] = struct{}{}
	metrics.AuditStreamBuffered.WithLabelValues(s.name).Set(float64(s.count))
	return nil
}

// Snapshot returns buffered events with timestamp >= SinceTs, keeping the
// most recent Limit, in ascending timestamp order. Without SinceTs the
// lower bound is now minus the replay window.
func (s *StreamSink) Snapshot(filter SnapshotFilter) Snapshot {
	since := filter.SinceTs
	if since == nil {
		since = Since(s.clock.Now().UnixMilli() - s.windowMs)
	}

	s.mu.Lock()
	buffered := make([]Event, s.count)
	for i := 0; i < s.count; i++ {
		buffered[i] = s.ring[(s.start+i)%len(s.ring)]
	}
	s.mu.Unlock()

	return Snapshot{Events: selectEvents(buffered, since, filter.Limit)}
}

// Len returns the number of buffered events.
func (s *StreamSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Capacity returns the ring size.
func (s *StreamSink) Capacity() int {
	return len(s.ring)
}

// Close is a no-op; the buffer stays readable.
func (s *StreamSink) Close() error { return nil }

// Name returns the sink identifier.
func (s *StreamSink) Name() string { return s.name }
