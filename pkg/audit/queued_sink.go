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
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/metrics"
)

// QueuedSinkConfig configures a QueuedSink.
type QueuedSinkConfig struct {
	// QueueSize is the size of the async event queue.
	// Default: 10000
	QueueSize int `yaml:"queueSize"`

	// WorkerCount is the number of async processing workers.
	// Default: 2
	WorkerCount int `yaml:"workerCount"`

	// WriteTimeout bounds each write to the underlying sink. A timed out
	// write counts as failed and is not retried.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// LogDrops logs a warning for every event dropped because the queue is full.
	LogDrops bool `yaml:"logDrops"`
}

// DefaultQueuedSinkConfig returns sensible defaults for a queued sink.
func DefaultQueuedSinkConfig() QueuedSinkConfig {
	return QueuedSinkConfig{
		QueueSize:    10000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// QueuedSinkHealth represents the health status of a queued sink.
type QueuedSinkHealth struct {
	Name            string    `json:"name"`
	Healthy         bool      `json:"healthy"`
	QueueLength     int       `json:"queueLength"`
	QueueCapacity   int       `json:"queueCapacity"`
	DroppedEvents   int64     `json:"droppedEvents"`
	ProcessedEvents int64     `json:"processedEvents"`
	FailedEvents    int64     `json:"failedEvents"`
	LastError       string    `json:"lastError,omitempty"`
	LastErrorTime   time.Time `json:"lastErrorTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
}

// QueuedSink decouples callers from a slow sink. Write never blocks: a full
// queue drops the event and returns ErrQueueFull. Failures of the wrapped
// sink happen after Write has returned; they are held and returned, wrapped
// in ErrAsyncWriteFailed, by the next Write or by Close. Close drains the
// queue before closing the wrapped sink.
type QueuedSink struct {
	sink   Sink
	queue  chan Event
	config QueuedSinkConfig
	logger *zap.Logger

	droppedEvents   atomic.Int64
	processedEvents atomic.Int64
	failedEvents    atomic.Int64

	mu              sync.RWMutex
	lastError       string
	lastErrorTime   time.Time
	lastSuccessTime time.Time
	pendingErr      error
	pendingCount    int

	// closeMu orders sends against close(queue).
	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// NewQueuedSink creates a new QueuedSink wrapper around an existing sink.
func NewQueuedSink(sink Sink, cfg QueuedSinkConfig, logger *zap.Logger) *QueuedSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	qs := &QueuedSink{
		sink:   sink,
		queue:  make(chan Event, cfg.QueueSize),
		config: cfg,
		logger: logger.Named("queued-sink").With(zap.String("sink", sink.Name())),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		qs.wg.Add(1)
		go qs.processQueue(i)
	}

	qs.logger.Info("queued sink started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.Duration("write_timeout", cfg.WriteTimeout))

	return qs
}

// Write enqueues an event for async processing (non-blocking).
func (qs *QueuedSink) Write(_ context.Context, event Event) error {
	qs.closeMu.RLock()
	defer qs.closeMu.RUnlock()
	if qs.closed {
		return ErrSinkClosed
	}

	var err error
	select {
	case qs.queue <- event.clone():
		metrics.AuditQueueDepth.WithLabelValues(qs.sink.Name()).Set(float64(len(qs.queue)))
	default:
		qs.droppedEvents.Add(1)
		metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name(), "queue_full").Inc()
		if qs.config.LogDrops {
			qs.logger.Warn("audit queue full, dropping event",
				zap.String("event_type", event.EventType),
				zap.String("trace_id", event.TraceID))
		}
		err = fmt.Errorf("%s: %w", qs.sink.Name(), ErrQueueFull)
	}
	return multierr.Append(err, qs.takePending())
}

// takePending returns and clears the failures collected since the last call.
func (qs *QueuedSink) takePending() error {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if qs.pendingErr == nil {
		return nil
	}
	err := fmt.Errorf("%w: %d earlier event(s) to %s: %w", ErrAsyncWriteFailed, qs.pendingCount, qs.sink.Name(), qs.pendingErr)
	qs.pendingErr = nil
	qs.pendingCount = 0
	return err
}

// processQueue is the worker goroutine that processes events from the queue.
func (qs *QueuedSink) processQueue(workerID int) {
	defer qs.wg.Done()

	for event := range qs.queue {
		ctx, cancel := context.WithTimeout(context.Background(), qs.config.WriteTimeout)
		err := qs.sink.Write(ctx, event)
		cancel()
		metrics.AuditQueueDepth.WithLabelValues(qs.sink.Name()).Set(float64(len(qs.queue)))

		if err != nil {
			qs.failedEvents.Add(1)
			metrics.AuditSinkErrors.WithLabelValues(qs.sink.Name()).Inc()

			qs.mu.Lock()
			qs.lastError = err.Error()
			qs.lastErrorTime = time.Now()
			if qs.pendingCount == 0 {
				qs.pendingErr = err
			}
			qs.pendingCount++
			qs.mu.Unlock()

			qs.logger.Error("failed to write audit event",
				zap.Int("worker", workerID),
				zap.String("event_type", event.EventType),
				zap.String("trace_id", event.TraceID),
				zap.String("error", err.Error()))
			continue
		}

		qs.processedEvents.Add(1)
		metrics.AuditEventsWritten.WithLabelValues(qs.sink.Name()).Inc()

		qs.mu.Lock()
		qs.lastSuccessTime = time.Now()
		qs.mu.Unlock()
	}
}

// Health returns the current health status of this sink.
func (qs *QueuedSink) Health() QueuedSinkHealth {
	qs.mu.RLock()
	lastError := qs.lastError
	lastErrorTime := qs.lastErrorTime
	lastSuccessTime := qs.lastSuccessTime
	qs.mu.RUnlock()

	queueLen := len(qs.queue)
	queueCap := cap(qs.queue)

	// Healthy while the queue is below 80% and the last outcome was a success
	// (or nothing has failed yet).
	healthy := float64(queueLen) < float64(queueCap)*0.8 &&
		(lastErrorTime.IsZero() || lastSuccessTime.After(lastErrorTime))

	return QueuedSinkHealth{
		Name:            qs.sink.Name(),
		Healthy:         healthy,
		QueueLength:     queueLen,
		QueueCapacity:   queueCap,
		DroppedEvents:   qs.droppedEvents.Load(),
		ProcessedEvents: qs.processedEvents.Load(),
		FailedEvents:    qs.failedEvents.Load(),
		LastError:       lastError,
		LastErrorTime:   lastErrorTime,
		LastSuccessTime: lastSuccessTime,
	}
}

// Close stops accepting events, drains the queue and closes the wrapped sink.
// Failures of drained events not yet reported by Write are returned.
func (qs *QueuedSink) Close() error {
	qs.closeMu.Lock()
	if qs.closed {
		qs.closeMu.Unlock()
		return nil
	}
	qs.closed = true
	close(qs.queue)
	qs.closeMu.Unlock()

	qs.wg.Wait()
	return multierr.Append(qs.takePending(), qs.sink.Close())
}

// Name returns the underlying sink's name.
func (qs *QueuedSink) Name() string {
	return qs.sink.Name()
}
