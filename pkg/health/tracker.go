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

package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/trustcore/pkg/metrics"
)

const (
	DefaultFailureThreshold = 5
	DefaultWindow           = 60 * time.Second
	DefaultOpenDuration     = 60 * time.Second
)

// ErrInvalidConfig is returned by NewTracker for negative settings.
var ErrInvalidConfig = errors.New("health: invalid tracker config")

// Config configures a Tracker. Zero values select the defaults.
type Config struct {
	// FailureThreshold is the number of failures inside Window that opens the circuit.
	// Default: 5
	FailureThreshold int `yaml:"failureThreshold" json:"failureThreshold"`

	// Window is how far back failures are counted.
	// Default: 60s
	Window time.Duration `yaml:"window" json:"window"`

	// OpenDuration is how long an open circuit rejects calls before a probe.
	// Default: 60s
	OpenDuration time.Duration `yaml:"openDuration" json:"openDuration"`

	// Clock defaults to the wall clock.
	Clock clock.PassiveClock `yaml:"-" json:"-"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		Window:           DefaultWindow,
		OpenDuration:     DefaultOpenDuration,
	}
}

// Validate rejects negative values.
func (c Config) Validate() error {
	if c.FailureThreshold < 0 {
		return fmt.Errorf("%w: failureThreshold must not be negative, got %d", ErrInvalidConfig, c.FailureThreshold)
	}
	if c.Window < 0 {
		return fmt.Errorf("%w: window must not be negative, got %s", ErrInvalidConfig, c.Window)
	}
	if c.OpenDuration < 0 {
		return fmt.Errorf("%w: openDuration must not be negative, got %s", ErrInvalidConfig, c.OpenDuration)
	}
	// state is kept in epoch milliseconds
	if c.Window > 0 && c.Window < time.Millisecond {
		return fmt.Errorf("%w: window must be at least 1ms, got %s", ErrInvalidConfig, c.Window)
	}
	if c.OpenDuration > 0 && c.OpenDuration < time.Millisecond {
		return fmt.Errorf("%w: openDuration must be at least 1ms, got %s", ErrInvalidConfig, c.OpenDuration)
	}
	return nil
}

// StateChangeHandler receives transitions along with the context of the call
// that caused them. Handlers run synchronously while the tracker lock is held
// and must not call back into the same Tracker.
type StateChangeHandler func(ctx context.Context, ev StateChangeEvent)

// Tracker keeps one circuit breaker per (provider, model).
type Tracker struct {
	threshold int
	windowMs  int64
	openMs    int64
	clock     clock.PassiveClock
	logger    *zap.Logger

	mu       sync.Mutex
	states   map[Key]*State
	probes   map[Key]int64 // start of the in-flight half_open probe
	handlers []StateChangeHandler
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config, logger *zap.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.OpenDuration == 0 {
		cfg.OpenDuration = DefaultOpenDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracker{
		threshold: cfg.FailureThreshold,
		windowMs:  cfg.Window.Milliseconds(),
		openMs:    cfg.OpenDuration.Milliseconds(),
		clock:     cfg.Clock,
		logger:    logger.Named("health"),
		states:    make(map[Key]*State),
		probes:    make(map[Key]int64),
	}

	t.logger.Info("health tracker created",
		zap.Int("failure_threshold", cfg.FailureThreshold),
		zap.Duration("window", cfg.Window),
		zap.Duration("open_duration", cfg.OpenDuration))

	return t, nil
}

// OnStateChange registers h. Handlers are invoked in registration order.
func (t *Tracker) OnStateChange(h StateChangeHandler) {
	if h == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// NoteFailure records a failed call.
func (t *Tracker) NoteFailure(provider, model, reason string) {
	t.NoteFailureContext(context.Background(), provider, model, reason)
}

// NoteFailureContext is NoteFailure with ctx handed to state change handlers.
func (t *Tracker) NoteFailureContext(ctx context.Context, provider, model, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := Key{Provider: provider, Model: model}
	st := t.lookup(key, now)
	delete(t.probes, key)

	st.Failures = PruneFailures(append(st.Failures, now), now, t.windowMs)
	st.UpdatedAt = now

	switch st.Status {
	case CircuitClosed:
		if len(st.Failures) >= t.threshold {
			t.transition(ctx, st, CircuitOpen, now, reason)
		}
	case CircuitHalfOpen:
		t.transition(ctx, st, CircuitOpen, now, reason)
	case CircuitOpen:
		// Extends the cool-down; status is unchanged so nothing is emitted.
		st.OpenUntil = now + t.openMs
	}
}

// NoteSuccess records a successful call.
func (t *Tracker) NoteSuccess(provider, model string) {
	t.NoteSuccessContext(context.Background(), provider, model)
}

// NoteSuccessContext is NoteSuccess with ctx handed to state change handlers.
func (t *Tracker) NoteSuccessContext(ctx context.Context, provider, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := Key{Provider: provider, Model: model}
	st := t.lookup(key, now)
	delete(t.probes, key)

	switch st.Status {
	case CircuitClosed:
		st.Failures = PruneFailures(st.Failures, now, t.windowMs)
	case CircuitHalfOpen:
		t.transition(ctx, st, CircuitClosed, now, "probe succeeded")
	case CircuitOpen:
		if !ProbeEligible(*st, now) {
			return
		}
		// The caller attempted a call without consulting IsCircuitOpen; treat
		// it as the probe.
		t.transition(ctx, st, CircuitHalfOpen, now, "cool-down elapsed")
		t.transition(ctx, st, CircuitClosed, now, "probe succeeded")
	}
}

// IsCircuitOpen reports whether a call to (provider, model) must be skipped.
// It is the gate for an attempted call: an open circuit whose cool-down has
// elapsed moves to half_open and admits exactly one probe. Further checks
// report open until the probe outcome is noted, or until the probe has been
// outstanding for a full open duration.
func (t *Tracker) IsCircuitOpen(provider, model string) bool {
	return t.IsCircuitOpenContext(context.Background(), provider, model)
}

// IsCircuitOpenContext is IsCircuitOpen with ctx handed to state change
// handlers.
func (t *Tracker) IsCircuitOpenContext(ctx context.Context, provider, model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := Key{Provider: provider, Model: model}
	st, ok := t.states[key]
	if !ok {
		return false
	}

	switch st.Status {
	case CircuitOpen:
		if IsOpen(*st, now) {
			metrics.HealthCallsRejected.WithLabelValues(provider, model).Inc()
			return true
		}
		t.transition(ctx, st, CircuitHalfOpen, now, "cool-down elapsed")
		t.probes[key] = now
		return false
	case CircuitHalfOpen:
		if started, inFlight := t.probes[key]; inFlight && now-started < t.openMs {
			metrics.HealthCallsRejected.WithLabelValues(provider, model).Inc()
			return true
		}
		t.probes[key] = now
		return false
	default:
		return false
	}
}

// State returns a snapshot of the record for (provider, model) with the
// failure window pruned. It never changes the tracker.
func (t *Tracker) State(provider, model string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[Key{Provider: provider, Model: model}]
	if !ok {
		return State{}, false
	}
	out := st.clone()
	out.Failures = PruneFailures(st.Failures, t.now(), t.windowMs)
	return out, true
}

// ProbeEligible reports whether the circuit is open with its cool-down
// elapsed. It never changes the tracker.
func (t *Tracker) ProbeEligible(provider, model string) bool {
	st, ok := t.State(provider, model)
	return ok && ProbeEligible(st, t.now())
}

// States returns snapshots of every tracked record sorted by provider, model.
func (t *Tracker) States() []State {
	t.mu.Lock()
	now := t.now()
	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		s := st.clone()
		s.Failures = PruneFailures(st.Failures, now, t.windowMs)
		out = append(out, s)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ModelRef < out[j].ModelRef
	})
	return out
}

func (t *Tracker) now() int64 {
	return t.clock.Now().UnixMilli()
}

// lookup returns the record for key, creating a closed one. Caller holds mu.
func (t *Tracker) lookup(key Key, now int64) *State {
	st, ok := t.states[key]
	if !ok {
		st = &State{Provider: key.Provider, ModelRef: key.Model, Status: CircuitClosed, UpdatedAt: now}
		t.states[key] = st
	}
	return st
}

// transition commits next into the map and then notifies. Caller holds mu.
func (t *Tracker) transition(ctx context.Context, st *State, next CircuitState, now int64, reason string) {
	prev := st.Status
	if prev == next {
		return
	}
	*st = Transition(*st, next, now, t.openMs)

	t.logger.Info("circuit breaker state changed",
		zap.String("provider", st.Provider),
		zap.String("model", st.ModelRef),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("reason", reason))

	metrics.HealthTransitions.WithLabelValues(st.Provider, st.ModelRef, string(next)).Inc()
	metrics.HealthCircuitState.WithLabelValues(st.Provider, st.ModelRef).Set(next.gaugeValue())

	ev := StateChangeEvent{
		Provider:  st.Provider,
		ModelRef:  st.ModelRef,
		Previous:  prev,
		Next:      next,
		Timestamp: now,
		Reason:    reason,
	}
	for _, h := range t.handlers {
		h(ctx, ev)
	}
}
