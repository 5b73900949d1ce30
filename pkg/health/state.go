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

// CircuitState represents the current state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed indicates normal operation - requests flow through.
	CircuitClosed CircuitState = "closed"
	// CircuitHalfOpen indicates the circuit is testing - a single probe is allowed.
	CircuitHalfOpen CircuitState = "half_open"
	// CircuitOpen indicates the circuit is tripped - requests are rejected.
	CircuitOpen CircuitState = "open"
)

// gaugeValue maps a state onto the trustcore_health_circuit_state gauge.
func (s CircuitState) gaugeValue() float64 {
	switch s {
	case CircuitHalfOpen:
		return 1
	case CircuitOpen:
		return 2
	default:
		return 0
	}
}

// Key identifies one tracked dependency.
type Key struct {
	Provider string
	Model    string
}

// State is the circuit breaker record for one Key. All timestamps are epoch
// milliseconds.
type State struct {
	Provider  string       `json:"provider"`
	ModelRef  string       `json:"modelRef"`
	Status    CircuitState `json:"status"`
	Failures  []int64      `json:"failures"`
	OpenUntil int64        `json:"openUntil,omitempty"`
	UpdatedAt int64        `json:"updatedAt"`
}

// Key returns the identity of s.
func (s State) Key() Key { return Key{Provider: s.Provider, Model: s.ModelRef} }

func (s State) clone() State {
	out := s
	out.Failures = append([]int64(nil), s.Failures...)
	return out
}

// StateChangeEvent records one transition. It is delivered to subscribers and
// never stored by the tracker.
type StateChangeEvent struct {
	Provider  string       `json:"provider"`
	ModelRef  string       `json:"modelRef"`
	Previous  CircuitState `json:"previous"`
	Next      CircuitState `json:"next"`
	Timestamp int64        `json:"timestamp"`
	Reason    string       `json:"reason,omitempty"`
}

// PruneFailures returns the failures no older than window relative to now.
// The input is not modified.
func PruneFailures(failures []int64, now, windowMs int64) []int64 {
	out := make([]int64, 0, len(failures))
	for _, f := range failures {
		if now-f <= windowMs {
			out = append(out, f)
		}
	}
	return out
}

// IsOpen reports whether s rejects calls at now.
func IsOpen(s State, now int64) bool {
	return s.Status == CircuitOpen && now < s.OpenUntil
}

// ProbeEligible reports whether an open circuit has cooled down and the next
// attempted call may move it to half_open.
func ProbeEligible(s State, now int64) bool {
	return s.Status == CircuitOpen && now >= s.OpenUntil
}

// Transition returns s moved to next at now. Entering open sets OpenUntil;
// entering closed clears failures; leaving open clears OpenUntil.
func Transition(s State, next CircuitState, now, openMs int64) State {
	out := s.clone()
	out.Status = next
	out.UpdatedAt = now
	switch next {
	case CircuitOpen:
		out.OpenUntil = now + openMs
	case CircuitClosed:
		out.Failures = nil
		out.OpenUntil = 0
	case CircuitHalfOpen:
		out.OpenUntil = 0
	}
	return out
}
