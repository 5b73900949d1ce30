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
	"errors"
	"fmt"

	"github.com/telekom/trustcore/pkg/payload"
)

const (
	// SchemaVersion and EventVersion are the current wire compatibility markers.
	SchemaVersion = "1.0"
	EventVersion  = "1.0"
)

// ErrInvalidEvent is returned for events that cannot be recorded.
var ErrInvalidEvent = errors.New("audit: invalid event")

// Outcome is the decision attached to an event.
type Outcome string

const (
	OutcomeAllow           Outcome = "allow"
	OutcomeDeny            Outcome = "deny"
	OutcomeRequireApproval Outcome = "require_approval"
	OutcomeExecuted        Outcome = "executed"
	OutcomeFailed          Outcome = "failed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAllow, OutcomeDeny, OutcomeRequireApproval, OutcomeExecuted, OutcomeFailed:
		return true
	}
	return false
}

// RiskTier grades how dangerous the recorded action was.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// Valid reports whether r is a known tier. The empty tier is valid and
// means "not graded".
func (r RiskTier) Valid() bool {
	switch r {
	case "", RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Decision is why an action was or was not taken.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Event is one audit record.
type Event struct {
	SchemaVersion string        `json:"schemaVersion"`
	EventVersion  string        `json:"eventVersion"`
	EventID       string        `json:"eventId,omitempty"`
	Timestamp     int64         `json:"timestamp"`
	TraceID       string        `json:"traceId"`
	SpanID        string        `json:"spanId,omitempty"`
	ParentSpanID  string        `json:"parentSpanId,omitempty"`
	AgentID       string        `json:"agentId"`
	SkillID       string        `json:"skillId,omitempty"`
	EventType     string        `json:"eventType"`
	Decision      *Decision     `json:"decision,omitempty"`
	RiskTier      RiskTier      `json:"riskTier,omitempty"`
	Payload       payload.Value `json:"payload"`
}

// Validate checks the fields every sink relies on.
func (e Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("%w: eventType is required", ErrInvalidEvent)
	}
	if !e.RiskTier.Valid() {
		return fmt.Errorf("%w: unknown riskTier %q", ErrInvalidEvent, e.RiskTier)
	}
	if e.Decision != nil && !e.Decision.Outcome.Valid() {
		return fmt.Errorf("%w: unknown decision outcome %q", ErrInvalidEvent, e.Decision.Outcome)
	}
	return nil
}

// clone returns a copy that shares nothing mutable with e. Payload values
// are immutable and need no copy.
func (e Event) clone() Event {
	out := e
	if e.Decision != nil {
		d := *e.Decision
		out.Decision = &d
	}
	return out
}
