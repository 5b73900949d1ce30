// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package subscription

import (
	"fmt"
	"slices"

	"github.com/telekom/trustcore/pkg/audit"
)

// ModelRefField is the payload key carrying the model an event concerns.
const ModelRefField = "modelRef"

// Filter selects events for a subscriber. Empty fields match everything;
// list fields match any of their entries.
type Filter struct {
	AgentID         string           `json:"agentId,omitempty"`
	EventTypes      []string         `json:"eventTypes,omitempty"`
	ModelRefs       []string         `json:"modelRefs,omitempty"`
	DecisionOutcome audit.Outcome    `json:"decisionOutcome,omitempty"`
	RiskTiers       []audit.RiskTier `json:"riskTiers,omitempty"`
	SinceTs         *int64           `json:"sinceTs,omitempty"`
	// SkipAtSince drops that many matching events stamped exactly SinceTs,
	// the ones an earlier truncated page already delivered.
	SkipAtSince int `json:"skipAtSince,omitempty"`
	Limit       int `json:"limit,omitempty"`
}

// Validate rejects filters with unknown enum values or a negative limit.
func (f Filter) Validate() error {
	if f.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidFilter)
	}
	if f.SkipAtSince < 0 {
		return fmt.Errorf("%w: skipAtSince must not be negative", ErrInvalidFilter)
	}
	if f.SkipAtSince > 0 && f.SinceTs == nil {
		return fmt.Errorf("%w: skipAtSince requires sinceTs", ErrInvalidFilter)
	}
	if f.DecisionOutcome != "" && !f.DecisionOutcome.Valid() {
		return fmt.Errorf("%w: unknown decision outcome %q", ErrInvalidFilter, f.DecisionOutcome)
	}
	for _, r := range f.RiskTiers {
		if r == "" || !r.Valid() {
			return fmt.Errorf("%w: unknown risk tier %q", ErrInvalidFilter, r)
		}
	}
	return nil
}

// Matches reports whether e passes every set criterion. SinceTs and Limit are
// applied by the snapshot, not here.
func (f Filter) Matches(e audit.Event) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if f.DecisionOutcome != "" && (e.Decision == nil || e.Decision.Outcome != f.DecisionOutcome) {
		return false
	}
	if len(f.RiskTiers) > 0 && !slices.Contains(f.RiskTiers, e.RiskTier) {
		return false
	}
	if len(f.ModelRefs) > 0 {
		ref, ok := e.Payload.Get(ModelRefField)
		if !ok {
			return false
		}
		s, ok := ref.AsString()
		if !ok || !slices.Contains(f.ModelRefs, s) {
			return false
		}
	}
	return true
}
