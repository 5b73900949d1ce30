// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/audit"
	"github.com/telekom/trustcore/pkg/health"
	"github.com/telekom/trustcore/pkg/metrics"
	"github.com/telekom/trustcore/pkg/payload"
	"github.com/telekom/trustcore/pkg/policy"
	"github.com/telekom/trustcore/pkg/tracing"
)

// Audit event types emitted by the service.
const (
	EventPolicyDecision     = "policy.decision"
	EventHealthStateChange  = "health.state_change"
	EventModelCallSucceeded = "model.call.succeeded"
	EventModelCallFailed    = "model.call.failed"
	EventModelCallRejected  = "model.call.rejected"
)

// ErrUnavailable is returned by Dispatch when the circuit for the target is open.
var ErrUnavailable = errors.New("model unavailable: circuit open")

// Service joins the audit logger, the health tracker and the configured policy
// layers. Every decision and every health transition becomes an audit event.
//
// The tracker invokes the transition handler while holding its lock, so the
// audit sink must not be gated by the same tracker.
type Service struct {
	audit   *audit.Logger
	tracker *health.Tracker
	layers  []policy.Layer
	base    policy.EffectivePolicy
	logger  *zap.Logger
}

// NewService validates layers and subscribes to tracker transitions.
func NewService(al *audit.Logger, tracker *health.Tracker, layers []policy.Layer, logger *zap.Logger) (*Service, error) {
	if al == nil || tracker == nil {
		return nil, errors.New("trust service: audit logger and health tracker are required")
	}
	base, err := policy.Resolve(layers...)
	if err != nil {
		return nil, fmt.Errorf("trust service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		audit:   al,
		tracker: tracker,
		layers:  append([]policy.Layer(nil), layers...),
		base:    base,
		logger:  logger.Named("trust"),
	}
	tracker.OnStateChange(s.onStateChange)
	return s, nil
}

// Tracker returns the health tracker.
func (s *Service) Tracker() *health.Tracker { return s.tracker }

// AuditLogger returns the audit logger.
func (s *Service) AuditLogger() *audit.Logger { return s.audit }

// Layers returns a copy of the configured policy layers, outermost first.
func (s *Service) Layers() []policy.Layer {
	return append([]policy.Layer(nil), s.layers...)
}

// EffectivePolicy resolves the configured layers narrowed by extra.
func (s *Service) EffectivePolicy(extra ...policy.Layer) (policy.EffectivePolicy, error) {
	if len(extra) == 0 {
		return s.base, nil
	}
	return policy.Resolve(append(s.Layers(), extra...)...)
}

// Authorize decides capability against the effective policy and records the
// decision. A sink failure is returned alongside a valid decision.
func (s *Service) Authorize(ctx context.Context, capability string, extra ...policy.Layer) (policy.Decision, error) {
	eff, err := s.EffectivePolicy(extra...)
	if err != nil {
		return policy.Decision{}, err
	}
	d := eff.Decide(capability)
	metrics.PolicyDecisions.WithLabelValues(string(d.Outcome)).Inc()

	names := make([]payload.Value, 0, len(s.layers)+len(extra))
	for _, l := range append(s.Layers(), extra...) {
		names = append(names, payload.String(l.Name))
	}
	_, err = s.audit.Log(ctx, audit.Entry{
		EventType: EventPolicyDecision,
		SkillID:   capability,
		Decision:  &audit.Decision{Outcome: audit.Outcome(d.Outcome), Reason: d.Reason},
		RiskTier:  decisionRisk(d.Outcome),
		Payload: payload.Map(map[string]payload.Value{
			"capability": payload.String(capability),
			"layers":     payload.List(names...),
		}),
	})
	if err != nil {
		return d, fmt.Errorf("authorize %s: %w", capability, err)
	}
	return d, nil
}

// RecordCall feeds the outcome of a model call to the tracker and records it.
func (s *Service) RecordCall(ctx context.Context, provider, model string, callErr error) error {
	entry := audit.Entry{
		EventType: EventModelCallSucceeded,
		Decision:  &audit.Decision{Outcome: audit.OutcomeExecuted},
		RiskTier:  audit.RiskLow,
		Payload:   callPayload(provider, model),
	}
	if callErr != nil {
		s.tracker.NoteFailureContext(ctx, provider, model, callErr.Error())
		entry.EventType = EventModelCallFailed
		entry.Decision = &audit.Decision{Outcome: audit.OutcomeFailed, Reason: callErr.Error()}
		entry.RiskTier = audit.RiskMedium
	} else {
		s.tracker.NoteSuccessContext(ctx, provider, model)
	}
	_, err := s.audit.Log(ctx, entry)
	return err
}

// Dispatch runs call against (provider, model) unless its circuit is open,
// then records the outcome. The call runs in a child span of ctx's trace.
func (s *Service) Dispatch(ctx context.Context, provider, model string, call func(ctx context.Context) error) error {
	if s.tracker.IsCircuitOpenContext(ctx, provider, model) {
		if _, err := s.audit.Log(ctx, audit.Entry{
			EventType: EventModelCallRejected,
			Decision:  &audit.Decision{Outcome: audit.OutcomeDeny, Reason: "circuit open"},
			RiskTier:  audit.RiskMedium,
			Payload:   callPayload(provider, model),
		}); err != nil {
			s.logger.Warn("failed to record rejected call", zap.Error(err))
		}
		return fmt.Errorf("%s/%s: %w", provider, model, ErrUnavailable)
	}

	attrs := tracing.Attributes{
		"provider": payload.String(provider),
		"modelRef": payload.String(model),
	}
	return tracing.RunChild(ctx, attrs, func(ctx context.Context) error {
		callErr := call(ctx)
		if err := s.RecordCall(ctx, provider, model, callErr); err != nil {
			s.logger.Warn("failed to record model call", zap.Error(err))
		}
		return callErr
	})
}

// Close closes the audit logger's sink.
func (s *Service) Close() error {
	return s.audit.Close()
}

// onStateChange records a transition in the trace of the call that caused it.
// Transitions driven directly through the tracker start their own trace.
func (s *Service) onStateChange(ctx context.Context, ev health.StateChangeEvent) {
	_, err := s.audit.Log(ctx, audit.Entry{
		EventType: EventHealthStateChange,
		RiskTier:  transitionRisk(ev.Next),
		Timestamp: ev.Timestamp,
		Payload: payload.Map(map[string]payload.Value{
			"provider": payload.String(ev.Provider),
			"modelRef": payload.String(ev.ModelRef),
			"previous": payload.String(string(ev.Previous)),
			"next":     payload.String(string(ev.Next)),
			"reason":   payload.String(ev.Reason),
		}),
	})
	if err != nil {
		s.logger.Warn("failed to record health transition",
			zap.String("provider", ev.Provider),
			zap.String("model", ev.ModelRef),
			zap.Error(err))
	}
}

func callPayload(provider, model string) payload.Value {
	return payload.Map(map[string]payload.Value{
		"provider": payload.String(provider),
		"modelRef": payload.String(model),
	})
}

func decisionRisk(o policy.Outcome) audit.RiskTier {
	switch o {
	case policy.OutcomeDeny:
		return audit.RiskHigh
	case policy.OutcomeRequireApproval:
		return audit.RiskMedium
	default:
		return audit.RiskLow
	}
}

func transitionRisk(next health.CircuitState) audit.RiskTier {
	switch next {
	case health.CircuitOpen:
		return audit.RiskHigh
	case health.CircuitHalfOpen:
		return audit.RiskMedium
	default:
		return audit.RiskLow
	}
}
