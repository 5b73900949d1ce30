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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/telekom/trustcore/pkg/payload"
	"github.com/telekom/trustcore/pkg/redact"
	"github.com/telekom/trustcore/pkg/tracing"
)

func newTestLogger(t *testing.T, sink Sink) *Logger {
	t.Helper()
	l, err := NewLogger(sink, LoggerConfig{
		DefaultAgentID: "default-agent",
		Clock:          testingclock.NewFakeClock(time.UnixMilli(baseTs)),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return l
}

func TestLogger_StampsTraceAndTime(t *testing.T) {
	mem := NewMemorySink("mem")
	l := newTestLogger(t, mem)

	root := tracing.NewRoot("req-1", "agent-1", nil)
	ctx := tracing.WithTrace(context.Background(), root)
	ctx, span := tracing.StartSpan(ctx, nil)

	ev, err := l.Log(ctx, Entry{
		EventType: "tool.call.start",
		SkillID:   "web.search",
		Decision:  &Decision{Outcome: OutcomeAllow},
		RiskTier:  RiskLow,
		Payload:   payload.MustFromAny(map[string]any{"query": "weather"}),
	})
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, ev.SchemaVersion)
	assert.Equal(t, EventVersion, ev.EventVersion)
	assert.Equal(t, baseTs, ev.Timestamp)
	assert.Equal(t, root.TraceID, ev.TraceID)
	assert.Equal(t, span.SpanID, ev.SpanID)
	assert.Equal(t, root.SpanID, ev.ParentSpanID)
	assert.Equal(t, "agent-1", ev.AgentID)

	want, err := EventID(ev)
	require.NoError(t, err)
	assert.Equal(t, want, ev.EventID)

	require.Equal(t, 1, mem.Len())
	assert.Equal(t, ev.EventID, mem.Events()[0].EventID)
}

func TestLogger_RedactsBeforeSink(t *testing.T) {
	mem := NewMemorySink("mem")
	l := newTestLogger(t, mem)

	_, err := l.Log(context.Background(), Entry{
		EventType: "model.call",
		Payload: payload.MustFromAny(map[string]any{
			"api_key": "sk-123",
			"prompt":  strings.Repeat("long ", 10),
		}),
	})
	require.NoError(t, err)

	stored := mem.Events()[0].Payload
	key, _ := stored.Get("api_key")
	s, _ := key.AsString()
	assert.Equal(t, redact.Marker, s)
	prompt, _ := stored.Get("prompt")
	assert.True(t, redact.IsDigest(prompt))
}

func TestLogger_Defaults(t *testing.T) {
	mem := NewMemorySink("mem")
	l := newTestLogger(t, mem)

	ev, err := l.Log(context.Background(), Entry{EventType: "agent.start", Timestamp: 42})
	require.NoError(t, err)

	assert.Equal(t, int64(42), ev.Timestamp)
	assert.Equal(t, "default-agent", ev.AgentID)
	assert.Len(t, ev.TraceID, 32, "a root trace is created when none is bound")
	assert.Equal(t, payload.KindMap, ev.Payload.Kind())
	assert.Equal(t, 0, ev.Payload.Len())
}

func TestLogger_RejectsInvalidEntries(t *testing.T) {
	mem := NewMemorySink("mem")
	l := newTestLogger(t, mem)

	_, err := l.Log(context.Background(), Entry{})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = l.Log(context.Background(), Entry{EventType: "x", RiskTier: "severe"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	assert.Zero(t, mem.Len())
}

func TestLogger_SurfacesSinkFailure(t *testing.T) {
	bad := newMockSink("bad")
	bad.alwaysFail = true
	good := NewMemorySink("good")
	l := newTestLogger(t, NewCompositeSink("all", nil, bad, good))

	ev, err := l.Log(context.Background(), Entry{EventType: "tool.call.end"})
	require.Error(t, err)
	assert.NotEmpty(t, ev.EventID, "the event is returned even when a sink failed")
	assert.Equal(t, 1, good.Len())
}

func TestLogger_SameInputSameID(t *testing.T) {
	mem := NewMemorySink("mem")
	l := newTestLogger(t, mem)
	ctx := tracing.WithTrace(context.Background(), tracing.NewRoot("", "a", nil))

	entry := Entry{EventType: "tool.call", Payload: payload.MustFromAny(map[string]any{"x": 1})}
	first, err := l.Log(ctx, entry)
	require.NoError(t, err)
	second, err := l.Log(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, first.EventID, second.EventID)
}

func TestNewLogger_Validation(t *testing.T) {
	_, err := NewLogger(nil, LoggerConfig{}, nil)
	assert.Error(t, err)

	_, err = NewLogger(NewMemorySink(""), LoggerConfig{Redaction: redact.Rules{MaxStringLength: -5}}, nil)
	assert.ErrorIs(t, err, redact.ErrInvalidRules)
}
