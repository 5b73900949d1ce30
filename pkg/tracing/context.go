// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package tracing carries trace identifiers through a call tree.
//
// A Context is an immutable value. Children share the trace id of their
// parent and receive a fresh span id. The ambient binding is stored in a
// context.Context, so it is scoped to the call chain that received it and
// concurrent flows never observe each other's trace.
package tracing

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/payload"
)

// Attributes are span annotations. Values should be scalars.
type Attributes map[string]payload.Value

// Context identifies one span within a trace.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	RequestID    string
	AgentID      string

	attrs Attributes
}

// NewRoot starts a new trace. requestID and agentID may be empty.
func NewRoot(requestID, agentID string, attrs Attributes) Context {
	return Context{
		TraceID:   newTraceID(),
		SpanID:    newSpanID(),
		RequestID: requestID,
		AgentID:   agentID,
		attrs:     merge(nil, attrs),
	}
}

// NewChildSpan derives a span from parent. Child attributes override the
// parent's on key collision.
func NewChildSpan(parent Context, attrs Attributes) Context {
	return Context{
		TraceID:      parent.TraceID,
		SpanID:       newSpanID(),
		ParentSpanID: parent.SpanID,
		RequestID:    parent.RequestID,
		AgentID:      parent.AgentID,
		attrs:        merge(parent.attrs, attrs),
	}
}

// IsRoot reports whether c has no parent span.
func (c Context) IsRoot() bool { return c.ParentSpanID == "" }

// IsZero reports whether c was never initialised.
func (c Context) IsZero() bool { return c.TraceID == "" }

// Attributes returns a copy of the span attributes.
func (c Context) Attributes() Attributes {
	return merge(nil, c.attrs)
}

// Attribute returns one attribute.
func (c Context) Attribute(key string) (payload.Value, bool) {
	v, ok := c.attrs[key]
	return v, ok
}

// ZapFields returns the identifiers as log fields.
func (c Context) ZapFields() []zap.Field {
	fields := []zap.Field{zap.String("traceId", c.TraceID), zap.String("spanId", c.SpanID)}
	if c.ParentSpanID != "" {
		fields = append(fields, zap.String("parentSpanId", c.ParentSpanID))
	}
	if c.RequestID != "" {
		fields = append(fields, zap.String("requestId", c.RequestID))
	}
	if c.AgentID != "" {
		fields = append(fields, zap.String("agentId", c.AgentID))
	}
	return fields
}

func merge(base, override Attributes) Attributes {
	out := make(Attributes, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// newTraceID returns 32 hex characters from a random UUID.
func newTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// newSpanID returns 16 hex characters.
func newSpanID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

type ctxKey struct{}

// WithTrace binds tc to ctx. The binding lives as long as the returned
// context is in use.
func WithTrace(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the trace bound to ctx.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// Run calls fn with tc bound as the current trace. The caller's ctx is left
// untouched, so the binding ends when fn returns.
func Run(ctx context.Context, tc Context, fn func(ctx context.Context) error) error {
	return fn(WithTrace(ctx, tc))
}

// RunChild runs fn inside a new span derived from the current trace, or
// inside a new root when ctx carries none.
func RunChild(ctx context.Context, attrs Attributes, fn func(ctx context.Context) error) error {
	ctx, _ = StartSpan(ctx, attrs)
	return fn(ctx)
}

// StartSpan derives a child of the current trace, or a new root, and binds it.
func StartSpan(ctx context.Context, attrs Attributes) (context.Context, Context) {
	var tc Context
	if parent, ok := FromContext(ctx); ok {
		tc = NewChildSpan(parent, attrs)
	} else {
		tc = NewRoot("", "", attrs)
	}
	return WithTrace(ctx, tc), tc
}
