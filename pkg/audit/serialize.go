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
	"fmt"

	"github.com/telekom/trustcore/pkg/payload"
	"github.com/telekom/trustcore/pkg/stablehash"
)

// Serialized is the canonical form of an event.
type Serialized struct {
	// EventID is the digest of Canonical.
	EventID string
	// Canonical is the sorted-key JSON of the event without eventId.
	Canonical []byte
	// Record is the sorted-key JSON of the event including eventId; this is
	// what line-oriented sinks persist.
	Record []byte
}

// Serialize canonicalizes e and derives its event id. Any existing EventID
// on e is ignored, so re-serializing a persisted event yields the same id.
func Serialize(e Event) (Serialized, error) {
	fields := eventFields(e)

	canonical, err := payload.Map(fields).Canonical()
	if err != nil {
		return Serialized{}, fmt.Errorf("canonicalize event %s: %w", e.EventType, err)
	}
	id := stablehash.SumBytes(canonical)

	fields["eventId"] = payload.String(id)
	record, err := payload.Map(fields).Canonical()
	if err != nil {
		return Serialized{}, fmt.Errorf("encode event %s: %w", e.EventType, err)
	}

	return Serialized{EventID: id, Canonical: canonical, Record: record}, nil
}

// EventID is shorthand for Serialize(e).EventID.
func EventID(e Event) (string, error) {
	s, err := Serialize(e)
	if err != nil {
		return "", err
	}
	return s.EventID, nil
}

// Verify reports whether e carries the id its content hashes to. A record
// edited after it was written no longer verifies.
func Verify(e Event) (bool, error) {
	if e.EventID == "" {
		return false, nil
	}
	id, err := EventID(e)
	if err != nil {
		return false, err
	}
	return id == e.EventID, nil
}

// eventFields mirrors the JSON tags on Event. Optional fields are omitted
// when empty so absent and empty hash the same.
func eventFields(e Event) map[string]payload.Value {
	fields := map[string]payload.Value{
		"schemaVersion": payload.String(e.SchemaVersion),
		"eventVersion":  payload.String(e.EventVersion),
		"timestamp":     payload.Int(e.Timestamp),
		"traceId":       payload.String(e.TraceID),
		"agentId":       payload.String(e.AgentID),
		"eventType":     payload.String(e.EventType),
		"payload":       e.Payload,
	}
	optional := map[string]string{
		"spanId":       e.SpanID,
		"parentSpanId": e.ParentSpanID,
		"skillId":      e.SkillID,
		"riskTier":     string(e.RiskTier),
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = payload.String(v)
		}
	}
	if e.Decision != nil {
		d := map[string]payload.Value{"outcome": payload.String(string(e.Decision.Outcome))}
		if e.Decision.Reason != "" {
			d["reason"] = payload.String(e.Decision.Reason)
		}
		fields["decision"] = payload.Map(d)
	}
	return fields
}
