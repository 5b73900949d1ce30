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
	"sync"
)

// MemorySink keeps every accepted event in memory, unbounded. Meant for
// tests and short-lived introspection.
type MemorySink struct {
	name string

	mu     sync.RWMutex
	events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink(name string) *MemorySink {
	if name == "" {
		name = "memory"
	}
	return &MemorySink{name: name}
}

// Write appends a copy of event.
func (s *MemorySink) Write(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.events = append(s.events, event.clone())
	s.mu.Unlock()
	return nil
}

// Snapshot returns the accepted events filtered and ordered by timestamp.
func (s *MemorySink) Snapshot(filter SnapshotFilter) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Events: selectEvents(s.events, filter.SinceTs, filter.Limit)}
}

// Events returns copies of all events in arrival order.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	for i, e := range s.events {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of accepted events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close is a no-op; the events stay readable.
func (s *MemorySink) Close() error { return nil }

// Name returns the sink identifier.
func (s *MemorySink) Name() string { return s.name }
