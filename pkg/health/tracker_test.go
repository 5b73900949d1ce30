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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"
)

func newTestTracker(t *testing.T, threshold int) (*Tracker, *testingclock.FakeClock, *[]StateChangeEvent) {
	t.Helper()
	fc := testingclock.NewFakeClock(time.UnixMilli(1_700_000_000_000))
	tr, err := NewTracker(Config{
		FailureThreshold: threshold,
		Window:           60 * time.Second,
		OpenDuration:     60 * time.Second,
		Clock:            fc,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	var events []StateChangeEvent
	tr.OnStateChange(func(_ context.Context, ev StateChangeEvent) { events = append(events, ev) })
	return tr, fc, &events
}

func TestTracker_OpensAtThreshold(t *testing.T) {
	tr, _, events := newTestTracker(t, 2)

	tr.NoteFailure("openai", "gpt-x", "timeout")
	st, ok := tr.State("openai", "gpt-x")
	require.True(t, ok)
	assert.Equal(t, CircuitClosed, st.Status)
	assert.Empty(t, *events)

	tr.NoteFailure("openai", "gpt-x", "timeout")
	st, _ = tr.State("openai", "gpt-x")
	assert.Equal(t, CircuitOpen, st.Status)

	require.Len(t, *events, 1)
	ev := (*events)[0]
	assert.Equal(t, CircuitClosed, ev.Previous)
	assert.Equal(t, CircuitOpen, ev.Next)
	assert.Equal(t, "timeout", ev.Reason)
	assert.Equal(t, "openai", ev.Provider)
	assert.Equal(t, "gpt-x", ev.ModelRef)
	assert.Equal(t, ev.Timestamp+60_000, st.OpenUntil)
}

func TestTracker_StaleFailuresDoNotCount(t *testing.T) {
	tr, fc, events := newTestTracker(t, 2)

	tr.NoteFailure("p", "m", "first")
	fc.Step(60*time.Second + time.Millisecond)
	tr.NoteFailure("p", "m", "second")

	st, _ := tr.State("p", "m")
	assert.Equal(t, CircuitClosed, st.Status)
	assert.Len(t, st.Failures, 1)
	assert.Empty(t, *events)
}

func TestTracker_FailureAtWindowEdgeCounts(t *testing.T) {
	tr, fc, _ := newTestTracker(t, 2)

	tr.NoteFailure("p", "m", "first")
	fc.Step(60 * time.Second)
	tr.NoteFailure("p", "m", "second")

	st, _ := tr.State("p", "m")
	assert.Equal(t, CircuitOpen, st.Status)
}

func TestTracker_FailureWhileOpenExtendsCoolDown(t *testing.T) {
	tr, fc, events := newTestTracker(t, 1)

	tr.NoteFailure("p", "m", "boom")
	first, _ := tr.State("p", "m")

	fc.Step(10 * time.Second)
	tr.NoteFailure("p", "m", "boom again")
	second, _ := tr.State("p", "m")

	assert.Equal(t, CircuitOpen, second.Status)
	assert.Equal(t, first.OpenUntil+10_000, second.OpenUntil)
	assert.Len(t, *events, 1, "no transition is emitted while already open")
}

func TestTracker_HalfOpenProbeLifecycle(t *testing.T) {
	tr, fc, events := newTestTracker(t, 1)

	tr.NoteFailure("p", "m", "boom")
	assert.True(t, tr.IsCircuitOpen("p", "m"))
	assert.False(t, tr.ProbeEligible("p", "m"))

	fc.Step(60 * time.Second)
	assert.True(t, tr.ProbeEligible("p", "m"))

	// passive reads never transition
	st, _ := tr.State("p", "m")
	assert.Equal(t, CircuitOpen, st.Status)
	assert.Len(t, *events, 1)

	// the attempted call moves to half_open and is admitted as the probe
	assert.False(t, tr.IsCircuitOpen("p", "m"))
	st, _ = tr.State("p", "m")
	assert.Equal(t, CircuitHalfOpen, st.Status)
	require.Len(t, *events, 2)
	assert.Equal(t, CircuitHalfOpen, (*events)[1].Next)

	// only one probe at a time
	assert.True(t, tr.IsCircuitOpen("p", "m"))

	tr.NoteSuccess("p", "m")
	st, _ = tr.State("p", "m")
	assert.Equal(t, CircuitClosed, st.Status)
	assert.Empty(t, st.Failures)
	assert.Zero(t, st.OpenUntil)
	require.Len(t, *events, 3)
	assert.Equal(t, CircuitHalfOpen, (*events)[2].Previous)
	assert.Equal(t, CircuitClosed, (*events)[2].Next)
	assert.False(t, tr.IsCircuitOpen("p", "m"))
}

func TestTracker_HalfOpenFailureReopens(t *testing.T) {
	tr, fc, events := newTestTracker(t, 3)

	for i := 0; i < 3; i++ {
		tr.NoteFailure("p", "m", "boom")
	}
	fc.Step(61 * time.Second)
	require.False(t, tr.IsCircuitOpen("p", "m"))

	tr.NoteFailure("p", "m", "probe failed")
	st, _ := tr.State("p", "m")
	assert.Equal(t, CircuitOpen, st.Status)
	assert.Equal(t, fc.Now().UnixMilli()+60_000, st.OpenUntil)

	last := (*events)[len(*events)-1]
	assert.Equal(t, CircuitHalfOpen, last.Previous)
	assert.Equal(t, CircuitOpen, last.Next)
	assert.Equal(t, "probe failed", last.Reason)
}

func TestTracker_StuckProbeIsReplacedAfterOpenDuration(t *testing.T) {
	tr, fc, _ := newTestTracker(t, 1)

	tr.NoteFailure("p", "m", "boom")
	fc.Step(60 * time.Second)
	require.False(t, tr.IsCircuitOpen("p", "m"))
	require.True(t, tr.IsCircuitOpen("p", "m"))

	fc.Step(60 * time.Second)
	assert.False(t, tr.IsCircuitOpen("p", "m"), "a new probe is admitted once the old one expires")
}

func TestTracker_SuccessWhileOpenIsNoop(t *testing.T) {
	tr, _, events := newTestTracker(t, 1)

	tr.NoteFailure("p", "m", "boom")
	tr.NoteSuccess("p", "m")

	st, _ := tr.State("p", "m")
	assert.Equal(t, CircuitOpen, st.Status)
	assert.Len(t, *events, 1)
}

func TestTracker_SuccessAfterCoolDownWithoutGateCloses(t *testing.T) {
	tr, fc, events := newTestTracker(t, 1)

	tr.NoteFailure("p", "m", "boom")
	fc.Step(2 * time.Minute)
	tr.NoteSuccess("p", "m")

	st, _ := tr.State("p", "m")
	assert.Equal(t, CircuitClosed, st.Status)
	require.Len(t, *events, 3)
	assert.Equal(t, CircuitHalfOpen, (*events)[1].Next)
	assert.Equal(t, CircuitClosed, (*events)[2].Next)
}

func TestTracker_SuccessWhileClosedIsNoop(t *testing.T) {
	tr, _, events := newTestTracker(t, 3)

	tr.NoteFailure("p", "m", "boom")
	tr.NoteSuccess("p", "m")

	st, _ := tr.State("p", "m")
	assert.Equal(t, CircuitClosed, st.Status)
	assert.Len(t, st.Failures, 1)
	assert.Empty(t, *events)
}

func TestTracker_StateIsPassive(t *testing.T) {
	tr, fc, _ := newTestTracker(t, 5)

	tr.NoteFailure("p", "m", "boom")
	fc.Step(2 * time.Minute)

	st, _ := tr.State("p", "m")
	assert.Empty(t, st.Failures, "snapshot is pruned")

	// the stored record is not rewritten by the read
	tr.mu.Lock()
	stored := len(tr.states[Key{Provider: "p", Model: "m"}].Failures)
	tr.mu.Unlock()
	assert.Equal(t, 1, stored)

	_, ok := tr.State("unknown", "m")
	assert.False(t, ok)
	assert.False(t, tr.IsCircuitOpen("unknown", "m"))
}

func TestTracker_KeysAreIndependent(t *testing.T) {
	tr, _, _ := newTestTracker(t, 1)

	tr.NoteFailure("p", "a", "boom")
	assert.True(t, tr.IsCircuitOpen("p", "a"))
	assert.False(t, tr.IsCircuitOpen("p", "b"))
	assert.False(t, tr.IsCircuitOpen("q", "a"))
}

func TestTracker_HandlersRunInRegistrationOrderAfterCommit(t *testing.T) {
	tr, _, _ := newTestTracker(t, 1)

	var order []string
	tr.OnStateChange(func(_ context.Context, ev StateChangeEvent) {
		// the transition is already visible in the map
		assert.Equal(t, CircuitOpen, tr.states[Key{Provider: ev.Provider, Model: ev.ModelRef}].Status)
		order = append(order, "second")
	})
	tr.OnStateChange(func(context.Context, StateChangeEvent) { order = append(order, "third") })

	tr.NoteFailure("p", "m", "boom")
	assert.Equal(t, []string{"second", "third"}, order)
}

type ctxKey struct{}

func TestTracker_HandlersReceiveCallerContext(t *testing.T) {
	tr, fc, _ := newTestTracker(t, 1)

	var got []any
	tr.OnStateChange(func(ctx context.Context, _ StateChangeEvent) {
		got = append(got, ctx.Value(ctxKey{}))
	})

	tr.NoteFailureContext(context.WithValue(context.Background(), ctxKey{}, "fail"), "p", "m", "boom")
	fc.Step(61 * time.Second)
	assert.False(t, tr.IsCircuitOpenContext(context.WithValue(context.Background(), ctxKey{}, "gate"), "p", "m"))
	tr.NoteSuccessContext(context.WithValue(context.Background(), ctxKey{}, "probe"), "p", "m")
	tr.NoteFailure("p", "m", "plain")

	assert.Equal(t, []any{"fail", "gate", "probe", nil}, got)
}

func TestTracker_States(t *testing.T) {
	tr, _, _ := newTestTracker(t, 5)
	tr.NoteFailure("b", "m2", "x")
	tr.NoteFailure("a", "m9", "x")
	tr.NoteSuccess("a", "m1")

	states := tr.States()
	require.Len(t, states, 3)
	assert.Equal(t, Key{Provider: "a", Model: "m1"}, states[0].Key())
	assert.Equal(t, Key{Provider: "a", Model: "m9"}, states[1].Key())
	assert.Equal(t, Key{Provider: "b", Model: "m2"}, states[2].Key())
}

func TestTracker_ConcurrentNotes(t *testing.T) {
	tr, _, events := newTestTracker(t, 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.NoteFailure("p", fmt.Sprintf("m%d", i%2), "boom")
				tr.IsCircuitOpen("p", fmt.Sprintf("m%d", i%2))
			}
		}(i)
	}
	wg.Wait()

	for _, m := range []string{"m0", "m1"} {
		st, ok := tr.State("p", m)
		require.True(t, ok)
		assert.Equal(t, CircuitOpen, st.Status)
	}
	assert.Len(t, *events, 2)
}

func TestNewTracker_Config(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "zero selects defaults", cfg: Config{}},
		{name: "negative threshold", cfg: Config{FailureThreshold: -1}, wantErr: true},
		{name: "negative window", cfg: Config{Window: -time.Second}, wantErr: true},
		{name: "negative open duration", cfg: Config{OpenDuration: -time.Second}, wantErr: true},
		{name: "sub-millisecond window", cfg: Config{Window: 500 * time.Microsecond}, wantErr: true},
		{name: "sub-millisecond open duration", cfg: Config{OpenDuration: time.Nanosecond}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewTracker(tt.cfg, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultFailureThreshold, tr.threshold)
			assert.Equal(t, DefaultWindow.Milliseconds(), tr.windowMs)
			assert.Equal(t, DefaultOpenDuration.Milliseconds(), tr.openMs)
		})
	}
}

func TestPureHelpers(t *testing.T) {
	assert.Equal(t, []int64{50, 100}, PruneFailures([]int64{10, 50, 100}, 100, 50))
	assert.Empty(t, PruneFailures(nil, 100, 50))

	open := State{Status: CircuitOpen, OpenUntil: 200}
	assert.True(t, IsOpen(open, 199))
	assert.False(t, IsOpen(open, 200))
	assert.False(t, ProbeEligible(open, 199))
	assert.True(t, ProbeEligible(open, 200))
	assert.False(t, ProbeEligible(State{Status: CircuitClosed}, 1000))

	opened := Transition(State{Status: CircuitClosed, Failures: []int64{1, 2}}, CircuitOpen, 10, 5)
	assert.Equal(t, int64(15), opened.OpenUntil)
	assert.Equal(t, []int64{1, 2}, opened.Failures)

	closed := Transition(opened, CircuitClosed, 20, 5)
	assert.Empty(t, closed.Failures)
	assert.Zero(t, closed.OpenUntil)
	assert.Equal(t, []int64{1, 2}, opened.Failures, "input is not modified")
}
