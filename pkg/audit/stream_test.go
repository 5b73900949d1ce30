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
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/telekom/trustcore/pkg/payload"
	"github.com/telekom/trustcore/pkg/redact"
)

const baseTs = int64(1_700_000_000_000)

func newTestStream(t *testing.T, capacity int) (*StreamSink, *testingclock.FakeClock) {
	t.Helper()
	fc := testingclock.NewFakeClock(time.UnixMilli(baseTs))
	s, err := NewStreamSink(StreamSinkConfig{
		MaxBufferedEvents: capacity,
		ReplayWindow:      60 * time.Second,
		Clock:             fc,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, fc
}

func streamEvent(ts int64, i int) Event {
	e := testEvent(i)
	e.Timestamp = ts
	return e
}

func TestStreamSink_ReplayWithSinceAndLimit(t *testing.T) {
	s, _ := newTestStream(t, 100)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Write(ctx, streamEvent(baseTs+int64(i), i)))
	}

	snap := s.Snapshot(SnapshotFilter{SinceTs: Since(baseTs + 2), Limit: 2})
	require.Len(t, snap.Events, 2)
	assert.Equal(t, baseTs+3, snap.Events[0].Timestamp)
	assert.Equal(t, baseTs+4, snap.Events[1].Timestamp)
}

func TestStreamSink_RedactsOnWrite(t *testing.T) {
	s, _ := newTestStream(t, 10)
	prompt := strings.Repeat("a", 23)
	e := streamEvent(baseTs, 1)
	e.Payload = payload.MustFromAny(map[string]any{
		"prompt":        prompt,
		"authorization": "Bearer secret-token",
	})
	require.NoError(t, s.Write(context.Background(), e))

	snap := s.Snapshot(SnapshotFilter{SinceTs: Since(0)})
	require.Len(t, snap.Events, 1)
	got := snap.Events[0].Payload

	auth, _ := got.Get("authorization")
	authStr, _ := auth.AsString()
	assert.Equal(t, redact.Marker, authStr)

	p, _ := got.Get("prompt")
	require.True(t, redact.IsDigest(p))
	length, _ := p.Get(redact.LengthField)
	n, _ := length.AsNumber()
	assert.Equal(t, float64(23), n)
	hash, _ := p.Get(redact.HashField)
	_, isString := hash.AsString()
	assert.True(t, isString)

	assert.NotEmpty(t, snap.Events[0].EventID)
}

func TestStreamSink_EvictsOldestFirst(t *testing.T) {
	s, _ := newTestStream(t, 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Write(ctx, streamEvent(baseTs+int64(i), i)))
	}

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 3, s.Capacity())
	snap := s.Snapshot(SnapshotFilter{SinceTs: Since(0)})
	assert.Equal(t, []int64{baseTs + 2, baseTs + 3, baseTs + 4}, timestamps(snap.Events))
}

func TestStreamSink_DeduplicatesIdenticalEvents(t *testing.T) {
	s, _ := newTestStream(t, 10)
	ctx := context.Background()
	e := streamEvent(baseTs, 1)

	require.NoError(t, s.Write(ctx, e))
	require.NoError(t, s.Write(ctx, e))
	assert.Equal(t, 1, s.Len())

	other := streamEvent(baseTs+1, 1)
	require.NoError(t, s.Write(ctx, other))
	assert.Equal(t, 2, s.Len())
}

func TestStreamSink_EvictedIDCanReturn(t *testing.T) {
	s, _ := newTestStream(t, 1)
	ctx := context.Background()
	first := streamEvent(baseTs, 1)

	require.NoError(t, s.Write(ctx, first))
	require.NoError(t, s.Write(ctx, streamEvent(baseTs+1, 2)))
	require.NoError(t, s.Write(ctx, first))

	snap := s.Snapshot(SnapshotFilter{SinceTs: Since(0)})
	require.Len(t, snap.Events, 1)
	assert.Equal(t, baseTs, snap.Events[0].Timestamp)
}

func TestStreamSink_DefaultSinceIsReplayWindow(t *testing.T) {
	s, fc := newTestStream(t, 10)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, streamEvent(baseTs, 1)))
	require.NoError(t, s.Write(ctx, streamEvent(baseTs+30_000, 2)))

	fc.Step(70 * time.Second) // now = base + 70s, window starts at base + 10s
	snap := s.Snapshot(SnapshotFilter{})
	assert.Equal(t, []int64{baseTs + 30_000}, timestamps(snap.Events))
}

func TestStreamSink_OrdersOutOfOrderWrites(t *testing.T) {
	s, _ := newTestStream(t, 10)
	ctx := context.Background()
	for i, ts := range []int64{5, 1, 3} {
		require.NoError(t, s.Write(ctx, streamEvent(baseTs+ts, i)))
	}
	snap := s.Snapshot(SnapshotFilter{SinceTs: Since(0)})
	assert.Equal(t, []int64{baseTs + 1, baseTs + 3, baseTs + 5}, timestamps(snap.Events))
}

func TestStreamSink_ConcurrentWrites(t *testing.T) {
	s, _ := newTestStream(t, 50)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				e := streamEvent(baseTs+int64(i), g*100+i)
				e.EventType = fmt.Sprintf("g%d.e%d", g, i)
				assert.NoError(t, s.Write(context.Background(), e))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	assert.Len(t, s.Snapshot(SnapshotFilter{SinceTs: Since(0)}).Events, 50)
}

func TestNewStreamSink_Config(t *testing.T) {
	_, err := NewStreamSink(StreamSinkConfig{MaxBufferedEvents: -1}, nil)
	assert.Error(t, err)
	_, err = NewStreamSink(StreamSinkConfig{ReplayWindow: -time.Second}, nil)
	assert.Error(t, err)
	_, err = NewStreamSink(StreamSinkConfig{Redaction: redact.Rules{MaxStringLength: -1}}, nil)
	assert.ErrorIs(t, err, redact.ErrInvalidRules)

	s, err := NewStreamSink(StreamSinkConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxBufferedEvents, s.Capacity())
	assert.Equal(t, "stream", s.Name())
}
