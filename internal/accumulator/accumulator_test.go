package accumulator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_BatchesArrivalsWithinWindow(t *testing.T) {
	a := New()
	var mu sync.Mutex
	var flushed []interface{}
	done := make(chan struct{})

	flush := func(sessionID string, msgs []interface{}) {
		mu.Lock()
		flushed = msgs
		mu.Unlock()
		close(done)
	}

	a.Accumulate("sess-1", "m1", 60*time.Millisecond, flush)
	time.Sleep(20 * time.Millisecond)
	a.Accumulate("sess-1", "m2", 60*time.Millisecond, flush)
	time.Sleep(20 * time.Millisecond)
	a.Accumulate("sess-1", "m3", 60*time.Millisecond, flush)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 3)
	assert.Equal(t, []interface{}{"m1", "m2", "m3"}, flushed)
}

func TestAccumulator_ZeroDelayFlushesImmediatelyAsSingleItem(t *testing.T) {
	a := New()
	var got []interface{}
	a.Accumulate("sess-1", "solo", 0, func(sessionID string, msgs []interface{}) {
		got = msgs
	})
	require.Len(t, got, 1)
	assert.Equal(t, "solo", got[0])
	assert.Equal(t, 0, a.PendingCount("sess-1"))
}

func TestAccumulator_PendingCountReflectsBatchSize(t *testing.T) {
	a := New()
	flush := func(string, []interface{}) {}
	a.Accumulate("sess-1", "m1", time.Second, flush)
	a.Accumulate("sess-1", "m2", time.Second, flush)
	assert.Equal(t, 2, a.PendingCount("sess-1"))
	assert.Equal(t, 0, a.PendingCount("sess-2"))
}

func TestAccumulator_BufferCountReflectsNumberOfSessions(t *testing.T) {
	a := New()
	flush := func(string, []interface{}) {}
	assert.Equal(t, 0, a.BufferCount())
	a.Accumulate("sess-1", "m1", time.Second, flush)
	a.Accumulate("sess-1", "m2", time.Second, flush)
	a.Accumulate("sess-2", "m1", time.Second, flush)
	assert.Equal(t, 2, a.BufferCount(), "two distinct session buffers hold messages, regardless of per-session count")
}

func TestAccumulator_FlushAllDeliversEveryPendingSession(t *testing.T) {
	a := New()
	var mu sync.Mutex
	results := make(map[string][]interface{})

	a.Accumulate("sess-1", "a", time.Hour, func(sessionID string, msgs []interface{}) {
		mu.Lock()
		results[sessionID] = msgs
		mu.Unlock()
	})
	a.Accumulate("sess-2", "b", time.Hour, func(sessionID string, msgs []interface{}) {
		mu.Lock()
		results[sessionID] = msgs
		mu.Unlock()
	})

	a.FlushAll(func(sessionID string, msgs []interface{}) {
		mu.Lock()
		results[sessionID] = msgs
		mu.Unlock()
	})

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, results, "sess-1")
	require.Contains(t, results, "sess-2")
	assert.Equal(t, 0, a.PendingCount("sess-1"))
}
