package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKV_SetIfAbsentOnlyOneWinner(t *testing.T) {
	m := NewMemoryKV()
	ctx := context.Background()

	won, err := m.SetIfAbsent(ctx, "ai:lock:sess-1", "holder-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = m.SetIfAbsent(ctx, "ai:lock:sess-1", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	v, ok, err := m.Get(ctx, "ai:lock:sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "holder-a", v)
}

func TestMemoryKV_ExpiredKeyIsEvictedAndReclaimable(t *testing.T) {
	m := NewMemoryKV()
	ctx := context.Background()

	won, err := m.SetIfAbsent(ctx, "k", "v1", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, won)

	time.Sleep(5 * time.Millisecond)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must not be visible")

	won, err = m.SetIfAbsent(ctx, "k", "v2", time.Minute)
	require.NoError(t, err)
	assert.True(t, won, "expired key must be reclaimable")
}

func TestMemoryKV_DelRemovesKey(t *testing.T) {
	m := NewMemoryKV()
	ctx := context.Background()

	_, _ = m.SetIfAbsent(ctx, "k", "v", time.Minute)
	require.NoError(t, m.Del(ctx, "k"))

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryKV_RPushLPopIsFIFO(t *testing.T) {
	m := NewMemoryKV()
	ctx := context.Background()

	require.NoError(t, m.RPush(ctx, "q", "a"))
	require.NoError(t, m.RPush(ctx, "q", "b"))
	require.NoError(t, m.RPush(ctx, "q", "c"))

	n, err := m.LLen(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	v, ok, err := m.LPop(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok, err = m.LPop(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestMemoryKV_LPopOnEmptyListReturnsFalse(t *testing.T) {
	m := NewMemoryKV()
	_, ok, err := m.LPop(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryKV_LRangeAndLTrim(t *testing.T) {
	m := NewMemoryKV()
	ctx := context.Background()
	for _, v := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, m.RPush(ctx, "q", v))
	}

	got, err := m.LRange(ctx, "q", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	got, err = m.LRange(ctx, "q", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, got)

	require.NoError(t, m.LTrim(ctx, "q", 0, 1))
	got, err = m.LRange(ctx, "q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}
