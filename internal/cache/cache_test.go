package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func newTestMemory(ttl time.Duration, maxSize int) (*Memory, *time.Time) {
	m := NewMemory(ttl, maxSize)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMemory_SetThenGet(t *testing.T) {
	m, _ := newTestMemory(time.Minute, 0)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", sample{Name: "pool-1", Score: 0.8}))

	var got sample
	hit, err := m.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, sample{Name: "pool-1", Score: 0.8}, got)
}

func TestMemory_MissOnUnknownKey(t *testing.T) {
	m, _ := newTestMemory(time.Minute, 0)

	var got sample
	hit, err := m.Get(context.Background(), "missing", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemory_ExpiresOnRead(t *testing.T) {
	m, now := newTestMemory(time.Minute, 0)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "a", sample{Name: "x"}))

	*now = now.Add(59 * time.Second)
	var got sample
	hit, err := m.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.True(t, hit)

	*now = now.Add(time.Second)
	hit, err = m.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
}

func TestMemory_ValuesAreCopies(t *testing.T) {
	m, _ := newTestMemory(time.Minute, 0)
	ctx := context.Background()

	value := []string{"a", "b"}
	require.NoError(t, m.Set(ctx, "k", value))
	value[0] = "mutated"

	var got []string
	_, err := m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestMemory_EvictsClosestToExpiry(t *testing.T) {
	m, now := newTestMemory(time.Minute, 2)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "first", 1))
	*now = now.Add(time.Second)
	require.NoError(t, m.Set(ctx, "second", 2))
	*now = now.Add(time.Second)
	require.NoError(t, m.Set(ctx, "third", 3))

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, []string{"second", "third"}, stats.Keys)
}

func TestMemory_OverwriteDoesNotEvict(t *testing.T) {
	m, _ := newTestMemory(time.Minute, 2)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", 1))
	require.NoError(t, m.Set(ctx, "b", 2))
	require.NoError(t, m.Set(ctx, "a", 3))

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stats.Keys)

	var got int
	_, err = m.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestMemory_ZeroTTLDisablesCaching(t *testing.T) {
	m, _ := newTestMemory(0, 0)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", 1))
	var got int
	hit, err := m.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemory_Clear(t *testing.T) {
	m, _ := newTestMemory(time.Minute, 0)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "a", 1))
	require.NoError(t, m.Set(ctx, "b", 2))

	require.NoError(t, m.Clear(ctx))

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Count: 0, Keys: []string{}}, stats)
}

func TestMemory_DecodeErrorIsReported(t *testing.T) {
	m, _ := newTestMemory(time.Minute, 0)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "a", "text"))

	var got int
	hit, err := m.Get(ctx, "a", &got)
	assert.Error(t, err)
	assert.False(t, hit)
}
