package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragmerge/internal/domain"
)

func TestKey(t *testing.T) {
	k := Key("what is go?")
	assert.Len(t, k, len("rag:")+64)
	assert.Equal(t, k, Key("what is go?"))
	assert.NotEqual(t, k, Key("What is go?"))
}

func sample() domain.Answer {
	return domain.Answer{Answer: "Go is a language.", Passages: []string{"p1", "p2"}, Available: true}
}

func exercise(t *testing.T, c domain.AnswerCache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "q", sample(), time.Hour))
	got, ok, err := c.Get(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Go is a language.", got.Answer)
	assert.Equal(t, []string{"p1", "p2"}, got.Passages)
	assert.True(t, got.Cached)
	assert.True(t, got.Available)

	require.NoError(t, c.Put(ctx, "q", domain.Answer{Answer: "updated"}, 0))
	got, ok, err = c.Get(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "updated", got.Answer)

	require.NoError(t, c.Put(ctx, "other", sample(), time.Hour))
	require.NoError(t, c.Flush(ctx))
	for _, q := range []string{"q", "other"} {
		_, ok, err = c.Get(ctx, q)
		require.NoError(t, err)
		assert.False(t, ok, q)
	}
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "a", sample(), time.Minute))
	require.NoError(t, m.Put(ctx, "b", sample(), 0))
	now = now.Add(time.Minute)

	_, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "c", sample(), time.Second))
	now = now.Add(time.Second)
	n, err := m.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ = m.Get(ctx, "b")
	assert.True(t, ok)
}

func TestBadger(t *testing.T) {
	c, err := OpenBadger(filepath.Join(t.TempDir(), "cache"), nil)
	require.NoError(t, err)
	defer c.Close()
	exercise(t, c)
}

func TestBadger_Reopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := OpenBadger(dir, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put(context.Background(), "q", sample(), time.Hour))
	require.NoError(t, c.Close())

	c, err = OpenBadger(dir, nil)
	require.NoError(t, err)
	defer c.Close()
	_, ok, err := c.Get(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite(t *testing.T) {
	c, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()
	exercise(t, c)
}

func TestSQLite_ExpiryAndPurge(t *testing.T) {
	c, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "old", sample(), time.Minute))
	require.NoError(t, c.Put(ctx, "forever", sample(), 0))
	now = now.Add(2 * time.Minute)

	_, ok, err := c.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}
