package contextcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/config"
)

func TestKeyDeterministicAndOrderInsensitive(t *testing.T) {
	a := Key("conv1", "assemble", map[string]string{"query": "deploy", "workspace": "/src"})
	b := Key("conv1", "assemble", map[string]string{"workspace": "/src", "query": "deploy"})
	assert.Equal(t, a, b)

	c := Key("conv1", "assemble", map[string]string{"query": "other", "workspace": "/src"})
	assert.NotEqual(t, a, c)

	d := Key("conv2", "assemble", map[string]string{"query": "deploy", "workspace": "/src"})
	assert.NotEqual(t, a, d)
	assert.Contains(t, d, "conv2:")
}

func TestMemoryBackendRoundTrip(t *testing.T) {
	m := NewMemoryBackend(8, time.Minute)
	ctx := context.Background()

	_, found, err := m.Get(ctx, "conv:abc")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "conv:abc", []byte("bundle"), 0))
	value, found, err := m.Get(ctx, "conv:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("bundle"), value)

	require.NoError(t, m.DeletePrefix(ctx, "conv:"))
	_, found, _ = m.Get(ctx, "conv:abc")
	assert.False(t, found)
}

func TestRedisBackendRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	r, err := NewRedisBackend(ctx, srv.Addr(), time.Minute)
	require.NoError(t, err)

	require.NoError(t, r.Set(ctx, "conv:abc", []byte("bundle"), time.Minute))
	value, found, err := r.Get(ctx, "conv:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("bundle"), value)

	require.NoError(t, r.Set(ctx, "other:xyz", []byte("keep"), time.Minute))
	require.NoError(t, r.DeletePrefix(ctx, "conv:"))
	_, found, _ = r.Get(ctx, "conv:abc")
	assert.False(t, found)
	_, found, _ = r.Get(ctx, "other:xyz")
	assert.True(t, found)
}

func TestRedisBackendConnectFailure(t *testing.T) {
	_, err := NewRedisBackend(context.Background(), "127.0.0.1:1", time.Minute)
	assert.Error(t, err)
}

func TestDurableBackendRoundTrip(t *testing.T) {
	d, err := NewDurableBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "conv:abc", []byte("bundle"), time.Minute))
	value, found, err := d.Get(ctx, "conv:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("bundle"), value)

	// Expired entries read as misses.
	require.NoError(t, d.Set(ctx, "conv:old", []byte("stale"), -time.Second))
	_, found, err = d.Get(ctx, "conv:old")
	require.NoError(t, err)
	assert.False(t, found)

	// Zero ttl means no expiry, not instant expiry.
	require.NoError(t, d.Set(ctx, "conv:pinned", []byte("keep"), 0))
	_, found, err = d.Get(ctx, "conv:pinned")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, d.DeletePrefix(ctx, "conv:"))
	_, found, _ = d.Get(ctx, "conv:abc")
	assert.False(t, found)
}

func TestCachePromotesDeepHits(t *testing.T) {
	ctx := context.Background()
	l1 := NewMemoryBackend(8, time.Minute)
	l3, err := NewDurableBackend(t.TempDir())
	require.NoError(t, err)

	// Seed only the deep level, as if a previous process wrote it.
	require.NoError(t, l3.Set(ctx, "conv:abc", []byte("bundle"), time.Minute))

	c := NewWithLevels(nil, time.Minute, l1, l3)
	value, found := c.Get(ctx, "conv:abc")
	require.True(t, found)
	assert.Equal(t, []byte("bundle"), value)

	// The hit was promoted into L1.
	_, found, err = l1.Get(ctx, "conv:abc")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCacheWriteThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	l1 := NewMemoryBackend(8, time.Minute)
	l2, err := NewRedisBackend(ctx, srv.Addr(), time.Minute)
	require.NoError(t, err)

	c := NewWithLevels(nil, time.Minute, l1, l2)
	key := Key("conv1", "assemble", map[string]string{"query": "deploy"})
	c.Set(ctx, key, []byte("bundle"))

	_, found, _ := l1.Get(ctx, key)
	assert.True(t, found, "write-through reaches L1")
	_, found, _ = l2.Get(ctx, key)
	assert.True(t, found, "write-through reaches L2")

	c.Invalidate(ctx, "conv1")
	_, found = c.Get(ctx, key)
	assert.False(t, found)
}

func TestCacheDegradesWhenLevelDies(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	l1 := NewMemoryBackend(8, time.Minute)
	l2, err := NewRedisBackend(ctx, srv.Addr(), time.Minute)
	require.NoError(t, err)

	c := NewWithLevels(nil, time.Minute, l1, l2)
	srv.Close()

	// Writes and reads survive the dead level.
	c.Set(ctx, "conv:abc", []byte("bundle"))
	value, found := c.Get(ctx, "conv:abc")
	assert.True(t, found)
	assert.Equal(t, []byte("bundle"), value)
}

func TestNewFromConfigSkipsUnreachableRedis(t *testing.T) {
	cfg := config.CacheConfig{
		L1Size:    16,
		L1TTL:     config.Duration(time.Minute),
		RedisAddr: "127.0.0.1:1",
	}
	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Len(t, c.levels, 1, "unreachable redis level is dropped")
}
