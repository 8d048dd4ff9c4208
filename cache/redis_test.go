package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	assert.NoError(t, store.Ping(ctx))

	_, found, err := store.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "k", []byte("payload"), time.Minute))
	data, found, err := store.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), data)

	n, err := store.Delete(ctx, "k", "missing")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisStoreTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 50*time.Millisecond))
	mr.FastForward(100 * time.Millisecond)

	_, found, err := store.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreKeys(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "user:1", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "user:2", []byte("b"), time.Minute))
	require.NoError(t, store.Set(ctx, "plan:1", []byte("c"), time.Minute))

	keys, err := store.Keys(ctx, "user:*")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)
}

func TestRedisStoreFlushScopedToPrefix(t *testing.T) {
	_, client := newTestRedis(t)
	ours := NewRedisStore(client, "ours")
	theirs := NewRedisStore(client, "theirs")
	ctx := context.Background()

	require.NoError(t, ours.Set(ctx, "k", []byte("a"), time.Minute))
	require.NoError(t, theirs.Set(ctx, "k", []byte("b"), time.Minute))

	require.NoError(t, ours.FlushDB(ctx))

	_, found, err := ours.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
	_, found, err = theirs.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestEngineWithRedisRemote(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, "cache")
	ctx := context.Background()

	writer := newTestEngine(t, WithRemoteStore(store))
	require.NoError(t, writer.Set(ctx, "shared:plan", "week-1"))

	// A second engine with an empty L1 sees the value through Redis and
	// promotes it.
	reader := newTestEngine(t, WithRemoteStore(store))
	found, val := reader.Get(ctx, "shared:plan")
	assert.True(t, found)
	assert.Equal(t, "week-1", val)
	assert.Equal(t, int64(1), reader.Stats().L2.Hits)

	found, _ = reader.Get(ctx, "shared:plan")
	assert.True(t, found)
	assert.Equal(t, int64(1), reader.Stats().L1.Hits)
}

func TestEngineInvalidateAcrossTiersWithRedis(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, "cache")
	ctx := context.Background()

	e := newTestEngine(t, WithRemoteStore(store))
	require.NoError(t, e.Set(ctx, "user:1:plan", "a", WithPattern("user:*")))
	require.NoError(t, e.Set(ctx, "user:2:plan", "b", WithPattern("user:*")))

	assert.Equal(t, 2, e.InvalidatePattern(ctx, "user:*"))

	keys, err := store.Keys(ctx, "user:*")
	assert.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisStoreDisconnected(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "cache")
	e := newTestEngine(t, WithRemoteStore(store), WithRemoteFailureLimit(2), WithRemoteTimeout(100*time.Millisecond))
	ctx := context.Background()

	mr.Close()

	// The engine keeps serving from L1.
	assert.NoError(t, e.Set(ctx, "k", "v"))
	found, _ := e.Get(ctx, "k")
	assert.True(t, found)

	assert.NoError(t, e.Set(ctx, "k2", "v2"))
	assert.Equal(t, HealthDisabled, e.RemoteHealth())
	assert.Greater(t, e.Stats().L2.Errors, int64(0))
}
