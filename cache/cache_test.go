package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraexport/cartera/cache"
)

type payload struct {
	Balance string `json:"balance"`
	Rows    int    `json:"rows"`
}

func newCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.New(client, time.Minute), mr
}

func TestFetchJSON_LoadsOnceThenServesFromRedis(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Balance: "150.00", Rows: 2}, nil
	}

	key, err := c.BuildKey(ctx, "receivable:cli-1", "statement", "2025-01-01", "2025-01-31")
	require.NoError(t, err)
	assert.Equal(t, "cartera:receivable:cli-1:statement:2025-01-01:2025-01-31:v1", key)

	var first, second payload
	require.NoError(t, c.FetchJSON(ctx, key, &first, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &second, loader))

	assert.Equal(t, 1, calls)
	assert.Equal(t, payload{Balance: "150.00", Rows: 2}, second)
}

func TestBump_ChangesKeysOfThatScopeOnly(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	before, err := c.BuildKey(ctx, "receivable:cli-1", "statement")
	require.NoError(t, err)
	other, err := c.BuildKey(ctx, "payable:prov-1", "statement")
	require.NoError(t, err)

	require.NoError(t, c.Bump(ctx, "receivable:cli-1"))

	after, err := c.BuildKey(ctx, "receivable:cli-1", "statement")
	require.NoError(t, err)
	otherAfter, err := c.BuildKey(ctx, "payable:prov-1", "statement")
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
	assert.Equal(t, other, otherAfter)
	ver, err := mr.Get("cartera:version:receivable:cli-1")
	require.NoError(t, err)
	assert.Equal(t, "2", ver)
}

func TestFetchJSON_TTLApplied(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	var out payload
	require.NoError(t, c.FetchJSON(ctx, "k", &out, func(context.Context) (any, error) {
		return payload{Rows: 1}, nil
	}))

	assert.Equal(t, time.Minute, mr.TTL("k"))
	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("k"))
}

func TestFetchJSON_LoaderErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	boom := errors.New("boom")
	var out payload
	err := c.FetchJSON(ctx, "k", &out, func(context.Context) (any, error) { return nil, boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"))
}

func TestNilCache_AlwaysLoads(t *testing.T) {
	ctx := context.Background()
	var c *cache.Cache

	calls := 0
	var out payload
	for i := 0; i < 2; i++ {
		require.NoError(t, c.FetchJSON(ctx, "k", &out, func(context.Context) (any, error) {
			calls++
			return payload{Rows: calls}, nil
		}))
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, out.Rows)
	assert.NoError(t, c.Bump(ctx, "x"))

	key, err := c.BuildKey(ctx, "s", "a")
	require.NoError(t, err)
	assert.Equal(t, "cartera:s:a:v0", key)
}

func TestConnect_FailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := cache.Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	client.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = cache.Connect(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestPurge_DropsEntriesAndVersions(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	require.NoError(t, mr.Set("unrelated", "keep"))

	key, err := c.BuildKey(ctx, "receivable:cli-1", "statement")
	require.NoError(t, err)
	var out payload
	require.NoError(t, c.FetchJSON(ctx, key, &out, func(context.Context) (any, error) { return payload{Rows: 1}, nil }))
	require.NoError(t, c.Bump(ctx, "receivable:cli-1"))

	require.NoError(t, c.Purge(ctx))

	assert.Equal(t, []string{"unrelated"}, mr.Keys())
	ver, err := c.Version(ctx, "receivable:cli-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)
}
