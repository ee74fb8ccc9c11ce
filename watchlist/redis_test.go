package watchlist

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	entries, err := store.GetWatchlist(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, store.AddToWatchlist(ctx, "u1", 26000))
	require.NoError(t, store.AddToWatchlist(ctx, "u1", 1333))
	require.NoError(t, store.AddToWatchlist(ctx, "u1", 2885))
	require.NoError(t, store.AddToWatchlist(ctx, "u2", 1))

	entries, err = store.GetWatchlist(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Token: 26000, SortOrder: 0},
		{Token: 1333, SortOrder: 1},
		{Token: 2885, SortOrder: 2},
	}, entries)

	score, err := mr.ZScore("watchlist:u1", "1333")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	require.NoError(t, store.RemoveFromWatchlist(ctx, "u1", 1333))
	require.NoError(t, store.AddToWatchlist(ctx, "u1", 1333))
	entries, err = store.GetWatchlist(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{26000, 2885, 1333}, Tokens(entries))

	entries, err = store.GetWatchlist(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Token: 1, SortOrder: 0}}, entries)
}

func TestRedisStoreDuplicates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddToWatchlist(ctx, "u1", 5))
	assert.ErrorIs(t, store.AddToWatchlist(ctx, "u1", 5), ErrAlreadyInWatchlist)
	assert.ErrorIs(t, store.RemoveFromWatchlist(ctx, "u1", 6), ErrNotInWatchlist)
}

func TestRedisStoreInvalidMember(t *testing.T) {
	store, mr := newTestStore(t)
	_, err := mr.ZAdd("watchlist:u1", 0, "not-a-token")
	require.NoError(t, err)

	_, err = store.GetWatchlist(context.Background(), "u1")
	assert.Error(t, err)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.GetWatchlist(context.Background(), "u1")
	assert.Error(t, err)
	assert.Error(t, store.AddToWatchlist(context.Background(), "u1", 1))
}
