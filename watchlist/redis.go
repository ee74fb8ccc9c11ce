package watchlist

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "watchlist:"

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// addScript appends a token behind the current last entry.
var addScript = redis.NewScript(`
local top = redis.call('ZREVRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local next = 0
if top[2] then
	next = tonumber(top[2]) + 1
end
return redis.call('ZADD', KEYS[1], 'NX', next, ARGV[1])
`)

// RedisStore keeps every watchlist in a sorted set keyed by user. The score is
// the sort order.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func key(userID string) string {
	return keyPrefix + userID
}

// GetWatchlist returns the watchlist of userID ordered by sort order.
func (r *RedisStore) GetWatchlist(ctx context.Context, userID string) ([]Entry, error) {
	members, err := r.client.ZRangeWithScores(ctx, key(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		s, ok := m.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected watchlist member %v", m.Member)
		}
		token, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid watchlist member %q: %w", s, err)
		}
		entries = append(entries, Entry{Token: token, SortOrder: int(m.Score)})
	}
	return entries, nil
}

// AddToWatchlist appends token to the watchlist of userID.
func (r *RedisStore) AddToWatchlist(ctx context.Context, userID string, token int64) error {
	added, err := addScript.Run(ctx, r.client, []string{key(userID)}, strconv.FormatInt(token, 10)).Int64()
	if err != nil {
		return err
	}
	if added == 0 {
		return ErrAlreadyInWatchlist
	}
	return nil
}

// RemoveFromWatchlist removes token from the watchlist of userID.
func (r *RedisStore) RemoveFromWatchlist(ctx context.Context, userID string, token int64) error {
	removed, err := r.client.ZRem(ctx, key(userID), strconv.FormatInt(token, 10)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotInWatchlist
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
