// Package watchlist defines the persisted per-user watchlist consumed by the
// quote board and a Redis-backed implementation.
package watchlist

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrAlreadyInWatchlist is returned when adding a token that is already watched.
	ErrAlreadyInWatchlist = errors.New("token already in watchlist")
	// ErrNotInWatchlist is returned when removing a token that is not watched.
	ErrNotInWatchlist = errors.New("token not in watchlist")
)

// Entry is a single watchlist row.
type Entry struct {
	Token     int64 `json:"token"`
	SortOrder int   `json:"sortOrder"`
}

// Store persists watchlists.
type Store interface {
	GetWatchlist(ctx context.Context, userID string) ([]Entry, error)
	AddToWatchlist(ctx context.Context, userID string, token int64) error
	RemoveFromWatchlist(ctx context.Context, userID string, token int64) error
}

// Tokens returns the tokens of entries ordered by sort order. Duplicate tokens
// keep their first position.
func Tokens(entries []Entry) []int64 {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })

	seen := make(map[int64]struct{}, len(sorted))
	tokens := make([]int64, 0, len(sorted))
	for _, e := range sorted {
		if _, ok := seen[e.Token]; ok {
			continue
		}
		seen[e.Token] = struct{}{}
		tokens = append(tokens, e.Token)
	}
	return tokens
}
