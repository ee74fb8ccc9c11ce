package console

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLookupCacheSize is the number of instruments CachedLookup keeps.
const DefaultLookupCacheSize = 4096

// CachedLookup memoizes the reference data returned by another lookup.
// Failed lookups are not cached.
type CachedLookup struct {
	next  InstrumentLookup
	cache *lru.Cache[int64, InstrumentDescriptor]
}

var _ InstrumentLookup = (*CachedLookup)(nil)

// NewCachedLookup wraps next with an LRU cache of size entries. A size of 0
// means DefaultLookupCacheSize.
func NewCachedLookup(next InstrumentLookup, size int) (*CachedLookup, error) {
	if size == 0 {
		size = DefaultLookupCacheSize
	}
	cache, err := lru.New[int64, InstrumentDescriptor](size)
	if err != nil {
		return nil, err
	}
	return &CachedLookup{next: next, cache: cache}, nil
}

// GetInstrument returns the cached descriptor of token or fetches it.
func (l *CachedLookup) GetInstrument(ctx context.Context, token int64) (*InstrumentDescriptor, error) {
	if d, ok := l.cache.Get(token); ok {
		return &d, nil
	}
	d, err := l.next.GetInstrument(ctx, token)
	if err != nil {
		return nil, err
	}
	l.cache.Add(token, *d)
	out := *d
	return &out, nil
}

// Forget drops token from the cache.
func (l *CachedLookup) Forget(token int64) {
	l.cache.Remove(token)
}

// Len returns the number of cached descriptors.
func (l *CachedLookup) Len() int {
	return l.cache.Len()
}
