package port

import (
	"context"

	"github.com/vertextoedge/convert-cache/internal/domain"
)

// CacheStorage opens and destroys named caches.
type CacheStorage interface {
	// Open opens (creating if needed) the cache with the given name
	Open(ctx context.Context, name string) (CacheHandle, error)

	// Delete destroys the named cache and every entry in it.
	// Returns false if the cache did not exist.
	Delete(ctx context.Context, name string) (bool, error)

	// Ping checks storage connectivity
	Ping() error
}

// CacheHandle addresses the entries of one open cache by full URL key.
type CacheHandle interface {
	// Name returns the cache name
	Name() string

	// Keys returns every entry location in the cache
	Keys(ctx context.Context) ([]string, error)

	// Match returns the entry stored under key, or domain.ErrNotFound
	Match(ctx context.Context, key string) (*domain.CacheEntry, error)

	// Put stores an entry, replacing any entry at the same location
	Put(ctx context.Context, entry *domain.CacheEntry) error

	// Delete removes the entry at key. Returns false if it did not exist.
	Delete(ctx context.Context, key string) (bool, error)
}
