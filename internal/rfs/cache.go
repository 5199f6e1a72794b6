package rfs

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"

	"github.com/librfs/rfs-fuse/internal/util"
)

// CachedBackend serves listings from a TTL cache in front of another
// backend. It is off unless enabled in configuration: the default contract
// is that every directory read reaches the backend fresh, and enabling the
// cache trades that freshness for backend load, bounded by the TTL.
type CachedBackend struct {
	inner Backend
	cache *ristretto.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedBackend wraps inner with a cache holding up to maxEntries
// listings for ttl each.
func NewCachedBackend(inner Backend, maxEntries int64, ttl time.Duration) (*CachedBackend, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listing cache: %w", err)
	}

	return &CachedBackend{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   util.GetLogger("rfs.cache"),
	}, nil
}

func (b *CachedBackend) String() string {
	return b.inner.String() + "+cache"
}

// ListDirectory returns the cached listing when present, otherwise fetches
// through and stores the result. Fetch errors are never cached.
func (b *CachedBackend) ListDirectory(ctx context.Context, poolRoot, dir string) (*Listing, error) {
	key := poolRoot + "\x00" + dir
	if v, ok := b.cache.Get(key); ok {
		if listing, ok := v.(*Listing); ok {
			b.log.Trace().Str("root", poolRoot).Str("path", dir).Msg("Listing cache hit")
			return listing, nil
		}
	}

	listing, err := b.inner.ListDirectory(ctx, poolRoot, dir)
	if err != nil {
		return nil, err
	}
	b.cache.SetWithTTL(key, listing, 1, b.ttl)
	return listing, nil
}

// Wait blocks until buffered cache writes are applied.
func (b *CachedBackend) Wait() {
	b.cache.Wait()
}
