package registry

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	catalogKey     = "catalog"
	tagsPrefix     = "tags:"
	manifestPrefix = "manifest:"
)

// CachedClient memoizes successful registry reads for a fixed TTL.
// Errors are never cached.
type CachedClient struct {
	next  Client
	ttl   time.Duration
	cache *gocache.Cache
}

var _ Client = (*CachedClient)(nil)

// NewCachedClient wraps next. A non-positive ttl disables caching.
func NewCachedClient(next Client, ttl time.Duration) *CachedClient {
	cleanup := 2 * ttl
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &CachedClient{
		next:  next,
		ttl:   ttl,
		cache: gocache.New(ttl, cleanup),
	}
}

// Repositories implements Client.
func (c *CachedClient) Repositories(ctx context.Context) ([]string, error) {
	return readThrough(c, catalogKey, func() ([]string, error) {
		return c.next.Repositories(ctx)
	})
}

// Tags implements Client.
func (c *CachedClient) Tags(ctx context.Context, repo string) ([]string, error) {
	return readThrough(c, tagsPrefix+repo, func() ([]string, error) {
		return c.next.Tags(ctx, repo)
	})
}

// Manifest implements Client.
func (c *CachedClient) Manifest(ctx context.Context, repo, tag string) (*ManifestInfo, error) {
	return readThrough(c, manifestPrefix+repo+":"+tag, func() (*ManifestInfo, error) {
		return c.next.Manifest(ctx, repo, tag)
	})
}

// Invalidate drops every cached entry.
func (c *CachedClient) Invalidate() {
	c.cache.Flush()
}

func readThrough[V any](c *CachedClient, key string, fn func() (V, error)) (V, error) {
	if c.ttl <= 0 {
		return fn()
	}
	if v, ok := c.cache.Get(key); ok {
		if typed, ok := v.(V); ok {
			return typed, nil
		}
	}

	v, err := fn()
	if err != nil {
		return v, err
	}
	c.cache.Set(key, v, c.ttl)
	return v, nil
}
