package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Service is an explicit TTL cache boundary. It is injected wherever caching
// is wanted (never a package global) so tests can substitute a fake and
// control eviction deterministically.
type Service interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Invalidate(key string)
}

// GoCache implements Service on patrickmn/go-cache.
type GoCache struct {
	c *gocache.Cache
}

// NewGoCache builds a cache with the given default TTL and a cleanup sweep
// at twice that interval.
func NewGoCache(defaultTTL time.Duration) *GoCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	return &GoCache{c: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (g *GoCache) Get(key string) (any, bool) {
	return g.c.Get(key)
}

func (g *GoCache) Set(key string, value any, ttl time.Duration) {
	g.c.Set(key, value, ttl)
}

func (g *GoCache) Invalidate(key string) {
	g.c.Delete(key)
}
