package rawsource

import (
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of timestamps kept when none is configured.
const DefaultCacheSize = 512

// Cached wraps an Adapter with an LRU of acquisition timestamps. Rebuild,
// merge and shift all read the same timestamps several times per run.
type Cached struct {
	inner Adapter
	cache *lru.Cache[string, time.Time]
}

// NewCached creates a caching adapter.
func NewCached(inner Adapter, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, time.Time](size)
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) ReadTimestamp(path string) (time.Time, error) {
	if t, ok := c.cache.Get(path); ok {
		return t, nil
	}
	t, err := c.inner.ReadTimestamp(path)
	if err != nil {
		return time.Time{}, err
	}
	c.cache.Add(path, t)
	return t, nil
}

func (c *Cached) RewriteIdentifierAndDate(path, newName string, newDate *time.Time) error {
	c.cache.Remove(path)
	c.cache.Remove(filepath.Join(filepath.Dir(path), newName))
	return c.inner.RewriteIdentifierAndDate(path, newName, newDate)
}

func (c *Cached) Extract(path string) (*Extraction, error) {
	ex, err := c.inner.Extract(path)
	if err != nil {
		return nil, err
	}
	if ex.Known {
		c.cache.Add(path, ex.Acquired)
	}
	return ex, nil
}

// Len reports the number of cached timestamps.
func (c *Cached) Len() int { return c.cache.Len() }
