package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of vectors a Cached provider keeps.
const DefaultCacheSize = 512

// Cached memoizes vectors per text. Each conversation builds its own instance.
type Cached struct {
	inner Provider
	cache *lru.Cache[string, Vector]
}

// NewCached wraps p with an LRU cache of the given size.
func NewCached(p Provider, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, Vector](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: p, cache: c}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

func (c *Cached) Dims() int { return c.inner.Dims() }

// Len returns the number of cached vectors.
func (c *Cached) Len() int { return c.cache.Len() }
