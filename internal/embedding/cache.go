package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoises successful vectors of an inner provider. Keys include
// the purpose, so index and query encodings of the same text never mix.
type Cached struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCached wraps p with a cache holding up to size vectors.
func NewCached(p Provider, size int) (*Cached, error) {
	if size <= 0 {
		size = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &Cached{inner: p, cache: c}, nil
}

func (c *Cached) Dimension() int { return c.inner.Dimension() }

func cacheKey(text string, purpose Purpose) string {
	return purpose.String() + "\x00" + text
}

func (c *Cached) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	key := cacheKey(text, purpose)
	if v, ok := c.cache.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := c.inner.Embed(ctx, text, purpose)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

// EmbedMany serves cached entries and sends only the misses to the inner provider.
func (c *Cached) EmbedMany(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.cache.Get(cacheKey(t, purpose)); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedMany(ctx, missTexts, purpose)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, unavailable("cached embed", fmt.Errorf("got %d vectors for %d texts", len(vecs), len(missTexts)))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Set(cacheKey(missTexts[j], purpose), vecs[j], 1)
	}
	return out, nil
}

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() { c.cache.Wait() }

func (c *Cached) Close() { c.cache.Close() }
