package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/upb/org-rag-assistant/internal/rag"
)

// CachedProvider memoizes single-query embeddings in an LRU cache.
// Concurrent misses for the same text share one backend call, which runs
// detached from any single caller's cancellation.
// Batch embeddings (ingestion) bypass the cache.
type CachedProvider struct {
	next    rag.EmbeddingProvider
	cache   *lru.Cache[string, []float32]
	group   singleflight.Group
	timeout time.Duration
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

// NewCachedProvider wraps next with an LRU of the given size
func NewCachedProvider(next rag.EmbeddingProvider, size int) (*CachedProvider, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedProvider{next: next, cache: cache}, nil
}

// WithTimeout bounds each shared backend call. Zero leaves it unbounded.
func (p *CachedProvider) WithTimeout(d time.Duration) *CachedProvider {
	p.timeout = d
	return p
}

// Embed returns the cached vector for text, computing it on a miss.
// Errors are not cached. The returned slice is shared with the cache and
// other callers and must be treated as read-only.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := p.cache.Get(text); ok {
		p.hits.Add(1)
		return v, nil
	}
	p.misses.Add(1)

	ch := p.group.DoChan(text, func() (any, error) {
		callCtx := context.WithoutCancel(ctx)
		if p.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, p.timeout)
			defer cancel()
		}
		v, err := p.next.Embed(callCtx, text)
		if err != nil {
			return nil, err
		}
		p.cache.Add(text, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

// EmbedBatch delegates to the wrapped provider
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.next.EmbedBatch(ctx, texts)
}

// Stats returns current cache statistics
func (p *CachedProvider) Stats() CacheStats {
	return CacheStats{
		Size:   p.cache.Len(),
		Hits:   p.hits.Load(),
		Misses: p.misses.Load(),
	}
}
