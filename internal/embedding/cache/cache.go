package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"vaultsearch/internal/domain"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 1024

// Embedder memoizes single-text embeddings of an underlying embedder.
//
// Keys are the input text only and entries are never invalidated: embeddings
// are a pure function of the text, and search results are always assembled
// from the live corpus. Concurrent misses for the same text share one call.
// Batch calls pass straight through.
type Embedder struct {
	next domain.Embedder

	mu         sync.RWMutex
	entries    map[string][]float64
	order      []string // insertion order for eviction
	maxEntries int

	group  singleflight.Group
	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ domain.Embedder = (*Embedder)(nil)

// New wraps next with a cache holding at most maxEntries vectors.
func New(next domain.Embedder, maxEntries int) *Embedder {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Embedder{
		next:       next,
		entries:    make(map[string][]float64, maxEntries),
		maxEntries: maxEntries,
	}
}

func (e *Embedder) Name() string   { return e.next.Name() }
func (e *Embedder) Dimension() int { return e.next.Dimension() }

// EmbedOne returns the cached vector for text, computing it on a miss.
// The returned slice is shared and must not be modified.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	e.mu.RLock()
	v, ok := e.entries[text]
	e.mu.RUnlock()
	if ok {
		e.hits.Add(1)
		return v, nil
	}
	e.misses.Add(1)

	// the shared call outlives any single caller; each caller waits on its own ctx
	shared := context.WithoutCancel(ctx)
	ch := e.group.DoChan(text, func() (any, error) {
		vec, err := e.next.EmbedOne(shared, text)
		if err != nil {
			return nil, err
		}
		e.put(text, vec)
		return vec, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float64), nil
	}
}

// EmbedBatch is not cached.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return e.next.EmbedBatch(ctx, texts)
}

func (e *Embedder) put(text string, vec []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.entries[text]; exists {
		return
	}
	for len(e.entries) >= e.maxEntries {
		e.evictOldest()
	}
	e.entries[text] = vec
	e.order = append(e.order, text)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (e *Embedder) evictOldest() {
	for len(e.order) > 0 {
		oldest := e.order[0]
		e.order = e.order[1:]
		if _, exists := e.entries[oldest]; exists {
			delete(e.entries, oldest)
			return
		}
	}
}

// Len returns the current number of entries.
func (e *Embedder) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// Hits returns the number of lookups served from the cache.
func (e *Embedder) Hits() uint64 { return e.hits.Load() }

// Misses returns the number of lookups that reached the underlying embedder.
func (e *Embedder) Misses() uint64 { return e.misses.Load() }
