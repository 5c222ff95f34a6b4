package ai

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache stores vectors keyed by normalized text. Normalized text to
// embedding is a pure function of the input, so entries never need
// invalidation.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float64, bool)
	Put(ctx context.Context, key string, vec []float64)
}

// MemoryCache is a session- or process-lifetime in-memory cache.
type MemoryCache struct {
	mu   sync.RWMutex
	vecs map[string][]float64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{vecs: make(map[string][]float64)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vecs[key]
	return v, ok
}

func (c *MemoryCache) Put(_ context.Context, key string, vec []float64) {
	c.mu.Lock()
	c.vecs[key] = vec
	c.mu.Unlock()
}

// RedisCache shares embeddings across processes. Misses and marshal errors
// degrade to cache skips, never to failures.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "mapper:emb:", ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float64, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *RedisCache) Put(ctx context.Context, key string, vec []float64) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.prefix+key, raw, c.ttl)
}

// CachingEmbedder fronts an Embedder with a cache and bounds batch sizes.
// Only cache misses reach the provider, in batches of at most batchSize.
type CachingEmbedder struct {
	inner     Embedder
	cache     EmbeddingCache
	batchSize int
	keyFn     func(string) string
}

// DefaultEmbedBatchSize bounds one provider call; large enough to amortize
// latency, small enough for every provider's input limit.
const DefaultEmbedBatchSize = 96

// NewCachingEmbedder wraps inner. keyFn produces the cache key for a text
// (typically the normalizer); nil means identity.
func NewCachingEmbedder(inner Embedder, cache EmbeddingCache, batchSize int, keyFn func(string) string) *CachingEmbedder {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	if keyFn == nil {
		keyFn = func(s string) string { return s }
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &CachingEmbedder{inner: inner, cache: cache, batchSize: batchSize, keyFn: keyFn}
}

// Embed returns vectors in input order, fetching only uncached texts.
func (e *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))

	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := e.cache.Get(ctx, e.keyFn(text)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	for start := 0; start < len(missTexts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		vecs, err := e.inner.Embed(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			idx := missIdx[start+j]
			out[idx] = vec
			e.cache.Put(ctx, e.keyFn(texts[idx]), vec)
		}
	}

	return out, nil
}
