package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"backend/internal/metrics"
)

// EmbeddingCache 两级向量缓存：本地 sync.Map 作 L1，Redis 作可选 L2。
// 相同文本反复向量化（重复上传、热点问题）直接命中缓存。
type EmbeddingCache struct {
	redis        *redis.Client
	localCache   sync.Map
	prefix       string
	ttl          time.Duration
	maxLocalSize int64
	localCount   int64
}

// cachedEmbedding 缓存条目。
type cachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEmbeddingCache 创建缓存，redisClient 为 nil 时只启用本地缓存。
func NewEmbeddingCache(redisClient *redis.Client, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "emb:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EmbeddingCache{
		redis:        redisClient,
		prefix:       prefix,
		ttl:          ttl,
		maxLocalSize: 10000,
	}
}

// Get 查询缓存向量。
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := c.makeKey(text, model)

	if val, ok := c.localCache.Load(key); ok {
		metrics.EmbeddingCacheHits.WithLabelValues("local").Inc()
		return val.(*cachedEmbedding).Vector, true
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var cached cachedEmbedding
			if json.Unmarshal(data, &cached) == nil {
				c.setLocal(key, &cached)
				metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
				return cached.Vector, true
			}
		}
	}

	return nil, false
}

// Set 写入缓存，Redis 写入失败不影响本地缓存。
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) {
	key := c.makeKey(text, model)
	cached := &cachedEmbedding{Vector: vector, Model: model, CreatedAt: time.Now()}

	c.setLocal(key, cached)

	if c.redis != nil {
		if data, err := json.Marshal(cached); err == nil {
			c.redis.Set(ctx, key, data, c.ttl)
		}
	}
}

func (c *EmbeddingCache) setLocal(key string, cached *cachedEmbedding) {
	// 本地缓存容量封顶，超出后不再接收新条目
	if atomic.LoadInt64(&c.localCount) >= c.maxLocalSize {
		return
	}
	if _, loaded := c.localCache.LoadOrStore(key, cached); !loaded {
		atomic.AddInt64(&c.localCount, 1)
	}
}

func (c *EmbeddingCache) makeKey(text, model string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// CachedEmbeddingProvider 为任意 EmbeddingProvider 叠加缓存层。
type CachedEmbeddingProvider struct {
	inner EmbeddingProvider
	cache *EmbeddingCache
}

// NewCachedEmbeddingProvider 包装 provider，命中缓存时跳过后端调用。
func NewCachedEmbeddingProvider(inner EmbeddingProvider, cache *EmbeddingCache) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{inner: inner, cache: cache}
}

// Embed 单条向量化，优先走缓存。
func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := p.cache.Get(ctx, text, p.inner.GetModel()); ok {
		return vec, nil
	}
	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ctx, text, p.inner.GetModel(), vec)
	return vec, nil
}

// EmbedBatch 批量向量化：只把未命中的文本发往后端，再按原顺序合并。
func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))

	for i, text := range texts {
		if vec, ok := p.cache.Get(ctx, text, p.inner.GetModel()); ok {
			results[i] = vec
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missing) > 0 {
		vectors, err := p.inner.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			results[missingIdx[j]] = vec
			p.cache.Set(ctx, missing[j], p.inner.GetModel(), vec)
		}
	}

	return results, nil
}

// GetModel 返回底层模型名。
func (p *CachedEmbeddingProvider) GetModel() string { return p.inner.GetModel() }

// GetProviderName 返回底层提供商名称。
func (p *CachedEmbeddingProvider) GetProviderName() string { return p.inner.GetProviderName() }

// GetDimension 返回底层向量维度。
func (p *CachedEmbeddingProvider) GetDimension() int { return p.inner.GetDimension() }
