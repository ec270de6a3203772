package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/BaSui01/campusrag/internal/cache"
	"go.uber.org/zap"
)

// EmbeddingCache 向量缓存。值是键的确定性函数，并发写同一键时后写者胜出。
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float64, bool)
	Set(ctx context.Context, key string, vec []float64, ttl time.Duration)
}

// EmbeddingCacheKey 返回 embedding:{model}:{sha256(text)}
func EmbeddingCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + model + ":" + hex.EncodeToString(sum[:])
}

// =============================================================================
// 🗄️ 进程内缓存
// =============================================================================

type memoryEntry struct {
	vec       []float64
	expiresAt time.Time
}

// MemoryEmbeddingCache 进程内 TTL 缓存，读写锁保护
type MemoryEmbeddingCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

// NewMemoryEmbeddingCache 创建进程内缓存，maxEntries <= 0 表示不限
func NewMemoryEmbeddingCache(maxEntries int) *MemoryEmbeddingCache {
	return &MemoryEmbeddingCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get 读取未过期的向量
func (c *MemoryEmbeddingCache) Get(_ context.Context, key string) ([]float64, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || (!entry.expiresAt.IsZero() && c.now().After(entry.expiresAt)) {
		return nil, false
	}
	return entry.vec, true
}

// Set 写入向量，ttl <= 0 表示永不过期
func (c *MemoryEmbeddingCache) Set(_ context.Context, key string, vec []float64, ttl time.Duration) {
	entry := memoryEntry{vec: append([]float64(nil), vec...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = entry
}

// Len 返回当前条目数（含已过期未清理的条目）
func (c *MemoryEmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked 先清理过期条目，仍满时随机淘汰一条
func (c *MemoryEmbeddingCache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}

// =============================================================================
// 🔴 Redis 共享缓存
// =============================================================================

// RedisEmbeddingCache 基于 cache.Manager 的共享缓存，向量以 JSON 存储。
// Redis 故障只记录告警并视为未命中，不影响查询。
type RedisEmbeddingCache struct {
	manager *cache.Manager
	logger  *zap.Logger
}

// NewRedisEmbeddingCache 创建 Redis 缓存
func NewRedisEmbeddingCache(manager *cache.Manager, logger *zap.Logger) *RedisEmbeddingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisEmbeddingCache{
		manager: manager,
		logger:  logger.With(zap.String("component", "redis_embedding_cache")),
	}
}

// Get 读取向量
func (c *RedisEmbeddingCache) Get(ctx context.Context, key string) ([]float64, bool) {
	var vec []float64
	if err := c.manager.GetJSON(ctx, key, &vec); err != nil {
		if !cache.IsCacheMiss(err) {
			c.logger.Warn("embedding cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return vec, true
}

// Set 写入向量
func (c *RedisEmbeddingCache) Set(ctx context.Context, key string, vec []float64, ttl time.Duration) {
	if err := c.manager.SetJSON(ctx, key, vec, ttl); err != nil {
		c.logger.Warn("embedding cache set failed", zap.String("key", key), zap.Error(err))
	}
}
