package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domainrag "nodeforge/internal/domain/rag"
	applog "nodeforge/internal/platform/log"
)

// SearchCache 向量检索结果 Redis 缓存
type SearchCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

var _ domainrag.SearchCacheStore = (*SearchCache)(nil)

// NewSearchCache 创建检索缓存
func NewSearchCache(rdb *redis.Client, ttl time.Duration) *SearchCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SearchCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "vs:cache:",
	}
}

// Get 从缓存获取检索结果
func (c *SearchCache) Get(ctx context.Context, req *domainrag.SearchRequest) (*domainrag.SearchResult, bool) {
	key := c.cacheKey(req)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var result domainrag.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		applog.Warn("[VectorCache] Failed to unmarshal cached result", "error", err)
		return nil, false
	}

	applog.Debug("[VectorCache] Hit", "key", key)
	return &result, true
}

// Set 写入检索结果到缓存
func (c *SearchCache) Set(ctx context.Context, req *domainrag.SearchRequest, result *domainrag.SearchResult) {
	key := c.cacheKey(req)
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		applog.Warn("[VectorCache] Failed to set cache", "key", key, "error", err)
	}
}

// InvalidateByIndex 清除某个索引下的所有缓存（SCAN 前缀匹配删除）
func (c *SearchCache) InvalidateByIndex(ctx context.Context, index string) {
	iter := c.redis.Scan(ctx, 0, c.indexPrefix(index)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		applog.Warn("[VectorCache] Scan failed", "index", index, "error", err)
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
		applog.Info("[VectorCache] Invalidated", "index", index, "keys_deleted", len(keys))
	}
}

func (c *SearchCache) indexPrefix(index string) string {
	return c.prefix + index + ":"
}

// cacheKey = 索引前缀 + hash(query + mode + topk + threshold + filters)
func (c *SearchCache) cacheKey(req *domainrag.SearchRequest) string {
	filters := make([]string, 0, len(req.Filters))
	for k, v := range req.Filters {
		filters = append(filters, k+"="+v)
	}
	sort.Strings(filters)

	raw := fmt.Sprintf("%s|%s|%d|%g|%s",
		req.Query,
		req.Mode,
		req.TopK,
		req.ScoreThreshold,
		strings.Join(filters, ","),
	)
	hash := sha256.Sum256([]byte(raw))
	return c.indexPrefix(req.Index) + fmt.Sprintf("%x", hash[:12])
}
