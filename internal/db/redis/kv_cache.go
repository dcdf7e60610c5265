package redisdb

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVCache 通用字符串缓存，供 redisCache 节点缓存 LLM 输出
type KVCache struct {
	redis  *redis.Client
	prefix string
}

// NewKVCache 创建 KV 缓存
func NewKVCache(rdb *redis.Client) *KVCache {
	return &KVCache{redis: rdb, prefix: "llm:cache:"}
}

// Get 未命中返回 ok=false 且 err=nil
func (c *KVCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set ttl<=0 表示不过期
func (c *KVCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.redis.Set(ctx, c.prefix+key, value, ttl).Err()
}
