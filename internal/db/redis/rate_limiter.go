package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter 固定窗口限流：INCR 计数，首次写入时设置窗口过期
type RateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRateLimiter 创建 Redis 限流器
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, prefix: "ratelimit:"}
}

// Allow 在 window 内第 limit+1 次调用起返回 false
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	bucket := time.Now().UnixNano() / int64(window)
	k := fmt.Sprintf("%s%s:%d", l.prefix, key, bucket)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}
