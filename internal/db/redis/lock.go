package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	applog "nodeforge/internal/platform/log"
)

// releaseScript 仅当锁仍由本持有者持有时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock 基于 Redis SETNX 的分布式互斥锁，用于串行化同一 chatflow 的向量写入
type Lock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLock 创建分布式锁
func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lock{client: client, ttl: ttl}
}

// Acquire 获取锁；ok=false 表示已被持有。release 只释放本次获得的锁
func (l *Lock) Acquire(ctx context.Context, name string) (release func(), ok bool, err error) {
	key := fmt.Sprintf("lock:%s", name)
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		applog.Warn("[Lock] Failed to acquire lock", "name", name, "error", err)
		return nil, false, err
	}
	if !acquired {
		applog.Debug("[Lock] Lock already held", "name", name)
		return nil, false, nil
	}

	applog.Debug("[Lock] Lock acquired", "name", name)
	return func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, l.client, []string{key}, token).Err(); err != nil {
			applog.Warn("[Lock] Failed to release lock", "name", name, "error", err)
		}
	}, true, nil
}
