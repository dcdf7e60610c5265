package redisdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	applog "nodeforge/internal/platform/log"
)

// Open 按 redis:// URL 创建客户端并 Ping 验证连通性
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	applog.Info("[Redis] Connected", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

var shared = struct {
	sync.Mutex
	clients map[string]*redis.Client
}{clients: make(map[string]*redis.Client)}

// Shared 按 URL 复用客户端；节点凭据里配置的 Redis 地址走这里，避免每次请求新建连接
func Shared(ctx context.Context, url string) (*redis.Client, error) {
	shared.Lock()
	defer shared.Unlock()
	if c, ok := shared.clients[url]; ok {
		return c, nil
	}
	c, err := Open(ctx, url)
	if err != nil {
		return nil, err
	}
	shared.clients[url] = c
	return c, nil
}

// CloseShared 关闭 Shared 创建的全部客户端
func CloseShared() {
	shared.Lock()
	defer shared.Unlock()
	for url, c := range shared.clients {
		if err := c.Close(); err != nil {
			applog.Warn("[Redis] Close shared client failed", "error", err)
		}
		delete(shared.clients, url)
	}
}
