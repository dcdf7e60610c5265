package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	redisdb "nodeforge/internal/db/redis"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	applog "nodeforge/internal/platform/log"
)

func init() {
	node.Register(&redisPlugin{})
	node.Register(&inMemoryPlugin{})
}

var cacheClasses = []string{"BaseCache"}

// openStore 按凭据中的 Redis URL 创建缓存，测试中替换
var openStore = func(ctx context.Context, url string) (node.CacheStore, error) {
	client, err := redisdb.Shared(ctx, url)
	if err != nil {
		return nil, err
	}
	return redisdb.NewKVCache(client), nil
}

// hashKey prompt 与模型参数共同决定缓存 key
func hashKey(scope, prompt, llmKey string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(llmKey))
	return scope + ":" + hex.EncodeToString(h.Sum(nil))
}

// storeCache 把 node.Cache 映射到 KV 存储，读写失败只记录日志
type storeCache struct {
	store node.CacheStore
	ttl   time.Duration
	scope string
}

func (c *storeCache) Lookup(ctx context.Context, prompt, llmKey string) (string, bool) {
	v, ok, err := c.store.Get(ctx, hashKey(c.scope, prompt, llmKey))
	if err != nil {
		applog.Warn("[Cache] Lookup failed", "scope", c.scope, "error", err)
		return "", false
	}
	return v, ok
}

func (c *storeCache) Update(ctx context.Context, prompt, llmKey, value string) {
	if err := c.store.Set(ctx, hashKey(c.scope, prompt, llmKey), value, c.ttl); err != nil {
		applog.Warn("[Cache] Update failed", "scope", c.scope, "error", err)
	}
}

type redisPlugin struct{}

func (p *redisPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "redisCache",
		Label:       "Redis Cache",
		Version:     1,
		Type:        "RedisCache",
		Icon:        "redis.svg",
		Category:    string(types.CategoryCache),
		Description: "Cache LLM response in Redis, useful for sharing cache across multiple processes or servers",
		BaseClasses: append([]string{"RedisCache"}, cacheClasses...),
		Credential: &node.CredentialParam{
			Label:           "Connect Credential",
			Name:            "credential",
			Type:            "credential",
			CredentialNames: []string{"redisCacheUrlApi"},
			Optional:        true,
		},
		Inputs: []node.InputParam{
			{Label: "Time to Live (ms)", Name: "ttl", Type: "number", Step: 1, Optional: true, Additional: true},
		},
	}
}

func (p *redisPlugin) Init(ctx context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	url, err := node.CredentialValue(ctx, data, opts, "redisUrl", "")
	if err != nil {
		return nil, err
	}

	var store node.CacheStore
	switch {
	case url != "":
		if store, err = openStore(ctx, url); err != nil {
			return nil, fmt.Errorf("node %s: %w", data.ID, err)
		}
	case opts != nil && opts.Deps != nil && opts.Deps.Cache != nil:
		store = opts.Deps.Cache
	default:
		return nil, fmt.Errorf("node %s: redis is not configured", data.ID)
	}

	ttl := time.Duration(node.GetInt(data, "ttl", 0)) * time.Millisecond
	if ttl == 0 {
		ttl = node.DefaultsOf(opts).CacheTTL
	}
	return &storeCache{store: store, ttl: ttl, scope: "llm"}, nil
}

// memoryStore 进程内缓存，按 chatflow 隔离，服务重启后失效
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

var memoryStores = struct {
	sync.Mutex
	byFlow map[string]*memoryStore
}{byFlow: make(map[string]*memoryStore)}

func memoryStoreFor(chatflowID string) *memoryStore {
	memoryStores.Lock()
	defer memoryStores.Unlock()
	s, ok := memoryStores.byFlow[chatflowID]
	if !ok {
		s = &memoryStore{entries: make(map[string]string)}
		memoryStores.byFlow[chatflowID] = s
	}
	return s
}

type inMemoryPlugin struct{}

func (p *inMemoryPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "inMemoryCache",
		Label:       "InMemory Cache",
		Version:     1,
		Type:        "InMemoryCache",
		Icon:        "Memory.svg",
		Category:    string(types.CategoryCache),
		Description: "Cache LLM response in local memory, will be cleared when app is restarted",
		BaseClasses: append([]string{"InMemoryCache"}, cacheClasses...),
	}
}

func (p *inMemoryPlugin) Init(_ context.Context, _ *node.NodeData, opts *node.InitOptions) (any, error) {
	chatflowID := ""
	if opts != nil {
		chatflowID = opts.ChatflowID
	}
	return &storeCache{store: memoryStoreFor(chatflowID), scope: chatflowID}, nil
}
