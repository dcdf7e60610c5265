package memory

import (
	"context"
	"fmt"
	"time"

	redisdb "nodeforge/internal/db/redis"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
)

func init() {
	node.Register(&redisPlugin{})
}

// openChatMemory 按凭据中的 Redis URL 创建存储，测试中替换
var openChatMemory = func(ctx context.Context, url string) (node.ChatMemoryStore, error) {
	client, err := redisdb.Shared(ctx, url)
	if err != nil {
		return nil, err
	}
	return redisdb.NewChatMemory(redisdb.ChatMemoryConfig{Client: client}), nil
}

// redisMemory 会话消息保存在 Redis，可设置窗口与过期时间
type redisMemory struct {
	store  node.ChatMemoryStore
	ttl    time.Duration
	window int
}

func (m *redisMemory) Messages(ctx context.Context, sessionID string) ([]types.HistoryMessage, error) {
	return m.store.Load(ctx, sessionID, m.window)
}

func (m *redisMemory) Append(ctx context.Context, sessionID string, msgs ...types.HistoryMessage) error {
	return m.store.Append(ctx, sessionID, m.ttl, msgs...)
}

func (m *redisMemory) Clear(ctx context.Context, sessionID string) error {
	return m.store.Clear(ctx, sessionID)
}

type redisPlugin struct{}

func (p *redisPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "redisBackedChatMemory",
		Label:       "Redis-Backed Chat Memory",
		Version:     1,
		Type:        "RedisBackedChatMemory",
		Icon:        "redis.svg",
		Category:    string(types.CategoryMemory),
		Description: "Summarizes the conversation and stores the memory in Redis server",
		BaseClasses: append([]string{"RedisBackedChatMemory"}, memoryClasses...),
		Credential: &node.CredentialParam{
			Label:           "Connect Credential",
			Name:            "credential",
			Type:            "credential",
			CredentialNames: []string{"redisCacheUrlApi"},
			Optional:        true,
		},
		Inputs: append([]node.InputParam{
			{Label: "Session Timeouts", Name: "sessionTTL", Type: "number", Optional: true, Additional: true,
				Description: "Seconds till a session expires. If not specified, the session will never expire."},
			{Label: "Window Size", Name: "windowSize", Type: "number", Optional: true, Additional: true,
				Description: "Window of size k to surface the last k back-and-forth to use as memory."},
		}, sessionInputs...),
	}
}

func (p *redisPlugin) Init(ctx context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	url, err := node.CredentialValue(ctx, data, opts, "redisUrl", "")
	if err != nil {
		return nil, err
	}

	var store node.ChatMemoryStore
	switch {
	case url != "":
		if store, err = openChatMemory(ctx, url); err != nil {
			return nil, fmt.Errorf("node %s: %w", data.ID, err)
		}
	case opts != nil && opts.Deps != nil && opts.Deps.ChatMemory != nil:
		store = opts.Deps.ChatMemory
	default:
		return nil, fmt.Errorf("node %s: redis is not configured", data.ID)
	}

	ttl := time.Duration(node.GetInt(data, "sessionTTL", 0)) * time.Second
	if ttl == 0 {
		ttl = node.DefaultsOf(opts).MemoryTTL
	}
	m := &redisMemory{store: store, ttl: ttl, window: node.GetInt(data, "windowSize", 0)}
	return withSession(m, data), nil
}
