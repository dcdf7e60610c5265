package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	types "nodeforge/internal/domain/chatflow/model"
	applog "nodeforge/internal/platform/log"
)

// ErrMemoryVersionConflict CAS 写入时版本已被其他请求推进
var ErrMemoryVersionConflict = errors.New("chat memory version conflict")

// ChatMemory Redis Hash 实现的会话记忆，字段 messages（JSON）+ version
type ChatMemory struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
}

// ChatMemoryConfig Redis 会话记忆配置
type ChatMemoryConfig struct {
	Client    *redis.Client
	KeyPrefix string        // 默认 "chatmem:"
	TTL       time.Duration // Append 未指定 ttl 时使用，默认 24h
}

// NewChatMemory 创建 Redis 会话记忆
func NewChatMemory(cfg ChatMemoryConfig) *ChatMemory {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "chatmem:"
	}
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &ChatMemory{
		client:     cfg.Client,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.TTL,
	}
}

func (m *ChatMemory) key(sessionKey string) string {
	return m.keyPrefix + sessionKey
}

type memoryState struct {
	Messages []types.HistoryMessage
	Version  int
}

func (m *ChatMemory) loadState(ctx context.Context, getter redis.Cmdable, key string) (*memoryState, error) {
	vals, err := getter.HMGet(ctx, key, "messages", "version").Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET: %w", err)
	}
	state := &memoryState{}
	if raw, ok := vals[0].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Messages); err != nil {
			applog.Warn("[ChatMemory/Redis] Failed to parse messages", "key", key, "error", err)
		}
	}
	if raw, ok := vals[1].(string); ok {
		fmt.Sscanf(raw, "%d", &state.Version)
	}
	return state, nil
}

// Load 返回最近 window 轮（每轮 user + assistant 两条）消息，window<=0 返回全部
func (m *ChatMemory) Load(ctx context.Context, sessionKey string, window int) ([]types.HistoryMessage, error) {
	state, err := m.loadState(ctx, m.client, m.key(sessionKey))
	if err != nil {
		return nil, err
	}
	msgs := state.Messages
	if maxMsgs := window * 2; maxMsgs > 0 && len(msgs) > maxMsgs {
		msgs = msgs[len(msgs)-maxMsgs:]
	}
	applog.Debug("[ChatMemory/Redis] Messages loaded",
		"session", sessionKey,
		"count", len(msgs),
		"window", window,
	)
	return msgs, nil
}

// Append 以 CAS 方式追加消息，版本冲突时重试
func (m *ChatMemory) Append(ctx context.Context, sessionKey string, ttl time.Duration, msgs ...types.HistoryMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	key := m.key(sessionKey)

	const maxRetry = 5
	for attempt := 1; attempt <= maxRetry; attempt++ {
		err := m.client.Watch(ctx, func(tx *redis.Tx) error {
			state, err := m.loadState(ctx, tx, key)
			if err != nil {
				return err
			}
			state.Messages = append(state.Messages, msgs...)
			data, err := json.Marshal(state.Messages)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "messages", string(data), "version", state.Version+1)
				pipe.Expire(ctx, key, ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			applog.Warn("[ChatMemory/Redis] Append version conflict, retrying",
				"session", sessionKey,
				"attempt", attempt,
				"max_retry", maxRetry,
			)
		default:
			return fmt.Errorf("redis cas append: %w", err)
		}
	}
	return fmt.Errorf("append failed after retries: %w", ErrMemoryVersionConflict)
}

// Clear 删除会话记忆
func (m *ChatMemory) Clear(ctx context.Context, sessionKey string) error {
	applog.Info("[ChatMemory/Redis] Clearing session", "session", sessionKey)
	return m.client.Del(ctx, m.key(sessionKey)).Err()
}
