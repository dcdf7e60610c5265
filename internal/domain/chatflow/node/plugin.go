package node

import (
	"context"
	"net/http"
	"time"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/domain/rag"
)

// Plugin 节点插件：声明元数据，并把已解析的输入转换成能力实例
type Plugin interface {
	Definition() *Definition
	Init(ctx context.Context, data *NodeData, opts *InitOptions) (any, error)
}

// Upserter 向量库插件在写入模式下实现
type Upserter interface {
	Upsert(ctx context.Context, data *NodeData, opts *InitOptions) (*types.UpsertResult, error)
}

// InitOptions 节点初始化时的运行上下文
type InitOptions struct {
	ChatflowID string
	ChatID     string
	SessionID  string
	Question   string
	// Uploads 写入模式下随请求上传的文件，由文档加载器消费
	Uploads []types.FileUpload
	Deps    *Deps
}

// CredentialResolver 解密节点引用的凭据
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, credentialID string) (map[string]any, error)
}

// MessageStore bufferMemory 读取持久化的对话消息
type MessageStore interface {
	ListChatMessages(ctx context.Context, q port.ChatMessageQuery) ([]*port.ChatMessage, error)
	DeleteChatMessages(ctx context.Context, chatflowID, chatID string) (int64, error)
}

// ChatMemoryStore 外部会话记忆存储（Redis）
type ChatMemoryStore interface {
	Load(ctx context.Context, sessionKey string, window int) ([]types.HistoryMessage, error)
	Append(ctx context.Context, sessionKey string, ttl time.Duration, msgs ...types.HistoryMessage) error
	Clear(ctx context.Context, sessionKey string) error
}

// CacheStore 外部 KV 缓存（Redis）
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Defaults 节点未配置凭据时回退使用的服务端配置
type Defaults struct {
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	AnthropicAPIKey       string
	GoogleAPIKey          string
	OpenSearchURL         string
	OpenSearchUsername    string
	OpenSearchPassword    string
	OpenSearchIndexPrefix string
	EmbeddingBatchSize    int
	CacheTTL              time.Duration
	MemoryTTL             time.Duration
}

// Deps 节点可用的外部依赖，由 bootstrap 注入；字段可为 nil
type Deps struct {
	Credentials CredentialResolver
	Messages    MessageStore
	ChatMemory  ChatMemoryStore
	Cache       CacheStore
	SearchCache rag.SearchCacheStore
	HTTPClient  *http.Client
	Defaults    Defaults
}

// HTTP 返回可用的 http.Client
func (d *Deps) HTTP() *http.Client {
	if d == nil || d.HTTPClient == nil {
		return http.DefaultClient
	}
	return d.HTTPClient
}
