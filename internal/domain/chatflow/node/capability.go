package node

import (
	"context"

	"nodeforge/internal/domain/chatflow/event"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/provider"
)

// 节点 Init 返回的实例按能力划分，下游节点按需断言。

// CallOptions 单次模型调用的附加参数
type CallOptions struct {
	Tools []provider.ToolDefinition
	Stop  []string
}

// ChatModel 对话模型
type ChatModel interface {
	// ModelName 返回模型标识，用于缓存 key 与日志
	ModelName() string
	Generate(ctx context.Context, messages []provider.Message, opts *CallOptions) (*provider.CompletionResponse, error)
	// Stream 逐 token 回调 onToken，返回聚合后的完整响应
	Stream(ctx context.Context, messages []provider.Message, opts *CallOptions, onToken func(string)) (*provider.CompletionResponse, error)
	// Streaming 节点配置是否允许流式输出
	Streaming() bool
}

// Embeddings 向量化模型
type Embeddings interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever 检索器
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]types.Document, error)
}

// VectorStore 向量库
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []types.Document) ([]string, error)
	SimilaritySearch(ctx context.Context, query string, k int) ([]types.Document, error)
	AsRetriever(k int) Retriever
}

// DocumentLoader 文档加载器
type DocumentLoader interface {
	Load(ctx context.Context) ([]types.Document, error)
}

// TextSplitter 文本切分器
type TextSplitter interface {
	SplitText(text string) []string
	SplitDocuments(docs []types.Document) []types.Document
}

// Memory 对话记忆
type Memory interface {
	Messages(ctx context.Context, sessionID string) ([]types.HistoryMessage, error)
	Append(ctx context.Context, sessionID string, msgs ...types.HistoryMessage) error
	Clear(ctx context.Context, sessionID string) error
}

// Cache LLM 结果缓存
type Cache interface {
	Lookup(ctx context.Context, prompt, llmKey string) (string, bool)
	Update(ctx context.Context, prompt, llmKey, value string)
}

// Tool 可被 agent 调用的工具
type Tool interface {
	Name() string
	Description() string
	// Schema 参数 JSON Schema；nil 表示单个字符串输入
	Schema() map[string]any
	Call(ctx context.Context, input string) (string, error)
}

// DocumentTool 输出附带来源文档的工具（retrieverTool）
type DocumentTool interface {
	Tool
	CallWithDocuments(ctx context.Context, input string) (string, []types.Document, error)
}

// PromptTemplate 提示词模板
type PromptTemplate interface {
	InputVariables() []string
	Format(vars map[string]string) (string, error)
	FormatMessages(vars map[string]string) ([]provider.Message, error)
}

// RunInput 结束节点的执行输入
type RunInput struct {
	Question  string
	ChatID    string
	SessionID string
	History   []types.HistoryMessage
	// Sink 非 nil 时节点应逐 token 推送
	Sink event.Sink
}

// RunOutput 结束节点的执行输出
type RunOutput struct {
	Text            string           `json:"text"`
	SourceDocuments []types.Document `json:"sourceDocuments,omitempty"`
	UsedTools       []types.UsedTool `json:"usedTools,omitempty"`
}

// Runnable chain / agent
type Runnable interface {
	Run(ctx context.Context, in *RunInput) (*RunOutput, error)
}
