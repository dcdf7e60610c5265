package types

import (
	"fmt"
	"strings"
)

// NodeCategory 节点分类，对应节点定义中的 category
type NodeCategory string

const (
	CategoryChatModels      NodeCategory = "Chat Models"
	CategoryEmbeddings      NodeCategory = "Embeddings"
	CategoryDocumentLoaders NodeCategory = "Document Loaders"
	CategoryTextSplitters   NodeCategory = "Text Splitters"
	CategoryVectorStores    NodeCategory = "Vector Stores"
	CategoryMemory          NodeCategory = "Memory"
	CategoryCache           NodeCategory = "Cache"
	CategoryPrompts         NodeCategory = "Prompts"
	CategoryChains          NodeCategory = "Chains"
	CategoryAgents          NodeCategory = "Agents"
	CategoryTools           NodeCategory = "Tools"
)

// IsEnding 判断分类是否可作为结束节点
func (c NodeCategory) IsEnding() bool {
	return c == CategoryChains || c == CategoryAgents
}

// Document 文档片段，loader/splitter/vector store 之间传递的基本单位
type Document struct {
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata"`
}

// Clone 复制文档（metadata 浅拷贝到新 map）
func (d Document) Clone() Document {
	md := make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		md[k] = v
	}
	return Document{PageContent: d.PageContent, Metadata: md}
}

// HistoryRole 历史消息角色
type HistoryRole string

const (
	HistoryUser HistoryRole = "userMessage"
	HistoryAPI  HistoryRole = "apiMessage"
	// HistorySystem 记忆节点生成的摘要，不落库
	HistorySystem HistoryRole = "systemMessage"
)

// HistoryMessage 对话历史中的一条消息
type HistoryMessage struct {
	Role    HistoryRole `json:"type"`
	Content string      `json:"message"`
}

// FormatHistory 将历史格式化为 "Human: ...\nAssistant: ..." 文本
func FormatHistory(history []HistoryMessage) string {
	var sb strings.Builder
	for i, m := range history {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch m.Role {
		case HistoryAPI:
			sb.WriteString("Assistant: ")
		case HistorySystem:
			sb.WriteString("System: ")
		default:
			sb.WriteString("Human: ")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// UsedTool 一次工具调用记录
type UsedTool struct {
	Tool       string `json:"tool"`
	ToolInput  any    `json:"toolInput"`
	ToolOutput string `json:"toolOutput"`
}

// FileUpload 随预测或写入请求上传的文件
type FileUpload struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	// Type: file | audio | url
	Type string `json:"type"`
	Data []byte `json:"-"`
	// URL 为 type=url 时的地址，或 data URI
	URL string `json:"data,omitempty"`
}

// IsAudio 是否音频上传
func (f FileUpload) IsAudio() bool {
	return f.Type == "audio" || strings.HasPrefix(f.Mime, "audio/")
}

// UpsertResult 向量写入结果
type UpsertResult struct {
	NumAdded   int        `json:"numAdded"`
	NumDeleted int        `json:"numDeleted"`
	NumUpdated int        `json:"numUpdated"`
	NumSkipped int        `json:"numSkipped"`
	AddedDocs  []Document `json:"addedDocs"`
}

// String 便于日志输出
func (r *UpsertResult) String() string {
	return fmt.Sprintf("added=%d deleted=%d updated=%d skipped=%d", r.NumAdded, r.NumDeleted, r.NumUpdated, r.NumSkipped)
}
