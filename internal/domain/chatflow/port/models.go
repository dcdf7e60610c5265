package port

import (
	"encoding/json"
	"time"
)

// ChatflowType chatflow 类型
type ChatflowType string

const (
	ChatflowTypeChatflow   ChatflowType = "CHATFLOW"
	ChatflowTypeAgentflow  ChatflowType = "AGENTFLOW"
	ChatflowTypeMultiAgent ChatflowType = "MULTIAGENT"
	ChatflowTypeAssistant  ChatflowType = "ASSISTANT"
)

// Valid 是否为已知类型
func (t ChatflowType) Valid() bool {
	switch t {
	case ChatflowTypeChatflow, ChatflowTypeAgentflow, ChatflowTypeMultiAgent, ChatflowTypeAssistant:
		return true
	}
	return false
}

// ChatFlow 可视化编排的流程图及其元数据。
// FlowData 为画布导出的 JSON 字符串（nodes + edges），原样持久化。
type ChatFlow struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	FlowData      string       `json:"flowData"`
	Deployed      bool         `json:"deployed"`
	IsPublic      bool         `json:"isPublic"`
	APIKeyID      string       `json:"apikeyid,omitempty"`
	ChatbotConfig string       `json:"chatbotConfig,omitempty"`
	APIConfig     string       `json:"apiConfig,omitempty"`
	SpeechToText  string       `json:"speechToText,omitempty"`
	Category      string       `json:"category,omitempty"`
	Type          ChatflowType `json:"type"`
	WorkspaceID   string       `json:"workspaceId,omitempty"`
	CreatedDate   time.Time    `json:"createdDate"`
	UpdatedDate   time.Time    `json:"updatedDate"`
}

// Credential 加密保存的第三方凭据
type Credential struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CredentialName string    `json:"credentialName"`
	EncryptedData  string    `json:"-"`
	WorkspaceID    string    `json:"workspaceId,omitempty"`
	CreatedDate    time.Time `json:"createdDate"`
	UpdatedDate    time.Time `json:"updatedDate"`
}

// MessageRole 消息角色
type MessageRole string

const (
	RoleUser MessageRole = "userMessage"
	RoleAPI  MessageRole = "apiMessage"
)

// ChatType 消息来源
type ChatType string

const (
	ChatTypeInternal ChatType = "INTERNAL"
	ChatTypeExternal ChatType = "EXTERNAL"
)

// ChatMessage 会话消息
type ChatMessage struct {
	ID              string          `json:"id"`
	Role            MessageRole     `json:"role"`
	ChatflowID      string          `json:"chatflowid"`
	ChatID          string          `json:"chatId"`
	SessionID       string          `json:"sessionId,omitempty"`
	Content         string          `json:"content"`
	SourceDocuments json.RawMessage `json:"sourceDocuments,omitempty"`
	UsedTools       json.RawMessage `json:"usedTools,omitempty"`
	FileUploads     json.RawMessage `json:"fileUploads,omitempty"`
	ChatType        ChatType        `json:"chatType"`
	MemoryType      string          `json:"memoryType,omitempty"`
	CreatedDate     time.Time       `json:"createdDate"`
}

// Attachment 会话附件
type Attachment struct {
	ID          string    `json:"id"`
	ChatflowID  string    `json:"chatflowid"`
	ChatID      string    `json:"chatId"`
	FileName    string    `json:"name"`
	MimeType    string    `json:"mimeType"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storagePath"`
	Content     string    `json:"content"`
	CreatedDate time.Time `json:"createdDate"`
}

// UpsertHistory 向量写入记录
type UpsertHistory struct {
	ID         string          `json:"id"`
	ChatflowID string          `json:"chatflowid"`
	Result     json.RawMessage `json:"result"`
	FlowData   json.RawMessage `json:"flowData"`
	Date       time.Time       `json:"date"`
}

// APIKey 调用方密钥，仅保存摘要
type APIKey struct {
	ID          string    `json:"id"`
	KeyName     string    `json:"keyName"`
	KeyHash     string    `json:"-"`
	KeyPrefix   string    `json:"keyPrefix"`
	WorkspaceID string    `json:"workspaceId,omitempty"`
	CreatedDate time.Time `json:"createdDate"`
}

// User 企业版用户（精简版只有内置管理员）
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Status      string    `json:"status"`
	CreatedDate time.Time `json:"createdDate"`
}

// Organization 企业版组织
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedDate time.Time `json:"createdDate"`
}

// Workspace 企业版工作区
type Workspace struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OrganizationID string    `json:"organizationId"`
	CreatedDate    time.Time `json:"createdDate"`
}

// Default* 精简版内置的唯一组织/工作区/用户
const (
	DefaultOrganizationID = "00000000-0000-0000-0000-000000000001"
	DefaultWorkspaceID    = "00000000-0000-0000-0000-000000000002"
	DefaultUserID         = "00000000-0000-0000-0000-000000000003"
)

// ChatMessageQuery 消息查询条件
type ChatMessageQuery struct {
	ChatflowID string
	ChatID     string
	SessionID  string
	ChatType   ChatType
	Descending bool
	Limit      int
}
