package port

import (
	"context"
	"errors"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Repository 持久化接口
type Repository interface {
	// ChatFlow
	CreateChatFlow(ctx context.Context, cf *ChatFlow) error
	GetChatFlow(ctx context.Context, id string) (*ChatFlow, error)
	ListChatFlows(ctx context.Context, flowType ChatflowType) ([]*ChatFlow, error)
	UpdateChatFlow(ctx context.Context, cf *ChatFlow) error
	DeleteChatFlow(ctx context.Context, id string) error

	// Credential
	CreateCredential(ctx context.Context, c *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	ListCredentials(ctx context.Context, credentialNames ...string) ([]*Credential, error)
	UpdateCredential(ctx context.Context, c *Credential) error
	DeleteCredential(ctx context.Context, id string) error

	// ChatMessage
	AddChatMessage(ctx context.Context, m *ChatMessage) error
	ListChatMessages(ctx context.Context, q ChatMessageQuery) ([]*ChatMessage, error)
	DeleteChatMessages(ctx context.Context, chatflowID, chatID string) (int64, error)

	// Attachment
	CreateAttachment(ctx context.Context, a *Attachment) error
	ListAttachments(ctx context.Context, chatflowID, chatID string) ([]*Attachment, error)

	// UpsertHistory
	AddUpsertHistory(ctx context.Context, h *UpsertHistory) error
	ListUpsertHistory(ctx context.Context, chatflowID string) ([]*UpsertHistory, error)
	DeleteUpsertHistory(ctx context.Context, chatflowID string) error

	// APIKey
	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	FindAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error

	// 企业版占位数据
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListOrganizations(ctx context.Context) ([]*Organization, error)
	ListWorkspaces(ctx context.Context, organizationID string) ([]*Workspace, error)

	// 表结构
	EnsureSchema(ctx context.Context) error
}

type repoScopeKey struct{}

// WithRepoScope 注入工作区作用域，repository 按 workspace 过滤
func WithRepoScope(ctx context.Context, workspaceID string) context.Context {
	if workspaceID == "" {
		return ctx
	}
	return context.WithValue(ctx, repoScopeKey{}, workspaceID)
}

// RepoScopeFrom 读取工作区作用域
func RepoScopeFrom(ctx context.Context) (string, bool) {
	ws, ok := ctx.Value(repoScopeKey{}).(string)
	return ws, ok && ws != ""
}
