package memory

import (
	"context"
	"fmt"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/chatflow/port"
)

var memoryClasses = []string{"BaseChatMemory", "BaseMemory"}

var sessionInputs = []node.InputParam{
	{Label: "Session Id", Name: "sessionId", Type: "string", Optional: true, Additional: true,
		Description: "If not specified, a random id will be used. Learn more about session ids"},
	{Label: "Memory Key", Name: "memoryKey", Type: "string", Default: "chat_history", Additional: true},
}

func init() {
	node.Register(&bufferPlugin{})
	node.Register(&bufferWindowPlugin{})
}

// dbMemory 从已持久化的会话消息读取历史；消息由预测服务写入，Append 不做事
type dbMemory struct {
	store      node.MessageStore
	chatflowID string
	window     int
}

func (m *dbMemory) Messages(ctx context.Context, sessionID string) ([]types.HistoryMessage, error) {
	rows, err := m.store.ListChatMessages(ctx, port.ChatMessageQuery{ChatflowID: m.chatflowID, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("load chat messages: %w", err)
	}
	if n := m.window * 2; n > 0 && len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	out := make([]types.HistoryMessage, 0, len(rows))
	for _, r := range rows {
		role := types.HistoryUser
		if r.Role == port.RoleAPI {
			role = types.HistoryAPI
		}
		out = append(out, types.HistoryMessage{Role: role, Content: r.Content})
	}
	return out, nil
}

func (m *dbMemory) Append(context.Context, string, ...types.HistoryMessage) error { return nil }

// Clear 按 sessionId 找到对应的会话，逐个删除其消息
func (m *dbMemory) Clear(ctx context.Context, sessionID string) error {
	rows, err := m.store.ListChatMessages(ctx, port.ChatMessageQuery{ChatflowID: m.chatflowID, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("load chat messages: %w", err)
	}
	seen := make(map[string]bool)
	for _, r := range rows {
		if r.ChatID == "" || seen[r.ChatID] {
			continue
		}
		seen[r.ChatID] = true
		if _, err := m.store.DeleteChatMessages(ctx, m.chatflowID, r.ChatID); err != nil {
			return fmt.Errorf("delete chat %s: %w", r.ChatID, err)
		}
	}
	return nil
}

// fixedSession 节点配置了 sessionId 时忽略请求的会话
type fixedSession struct {
	node.Memory
	sessionID string
}

func (f *fixedSession) Messages(ctx context.Context, _ string) ([]types.HistoryMessage, error) {
	return f.Memory.Messages(ctx, f.sessionID)
}

func (f *fixedSession) Append(ctx context.Context, _ string, msgs ...types.HistoryMessage) error {
	return f.Memory.Append(ctx, f.sessionID, msgs...)
}

func (f *fixedSession) Clear(ctx context.Context, _ string) error {
	return f.Memory.Clear(ctx, f.sessionID)
}

func withSession(m node.Memory, data *node.NodeData) node.Memory {
	if sid := node.GetString(data, "sessionId"); sid != "" {
		return &fixedSession{Memory: m, sessionID: sid}
	}
	return m
}

func newDBMemory(data *node.NodeData, opts *node.InitOptions, window int) (*dbMemory, error) {
	if opts == nil || opts.Deps == nil || opts.Deps.Messages == nil {
		return nil, fmt.Errorf("node %s: message store is not available", data.ID)
	}
	return &dbMemory{store: opts.Deps.Messages, chatflowID: opts.ChatflowID, window: window}, nil
}

type bufferPlugin struct{}

func (p *bufferPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "bufferMemory",
		Label:       "Buffer Memory",
		Version:     1,
		Type:        "BufferMemory",
		Icon:        "memory.svg",
		Category:    string(types.CategoryMemory),
		Description: "Retrieve chat messages stored in database",
		BaseClasses: append([]string{"BufferMemory"}, memoryClasses...),
		Inputs:      sessionInputs,
	}
}

func (p *bufferPlugin) Init(_ context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	m, err := newDBMemory(data, opts, 0)
	if err != nil {
		return nil, err
	}
	return withSession(m, data), nil
}

type bufferWindowPlugin struct{}

func (p *bufferWindowPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "bufferWindowMemory",
		Label:       "Buffer Window Memory",
		Version:     1,
		Type:        "BufferWindowMemory",
		Icon:        "memory.svg",
		Category:    string(types.CategoryMemory),
		Description: "Uses a window of size k to surface the last k back-and-forth to use as memory",
		BaseClasses: append([]string{"BufferWindowMemory"}, memoryClasses...),
		Inputs: append([]node.InputParam{
			{Label: "Size", Name: "k", Type: "number", Default: 4, Description: "Window of size k to surface the last k back-and-forth to use as memory."},
		}, sessionInputs...),
	}
}

func (p *bufferWindowPlugin) Init(_ context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	m, err := newDBMemory(data, opts, node.GetInt(data, "k", 4))
	if err != nil {
		return nil, err
	}
	return withSession(m, data), nil
}
