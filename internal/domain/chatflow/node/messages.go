package node

import (
	"context"

	"nodeforge/internal/domain/chatflow/event"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/provider"
)

// HistoryToMessages 对话历史转为模型消息
func HistoryToMessages(history []types.HistoryMessage) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, h := range history {
		role := provider.RoleUser
		switch h.Role {
		case types.HistoryAPI:
			role = provider.RoleAssistant
		case types.HistorySystem:
			role = provider.RoleSystem
		}
		out = append(out, provider.Message{Role: role, Content: h.Content})
	}
	return out
}

// SessionOf 记忆使用的会话 key：优先 sessionId，否则 chatId
func SessionOf(in *RunInput) string {
	if in.SessionID != "" {
		return in.SessionID
	}
	return in.ChatID
}

// LoadHistory 有记忆节点时从记忆读取，否则使用请求携带的 history
func LoadHistory(ctx context.Context, mem Memory, in *RunInput) ([]types.HistoryMessage, error) {
	if mem == nil {
		return in.History, nil
	}
	return mem.Messages(ctx, SessionOf(in))
}

// SaveTurn 把本轮问答写回记忆
func SaveTurn(ctx context.Context, mem Memory, in *RunInput, answer string) error {
	if mem == nil {
		return nil
	}
	return mem.Append(ctx, SessionOf(in),
		types.HistoryMessage{Role: types.HistoryUser, Content: in.Question},
		types.HistoryMessage{Role: types.HistoryAPI, Content: answer},
	)
}

// Call 有 sink 且模型允许流式时逐 token 推送，否则普通调用
func Call(ctx context.Context, model ChatModel, msgs []provider.Message, opts *CallOptions, sink event.Sink) (*provider.CompletionResponse, error) {
	if sink == nil || !model.Streaming() {
		return model.Generate(ctx, msgs, opts)
	}
	return model.Stream(ctx, msgs, opts, func(token string) {
		event.Emit(sink, event.EventTypeToken, token)
	})
}
