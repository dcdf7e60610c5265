package chatflow

import (
	"context"
	"net/http"
	"strings"

	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

// MessageQuery GET /chatmessage/{id} 查询参数
type MessageQuery struct {
	ChatID    string
	SessionID string
	// Order ASC | DESC，默认 ASC
	Order    string
	ChatType string
}

// ListMessages 列出 chatflow 的会话消息
func (s *Service) ListMessages(ctx context.Context, chatflowID string, q MessageQuery) ([]*port.ChatMessage, error) {
	if _, err := s.Get(ctx, chatflowID); err != nil {
		return nil, err
	}
	pq := port.ChatMessageQuery{
		ChatflowID: chatflowID,
		ChatID:     q.ChatID,
		SessionID:  q.SessionID,
	}
	switch strings.ToUpper(q.Order) {
	case "", "ASC":
	case "DESC":
		pq.Descending = true
	default:
		return nil, errs.BadRequest("order must be ASC or DESC")
	}
	if q.ChatType != "" {
		pq.ChatType = port.ChatType(strings.ToUpper(q.ChatType))
		if pq.ChatType != port.ChatTypeInternal && pq.ChatType != port.ChatTypeExternal {
			return nil, errs.BadRequest("invalid chatType: %s", q.ChatType)
		}
	}
	list, err := s.repo.ListChatMessages(ctx, pq)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "list chat messages")
	}
	return list, nil
}

// DeleteMessages 删除会话消息，chatID 为空时删除整个 chatflow 的消息。
// 同时清空这些会话在 Redis 中的记忆
func (s *Service) DeleteMessages(ctx context.Context, chatflowID, chatID string) (int64, error) {
	if _, err := s.Get(ctx, chatflowID); err != nil {
		return 0, err
	}

	if err := s.clearChatMemory(ctx, chatflowID, chatID); err != nil {
		return 0, err
	}

	n, err := s.repo.DeleteChatMessages(ctx, chatflowID, chatID)
	if err != nil {
		return 0, errs.Wrap(http.StatusInternalServerError, err, "delete chat messages")
	}
	applog.Info("[Chatflow] Messages deleted", "chatflow_id", chatflowID, "chat_id", chatID, "count", n)
	return n, nil
}

// clearChatMemory 清空会话在 Redis 中的记忆，key 优先取 sessionId
func (s *Service) clearChatMemory(ctx context.Context, chatflowID, chatID string) error {
	if s.chatMemory == nil {
		return nil
	}
	msgs, err := s.repo.ListChatMessages(ctx, port.ChatMessageQuery{ChatflowID: chatflowID, ChatID: chatID})
	if err != nil {
		return errs.Wrap(http.StatusInternalServerError, err, "list chat messages")
	}
	seen := make(map[string]bool)
	for _, m := range msgs {
		key := m.SessionID
		if key == "" {
			key = m.ChatID
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if err := s.chatMemory.Clear(ctx, key); err != nil {
			applog.Warn("[Chatflow] Clear chat memory failed", "chatflow_id", chatflowID, "session_id", key, "error", err)
		}
	}
	return nil
}
