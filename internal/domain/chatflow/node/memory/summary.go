package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MakeNowJust/heredoc/v2"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/provider"
)

func init() {
	node.Register(&summaryBufferPlugin{})
}

// TokenEstimator Token 估算器
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// SimpleTokenEstimator 保守估计：rune 数 * 2 / 3
type SimpleTokenEstimator struct{}

func (SimpleTokenEstimator) EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) * 2 / 3
}

// EstimateHistory 估算历史消息总 token，每条消息另计 4 个角色标记开销
func EstimateHistory(est TokenEstimator, history []types.HistoryMessage) int {
	total := 0
	for _, m := range history {
		total += 4 + est.EstimateTokens(m.Content)
	}
	return total
}

// splitByBudget 从最新消息往前保留不超过 budget 的部分，其余返回为待摘要
func splitByBudget(est TokenEstimator, history []types.HistoryMessage, budget int) (older, recent []types.HistoryMessage) {
	total := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		t := 4 + est.EstimateTokens(history[i].Content)
		if total+t > budget {
			break
		}
		total += t
		cut = i
	}
	return history[:cut], history[cut:]
}

var summarySystemPrompt = heredoc.Doc(`
	You summarize conversations. Compress the dialogue into a concise summary that keeps the context.
	Keep the key facts, decisions and conclusions.
	Keep the user's preferences and requirements.
	Write in the third person and avoid redundancy.
`)

func buildSummaryPrompt(history []types.HistoryMessage) string {
	var sb strings.Builder
	sb.WriteString("Conversation:\n")
	sb.WriteString(types.FormatHistory(history))
	sb.WriteString("\n\nReturn a concise summary of the conversation.")
	return sb.String()
}

// summaryBufferMemory 超出 token 上限的旧消息由模型压缩为一段摘要
type summaryBufferMemory struct {
	node.Memory
	model     node.ChatModel
	maxTokens int
	estimator TokenEstimator
	cache     node.CacheStore
	cacheTTL  time.Duration
	scope     string
}

func (m *summaryBufferMemory) Messages(ctx context.Context, sessionID string) ([]types.HistoryMessage, error) {
	history, err := m.Memory.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if EstimateHistory(m.estimator, history) <= m.maxTokens {
		return history, nil
	}

	older, recent := splitByBudget(m.estimator, history, m.maxTokens)
	summary, err := m.summarize(ctx, sessionID, older)
	if err != nil {
		return nil, err
	}
	out := make([]types.HistoryMessage, 0, len(recent)+1)
	out = append(out, types.HistoryMessage{Role: types.HistorySystem, Content: summary})
	return append(out, recent...), nil
}

// summarize 摘要按被压缩消息的内容缓存，历史不变时不重复调用模型
func (m *summaryBufferMemory) summarize(ctx context.Context, sessionID string, older []types.HistoryMessage) (string, error) {
	key := m.cacheKey(sessionID, older)
	if m.cache != nil {
		if v, ok, err := m.cache.Get(ctx, key); err == nil && ok {
			return v, nil
		}
	}

	resp, err := m.model.Generate(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: summarySystemPrompt},
		{Role: provider.RoleUser, Content: buildSummaryPrompt(older)},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	applog.Info("[Memory/Summary] Summary generated",
		"session", sessionID,
		"summarized_messages", len(older),
		"summary_length", len(summary),
	)

	if m.cache != nil {
		if err := m.cache.Set(ctx, key, summary, m.cacheTTL); err != nil {
			applog.Warn("[Memory/Summary] Cache summary failed", "error", err)
		}
	}
	return summary, nil
}

func (m *summaryBufferMemory) cacheKey(sessionID string, older []types.HistoryMessage) string {
	h := sha256.New()
	for _, msg := range older {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return "summary:" + m.scope + ":" + sessionID + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

type summaryBufferPlugin struct{}

func (p *summaryBufferPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "conversationSummaryBufferMemory",
		Label:       "Conversation Summary Buffer Memory",
		Version:     1,
		Type:        "ConversationSummaryBufferMemory",
		Icon:        "memory.svg",
		Category:    string(types.CategoryMemory),
		Description: "Uses token length to decide when to summarize conversations",
		BaseClasses: append([]string{"ConversationSummaryBufferMemory"}, memoryClasses...),
		Inputs: append([]node.InputParam{
			{Label: "Chat Model", Name: "model", Type: "BaseChatModel"},
			{Label: "Max Token Limit", Name: "maxTokenLimit", Type: "number", Default: 2000, Optional: true,
				Description: "Summarize conversations once token limit is reached. Default to 2000"},
		}, sessionInputs...),
	}
}

func (p *summaryBufferPlugin) Init(_ context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	model, err := node.GetInstance[node.ChatModel](data, "model")
	if err != nil {
		return nil, err
	}
	base, err := newDBMemory(data, opts, 0)
	if err != nil {
		return nil, err
	}
	m := &summaryBufferMemory{
		Memory:    base,
		model:     model,
		maxTokens: node.GetInt(data, "maxTokenLimit", 2000),
		estimator: SimpleTokenEstimator{},
		scope:     opts.ChatflowID,
		cache:     opts.Deps.Cache,
		cacheTTL:  opts.Deps.Defaults.CacheTTL,
	}
	return withSession(m, data), nil
}
