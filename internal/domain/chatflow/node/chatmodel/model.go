package chatmodel

import (
	"context"
	"fmt"
	"strings"

	"nodeforge/internal/domain/chatflow/node"
	applog "nodeforge/internal/platform/log"
	"nodeforge/internal/provider"
)

// Model 把 provider.LLMProvider 包装成 node.ChatModel
type Model struct {
	llm         provider.LLMProvider
	model       string
	temperature float64
	maxTokens   int
	topP        float64
	streaming   bool
	cache       node.Cache
}

func (m *Model) ModelName() string { return m.model }

func (m *Model) Streaming() bool { return m.streaming }

// llmKey 缓存 key 中区分模型配置的部分
func (m *Model) llmKey() string {
	return fmt.Sprintf("%s|%s|t=%g|max=%d|p=%g", m.llm.Name(), m.model, m.temperature, m.maxTokens, m.topP)
}

func (m *Model) request(messages []provider.Message, opts *node.CallOptions) *provider.CompletionRequest {
	req := &provider.CompletionRequest{
		Model:       m.model,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
		TopP:        m.topP,
	}
	if opts != nil {
		req.Stop = opts.Stop
		if len(opts.Tools) > 0 {
			req.Tools = opts.Tools
			req.ToolChoice = "auto"
		}
	}
	return req
}

// cacheable 带工具的调用结果依赖工具执行，不进入缓存
func (m *Model) cacheable(opts *node.CallOptions) bool {
	return m.cache != nil && (opts == nil || len(opts.Tools) == 0)
}

// Generate 非流式调用，命中缓存时直接返回
func (m *Model) Generate(ctx context.Context, messages []provider.Message, opts *node.CallOptions) (*provider.CompletionResponse, error) {
	prompt := promptKey(messages)
	if m.cacheable(opts) {
		if v, ok := m.cache.Lookup(ctx, prompt, m.llmKey()); ok {
			return &provider.CompletionResponse{Content: v, Model: m.model, FinishReason: "stop"}, nil
		}
	}
	resp, err := m.llm.Complete(ctx, m.request(messages, opts))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.llm.Name(), err)
	}
	if m.cacheable(opts) && len(resp.ToolCalls) == 0 {
		m.cache.Update(ctx, prompt, m.llmKey(), resp.Content)
	}
	return resp, nil
}

// Stream 流式调用；缓存命中时整段内容作为一个 token 推送
func (m *Model) Stream(ctx context.Context, messages []provider.Message, opts *node.CallOptions, onToken func(string)) (*provider.CompletionResponse, error) {
	if !m.streaming {
		resp, err := m.Generate(ctx, messages, opts)
		if err == nil && resp.Content != "" && onToken != nil {
			onToken(resp.Content)
		}
		return resp, err
	}

	prompt := promptKey(messages)
	if m.cacheable(opts) {
		if v, ok := m.cache.Lookup(ctx, prompt, m.llmKey()); ok {
			if onToken != nil {
				onToken(v)
			}
			return &provider.CompletionResponse{Content: v, Model: m.model, FinishReason: "stop"}, nil
		}
	}

	chunks, errs := m.llm.StreamComplete(ctx, m.request(messages, opts))
	resp, err := provider.Collect(chunks, errs, onToken)
	if err != nil {
		return nil, fmt.Errorf("%s stream: %w", m.llm.Name(), err)
	}
	if resp.Model == "" {
		resp.Model = m.model
	}
	if m.cacheable(opts) && len(resp.ToolCalls) == 0 {
		m.cache.Update(ctx, prompt, m.llmKey(), resp.Content)
	}
	applog.Debug("[ChatModel] Stream finished", "model", m.model, "length", len(resp.Content))
	return resp, nil
}

func promptKey(messages []provider.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
