package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"nodeforge/internal/provider"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 4096
)

func init() {
	provider.RegisterProvider(providerName, func(cfg provider.Config) (provider.LLMProvider, error) {
		return New(cfg)
	})
}

// Provider Anthropic Messages API
type Provider struct {
	client anthropic.Client
}

// New 创建 Anthropic Provider
func New(cfg provider.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Provider{client: anthropic.NewClient(opts...)}, nil
}

func (p *Provider) Name() string { return providerName }

// Complete 非流式补全
func (p *Provider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}
	return toResponse(msg), nil
}

// StreamComplete 流式补全：text_delta 逐个转发，tool_use 在流结束后从累积消息中取出
func (p *Provider) StreamComplete(ctx context.Context, req *provider.CompletionRequest) (<-chan provider.CompletionChunk, <-chan error) {
	chunkCh := make(chan provider.CompletionChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		params, err := buildParams(req)
		if err != nil {
			errCh <- err
			return
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var message anthropic.Message
		for stream.Next() {
			ev := stream.Current()
			if err := message.Accumulate(ev); err != nil {
				errCh <- fmt.Errorf("claude stream accumulate: %w", err)
				return
			}
			if ev.Type == "content_block_delta" {
				delta := ev.AsContentBlockDelta()
				if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
					chunkCh <- provider.CompletionChunk{Delta: delta.Delta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("claude stream error: %w", err)
			return
		}

		final := toResponse(&message)
		chunkCh <- provider.CompletionChunk{ToolCalls: final.ToolCalls, FinishReason: final.FinishReason}
	}()

	return chunkCh, errCh
}

func buildParams(req *provider.CompletionRequest) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: defaultMaxTokens,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	if sys := req.SystemPrompt(); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	messages, err := toMessages(req.Messages)
	if err != nil {
		return params, err
	}
	params.Messages = messages

	for _, t := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Function.Parameters["properties"]; ok {
			schema.Properties = props
		}
		tool := anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
		tool.OfTool.Description = param.NewOpt(t.Function.Description)
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}

// toMessages 转换对话消息。system 单独放入 params.System；
// tool 结果以 user 角色发送，相邻同角色消息合并为一条。
func toMessages(msgs []provider.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	appendBlocks := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			continue
		case provider.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				appendBlocks(anthropic.MessageParamRoleAssistant, blocks...)
			}
		case provider.RoleTool:
			if m.ToolCallID == "" {
				return nil, fmt.Errorf("claude: tool message without tool_call_id")
			}
			appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		default:
			appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
		}
	}
	return out, nil
}

func toResponse(msg *anthropic.Message) *provider.CompletionResponse {
	resp := &provider.CompletionResponse{
		Model:        string(msg.Model),
		FinishReason: finishReason(msg.StopReason),
		Usage: provider.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: provider.ToolCallFunction{Name: b.Name, Arguments: string(b.Input)},
			})
		}
	}
	return resp
}

func finishReason(r anthropic.StopReason) string {
	switch r {
	case anthropic.StopReasonToolUse:
		return "tool_calls"
	case anthropic.StopReasonMaxTokens:
		return "length"
	case "":
		return ""
	default:
		return "stop"
	}
}
