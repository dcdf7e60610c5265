package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"nodeforge/internal/provider"
)

const (
	providerName          = "gemini"
	defaultEmbeddingModel = "text-embedding-004"
)

func init() {
	provider.RegisterProvider(providerName, func(cfg provider.Config) (provider.LLMProvider, error) {
		return New(cfg)
	})
	provider.RegisterEmbedding(providerName, func(cfg provider.Config) (provider.EmbeddingProvider, error) {
		return New(cfg)
	})
}

// Provider Google Gemini API（genai SDK）
type Provider struct {
	client *genai.Client
}

// New 创建 Gemini Provider
func New(cfg provider.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string { return providerName }

// Complete 非流式补全
func (p *Provider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	contents, config, err := buildRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}
	out := toResponse(resp)
	out.Model = req.Model
	return out, nil
}

// StreamComplete 流式补全，函数调用随最后一个 chunk 一并返回
func (p *Provider) StreamComplete(ctx context.Context, req *provider.CompletionRequest) (<-chan provider.CompletionChunk, <-chan error) {
	chunkCh := make(chan provider.CompletionChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		contents, config, err := buildRequest(req)
		if err != nil {
			errCh <- err
			return
		}

		var (
			calls  []provider.ToolCall
			finish string
		)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				errCh <- fmt.Errorf("gemini stream error: %w", err)
				return
			}
			if resp == nil {
				continue
			}
			part := toResponse(resp)
			if part.Content != "" {
				chunkCh <- provider.CompletionChunk{Delta: part.Content}
			}
			calls = append(calls, part.ToolCalls...)
			if part.FinishReason != "" {
				finish = part.FinishReason
			}
		}
		if len(calls) > 0 {
			finish = "tool_calls"
		}
		chunkCh <- provider.CompletionChunk{ToolCalls: calls, FinishReason: finish}
	}()

	return chunkCh, errCh
}

// Embed 逐条调用 EmbedContent，返回顺序与输入一致
func (p *Provider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "" {
		model = defaultEmbeddingModel
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := p.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed error: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func buildRequest(req *provider.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.TopP > 0 {
		config.TopP = genai.Ptr(float32(req.TopP))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Stop) > 0 {
		config.StopSequences = req.Stop
	}
	if sys := req.SystemPrompt(); sys != "" {
		config.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  toSchema(t.Function.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	return contents, config, nil
}

// toContents 转换对话消息：assistant 映射为 model 角色，tool 结果作为 user 角色的 FunctionResponse
func toContents(msgs []provider.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	callNames := make(map[string]string)
	appendParts := func(role string, parts ...*genai.Part) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			continue
		case provider.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
						return nil, fmt.Errorf("gemini: invalid tool arguments for %s: %w", tc.Function.Name, err)
					}
				}
				callNames[tc.ID] = tc.Function.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args}})
			}
			if len(parts) > 0 {
				appendParts(genai.RoleModel, parts...)
			}
		case provider.RoleTool:
			name := m.Name
			if name == "" {
				name = callNames[m.ToolCallID]
			}
			if name == "" {
				return nil, fmt.Errorf("gemini: tool message without matching function call")
			}
			appendParts(genai.RoleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     name,
				Response: map[string]any{"output": m.Content},
			}})
		default:
			appendParts(genai.RoleUser, genai.NewPartFromText(m.Content))
		}
	}
	return out, nil
}

// toSchema 将 JSON Schema（map 形态）转为 genai.Schema，仅保留常用字段
func toSchema(m map[string]any) *genai.Schema {
	if len(m) == 0 {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for k, v := range props {
			if pm, ok := v.(map[string]any); ok {
				s.Properties[k] = toSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	s.Required = toStrings(m["required"])
	s.Enum = toStrings(m["enum"])
	return s
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toResponse(resp *genai.GenerateContentResponse) *provider.CompletionResponse {
	out := &provider.CompletionResponse{}
	if resp.UsageMetadata != nil {
		out.Usage = provider.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	cand := resp.Candidates[0]
	for _, part := range cand.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, _ := json.Marshal(part.FunctionCall.Args)
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, len(out.ToolCalls))
			}
			out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
				ID:       id,
				Type:     "function",
				Function: provider.ToolCallFunction{Name: part.FunctionCall.Name, Arguments: string(args)},
			})
		case part.Text != "" && !part.Thought:
			out.Content += part.Text
		}
	}
	out.FinishReason = finishReason(cand.FinishReason)
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out
}

func finishReason(r genai.FinishReason) string {
	switch r {
	case "", genai.FinishReasonUnspecified:
		return ""
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return "stop"
	}
}
