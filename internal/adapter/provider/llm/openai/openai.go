package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"nodeforge/internal/provider"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
)

func init() {
	provider.RegisterProvider(providerName, func(cfg provider.Config) (provider.LLMProvider, error) {
		return New(cfg)
	})
	provider.RegisterEmbedding(providerName, func(cfg provider.Config) (provider.EmbeddingProvider, error) {
		return New(cfg)
	})
}

// Provider OpenAI 兼容的 LLM / Embedding Provider
// 支持所有 OpenAI API 兼容服务（OpenAI, Azure, DeepSeek, Ollama 等）
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New 创建 OpenAI 兼容 Provider
func New(cfg provider.Config) (*Provider, error) {
	if cfg.APIKey == "" && (cfg.BaseURL == "" || cfg.BaseURL == defaultBaseURL) {
		return nil, fmt.Errorf("openai: api key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	// 默认 Transport 的 TLS 握手超时在弱网下容易触发，这里放宽并保留 ctx 控制请求生命周期
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}, nil
}

func (p *Provider) Name() string {
	return providerName
}

// -- 内部 API 请求/响应结构 --

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	Stop        []string     `json:"stop,omitempty"`
	Stream      bool         `json:"stream"`
	Tools       []apiToolDef `json:"tools,omitempty"`
	ToolChoice  any          `json:"tool_choice,omitempty"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type apiToolDef struct {
	Type     string          `json:"type"`
	Function apiToolFunction `json:"function"`
}

type apiToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type apiToolCall struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function apiToolCallFunction `json:"function"`
	Index    *int                `json:"index,omitempty"` // SSE 流中标识工具调用索引
}

type apiToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type apiResponse struct {
	ID      string      `json:"id"`
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
	Model   string      `json:"model"`
}

type apiChoice struct {
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
	Delta        apiMessage `json:"delta"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete 非流式补全
func (p *Provider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	resp, err := p.post(ctx, "/chat/completions", buildAPIRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := apiResp.Choices[0]
	return &provider.CompletionResponse{
		Content:      choice.Message.Content,
		ToolCalls:    fromAPIToolCalls(choice.Message.ToolCalls),
		Model:        apiResp.Model,
		FinishReason: choice.FinishReason,
		Usage: provider.Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}, nil
}

// StreamComplete 流式补全
func (p *Provider) StreamComplete(ctx context.Context, req *provider.CompletionRequest) (<-chan provider.CompletionChunk, <-chan error) {
	chunkCh := make(chan provider.CompletionChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		resp, err := p.post(ctx, "/chat/completions", buildAPIRequest(req, true))
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()

		if err := parseStream(ctx, resp.Body, chunkCh); err != nil {
			errCh <- err
		}
	}()

	return chunkCh, errCh
}

// parseStream 解析 SSE 流；tool_calls 参数跨多个 chunk 到达，在 [DONE] 时聚合发出
func parseStream(ctx context.Context, body io.Reader, out chan<- provider.CompletionChunk) error {
	type toolCallAccumulator struct {
		ID   string
		Type string
		Name string
		Args strings.Builder
	}
	var acc []*toolCallAccumulator

	flushTools := func() {
		if len(acc) == 0 {
			return
		}
		calls := make([]provider.ToolCall, len(acc))
		for i, a := range acc {
			calls[i] = provider.ToolCall{
				ID:       a.ID,
				Type:     a.Type,
				Function: provider.ToolCallFunction{Name: a.Name, Arguments: a.Args.String()},
			}
		}
		out <- provider.CompletionChunk{ToolCalls: calls, FinishReason: "tool_calls"}
		acc = nil
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			flushTools()
			return nil
		}

		var streamResp apiResponse
		if err := json.Unmarshal([]byte(data), &streamResp); err != nil || len(streamResp.Choices) == 0 {
			continue
		}
		choice := streamResp.Choices[0]

		if len(choice.Delta.ToolCalls) > 0 {
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				for len(acc) <= idx {
					acc = append(acc, &toolCallAccumulator{})
				}
				if tc.ID != "" {
					acc[idx].ID = tc.ID
				}
				if tc.Type != "" {
					acc[idx].Type = tc.Type
				}
				if tc.Function.Name != "" {
					acc[idx].Name = tc.Function.Name
				}
				acc[idx].Args.WriteString(tc.Function.Arguments)
			}
			continue
		}

		if choice.Delta.Content != "" || choice.FinishReason != "" {
			out <- provider.CompletionChunk{Delta: choice.Delta.Content, FinishReason: choice.FinishReason}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}
	flushTools()
	return nil
}

// -- Embeddings --

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed 调用 /embeddings，按 index 回填保证顺序
func (p *Provider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	resp, err := p.post(ctx, "/embeddings", embeddingRequest{Input: texts, Model: model, EncodingFormat: "float"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	vectors := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for text index %d", i)
		}
	}
	return vectors, nil
}

// post 发送 JSON 请求，非 2xx 响应转换为错误
func (p *Provider) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp, nil
}

func buildAPIRequest(req *provider.CompletionRequest, stream bool) apiRequest {
	messages := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = apiMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
			ToolCalls:  toAPIToolCalls(m.ToolCalls),
		}
	}

	apiReq := apiRequest{
		Model:      req.Model,
		Messages:   messages,
		Stream:     stream,
		Stop:       req.Stop,
		ToolChoice: req.ToolChoice,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}
	if req.MaxTokens > 0 {
		m := req.MaxTokens
		apiReq.MaxTokens = &m
	}
	if req.TopP > 0 {
		tp := req.TopP
		apiReq.TopP = &tp
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiToolDef{
			Type: "function",
			Function: apiToolFunction{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return apiReq
}

func toAPIToolCalls(calls []provider.ToolCall) []apiToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]apiToolCall, len(calls))
	for i, tc := range calls {
		typ := tc.Type
		if typ == "" {
			typ = "function"
		}
		out[i] = apiToolCall{
			ID:       tc.ID,
			Type:     typ,
			Function: apiToolCallFunction{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		}
	}
	return out
}

func fromAPIToolCalls(calls []apiToolCall) []provider.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]provider.ToolCall, len(calls))
	for i, tc := range calls {
		out[i] = provider.ToolCall{
			ID:       tc.ID,
			Type:     tc.Type,
			Function: provider.ToolCallFunction{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		}
	}
	return out
}
