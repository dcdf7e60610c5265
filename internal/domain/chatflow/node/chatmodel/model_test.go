package chatmodel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/provider"
)

type fakeLLM struct {
	mu    sync.Mutex
	calls int
	last  *provider.CompletionRequest
	reply string
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	return &provider.CompletionResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func (f *fakeLLM) StreamComplete(_ context.Context, req *provider.CompletionRequest) (<-chan provider.CompletionChunk, <-chan error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	chunks := make(chan provider.CompletionChunk, 4)
	errs := make(chan error, 1)
	for _, r := range f.reply {
		chunks <- provider.CompletionChunk{Delta: string(r)}
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *mapCache) Lookup(_ context.Context, prompt, llmKey string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[llmKey+prompt]
	return v, ok
}

func (c *mapCache) Update(_ context.Context, prompt, llmKey, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]string)
	}
	c.m[llmKey+prompt] = value
}

var userMsg = []provider.Message{{Role: provider.RoleUser, Content: "hi"}}

func TestModel_GenerateUsesCache(t *testing.T) {
	llm := &fakeLLM{reply: "hello"}
	m := &Model{llm: llm, model: "m1", cache: &mapCache{}}

	for i := 0; i < 2; i++ {
		resp, err := m.Generate(context.Background(), userMsg, nil)
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Content)
	}
	assert.Equal(t, 1, llm.calls)

	// 带工具的调用不走缓存
	_, err := m.Generate(context.Background(), userMsg, &node.CallOptions{Tools: []provider.ToolDefinition{{Type: "function"}}})
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	assert.Equal(t, "auto", llm.last.ToolChoice)
}

func TestModel_Stream(t *testing.T) {
	llm := &fakeLLM{reply: "abc"}
	m := &Model{llm: llm, model: "m1", streaming: true, cache: &mapCache{}}

	var tokens []string
	resp, err := m.Stream(context.Background(), userMsg, nil, func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.Content)
	assert.Equal(t, []string{"a", "b", "c"}, tokens)

	tokens = nil
	_, err = m.Stream(context.Background(), userMsg, nil, func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, tokens, "cache hit is pushed as one token")
	assert.Equal(t, 1, llm.calls)
}

func TestModel_StreamDisabledFallsBackToGenerate(t *testing.T) {
	llm := &fakeLLM{reply: "whole"}
	m := &Model{llm: llm, model: "m1"}
	var tokens []string
	_, err := m.Stream(context.Background(), userMsg, nil, func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)
	assert.Equal(t, []string{"whole"}, tokens)
}

type staticCredentials map[string]any

func (s staticCredentials) ResolveCredential(_ context.Context, id string) (map[string]any, error) {
	if id != "cred-1" {
		return nil, errors.New("not found")
	}
	return s, nil
}

func TestPlugin_Init(t *testing.T) {
	var gotCfg provider.Config
	provider.RegisterProvider("fake-chat", func(cfg provider.Config) (provider.LLMProvider, error) {
		gotCfg = cfg
		return &fakeLLM{}, nil
	})
	p := &plugin{
		def:             definition("fakeChat", "FakeChat", "", "openAIApi", "m0", []string{"m0"}, true),
		providerName:    "fake-chat",
		credentialField: "openAIApiKey",
		defaultKey:      func(d node.Defaults) string { return d.OpenAIAPIKey },
		defaultModel:    "m0",
	}

	t.Run("credential wins over defaults", func(t *testing.T) {
		cache := &mapCache{}
		data := &node.NodeData{ID: "chat_0", Credential: "cred-1", Inputs: map[string]any{
			"modelName": "m2", "temperature": "0.3", "streaming": false, "basepath": "http://proxy", "cache": cache,
		}}
		opts := &node.InitOptions{Deps: &node.Deps{
			Credentials: staticCredentials{"openAIApiKey": "sk-cred"},
			Defaults:    node.Defaults{OpenAIAPIKey: "sk-default"},
		}}
		inst, err := p.Init(context.Background(), data, opts)
		require.NoError(t, err)
		m := inst.(*Model)
		assert.Equal(t, "sk-cred", gotCfg.APIKey)
		assert.Equal(t, "http://proxy", gotCfg.BaseURL)
		assert.Equal(t, "m2", m.ModelName())
		assert.InDelta(t, 0.3, m.temperature, 1e-9)
		assert.False(t, m.Streaming())
		assert.Same(t, cache, m.cache)
	})

	t.Run("falls back to server key", func(t *testing.T) {
		data := &node.NodeData{ID: "chat_0", Inputs: map[string]any{}}
		inst, err := p.Init(context.Background(), data, &node.InitOptions{Deps: &node.Deps{Defaults: node.Defaults{OpenAIAPIKey: "sk-default"}}})
		require.NoError(t, err)
		assert.Equal(t, "sk-default", gotCfg.APIKey)
		assert.Equal(t, "m0", inst.(node.ChatModel).ModelName())
		assert.True(t, inst.(node.ChatModel).Streaming())
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := p.Init(context.Background(), &node.NodeData{ID: "chat_0", Inputs: map[string]any{}}, nil)
		assert.ErrorContains(t, err, "api key is not configured")
	})
}

func TestRegisteredDefinitions(t *testing.T) {
	for _, name := range []string{"chatOpenAI", "chatAnthropic", "chatGoogleGenerativeAI"} {
		p, ok := node.Lookup(name)
		require.True(t, ok, name)
		assert.True(t, p.Definition().Is("BaseChatModel"))
		assert.Equal(t, "Chat Models", p.Definition().Category)
	}
}
