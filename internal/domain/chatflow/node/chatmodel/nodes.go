package chatmodel

import (
	"context"
	"fmt"
	"time"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/provider"
)

var baseClasses = []string{"ChatModel", "BaseChatModel", "BaseLanguageModel", "Runnable"}

func init() {
	node.Register(&plugin{
		def: definition("chatOpenAI", "ChatOpenAI", "Wrapper around OpenAI large language models that use the Chat endpoint",
			"openAIApi", "gpt-4o-mini", []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1", "gpt-4.1-mini", "o3-mini"}, true),
		providerName:    "openai",
		credentialField: "openAIApiKey",
		defaultKey:      func(d node.Defaults) string { return d.OpenAIAPIKey },
		defaultBaseURL:  func(d node.Defaults) string { return d.OpenAIBaseURL },
		defaultModel:    "gpt-4o-mini",
	})
	node.Register(&plugin{
		def: definition("chatAnthropic", "ChatAnthropic", "Wrapper around ChatAnthropic large language models that use the Chat endpoint",
			"anthropicApi", "claude-3-5-haiku-latest", []string{"claude-3-5-haiku-latest", "claude-3-7-sonnet-latest", "claude-sonnet-4-0", "claude-opus-4-0"}, false),
		providerName:    "anthropic",
		credentialField: "anthropicApiKey",
		defaultKey:      func(d node.Defaults) string { return d.AnthropicAPIKey },
		defaultModel:    "claude-3-5-haiku-latest",
	})
	node.Register(&plugin{
		def: definition("chatGoogleGenerativeAI", "ChatGoogleGenerativeAI", "Wrapper around Google Gemini large language models that use the Chat endpoint",
			"googleGenerativeAI", "gemini-2.0-flash", []string{"gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro", "gemini-1.5-pro"}, false),
		providerName:    "gemini",
		credentialField: "googleGenerativeAPIKey",
		defaultKey:      func(d node.Defaults) string { return d.GoogleAPIKey },
		defaultModel:    "gemini-2.0-flash",
	})
}

func definition(name, label, desc, credential, defaultModel string, models []string, basePath bool) *node.Definition {
	options := make([]node.InputOption, len(models))
	for i, m := range models {
		options[i] = node.InputOption{Label: m, Name: m}
	}
	inputs := []node.InputParam{
		{Label: "Cache", Name: "cache", Type: "BaseCache", Optional: true},
		{Label: "Model Name", Name: "modelName", Type: "options", Options: options, Default: defaultModel},
		{Label: "Temperature", Name: "temperature", Type: "number", Step: 0.1, Default: 0.9, Optional: true},
		{Label: "Streaming", Name: "streaming", Type: "boolean", Default: true, Optional: true, Additional: true},
		{Label: "Max Tokens", Name: "maxTokens", Type: "number", Step: 1, Optional: true, Additional: true},
		{Label: "Top Probability", Name: "topP", Type: "number", Step: 0.1, Optional: true, Additional: true},
		{Label: "Timeout", Name: "timeout", Type: "number", Step: 1, Optional: true, Additional: true},
	}
	if basePath {
		inputs = append(inputs, node.InputParam{Label: "BasePath", Name: "basepath", Type: "string", Optional: true, Additional: true})
	}
	return &node.Definition{
		Name:        name,
		Label:       label,
		Version:     1,
		Type:        label,
		Icon:        name + ".svg",
		Category:    string(types.CategoryChatModels),
		Description: desc,
		BaseClasses: append([]string{label}, baseClasses...),
		Credential: &node.CredentialParam{
			Label:           "Connect Credential",
			Name:            "credential",
			Type:            "credential",
			CredentialNames: []string{credential},
		},
		Inputs: inputs,
	}
}

// plugin 三个对话模型节点共用的实现，只有供应商与凭据字段不同
type plugin struct {
	def             *node.Definition
	providerName    string
	credentialField string
	defaultKey      func(node.Defaults) string
	defaultBaseURL  func(node.Defaults) string
	defaultModel    string
}

func (p *plugin) Definition() *node.Definition { return p.def }

func (p *plugin) Init(ctx context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	defaults := node.DefaultsOf(opts)
	apiKey, err := node.CredentialValue(ctx, data, opts, p.credentialField, p.defaultKey(defaults))
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("node %s: %s api key is not configured", data.ID, p.def.Label)
	}

	baseURL := node.GetString(data, "basepath")
	if baseURL == "" && p.defaultBaseURL != nil {
		baseURL = p.defaultBaseURL(defaults)
	}
	llm, err := provider.New(p.providerName, provider.Config{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Timeout: time.Duration(node.GetInt(data, "timeout", 0)) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}

	modelName := node.GetString(data, "modelName")
	if modelName == "" {
		modelName = p.defaultModel
	}
	m := &Model{
		llm:         llm,
		model:       modelName,
		temperature: node.GetFloat(data, "temperature", 0.9),
		maxTokens:   node.GetInt(data, "maxTokens", 0),
		topP:        node.GetFloat(data, "topP", 0),
		streaming:   node.GetBool(data, "streaming", true),
	}
	if c, ok := node.GetOptionalInstance[node.Cache](data, "cache"); ok {
		m.cache = c
	}
	return m, nil
}
