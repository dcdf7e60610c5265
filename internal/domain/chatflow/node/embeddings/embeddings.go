package embeddings

import (
	"context"
	"fmt"
	"strings"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/rag"
	"nodeforge/internal/provider"
)

const defaultBatchSize = 512

// Embeddings 把 provider.EmbeddingProvider 包装成 node.Embeddings
type Embeddings struct {
	embedder    provider.EmbeddingProvider
	model       string
	batchSize   int
	concurrency int
}

// EmbedDocuments 分批并发向量化
func (e *Embeddings) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return rag.EmbedInBatches(ctx, texts, e.batchSize, e.concurrency, func(ctx context.Context, batch []string) ([][]float32, error) {
		return e.embedder.Embed(ctx, e.model, batch)
	})
}

func (e *Embeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedder.Embed(ctx, e.model, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%s: expected 1 query vector, got %d", e.embedder.Name(), len(vecs))
	}
	return vecs[0], nil
}

func init() {
	node.Register(&plugin{
		def: &node.Definition{
			Name:        "openAIEmbeddings",
			Label:       "OpenAI Embeddings",
			Version:     1,
			Type:        "OpenAIEmbeddings",
			Icon:        "openai.svg",
			Category:    string(types.CategoryEmbeddings),
			Description: "OpenAI API to generate embeddings for a given text",
			BaseClasses: []string{"OpenAIEmbeddings", "Embeddings"},
			Credential:  credential("openAIApi"),
			Inputs: append(commonInputs("text-embedding-3-small", "text-embedding-3-small", "text-embedding-3-large", "text-embedding-ada-002"),
				node.InputParam{Label: "BasePath", Name: "basepath", Type: "string", Optional: true, Additional: true}),
		},
		providerName:    "openai",
		credentialField: "openAIApiKey",
		defaultKey:      func(d node.Defaults) string { return d.OpenAIAPIKey },
		defaultBaseURL:  func(d node.Defaults) string { return d.OpenAIBaseURL },
	})
	node.Register(&plugin{
		def: &node.Definition{
			Name:        "googleGenerativeAiEmbeddings",
			Label:       "GoogleGenerativeAI Embeddings",
			Version:     1,
			Type:        "GoogleGenerativeAiEmbeddings",
			Icon:        "GoogleGemini.svg",
			Category:    string(types.CategoryEmbeddings),
			Description: "Google Generative API to generate embeddings for a given text",
			BaseClasses: []string{"GoogleGenerativeAiEmbeddings", "Embeddings"},
			Credential:  credential("googleGenerativeAI"),
			Inputs:      commonInputs("text-embedding-004", "text-embedding-004", "gemini-embedding-001"),
		},
		providerName:    "gemini",
		credentialField: "googleGenerativeAPIKey",
		defaultKey:      func(d node.Defaults) string { return d.GoogleAPIKey },
	})
}

func credential(name string) *node.CredentialParam {
	return &node.CredentialParam{Label: "Connect Credential", Name: "credential", Type: "credential", CredentialNames: []string{name}}
}

func commonInputs(defaultModel string, models ...string) []node.InputParam {
	options := make([]node.InputOption, len(models))
	for i, m := range models {
		options[i] = node.InputOption{Label: m, Name: m}
	}
	return []node.InputParam{
		{Label: "Model Name", Name: "modelName", Type: "options", Options: options, Default: defaultModel},
		{Label: "Batch Size", Name: "batchSize", Type: "number", Optional: true, Additional: true},
		{Label: "Strip New Lines", Name: "stripNewLines", Type: "boolean", Optional: true, Additional: true},
	}
}

type plugin struct {
	def             *node.Definition
	providerName    string
	credentialField string
	defaultKey      func(node.Defaults) string
	defaultBaseURL  func(node.Defaults) string
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
	embedder, err := provider.NewEmbedding(p.providerName, provider.Config{APIKey: apiKey, BaseURL: baseURL})
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}

	batch := node.GetInt(data, "batchSize", defaults.EmbeddingBatchSize)
	if batch <= 0 {
		batch = defaultBatchSize
	}
	e := &Embeddings{
		embedder:    embedder,
		model:       node.GetString(data, "modelName"),
		batchSize:   batch,
		concurrency: 4,
	}
	if node.GetBool(data, "stripNewLines", false) {
		return &newlineStripper{Embeddings: e}, nil
	}
	return e, nil
}

// newlineStripper 向量化前把换行替换为空格
type newlineStripper struct {
	*Embeddings
}

func (s *newlineStripper) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	cleaned := make([]string, len(texts))
	for i, t := range texts {
		cleaned[i] = stripNewLines(t)
	}
	return s.Embeddings.EmbedDocuments(ctx, cleaned)
}

func (s *newlineStripper) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.Embeddings.EmbedQuery(ctx, stripNewLines(text))
}

func stripNewLines(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " ")), " ")
}
