package vectorstore

import (
	"context"
	"fmt"

	"nodeforge/internal/db/opensearch"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/rag"
)

// newSearchClient 测试中替换为内存实现
var newSearchClient = func(cfg opensearch.Config) rag.SearchClient {
	return opensearch.NewClient(cfg)
}

func init() {
	node.Register(&openSearchPlugin{})
}

// searchStore OpenSearch 向量库：写入走 rag.Indexer，检索走 rag.Retriever
type searchStore struct {
	index          string
	topK           int
	mode           rag.RetrievalMode
	scoreThreshold float64
	filters        map[string]string
	indexer        *rag.Indexer
	retriever      *rag.Retriever
}

func (s *searchStore) AddDocuments(ctx context.Context, docs []types.Document) ([]string, error) {
	return s.indexer.IndexDocuments(ctx, s.index, docs)
}

func (s *searchStore) SimilaritySearch(ctx context.Context, query string, k int) ([]types.Document, error) {
	res, err := s.retriever.Search(ctx, &rag.SearchRequest{
		Index:          s.index,
		Query:          query,
		Mode:           s.mode,
		TopK:           k,
		ScoreThreshold: s.scoreThreshold,
		Filters:        s.filters,
	})
	if err != nil {
		return nil, err
	}
	return res.ToDocuments(), nil
}

func (s *searchStore) AsRetriever(k int) node.Retriever {
	return &retriever{vs: s, k: k}
}

func (s *searchStore) Retrieve(ctx context.Context, query string) ([]types.Document, error) {
	return s.SimilaritySearch(ctx, query, s.topK)
}

type openSearchPlugin struct{}

func (p *openSearchPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "openSearch",
		Label:       "OpenSearch",
		Version:     1,
		Type:        "OpenSearch",
		Icon:        "opensearch.svg",
		Category:    string(types.CategoryVectorStores),
		Description: "Upsert embedded data and perform similarity search upon query using OpenSearch, an open-source, all-in-one vector database",
		BaseClasses: []string{"OpenSearch", "VectorStoreRetriever", "BaseRetriever"},
		Credential: &node.CredentialParam{
			Label:           "Connect Credential",
			Name:            "credential",
			Type:            "credential",
			CredentialNames: []string{"openSearchUrl"},
			Optional:        true,
		},
		Inputs: append(append([]node.InputParam{}, commonInputs...),
			node.InputParam{Label: "Index Name", Name: "indexName", Type: "string", Optional: true,
				Description: "Defaults to <chatflowId>_<nodeId>"},
			node.InputParam{Label: "Search Type", Name: "searchType", Type: "options", Default: "similarity", Optional: true, Additional: true,
				Options: []node.InputOption{
					{Label: "Similarity", Name: string(rag.RetrievalModeSimilarity)},
					{Label: "BM25", Name: string(rag.RetrievalModeBM25)},
					{Label: "Hybrid", Name: string(rag.RetrievalModeHybrid)},
				}},
			node.InputParam{Label: "Score Threshold", Name: "scoreThreshold", Type: "number", Step: 0.1, Optional: true, Additional: true},
			node.InputParam{Label: "Metadata Filter", Name: "filter", Type: "json", Optional: true, Additional: true},
		),
		Outputs: outputs,
	}
}

func (p *openSearchPlugin) Init(ctx context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	return p.build(ctx, data, opts)
}

func (p *openSearchPlugin) Upsert(ctx context.Context, data *node.NodeData, opts *node.InitOptions) (*types.UpsertResult, error) {
	s, err := p.build(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	return upsert(ctx, data, s)
}

func (p *openSearchPlugin) build(ctx context.Context, data *node.NodeData, opts *node.InitOptions) (*searchStore, error) {
	defaults := node.DefaultsOf(opts)
	url, err := node.CredentialValue(ctx, data, opts, "openSearchUrl", defaults.OpenSearchURL)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("node %s: OpenSearch url is not configured", data.ID)
	}
	user, err := node.CredentialValue(ctx, data, opts, "user", defaults.OpenSearchUsername)
	if err != nil {
		return nil, err
	}
	password, err := node.CredentialValue(ctx, data, opts, "password", defaults.OpenSearchPassword)
	if err != nil {
		return nil, err
	}

	embeddings, err := node.GetInstance[node.Embeddings](data, "embeddings")
	if err != nil {
		return nil, err
	}
	filter, err := node.GetJSON(data, "filter")
	if err != nil {
		return nil, err
	}

	name := node.GetString(data, "indexName")
	if name == "" {
		chatflowID := ""
		if opts != nil {
			chatflowID = opts.ChatflowID
		}
		name = chatflowID + "_" + data.ID
	}

	client := newSearchClient(opensearch.Config{URL: url, Username: user, Password: password})
	s := &searchStore{
		index:          opensearch.IndexName(defaults.OpenSearchIndexPrefix, name),
		topK:           node.GetInt(data, "topK", 4),
		mode:           rag.ParseRetrievalMode(node.GetString(data, "searchType")),
		scoreThreshold: node.GetFloat(data, "scoreThreshold", 0),
		filters:        stringMap(filter),
		indexer:        rag.NewIndexer(client, embeddings),
		retriever:      rag.NewRetriever(client, embeddings),
	}
	if opts != nil && opts.Deps != nil && opts.Deps.SearchCache != nil {
		s.indexer.SetCache(opts.Deps.SearchCache)
		s.retriever.SetCache(opts.Deps.SearchCache)
	}
	return s, nil
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}
