package vectorstore

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeforge/internal/db/opensearch"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/rag"
)

// keywordEmbeddings 以关键词出现次数作为向量维度
type keywordEmbeddings struct{}

var keywords = []string{"cat", "dog", "car"}

func vec(text string) []float32 {
	out := make([]float32, len(keywords))
	for i, k := range keywords {
		out[i] = float32(strings.Count(strings.ToLower(text), k))
	}
	return out
}

func (keywordEmbeddings) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vec(t)
	}
	return out, nil
}

func (keywordEmbeddings) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return vec(text), nil
}

type staticLoader []types.Document

func (l staticLoader) Load(context.Context) ([]types.Document, error) { return l, nil }

func TestMemoryVectorStore_UpsertThenQuery(t *testing.T) {
	p, ok := node.Lookup("memoryVectorStore")
	require.True(t, ok)
	up := p.(node.Upserter)

	data := &node.NodeData{ID: "memoryVectorStore_0", Inputs: map[string]any{
		"document": []any{
			staticLoader{{PageContent: "the cat sat"}, {PageContent: "   "}},
			staticLoader{{PageContent: "a dog barked"}, {PageContent: "fast car"}},
		},
		"embeddings": keywordEmbeddings{},
		"topK":       1.0,
	}}
	opts := &node.InitOptions{ChatflowID: "flow-mem-1"}

	res, err := up.Upsert(context.Background(), data, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.NumAdded, "blank documents are skipped")

	// 另一次请求：同一 chatflow + 节点看到已写入的数据
	inst, err := p.Init(context.Background(), &node.NodeData{ID: "memoryVectorStore_0", Inputs: map[string]any{
		"embeddings": keywordEmbeddings{}, "topK": 1.0,
	}}, opts)
	require.NoError(t, err)
	docs, err := inst.(node.Retriever).Retrieve(context.Background(), "dog?")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a dog barked", docs[0].PageContent)

	docs, err = inst.(node.VectorStore).AsRetriever(3).Retrieve(context.Background(), "car")
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	assert.Equal(t, "fast car", docs[0].PageContent)

	// 其他 chatflow 隔离
	other, err := p.Init(context.Background(), &node.NodeData{ID: "memoryVectorStore_0", Inputs: map[string]any{
		"embeddings": keywordEmbeddings{},
	}}, &node.InitOptions{ChatflowID: "flow-mem-2"})
	require.NoError(t, err)
	docs, err = other.(node.Retriever).Retrieve(context.Background(), "dog")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryVectorStore_RequiresLoader(t *testing.T) {
	p, _ := node.Lookup("memoryVectorStore")
	_, err := p.(node.Upserter).Upsert(context.Background(), &node.NodeData{ID: "m", Inputs: map[string]any{
		"embeddings": keywordEmbeddings{},
	}}, nil)
	assert.ErrorContains(t, err, "no document loader")
}

type fakeSearchClient struct {
	mu      sync.Mutex
	index   string
	dims    int
	indexed []rag.ChunkDocument
	lastReq *rag.SearchRequest
}

func (f *fakeSearchClient) Ping(context.Context) error { return nil }

func (f *fakeSearchClient) EnsureIndex(_ context.Context, index string, dims int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index, f.dims = index, dims
	return nil
}

func (f *fakeSearchClient) BulkIndex(_ context.Context, _ string, docs []rag.ChunkDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, docs...)
	return nil
}

func (f *fakeSearchClient) SearchBM25(_ context.Context, req *rag.SearchRequest) (*rag.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	return &rag.SearchResult{Mode: rag.RetrievalModeBM25, Documents: []rag.ResultDocument{{ChunkID: "1", Content: "bm25 hit"}}}, nil
}

func (f *fakeSearchClient) SearchKNN(_ context.Context, _ []float32, req *rag.SearchRequest) (*rag.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	return &rag.SearchResult{Mode: rag.RetrievalModeSimilarity, Documents: []rag.ResultDocument{
		{ChunkID: "2", Content: "knn hit", Metadata: map[string]any{"source": "a.txt"}},
	}}, nil
}

func TestOpenSearch(t *testing.T) {
	fake := &fakeSearchClient{}
	var gotCfg opensearch.Config
	orig := newSearchClient
	newSearchClient = func(cfg opensearch.Config) rag.SearchClient {
		gotCfg = cfg
		return fake
	}
	t.Cleanup(func() { newSearchClient = orig })

	p, ok := node.Lookup("openSearch")
	require.True(t, ok)
	opts := &node.InitOptions{ChatflowID: "Flow1", Deps: &node.Deps{Defaults: node.Defaults{
		OpenSearchURL: "http://os:9200", OpenSearchIndexPrefix: "nf",
	}}}

	t.Run("upsert", func(t *testing.T) {
		res, err := p.(node.Upserter).Upsert(context.Background(), &node.NodeData{ID: "openSearch_0", Inputs: map[string]any{
			"document":   staticLoader{{PageContent: "cat", Metadata: map[string]any{"source": "a.txt"}}},
			"embeddings": keywordEmbeddings{},
		}}, opts)
		require.NoError(t, err)
		assert.Equal(t, 1, res.NumAdded)
		assert.Equal(t, "http://os:9200", gotCfg.URL)
		assert.Equal(t, "nf_flow1_opensearch_0", fake.index)
		assert.Equal(t, 3, fake.dims)
		require.Len(t, fake.indexed, 1)
		assert.Equal(t, "a.txt", fake.indexed[0].Metadata["source"])
	})

	t.Run("query", func(t *testing.T) {
		inst, err := p.Init(context.Background(), &node.NodeData{ID: "openSearch_0", Inputs: map[string]any{
			"embeddings": keywordEmbeddings{},
			"indexName":  "Docs",
			"topK":       "2",
			"filter":     `{"source":"a.txt"}`,
		}}, opts)
		require.NoError(t, err)
		docs, err := inst.(node.Retriever).Retrieve(context.Background(), "cat")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "knn hit", docs[0].PageContent)
		assert.Equal(t, "nf_docs", fake.lastReq.Index)
		assert.Equal(t, 2, fake.lastReq.TopK)
		assert.Equal(t, map[string]string{"source": "a.txt"}, fake.lastReq.Filters)
	})

	t.Run("bm25", func(t *testing.T) {
		inst, err := p.Init(context.Background(), &node.NodeData{ID: "openSearch_0", Inputs: map[string]any{
			"embeddings": keywordEmbeddings{}, "searchType": "bm25",
		}}, opts)
		require.NoError(t, err)
		docs, err := inst.(node.VectorStore).SimilaritySearch(context.Background(), "cat", 5)
		require.NoError(t, err)
		assert.Equal(t, "bm25 hit", docs[0].PageContent)
	})

	t.Run("missing url", func(t *testing.T) {
		_, err := p.Init(context.Background(), &node.NodeData{ID: "openSearch_0", Inputs: map[string]any{
			"embeddings": keywordEmbeddings{},
		}}, nil)
		assert.ErrorContains(t, err, "url is not configured")
	})
}
