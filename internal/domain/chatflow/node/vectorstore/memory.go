package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
)

func init() {
	node.Register(&memoryPlugin{})
}

// memoryStores 进程内的内存向量库，按 chatflow + 节点 id 隔离，重启后丢失
var memoryStores = struct {
	sync.Mutex
	m map[string]*memoryStore
}{m: make(map[string]*memoryStore)}

func memoryStoreFor(key string) *memoryStore {
	memoryStores.Lock()
	defer memoryStores.Unlock()
	s, ok := memoryStores.m[key]
	if !ok {
		s = &memoryStore{}
		memoryStores.m[key] = s
	}
	return s
}

type memoryEntry struct {
	doc    types.Document
	vector []float32
}

type memoryStore struct {
	mu      sync.RWMutex
	entries []memoryEntry
}

// memoryView 绑定某次请求的 embeddings 与 topK
type memoryView struct {
	store      *memoryStore
	embeddings node.Embeddings
	topK       int
}

func (v *memoryView) AddDocuments(ctx context.Context, docs []types.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vecs, err := v.embeddings.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vecs), len(docs))
	}

	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = strconv.Itoa(len(v.store.entries))
		v.store.entries = append(v.store.entries, memoryEntry{doc: d.Clone(), vector: vecs[i]})
	}
	return ids, nil
}

func (v *memoryView) SimilaritySearch(ctx context.Context, query string, k int) ([]types.Document, error) {
	if k <= 0 {
		k = v.topK
	}
	q, err := v.embeddings.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	type scored struct {
		doc   types.Document
		score float64
	}
	v.store.mu.RLock()
	results := make([]scored, 0, len(v.store.entries))
	for _, e := range v.store.entries {
		results = append(results, scored{doc: e.doc, score: cosine(q, e.vector)})
	}
	v.store.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > k {
		results = results[:k]
	}
	docs := make([]types.Document, len(results))
	for i, r := range results {
		docs[i] = r.doc.Clone()
	}
	return docs, nil
}

func (v *memoryView) AsRetriever(k int) node.Retriever {
	return &retriever{vs: v, k: k}
}

func (v *memoryView) Retrieve(ctx context.Context, query string) ([]types.Document, error) {
	return v.SimilaritySearch(ctx, query, v.topK)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type memoryPlugin struct{}

func (p *memoryPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "memoryVectorStore",
		Label:       "In-Memory Vector Store",
		Version:     1,
		Type:        "Memory",
		Icon:        "memory.svg",
		Category:    string(types.CategoryVectorStores),
		Description: "In-memory vectorstore that stores embeddings and does an exact, linear search for the most similar embeddings",
		BaseClasses: []string{"Memory", "VectorStoreRetriever", "BaseRetriever"},
		Inputs:      commonInputs,
		Outputs:     outputs,
	}
}

func (p *memoryPlugin) Init(_ context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	return p.view(data, opts)
}

func (p *memoryPlugin) Upsert(ctx context.Context, data *node.NodeData, opts *node.InitOptions) (*types.UpsertResult, error) {
	v, err := p.view(data, opts)
	if err != nil {
		return nil, err
	}
	return upsert(ctx, data, v)
}

func (p *memoryPlugin) view(data *node.NodeData, opts *node.InitOptions) (*memoryView, error) {
	embeddings, err := node.GetInstance[node.Embeddings](data, "embeddings")
	if err != nil {
		return nil, err
	}
	chatflowID := ""
	if opts != nil {
		chatflowID = opts.ChatflowID
	}
	return &memoryView{
		store:      memoryStoreFor(chatflowID + "/" + data.ID),
		embeddings: embeddings,
		topK:       node.GetInt(data, "topK", 4),
	}, nil
}
