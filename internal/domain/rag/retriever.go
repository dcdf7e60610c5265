package rag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "nodeforge/internal/domain/chatflow/model"
	applog "nodeforge/internal/platform/log"
)

const defaultTopK = 4

// Retriever 检索引擎
type Retriever struct {
	client   SearchClient
	embedder Embedder
	cache    SearchCacheStore // 可选
}

// NewRetriever 创建检索引擎
func NewRetriever(client SearchClient, embedder Embedder) *Retriever {
	return &Retriever{client: client, embedder: embedder}
}

// SetCache 设置检索缓存
func (r *Retriever) SetCache(c SearchCacheStore) {
	r.cache = c
}

// Search 执行检索
func (r *Retriever) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req.Mode == "" {
		req.Mode = RetrievalModeSimilarity
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	// 没有 Embedder 时只能走 BM25
	if req.Mode != RetrievalModeBM25 && r.embedder == nil {
		applog.Warn("[RAG] No embedder configured, falling back to BM25", "mode", req.Mode)
		req.Mode = RetrievalModeBM25
	}

	applog.Debug("[RAG] Search",
		"index", req.Index,
		"mode", req.Mode,
		"top_k", req.TopK,
		"has_cache", r.cache != nil,
	)

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, req); ok {
			return cached, nil
		}
	}

	var (
		result *SearchResult
		err    error
	)
	switch req.Mode {
	case RetrievalModeBM25:
		result, err = r.client.SearchBM25(ctx, req)
	case RetrievalModeSimilarity:
		result, err = r.searchSimilarity(ctx, req)
	case RetrievalModeHybrid:
		result, err = r.searchHybrid(ctx, req)
	default:
		return nil, fmt.Errorf("unknown retrieval mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	if r.cache != nil && result != nil {
		cacheReq := *req
		cacheResult := cloneSearchResult(result)
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			r.cache.Set(cacheCtx, &cacheReq, cacheResult)
		}()
	}
	return result, nil
}

func (r *Retriever) searchSimilarity(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	vector, err := r.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.client.SearchKNN(ctx, vector, req)
}

// searchHybrid Embed → BM25 + kNN 并行 → RRF 融合
func (r *Retriever) searchHybrid(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	start := time.Now()

	vector, err := r.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		applog.Warn("[RAG] Embedding failed, falling back to BM25", "error", err)
		return r.client.SearchBM25(ctx, req)
	}

	// 多取候选用于融合
	wide := *req
	wide.TopK = max(req.TopK*3, 20)

	var bm25Docs, knnDocs []ResultDocument
	var eg errgroup.Group
	eg.Go(func() error {
		res, err := r.client.SearchBM25(ctx, &wide)
		if err != nil {
			applog.Warn("[RAG] BM25 leg failed", "index", req.Index, "error", err)
			return nil
		}
		bm25Docs = res.Documents
		return nil
	})
	eg.Go(func() error {
		res, err := r.client.SearchKNN(ctx, vector, &wide)
		if err != nil {
			applog.Warn("[RAG] kNN leg failed", "index", req.Index, "error", err)
			return nil
		}
		knnDocs = res.Documents
		return nil
	})
	_ = eg.Wait()

	merged := rrfMerge(bm25Docs, knnDocs, req.TopK)
	applog.Debug("[RAG] Hybrid search merged",
		"bm25_count", len(bm25Docs),
		"knn_count", len(knnDocs),
		"merged_count", len(merged),
	)

	return &SearchResult{
		Documents: merged,
		Mode:      RetrievalModeHybrid,
		ElapsedMs: time.Since(start).Milliseconds(),
	}, nil
}

// rrfMerge Reciprocal Rank Fusion 融合排序
// 公式: score(d) = Σ 1/(k + rank_i(d)), k=60
func rrfMerge(list1, list2 []ResultDocument, topK int) []ResultDocument {
	const k = 60.0

	type scored struct {
		doc   ResultDocument
		score float64
		first int
	}
	scoreMap := make(map[string]*scored)
	order := 0
	add := func(prefix string, list []ResultDocument) {
		for rank, doc := range list {
			key := doc.ChunkID
			if key == "" {
				key = fmt.Sprintf("%s_%d", prefix, rank)
			}
			s, ok := scoreMap[key]
			if !ok {
				s = &scored{doc: doc, first: order}
				scoreMap[key] = s
				order++
			}
			s.score += 1.0 / (k + float64(rank+1))
		}
	}
	add("bm25", list1)
	add("knn", list2)

	results := make([]*scored, 0, len(scoreMap))
	for _, s := range scoreMap {
		results = append(results, s)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].first < results[j].first
	})

	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	docs := make([]ResultDocument, topK)
	for i := 0; i < topK; i++ {
		docs[i] = results[i].doc
		docs[i].Score = results[i].score
	}
	return docs
}

func cloneSearchResult(result *SearchResult) *SearchResult {
	if result == nil {
		return nil
	}
	cloned := *result
	if len(result.Documents) > 0 {
		cloned.Documents = append([]ResultDocument(nil), result.Documents...)
	}
	return &cloned
}

// ── Indexer 入库 Pipeline ─────────────────────────────────────

// Indexer 文档入库：向量化 → 建索引 → 批量写入 → 清缓存
type Indexer struct {
	client   SearchClient
	embedder Embedder
	cache    SearchCacheStore // 可选：入库后清缓存
}

// NewIndexer 创建入库 Pipeline
func NewIndexer(client SearchClient, embedder Embedder) *Indexer {
	return &Indexer{client: client, embedder: embedder}
}

// SetCache 设置缓存（入库后自动清除）
func (idx *Indexer) SetCache(c SearchCacheStore) {
	idx.cache = c
}

// IndexDocuments 向量化并写入 index，返回写入的 chunk id
func (idx *Indexer) IndexDocuments(ctx context.Context, index string, docs []types.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	start := time.Now()

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vectors, err := idx.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vectors), len(docs))
	}

	if err := idx.client.EnsureIndex(ctx, index, len(vectors[0])); err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}

	now := time.Now().UTC()
	chunks := make([]ChunkDocument, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = uuid.NewString()
		chunks[i] = ChunkDocument{
			ChunkID:   ids[i],
			Content:   d.PageContent,
			Metadata:  d.Clone().Metadata,
			Vector:    vectors[i],
			CreatedAt: now,
		}
	}
	if err := idx.client.BulkIndex(ctx, index, chunks); err != nil {
		return nil, fmt.Errorf("bulk index: %w", err)
	}

	applog.Info("[RAG] Documents indexed",
		"index", index,
		"chunks", len(chunks),
		"dims", len(vectors[0]),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if idx.cache != nil {
		idx.cache.InvalidateByIndex(ctx, index)
	}
	return ids, nil
}
