package rag

import "context"

// SearchClient 向量索引需要的存储/检索操作
type SearchClient interface {
	Ping(ctx context.Context) error
	EnsureIndex(ctx context.Context, index string, dims int) error
	BulkIndex(ctx context.Context, index string, docs []ChunkDocument) error
	SearchBM25(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchKNN(ctx context.Context, vector []float32, req *SearchRequest) (*SearchResult, error)
}

// SearchCacheStore 检索结果缓存
type SearchCacheStore interface {
	Get(ctx context.Context, req *SearchRequest) (*SearchResult, bool)
	Set(ctx context.Context, req *SearchRequest, result *SearchResult)
	InvalidateByIndex(ctx context.Context, index string)
}

// Embedder 文本向量化。节点层的 Embeddings 能力直接满足该接口
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
