package rag

import (
	"time"

	types "nodeforge/internal/domain/chatflow/model"
)

// ChunkDocument 向量索引中的一条分块
type ChunkDocument struct {
	ChunkID   string         `json:"chunk_id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Vector    []float32      `json:"vector,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RetrievalMode 检索模式
type RetrievalMode string

const (
	RetrievalModeSimilarity RetrievalMode = "similarity"
	RetrievalModeBM25       RetrievalMode = "bm25"
	RetrievalModeHybrid     RetrievalMode = "hybrid"
)

// ParseRetrievalMode 未识别的取值按 similarity 处理
func ParseRetrievalMode(s string) RetrievalMode {
	switch RetrievalMode(s) {
	case RetrievalModeBM25, RetrievalModeHybrid:
		return RetrievalMode(s)
	default:
		return RetrievalModeSimilarity
	}
}

// SearchRequest 检索请求
type SearchRequest struct {
	Index          string            `json:"index"`
	Query          string            `json:"query"`
	Mode           RetrievalMode     `json:"mode,omitempty"`
	TopK           int               `json:"top_k,omitempty"`
	ScoreThreshold float64           `json:"score_threshold,omitempty"`
	Filters        map[string]string `json:"filters,omitempty"` // metadata 精确匹配
}

// SearchResult 检索结果
type SearchResult struct {
	Documents []ResultDocument `json:"documents"`
	Mode      RetrievalMode    `json:"mode"`
	ElapsedMs int64            `json:"elapsed_ms"`
}

// ResultDocument 单条检索结果
type ResultDocument struct {
	ChunkID  string         `json:"chunk_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// ToDocuments 转换为流程中流转的 Document
func (r *SearchResult) ToDocuments() []types.Document {
	if r == nil {
		return nil
	}
	docs := make([]types.Document, 0, len(r.Documents))
	for _, d := range r.Documents {
		meta := make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = v
		}
		docs = append(docs, types.Document{PageContent: d.Content, Metadata: meta})
	}
	return docs
}
