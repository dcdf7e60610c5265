package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
)

// store 两种向量库共有的能力；Retrieve 使节点实例可直接作为检索器连线
type store interface {
	node.VectorStore
	node.Retriever
}

var (
	_ store = (*searchStore)(nil)
	_ store = (*memoryView)(nil)
)

// retriever AsRetriever 返回的固定 k 检索器
type retriever struct {
	vs node.VectorStore
	k  int
}

func (r *retriever) Retrieve(ctx context.Context, query string) ([]types.Document, error) {
	return r.vs.SimilaritySearch(ctx, query, r.k)
}

// loadDocuments 并发执行所有连入的文档加载器，丢弃空内容
func loadDocuments(ctx context.Context, data *node.NodeData) ([]types.Document, error) {
	loaders, err := node.GetInstances[node.DocumentLoader](data, "document")
	if err != nil {
		return nil, err
	}
	if len(loaders) == 0 {
		return nil, fmt.Errorf("node %s: no document loader connected", data.ID)
	}

	results := make([][]types.Document, len(loaders))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, l := range loaders {
		eg.Go(func() error {
			docs, err := l.Load(egCtx)
			if err != nil {
				return err
			}
			results[i] = docs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []types.Document
	for _, docs := range results {
		for _, d := range docs {
			if strings.TrimSpace(d.PageContent) != "" {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// upsert 加载、写入并组装结果
func upsert(ctx context.Context, data *node.NodeData, vs node.VectorStore) (*types.UpsertResult, error) {
	docs, err := loadDocuments(ctx, data)
	if err != nil {
		return nil, err
	}
	ids, err := vs.AddDocuments(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}
	return &types.UpsertResult{NumAdded: len(ids), AddedDocs: docs}, nil
}

var commonInputs = []node.InputParam{
	{Label: "Document", Name: "document", Type: "Document", List: true, Optional: true},
	{Label: "Embeddings", Name: "embeddings", Type: "Embeddings"},
	{Label: "Top K", Name: "topK", Type: "number", Default: 4, Optional: true, Additional: true,
		Description: "Number of top results to fetch. Default to 4"},
}

var outputs = []node.OutputParam{
	{Label: "Retriever", Name: "retriever", BaseClasses: []string{"BaseRetriever"}},
	{Label: "Vector Store", Name: "vectorStore", BaseClasses: []string{"VectorStore"}},
}
