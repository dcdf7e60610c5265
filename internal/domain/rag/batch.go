package rag

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// EmbedFunc 单批次向量化调用
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// EmbedInBatches 按 batchSize 分批并发调用 fn，最多 limit 个批次同时进行，结果顺序与输入一致
func EmbedInBatches(ctx context.Context, texts []string, batchSize, limit int, fn EmbedFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if limit <= 0 {
		limit = 4
	}

	out := make([][]float32, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		eg.Go(func() error {
			vecs, err := fn(egCtx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding batch [%d:%d] returned %d vectors", start, end, len(vecs))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
