package corpus

import "context"

// RerankResult 重排后的单条结果
type RerankResult struct {
	// Index 指向输入documents的下标
	Index int
	Score float64
	Rank  int
}

// Reranker 对候选分块按(query, text)相关性重排
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)
	Ready() bool
}

// NoopReranker 未启用重排时的空实现
type NoopReranker struct{}

func (NoopReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	results := make([]RerankResult, 0, len(documents))
	for i := range documents {
		if topN > 0 && i >= topN {
			break
		}
		results = append(results, RerankResult{Index: i, Score: 0, Rank: i + 1})
	}
	return results, nil
}

func (NoopReranker) Ready() bool { return false }
