package corpus

import (
	"context"
	"fmt"
	"sort"

	"github.com/aihub/docqa-go/internal/dashscope"
)

// DashScopeReranker 基于DashScope gte-rerank的重排实现
type DashScopeReranker struct {
	model string
}

func NewDashScopeReranker(model string) *DashScopeReranker {
	if model == "" {
		model = "gte-rerank-v2"
	}
	return &DashScopeReranker{model: model}
}

func (r *DashScopeReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	service := dashscope.GetGlobalService()
	if service == nil {
		return nil, fmt.Errorf("DashScope服务未初始化")
	}

	req := dashscope.RerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
	}
	if topN > 0 {
		req.TopN = &topN
	}

	resp, err := service.CreateRerank(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("调用重排接口失败: %w", err)
	}

	results := make([]RerankResult, 0, len(resp.Output.Results))
	for _, item := range resp.Output.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			continue
		}
		results = append(results, RerankResult{
			Index: item.Index,
			Score: item.RelevanceScore,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

func (r *DashScopeReranker) Ready() bool {
	return dashscope.IsGlobalServiceReady()
}
