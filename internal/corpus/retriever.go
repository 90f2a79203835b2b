package corpus

import (
	"context"
	"sort"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/logger"
)

// RetrieverOptions 混合检索配置
type RetrieverOptions struct {
	TopK int
	// CandidateFactor 每路召回 TopK*CandidateFactor 个候选,最小2
	CandidateFactor int
	VectorWeight    float64
	LexicalWeight   float64
	// RerankTopN 进入重排的候选数
	RerankTopN  int
	MaxVariants int
}

// RetrieveRequest 单次检索请求
type RetrieveRequest struct {
	TenantID uint
	Query    string
	// TopK 为0时使用配置默认值
	TopK        int
	DocumentIDs []uint
}

// HybridRetriever 向量+全文混合检索。
// 两路各自召回后在自己的结果集内做min-max归一化,再按权重加权合并,
// 同一分块在两路都命中时取各路最高归一分,不重复累加。
type HybridRetriever struct {
	embedder    Embedder
	vectorStore VectorStore
	indexer     FulltextIndexer
	reranker    Reranker
	expander    QueryExpander
	opts        RetrieverOptions
}

func NewHybridRetriever(embedder Embedder, vectorStore VectorStore, indexer FulltextIndexer, reranker Reranker, expander QueryExpander, opts RetrieverOptions) *HybridRetriever {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.CandidateFactor < 2 {
		opts.CandidateFactor = 2
	}
	if opts.VectorWeight <= 0 && opts.LexicalWeight <= 0 {
		opts.VectorWeight, opts.LexicalWeight = 0.7, 0.3
	}
	// 权重归一化到和为1
	total := opts.VectorWeight + opts.LexicalWeight
	opts.VectorWeight /= total
	opts.LexicalWeight /= total
	if opts.RerankTopN <= 0 {
		opts.RerankTopN = 20
	}
	if reranker == nil {
		reranker = NoopReranker{}
	}
	if expander == nil {
		expander = NoopQueryExpander{}
	}
	return &HybridRetriever{
		embedder:    embedder,
		vectorStore: vectorStore,
		indexer:     indexer,
		reranker:    reranker,
		expander:    expander,
		opts:        opts,
	}
}

// Retrieve 执行混合检索并返回排好序的TopK分块。
// 查询向量化失败是致命错误,与"空结果"严格区分。
func (r *HybridRetriever) Retrieve(ctx context.Context, req RetrieveRequest) ([]SearchMatch, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = r.opts.TopK
	}
	candidateLimit := topK * r.opts.CandidateFactor

	// 原始查询的向量化失败必须报错,不能退化成空结果
	queryEmbedding, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, apperrors.NewRetrievalError("查询向量化失败", err)
	}

	variants := r.expander.Expand(ctx, req.Query, r.opts.MaxVariants)

	vectorMatches := r.vectorSearch(ctx, req, variants, queryEmbedding, candidateLimit)
	lexicalMatches := r.lexicalSearch(ctx, req, variants, candidateLimit)

	merged := r.mergeResults(vectorMatches, lexicalMatches)
	merged = r.applyRerank(ctx, req.Query, merged)

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// vectorSearch 对每个查询变体独立召回并取并集。
// 变体向量化失败只影响召回率,跳过即可。
func (r *HybridRetriever) vectorSearch(ctx context.Context, req RetrieveRequest, variants []string, queryEmbedding []float32, limit int) []SearchMatch {
	embeddings := [][]float32{queryEmbedding}
	for _, variant := range variants[1:] {
		embedding, err := r.embedder.Embed(ctx, variant)
		if err != nil {
			logger.Warn("变体向量化失败,跳过", zap.String("variant", variant), zap.Error(err))
			continue
		}
		embeddings = append(embeddings, embedding)
	}

	var all []SearchMatch
	for _, embedding := range embeddings {
		matches, err := r.vectorStore.Search(ctx, VectorSearchRequest{
			TenantID:       req.TenantID,
			QueryEmbedding: embedding,
			Limit:          limit,
			CandidateLimit: limit,
			DocumentIDs:    req.DocumentIDs,
		})
		if err != nil {
			logger.Warn("向量检索失败,继续走全文检索", zap.Uint("tenant_id", req.TenantID), zap.Error(err))
			continue
		}
		all = append(all, matches...)
	}
	return all
}

func (r *HybridRetriever) lexicalSearch(ctx context.Context, req RetrieveRequest, variants []string, limit int) []SearchMatch {
	var all []SearchMatch
	for _, variant := range variants {
		matches, err := r.indexer.Search(ctx, FulltextSearchRequest{
			TenantID:    req.TenantID,
			Query:       variant,
			Limit:       limit,
			DocumentIDs: req.DocumentIDs,
			Highlight:   true,
		})
		if err != nil {
			logger.Warn("全文检索失败,继续走向量检索", zap.Uint("tenant_id", req.TenantID), zap.Error(err))
			continue
		}
		all = append(all, matches...)
	}
	return all
}

type mergedScore struct {
	match       SearchMatch
	vectorNorm  float64
	lexicalNorm float64
}

// mergeResults 归一化后加权合并两路结果。
// min-max归一化:结果集内全部同分时统一记1.0,保证排序稳定。
func (r *HybridRetriever) mergeResults(vectorMatches, lexicalMatches []SearchMatch) []SearchMatch {
	vectorNorms := normalizeScores(vectorMatches)
	lexicalNorms := normalizeScores(lexicalMatches)

	scoreMap := make(map[uint]*mergedScore)

	for i, match := range vectorMatches {
		entry, ok := scoreMap[match.ChunkID]
		if !ok {
			entry = &mergedScore{match: match}
			scoreMap[match.ChunkID] = entry
		}
		if vectorNorms[i] > entry.vectorNorm {
			entry.vectorNorm = vectorNorms[i]
		}
		if match.VectorScore > entry.match.VectorScore {
			entry.match.VectorScore = match.VectorScore
		}
	}

	for i, match := range lexicalMatches {
		entry, ok := scoreMap[match.ChunkID]
		if !ok {
			entry = &mergedScore{match: match}
			scoreMap[match.ChunkID] = entry
		}
		if lexicalNorms[i] > entry.lexicalNorm {
			entry.lexicalNorm = lexicalNorms[i]
		}
		if entry.match.Highlight == "" && match.Highlight != "" {
			entry.match.Highlight = match.Highlight
		}
		if entry.match.Content == "" {
			entry.match.Content = match.Content
		}
	}

	merged := make([]SearchMatch, 0, len(scoreMap))
	for _, entry := range scoreMap {
		entry.match.Score = r.opts.VectorWeight*entry.vectorNorm + r.opts.LexicalWeight*entry.lexicalNorm
		merged = append(merged, entry.match)
	}

	sortMatches(merged)
	return merged
}

// applyRerank 把头部候选送入重排模型,失败时保持合并排序
func (r *HybridRetriever) applyRerank(ctx context.Context, query string, matches []SearchMatch) []SearchMatch {
	if !r.reranker.Ready() || len(matches) < 2 {
		return matches
	}

	head := len(matches)
	if head > r.opts.RerankTopN {
		head = r.opts.RerankTopN
	}

	documents := make([]string, head)
	for i := 0; i < head; i++ {
		documents[i] = matches[i].Content
	}

	results, err := r.reranker.Rerank(ctx, query, documents, head)
	if err != nil {
		logger.Warn("重排失败,保持原始排序", zap.Error(err))
		return matches
	}

	reordered := make([]SearchMatch, 0, len(matches))
	used := make(map[int]bool, len(results))
	for _, result := range results {
		if result.Index < 0 || result.Index >= head || used[result.Index] {
			continue
		}
		used[result.Index] = true
		match := matches[result.Index]
		match.Score = result.Score
		reordered = append(reordered, match)
	}
	// 重排接口漏掉的头部候选按原顺序补回
	for i := 0; i < head; i++ {
		if !used[i] {
			reordered = append(reordered, matches[i])
		}
	}
	return append(reordered, matches[head:]...)
}

// normalizeScores 在结果集内做min-max归一化
func normalizeScores(matches []SearchMatch) []float64 {
	norms := make([]float64, len(matches))
	if len(matches) == 0 {
		return norms
	}

	minScore, maxScore := matches[0].Score, matches[0].Score
	for _, match := range matches[1:] {
		if match.Score < minScore {
			minScore = match.Score
		}
		if match.Score > maxScore {
			maxScore = match.Score
		}
	}

	if maxScore == minScore {
		for i := range norms {
			norms[i] = 1.0
		}
		return norms
	}
	for i, match := range matches {
		norms[i] = (match.Score - minScore) / (maxScore - minScore)
	}
	return norms
}

// sortMatches 综合分降序,同分先比原始向量相似度,再比分块序号,
// 保证相同输入的排序完全确定
func sortMatches(matches []SearchMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].VectorScore != matches[j].VectorScore {
			return matches[i].VectorScore > matches[j].VectorScore
		}
		if matches[i].ChunkIndex != matches[j].ChunkIndex {
			return matches[i].ChunkIndex < matches[j].ChunkIndex
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
}
