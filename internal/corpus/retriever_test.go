package corpus

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dims     int
	failAll  bool
	failText map[string]bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failAll || f.failText[text] {
		return nil, errors.New("embedding backend down")
	}
	vec := make([]float32, f.dims)
	for i, r := range text {
		vec[i%f.dims] += float32(r%13) / 13
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) ModelID() string { return "fake-embedder" }
func (f *fakeEmbedder) Ready() bool     { return !f.failAll }

type fakeVectorStore struct {
	byTenant map[uint][]SearchMatch
	err      error
	lastReq  VectorSearchRequest
}

func (f *fakeVectorStore) UpsertChunks(ctx context.Context, chunks []VectorChunk) error { return nil }
func (f *fakeVectorStore) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	return nil
}
func (f *fakeVectorStore) Ready() bool { return true }

func (f *fakeVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return filterByDocuments(f.byTenant[req.TenantID], req.DocumentIDs), nil
}

type fakeIndexer struct {
	byTenant map[uint][]SearchMatch
	err      error
	lastReq  FulltextSearchRequest
}

func (f *fakeIndexer) IndexChunks(ctx context.Context, chunks []FulltextChunk) error { return nil }
func (f *fakeIndexer) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	return nil
}
func (f *fakeIndexer) Ready() bool { return true }

func (f *fakeIndexer) Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return filterByDocuments(f.byTenant[req.TenantID], req.DocumentIDs), nil
}

func filterByDocuments(matches []SearchMatch, documentIDs []uint) []SearchMatch {
	if len(documentIDs) == 0 {
		return append([]SearchMatch(nil), matches...)
	}
	allowed := make(map[uint]bool, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = true
	}
	var out []SearchMatch
	for _, match := range matches {
		if allowed[match.DocumentID] {
			out = append(out, match)
		}
	}
	return out
}

func newTestRetriever(vs *fakeVectorStore, idx *fakeIndexer, reranker Reranker) *HybridRetriever {
	return NewHybridRetriever(&fakeEmbedder{dims: 8}, vs, idx, reranker, nil, RetrieverOptions{
		TopK:            5,
		CandidateFactor: 3,
		VectorWeight:    0.7,
		LexicalWeight:   0.3,
	})
}

func match(chunkID, docID uint, idx int, score float64, content string) SearchMatch {
	return SearchMatch{ChunkID: chunkID, DocumentID: docID, ChunkIndex: idx, Score: score, VectorScore: score, Content: content}
}

func TestHybridRetriever_EmbedFailureIsFatal(t *testing.T) {
	vs := &fakeVectorStore{byTenant: map[uint][]SearchMatch{}}
	idx := &fakeIndexer{byTenant: map[uint][]SearchMatch{}}
	retriever := NewHybridRetriever(&fakeEmbedder{dims: 8, failAll: true}, vs, idx, nil, nil, RetrieverOptions{})

	// 查询向量化失败必须报错,而不是空结果
	_, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, Query: "问题"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "查询向量化失败")
}

func TestHybridRetriever_EmptyCorpusReturnsNoError(t *testing.T) {
	vs := &fakeVectorStore{byTenant: map[uint][]SearchMatch{}}
	idx := &fakeIndexer{byTenant: map[uint][]SearchMatch{}}
	retriever := newTestRetriever(vs, idx, nil)

	matches, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, Query: "镜像仓库怎么配置"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestHybridRetriever_TenantScopePropagated(t *testing.T) {
	vs := &fakeVectorStore{byTenant: map[uint][]SearchMatch{
		7: {match(1, 1, 0, 0.9, "tenant seven")},
		8: {match(2, 2, 0, 0.9, "tenant eight")},
	}}
	idx := &fakeIndexer{byTenant: map[uint][]SearchMatch{}}
	retriever := newTestRetriever(vs, idx, nil)

	matches, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 7, Query: "anything"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint(1), matches[0].ChunkID)
	assert.Equal(t, uint(7), vs.lastReq.TenantID)
	assert.Equal(t, uint(7), idx.lastReq.TenantID)
}

func TestHybridRetriever_DocumentFilterPropagated(t *testing.T) {
	vs := &fakeVectorStore{byTenant: map[uint][]SearchMatch{
		1: {
			match(1, 10, 0, 0.9, "doc ten"),
			match(2, 20, 0, 0.8, "doc twenty"),
		},
	}}
	idx := &fakeIndexer{byTenant: map[uint][]SearchMatch{}}
	retriever := newTestRetriever(vs, idx, nil)

	matches, err := retriever.Retrieve(context.Background(), RetrieveRequest{
		TenantID:    1,
		Query:       "filter",
		DocumentIDs: []uint{20},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint(20), matches[0].DocumentID)
	assert.Equal(t, []uint{20}, vs.lastReq.DocumentIDs)
	assert.Equal(t, []uint{20}, idx.lastReq.DocumentIDs)
}

func TestHybridRetriever_Deterministic(t *testing.T) {
	data := map[uint][]SearchMatch{
		1: {
			match(1, 1, 0, 0.9, "alpha"),
			match(2, 1, 1, 0.9, "beta"),
			match(3, 1, 2, 0.9, "gamma"),
		},
	}
	vs := &fakeVectorStore{byTenant: data}
	idx := &fakeIndexer{byTenant: data}
	retriever := newTestRetriever(vs, idx, nil)

	first, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, Query: "stable"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, Query: "stable"})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// 同分时按分块序号升序
	require.Len(t, first, 3)
	assert.Equal(t, uint(1), first[0].ChunkID)
	assert.Equal(t, uint(2), first[1].ChunkID)
	assert.Equal(t, uint(3), first[2].ChunkID)
}

func TestHybridRetriever_MergeMonotonic(t *testing.T) {
	// chunk 1 两路都命中,chunk 2 只在向量路,chunk 3 只在全文路
	vs := &fakeVectorStore{byTenant: map[uint][]SearchMatch{
		1: {
			match(1, 1, 0, 0.9, "both"),
			match(2, 1, 1, 0.5, "vector only"),
		},
	}}
	idx := &fakeIndexer{byTenant: map[uint][]SearchMatch{
		1: {
			{ChunkID: 1, DocumentID: 1, ChunkIndex: 0, Score: 7.0, Content: "both"},
			{ChunkID: 3, DocumentID: 1, ChunkIndex: 2, Score: 3.0, Content: "lexical only"},
		},
	}}
	retriever := newTestRetriever(vs, idx, nil)

	matches, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, Query: "merge"})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	scores := make(map[uint]float64, 3)
	for _, m := range matches {
		scores[m.ChunkID] = m.Score
		// 权重和为1,加权合并分不可能超过1
		assert.LessOrEqual(t, m.Score, 1.0)
	}

	// 双路命中的chunk得分不低于任一单路命中的chunk
	assert.GreaterOrEqual(t, scores[1], scores[2])
	assert.GreaterOrEqual(t, scores[1], scores[3])
	assert.Equal(t, uint(1), matches[0].ChunkID)
}

func TestHybridRetriever_TopKTruncation(t *testing.T) {
	var data []SearchMatch
	for i := 1; i <= 20; i++ {
		data = append(data, match(uint(i), 1, i, float64(i)/20, fmt.Sprintf("chunk %d", i)))
	}
	vs := &fakeVectorStore{byTenant: map[uint][]SearchMatch{1: data}}
	idx := &fakeIndexer{byTenant: map[uint][]SearchMatch{}}
	retriever := newTestRetriever(vs, idx, nil)

	matches, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, Query: "top", TopK: 3})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, uint(20), matches[0].ChunkID)
}

func TestHybridRetriever_OnePathFailureDegrades(t *testing.T) {
	vs := &fakeVectorStore{err: errors.New("milvus unreachable")}
	idx := &fakeIndexer{byTenant: map[uint][]SearchMatch{
		1: {match(5, 1, 0, 2.0, "lexical hit")},
	}}
	retriever := newTestRetriever(vs, idx, nil)

	matches, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, Query: "degrade"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint(5), matches[0].ChunkID)
}

type fakeReranker struct {
	results []RerankResult
	err     error
	ready   bool
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeReranker) Ready() bool { return f.ready }

func TestHybridRetriever_RerankReorders(t *testing.T) {
	data := map[uint][]SearchMatch{
		1: {
			match(1, 1, 0, 0.9, "first"),
			match(2, 1, 1, 0.8, "second"),
			match(3, 1, 2, 0.7, "third"),
		},
	}
	vs := &fakeVectorStore{byTenant: data}
	idx := &fakeIndexer{byTenant: map[uint][]SearchMatch{}}
	reranker := &fakeReranker{
		ready: true,
		results: []RerankResult{
			{Index: 2, Score: 0.95, Rank: 0},
			{Index: 0, Score: 0.60, Rank: 1},
			{Index: 1, Score: 0.20, Rank: 2},
		},
	}
	retriever := newTestRetriever(vs, idx, reranker)

	matches, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, Query: "rerank"})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, uint(3), matches[0].ChunkID)
	assert.Equal(t, uint(1), matches[1].ChunkID)
	assert.Equal(t, uint(2), matches[2].ChunkID)
}

func TestHybridRetriever_RerankFailureKeepsOrder(t *testing.T) {
	data := map[uint][]SearchMatch{
		1: {
			match(1, 1, 0, 0.9, "first"),
			match(2, 1, 1, 0.8, "second"),
		},
	}
	vs := &fakeVectorStore{byTenant: data}
	idx := &fakeIndexer{byTenant: map[uint][]SearchMatch{}}
	reranker := &fakeReranker{ready: true, err: errors.New("rerank backend down")}
	retriever := newTestRetriever(vs, idx, reranker)

	matches, err := retriever.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, Query: "fallback"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, uint(1), matches[0].ChunkID)
	assert.Equal(t, uint(2), matches[1].ChunkID)
}

func TestNormalizeScores_AllEqual(t *testing.T) {
	matches := []SearchMatch{
		{ChunkID: 1, Score: 0.5},
		{ChunkID: 2, Score: 0.5},
	}
	norms := normalizeScores(matches)
	assert.Equal(t, []float64{1.0, 1.0}, norms)
}

func TestNormalizeScores_MinMax(t *testing.T) {
	matches := []SearchMatch{
		{ChunkID: 1, Score: 2.0},
		{ChunkID: 2, Score: 1.0},
		{ChunkID: 3, Score: 0.0},
	}
	norms := normalizeScores(matches)
	assert.Equal(t, []float64{1.0, 0.5, 0.0}, norms)
}
