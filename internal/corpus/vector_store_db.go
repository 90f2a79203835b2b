package corpus

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	"gorm.io/gorm"

	apperrors "github.com/aihub/docqa-go/internal/errors"
)

// DBVectorStore 数据库兜底实现:向量以JSON存在document_chunks表,
// 检索时在内存中做余弦相似度。仅适合小规模语料,Milvus不可用时降级使用。
type DBVectorStore struct {
	db *gorm.DB
}

func NewDBVectorStore(db *gorm.DB) *DBVectorStore {
	return &DBVectorStore{db: db}
}

type chunkEmbeddingRecord struct {
	ChunkID    uint   `gorm:"column:chunk_id"`
	DocumentID uint   `gorm:"column:document_id"`
	ChunkIndex int    `gorm:"column:chunk_index"`
	Content    string `gorm:"column:content"`
	Embedding  string `gorm:"column:embedding"`
}

// UpsertChunks 向量已随分块行落库,这里无需额外写入
func (s *DBVectorStore) UpsertChunks(ctx context.Context, chunks []VectorChunk) error {
	return nil
}

// DeleteDocument 分块行删除时向量随行删除,这里无需额外处理
func (s *DBVectorStore) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	return nil
}

// Search 全量拉取租户分块后内存计算余弦相似度
func (s *DBVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}

	query := s.db.WithContext(ctx).
		Table("document_chunks").
		Select("document_chunks.chunk_id, document_chunks.document_id, document_chunks.chunk_index, document_chunks.content, document_chunks.embedding").
		Where("document_chunks.tenant_id = ?", req.TenantID).
		Where("document_chunks.embedding IS NOT NULL AND document_chunks.embedding != ''")

	if len(req.DocumentIDs) > 0 {
		query = query.Where("document_chunks.document_id IN ?", req.DocumentIDs)
	}

	var records []chunkEmbeddingRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, apperrors.NewStoreError("查询分块向量失败", err)
	}

	queryNorm := vectorNorm(req.QueryEmbedding)
	if queryNorm == 0 {
		return nil, nil
	}

	var matches []SearchMatch
	for _, record := range records {
		var embedding []float32
		if err := json.Unmarshal([]byte(record.Embedding), &embedding); err != nil {
			continue
		}
		if len(embedding) != len(req.QueryEmbedding) {
			continue
		}
		score := cosineSimilarity(req.QueryEmbedding, embedding, queryNorm)
		if req.Threshold > 0 && score < float64(req.Threshold) {
			continue
		}
		matches = append(matches, SearchMatch{
			ChunkID:     record.ChunkID,
			DocumentID:  record.DocumentID,
			ChunkIndex:  record.ChunkIndex,
			Content:     record.Content,
			Score:       score,
			VectorScore: score,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})

	limit := req.CandidateLimit
	if limit <= 0 {
		limit = req.Limit
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *DBVectorStore) Ready() bool {
	return s.db != nil
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(query, candidate []float32, queryNorm float64) float64 {
	var dot, candidateSum float64
	for i := range query {
		dot += float64(query[i]) * float64(candidate[i])
		candidateSum += float64(candidate[i]) * float64(candidate[i])
	}
	candidateNorm := math.Sqrt(candidateSum)
	if candidateNorm == 0 {
		return 0
	}
	return dot / (queryNorm * candidateNorm)
}
