package corpus

import (
	"context"
	"strings"

	"gorm.io/gorm"

	apperrors "github.com/aihub/docqa-go/internal/errors"
)

// DBFulltextIndexer 数据库兜底实现:ILIKE模糊匹配,无相关性打分,
// 命中统一给固定分。Elasticsearch不可用时降级使用。
type DBFulltextIndexer struct {
	db *gorm.DB
}

func NewDBFulltextIndexer(db *gorm.DB) *DBFulltextIndexer {
	return &DBFulltextIndexer{db: db}
}

const dbFulltextScore = 0.6

// IndexChunks 分块行落库即可被ILIKE检索到,无需额外索引
func (s *DBFulltextIndexer) IndexChunks(ctx context.Context, chunks []FulltextChunk) error {
	return nil
}

// DeleteDocument 分块行删除即不可检索,无需额外处理
func (s *DBFulltextIndexer) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	return nil
}

type chunkTextRecord struct {
	ChunkID    uint   `gorm:"column:chunk_id"`
	DocumentID uint   `gorm:"column:document_id"`
	ChunkIndex int    `gorm:"column:chunk_index"`
	Content    string `gorm:"column:content"`
}

// Search ILIKE模糊检索
func (s *DBFulltextIndexer) Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	query := s.db.WithContext(ctx).
		Table("document_chunks").
		Select("document_chunks.chunk_id, document_chunks.document_id, document_chunks.chunk_index, document_chunks.content").
		Where("document_chunks.tenant_id = ?", req.TenantID).
		Where("document_chunks.content ILIKE ?", "%"+req.Query+"%")

	if len(req.DocumentIDs) > 0 {
		query = query.Where("document_chunks.document_id IN ?", req.DocumentIDs)
	}

	var records []chunkTextRecord
	if err := query.Order("document_chunks.chunk_id ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, apperrors.NewStoreError("查询分块文本失败", err)
	}

	var matches []SearchMatch
	for _, record := range records {
		match := SearchMatch{
			ChunkID:    record.ChunkID,
			DocumentID: record.DocumentID,
			ChunkIndex: record.ChunkIndex,
			Content:    record.Content,
			Score:      dbFulltextScore,
		}
		if req.Highlight {
			match.Highlight = buildHighlight(record.Content, req.Query)
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (s *DBFulltextIndexer) Ready() bool {
	return s.db != nil
}

// buildHighlight 取命中词前后各40字符作为摘要片段
func buildHighlight(content, query string) string {
	lower := strings.ToLower(content)
	idx := strings.Index(lower, strings.ToLower(query))
	if idx < 0 {
		if len(content) > 80 {
			return content[:80] + "..."
		}
		return content
	}

	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + 40
	if end > len(content) {
		end = len(content)
	}

	fragment := content[start:end]
	if start > 0 {
		fragment = "..." + fragment
	}
	if end < len(content) {
		fragment = fragment + "..."
	}
	return fragment
}
