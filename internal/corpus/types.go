package corpus

import "context"

// VectorChunk 待写入向量库的分块
type VectorChunk struct {
	ChunkID    uint
	DocumentID uint
	TenantID   uint
	Content    string
	ChunkIndex int
	Embedding  []float32
}

// VectorSearchRequest 向量检索请求,按租户隔离
type VectorSearchRequest struct {
	TenantID       uint
	QueryEmbedding []float32
	Limit          int
	// CandidateLimit 粗排候选数,0表示使用Limit
	CandidateLimit int
	// DocumentIDs 限定检索的文档范围,空表示全部
	DocumentIDs []uint
	Threshold   float32
}

// VectorStore 向量存储接口
type VectorStore interface {
	UpsertChunks(ctx context.Context, chunks []VectorChunk) error
	DeleteDocument(ctx context.Context, tenantID, documentID uint) error
	Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error)
	Ready() bool
}

// FulltextChunk 待索引的分块
type FulltextChunk struct {
	ChunkID    uint
	DocumentID uint
	TenantID   uint
	Content    string
	ChunkIndex int
	Metadata   map[string]string
}

// FulltextSearchRequest 全文检索请求
type FulltextSearchRequest struct {
	TenantID    uint
	Query       string
	Limit       int
	DocumentIDs []uint
	// Highlight 是否返回高亮片段
	Highlight bool
}

// FulltextIndexer 全文索引接口
type FulltextIndexer interface {
	IndexChunks(ctx context.Context, chunks []FulltextChunk) error
	DeleteDocument(ctx context.Context, tenantID, documentID uint) error
	Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error)
	Ready() bool
}

// SearchMatch 检索命中结果
type SearchMatch struct {
	ChunkID    uint
	DocumentID uint
	ChunkIndex int
	Content    string
	// Score 归一化后的综合得分
	Score float64
	// VectorScore 原始向量相似度,用于同分排序
	VectorScore float64
	Highlight   string
	Metadata    map[string]string
}
