package corpus

import (
	"context"

	"github.com/aihub/docqa-go/internal/logger"
)

// FailoverVectorStore 主库不可用时自动降级到兜底实现。
// 写路径上数据库行始终是事实来源,降级检索不会丢数据,只损失召回质量。
type FailoverVectorStore struct {
	Primary  VectorStore
	Fallback VectorStore
}

func (f *FailoverVectorStore) active() VectorStore {
	if f.Primary != nil && f.Primary.Ready() {
		return f.Primary
	}
	if f.Primary != nil {
		logger.Warn("向量库不可用,降级到数据库检索")
	}
	return f.Fallback
}

func (f *FailoverVectorStore) UpsertChunks(ctx context.Context, chunks []VectorChunk) error {
	return f.active().UpsertChunks(ctx, chunks)
}

// DeleteDocument 主备都删,避免主库恢复后残留脏数据
func (f *FailoverVectorStore) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	var firstErr error
	if f.Primary != nil {
		if err := f.Primary.DeleteDocument(ctx, tenantID, documentID); err != nil {
			firstErr = err
		}
	}
	if f.Fallback != nil {
		if err := f.Fallback.DeleteDocument(ctx, tenantID, documentID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *FailoverVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	return f.active().Search(ctx, req)
}

func (f *FailoverVectorStore) Ready() bool {
	return (f.Primary != nil && f.Primary.Ready()) || (f.Fallback != nil && f.Fallback.Ready())
}

// FailoverFulltextIndexer ES不可用时降级到ILIKE检索
type FailoverFulltextIndexer struct {
	Primary  FulltextIndexer
	Fallback FulltextIndexer
}

func (f *FailoverFulltextIndexer) active() FulltextIndexer {
	if f.Primary != nil && f.Primary.Ready() {
		return f.Primary
	}
	if f.Primary != nil {
		logger.Warn("全文索引不可用,降级到数据库模糊检索")
	}
	return f.Fallback
}

func (f *FailoverFulltextIndexer) IndexChunks(ctx context.Context, chunks []FulltextChunk) error {
	return f.active().IndexChunks(ctx, chunks)
}

func (f *FailoverFulltextIndexer) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	var firstErr error
	if f.Primary != nil {
		if err := f.Primary.DeleteDocument(ctx, tenantID, documentID); err != nil {
			firstErr = err
		}
	}
	if f.Fallback != nil {
		if err := f.Fallback.DeleteDocument(ctx, tenantID, documentID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *FailoverFulltextIndexer) Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error) {
	return f.active().Search(ctx, req)
}

func (f *FailoverFulltextIndexer) Ready() bool {
	return (f.Primary != nil && f.Primary.Ready()) || (f.Fallback != nil && f.Fallback.Ready())
}
