package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/models"
)

// ErrCorpusStale 当前嵌入配置与租户语料库首次入库时固定的配置不一致。
// 不能混用向量空间,需要运维重建语料库后才能继续入库。
var ErrCorpusStale = errors.New("嵌入模型配置与语料库已固定的配置不一致")

// Store 语料库存储门面:数据库行、向量库、全文索引三份数据的统一入口。
// 所有读写都带租户边界。
type Store struct {
	db          *gorm.DB
	vectorStore VectorStore
	indexer     FulltextIndexer
	// persistBatch 分块行批量写入大小
	persistBatch int
}

func NewStore(db *gorm.DB, vectorStore VectorStore, indexer FulltextIndexer, persistBatch int) *Store {
	if persistBatch <= 0 {
		persistBatch = 10
	}
	return &Store{
		db:           db,
		vectorStore:  vectorStore,
		indexer:      indexer,
		persistBatch: persistBatch,
	}
}

// EnsureProfile 租户首次入库时固定(模型,维度),此后入库配置必须一致
func (s *Store) EnsureProfile(ctx context.Context, tenantID uint, model string, dimensions int) error {
	var profile models.CorpusProfile
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.CorpusProfile{
			TenantID:       tenantID,
			EmbeddingModel: model,
			Dimensions:     dimensions,
		}
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return apperrors.NewStoreError("创建语料库配置失败", err)
		}
		return nil
	}
	if err != nil {
		return apperrors.NewStoreError("查询语料库配置失败", err)
	}

	if profile.EmbeddingModel != model || profile.Dimensions != dimensions {
		return fmt.Errorf("%w: 已固定 %s/%d, 当前 %s/%d",
			ErrCorpusStale, profile.EmbeddingModel, profile.Dimensions, model, dimensions)
	}
	return nil
}

// Profile 返回租户已固定的语料库配置,未固定时返回gorm.ErrRecordNotFound
func (s *Store) Profile(ctx context.Context, tenantID uint) (*models.CorpusProfile, error) {
	var profile models.CorpusProfile
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpsertChunks 批量落库分块:数据库行、向量库、全文索引。
// 所有向量维度必须与租户固定维度一致,不一致直接拒绝。
func (s *Store) UpsertChunks(ctx context.Context, tenantID, documentID uint, chunks []models.DocumentChunk, embeddings [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("分块数与向量数不一致: %d != %d", len(chunks), len(embeddings))
	}

	profile, err := s.Profile(ctx, tenantID)
	if err != nil {
		return apperrors.NewStoreError("查询语料库配置失败", err)
	}

	for i := range chunks {
		if len(embeddings[i]) != profile.Dimensions {
			return apperrors.NewDimensionMismatchError(profile.Dimensions, len(embeddings[i]))
		}
		chunks[i].TenantID = tenantID
		chunks[i].DocumentID = documentID
		payload, err := json.Marshal(embeddings[i])
		if err != nil {
			return fmt.Errorf("序列化向量失败: %w", err)
		}
		chunks[i].Embedding = string(payload)
	}

	if err := s.db.WithContext(ctx).CreateInBatches(chunks, s.persistBatch).Error; err != nil {
		return apperrors.NewStoreError("写入分块失败", err)
	}

	vectorChunks := make([]VectorChunk, 0, len(chunks))
	fulltextChunks := make([]FulltextChunk, 0, len(chunks))
	for i, chunk := range chunks {
		vectorChunks = append(vectorChunks, VectorChunk{
			ChunkID:    chunk.ChunkID,
			DocumentID: documentID,
			TenantID:   tenantID,
			Content:    chunk.Content,
			ChunkIndex: chunk.ChunkIndex,
			Embedding:  embeddings[i],
		})
		fulltextChunks = append(fulltextChunks, FulltextChunk{
			ChunkID:    chunk.ChunkID,
			DocumentID: documentID,
			TenantID:   tenantID,
			Content:    chunk.Content,
			ChunkIndex: chunk.ChunkIndex,
		})
	}

	if err := s.vectorStore.UpsertChunks(ctx, vectorChunks); err != nil {
		return err
	}
	return s.indexer.IndexChunks(ctx, fulltextChunks)
}

// DeleteDocument 级联删除文档的分块行、向量和索引条目,删除后立即不可检索
func (s *Store) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Delete(&models.DocumentChunk{}).Error; err != nil {
		return apperrors.NewStoreError("删除分块失败", err)
	}
	if err := s.vectorStore.DeleteDocument(ctx, tenantID, documentID); err != nil {
		return err
	}
	return s.indexer.DeleteDocument(ctx, tenantID, documentID)
}

// VectorSearch 租户范围内的向量检索
func (s *Store) VectorSearch(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	return s.vectorStore.Search(ctx, req)
}

// LexicalSearch 租户范围内的全文检索
func (s *Store) LexicalSearch(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error) {
	return s.indexer.Search(ctx, req)
}

// VectorStore 暴露底层向量存储,供检索器直接使用
func (s *Store) VectorStore() VectorStore { return s.vectorStore }

// Indexer 暴露底层全文索引,供检索器直接使用
func (s *Store) Indexer() FulltextIndexer { return s.indexer }

// ChunkCount 文档已落库的分块数
func (s *Store) ChunkCount(ctx context.Context, tenantID, documentID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Count(&count).Error
	return count, err
}
