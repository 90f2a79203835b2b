package corpus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/logger"
)

// MilvusOptions Milvus连接配置
type MilvusOptions struct {
	Address          string
	Username         string
	Password         string
	CollectionPrefix string
	Dimensions       int
}

// MilvusVectorStore 基于Milvus的向量存储,每个租户一个collection
type MilvusVectorStore struct {
	client      client.Client
	opts        MilvusOptions
	mu          sync.Mutex
	collections map[string]bool
}

func NewMilvusVectorStore(ctx context.Context, opts MilvusOptions) (*MilvusVectorStore, error) {
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = "docqa_chunks"
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("milvus向量维度未配置")
	}

	c, err := client.NewClient(ctx, client.Config{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("连接Milvus失败: %w", err)
	}

	return &MilvusVectorStore{
		client:      c,
		opts:        opts,
		collections: make(map[string]bool),
	}, nil
}

func (s *MilvusVectorStore) collectionName(tenantID uint) string {
	return fmt.Sprintf("%s_%d", s.opts.CollectionPrefix, tenantID)
}

// ensureCollection 按需创建租户collection并建索引
func (s *MilvusVectorStore) ensureCollection(ctx context.Context, tenantID uint) (string, error) {
	name := s.collectionName(tenantID)

	s.mu.Lock()
	if s.collections[name] {
		s.mu.Unlock()
		return name, nil
	}
	s.mu.Unlock()

	exists, err := s.client.HasCollection(ctx, name)
	if err != nil {
		return "", fmt.Errorf("检查collection失败: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(name).
			WithField(entity.NewField().WithName("id").WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true)).
			WithField(entity.NewField().WithName("chunk_id").WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName("document_id").WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName("chunk_index").WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName("content").WithDataType(entity.FieldTypeVarChar).WithTypeParams(entity.TypeParamMaxLength, "65535")).
			WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.opts.Dimensions)))

		if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return "", fmt.Errorf("创建collection失败: %w", err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if err == nil {
			err = s.client.CreateIndex(ctx, name, "vector", idx, false)
		}
		if err != nil {
			logger.Warn("创建HNSW索引失败,回退IvfFlat", zap.String("collection", name), zap.Error(err))
			flat, ferr := entity.NewIndexIvfFlat(entity.COSINE, 128)
			if ferr != nil {
				return "", fmt.Errorf("创建索引失败: %w", ferr)
			}
			if err := s.client.CreateIndex(ctx, name, "vector", flat, false); err != nil {
				return "", fmt.Errorf("创建索引失败: %w", err)
			}
		}
	}

	if err := s.client.LoadCollection(ctx, name, false); err != nil {
		return "", fmt.Errorf("加载collection失败: %w", err)
	}

	s.mu.Lock()
	s.collections[name] = true
	s.mu.Unlock()
	return name, nil
}

// UpsertChunks 写入分块向量,维度不符直接拒绝
func (s *MilvusVectorStore) UpsertChunks(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tenantID := chunks[0].TenantID

	name, err := s.ensureCollection(ctx, tenantID)
	if err != nil {
		return err
	}

	chunkIDs := make([]int64, 0, len(chunks))
	documentIDs := make([]int64, 0, len(chunks))
	chunkIndexes := make([]int64, 0, len(chunks))
	contents := make([]string, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))

	for _, chunk := range chunks {
		if chunk.TenantID != tenantID {
			return fmt.Errorf("同一批次出现多个租户: %d 和 %d", tenantID, chunk.TenantID)
		}
		if len(chunk.Embedding) != s.opts.Dimensions {
			return apperrors.NewDimensionMismatchError(s.opts.Dimensions, len(chunk.Embedding))
		}
		chunkIDs = append(chunkIDs, int64(chunk.ChunkID))
		documentIDs = append(documentIDs, int64(chunk.DocumentID))
		chunkIndexes = append(chunkIndexes, int64(chunk.ChunkIndex))
		content := chunk.Content
		if len(content) > 65535 {
			content = content[:65535]
		}
		contents = append(contents, content)
		vectors = append(vectors, chunk.Embedding)
	}

	_, err = s.client.Insert(ctx, name, "",
		entity.NewColumnInt64("chunk_id", chunkIDs),
		entity.NewColumnInt64("document_id", documentIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", s.opts.Dimensions, vectors),
	)
	if err != nil {
		return apperrors.NewStoreError("写入Milvus失败", err)
	}

	if err := s.client.Flush(ctx, name, false); err != nil {
		logger.Warn("Milvus flush失败", zap.String("collection", name), zap.Error(err))
	}
	return nil
}

// DeleteDocument 删除文档的全部向量
func (s *MilvusVectorStore) DeleteDocument(ctx context.Context, tenantID, documentID uint) error {
	name := s.collectionName(tenantID)
	exists, err := s.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("检查collection失败: %w", err)
	}
	if !exists {
		return nil
	}
	expr := fmt.Sprintf("document_id == %d", documentID)
	if err := s.client.Delete(ctx, name, "", expr); err != nil {
		return apperrors.NewStoreError("删除Milvus向量失败", err)
	}
	return nil
}

// Search 向量检索,collection本身即租户边界
func (s *MilvusVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) != s.opts.Dimensions {
		return nil, apperrors.NewDimensionMismatchError(s.opts.Dimensions, len(req.QueryEmbedding))
	}

	name := s.collectionName(req.TenantID)
	exists, err := s.client.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("检查collection失败: %w", err)
	}
	if !exists {
		return nil, nil
	}
	if err := s.client.LoadCollection(ctx, name, false); err != nil {
		return nil, fmt.Errorf("加载collection失败: %w", err)
	}

	limit := req.CandidateLimit
	if limit <= 0 {
		limit = req.Limit
	}
	if limit <= 0 {
		limit = 10
	}

	expr := ""
	if len(req.DocumentIDs) > 0 {
		expr = fmt.Sprintf("document_id in %s", int64ListExpr(req.DocumentIDs))
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, fmt.Errorf("构建检索参数失败: %w", err)
	}

	results, err := s.client.Search(ctx, name, nil, expr,
		[]string{"chunk_id", "document_id", "chunk_index", "content"},
		[]entity.Vector{entity.FloatVector(req.QueryEmbedding)},
		"vector", entity.COSINE, limit, sp,
	)
	if err != nil {
		return nil, apperrors.NewStoreError("Milvus检索失败", err)
	}

	var matches []SearchMatch
	for _, result := range results {
		var chunkIDs, documentIDs, chunkIndexes *entity.ColumnInt64
		var contents *entity.ColumnVarChar
		for _, field := range result.Fields {
			switch field.Name() {
			case "chunk_id":
				chunkIDs, _ = field.(*entity.ColumnInt64)
			case "document_id":
				documentIDs, _ = field.(*entity.ColumnInt64)
			case "chunk_index":
				chunkIndexes, _ = field.(*entity.ColumnInt64)
			case "content":
				contents, _ = field.(*entity.ColumnVarChar)
			}
		}
		if chunkIDs == nil || documentIDs == nil {
			continue
		}
		for i := 0; i < result.ResultCount; i++ {
			score := float64(result.Scores[i])
			if req.Threshold > 0 && score < float64(req.Threshold) {
				continue
			}
			match := SearchMatch{
				Score:       score,
				VectorScore: score,
			}
			if v, err := chunkIDs.ValueByIdx(i); err == nil {
				match.ChunkID = uint(v)
			}
			if v, err := documentIDs.ValueByIdx(i); err == nil {
				match.DocumentID = uint(v)
			}
			if chunkIndexes != nil {
				if v, err := chunkIndexes.ValueByIdx(i); err == nil {
					match.ChunkIndex = int(v)
				}
			}
			if contents != nil {
				if v, err := contents.ValueByIdx(i); err == nil {
					match.Content = v
				}
			}
			matches = append(matches, match)
		}
	}
	return matches, nil
}

// Ready 探测Milvus可用性
func (s *MilvusVectorStore) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.client.ListCollections(ctx)
	return err == nil
}

func (s *MilvusVectorStore) Close() error {
	return s.client.Close()
}

func int64ListExpr(ids []uint) string {
	out := "["
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d", id)
	}
	return out + "]"
}
