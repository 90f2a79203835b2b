package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/corpus"
	"github.com/aihub/docqa-go/internal/database"
	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/middleware"
	"github.com/aihub/docqa-go/internal/models"
)

// DocumentService 文档管理:上传、列表、状态查询、删除
type DocumentService struct {
	store     *corpus.Store
	ingestion *IngestionService
}

// NewDocumentService 创建文档服务
func NewDocumentService(store *corpus.Store, ingestion *IngestionService) *DocumentService {
	return &DocumentService{store: store, ingestion: ingestion}
}

// DocumentStatusInfo 文档状态查询结果
type DocumentStatusInfo struct {
	DocumentID   uint   `json:"document_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	ChunkCount   int    `json:"chunk_count"`
}

// validateUpload 校验扩展名与文件大小
func (s *DocumentService) validateUpload(filename string, size int64) error {
	uploadCfg := config.AppConfig.Upload

	if size > uploadCfg.MaxSize {
		return apperrors.NewBusinessError(apperrors.ErrCodeFileTooLarge,
			fmt.Sprintf("文件大小超出限制(%d字节)", uploadCfg.MaxSize))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range uploadCfg.AllowedTypes {
		if ext == allowed {
			return nil
		}
	}
	return apperrors.NewBusinessError(apperrors.ErrCodeInvalidFileFormat,
		fmt.Sprintf("不支持的文件类型: %s", ext))
}

// Upload 上传文档:校验、保存原始文件、创建pending记录、送入处理队列。
// 返回时文档处于pending状态,处理结果通过状态接口轮询。
func (s *DocumentService) Upload(tenantID uint, filename string, contentType string, size int64, file io.Reader) (*models.Document, error) {
	if err := s.validateUpload(filename, size); err != nil {
		return nil, err
	}

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	minioService := middleware.GetMinIOService()
	if minioService == nil {
		return nil, apperrors.NewStoreError("对象存储未初始化", nil)
	}

	// 对象键带uuid前缀,同名文件互不覆盖
	objectKey := fmt.Sprintf("tenant_%d/%s_%s", tenantID, uuid.NewString()[:8], filename)
	if err := minioService.UploadFile(objectKey, file, size, contentType); err != nil {
		return nil, apperrors.NewStoreError("保存文档失败", err)
	}

	doc := &models.Document{
		TenantID:    tenantID,
		Filename:    filename,
		ContentType: contentType,
		FileSize:    size,
		StoragePath: objectKey,
		Status:      models.DocumentStatusPending,
		CreateTime:  time.Now(),
		UpdateTime:  time.Now(),
	}
	if err := database.DB.Create(doc).Error; err != nil {
		// 数据库写入失败时清掉已上传的文件
		minioService.DeleteFile(objectKey)
		return nil, apperrors.NewStoreError("创建文档记录失败", err)
	}

	s.ingestion.Enqueue(tenantID, doc.DocumentID)
	return doc, nil
}

// List 租户文档列表,分页
func (s *DocumentService) List(tenantID uint, page, limit int) ([]models.Document, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := database.DB.Model(&models.Document{}).Where("tenant_id = ?", tenantID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var docs []models.Document
	if err := query.Order("create_time DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&docs).Error; err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// Get 按租户取单个文档
func (s *DocumentService) Get(tenantID, documentID uint) (*models.Document, error) {
	var doc models.Document
	err := database.DB.
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		First(&doc).Error
	if err != nil {
		return nil, apperrors.NewNotFoundError("文档")
	}
	return &doc, nil
}

// Status 文档状态:{status, error_message, chunk_count}
func (s *DocumentService) Status(tenantID, documentID uint) (*DocumentStatusInfo, error) {
	doc, err := s.Get(tenantID, documentID)
	if err != nil {
		return nil, err
	}
	return &DocumentStatusInfo{
		DocumentID:   doc.DocumentID,
		Status:       doc.Status,
		ErrorMessage: doc.ErrorMessage,
		ChunkCount:   doc.ChunkCount,
	}, nil
}

// Delete 删除文档:分块行、向量、索引条目、原始文件全部级联删除,
// 删除后立即不可被任何检索命中
func (s *DocumentService) Delete(ctx context.Context, tenantID, documentID uint) error {
	doc, err := s.Get(tenantID, documentID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteDocument(ctx, tenantID, documentID); err != nil {
		return err
	}

	if doc.StoragePath != "" {
		if minioService := middleware.GetMinIOService(); minioService != nil {
			if err := minioService.DeleteFile(doc.StoragePath); err != nil {
				// 原始文件删除失败不阻塞记录删除
				log.Printf("[document] delete blob %s failed: %v", doc.StoragePath, err)
			}
		}
	}

	if err := database.DB.Delete(&models.Document{}, "tenant_id = ? AND document_id = ?", tenantID, documentID).Error; err != nil {
		return apperrors.NewStoreError("删除文档记录失败", err)
	}

	middleware.NewRedisService().InvalidateTenantRetrievalCache(ctx, tenantID)

	// 广播删除事件,其他实例清理本地状态
	if config.AppConfig.Kafka.Enabled {
		kafka.PublishDocumentProcess(tenantID, documentID, "delete")
	}
	return nil
}
