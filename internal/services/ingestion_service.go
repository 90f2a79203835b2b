package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/corpus"
	"github.com/aihub/docqa-go/internal/database"
	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/middleware"
	"github.com/aihub/docqa-go/internal/models"
)

// IngestionService 文档摄取流水线:下载 -> 解析 -> 分块 -> 向量化 -> 落库。
// 每个文档是独立的异步处理单元,同一文档同一时刻只允许一个摄取任务。
type IngestionService struct {
	store    *corpus.Store
	parser   *corpus.FileParserManager
	chunker  *corpus.Chunker
	embedder corpus.Embedder

	// sem 限制并发处理的文档数
	sem chan struct{}

	// inflight 进程内单飞保护
	inflightMu sync.Mutex
	inflight   map[uint]bool
}

// NewIngestionService 创建摄取服务
func NewIngestionService(store *corpus.Store, embedder corpus.Embedder) *IngestionService {
	ingestCfg := config.AppConfig.Corpus.Ingest

	maxParallel := ingestCfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}

	return &IngestionService{
		store:    store,
		parser:   corpus.NewFileParserManager(),
		chunker:  corpus.NewChunker(ingestCfg.ChunkSize, ingestCfg.ChunkOverlap),
		embedder: embedder,
		sem:      make(chan struct{}, maxParallel),
		inflight: make(map[uint]bool),
	}
}

// SelectEmbedder 按配置选择向量化后端
func SelectEmbedder(cfg *config.Config) corpus.Embedder {
	embCfg := cfg.Corpus.Embedding
	switch embCfg.Provider {
	case "openai":
		if embCfg.APIKey != "" {
			return corpus.NewOpenAIEmbedder(embCfg.APIKey, embCfg.BaseURL, embCfg.Model)
		}
	case "dashscope":
		return corpus.NewDashScopeEmbedder(embCfg.Model)
	}
	log.Printf("[ingest] embedding provider %q not configured, using noop", embCfg.Provider)
	return &corpus.NoopEmbedder{}
}

// RegisterConsumer 把摄取流水线挂到Kafka文档事件上
func (s *IngestionService) RegisterConsumer() {
	consumer := kafka.GetConsumer()
	if consumer == nil {
		return
	}
	consumer.RegisterHandler(config.AppConfig.Kafka.Topic, func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParseDocumentProcessEvent(message.Value)
		if err != nil {
			return err
		}
		return s.HandleDocumentEvent(ctx, event)
	})
}

// HandleDocumentEvent 处理Kafka文档事件
func (s *IngestionService) HandleDocumentEvent(ctx context.Context, event *kafka.DocumentProcessEvent) error {
	switch event.Action {
	case "process":
		return s.ProcessDocument(event.DocumentID)
	case "delete":
		return s.store.DeleteDocument(ctx, event.TenantID, event.DocumentID)
	default:
		logger.Warn("未知的文档事件类型", zap.String("action", event.Action))
		return nil
	}
}

// Enqueue 把文档送入处理队列。
// Kafka可用时走事件,否则进程内异步兜底。
func (s *IngestionService) Enqueue(tenantID, documentID uint) {
	if config.AppConfig.Kafka.Enabled {
		if err := kafka.PublishDocumentProcess(tenantID, documentID, "process"); err == nil {
			return
		}
		logger.Warn("发送文档处理事件失败,改走进程内处理", zap.Uint("document_id", documentID))
	}
	go func() {
		if err := s.ProcessDocument(documentID); err != nil {
			log.Printf("[ingest] process document %d failed: %v", documentID, err)
		}
	}()
}

// tryAcquire 单飞保护:进程内inflight集合 + Redis分布式锁
func (s *IngestionService) tryAcquire(documentID uint) (func(), bool) {
	s.inflightMu.Lock()
	if s.inflight[documentID] {
		s.inflightMu.Unlock()
		return nil, false
	}
	s.inflight[documentID] = true
	s.inflightMu.Unlock()

	redisService := middleware.NewRedisService()
	lockKey := fmt.Sprintf("ingest:doc:%d", documentID)
	locked, err := redisService.AcquireLock(lockKey, 30*time.Minute)
	if err != nil || !locked {
		s.inflightMu.Lock()
		delete(s.inflight, documentID)
		s.inflightMu.Unlock()
		return nil, false
	}

	release := func() {
		redisService.ReleaseLock(lockKey)
		s.inflightMu.Lock()
		delete(s.inflight, documentID)
		s.inflightMu.Unlock()
	}
	return release, true
}

// ProcessDocument 处理单个文档。
// 处理失败只记录在文档记录上,不向上传方抛出(上传方已收到pending应答)。
func (s *IngestionService) ProcessDocument(documentID uint) error {
	release, ok := s.tryAcquire(documentID)
	if !ok {
		log.Printf("[ingest] document %d already being processed, skip", documentID)
		return nil
	}
	defer release()

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx := context.Background()

	var doc models.Document
	if err := database.DB.First(&doc, documentID).Error; err != nil {
		return err
	}

	// pending以外的状态不再处理:状态机不允许回退,failed是终态
	if err := TransitionDocument(&doc, models.DocumentStatusProcessing); err != nil {
		log.Printf("[ingest] document %d in status %s, skip: %v", documentID, doc.Status, err)
		return nil
	}
	doc.UpdateTime = time.Now()
	if err := database.DB.Model(&doc).Updates(map[string]interface{}{
		"status":      doc.Status,
		"update_time": doc.UpdateTime,
	}).Error; err != nil {
		return err
	}

	s.publishStatus(documentID, "processing", 0, 0)

	if err := s.ingest(ctx, &doc); err != nil {
		s.markFailed(&doc, err)
		return nil
	}
	return nil
}

// ingest 执行实际的摄取流程,任何错误导致文档进入failed终态
func (s *IngestionService) ingest(ctx context.Context, doc *models.Document) error {
	ingestCfg := config.AppConfig.Corpus.Ingest

	// 下载原始文件
	minioService := middleware.GetMinIOService()
	if minioService == nil {
		return apperrors.NewStoreError("对象存储未初始化", nil)
	}
	reader, err := minioService.DownloadFile(doc.StoragePath)
	if err != nil {
		return apperrors.NewStoreError("下载文档失败", err)
	}
	defer reader.Close()

	// 解析
	text, err := s.parser.ParseFile(reader, doc.Filename)
	if err != nil {
		return err
	}

	// 分块
	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return apperrors.NewParseError(doc.Filename, fmt.Errorf("文档没有可用内容"))
	}
	assignPages(chunks)

	// 固定租户语料库配置,配置漂移直接拒绝
	if !s.embedder.Ready() {
		return apperrors.NewEmbeddingError("向量化后端未就绪", nil)
	}
	if err := s.store.EnsureProfile(ctx, doc.TenantID, s.embedder.ModelID(), s.embedder.Dimensions()); err != nil {
		return err
	}

	// 分批向量化,单块失败跳过,全部失败才算文档失败
	batchSize := ingestCfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	embedTimeout := time.Duration(ingestCfg.EmbedTimeout) * time.Second
	if embedTimeout <= 0 {
		embedTimeout = 30 * time.Second
	}
	retries := ingestCfg.EmbedRetries
	if retries <= 0 {
		retries = 3
	}

	var keptChunks []models.DocumentChunk
	var keptEmbeddings [][]float32
	var lastEmbedErr error
	processed := 0

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		embeddings, err := s.embedBatchWithRetry(ctx, texts, embedTimeout, retries)
		if err != nil {
			// 整批失败:记录并跳过这批,其余批次继续
			lastEmbedErr = err
			log.Printf("[ingest] embed batch failed for document %d: %v", doc.DocumentID, err)
			processed += len(batch)
			continue
		}

		for i, chunk := range batch {
			keptChunks = append(keptChunks, models.DocumentChunk{
				TenantID:    doc.TenantID,
				DocumentID:  doc.DocumentID,
				Content:     chunk.Text,
				ChunkIndex:  chunk.Index,
				StartOffset: chunk.StartOffset,
				EndOffset:   chunk.EndOffset,
				Page:        chunk.Page,
				Metadata:    chunkMetadataJSON(doc, chunk),
				CreateTime:  time.Now(),
			})
			keptEmbeddings = append(keptEmbeddings, embeddings[i])
		}
		processed += len(batch)
		s.publishStatus(doc.DocumentID, "processing", processed, len(chunks))
	}

	if len(keptChunks) == 0 {
		if lastEmbedErr != nil {
			return apperrors.NewEmbeddingError("所有分块向量化失败", lastEmbedErr)
		}
		return apperrors.NewEmbeddingError("没有可用的向量", nil)
	}

	// 落库:数据库行 + 向量库 + 全文索引
	if err := s.store.UpsertChunks(ctx, doc.TenantID, doc.DocumentID, keptChunks, keptEmbeddings); err != nil {
		return err
	}

	doc.ChunkCount = len(keptChunks)
	if err := TransitionDocument(doc, models.DocumentStatusCompleted); err != nil {
		return err
	}
	doc.UpdateTime = time.Now()
	if err := database.DB.Model(doc).Updates(map[string]interface{}{
		"status":      doc.Status,
		"chunk_count": doc.ChunkCount,
		"update_time": doc.UpdateTime,
	}).Error; err != nil {
		return err
	}

	// 语料变化后旧的检索缓存作废
	middleware.NewRedisService().InvalidateTenantRetrievalCache(ctx, doc.TenantID)

	s.publishStatus(doc.DocumentID, "completed", len(keptChunks), len(chunks))
	logger.Info("文档摄取完成",
		zap.Uint("tenant_id", doc.TenantID),
		zap.Uint("document_id", doc.DocumentID),
		zap.Int("chunks", len(keptChunks)))
	recordDocumentProcessed("completed")
	recordChunksIngested(len(keptChunks))
	return nil
}

// embedBatchWithRetry 带超时和有界重试的批量向量化。
// 向量化后端走熔断器,后端持续故障时快速失败而不是逐批硬等超时。
func (s *IngestionService) embedBatchWithRetry(ctx context.Context, texts []string, timeout time.Duration, retries int) ([][]float32, error) {
	breaker := GetCircuitBreaker("embedding")

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		var embeddings [][]float32
		err := breaker.Call(func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			var embedErr error
			embeddings, embedErr = s.embedder.EmbedBatch(callCtx, texts)
			return embedErr
		})
		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		var cbErr *CircuitBreakerError
		if errors.As(err, &cbErr) && cbErr.State == StateOpen {
			// 熔断器打开,重试没有意义
			return nil, err
		}
		if attempt < retries-1 {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	return nil, lastErr
}

// markFailed 把文档置为failed终态并记录失败原因
func (s *IngestionService) markFailed(doc *models.Document, cause error) {
	message := cause.Error()
	if len(message) > 500 {
		message = message[:500]
	}

	if err := TransitionDocument(doc, models.DocumentStatusFailed); err != nil {
		log.Printf("[ingest] cannot mark document %d failed: %v", doc.DocumentID, err)
		return
	}
	doc.ErrorMessage = message
	doc.UpdateTime = time.Now()

	if err := database.DB.Model(doc).Updates(map[string]interface{}{
		"status":        doc.Status,
		"error_message": doc.ErrorMessage,
		"update_time":   doc.UpdateTime,
	}).Error; err != nil {
		log.Printf("[ingest] update failed status error: %v", err)
	}

	s.publishStatus(doc.DocumentID, "failed", 0, 0)
	logger.Error("文档摄取失败",
		zap.Uint("tenant_id", doc.TenantID),
		zap.Uint("document_id", doc.DocumentID),
		zap.String("reason", message))
	recordDocumentProcessed("failed")
}

// publishStatus 把处理进度写入Redis,供状态查询接口展示
func (s *IngestionService) publishStatus(documentID uint, status string, processed, total int) {
	payload := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Format(time.RFC3339),
	}
	if total > 0 {
		payload["chunks_count"] = total
		payload["processed"] = processed
		payload["progress"] = float64(processed) / float64(total) * 100.0
	}
	statusKey := fmt.Sprintf("docqa:doc:status:%d", documentID)
	middleware.NewRedisService().SetCache(statusKey, payload, 1*time.Hour)
}

var pageMarkerPattern = regexp.MustCompile(`--- Page (\d+) ---`)

// assignPages 根据PDF解析器注入的页标记推算每个分块所在页码
func assignPages(chunks []corpus.Chunk) {
	currentPage := 0
	for i := range chunks {
		markers := pageMarkerPattern.FindAllStringSubmatch(chunks[i].Text, -1)
		if len(markers) > 0 {
			if page, err := strconv.Atoi(markers[0][1]); err == nil {
				currentPage = page
			}
		}
		chunks[i].Page = currentPage
	}
}

// chunkMetadataJSON 分块的附加元信息
func chunkMetadataJSON(doc *models.Document, chunk corpus.Chunk) string {
	meta := map[string]interface{}{
		"filename":    doc.Filename,
		"chunk_index": chunk.Index,
	}
	if chunk.Page > 0 {
		meta["page"] = chunk.Page
	}
	payload, _ := json.Marshal(meta)
	return string(payload)
}
