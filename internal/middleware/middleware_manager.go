package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/corpus"
	"github.com/aihub/docqa-go/internal/database"
	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/logger"
)

// MiddlewareManager 中间件管理器,统一初始化检索后端和外部依赖
type MiddlewareManager struct {
	redis       *RedisService
	minio       *MinIOService
	vectorStore corpus.VectorStore
	indexer     corpus.FulltextIndexer
}

var globalMiddlewareManager *MiddlewareManager

// HealthStatus 健康状态
type HealthStatus struct {
	Status    string        `json:"status"` // healthy, unhealthy, degraded
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewMiddlewareManager 创建中间件管理器。
// Milvus/ES不可用时自动降级到数据库实现,服务照常启动。
func NewMiddlewareManager(db *gorm.DB) (*MiddlewareManager, error) {
	if globalMiddlewareManager != nil {
		return globalMiddlewareManager, nil
	}

	manager := &MiddlewareManager{}

	if database.RedisClient != nil {
		manager.redis = NewRedisService()
	}

	minioService, err := NewMinIOService()
	if err != nil {
		logger.Warn("MinIO初始化失败,文档原始文件将无法保存", zap.Error(err))
	} else {
		manager.minio = minioService
	}

	manager.vectorStore = buildVectorStore(db)
	manager.indexer = buildFulltextIndexer(db)

	globalMiddlewareManager = manager
	return manager, nil
}

func buildVectorStore(db *gorm.DB) corpus.VectorStore {
	fallback := corpus.NewDBVectorStore(db)

	cfg := config.AppConfig.Corpus.VectorStore
	if cfg.Provider != "milvus" || cfg.Milvus.Address == "" {
		logger.Info("向量库未配置,使用数据库余弦检索")
		return fallback
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dimensions := config.AppConfig.Corpus.Embedding.Dimensions
	if dimensions <= 0 {
		dimensions = cfg.Milvus.VectorSize
	}

	milvusStore, err := corpus.NewMilvusVectorStore(ctx, corpus.MilvusOptions{
		Address:          cfg.Milvus.Address,
		Username:         cfg.Milvus.Username,
		Password:         cfg.Milvus.Password,
		CollectionPrefix: cfg.Milvus.Collection,
		Dimensions:       dimensions,
	})
	if err != nil {
		logger.Warn("Milvus初始化失败,降级到数据库余弦检索", zap.Error(err))
		return fallback
	}

	return &corpus.FailoverVectorStore{Primary: milvusStore, Fallback: fallback}
}

func buildFulltextIndexer(db *gorm.DB) corpus.FulltextIndexer {
	fallback := corpus.NewDBFulltextIndexer(db)

	cfg := config.AppConfig.Corpus.Search
	if cfg.Provider != "elasticsearch" || len(cfg.Elasticsearch.Addresses) == 0 {
		logger.Info("Elasticsearch未配置,使用数据库模糊检索")
		return fallback
	}

	esIndexer, err := corpus.NewElasticIndexer(corpus.ElasticOptions{
		Addresses: cfg.Elasticsearch.Addresses,
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
		IndexName: cfg.Elasticsearch.IndexPrefix,
	})
	if err != nil {
		logger.Warn("Elasticsearch初始化失败,降级到数据库模糊检索", zap.Error(err))
		return fallback
	}

	return &corpus.FailoverFulltextIndexer{Primary: esIndexer, Fallback: fallback}
}

// GetMiddlewareManager 获取全局中间件管理器
func GetMiddlewareManager() *MiddlewareManager {
	return globalMiddlewareManager
}

// CheckHealth 检查所有中间件健康状态
func (m *MiddlewareManager) CheckHealth() (map[string]HealthStatus, error) {
	health := make(map[string]HealthStatus)

	if m.redis != nil && database.RedisClient != nil {
		start := time.Now()
		err := database.RedisClient.Ping(context.Background()).Err()
		latency := time.Since(start)
		if err != nil {
			health["redis"] = HealthStatus{Status: "unhealthy", Latency: latency, Message: err.Error(), Timestamp: time.Now()}
		} else {
			health["redis"] = HealthStatus{Status: "healthy", Latency: latency, Timestamp: time.Now()}
		}
	} else {
		health["redis"] = HealthStatus{Status: "degraded", Message: "Redis not configured", Timestamp: time.Now()}
	}

	if kafka.GetProducer() != nil {
		health["kafka"] = HealthStatus{Status: "healthy", Timestamp: time.Now()}
	} else {
		health["kafka"] = HealthStatus{Status: "degraded", Message: "Kafka not configured", Timestamp: time.Now()}
	}

	if m.vectorStore != nil {
		start := time.Now()
		if m.vectorStore.Ready() {
			health["vector_store"] = HealthStatus{Status: "healthy", Latency: time.Since(start), Timestamp: time.Now()}
		} else {
			health["vector_store"] = HealthStatus{Status: "degraded", Message: "vector store not ready", Timestamp: time.Now()}
		}
	}

	if m.indexer != nil {
		start := time.Now()
		if m.indexer.Ready() {
			health["fulltext_index"] = HealthStatus{Status: "healthy", Latency: time.Since(start), Timestamp: time.Now()}
		} else {
			health["fulltext_index"] = HealthStatus{Status: "degraded", Message: "fulltext index not ready", Timestamp: time.Now()}
		}
	}

	if m.minio != nil && m.minio.client != nil {
		start := time.Now()
		_, err := m.minio.client.ListBuckets(context.Background())
		latency := time.Since(start)
		if err != nil {
			health["minio"] = HealthStatus{Status: "unhealthy", Latency: latency, Message: err.Error(), Timestamp: time.Now()}
		} else {
			health["minio"] = HealthStatus{Status: "healthy", Latency: latency, Timestamp: time.Now()}
		}
	} else {
		health["minio"] = HealthStatus{Status: "degraded", Message: "MinIO not configured", Timestamp: time.Now()}
	}

	if database.DB != nil {
		start := time.Now()
		sqlDB, err := database.DB.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		latency := time.Since(start)
		if err != nil {
			health["postgres"] = HealthStatus{Status: "unhealthy", Latency: latency, Message: err.Error(), Timestamp: time.Now()}
		} else {
			health["postgres"] = HealthStatus{Status: "healthy", Latency: latency, Timestamp: time.Now()}
		}
	} else {
		health["postgres"] = HealthStatus{Status: "unhealthy", Message: "PostgreSQL not initialized", Timestamp: time.Now()}
	}

	return health, nil
}

// GetRedis 获取Redis服务
func (m *MiddlewareManager) GetRedis() *RedisService {
	return m.redis
}

// GetMinIO 获取MinIO服务
func (m *MiddlewareManager) GetMinIO() *MinIOService {
	return m.minio
}

// GetVectorStore 获取向量存储后端
func (m *MiddlewareManager) GetVectorStore() corpus.VectorStore {
	return m.vectorStore
}

// GetFulltextIndexer 获取全文索引后端
func (m *MiddlewareManager) GetFulltextIndexer() corpus.FulltextIndexer {
	return m.indexer
}
