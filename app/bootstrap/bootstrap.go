package bootstrap

import (
	"log"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/consul"
	"github.com/aihub/docqa-go/internal/corpus"
	"github.com/aihub/docqa-go/internal/dashscope"
	"github.com/aihub/docqa-go/internal/database"
	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/middleware"
	"github.com/aihub/docqa-go/internal/services"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cleanupTasks      []func() error
	consulClient      *consul.Client
	serviceRegistry   *consul.ServiceRegistry
	middlewareManager *middleware.MiddlewareManager

	documentService  *services.DocumentService
	ingestionService *services.IngestionService
	answerService    *services.AnswerService
}

// Global app instance for controllers to access
var globalApp *App

// GetApp returns the global app instance
func GetApp() *App {
	return globalApp
}

// SetGlobalApp sets the global app instance
func SetGlobalApp(app *App) {
	globalApp = app
}

// GetConsulClient returns the Consul client instance
func (a *App) GetConsulClient() *consul.Client {
	return a.consulClient
}

// GetMiddlewareManager returns the middleware manager instance
func (a *App) GetMiddlewareManager() *middleware.MiddlewareManager {
	return a.middlewareManager
}

// GetDocumentService returns the document service instance
func (a *App) GetDocumentService() *services.DocumentService {
	return a.documentService
}

// GetIngestionService returns the ingestion service instance
func (a *App) GetIngestionService() *services.IngestionService {
	return a.ingestionService
}

// GetAnswerService returns the answer service instance
func (a *App) GetAnswerService() *services.AnswerService {
	return a.answerService
}

// Init bootstraps configuration, logger, database connections and other shared
// infrastructure components required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load dynamic configuration.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}

	app := &App{}

	// Initialize Consul client (optional)
	if config.AppConfig.Consul.Enabled {
		consulClient, err := consul.NewClient(
			config.AppConfig.Consul.Address,
			config.AppConfig.Consul.Enabled,
			logger.Logger,
		)
		if err != nil {
			logger.Warn("Failed to initialize Consul client, using fallback config", zap.Error(err))
		} else {
			app.consulClient = consulClient

			// Try to load config from Consul
			if consulClient.IsEnabled() {
				consulConfig, err := consul.LoadConfigFromConsul(
					consulClient,
					config.AppConfig.Consul.ConfigPrefix,
					logger.Logger,
				)
				if err == nil {
					// Merge Consul config with existing config (Consul takes precedence)
					config.AppConfig = mergeConfig(config.AppConfig, consulConfig)
					logger.Info("Configuration loaded from Consul")

					// Watch for config changes
					go func() {
						if err := consul.WatchConfig(
							consulClient,
							config.AppConfig.Consul.ConfigPrefix,
							func(newCfg *config.Config) error {
								logger.Info("Configuration updated from Consul, reloading...")
								// Note: Some config changes may require service restart
								config.AppConfig = mergeConfig(config.AppConfig, newCfg)
								return nil
							},
							logger.Logger,
						); err != nil {
							logger.Error("Failed to watch Consul config", zap.Error(err))
						}
					}()
				} else {
					logger.Warn("Failed to load config from Consul, using environment variables", zap.Error(err))
				}
			}
		}
	}

	// Initialize database.
	if _, err := database.InitDB(); err != nil {
		return nil, err
	}
	app.cleanupTasks = append(app.cleanupTasks, func() error {
		return database.CloseDB()
	})

	// Initialize Redis (optional). Failure shouldn't block the app.
	if _, err := database.InitRedis(); err != nil {
		logger.Warn("Failed to initialize Redis", zap.Error(err))
	} else {
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			return database.CloseRedis()
		})
	}

	// 初始化全局DashScope服务（向量化/重排使用）
	if apiKey := dashScopeAPIKey(config.AppConfig); apiKey != "" {
		dashscope.InitGlobalService(apiKey)
		logger.Info("Global DashScope service initialized")
	}

	// Initialize Kafka (optional). Failure shouldn't block the app.
	if config.AppConfig.Kafka.Enabled {
		if err := kafka.InitProducer(config.AppConfig.Kafka.Brokers, config.AppConfig.Kafka.Topic); err != nil {
			logger.Warn("Failed to initialize Kafka producer", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				producer := kafka.GetProducer()
				if producer != nil {
					return producer.Close()
				}
				return nil
			})
		}

		topics := []string{config.AppConfig.Kafka.Topic}
		if err := kafka.InitConsumer(config.AppConfig.Kafka.Brokers, config.AppConfig.Kafka.GroupID, topics); err != nil {
			logger.Warn("Failed to initialize Kafka consumer", zap.Error(err))
		} else {
			consumer := kafka.GetConsumer()
			if consumer != nil {
				app.cleanupTasks = append(app.cleanupTasks, func() error {
					return consumer.Close()
				})
			}
		}
	}

	// 检索后端：Milvus/ES不可用时自动降级到数据库实现
	manager, err := middleware.NewMiddlewareManager(database.DB)
	if err != nil {
		return nil, err
	}
	app.middlewareManager = manager

	// 语料库与业务服务装配
	store := corpus.NewStore(database.DB, manager.GetVectorStore(), manager.GetFulltextIndexer(),
		config.AppConfig.Corpus.Ingest.PersistBatch)
	embedder := services.SelectEmbedder(config.AppConfig)

	retriever := corpus.NewHybridRetriever(
		embedder,
		manager.GetVectorStore(),
		manager.GetFulltextIndexer(),
		buildReranker(config.AppConfig),
		buildExpander(config.AppConfig),
		corpus.RetrieverOptions{
			TopK:            config.AppConfig.Corpus.Retrieval.TopK,
			CandidateFactor: config.AppConfig.Corpus.Retrieval.CandidateFactor,
			VectorWeight:    config.AppConfig.Corpus.Retrieval.VectorWeight,
			LexicalWeight:   config.AppConfig.Corpus.Retrieval.LexicalWeight,
			RerankTopN:      config.AppConfig.Corpus.Rerank.TopN,
			MaxVariants:     config.AppConfig.Corpus.Expansion.MaxVariants,
		},
	)

	app.ingestionService = services.NewIngestionService(store, embedder)
	app.documentService = services.NewDocumentService(store, app.ingestionService)
	app.answerService = services.NewAnswerService(retriever)

	// Kafka消费者就绪后挂载摄取流水线
	app.ingestionService.RegisterConsumer()

	// Register service with Consul
	if config.AppConfig.Consul.Enabled {
		if app.consulClient == nil || !app.consulClient.IsEnabled() {
			logger.Warn("Consul client not available, skipping service registration")
		} else {
			serviceRegistry := consul.NewServiceRegistry(
				app.consulClient,
				config.AppConfig.Consul.ServiceID,
				config.AppConfig.Consul.ServiceName,
				logger.Logger,
			)
			if err := serviceRegistry.Register(config.AppConfig); err != nil {
				logger.Warn("Failed to register service with Consul", zap.Error(err))
			} else {
				app.serviceRegistry = serviceRegistry
				app.cleanupTasks = append(app.cleanupTasks, func() error {
					return serviceRegistry.Deregister()
				})
				logger.Info("Service registered with Consul",
					zap.String("service_id", config.AppConfig.Consul.ServiceID),
					zap.String("service_name", config.AppConfig.Consul.ServiceName))
			}
		}
	}

	return app, nil
}

// dashScopeAPIKey 返回DashScope密钥,重排配置优先
func dashScopeAPIKey(cfg *config.Config) string {
	if cfg.Corpus.Rerank.Provider == "dashscope" && cfg.Corpus.Rerank.APIKey != "" {
		return cfg.Corpus.Rerank.APIKey
	}
	if cfg.Corpus.Embedding.Provider == "dashscope" && cfg.Corpus.Embedding.APIKey != "" {
		return cfg.Corpus.Embedding.APIKey
	}
	return ""
}

// buildReranker 按配置选择重排后端
func buildReranker(cfg *config.Config) corpus.Reranker {
	rerankCfg := cfg.Corpus.Rerank
	if !rerankCfg.Enabled {
		return &corpus.NoopReranker{}
	}
	switch rerankCfg.Provider {
	case "dashscope", "":
		return corpus.NewDashScopeReranker(rerankCfg.Model)
	default:
		logger.Warn("未知的重排后端,重排已禁用", zap.String("provider", rerankCfg.Provider))
		return &corpus.NoopReranker{}
	}
}

// buildExpander 按配置选择查询扩展后端。
// 扩展复用回答模型的LLM配置。
func buildExpander(cfg *config.Config) corpus.QueryExpander {
	if !cfg.Corpus.Expansion.Enabled || cfg.LLM.APIKey == "" {
		return &corpus.NoopQueryExpander{}
	}

	clientCfg := openai.DefaultConfig(cfg.LLM.APIKey)
	if cfg.LLM.BaseURL != "" {
		clientCfg.BaseURL = cfg.LLM.BaseURL
	}

	model := cfg.LLM.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return corpus.NewLLMQueryExpander(openai.NewClientWithConfig(clientCfg), model)
}

// mergeConfig merges Consul config into the base config
func mergeConfig(base, consul *config.Config) *config.Config {
	result := *base

	// Merge only non-empty values from Consul
	if consul.Server.Port != "" {
		result.Server.Port = consul.Server.Port
	}
	if consul.Server.Env != "" {
		result.Server.Env = consul.Server.Env
	}
	if consul.Database.URL != "" {
		result.Database.URL = consul.Database.URL
	}
	if consul.Redis.Host != "" {
		result.Redis.Host = consul.Redis.Host
	}
	if consul.Redis.Port != "" {
		result.Redis.Port = consul.Redis.Port
	}
	if consul.Redis.DB != 0 {
		result.Redis.DB = consul.Redis.DB
	}
	if consul.JWT.Secret != "" {
		result.JWT.Secret = consul.JWT.Secret
	}
	if len(consul.Kafka.Brokers) > 0 {
		result.Kafka.Brokers = consul.Kafka.Brokers
	}
	if consul.Kafka.Topic != "" {
		result.Kafka.Topic = consul.Kafka.Topic
	}
	if consul.Kafka.GroupID != "" {
		result.Kafka.GroupID = consul.Kafka.GroupID
	}
	result.Kafka.Enabled = consul.Kafka.Enabled
	if consul.Corpus.Retrieval.TopK != 0 {
		result.Corpus.Retrieval.TopK = consul.Corpus.Retrieval.TopK
	}
	if consul.Corpus.Retrieval.VectorWeight != 0 {
		result.Corpus.Retrieval.VectorWeight = consul.Corpus.Retrieval.VectorWeight
	}
	if consul.Corpus.Retrieval.LexicalWeight != 0 {
		result.Corpus.Retrieval.LexicalWeight = consul.Corpus.Retrieval.LexicalWeight
	}
	if consul.Corpus.Retrieval.RelevanceFloor != 0 {
		result.Corpus.Retrieval.RelevanceFloor = consul.Corpus.Retrieval.RelevanceFloor
	}

	return &result
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}

	// Flush logger buffers.
	logger.Sync()
}
