package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	documentHandlers "backend/api/handlers/documents"
	queryHandlers "backend/api/handlers/query"
	snHandlers "backend/api/handlers/servicenowapi"
	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/metrics"
	middlewarepkg "backend/internal/middleware"
	"backend/internal/rag"
	"backend/internal/rag/parsers"
	"backend/internal/servicenow"
)

// Handlers 全部 HTTP 处理器。
type Handlers struct {
	Documents  *documentHandlers.Handler
	Query      *queryHandlers.Handler
	ServiceNow *snHandlers.Handler
}

// SetupRouter 装配服务依赖并返回 Gin 路由。
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, error) {
	gin.SetMode(ginMode(cfg.Server.Mode))
	router := gin.New()

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(middlewarepkg.RequestID())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 公开端点
	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	svc, snClient, err := buildService(db, cfg)
	if err != nil {
		return nil, err
	}

	handlers := &Handlers{
		Documents:  documentHandlers.NewHandler(svc, cfg.RAG.MaxUploadBytes()),
		Query:      queryHandlers.NewHandler(svc),
		ServiceNow: snHandlers.NewHandler(snClient),
	}

	RegisterRoutes(router, handlers)
	return router, nil
}

// buildService 装配问答服务及其全部依赖。
func buildService(db *gorm.DB, cfg *config.Config) (*rag.Service, *servicenow.Client, error) {
	segmenter, err := rag.NewSegmenter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, nil, err
	}

	documents, err := rag.NewDocumentStore(db)
	if err != nil {
		return nil, nil, err
	}

	vectorStore, err := initVectorStore(cfg, db)
	if err != nil {
		return nil, nil, err
	}

	// 向量化后端 + 两级缓存
	embedder := rag.NewOpenAIEmbeddingProvider(
		cfg.RAG.Embedding.APIKey,
		cfg.RAG.Embedding.BaseURL,
		cfg.RAG.Embedding.Model,
		cfg.RAG.Embedding.Dimension,
	)
	cache := rag.NewEmbeddingCache(initRedis(cfg), "emb:", 0)
	cachedEmbedder := rag.NewCachedEmbeddingProvider(embedder, cache)

	generator := rag.NewOpenAIGenerator(
		cfg.RAG.LLM.APIKey,
		cfg.RAG.LLM.BaseURL,
		cfg.RAG.LLM.Model,
		cfg.RAG.LLM.MaxTokens,
	)
	synthesizer := rag.NewAnswerSynthesizer(generator, cfg.RAG.LLM.ContextTokenBudget, logger.Get())

	opts := []rag.ServiceOption{rag.WithLogger(logger.Get())}

	if cfg.RAG.Reranker.Enabled {
		opts = append(opts, rag.WithReranker(rag.NewCrossEncoderReranker(
			cfg.RAG.Reranker.Endpoint,
			cfg.RAG.Reranker.APIKey,
			cfg.RAG.Reranker.Model,
			cfg.RAG.Reranker.TimeoutSeconds,
		)))
	}

	snClient := servicenow.New(servicenow.Config{
		Instance:       cfg.ServiceNow.Instance,
		Username:       cfg.ServiceNow.Username,
		Password:       cfg.ServiceNow.Password,
		TimeoutSeconds: cfg.ServiceNow.TimeoutSeconds,
	})
	opts = append(opts, rag.WithHostLookup(snClient))

	svc, err := rag.NewService(
		rag.ServiceConfig{
			FinalTopK:       cfg.RAG.FinalTopK,
			OverfetchFactor: cfg.RAG.OverfetchFactor,
			MinEvidence:     cfg.RAG.MinEvidence,
			MaxUploadBytes:  cfg.RAG.MaxUploadBytes(),
		},
		parsers.NewParserRegistry(nil),
		segmenter,
		rag.NewLanguageClassifier(),
		cachedEmbedder,
		vectorStore,
		documents,
		rag.NewIntentRouter(cfg.Routing.Keywords),
		synthesizer,
		opts...,
	)
	if err != nil {
		return nil, nil, err
	}
	return svc, snClient, nil
}

// initVectorStore 按配置初始化向量存储后端。
func initVectorStore(cfg *config.Config, db *gorm.DB) (rag.VectorStore, error) {
	vsType := strings.ToLower(strings.TrimSpace(cfg.RAG.VectorStore.Type))

	switch vsType {
	case "", "memory":
		return rag.NewMemoryVectorStore(), nil
	case "pgvector":
		return rag.NewPGVectorStore(db, cfg.RAG.Embedding.Dimension)
	case "qdrant":
		qcfg := cfg.RAG.VectorStore.Qdrant
		if strings.TrimSpace(qcfg.Endpoint) == "" {
			return nil, fmt.Errorf("未配置 Qdrant endpoint")
		}
		return rag.NewQdrantStore(rag.QdrantOptions{
			Endpoint:        qcfg.Endpoint,
			APIKey:          qcfg.APIKey,
			Collection:      qcfg.Collection,
			VectorDimension: cfg.RAG.Embedding.Dimension,
			Distance:        qcfg.Distance,
			TimeoutSeconds:  qcfg.TimeoutSeconds,
		})
	default:
		return nil, fmt.Errorf("未知的向量存储类型: %s", vsType)
	}
}

// initRedis 初始化可选的 Redis 客户端，不可用时退回纯本地缓存。
func initRedis(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis 不可用, 向量缓存退回本地缓存", zap.Error(err))
		return nil
	}
	return client
}

// ginMode 配置模式到 gin 模式的映射。
func ginMode(mode string) string {
	switch mode {
	case "release":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

// HealthCheck 健康检查
// @Summary 服务健康检查
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "docqa",
		})
	}
}

// ReadinessCheck 就绪检查，包含数据库连通性。
// @Summary 服务就绪检查
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /ready [get]
func ReadinessCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(503, gin.H{"status": "not_ready", "reason": "database connection error"})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "not_ready", "reason": "database ping failed"})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	}
}
