package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 摄取指标
var (
	// IngestTotal 摄取总数，stage 记录失败阶段, 成功为 "ok"
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_ingest_total",
			Help: "文档摄取总数",
		},
		[]string{"stage"},
	)

	// IngestDuration 摄取耗时（秒）
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_ingest_duration_seconds",
			Help:    "文档摄取耗时分布",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// IngestChunks 单文档产出分块数量
	IngestChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_ingest_chunks",
			Help:    "单文档分块数量分布",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
	)
)

// 问答指标
var (
	// QueriesTotal 问答总数，route 为 rag|servicenow, status 为 ok|error
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_queries_total",
			Help: "问答请求总数",
		},
		[]string{"route", "status"},
	)

	// QueryDuration 问答耗时（秒）
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_query_duration_seconds",
			Help:    "问答耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route"},
	)

	// RetrievalResults 检索返回结果数量
	RetrievalResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_retrieval_results",
			Help:    "检索返回结果数量分布",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
		},
	)

	// RerankDegradations 重排序降级次数
	RerankDegradations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_rerank_degradations_total",
			Help: "重排序失败降级为相似度顺序的次数",
		},
	)

	// LowConfidenceAnswers 低置信度回答次数
	LowConfidenceAnswers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_low_confidence_answers_total",
			Help: "证据不足仍作答的次数",
		},
	)
)

// 缓存指标
var (
	// EmbeddingCacheHits 向量缓存命中
	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_embedding_cache_hits_total",
			Help: "向量缓存命中总数",
		},
		[]string{"level"},
	)
)
