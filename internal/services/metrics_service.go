package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_documents_processed_total",
		Help: "摄取完成的文档数,按最终状态统计",
	}, []string{"status"})

	chunksIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docqa_chunks_ingested_total",
		Help: "已落库的分块总数",
	})

	retrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docqa_retrieval_duration_seconds",
		Help:    "混合检索耗时",
		Buckets: prometheus.DefBuckets,
	})

	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_queries_total",
		Help: "问答查询数,按结果类型统计",
	}, []string{"outcome"})
)

func recordDocumentProcessed(status string) {
	documentsProcessedTotal.WithLabelValues(status).Inc()
}

func recordChunksIngested(count int) {
	chunksIngestedTotal.Add(float64(count))
}

func observeRetrievalDuration(seconds float64) {
	retrievalDuration.Observe(seconds)
}

func recordQuery(outcome string) {
	queryTotal.WithLabelValues(outcome).Inc()
}

// MetricsService 指标服务
type MetricsService struct{}

// NewMetricsService 创建指标服务
func NewMetricsService() *MetricsService {
	return &MetricsService{}
}

// Handler 返回Prometheus指标的HTTP处理器
func (ms *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// ServeHTTP 实现http.Handler接口
func (ms *MetricsService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ms.Handler().ServeHTTP(w, r)
}
