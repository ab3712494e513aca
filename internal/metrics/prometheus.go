// Package metrics 定义了服务的 Prometheus 指标。
package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbqa_chat_requests_total",
			Help: "Chat turns by outcome (ok, fallback, partial, empty, cancelled)",
		},
		[]string{"outcome"},
	)

	ChatFragments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbqa_chat_fragments_total",
			Help: "Answer fragments delivered to clients",
		},
	)

	RetrievalHits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbqa_retrieval_hits",
			Help:    "Number of vector hits per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbqa_documents_ingested_total",
			Help: "Documents processed by final status",
		},
		[]string{"status"},
	)

	VectorSearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbqa_vector_search_duration_seconds",
			Help:    "Vector index search latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
)

var registerOnce sync.Once

// Init 注册全部指标，可重复调用。
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ChatRequests)
		prometheus.MustRegister(ChatFragments)
		prometheus.MustRegister(RetrievalHits)
		prometheus.MustRegister(DocumentsIngested)
		prometheus.MustRegister(VectorSearchDuration)
	})
}

// Handler 暴露 /metrics。
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
