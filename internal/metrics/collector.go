// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器. 所有 Record 方法对 nil 接收者安全，未启用指标时组件可传 nil.
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// RAG 指标
	ragStageDuration *prometheus.HistogramVec
	ragQueriesTotal  *prometheus.CounterVec
	embeddingCache   *prometheus.CounterVec
	agentSelected    *prometheus.CounterVec
	documentsIndexed prometheus.Counter
	llmTokensTotal   *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器，注册到指定 Registry
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RAG 指标
	c.ragStageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rag_stage_duration_seconds",
			Help:      "Duration of each RAG pipeline stage in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	c.ragQueriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_queries_total",
			Help:      "Total number of RAG queries",
		},
		[]string{"method", "status"},
	)

	c.embeddingCache = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache lookups by result",
		},
		[]string{"result"},
	)

	c.agentSelected = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_selected_total",
			Help:      "Number of times each agent was selected",
		},
		[]string{"agent"},
	)

	c.documentsIndexed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Total number of chunks written to the vector index",
		},
	)

	c.llmTokensTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of LLM tokens used",
		},
		[]string{"provider"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔍 RAG 指标记录
// =============================================================================

// ObserveStage 记录流水线阶段耗时（process、retrieve、hybrid_search、rerank、mmr、generate、search、index）
func (c *Collector) ObserveStage(stage string, duration time.Duration) {
	if c == nil {
		return
	}
	c.ragStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordQuery 记录一次查询的结果
func (c *Collector) RecordQuery(method string, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.ragQueriesTotal.WithLabelValues(method, status).Inc()
}

// RecordEmbeddingCache 记录嵌入缓存命中与未命中
func (c *Collector) RecordEmbeddingCache(hits, misses int) {
	if c == nil {
		return
	}
	if hits > 0 {
		c.embeddingCache.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		c.embeddingCache.WithLabelValues("miss").Add(float64(misses))
	}
}

// RecordAgentSelected 记录被选中的 Agent
func (c *Collector) RecordAgentSelected(agent string) {
	if c == nil {
		return
	}
	c.agentSelected.WithLabelValues(agent).Inc()
}

// RecordDocumentsIndexed 记录写入索引的分块数
func (c *Collector) RecordDocumentsIndexed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.documentsIndexed.Add(float64(n))
}

// RecordLLMTokens 记录 LLM token 用量
func (c *Collector) RecordLLMTokens(provider string, tokens int) {
	if c == nil || tokens <= 0 {
		return
	}
	c.llmTokensTotal.WithLabelValues(provider).Add(float64(tokens))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码归并为 2xx/4xx 等类别，控制标签基数
func statusCode(code int) string {
	switch {
	case code >= 100 && code < 600:
		return strconv.Itoa(code/100) + "xx"
	default:
		return "unknown"
	}
}
