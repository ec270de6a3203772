package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegistry("campusrag", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/api/v1/rag/query", 200, 100*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/v1/rag/query", 201, 50*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/v1/rag/query", 503, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/rag/query", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/rag/query", "5xx")))
}

func TestCollector_RAGMetrics(t *testing.T) {
	c, reg := newTestCollector(t)

	c.ObserveStage("retrieve", 20*time.Millisecond)
	c.RecordQuery("standard", nil)
	c.RecordQuery("standard", errors.New("boom"))
	c.RecordEmbeddingCache(3, 1)
	c.RecordAgentSelected("academic")
	c.RecordDocumentsIndexed(4)
	c.RecordDocumentsIndexed(0)
	c.RecordLLMTokens("deepseek", 120)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ragQueriesTotal.WithLabelValues("standard", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ragQueriesTotal.WithLabelValues("standard", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.embeddingCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.embeddingCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentSelected.WithLabelValues("academic")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.documentsIndexed))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.llmTokensTotal.WithLabelValues("deepseek")))

	count, err := testutil.GatherAndCount(reg, "campusrag_rag_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_DBConnections(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordDBConnections("history", 5, 2)
	assert.Equal(t, 5.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("history")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("history")))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		c.ObserveStage("generate", time.Millisecond)
		c.RecordQuery("agent", nil)
		c.RecordEmbeddingCache(1, 1)
		c.RecordAgentSelected("general")
		c.RecordDocumentsIndexed(1)
		c.RecordLLMTokens("openai", 1)
		c.RecordDBConnections("history", 1, 1)
	})
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordQuery("hybrid", nil)
			c.RecordEmbeddingCache(1, 0)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, testutil.ToFloat64(c.ragQueriesTotal.WithLabelValues("hybrid", "success")))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.embeddingCache.WithLabelValues("hit")))
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollectorWithRegistry("dup", reg, nil)
	assert.Panics(t, func() { NewCollectorWithRegistry("dup", reg, nil) })
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 0: "unknown", 700: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code), "code %d", code)
	}
}
