package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/campusrag/agent"
	"github.com/BaSui01/campusrag/api"
	"github.com/BaSui01/campusrag/api/handlers"
	"github.com/BaSui01/campusrag/config"
	"github.com/BaSui01/campusrag/internal/metrics"
	"github.com/BaSui01/campusrag/rag"
)

func init() {
	color.NoColor = true
}

// testConfig 内存索引 + hash 嵌入，无需任何外部服务
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = 64
	cfg.VectorStore.Backend = "memory"
	cfg.VectorStore.VectorSize = 64
	cfg.Database.Enabled = false
	cfg.Server.RateLimitRPS = 0
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := NewApp(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)
	require.NoError(t, app.knowledge.InitCollection(context.Background()))
	return app
}

// =============================================================================
// 🧪 App 组装
// =============================================================================

func TestNewApp_Defaults(t *testing.T) {
	app := newTestApp(t, testConfig())

	assert.NotNil(t, app.pipeline)
	assert.Nil(t, app.history)
	assert.Nil(t, app.cache)
	assert.Equal(t, "deepseek", app.provider.Name())

	stats, err := app.knowledge.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, stats.VectorDimension)
	assert.Len(t, app.ReadinessChecks(), 1)
}

func TestNewApp_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"llm provider", func(c *config.Config) { c.LLM.Provider = "claude" }, "unsupported llm provider"},
		{"compatible without base url", func(c *config.Config) { c.LLM.Provider = "openai-compatible"; c.LLM.BaseURL = "" }, "base_url"},
		{"embedding provider", func(c *config.Config) { c.Embedding.Provider = "word2vec" }, "unsupported embedding provider"},
		{"hybrid without parts", func(c *config.Config) { c.Embedding.Provider = "hybrid" }, "hybrid_providers"},
		{"vector backend", func(c *config.Config) { c.VectorStore.Backend = "milvus" }, "unsupported vector store backend"},
		{"pgvector without dsn", func(c *config.Config) { c.VectorStore.Backend = "pgvector" }, "postgres_dsn"},
		{"distance", func(c *config.Config) { c.VectorStore.Distance = "manhattan" }, "manhattan"},
		{"rerank provider", func(c *config.Config) { c.Rerank.Provider = "bm25" }, "unsupported rerank provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := NewApp(context.Background(), cfg, nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewApp_OpenAICompatible(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Provider = "openai-compatible"
	cfg.LLM.BaseURL = "http://localhost:11434"
	cfg.LLM.Model = "llama3.1"
	app := newTestApp(t, cfg)
	assert.Equal(t, "openai-compatible", app.provider.Name())
}

func TestNewApp_HybridEmbedding(t *testing.T) {
	cfg := testConfig()
	cfg.Embedding.Provider = "hybrid"
	cfg.Embedding.HybridProviders = []string{"hash", "hash"}
	app := newTestApp(t, cfg)

	stats, err := app.knowledge.Stats(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.VectorDimension)
}

func TestNewApp_RedisUnavailableFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Embedding.CacheBackend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"
	app := newTestApp(t, cfg)
	assert.Nil(t, app.cache)
}

func TestNewApp_History(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Enabled = true
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = ":memory:"
	app := newTestApp(t, cfg)

	require.NotNil(t, app.history)
	assert.Len(t, app.ReadinessChecks(), 2)
}

// =============================================================================
// 🧪 Server 路由
// =============================================================================

func newTestRouter(t *testing.T, app *App, cfg *config.Config) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	collector := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry(), nil)
	return NewServer(cfg, app, collector, zap.NewNop()).Router(ctx)
}

func serve(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestServer_HealthEndpoints(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, newTestApp(t, cfg), cfg)

	for _, path := range []string{"/health", "/healthz", "/ready", "/version"} {
		w := serve(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get(handlers.RequestIDHeader), path)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"), path)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, newTestApp(t, cfg), cfg)

	w := serve(t, router, http.MethodGet, "/api/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp handlers.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
}

func TestServer_IndexAndSearch(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, newTestApp(t, cfg), cfg)

	for _, req := range []api.IndexRequest{
		{Text: "COMP0066 coursework 1 deadline is Friday at 4pm.", DocumentType: "course", Metadata: map[string]any{"course_code": "COMP0066"}},
		{Text: "The Main Library opens at 8am on weekdays.", DocumentType: "facility"},
	} {
		w := serve(t, router, http.MethodPost, "/api/v1/rag/index", req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := serve(t, router, http.MethodPost, "/api/v1/rag/search", api.SearchRequest{
		Query:   "coursework deadline",
		Filters: map[string]any{"course_code": "COMP0066"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env struct {
		Data api.SearchResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.Len(t, env.Data.Results, 1)
	assert.Contains(t, env.Data.Results[0].Text, "COMP0066")

	w = serve(t, router, http.MethodGet, "/api/v1/rag/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// 🧪 命令行
// =============================================================================

func TestIndexPath(t *testing.T) {
	app := newTestApp(t, testConfig())
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "library.txt"), []byte("The Main Library opens at 8am."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sports.txt"), []byte("Bloomsbury Fitness is open until 10pm."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), []byte("   "), 0o600))

	var out bytes.Buffer
	require.NoError(t, indexPath(ctx, app, dir, "facility", false, &out))
	assert.Contains(t, out.String(), "Indexed 2 documents from 2 files")

	docs, _, err := app.knowledge.ListDocuments(ctx, 10, "", rag.Filters{"document_type": "facility"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	// 重新索引同一文件时替换旧分块
	out.Reset()
	require.NoError(t, indexPath(ctx, app, filepath.Join(dir, "library.txt"), "facility", true, &out))
	assert.Contains(t, out.String(), "Indexed 1 documents from 1 files")
	stats, err := app.knowledge.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDocuments)

	assert.Error(t, indexPath(ctx, app, filepath.Join(dir, "missing"), "", false, &out))
}

func TestAsk_NoDocuments(t *testing.T) {
	app := newTestApp(t, testConfig())
	ctx := context.Background()
	req := rag.QueryRequest{Query: "Where is the careers office?", UserID: "cli", Method: rag.MethodStandard}

	res, err := app.pipeline.ProcessQuery(ctx, req)
	require.NoError(t, err)
	var out bytes.Buffer
	printResult(&out, res)
	assert.Contains(t, out.String(), "Answer (standard)")
	assert.Contains(t, out.String(), "did not contain enough information")

	out.Reset()
	require.NoError(t, streamAnswer(ctx, app.pipeline, req, &out))
	assert.Contains(t, out.String(), "did not contain enough information")
}

func TestPrintResult_Agent(t *testing.T) {
	res := &rag.Result{
		Method: rag.MethodAgent,
		Answer: &rag.GeneratedAnswer{
			Answer:     "Coursework 1 is due on Friday [Source 1].",
			Confidence: 0.8,
			Sources: []rag.SourceSummary{
				{ID: "doc-1", Score: 0.91, Metadata: map[string]any{"title": "COMP0066 Handbook"}},
				{ID: "doc-2", Score: 0.42},
			},
		},
		AgentResponse: &agent.Response{AgentType: "academic", NextActions: []string{"view_assignments"}},
		TotalTime:     1500 * time.Millisecond,
	}

	var out bytes.Buffer
	printResult(&out, res)
	s := out.String()
	assert.Contains(t, s, "Answer (agent, academic agent)")
	assert.Contains(t, s, "[1] COMP0066 Handbook (score 0.910)")
	assert.Contains(t, s, "[2] doc-2 (score 0.420)")
	assert.Contains(t, s, "Next: view_assignments")
	assert.NotContains(t, s, "did not contain enough information")
}

func TestMigrateHistory(t *testing.T) {
	ctx := context.Background()
	cfg := config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "history.db")}

	var out bytes.Buffer
	require.NoError(t, migrateHistory(ctx, cfg, true, zap.NewNop(), &out))
	assert.Contains(t, out.String(), "conversation table missing")

	out.Reset()
	require.NoError(t, migrateHistory(ctx, cfg, false, zap.NewNop(), &out))
	assert.Contains(t, out.String(), "Migrated")

	out.Reset()
	require.NoError(t, migrateHistory(ctx, cfg, true, zap.NewNop(), &out))
	assert.Contains(t, out.String(), "conversation table present")
}

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger := initLogger(config.LogConfig{Level: "debug", Format: format, OutputPaths: []string{"stderr"}})
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}

	logger := initLogger(config.LogConfig{Level: "nonsense"})
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}
