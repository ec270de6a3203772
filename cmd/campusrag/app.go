package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/campusrag/agent"
	"github.com/BaSui01/campusrag/api/handlers"
	"github.com/BaSui01/campusrag/config"
	"github.com/BaSui01/campusrag/history"
	"github.com/BaSui01/campusrag/internal/cache"
	"github.com/BaSui01/campusrag/internal/database"
	"github.com/BaSui01/campusrag/internal/metrics"
	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/llm/embedding"
	"github.com/BaSui01/campusrag/llm/providers"
	"github.com/BaSui01/campusrag/llm/providers/deepseek"
	"github.com/BaSui01/campusrag/llm/providers/openai"
	"github.com/BaSui01/campusrag/llm/providers/openaicompat"
	"github.com/BaSui01/campusrag/llm/rerank"
	"github.com/BaSui01/campusrag/llm/retry"
	"github.com/BaSui01/campusrag/llm/tokenizer"
	"github.com/BaSui01/campusrag/rag"
	"github.com/BaSui01/campusrag/types"
)

const memoryCacheEntries = 10000

// =============================================================================
// 🧩 App：按配置组装完整的 RAG 组件
// =============================================================================

// App 持有所有运行期组件，serve / index / ask 共用
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	provider   llm.Provider
	embeddings *rag.EmbeddingService
	index      rag.VectorIndex
	knowledge  *rag.KnowledgeBase
	pipeline   *rag.Pipeline

	history *history.Store
	db      *database.PoolManager
	cache   *cache.Manager

	closers []func()
}

// NewApp 组装组件。collector 为 nil 时不记录指标。
// 历史库与 Redis 不可用时降级运行，向量索引与 LLM 配置错误直接返回。
func NewApp(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, metrics: collector}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.provider, err = newLLMProvider(cfg.LLM, logger); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	a.embeddings = rag.NewEmbeddingService(rag.EmbeddingServiceConfig{
		DefaultModel: embedder.Name(),
		CacheTTL:     cfg.Embedding.CacheTTL,
	}, a.newEmbeddingCache(ctx), logger)
	a.embeddings.Register(embedder)
	a.embeddings.SetMetrics(collector)

	if a.index, err = a.newVectorIndex(ctx); err != nil {
		return nil, err
	}

	distance, err := rag.ParseDistance(cfg.VectorStore.Distance)
	if err != nil {
		return nil, err
	}
	chunker := rag.NewChunker(rag.ChunkerConfig{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
	}, logger)
	a.knowledge = rag.NewKnowledgeBase(a.index, a.embeddings, chunker, rag.KnowledgeBaseConfig{
		Collection:  cfg.VectorStore.Collection,
		VectorSize:  embedder.Dimensions(),
		Distance:    distance,
		Concurrency: cfg.RAG.Concurrency,
	}, logger)
	a.knowledge.SetMetrics(collector)

	reranker, err := newReranker(cfg.Rerank, logger)
	if err != nil {
		return nil, err
	}
	retriever := rag.NewRetriever(a.index, a.embeddings, reranker, rag.RetrieverConfig{
		TopK:         cfg.RAG.TopK,
		VectorWeight: cfg.RAG.VectorWeight,
		TextWeight:   cfg.RAG.TextWeight,
		MMRLambda:    cfg.RAG.MMRLambda,
		RRFK:         cfg.RAG.RRFK,
		Concurrency:  cfg.RAG.Concurrency,
	}, logger)
	retriever.SetMetrics(collector)

	generator := rag.NewGenerator(a.provider, tokenizer.ForModel(cfg.LLM.Model, logger), rag.GeneratorConfig{
		Model:            cfg.LLM.Model,
		MaxContextLength: cfg.RAG.MaxContextLength,
		MaxTokens:        cfg.RAG.MaxTokens,
		Temperature:      float32(cfg.RAG.Temperature),
	}, logger)
	generator.SetMetrics(collector)

	router := agent.NewRouter(agent.NewDefaultOrchestrator(a.provider, cfg.LLM.Model, logger))
	a.pipeline = rag.NewPipeline(rag.NewQueryProcessor(logger), retriever, generator, router, rag.PipelineConfig{
		TopK:            cfg.RAG.TopK,
		DefaultMethod:   rag.MethodHybrid,
		EnableReranking: cfg.RAG.EnableReranking,
		EnableDiversity: cfg.RAG.EnableDiversity,
		MultiQuery:      cfg.RAG.MultiQuery,
		UseAgents:       cfg.RAG.UseAgents,
		Concurrency:     cfg.RAG.Concurrency,
	}, logger)
	a.pipeline.SetMetrics(collector)
	a.closers = append(a.closers, a.pipeline.Close)

	if cfg.Database.Enabled {
		a.openHistory(ctx)
	}
	return a, nil
}

// Close 逆序释放资源
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// RAGHandler 构造 HTTP handler；历史库未启用时 /history 返回 503
func (a *App) RAGHandler() *handlers.RAGHandler {
	var store handlers.HistoryStore
	if a.history != nil {
		store = a.history
	}
	return handlers.NewRAGHandler(a.pipeline, a.knowledge, store, a.logger)
}

// ReadinessChecks 返回就绪探针需要执行的依赖检查
func (a *App) ReadinessChecks() []handlers.HealthCheck {
	checks := []handlers.HealthCheck{handlers.NewKnowledgeBaseCheck(a.knowledge)}
	if a.db != nil {
		checks = append(checks, handlers.NewCheck("database", a.db.Ping))
	}
	if a.cache != nil {
		checks = append(checks, handlers.NewCheck("redis", a.cache.Ping))
	}
	return checks
}

// =============================================================================
// 🔧 组件构造
// =============================================================================

func newLLMProvider(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
	base := providers.BaseProviderConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}

	var p llm.Provider
	switch strings.ToLower(cfg.Provider) {
	case "", "deepseek":
		p = deepseek.NewDeepSeekProvider(providers.DeepSeekConfig{BaseProviderConfig: base}, logger)
	case "openai":
		p = openai.NewOpenAIProvider(providers.OpenAIConfig{BaseProviderConfig: base}, logger)
	case "openai-compatible":
		// 自建的 vLLM / Ollama 等 OpenAI 兼容端点
		if cfg.BaseURL == "" {
			return nil, types.NewConfigurationError("llm.base_url is required for openai-compatible")
		}
		p = openaicompat.New(openaicompat.Config{
			ProviderName: "openai-compatible",
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}, logger)
	default:
		return nil, types.NewConfigurationError(fmt.Sprintf("unsupported llm provider %q (supported: deepseek, openai, openai-compatible)", cfg.Provider))
	}

	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	return llm.NewResilientProvider(p, policy, logger), nil
}

func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (rag.Embedder, error) {
	name := strings.ToLower(cfg.Provider)
	if name != "hybrid" {
		return newSingleEmbedder(name, cfg, logger)
	}

	if len(cfg.HybridProviders) == 0 {
		return nil, types.NewConfigurationError("hybrid embedding requires hybrid_providers")
	}
	parts := make([]rag.Embedder, 0, len(cfg.HybridProviders))
	weights := make([]float64, 0, len(cfg.HybridProviders))
	for _, p := range cfg.HybridProviders {
		e, err := newSingleEmbedder(strings.ToLower(strings.TrimSpace(p)), cfg, logger)
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
		weights = append(weights, 1)
	}
	return rag.NewHybridEmbedder(parts, weights)
}

func newSingleEmbedder(name string, cfg config.EmbeddingConfig, logger *zap.Logger) (rag.Embedder, error) {
	httpCfg := func(def embedding.HTTPConfig) embedding.HTTPConfig {
		def.APIKey = cfg.APIKey
		if cfg.BaseURL != "" {
			def.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			def.Model = cfg.Model
		}
		if cfg.Dimensions > 0 {
			def.Dimensions = cfg.Dimensions
		}
		if cfg.Timeout > 0 {
			def.Timeout = cfg.Timeout
		}
		def.RateLimitRPS = cfg.RateLimitRPS
		return def
	}

	var p embedding.Provider
	switch name {
	case "", "hash":
		p = embedding.NewHashProvider(embedding.HashConfig{Dimensions: cfg.Dimensions})
	case "openai":
		p = embedding.NewOpenAIProvider(httpCfg(embedding.DefaultOpenAIConfig()))
	case "cohere":
		p = embedding.NewCohereProvider(httpCfg(embedding.DefaultCohereConfig()))
	case "jina":
		p = embedding.NewJinaProvider(httpCfg(embedding.DefaultJinaConfig()))
	case "voyage":
		p = embedding.NewVoyageProvider(httpCfg(embedding.DefaultVoyageConfig()))
	default:
		return nil, types.NewConfigurationError(fmt.Sprintf("unsupported embedding provider %q", name))
	}
	return rag.NewProviderEmbedder(p, retry.DefaultRetryPolicy(), logger), nil
}

func newReranker(cfg config.RerankConfig, logger *zap.Logger) (rag.PairwiseReranker, error) {
	rc := rerank.Config{APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout}
	switch strings.ToLower(cfg.Provider) {
	case "none":
		return nil, nil
	case "", "lexical":
		return rag.NewLexicalReranker(), nil
	case "cohere":
		return rag.NewProviderReranker(rerank.NewCohereProvider(rc), logger), nil
	case "jina":
		return rag.NewProviderReranker(rerank.NewJinaProvider(rc), logger), nil
	case "voyage":
		return rag.NewProviderReranker(rerank.NewVoyageProvider(rc), logger), nil
	default:
		return nil, types.NewConfigurationError(fmt.Sprintf("unsupported rerank provider %q", cfg.Provider))
	}
}

// newEmbeddingCache redis 不可用时退回进程内缓存
func (a *App) newEmbeddingCache(ctx context.Context) rag.EmbeddingCache {
	switch strings.ToLower(a.cfg.Embedding.CacheBackend) {
	case "none":
		return nil
	case "redis":
		cc := cache.DefaultConfig()
		cc.Addr = a.cfg.Redis.Addr
		cc.Password = a.cfg.Redis.Password
		cc.DB = a.cfg.Redis.DB
		cc.PoolSize = a.cfg.Redis.PoolSize
		cc.MinIdleConns = a.cfg.Redis.MinIdleConns
		cc.DefaultTTL = a.cfg.Embedding.CacheTTL
		m, err := cache.NewManager(cc, a.logger)
		if err == nil {
			err = m.Ping(ctx)
			if err != nil {
				_ = m.Close()
			}
		}
		if err != nil {
			a.logger.Warn("redis unavailable, using in-process embedding cache", zap.Error(err))
			return rag.NewMemoryEmbeddingCache(memoryCacheEntries)
		}
		a.cache = m
		a.closers = append(a.closers, func() { _ = m.Close() })
		return rag.NewRedisEmbeddingCache(m, a.logger)
	default:
		return rag.NewMemoryEmbeddingCache(memoryCacheEntries)
	}
}

func (a *App) newVectorIndex(ctx context.Context) (rag.VectorIndex, error) {
	vs := a.cfg.VectorStore
	distance, err := rag.ParseDistance(vs.Distance)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(vs.Backend) {
	case "", "memory":
		return rag.NewMemoryIndex(rag.MemoryIndexConfig{Collection: vs.Collection, Distance: distance}, a.logger), nil
	case "qdrant":
		return rag.NewQdrantIndex(rag.QdrantConfig{
			BaseURL:         vs.QdrantURL,
			APIKey:          vs.QdrantAPIKey,
			Collection:      vs.Collection,
			VectorSize:      vs.VectorSize,
			Distance:        distance,
			Timeout:         vs.Timeout,
			HNSWM:           vs.HNSWM,
			HNSWEfConstruct: vs.HNSWEfConstruct,
			RetryPolicy:     retry.DefaultRetryPolicy(),
		}, a.logger), nil
	case "pgvector":
		if vs.PostgresDSN == "" {
			return nil, types.NewConfigurationError("vector_store.postgres_dsn is required for pgvector")
		}
		idx, err := rag.NewPgvectorIndex(ctx, rag.PgvectorConfig{
			DSN:       vs.PostgresDSN,
			Table:     vs.Collection,
			Dimension: vs.VectorSize,
			Distance:  distance,
			HNSWM:     vs.HNSWM,
			HNSWEf:    vs.HNSWEfConstruct,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		return idx, nil
	default:
		return nil, types.NewConfigurationError(fmt.Sprintf("unsupported vector store backend %q (supported: memory, qdrant, pgvector)", vs.Backend))
	}
}

// openHistory 历史库不可用时只记录告警，问答照常进行
func (a *App) openHistory(ctx context.Context) {
	pm, err := database.Open(a.cfg.Database, a.logger)
	if err != nil {
		a.logger.Warn("conversation history disabled", zap.Error(err))
		return
	}
	store := history.NewStore(pm.DB(), a.logger)
	if err := store.Migrate(ctx); err != nil {
		a.logger.Warn("conversation history disabled", zap.Error(errors.Join(err, pm.Close())))
		return
	}
	pm.SetMetrics(a.metrics)
	a.db = pm
	a.history = store
	a.closers = append(a.closers, func() { _ = pm.Close() })
}
