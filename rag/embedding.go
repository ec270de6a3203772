package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/campusrag/internal/metrics"
	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/llm/embedding"
	"github.com/BaSui01/campusrag/llm/retry"
	"github.com/BaSui01/campusrag/types"
	"go.uber.org/zap"
)

// Embedder 向量化能力集合：单条、批量、固定维度
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
	Name() string
}

// =============================================================================
// 🔌 Provider 适配
// =============================================================================

// ProviderEmbedder 将 embedding.Provider 适配为 Embedder，并对可重试错误做指数退避
type ProviderEmbedder struct {
	provider embedding.Provider
	retryer  retry.Retryer
}

// NewProviderEmbedder 创建适配器。policy 为 nil 时使用 retry.DefaultRetryPolicy。
func NewProviderEmbedder(provider embedding.Provider, policy *retry.RetryPolicy, logger *zap.Logger) *ProviderEmbedder {
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = llm.IsRetryableError
	}
	return &ProviderEmbedder{
		provider: provider,
		retryer:  retry.NewBackoffRetryer(policy, logger),
	}
}

func (e *ProviderEmbedder) Name() string    { return e.provider.Name() }
func (e *ProviderEmbedder) Dimensions() int { return e.provider.Dimensions() }

// EmbedQuery 嵌入查询文本
func (e *ProviderEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return retry.DoWithResultTyped(e.retryer, ctx, func() ([]float64, error) {
		return e.provider.EmbedQuery(ctx, text)
	})
}

// EmbedDocuments 批量嵌入文档文本
func (e *ProviderEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	return retry.DoWithResultTyped(e.retryer, ctx, func() ([][]float64, error) {
		return e.provider.EmbedDocuments(ctx, texts)
	})
}

// =============================================================================
// 🧬 HybridEmbedder
// =============================================================================

// HybridEmbedder 按权重缩放各 Embedder 的输出后拼接，维度为各维度之和
type HybridEmbedder struct {
	parts   []Embedder
	weights []float64
	name    string
}

// NewHybridEmbedder 创建组合 Embedder。weights 为空时每个成员权重为 1/n。
func NewHybridEmbedder(parts []Embedder, weights []float64) (*HybridEmbedder, error) {
	if len(parts) == 0 {
		return nil, types.NewConfigurationError("hybrid embedder requires at least one embedder")
	}
	if len(weights) == 0 {
		weights = make([]float64, len(parts))
		for i := range weights {
			weights[i] = 1.0 / float64(len(parts))
		}
	}
	if len(weights) != len(parts) {
		return nil, types.NewConfigurationError(
			fmt.Sprintf("hybrid embedder has %d embedders but %d weights", len(parts), len(weights)))
	}

	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.Name()
	}
	return &HybridEmbedder{
		parts:   parts,
		weights: append([]float64(nil), weights...),
		name:    "hybrid(" + strings.Join(names, "+") + ")",
	}, nil
}

func (h *HybridEmbedder) Name() string { return h.name }

// Dimensions 返回各成员维度之和
func (h *HybridEmbedder) Dimensions() int {
	total := 0
	for _, p := range h.parts {
		total += p.Dimensions()
	}
	return total
}

// EmbedQuery 拼接各成员的查询向量
func (h *HybridEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	out := make([]float64, 0, h.Dimensions())
	for i, p := range h.parts {
		vec, err := p.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("hybrid member %s: %w", p.Name(), err)
		}
		out = appendScaled(out, vec, h.weights[i])
	}
	return out, nil
}

// EmbedDocuments 对每个成员批量调用一次，再按下标拼接
func (h *HybridEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = make([]float64, 0, h.Dimensions())
	}
	for i, p := range h.parts {
		vecs, err := p.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("hybrid member %s: %w", p.Name(), err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("hybrid member %s returned %d vectors for %d texts", p.Name(), len(vecs), len(texts))
		}
		for j, v := range vecs {
			out[j] = appendScaled(out[j], v, h.weights[i])
		}
	}
	return out, nil
}

func appendScaled(dst, vec []float64, w float64) []float64 {
	for _, x := range vec {
		dst = append(dst, x*w)
	}
	return dst
}

// =============================================================================
// 🎯 EmbeddingService
// =============================================================================

// EmbeddingServiceConfig 向量化服务配置
type EmbeddingServiceConfig struct {
	DefaultModel string        `json:"default_model"`
	CacheTTL     time.Duration `json:"cache_ttl"`
	BatchSize    int           `json:"batch_size"`
}

// DefaultEmbeddingServiceConfig 默认配置
func DefaultEmbeddingServiceConfig() EmbeddingServiceConfig {
	return EmbeddingServiceConfig{
		CacheTTL:  24 * time.Hour,
		BatchSize: 32,
	}
}

// EmbeddingService 按名称管理 Embedder，并在调用前查询缓存。
// 未知名称返回配置错误；Provider 失败直接上抛，不切换模型，保证同一索引维度一致。
type EmbeddingService struct {
	mu          sync.RWMutex
	embedders   map[string]Embedder
	defaultName string

	cache     EmbeddingCache
	ttl       time.Duration
	batchSize int
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewEmbeddingService 创建向量化服务，cache 为 nil 时不缓存
func NewEmbeddingService(cfg EmbeddingServiceConfig, cache EmbeddingCache, logger *zap.Logger) *EmbeddingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &EmbeddingService{
		embedders:   make(map[string]Embedder),
		defaultName: cfg.DefaultModel,
		cache:       cache,
		ttl:         cfg.CacheTTL,
		batchSize:   cfg.BatchSize,
		logger:      logger.With(zap.String("component", "embedding_service")),
	}
}

// SetMetrics 设置指标收集器
func (s *EmbeddingService) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

// Register 注册 Embedder。第一个注册的 Embedder 在未配置默认名称时成为默认。
func (s *EmbeddingService) Register(e Embedder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedders[e.Name()] = e
	if s.defaultName == "" {
		s.defaultName = e.Name()
	}
}

// Available 返回已注册名称（升序）
func (s *EmbeddingService) Available() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.embedders))
	for name := range s.embedders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultModel 返回默认 Embedder 名称
func (s *EmbeddingService) DefaultModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultName
}

// Embedder 按名称查找，model 为空时使用默认
func (s *EmbeddingService) Embedder(model string) (Embedder, error) {
	s.mu.RLock()
	if model == "" {
		model = s.defaultName
	}
	e, ok := s.embedders[model]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewConfigurationError(
			fmt.Sprintf("embedder %q not available, available: %v", model, s.Available()))
	}
	return e, nil
}

// Dimension 返回指定 Embedder 的维度
func (s *EmbeddingService) Dimension(model string) (int, error) {
	e, err := s.Embedder(model)
	if err != nil {
		return 0, err
	}
	return e.Dimensions(), nil
}

// EmbedText 嵌入单条文本，命中缓存时不调用 Provider
func (s *EmbeddingService) EmbedText(ctx context.Context, text, model string) ([]float64, error) {
	e, err := s.Embedder(model)
	if err != nil {
		return nil, err
	}

	key := EmbeddingCacheKey(e.Name(), text)
	if s.cache != nil {
		if vec, ok := s.cache.Get(ctx, key); ok {
			s.metrics.RecordEmbeddingCache(1, 0)
			return vec, nil
		}
	}

	vec, err := e.EmbedQuery(ctx, text)
	if err != nil {
		return nil, s.providerError(ctx, e.Name(), err)
	}
	s.metrics.RecordEmbeddingCache(0, 1)

	if s.cache != nil {
		s.cache.Set(ctx, key, vec, s.ttl)
	}
	return vec, nil
}

// EmbedBatch 批量嵌入，结果与输入按下标对齐。只有缓存未命中的文本会发往 Provider。
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string, model string, batchSize int) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	e, err := s.Embedder(model)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	out := make([][]float64, len(texts))
	// 相同文本只请求一次
	pending := make(map[string][]int)
	var missing []string
	for i, text := range texts {
		if s.cache != nil {
			if vec, ok := s.cache.Get(ctx, EmbeddingCacheKey(e.Name(), text)); ok {
				out[i] = vec
				continue
			}
		}
		if _, seen := pending[text]; !seen {
			missing = append(missing, text)
		}
		pending[text] = append(pending[text], i)
	}

	hits := len(texts)
	for _, idx := range pending {
		hits -= len(idx)
	}
	s.metrics.RecordEmbeddingCache(hits, len(missing))

	for start := 0; start < len(missing); start += batchSize {
		end := min(start+batchSize, len(missing))
		batch := missing[start:end]

		vecs, err := e.EmbedDocuments(ctx, batch)
		if err != nil {
			return nil, s.providerError(ctx, e.Name(), err)
		}
		if len(vecs) != len(batch) {
			return nil, types.NewProviderUnavailableError(e.Name(),
				fmt.Errorf("got %d vectors for %d texts", len(vecs), len(batch)))
		}
		for j, text := range batch {
			for _, idx := range pending[text] {
				out[idx] = vecs[j]
			}
			if s.cache != nil {
				s.cache.Set(ctx, EmbeddingCacheKey(e.Name(), text), vecs[j], s.ttl)
			}
		}
	}

	s.logger.Debug("batch embedding completed",
		zap.String("model", e.Name()),
		zap.Int("texts", len(texts)),
		zap.Int("cache_hits", hits),
		zap.Int("provider_texts", len(missing)))
	return out, nil
}

// providerError 取消时原样返回 ctx 错误，其余包装为 ProviderUnavailable
func (s *EmbeddingService) providerError(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.logger.Warn("embedding provider failed", zap.String("model", name), zap.Error(err))
	return types.NewProviderUnavailableError(name, err)
}
