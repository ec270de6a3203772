package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/campusrag/internal/tlsutil"
	"github.com/BaSui01/campusrag/llm/retry"
	"github.com/BaSui01/campusrag/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QdrantConfig Qdrant REST 后端配置
type QdrantConfig struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key,omitempty"`
	Collection string        `json:"collection"`
	VectorSize int           `json:"vector_size"`
	Distance   Distance      `json:"distance"`
	Timeout    time.Duration `json:"timeout"`

	HNSWM             int `json:"hnsw_m"`
	HNSWEfConstruct   int `json:"hnsw_ef_construct"`
	FullScanThreshold int `json:"full_scan_threshold"`

	// RetryPolicy 只作用于检索、遍历与统计
	RetryPolicy *retry.RetryPolicy `json:"-"`
}

// QdrantIndex 基于 Qdrant REST API 的 VectorIndex。
// 点 ID 由文档 ID 经 UUIDv5 派生，原始 ID 保存在 payload.doc_id。
type QdrantIndex struct {
	cfg     QdrantConfig
	baseURL string
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger

	mu sync.RWMutex
}

// NewQdrantIndex 创建 Qdrant 索引
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	if cfg.Collection == "" {
		cfg.Collection = "ucl_knowledge"
	}
	if cfg.Distance == "" {
		cfg.Distance = DistanceCosine
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HNSWM <= 0 {
		cfg.HNSWM = 16
	}
	if cfg.HNSWEfConstruct <= 0 {
		cfg.HNSWEfConstruct = 100
	}
	if cfg.FullScanThreshold <= 0 {
		cfg.FullScanThreshold = 10000
	}
	policy := cfg.RetryPolicy
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = types.IsRetryable
	}

	logger = logger.With(zap.String("component", "qdrant_index"))
	return &QdrantIndex{
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  tlsutil.PooledHTTPClient(cfg.Timeout, 32),
		retryer: retry.NewBackoffRetryer(policy, logger),
		logger:  logger,
	}
}

// qdrantPointID 文档 ID 到点 ID 的稳定映射
func qdrantPointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String()
}

func qdrantDistance(d Distance) string {
	switch d {
	case DistanceDot:
		return "Dot"
	case DistanceEuclid:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func parseQdrantDistance(s string) Distance {
	switch strings.ToLower(s) {
	case "dot":
		return DistanceDot
	case "euclid":
		return DistanceEuclid
	default:
		return DistanceCosine
	}
}

// qdrantFilter 等值过滤转为 must 条件
func qdrantFilter(filters Filters) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filters))
	for key, value := range filters {
		field, inMeta := filterField(key)
		if inMeta {
			field = "metadata." + field
		}
		must = append(must, map[string]any{
			"key":   field,
			"match": map[string]any{"value": value},
		})
	}
	return map[string]any{"must": must}
}

func (s *QdrantIndex) collection() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Collection
}

func (s *QdrantIndex) distance() Distance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Distance
}

func (s *QdrantIndex) vectorSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.VectorSize
}

func (s *QdrantIndex) pointsPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection()) + "/points" + suffix
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

func (s *QdrantIndex) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.NewProviderUnavailableError("qdrant", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("qdrant %s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return types.NewProviderUnavailableError("qdrant", cause)
		}
		return &httpStatusError{status: resp.StatusCode, err: cause}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doRead 带退避重试的读请求
func (s *QdrantIndex) doRead(ctx context.Context, method, path string, in, out any) error {
	return s.retryer.Do(ctx, func() error {
		return s.doJSON(ctx, method, path, in, out)
	})
}

// httpStatusError 不可重试的非 2xx 响应
type httpStatusError struct {
	status int
	err    error
}

func (e *httpStatusError) Error() string { return e.err.Error() }
func (e *httpStatusError) Unwrap() error { return e.err }

// =============================================================================
// 🎯 VectorIndex 实现
// =============================================================================

// CreateCollection 创建集合并设置 HNSW 参数，集合已存在（409）视为成功
func (s *QdrantIndex) CreateCollection(ctx context.Context, name string, vectorSize int, distance Distance) error {
	if vectorSize <= 0 {
		return types.NewConfigurationError("qdrant vector size must be > 0")
	}
	if distance == "" {
		distance = DistanceCosine
	}
	s.mu.Lock()
	if name != "" {
		s.cfg.Collection = name
	}
	s.cfg.VectorSize = vectorSize
	s.cfg.Distance = distance
	s.mu.Unlock()

	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": qdrantDistance(distance),
		},
		"hnsw_config": map[string]any{
			"m":                   s.cfg.HNSWM,
			"ef_construct":        s.cfg.HNSWEfConstruct,
			"full_scan_threshold": s.cfg.FullScanThreshold,
		},
	}
	err := s.doJSON(ctx, http.MethodPut, "/collections/"+url.PathEscape(s.collection()), body, nil)
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.status == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("create qdrant collection: %w", err)
	}
	s.ensureTextIndexes(ctx)
	s.logger.Info("collection ready",
		zap.String("collection", s.collection()),
		zap.Int("vector_size", vectorSize),
		zap.String("distance", string(distance)))
	return nil
}

// textIndexFields 建立全文索引的负载字段，HybridSearch 的关键词召回依赖它们
var textIndexFields = []string{"text", "title"}

// ensureTextIndexes 为正文与标题创建全文负载索引，失败只记录告警（无索引时 match.text 按子串匹配）
func (s *QdrantIndex) ensureTextIndexes(ctx context.Context) {
	for _, field := range textIndexFields {
		body := map[string]any{
			"field_name": field,
			"field_schema": map[string]any{
				"type":          "text",
				"tokenizer":     "word",
				"lowercase":     true,
				"min_token_len": 2,
				"max_token_len": 32,
			},
		}
		path := "/collections/" + url.PathEscape(s.collection()) + "/index?wait=true"
		if err := s.doJSON(ctx, http.MethodPut, path, body, nil); err != nil {
			s.logger.Warn("failed to create full-text payload index",
				zap.String("field", field), zap.Error(err))
		}
	}
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert 写入点。写操作不重试。
func (s *QdrantIndex) Upsert(ctx context.Context, docs []IndexedDocument) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	size := s.vectorSize()
	ids := make([]string, len(docs))
	points := make([]qdrantPoint, len(docs))
	for i, d := range docs {
		if len(d.Vector) == 0 {
			return nil, types.NewInvalidRequestError(fmt.Sprintf("document[%d] has no vector", i))
		}
		if size > 0 && len(d.Vector) != size {
			return nil, types.NewInvalidRequestError(fmt.Sprintf(
				"document[%d] vector dimension mismatch: got %d, want %d", i, len(d.Vector), size))
		}
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id
		points[i] = qdrantPoint{ID: qdrantPointID(id), Vector: d.Vector, Payload: payloadFields(id, d.Payload)}
	}

	req := map[string]any{"points": points}
	if err := s.doJSON(ctx, http.MethodPut, s.pointsPath("?wait=true"), req, nil); err != nil {
		return nil, fmt.Errorf("qdrant upsert: %w", err)
	}
	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(docs)))
	return ids, nil
}

type qdrantScoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (s *QdrantIndex) toHit(id any, score float64, payload map[string]any, source RetrievalSource) SearchHit {
	docID, p := payloadFromFields(payload)
	if docID == "" {
		docID = fmt.Sprint(id)
	}
	return SearchHit{ID: docID, Score: score, Payload: p, Source: source}
}

// Search 向量检索。euclid 度量下 Qdrant 返回距离，换算为 1/(1+d)。
func (s *QdrantIndex) Search(ctx context.Context, vector []float64, opts SearchOptions) ([]SearchHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(opts.Filters); f != nil {
		req["filter"] = f
	}
	euclid := s.distance() == DistanceEuclid
	if opts.ScoreThreshold > 0 && !euclid {
		req["score_threshold"] = opts.ScoreThreshold
	}

	var resp struct {
		Result []qdrantScoredPoint `json:"result"`
	}
	if err := s.doRead(ctx, http.MethodPost, s.pointsPath("/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	hits := make([]SearchHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		score := r.Score
		if euclid {
			score = 1 / (1 + score)
			if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
				continue
			}
		}
		hits = append(hits, s.toHit(r.ID, score, r.Payload, SourceVector))
	}
	sortHits(hits)
	return hits, nil
}

// HybridSearch 向量候选 2×limit；关键词候选按查询词分别做全文匹配，每个词最多 2×limit 个点
func (s *QdrantIndex) HybridSearch(ctx context.Context, vector []float64, queryText string, opts HybridOptions) ([]SearchHit, error) {
	opts = opts.withDefaults()
	vectorHits, err := s.Search(ctx, vector, SearchOptions{Limit: opts.Limit * 2, Filters: opts.Filters})
	if err != nil {
		return nil, err
	}
	lexical, err := s.lexicalCandidates(ctx, lexicalTerms(queryText), opts.Limit*2, opts.Filters)
	if err != nil {
		return nil, err
	}

	out := combineHybrid(vectorHits, lexical, queryText, opts)
	s.logger.Debug("hybrid search completed",
		zap.Int("vector_candidates", len(vectorHits)),
		zap.Int("lexical_candidates", len(lexical)),
		zap.Int("results", len(out)))
	return out, nil
}

// lexicalCandidates 每个查询词一次 scroll（过滤条件 + 正文或标题 match.text），结果按 ID 去重
func (s *QdrantIndex) lexicalCandidates(ctx context.Context, terms []string, perTerm int, filters Filters) ([]SearchHit, error) {
	pages := make([][]IndexedDocument, len(terms))
	g, gctx := errgroup.WithContext(ctx)
	for i, term := range terms {
		g.Go(func() error {
			filter := qdrantFilter(filters)
			if filter == nil {
				filter = map[string]any{}
			}
			should := make([]map[string]any, 0, len(textIndexFields))
			for _, field := range textIndexFields {
				should = append(should, map[string]any{
					"key":   field,
					"match": map[string]any{"text": term},
				})
			}
			filter["should"] = should

			page, _, err := s.scroll(gctx, map[string]any{
				"limit":        perTerm,
				"with_payload": true,
				"with_vector":  false,
				"filter":       filter,
			})
			pages[i] = page
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []SearchHit
	for _, page := range pages {
		for _, d := range page {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			out = append(out, SearchHit{ID: d.ID, Payload: d.Payload, Source: SourceKeyword})
		}
	}
	return out, nil
}

// Delete 按文档 ID 删除
func (s *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			points = append(points, qdrantPointID(id))
		}
	}
	if len(points) == 0 {
		return nil
	}
	req := map[string]any{"points": points}
	if err := s.doJSON(ctx, http.MethodPost, s.pointsPath("/delete?wait=true"), req, nil); err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// Scroll 使用 Qdrant 原生 offset（点 ID）分页
func (s *QdrantIndex) Scroll(ctx context.Context, limit int, offset string, filters Filters) ([]IndexedDocument, string, error) {
	if limit <= 0 {
		limit = 100
	}
	req := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if offset != "" {
		req["offset"] = offset
	}
	if f := qdrantFilter(filters); f != nil {
		req["filter"] = f
	}
	return s.scroll(ctx, req)
}

func (s *QdrantIndex) scroll(ctx context.Context, req map[string]any) ([]IndexedDocument, string, error) {
	var resp struct {
		Result struct {
			Points []struct {
				ID      any            `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
			NextPageOffset any `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := s.doRead(ctx, http.MethodPost, s.pointsPath("/scroll"), req, &resp); err != nil {
		return nil, "", fmt.Errorf("qdrant scroll: %w", err)
	}

	page := make([]IndexedDocument, len(resp.Result.Points))
	for i, p := range resp.Result.Points {
		h := s.toHit(p.ID, 0, p.Payload, SourceKeyword)
		page[i] = IndexedDocument{ID: h.ID, Payload: h.Payload}
	}
	next := ""
	if resp.Result.NextPageOffset != nil {
		next = fmt.Sprint(resp.Result.NextPageOffset)
	}
	return page, next, nil
}

// Stats 读取集合信息
func (s *QdrantIndex) Stats(ctx context.Context) (CollectionStats, error) {
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	path := "/collections/" + url.PathEscape(s.collection())
	if err := s.doRead(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return CollectionStats{}, fmt.Errorf("qdrant collection info: %w", err)
	}
	return CollectionStats{
		Count:     resp.Result.PointsCount,
		Dimension: resp.Result.Config.Params.Vectors.Size,
		Distance:  parseQdrantDistance(resp.Result.Config.Params.Vectors.Distance),
	}, nil
}
