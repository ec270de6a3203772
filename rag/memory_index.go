package rag

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/BaSui01/campusrag/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LexicalMode 内存索引的关键词候选策略
type LexicalMode string

const (
	// LexicalAuto 文档数不超过阈值时逐页扫描，否则走倒排表
	LexicalAuto LexicalMode = "auto"
	// LexicalInverted 始终使用倒排表
	LexicalInverted LexicalMode = "inverted"
	// LexicalPageScan 只对插入顺序前 2×limit 条文档打分
	LexicalPageScan LexicalMode = "page_scan"
)

// MemoryIndexConfig 内存索引配置
type MemoryIndexConfig struct {
	Collection string      `json:"collection"`
	Dimension  int         `json:"dimension"`
	Distance   Distance    `json:"distance"`
	Lexical    LexicalMode `json:"lexical_mode"`
	// PageScanThreshold LexicalAuto 下的切换阈值，0 表示 2×limit
	PageScanThreshold int `json:"page_scan_threshold"`
}

// MemoryIndex 暴力向量扫描 + 倒排表，适合开发、测试与小规模语料
type MemoryIndex struct {
	mu       sync.RWMutex
	cfg      MemoryIndexConfig
	docs     map[string]IndexedDocument
	order    []string
	inverted *InvertedIndex
	logger   *zap.Logger
}

// NewMemoryIndex 创建内存索引
func NewMemoryIndex(cfg MemoryIndexConfig, logger *zap.Logger) *MemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Distance == "" {
		cfg.Distance = DistanceCosine
	}
	if cfg.Lexical == "" {
		cfg.Lexical = LexicalAuto
	}
	return &MemoryIndex{
		cfg:      cfg,
		docs:     make(map[string]IndexedDocument),
		inverted: NewInvertedIndex(),
		logger:   logger.With(zap.String("component", "memory_index")),
	}
}

// CreateCollection 设置维度与度量。已有数据且维度不同时返回配置错误。
func (m *MemoryIndex) CreateCollection(_ context.Context, name string, vectorSize int, distance Distance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.docs) > 0 && m.cfg.Dimension != 0 && vectorSize != m.cfg.Dimension {
		return types.NewConfigurationError(fmt.Sprintf(
			"collection %q already holds %d-dimensional vectors, requested %d", m.cfg.Collection, m.cfg.Dimension, vectorSize))
	}
	if name != "" {
		m.cfg.Collection = name
	}
	m.cfg.Dimension = vectorSize
	if distance != "" {
		m.cfg.Distance = distance
	}
	m.logger.Info("collection ready",
		zap.String("collection", m.cfg.Collection),
		zap.Int("dimension", vectorSize),
		zap.String("distance", string(m.cfg.Distance)))
	return nil
}

// Upsert 写入文档，维度不一致时整批拒绝
func (m *MemoryIndex) Upsert(_ context.Context, docs []IndexedDocument) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.cfg.Dimension
	for i, d := range docs {
		if len(d.Vector) == 0 {
			return nil, types.NewInvalidRequestError(fmt.Sprintf("document[%d] has no vector", i))
		}
		if dim == 0 {
			dim = len(d.Vector)
		}
		if len(d.Vector) != dim {
			return nil, types.NewInvalidRequestError(fmt.Sprintf(
				"document[%d] vector dimension mismatch: got %d, want %d", i, len(d.Vector), dim))
		}
	}
	m.cfg.Dimension = dim

	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.Vector = slices.Clone(d.Vector)
		if _, exists := m.docs[d.ID]; !exists {
			m.order = append(m.order, d.ID)
		}
		m.docs[d.ID] = d
		m.inverted.Add(d.ID, d.Payload.Title+" "+d.Payload.Text)
		ids[i] = d.ID
	}

	m.logger.Debug("documents upserted", zap.Int("count", len(docs)), zap.Int("total", len(m.docs)))
	return ids, nil
}

// Search 对所有匹配过滤条件的文档计算相似度
func (m *MemoryIndex) Search(ctx context.Context, vector []float64, opts SearchOptions) ([]SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	hits := make([]SearchHit, 0, len(m.docs))
	for id, d := range m.docs {
		if !matchesFilters(d.Payload, opts.Filters) {
			continue
		}
		score := similarity(m.cfg.Distance, vector, d.Vector)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Score: score, Payload: d.Payload, Source: SourceVector})
	}
	m.mu.RUnlock()

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// HybridSearch 向量候选 2×limit，关键词候选按 LexicalMode 选取
func (m *MemoryIndex) HybridSearch(ctx context.Context, vector []float64, queryText string, opts HybridOptions) ([]SearchHit, error) {
	opts = opts.withDefaults()
	vectorHits, err := m.Search(ctx, vector, SearchOptions{Limit: opts.Limit * 2, Filters: opts.Filters})
	if err != nil {
		return nil, err
	}

	lexical := m.lexicalCandidates(queryText, opts.Limit*2, opts.Filters)
	out := combineHybrid(vectorHits, lexical, queryText, opts)

	m.logger.Debug("hybrid search completed",
		zap.Int("vector_candidates", len(vectorHits)),
		zap.Int("lexical_candidates", len(lexical)),
		zap.Int("results", len(out)))
	return out, nil
}

// lexicalCandidates 返回待关键词打分的文档
func (m *MemoryIndex) lexicalCandidates(queryText string, pageSize int, filters Filters) []SearchHit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mode := m.cfg.Lexical
	if mode == LexicalAuto {
		threshold := m.cfg.PageScanThreshold
		if threshold <= 0 {
			threshold = pageSize
		}
		mode = LexicalInverted
		if len(m.docs) <= threshold {
			mode = LexicalPageScan
		}
	}

	var ids []string
	if mode == LexicalPageScan {
		ids = m.order[:min(pageSize, len(m.order))]
	} else {
		ids = m.inverted.Candidates(queryText)
	}

	out := make([]SearchHit, 0, len(ids))
	for _, id := range ids {
		d, ok := m.docs[id]
		if !ok || !matchesFilters(d.Payload, filters) {
			continue
		}
		out = append(out, SearchHit{ID: id, Payload: d.Payload, Source: SourceKeyword})
	}
	return out
}

// Delete 删除文档
func (m *MemoryIndex) Delete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := m.docs[id]; !ok {
			continue
		}
		delete(m.docs, id)
		m.inverted.Remove(id)
		removed[id] = struct{}{}
	}
	if len(removed) > 0 {
		m.order = slices.DeleteFunc(m.order, func(id string) bool {
			_, ok := removed[id]
			return ok
		})
	}
	return nil
}

// Scroll 按 ID 升序的 keyset 分页，offset 为上一页最后一个 ID
func (m *MemoryIndex) Scroll(_ context.Context, limit int, offset string, filters Filters) ([]IndexedDocument, string, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.docs))
	for id, d := range m.docs {
		if id > offset && matchesFilters(d.Payload, filters) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	next := ""
	if len(ids) > limit {
		ids = ids[:limit]
		next = ids[limit-1]
	}
	page := make([]IndexedDocument, len(ids))
	for i, id := range ids {
		page[i] = m.docs[id]
	}
	return page, next, nil
}

// Stats 集合统计
func (m *MemoryIndex) Stats(_ context.Context) (CollectionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return CollectionStats{
		Count:     len(m.docs),
		Dimension: m.cfg.Dimension,
		Distance:  m.cfg.Distance,
	}, nil
}
