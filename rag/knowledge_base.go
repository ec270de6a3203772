package rag

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/BaSui01/campusrag/internal/metrics"
	"github.com/BaSui01/campusrag/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DocumentIDKey 写入每个分块 metadata 的文档 ID，文档 ID 即首个分块的 ID
const DocumentIDKey = "document_id"

const scrollPageSize = 256

// =============================================================================
// ⚙️ 配置与请求
// =============================================================================

// KnowledgeBaseConfig 知识库配置
type KnowledgeBaseConfig struct {
	Collection     string   `json:"collection"`
	VectorSize     int      `json:"vector_size"` // 为 0 时取嵌入模型维度
	Distance       Distance `json:"distance"`
	EmbeddingModel string   `json:"embedding_model"`
	BatchSize      int      `json:"batch_size"`  // 单次嵌入请求的文本数
	Concurrency    int      `json:"concurrency"` // IndexBatch 并发文档数
}

// DefaultKnowledgeBaseConfig 默认知识库配置
func DefaultKnowledgeBaseConfig() KnowledgeBaseConfig {
	return KnowledgeBaseConfig{
		Collection:  "ucl_knowledge",
		Distance:    DistanceCosine,
		BatchSize:   32,
		Concurrency: 4,
	}
}

// IndexRequest 待索引的文档
type IndexRequest struct {
	Text         string         `json:"text"`
	Title        string         `json:"title,omitempty"`
	Source       string         `json:"source,omitempty"`
	SourceID     string         `json:"source_id,omitempty"`
	DocumentType string         `json:"document_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// KnowledgeBaseStats 知识库统计
type KnowledgeBaseStats struct {
	TotalDocuments  int      `json:"total_documents"`
	IndexedVectors  int      `json:"indexed_vectors"`
	VectorDimension int      `json:"vector_dimension"`
	DistanceMetric  Distance `json:"distance_metric"`
}

// =============================================================================
// 📚 KnowledgeBase
// =============================================================================

// KnowledgeBase 文档写入侧：分块 → 批量嵌入 → 写入索引，以及删除、更新与统计
type KnowledgeBase struct {
	index      VectorIndex
	embeddings *EmbeddingService
	chunker    *Chunker
	cfg        KnowledgeBaseConfig
	metrics    *metrics.Collector
	tracer     trace.Tracer
	now        func() time.Time
	logger     *zap.Logger
}

// NewKnowledgeBase 创建知识库
func NewKnowledgeBase(index VectorIndex, embeddings *EmbeddingService, chunker *Chunker, cfg KnowledgeBaseConfig, logger *zap.Logger) *KnowledgeBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunker == nil {
		chunker = NewChunker(DefaultChunkerConfig(), logger)
	}
	def := DefaultKnowledgeBaseConfig()
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.Distance == "" {
		cfg.Distance = def.Distance
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &KnowledgeBase{
		index:      index,
		embeddings: embeddings,
		chunker:    chunker,
		cfg:        cfg,
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
		logger:     logger.With(zap.String("component", "knowledge_base")),
	}
}

// SetMetrics 设置指标收集器
func (kb *KnowledgeBase) SetMetrics(c *metrics.Collector) {
	kb.metrics = c
}

// InitCollection 创建集合，已存在时视为成功
func (kb *KnowledgeBase) InitCollection(ctx context.Context) error {
	size := kb.cfg.VectorSize
	if size <= 0 {
		dim, err := kb.embeddings.Dimension(kb.cfg.EmbeddingModel)
		if err != nil {
			return err
		}
		size = dim
	}
	if err := kb.index.CreateCollection(ctx, kb.cfg.Collection, size, kb.cfg.Distance); err != nil {
		return fmt.Errorf("init collection %s: %w", kb.cfg.Collection, err)
	}
	kb.logger.Info("collection ready",
		zap.String("collection", kb.cfg.Collection),
		zap.Int("vector_size", size),
		zap.String("distance", string(kb.cfg.Distance)))
	return nil
}

// IndexDocument 分块、嵌入并写入索引，返回文档 ID
func (kb *KnowledgeBase) IndexDocument(ctx context.Context, req IndexRequest) (string, error) {
	return kb.indexWithID(ctx, uuid.NewString(), req)
}

// IndexBatch 有界并发索引多个文档，返回的 ID 与输入同序。任一文档失败时中止其余文档。
func (kb *KnowledgeBase) IndexBatch(ctx context.Context, reqs []IndexRequest) ([]string, error) {
	ids := make([]string, len(reqs))
	sem := semaphore.NewWeighted(int64(kb.cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			id, err := kb.IndexDocument(gctx, req)
			if err != nil {
				return fmt.Errorf("index document %d: %w", i, err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteDocument 删除文档的全部分块，文档不存在时返回 false
func (kb *KnowledgeBase) DeleteDocument(ctx context.Context, id string) (bool, error) {
	n, err := kb.deleteWhere(ctx, Filters{DocumentIDKey: id})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteBySource 删除某个来源的全部分块，返回删除数量
func (kb *KnowledgeBase) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	if sourceID == "" {
		return 0, types.NewInvalidRequestError("source_id must not be empty")
	}
	return kb.deleteWhere(ctx, Filters{"source_id": sourceID})
}

// UpdateDocument 删除后以相同文档 ID 重新索引
func (kb *KnowledgeBase) UpdateDocument(ctx context.Context, id string, req IndexRequest) (string, error) {
	deleted, err := kb.DeleteDocument(ctx, id)
	if err != nil {
		return "", err
	}
	if !deleted {
		return "", types.NewNotFoundError(fmt.Sprintf("document %s not found", id))
	}
	return kb.indexWithID(ctx, id, req)
}

// ListDocuments 分页列出分块，next 为空表示没有下一页
func (kb *KnowledgeBase) ListDocuments(ctx context.Context, limit int, offset string, filters Filters) ([]IndexedDocument, string, error) {
	docs, next, err := kb.index.Scroll(ctx, limit, offset, filters)
	if err != nil {
		return nil, "", err
	}
	for i := range docs {
		docs[i].Vector = nil
	}
	return docs, next, nil
}

// Stats 知识库统计
func (kb *KnowledgeBase) Stats(ctx context.Context) (KnowledgeBaseStats, error) {
	s, err := kb.index.Stats(ctx)
	if err != nil {
		return KnowledgeBaseStats{}, err
	}
	return KnowledgeBaseStats{
		TotalDocuments:  s.Count,
		IndexedVectors:  s.Count,
		VectorDimension: s.Dimension,
		DistanceMetric:  s.Distance,
	}, nil
}

// =============================================================================
// 🔧 内部实现
// =============================================================================

func (kb *KnowledgeBase) indexWithID(ctx context.Context, docID string, req IndexRequest) (_ string, err error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", types.NewInvalidRequestError("document text must not be empty")
	}
	docType := req.DocumentType
	if docType == "" {
		docType = "general"
	}

	ctx, span := kb.tracer.Start(ctx, "IndexDocument", trace.WithAttributes(
		attribute.String("rag.document_type", docType),
		attribute.String("rag.source_id", req.SourceID),
	))
	defer func() { endSpan(span, err) }()
	start := time.Now()

	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta[DocumentIDKey] = docID

	chunks := kb.chunker.ProcessDocument(req.Text, docType, meta)
	if len(chunks) == 0 {
		return "", types.NewInvalidRequestError("document produced no chunks")
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := kb.embeddings.EmbedBatch(ctx, texts, kb.cfg.EmbeddingModel, kb.cfg.BatchSize)
	if err != nil {
		return "", err
	}

	now := kb.now().UTC()
	docs := make([]IndexedDocument, len(chunks))
	for i, c := range chunks {
		id := docID
		if i > 0 {
			id = uuid.NewString()
		}
		docs[i] = IndexedDocument{
			ID:     id,
			Vector: vecs[i],
			Payload: Payload{
				Text:         c.Text,
				Title:        req.Title,
				Source:       req.Source,
				SourceID:     req.SourceID,
				DocumentType: docType,
				Metadata:     c.Metadata,
				ChunkIndex:   c.ChunkIndex,
				TotalChunks:  c.TotalChunks,
				Timestamp:    now,
			},
		}
	}
	if _, err = kb.index.Upsert(ctx, docs); err != nil {
		return "", err
	}

	kb.metrics.RecordDocumentsIndexed(len(docs))
	kb.metrics.ObserveStage("index", time.Since(start))
	kb.logger.Info("document indexed",
		zap.String("document_id", docID),
		zap.String("document_type", docType),
		zap.Int("chunks", len(docs)))
	return docID, nil
}

// deleteWhere 先收集全部匹配 ID 再删除
func (kb *KnowledgeBase) deleteWhere(ctx context.Context, filters Filters) (int, error) {
	var ids []string
	offset := ""
	for {
		page, next, err := kb.index.Scroll(ctx, scrollPageSize, offset, filters)
		if err != nil {
			return 0, err
		}
		for _, d := range page {
			ids = append(ids, d.ID)
		}
		if next == "" {
			break
		}
		offset = next
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := kb.index.Delete(ctx, ids); err != nil {
		return 0, err
	}
	kb.logger.Info("documents deleted", zap.Int("chunks", len(ids)), zap.Any("filters", filters))
	return len(ids), nil
}
