package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/campusrag/agent"
	"github.com/BaSui01/campusrag/api"
	"github.com/BaSui01/campusrag/history"
	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/rag"
	"github.com/BaSui01/campusrag/types"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxBatchQueries   = 50
	maxBatchDocuments = 100
	defaultListLimit  = 20
	maxListLimit      = 100
	historyTurns      = 5
)

// QueryService 问答侧能力，由 rag.Pipeline 实现
type QueryService interface {
	ProcessQuery(ctx context.Context, req rag.QueryRequest) (*rag.Result, error)
	ProcessBatch(ctx context.Context, reqs []rag.QueryRequest) ([]*rag.Result, error)
	StreamQuery(ctx context.Context, req rag.QueryRequest) (<-chan rag.StreamEvent, error)
	Search(ctx context.Context, query string, topK int, filters rag.Filters) ([]rag.RetrievedDocument, error)
}

// KnowledgeService 知识库维护能力，由 rag.KnowledgeBase 实现
type KnowledgeService interface {
	InitCollection(ctx context.Context) error
	IndexDocument(ctx context.Context, req rag.IndexRequest) (string, error)
	IndexBatch(ctx context.Context, reqs []rag.IndexRequest) ([]string, error)
	UpdateDocument(ctx context.Context, id string, req rag.IndexRequest) (string, error)
	DeleteDocument(ctx context.Context, id string) (bool, error)
	ListDocuments(ctx context.Context, limit int, offset string, filters rag.Filters) ([]rag.IndexedDocument, string, error)
	Stats(ctx context.Context) (rag.KnowledgeBaseStats, error)
}

// HistoryStore 对话历史，由 history.Store 实现
type HistoryStore interface {
	Save(ctx context.Context, c *history.Conversation) error
	ListByUser(ctx context.Context, userID string, limit int) ([]history.Conversation, error)
	RecentMessages(ctx context.Context, userID string, turns int) ([]llm.Message, error)
}

var (
	_ QueryService     = (*rag.Pipeline)(nil)
	_ KnowledgeService = (*rag.KnowledgeBase)(nil)
	_ HistoryStore     = (*history.Store)(nil)
)

// =============================================================================
// 🎓 RAG Handler
// =============================================================================

// RAGHandler /api/v1/rag 下的全部端点
type RAGHandler struct {
	queries   QueryService
	knowledge KnowledgeService
	history   HistoryStore
	logger    *zap.Logger
}

// NewRAGHandler 创建处理器。store 为 nil 时不记录历史，/history 返回 503。
func NewRAGHandler(queries QueryService, knowledge KnowledgeService, store HistoryStore, logger *zap.Logger) *RAGHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGHandler{
		queries:   queries,
		knowledge: knowledge,
		history:   store,
		logger:    logger.With(zap.String("component", "rag_handler")),
	}
}

// Routes 返回挂载在 /api/v1/rag 下的子路由
func (h *RAGHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/query", h.HandleQuery)
	r.Post("/query/stream", h.HandleQueryStream)
	r.Post("/batch-query", h.HandleBatchQuery)
	r.Post("/search", h.HandleSearch)

	r.Post("/index", h.HandleIndex)
	r.Post("/index/batch", h.HandleIndexBatch)
	r.Get("/documents", h.HandleListDocuments)
	r.Put("/documents/{id}", h.HandleUpdateDocument)
	r.Delete("/documents/{id}", h.HandleDeleteDocument)

	r.Get("/stats", h.HandleStats)
	r.Post("/init-collection", h.HandleInitCollection)
	r.Get("/history/{userID}", h.HandleHistory)
	return r
}

// =============================================================================
// 💬 问答
// =============================================================================

// HandleQuery 处理 POST /query
// @Summary 问答
// @Tags RAG
// @Accept json
// @Produce json
// @Param request body api.QueryRequest true "问答请求"
// @Success 200 {object} Response{data=api.QueryResponse}
// @Failure 400 {object} Response "无效请求"
// @Failure 503 {object} Response "上游不可用"
// @Router /api/v1/rag/query [post]
func (h *RAGHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	res, err := h.queries.ProcessQuery(r.Context(), req)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	resp := toQueryResponse(res)
	h.record(r.Context(), req.UserID, res, resp.AgentType)
	WriteSuccess(w, resp)
}

// HandleQueryStream 处理 POST /query/stream，以 SSE 输出 retrieval / delta / done / error 事件
// @Summary 流式问答
// @Tags RAG
// @Accept json
// @Produce text/event-stream
// @Param request body api.QueryRequest true "问答请求"
// @Success 200 {string} string "SSE 流"
// @Router /api/v1/rag/query/stream [post]
func (h *RAGHandler) HandleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	events, err := h.queries.StreamQuery(r.Context(), req)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		if err := writeSSE(w, string(ev.Type), ev); err != nil {
			h.logger.Warn("failed to write stream event", zap.Error(err))
			return
		}
		flusher.Flush()

		if ev.Type == rag.StreamEventDone && ev.Answer != nil {
			h.record(r.Context(), req.UserID, &rag.Result{
				Query:  &rag.ProcessedQuery{OriginalQuery: req.Query},
				Answer: ev.Answer,
				Method: ev.Method,
			}, ev.AgentType)
		}
	}
}

// HandleBatchQuery 处理 POST /batch-query
// @Summary 批量问答
// @Tags RAG
// @Accept json
// @Produce json
// @Param request body api.BatchQueryRequest true "批量请求"
// @Success 200 {object} Response{data=api.BatchQueryResponse}
// @Router /api/v1/rag/batch-query [post]
func (h *RAGHandler) HandleBatchQuery(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body api.BatchQueryRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if len(body.Queries) == 0 {
		WriteError(w, types.NewInvalidRequestError("queries must not be empty"), h.logger)
		return
	}
	if len(body.Queries) > maxBatchQueries {
		WriteError(w, types.NewInvalidRequestError(fmt.Sprintf("at most %d queries per batch", maxBatchQueries)), h.logger)
		return
	}

	reqs := make([]rag.QueryRequest, len(body.Queries))
	for i, q := range body.Queries {
		req, err := toRAGQuery(q)
		if err != nil {
			WriteError(w, types.NewInvalidRequestError(fmt.Sprintf("query %d: %s", i, err.Message)), h.logger)
			return
		}
		reqs[i] = req
	}

	results, err := h.queries.ProcessBatch(r.Context(), reqs)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	out := api.BatchQueryResponse{Results: make([]api.QueryResponse, len(results))}
	for i, res := range results {
		out.Results[i] = toQueryResponse(res)
		h.record(r.Context(), reqs[i].UserID, res, out.Results[i].AgentType)
	}
	WriteSuccess(w, out)
}

// HandleSearch 处理 POST /search，仅检索不生成
// @Summary 语义检索
// @Tags RAG
// @Accept json
// @Produce json
// @Param request body api.SearchRequest true "检索请求"
// @Success 200 {object} Response{data=api.SearchResponse}
// @Router /api/v1/rag/search [post]
func (h *RAGHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body api.SearchRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	docs, err := h.queries.Search(r.Context(), body.Query, body.TopK, rag.Filters(body.Filters))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	out := api.SearchResponse{Results: make([]api.SearchResult, len(docs))}
	for i, d := range docs {
		out.Results[i] = api.SearchResult{
			ID:       d.ID,
			Text:     d.Text,
			Score:    d.Score,
			Source:   string(d.Source),
			Metadata: d.Metadata,
		}
	}
	WriteSuccess(w, out)
}

// =============================================================================
// 📚 知识库
// =============================================================================

// HandleIndex 处理 POST /index
// @Summary 索引文档
// @Tags 知识库
// @Accept json
// @Produce json
// @Param request body api.IndexRequest true "文档"
// @Success 200 {object} Response{data=api.IndexResponse}
// @Router /api/v1/rag/index [post]
func (h *RAGHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body api.IndexRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	id, err := h.knowledge.IndexDocument(r.Context(), body.ToIndexRequest())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.IndexResponse{DocumentIDs: []string{id}})
}

// HandleIndexBatch 处理 POST /index/batch
// @Summary 批量索引
// @Tags 知识库
// @Accept json
// @Produce json
// @Param request body api.IndexBatchRequest true "文档列表"
// @Success 200 {object} Response{data=api.IndexResponse}
// @Router /api/v1/rag/index/batch [post]
func (h *RAGHandler) HandleIndexBatch(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body api.IndexBatchRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if len(body.Documents) == 0 {
		WriteError(w, types.NewInvalidRequestError("documents must not be empty"), h.logger)
		return
	}
	if len(body.Documents) > maxBatchDocuments {
		WriteError(w, types.NewInvalidRequestError(fmt.Sprintf("at most %d documents per batch", maxBatchDocuments)), h.logger)
		return
	}

	reqs := make([]rag.IndexRequest, len(body.Documents))
	for i, d := range body.Documents {
		reqs[i] = d.ToIndexRequest()
	}
	ids, err := h.knowledge.IndexBatch(r.Context(), reqs)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.IndexResponse{DocumentIDs: ids})
}

// HandleUpdateDocument 处理 PUT /documents/{id}，删除后以同一 ID 重新索引
// @Summary 更新文档
// @Tags 知识库
// @Accept json
// @Produce json
// @Param id path string true "文档 ID"
// @Param request body api.IndexRequest true "新内容"
// @Success 200 {object} Response{data=api.IndexResponse}
// @Failure 404 {object} Response "文档不存在"
// @Router /api/v1/rag/documents/{id} [put]
func (h *RAGHandler) HandleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body api.IndexRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	newID, err := h.knowledge.UpdateDocument(r.Context(), id, body.ToIndexRequest())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.IndexResponse{DocumentIDs: []string{newID}})
}

// HandleDeleteDocument 处理 DELETE /documents/{id}。文档不存在时 deleted=false。
// @Summary 删除文档
// @Tags 知识库
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} Response{data=api.DeleteResponse}
// @Router /api/v1/rag/documents/{id} [delete]
func (h *RAGHandler) HandleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.knowledge.DeleteDocument(r.Context(), id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.DeleteResponse{DocumentID: id, Deleted: deleted})
}

// HandleListDocuments 处理 GET /documents?limit=&offset=&document_type=&source_id=
// @Summary 分页列出文档块
// @Tags 知识库
// @Produce json
// @Param limit query int false "每页数量，默认 20，最大 100"
// @Param offset query string false "上一页返回的 next_offset"
// @Success 200 {object} Response{data=api.DocumentListResponse}
// @Router /api/v1/rag/documents [get]
func (h *RAGHandler) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), defaultListLimit, maxListLimit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	var filters rag.Filters
	for _, key := range []string{"document_type", "source_id", "course_code"} {
		if v := q.Get(key); v != "" {
			if filters == nil {
				filters = rag.Filters{}
			}
			filters[key] = v
		}
	}

	docs, next, listErr := h.knowledge.ListDocuments(r.Context(), limit, q.Get("offset"), filters)
	if listErr != nil {
		WriteErr(w, listErr, h.logger)
		return
	}
	out := api.DocumentListResponse{
		Documents:  make([]api.DocumentInfo, len(docs)),
		Limit:      limit,
		NextOffset: next,
	}
	for i, d := range docs {
		out.Documents[i] = api.DocumentFromIndexed(d)
	}
	WriteSuccess(w, out)
}

// HandleStats 处理 GET /stats
// @Summary 知识库统计
// @Tags 知识库
// @Produce json
// @Success 200 {object} Response{data=rag.KnowledgeBaseStats}
// @Router /api/v1/rag/stats [get]
func (h *RAGHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.knowledge.Stats(r.Context())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, stats)
}

// HandleInitCollection 处理 POST /init-collection，集合已存在时同样成功
// @Summary 初始化集合
// @Tags 知识库
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/rag/init-collection [post]
func (h *RAGHandler) HandleInitCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.knowledge.InitCollection(r.Context()); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"status": "ready"})
}

// =============================================================================
// 🕘 历史
// =============================================================================

// HandleHistory 处理 GET /history/{userID}?limit=
// @Summary 对话历史
// @Tags 历史
// @Produce json
// @Param userID path string true "用户 ID"
// @Param limit query int false "条数，默认 20，最大 100"
// @Success 200 {object} Response{data=api.HistoryResponse}
// @Failure 503 {object} Response "未启用历史存储"
// @Router /api/v1/rag/history/{userID} [get]
func (h *RAGHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "conversation history is disabled", h.logger)
		return
	}
	userID := chi.URLParam(r, "userID")
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultListLimit, maxListLimit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	convs, listErr := h.history.ListByUser(r.Context(), userID, limit)
	if listErr != nil {
		WriteErr(w, listErr, h.logger)
		return
	}
	out := api.HistoryResponse{UserID: userID, Conversations: make([]api.ConversationInfo, 0, len(convs))}
	for _, c := range convs {
		sources, err := c.SourceList()
		if err != nil {
			h.logger.Warn("skipping conversation with corrupt sources", zap.Uint("id", c.ID), zap.Error(err))
			continue
		}
		out.Conversations = append(out.Conversations, api.ConversationInfo{
			ID:         c.ID,
			Query:      c.Query,
			Answer:     c.Answer,
			Method:     c.Method,
			AgentType:  c.AgentType,
			Confidence: c.Confidence,
			Sources:    api.SourcesFromSummaries(sources),
			CreatedAt:  c.CreatedAt,
		})
	}
	WriteSuccess(w, out)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *RAGHandler) decodeQuery(w http.ResponseWriter, r *http.Request) (rag.QueryRequest, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return rag.QueryRequest{}, false
	}
	var body api.QueryRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return rag.QueryRequest{}, false
	}
	req, apiErr := toRAGQuery(body)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return rag.QueryRequest{}, false
	}

	if body.IncludeHistory && len(req.History) == 0 && h.history != nil && req.UserID != "" {
		msgs, err := h.history.RecentMessages(r.Context(), req.UserID, historyTurns)
		if err != nil {
			h.logger.Warn("failed to load conversation history", zap.String("user_id", req.UserID), zap.Error(err))
		} else {
			req.History = msgs
		}
	}
	return req, true
}

// record 持久化一轮问答；失败只记录日志，不影响响应
func (h *RAGHandler) record(ctx context.Context, userID string, res *rag.Result, agentType string) {
	if h.history == nil || userID == "" {
		return
	}
	c, err := history.FromResult(userID, res, agentType)
	if err == nil {
		err = h.history.Save(ctx, c)
	}
	if err != nil {
		h.logger.Warn("failed to save conversation", zap.String("user_id", userID), zap.Error(err))
	}
}

func toRAGQuery(q api.QueryRequest) (rag.QueryRequest, *types.Error) {
	if strings.TrimSpace(q.Query) == "" {
		return rag.QueryRequest{}, types.NewInvalidRequestError("query is required")
	}
	if q.TopK < 0 {
		return rag.QueryRequest{}, types.NewInvalidRequestError("top_k must not be negative")
	}
	method := rag.Method(q.Method)
	if method != "" && !method.Valid() {
		return rag.QueryRequest{}, types.NewInvalidRequestError(fmt.Sprintf("unknown method %q (supported: standard, agent, hybrid)", q.Method))
	}

	historyMsgs := make([]llm.Message, 0, len(q.History))
	for _, m := range q.History {
		role := llm.Role(m.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			return rag.QueryRequest{}, types.NewInvalidRequestError(fmt.Sprintf("unsupported history role %q", m.Role))
		}
		historyMsgs = append(historyMsgs, llm.Message{Role: role, Content: m.Content})
	}

	return rag.QueryRequest{
		Query:           q.Query,
		UserID:          q.UserID,
		History:         historyMsgs,
		Profile:         q.Profile,
		TopK:            q.TopK,
		Method:          method,
		Filters:         rag.Filters(q.Filters),
		EnableReranking: q.EnableReranking,
		EnableDiversity: q.EnableDiversity,
	}, nil
}

func toQueryResponse(res *rag.Result) api.QueryResponse {
	out := api.QueryResponse{
		Method:       string(res.Method),
		Sources:      []api.SourceInfo{},
		RetrievalMS:  res.RetrievalTime.Milliseconds(),
		GenerationMS: res.GenerationTime.Milliseconds(),
		TotalMS:      res.TotalTime.Milliseconds(),
	}
	if res.Query != nil {
		out.Intent = string(res.Query.Intent)
		out.Entities = res.Query.Entities
	}
	if res.Answer != nil {
		out.Answer = res.Answer.Answer
		out.Sources = api.SourcesFromSummaries(res.Answer.Sources)
		out.Confidence = res.Answer.Confidence
		out.InsufficientContext = res.Answer.InsufficientContext
		out.TokensUsed = res.Answer.TokensUsed
	}
	if resp, ok := res.AgentResponse.(*agent.Response); ok && resp != nil {
		out.AgentType = string(resp.AgentType)
		out.NextActions = resp.NextActions
	}
	return out
}

func parseLimit(raw string, def, ceiling int) (int, *types.Error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, types.NewInvalidRequestError("limit must be a positive integer")
	}
	if n > ceiling {
		n = ceiling
	}
	return n, nil
}

// writeSSE 写出一个 SSE 事件，data 为 JSON
func writeSSE(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
