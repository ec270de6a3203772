package api

import (
	"time"

	"github.com/BaSui01/campusrag/rag"
)

// =============================================================================
// 查询类型
// =============================================================================

// Message 对话历史中的一条消息
type Message struct {
	// 角色：user / assistant
	Role string `json:"role" example:"user"`
	// 内容
	Content string `json:"content" example:"What is COMP0066 about?"`
}

// QueryRequest 问答请求。
// @Description RAG 问答请求结构
type QueryRequest struct {
	// 问题
	Query string `json:"query" example:"COMP0066 deadline next week" binding:"required"`
	// 用户 ID
	UserID string `json:"user_id,omitempty" example:"student-42"`
	// 对话历史
	History []Message `json:"history,omitempty"`
	// 从历史存储加载最近的对话
	IncludeHistory bool `json:"include_history,omitempty"`
	// 用户画像
	Profile map[string]any `json:"profile,omitempty"`
	// 返回文档数，默认 5
	TopK int `json:"top_k,omitempty" example:"5"`
	// 生成方式：standard / agent / hybrid
	Method string `json:"method,omitempty" example:"hybrid"`
	// 元数据过滤
	Filters map[string]any `json:"filters,omitempty"`
	// 覆盖默认的重排序开关
	EnableReranking *bool `json:"enable_reranking,omitempty"`
	// 覆盖默认的 MMR 开关
	EnableDiversity *bool `json:"enable_diversity,omitempty"`
}

// BatchQueryRequest 批量问答请求
type BatchQueryRequest struct {
	Queries []QueryRequest `json:"queries" binding:"required"`
}

// SourceInfo 答案引用的来源
type SourceInfo struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryResponse 问答响应。
// @Description RAG 问答响应结构
type QueryResponse struct {
	// 答案
	Answer string `json:"answer"`
	// 引用来源
	Sources []SourceInfo `json:"sources"`
	// 置信度 [0,1]
	Confidence float64 `json:"confidence"`
	// 上下文不足以回答
	InsufficientContext bool `json:"insufficient_context"`
	// 实际使用的生成方式
	Method string `json:"method"`
	// 处理该请求的 Agent
	AgentType string `json:"agent_type,omitempty"`
	// 建议的后续动作
	NextActions []string `json:"next_actions,omitempty"`
	// 识别出的意图
	Intent string `json:"intent"`
	// 抽取出的实体
	Entities map[string][]string `json:"entities,omitempty"`
	// 消耗的 Token 数
	TokensUsed int `json:"tokens_used"`
	// 检索耗时（毫秒）
	RetrievalMS int64 `json:"retrieval_ms"`
	// 生成耗时（毫秒）
	GenerationMS int64 `json:"generation_ms"`
	// 总耗时（毫秒）
	TotalMS int64 `json:"total_ms"`
}

// BatchQueryResponse 批量问答响应，顺序与请求一致
type BatchQueryResponse struct {
	Results []QueryResponse `json:"results"`
}

// =============================================================================
// 知识库类型
// =============================================================================

// IndexRequest 索引单个文档
type IndexRequest struct {
	// 文本内容
	Text string `json:"text" binding:"required"`
	// 标题
	Title string `json:"title,omitempty" example:"COMP0066 Handbook"`
	// 来源
	Source string `json:"source,omitempty" example:"moodle"`
	// 来源侧 ID
	SourceID string `json:"source_id,omitempty"`
	// 文档类型
	DocumentType string `json:"document_type,omitempty" example:"course"`
	// 元数据
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IndexBatchRequest 批量索引
type IndexBatchRequest struct {
	Documents []IndexRequest `json:"documents" binding:"required"`
}

// IndexResponse 索引结果
type IndexResponse struct {
	DocumentIDs []string `json:"document_ids"`
}

// DeleteResponse 删除结果
type DeleteResponse struct {
	DocumentID string `json:"document_id"`
	Deleted    bool   `json:"deleted"`
}

// DocumentInfo 已索引的文档块
type DocumentInfo struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	Title        string         `json:"title,omitempty"`
	Source       string         `json:"source,omitempty"`
	SourceID     string         `json:"source_id,omitempty"`
	DocumentType string         `json:"document_type,omitempty"`
	ChunkIndex   int            `json:"chunk_index"`
	TotalChunks  int            `json:"total_chunks"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// DocumentListResponse 分页列出文档块，next_offset 为空表示没有下一页
type DocumentListResponse struct {
	Documents  []DocumentInfo `json:"documents"`
	Limit      int            `json:"limit"`
	NextOffset string         `json:"next_offset,omitempty"`
}

// SearchRequest 纯检索请求
type SearchRequest struct {
	Query   string         `json:"query" binding:"required"`
	TopK    int            `json:"top_k,omitempty" example:"10"`
	Filters map[string]any `json:"filters,omitempty"`
}

// SearchResult 检索命中
type SearchResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResponse 检索结果
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// =============================================================================
// 历史记录类型
// =============================================================================

// ConversationInfo 一轮问答记录
type ConversationInfo struct {
	ID         uint         `json:"id"`
	Query      string       `json:"query"`
	Answer     string       `json:"answer"`
	Method     string       `json:"method"`
	AgentType  string       `json:"agent_type,omitempty"`
	Confidence float64      `json:"confidence"`
	Sources    []SourceInfo `json:"sources"`
	CreatedAt  time.Time    `json:"created_at"`
}

// HistoryResponse 用户历史
type HistoryResponse struct {
	UserID        string             `json:"user_id"`
	Conversations []ConversationInfo `json:"conversations"`
}

// =============================================================================
// 转换
// =============================================================================

// ToIndexRequest 转为 rag.IndexRequest
func (r IndexRequest) ToIndexRequest() rag.IndexRequest {
	return rag.IndexRequest{
		Text:         r.Text,
		Title:        r.Title,
		Source:       r.Source,
		SourceID:     r.SourceID,
		DocumentType: r.DocumentType,
		Metadata:     r.Metadata,
	}
}

// SourcesFromSummaries 转换答案来源
func SourcesFromSummaries(in []rag.SourceSummary) []SourceInfo {
	out := make([]SourceInfo, len(in))
	for i, s := range in {
		out[i] = SourceInfo{ID: s.ID, Text: s.Text, Score: s.Score, Metadata: s.Metadata}
	}
	return out
}

// DocumentFromIndexed 转换已索引文档块
func DocumentFromIndexed(d rag.IndexedDocument) DocumentInfo {
	return DocumentInfo{
		ID:           d.ID,
		Text:         d.Payload.Text,
		Title:        d.Payload.Title,
		Source:       d.Payload.Source,
		SourceID:     d.Payload.SourceID,
		DocumentType: d.Payload.DocumentType,
		ChunkIndex:   d.Payload.ChunkIndex,
		TotalChunks:  d.Payload.TotalChunks,
		Metadata:     d.Payload.Metadata,
		Timestamp:    d.Payload.Timestamp,
	}
}
