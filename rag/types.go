package rag

import (
	"context"
	"time"

	"github.com/BaSui01/campusrag/llm"
)

// =============================================================================
// 📦 数据模型
// =============================================================================

// DocumentChunk 分块结果，CharStart/CharEnd 为源文本中的 rune 偏移
type DocumentChunk struct {
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata"`
	ChunkIndex  int            `json:"chunk_index"`
	TotalChunks int            `json:"total_chunks"`
	CharStart   int            `json:"char_start"`
	CharEnd     int            `json:"char_end"`
}

// Payload 索引记录的负载
type Payload struct {
	Text         string         `json:"text"`
	Title        string         `json:"title,omitempty"`
	Source       string         `json:"source,omitempty"`
	SourceID     string         `json:"source_id,omitempty"`
	DocumentType string         `json:"document_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ChunkIndex   int            `json:"chunk_index"`
	TotalChunks  int            `json:"total_chunks"`
	Timestamp    time.Time      `json:"timestamp"`
}

// IndexedDocument 向量索引中的一条记录
type IndexedDocument struct {
	ID      string    `json:"id"`
	Vector  []float64 `json:"vector,omitempty"`
	Payload Payload   `json:"payload"`
}

// RetrievalSource 检索来源标签
type RetrievalSource string

const (
	SourceVector  RetrievalSource = "vector"
	SourceKeyword RetrievalSource = "keyword"
	SourceHybrid  RetrievalSource = "hybrid"
)

// SearchHit 索引返回的单条命中，分数只在同一次调用内可比
type SearchHit struct {
	ID      string          `json:"id"`
	Score   float64         `json:"score"`
	Payload Payload         `json:"payload"`
	Source  RetrievalSource `json:"source"`
}

// RetrievedDocument 检索结果。Score 在重排阶段会被改写。
type RetrievedDocument struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Score    float64         `json:"score"`
	Metadata map[string]any  `json:"metadata"`
	Source   RetrievalSource `json:"source"`
}

// Filters 合取等值过滤条件。
// 键可以是负载字段（document_type / source / source_id / title）、
// "metadata.x" 形式，或直接写 metadata 中的键。
type Filters map[string]any

// Merge 返回 f 与 other 的合并结果，other 中的键覆盖 f
func (f Filters) Merge(other Filters) Filters {
	if len(f) == 0 && len(other) == 0 {
		return nil
	}
	out := make(Filters, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// =============================================================================
// 🔍 查询理解
// =============================================================================

// QueryIntent 查询意图，按枚举顺序匹配
type QueryIntent string

const (
	IntentFactual        QueryIntent = "factual"
	IntentProcedural     QueryIntent = "procedural"
	IntentNavigational   QueryIntent = "navigational"
	IntentTemporal       QueryIntent = "temporal"
	IntentComparison     QueryIntent = "comparison"
	IntentRecommendation QueryIntent = "recommendation"
	IntentGeneral        QueryIntent = "general"
)

// TemporalGranularity 时间粒度
type TemporalGranularity string

const (
	GranularityDay   TemporalGranularity = "day"
	GranularityWeek  TemporalGranularity = "week"
	GranularityMonth TemporalGranularity = "month"
)

// TemporalContext 时间上下文。日粒度会解析为绝对日期，周/月粒度只保留相对偏移。
type TemporalContext struct {
	Granularity TemporalGranularity `json:"granularity"`
	Keyword     string              `json:"keyword"`
	Offset      int                 `json:"offset"`
	Date        string              `json:"date,omitempty"` // YYYY-MM-DD，仅日粒度
}

// 实体分类
const (
	EntityCourses    = "courses"
	EntityLocations  = "locations"
	EntityPeople     = "people"
	EntityDates      = "dates"
	EntityActivities = "activities"
)

// ProcessedQuery 查询处理结果，按请求生成，不持久化
type ProcessedQuery struct {
	OriginalQuery   string              `json:"original_query"`
	CleanedQuery    string              `json:"cleaned_query"`
	Intent          QueryIntent         `json:"intent"`
	Entities        map[string][]string `json:"entities"`
	TemporalContext *TemporalContext    `json:"temporal_context,omitempty"`
	ExpandedQueries []string            `json:"expanded_queries"`
	Keywords        []string            `json:"keywords"`
	Filters         Filters             `json:"filters,omitempty"`
}

// =============================================================================
// 📝 生成结果
// =============================================================================

// SourceSummary 答案引用的来源摘要
type SourceSummary struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// GeneratedAnswer 生成的答案。
// Sources 非空，或 InsufficientContext 为 true，二者至少其一成立。
type GeneratedAnswer struct {
	Answer              string          `json:"answer"`
	Sources             []SourceSummary `json:"sources"`
	Confidence          float64         `json:"confidence"`
	ContextUsed         []string        `json:"context_used"`
	TokensUsed          int             `json:"tokens_used"`
	InsufficientContext bool            `json:"insufficient_context"`
	Citations           CitationReport  `json:"citations"`
}

// Method 生成方式
type Method string

const (
	MethodStandard Method = "standard"
	MethodAgent    Method = "agent"
	MethodHybrid   Method = "hybrid"
)

// Valid 判断是否为已知方式
func (m Method) Valid() bool {
	switch m {
	case MethodStandard, MethodAgent, MethodHybrid:
		return true
	}
	return false
}

// Result 一次查询的完整结果
type Result struct {
	Query          *ProcessedQuery     `json:"query"`
	RetrievedDocs  []RetrievedDocument `json:"retrieved_docs"`
	Answer         *GeneratedAnswer    `json:"answer"`
	AgentResponse  any                 `json:"agent_response,omitempty"`
	Method         Method              `json:"method"`
	RetrievalTime  time.Duration       `json:"retrieval_time"`
	GenerationTime time.Duration       `json:"generation_time"`
	TotalTime      time.Duration       `json:"total_time"`
}

// =============================================================================
// 🤖 Agent 路由
// =============================================================================

// AgentRequest 交给 Agent 路由的上下文
type AgentRequest struct {
	Query   string              `json:"query"`
	UserID  string              `json:"user_id"`
	History []llm.Message       `json:"history,omitempty"`
	Profile map[string]any      `json:"profile,omitempty"`
	Docs    []RetrievedDocument `json:"docs"`
}

// AgentAnswer Agent 路由的输出。Response 为 agent 包的原始响应。
type AgentAnswer struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	AgentType  string  `json:"agent_type"`
	TokensUsed int     `json:"tokens_used"`
	Response   any     `json:"response,omitempty"`
}

// AgentRouter 由 agent 包实现，rag 只依赖该接口
type AgentRouter interface {
	Route(ctx context.Context, req AgentRequest) (*AgentAnswer, error)
}
