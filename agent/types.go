package agent

import (
	"context"

	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/rag"
)

// AgentType Agent 类型
type AgentType string

const (
	TypeAcademic AgentType = "academic" // 课程、作业、成绩、考试
	TypeSchedule AgentType = "schedule" // 课表、预约
	TypeEmail    AgentType = "email"    // 邮件
	TypeActivity AgentType = "activity" // 校园活动
	TypeGeneral  AgentType = "general"  // 兜底
)

// Context 单次调用的输入，不跨请求保留
type Context struct {
	Query   string                  `json:"query"`
	UserID  string                  `json:"user_id"`
	History []llm.Message           `json:"history,omitempty"`
	Profile map[string]any          `json:"profile,omitempty"`
	Docs    []rag.RetrievedDocument `json:"docs"`
}

// Response Agent 输出
type Response struct {
	Answer      string                  `json:"answer"`
	Confidence  float64                 `json:"confidence"`
	AgentType   AgentType               `json:"agent_type"`
	Sources     []rag.RetrievedDocument `json:"sources"`
	NextActions []string                `json:"next_actions"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
	TokensUsed  int                     `json:"tokens_used"`
}

// Agent 领域策略：CanHandle 评估匹配度，Process 生成回答
type Agent interface {
	Type() AgentType

	// CanHandle 返回 [0,1] 的匹配度
	CanHandle(ctx context.Context, c *Context) float64

	Process(ctx context.Context, c *Context) (*Response, error)
}
