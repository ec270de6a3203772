package agent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/rag"
	"github.com/BaSui01/campusrag/types"
	"go.uber.org/zap"
)

const (
	maxContextDocs = 5
	agentMaxTokens = 600
)

// domainAgent 由 Profile 驱动的领域 Agent
type domainAgent struct {
	profile  Profile
	provider llm.Provider
	model    string
	logger   *zap.Logger
}

// NewDomainAgent 按 Profile 创建 Agent
func NewDomainAgent(profile Profile, provider llm.Provider, model string, logger *zap.Logger) Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &domainAgent{
		profile:  profile,
		provider: provider,
		model:    model,
		logger:   logger.With(zap.String("component", "agent"), zap.String("agent_type", string(profile.Type))),
	}
}

func (a *domainAgent) Type() AgentType { return a.profile.Type }

// CanHandle 关键词命中数 / 饱和常数，截断到 1。
// 查询与关键词都经过 rag.CleanQuery（小写、去标点、合并空白）后再做子串匹配。
func (a *domainAgent) CanHandle(_ context.Context, c *Context) float64 {
	if len(a.profile.Keywords) == 0 || a.profile.Saturation <= 0 {
		return a.profile.FixedScore
	}
	query := rag.CleanQuery(c.Query)
	hits := 0
	for _, kw := range a.profile.Keywords {
		if kw = rag.CleanQuery(kw); kw != "" && strings.Contains(query, kw) {
			hits++
		}
	}
	return math.Min(float64(hits)/a.profile.Saturation, 1.0)
}

// Process 调用 LLM 生成领域回答
func (a *domainAgent) Process(ctx context.Context, c *Context) (*Response, error) {
	docs := c.Docs
	if len(docs) > maxContextDocs {
		docs = docs[:maxContextDocs]
	}

	req := &llm.ChatRequest{
		UserID:      c.UserID,
		Model:       a.model,
		Messages:    buildMessages(a.profile.Prompt, c.History, docs, c.Query),
		MaxTokens:   agentMaxTokens,
		Temperature: a.profile.Temperature,
	}

	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		a.logger.Warn("agent completion failed", zap.Error(err))
		return nil, types.NewProviderUnavailableError(a.provider.Name(), err)
	}

	sources := make([]rag.RetrievedDocument, len(docs))
	copy(sources, docs)

	nextActions := make([]string, len(a.profile.NextActions))
	copy(nextActions, a.profile.NextActions)

	return &Response{
		Answer:      resp.FirstContent(),
		Confidence:  a.profile.Confidence,
		AgentType:   a.profile.Type,
		Sources:     sources,
		NextActions: nextActions,
		Metadata: map[string]any{
			"model":        resp.Model,
			"context_docs": len(docs),
		},
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// buildMessages 系统提示 → 历史对话 → 带编号上下文的问题
func buildMessages(prompt string, history []llm.Message, docs []rag.RetrievedDocument, query string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompt})
	messages = append(messages, history...)

	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, doc.Text)
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", strings.Join(parts, "\n\n"), query),
	})
	return messages
}
