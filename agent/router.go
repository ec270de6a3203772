package agent

import (
	"context"

	"github.com/BaSui01/campusrag/rag"
)

// Router 将 Orchestrator 适配为 rag.AgentRouter
type Router struct {
	orchestrator *Orchestrator
}

var _ rag.AgentRouter = (*Router)(nil)

// NewRouter 创建适配器
func NewRouter(o *Orchestrator) *Router {
	return &Router{orchestrator: o}
}

// Route 实现 rag.AgentRouter
func (r *Router) Route(ctx context.Context, req rag.AgentRequest) (*rag.AgentAnswer, error) {
	resp, err := r.orchestrator.Route(ctx, &Context{
		Query:   req.Query,
		UserID:  req.UserID,
		History: req.History,
		Profile: req.Profile,
		Docs:    req.Docs,
	})
	if err != nil {
		return nil, err
	}
	return &rag.AgentAnswer{
		Answer:     resp.Answer,
		Confidence: resp.Confidence,
		AgentType:  string(resp.AgentType),
		TokensUsed: resp.TokensUsed,
		Response:   resp,
	}, nil
}
