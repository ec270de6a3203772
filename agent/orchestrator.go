package agent

import (
	"context"
	"sync"

	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/campusrag/agent"

// Orchestrator 对每次请求选出匹配度最高的 Agent 并执行。
// 注册顺序决定平分时的优先级。
type Orchestrator struct {
	mu     sync.RWMutex
	agents []Agent
	tracer trace.Tracer
	logger *zap.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(logger *zap.Logger, agents ...Agent) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		agents: append([]Agent(nil), agents...),
		tracer: otel.Tracer(instrumentationName),
		logger: logger.With(zap.String("component", "agent_orchestrator")),
	}
}

// NewDefaultOrchestrator 注册全部内置领域 Agent，兜底 Agent 最后注册
func NewDefaultOrchestrator(provider llm.Provider, model string, logger *zap.Logger) *Orchestrator {
	profiles := DefaultProfiles()
	agents := make([]Agent, 0, len(profiles))
	for _, p := range profiles {
		agents = append(agents, NewDomainAgent(p, provider, model, logger))
	}
	return NewOrchestrator(logger, agents...)
}

// Register 追加 Agent
func (o *Orchestrator) Register(a Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents = append(o.agents, a)
}

// Agents 已注册 Agent 的快照
func (o *Orchestrator) Agents() []Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Agent(nil), o.agents...)
}

// Select 返回得分最高的 Agent 及其得分
func (o *Orchestrator) Select(ctx context.Context, c *Context) (Agent, float64, error) {
	agents := o.Agents()
	if len(agents) == 0 {
		return nil, 0, types.NewConfigurationError("no agents registered")
	}

	var (
		best      Agent
		bestScore = -1.0
	)
	for _, a := range agents {
		score := a.CanHandle(ctx, c)
		o.logger.Debug("agent score",
			zap.String("agent_type", string(a.Type())),
			zap.Float64("score", score))
		// 严格大于：平分时保留先注册的
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	return best, bestScore, nil
}

// Route 选择 Agent 并处理请求
func (o *Orchestrator) Route(ctx context.Context, c *Context) (*Response, error) {
	ctx, span := o.tracer.Start(ctx, "AgentRoute")
	defer span.End()

	selected, score, err := o.Select(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("agent.type", string(selected.Type())),
		attribute.Float64("agent.score", score),
	)

	o.logger.Info("agent selected",
		zap.String("agent_type", string(selected.Type())),
		zap.Float64("score", score),
		zap.String("user_id", c.UserID))

	resp, err := selected.Process(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}
