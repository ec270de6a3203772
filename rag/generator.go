package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BaSui01/campusrag/internal/metrics"
	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/llm/tokenizer"
	"github.com/BaSui01/campusrag/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// NoResultsAnswer 没有检索结果时的固定回答
	NoResultsAnswer = "抱歉，我找不到相关信息来回答这个问题。"
	// InsufficientContextPhrase 模型判断上下文不足时使用的固定句式
	InsufficientContextPhrase = "根据现有信息，我无法回答这个问题。"
)

const generatorSystemPrompt = `You are the campus assistant for UCL students.

Answer the question using ONLY the context documents provided.

Rules:
1. Reply in Simplified Chinese unless the question is written in English.
2. Be concise and accurate.
3. If the context does not contain the answer, reply exactly "` + InsufficientContextPhrase + `"
4. Cite every fact with [Source 1], [Source 2] and so on.
5. Prefer actionable information.
6. When sources disagree, mention both.

Context documents are given as:
[Source 1]: <document text>
[Source 2]: <document text>
`

// GeneratorConfig 生成器配置
type GeneratorConfig struct {
	Model            string  `json:"model"`
	MaxContextLength int     `json:"max_context_length"` // 字符数
	MaxTokens        int     `json:"max_tokens"`
	Temperature      float32 `json:"temperature"`
}

// DefaultGeneratorConfig 默认生成器配置
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxContextLength: 3000,
		MaxTokens:        800,
		Temperature:      0.3,
	}
}

// GenerateOptions 单次生成的覆盖参数，零值表示使用配置
type GenerateOptions struct {
	MaxContextLength int     `json:"max_context_length,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	Temperature      float32 `json:"temperature,omitempty"`
}

// Generator 组装上下文并调用 LLM 生成带引用的答案
type Generator struct {
	provider  llm.Provider
	tokenizer tokenizer.Tokenizer
	cfg       GeneratorConfig
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewGenerator 创建生成器。tok 为 nil 时按模型选择 tiktoken，加载失败退回估算器。
func NewGenerator(provider llm.Provider, tok tokenizer.Tokenizer, cfg GeneratorConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultGeneratorConfig()
	if cfg.MaxContextLength <= 0 {
		cfg.MaxContextLength = def.MaxContextLength
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if tok == nil {
		tok = tokenizer.ForModel(cfg.Model, logger)
	}
	return &Generator{
		provider:  provider,
		tokenizer: tok,
		cfg:       cfg,
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With(zap.String("component", "generator")),
	}
}

// SetMetrics 设置指标收集器
func (g *Generator) SetMetrics(c *metrics.Collector) {
	g.metrics = c
}

// =============================================================================
// 🎯 同步生成
// =============================================================================

// Generate 基于检索结果生成答案。没有文档时返回固定回答且不调用 LLM。
// LLM 失败返回 ErrProviderUnavailable，不会合成答案。
func (g *Generator) Generate(ctx context.Context, query string, docs []RetrievedDocument, opts GenerateOptions) (answer *GeneratedAnswer, err error) {
	ctx, span := g.tracer.Start(ctx, "Generate", trace.WithAttributes(
		attribute.Int("rag.documents", len(docs)),
	))
	defer func() { endSpan(span, err) }()

	if len(docs) == 0 {
		return noResultsAnswer(), nil
	}

	p := g.prepare(query, docs, opts)
	start := time.Now()
	resp, err := g.provider.Completion(ctx, p.request)
	if err != nil {
		return nil, g.providerError(ctx, err)
	}

	answer = g.finish(p, resp.FirstContent(), resp.Usage.TotalTokens)
	span.SetAttributes(
		attribute.Int("rag.tokens", answer.TokensUsed),
		attribute.Float64("rag.confidence", answer.Confidence),
	)
	g.logger.Debug("answer generated",
		zap.Int("sources", len(answer.Sources)),
		zap.Int("tokens", answer.TokensUsed),
		zap.Float64("confidence", answer.Confidence),
		zap.Duration("duration", time.Since(start)))
	return answer, nil
}

// =============================================================================
// 🌊 流式生成
// =============================================================================

// StreamEventType 流式事件类型
type StreamEventType string

const (
	StreamEventRetrieval StreamEventType = "retrieval"
	StreamEventDelta     StreamEventType = "delta"
	StreamEventDone      StreamEventType = "done"
	StreamEventError     StreamEventType = "error"
)

// StreamEvent 流式查询事件。Done 事件携带完整答案。
type StreamEvent struct {
	Type   StreamEventType     `json:"type"`
	Delta  string              `json:"delta,omitempty"`
	Docs   []RetrievedDocument `json:"docs,omitempty"`
	Answer *GeneratedAnswer    `json:"answer,omitempty"`
	Error  string              `json:"error,omitempty"`
	Err    error               `json:"-"`

	// Method 与 AgentType 只在 Pipeline 发出的 Done 事件上设置，为实际使用的方式
	Method    Method `json:"method,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
}

// Stream 流式生成。通道在 Done 或 Error 事件之后关闭；ctx 取消时直接关闭。
func (g *Generator) Stream(ctx context.Context, query string, docs []RetrievedDocument, opts GenerateOptions) (<-chan StreamEvent, error) {
	if len(docs) == 0 {
		ch := make(chan StreamEvent, 2)
		ans := noResultsAnswer()
		ch <- StreamEvent{Type: StreamEventDelta, Delta: ans.Answer}
		ch <- StreamEvent{Type: StreamEventDone, Answer: ans}
		close(ch)
		return ch, nil
	}

	p := g.prepare(query, docs, opts)
	chunks, err := g.provider.Stream(ctx, p.request)
	if err != nil {
		return nil, g.providerError(ctx, err)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		send := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			sb          strings.Builder
			totalTokens int
		)
		for chunk := range chunks {
			if chunk.Err != nil {
				perr := g.providerError(ctx, chunk.Err)
				send(StreamEvent{Type: StreamEventError, Error: perr.Error(), Err: perr})
				return
			}
			if chunk.Usage != nil {
				totalTokens = chunk.Usage.TotalTokens
			}
			if chunk.Delta.Content == "" {
				continue
			}
			sb.WriteString(chunk.Delta.Content)
			if !send(StreamEvent{Type: StreamEventDelta, Delta: chunk.Delta.Content}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		send(StreamEvent{Type: StreamEventDone, Answer: g.finish(p, sb.String(), totalTokens)})
	}()
	return out, nil
}

// =============================================================================
// 🔧 内部实现
// =============================================================================

// prepared 组装好的请求与已放入上下文的来源
type prepared struct {
	request *llm.ChatRequest
	sources []SourceSummary
	used    []string
	docs    []RetrievedDocument
}

func (g *Generator) prepare(query string, docs []RetrievedDocument, opts GenerateOptions) prepared {
	maxLen := g.cfg.MaxContextLength
	if opts.MaxContextLength > 0 {
		maxLen = opts.MaxContextLength
	}
	maxTokens := g.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := g.cfg.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	contextText, sources, used := buildContext(docs, maxLen)
	return prepared{
		request: &llm.ChatRequest{
			Model: g.cfg.Model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: generatorSystemPrompt},
				{Role: llm.RoleUser, Content: buildPrompt(query, contextText)},
			},
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
		sources: sources,
		used:    used,
		docs:    docs,
	}
}

// finish 根据模型输出填充答案。reportedTokens 为 0 时用分词器统计提示与回答。
func (g *Generator) finish(p prepared, text string, reportedTokens int) *GeneratedAnswer {
	tokens := reportedTokens
	if tokens <= 0 {
		tokens = g.countTokens(p.request.Messages, text)
	}
	g.metrics.RecordLLMTokens(g.provider.Name(), tokens)

	citations := ValidateCitations(text, len(p.sources))
	if !citations.Valid {
		g.logger.Warn("answer cites unknown sources",
			zap.Ints("invalid", citations.Invalid),
			zap.Int("sources", len(p.sources)))
	}

	return &GeneratedAnswer{
		Answer:              text,
		Sources:             p.sources,
		Confidence:          Confidence(p.docs[0].Score),
		ContextUsed:         p.used,
		TokensUsed:          tokens,
		InsufficientContext: strings.Contains(text, InsufficientContextPhrase),
		Citations:           citations,
	}
}

func (g *Generator) countTokens(messages []llm.Message, answer string) int {
	msgs := make([]tokenizer.Message, 0, len(messages)+1)
	for _, m := range messages {
		msgs = append(msgs, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, tokenizer.Message{Role: string(llm.RoleAssistant), Content: answer})
	n, err := g.tokenizer.CountMessages(msgs)
	if err != nil {
		g.logger.Warn("token counting failed", zap.Error(err))
		return 0
	}
	return n
}

// providerError 取消时返回 ctx 错误，其余包装为 ProviderUnavailable
func (g *Generator) providerError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	g.logger.Warn("llm completion failed", zap.String("provider", g.provider.Name()), zap.Error(err))
	return types.NewProviderUnavailableError(g.provider.Name(), err)
}

// buildContext 依次拼接 "[Source i]: text\n\n"，首个超出 maxLen 的条目终止循环。
// 第一条就超长时截断到预算内，保证至少一个来源。
func buildContext(docs []RetrievedDocument, maxLen int) (string, []SourceSummary, []string) {
	var (
		sb      strings.Builder
		sources []SourceSummary
		used    []string
		length  int
	)
	for i, doc := range docs {
		entry := fmt.Sprintf("[Source %d]: %s\n\n", i+1, doc.Text)
		n := utf8.RuneCountInString(entry)
		text := doc.Text
		if length+n > maxLen {
			if i > 0 {
				break
			}
			entry, text = truncateEntry(doc.Text, maxLen)
			n = utf8.RuneCountInString(entry)
		}
		sb.WriteString(entry)
		length += n
		sources = append(sources, SourceSummary{ID: doc.ID, Text: text, Score: doc.Score, Metadata: doc.Metadata})
		used = append(used, text)
	}
	return sb.String(), sources, used
}

func truncateEntry(text string, maxLen int) (string, string) {
	overhead := utf8.RuneCountInString("[Source 1]: \n\n")
	budget := max(maxLen-overhead, 0)
	runes := []rune(text)
	if len(runes) > budget {
		runes = runes[:budget]
	}
	text = string(runes)
	return "[Source 1]: " + text + "\n\n", text
}

func buildPrompt(query, contextText string) string {
	return "Context Documents:\n" + contextText +
		"\nUser Question: " + query +
		"\n\nInstructions:\n" +
		"- Answer based ONLY on the context above\n" +
		"- Cite sources in [Source X] format\n" +
		"- If the answer is not in the context, say so clearly\n" +
		"- Keep the answer concise and actionable\n\n" +
		"Answer:"
}

// Confidence 最高分截断到 [0,1]，低于 0.5 时再乘 0.8
func Confidence(topScore float64) float64 {
	c := min(max(topScore, 0), 1)
	if c < 0.5 {
		c *= 0.8
	}
	return c
}

func noResultsAnswer() *GeneratedAnswer {
	return &GeneratedAnswer{
		Answer:              NoResultsAnswer,
		Sources:             []SourceSummary{},
		Confidence:          0,
		ContextUsed:         []string{},
		InsufficientContext: true,
		Citations:           ValidateCitations("", 0),
	}
}
