package rag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/testutil"
	"github.com/BaSui01/campusrag/testutil/mocks"
	"github.com/BaSui01/campusrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRouter 记录收到的请求并返回固定回答
type stubRouter struct {
	mu     sync.Mutex
	answer AgentAnswer
	err    error
	reqs   []AgentRequest
}

func (s *stubRouter) Route(_ context.Context, req AgentRequest) (*AgentAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	ans := s.answer
	return &ans, nil
}

func newTestPipeline(t *testing.T, provider llm.Provider, router AgentRouter, cfg PipelineConfig) *Pipeline {
	t.Helper()
	r, _ := newTestRetriever(t, nil, RetrieverConfig{}, libraryQuery, libraryCorpus()...)
	g := newTestGenerator(provider, GeneratorConfig{})
	p := NewPipeline(NewQueryProcessor(nil, WithClock(fixedClock)), r, g, router, cfg, nil)
	t.Cleanup(p.Close)
	return p
}

func TestPipeline_Standard(t *testing.T) {
	t.Parallel()
	provider := mocks.NewSuccessProvider("Weekdays 8am to 10pm [Source 1].")
	p := newTestPipeline(t, provider, nil, DefaultPipelineConfig())

	res, err := p.ProcessQuery(context.Background(), QueryRequest{Query: "library hours", TopK: 2, Method: MethodStandard})
	require.NoError(t, err)

	assert.Equal(t, MethodStandard, res.Method)
	assert.Equal(t, "library hours", res.Query.OriginalQuery)
	assert.Equal(t, []string{"a", "c"}, retrievedIDs(res.RetrievedDocs))
	assert.Equal(t, "Weekdays 8am to 10pm [Source 1].", res.Answer.Answer)
	assert.Len(t, res.Answer.Sources, 2)
	assert.Nil(t, res.AgentResponse)
	assert.Equal(t, res.RetrievalTime+res.GenerationTime, res.TotalTime)
	assert.Equal(t, 1, provider.GetCallCount())
}

func TestPipeline_HybridUsesAgents(t *testing.T) {
	t.Parallel()
	provider := mocks.NewMockProvider()
	router := &stubRouter{answer: AgentAnswer{
		Answer:     "The library opens at 8am [Source 1].",
		Confidence: 0.85,
		AgentType:  "general",
		TokensUsed: 42,
		Response:   "raw",
	}}
	p := newTestPipeline(t, provider, router, DefaultPipelineConfig())

	history := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	res, err := p.ProcessQuery(context.Background(), QueryRequest{
		Query:   "library hours",
		UserID:  "u1",
		History: history,
		Profile: map[string]any{"year": 2},
		TopK:    2,
	})
	require.NoError(t, err)

	assert.Equal(t, MethodHybrid, res.Method)
	assert.Equal(t, "raw", res.AgentResponse)
	assert.Equal(t, "The library opens at 8am [Source 1].", res.Answer.Answer)
	assert.InDelta(t, 0.85, res.Answer.Confidence, 1e-9)
	assert.Equal(t, 42, res.Answer.TokensUsed)
	assert.Len(t, res.Answer.Sources, 2)
	assert.Len(t, res.Answer.ContextUsed, 2)
	assert.True(t, res.Answer.Citations.Valid)
	assert.False(t, res.Answer.InsufficientContext)
	assert.Zero(t, provider.GetCallCount())

	require.Len(t, router.reqs, 1)
	got := router.reqs[0]
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, history, got.History)
	assert.Equal(t, 2, got.Profile["year"])
	assert.Equal(t, []string{"a", "c"}, retrievedIDs(got.Docs))
}

func TestPipeline_HybridWithoutAgentsFallsBack(t *testing.T) {
	t.Parallel()
	provider := mocks.NewSuccessProvider("ok")
	cfg := DefaultPipelineConfig()
	cfg.UseAgents = false
	router := &stubRouter{}
	p := newTestPipeline(t, provider, router, cfg)

	res, err := p.ProcessQuery(context.Background(), QueryRequest{Query: "library hours"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer.Answer)
	assert.Equal(t, 1, provider.GetCallCount())
	assert.Empty(t, router.reqs)

	p = newTestPipeline(t, provider, nil, DefaultPipelineConfig())
	_, err = p.ProcessQuery(context.Background(), QueryRequest{Query: "library hours"})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.GetCallCount())
}

func TestPipeline_AgentInsufficientContext(t *testing.T) {
	t.Parallel()
	router := &stubRouter{answer: AgentAnswer{Answer: InsufficientContextPhrase + " [Source 9]", AgentType: "general"}}
	p := newTestPipeline(t, mocks.NewMockProvider(), router, DefaultPipelineConfig())

	res, err := p.ProcessQuery(context.Background(), QueryRequest{Query: "library hours", Method: MethodAgent})
	require.NoError(t, err)
	assert.True(t, res.Answer.InsufficientContext)
	assert.Equal(t, []int{9}, res.Answer.Citations.Invalid)
}

func TestPipeline_AgentError(t *testing.T) {
	t.Parallel()
	boom := types.NewProviderUnavailableError("deepseek", errors.New("down"))
	p := newTestPipeline(t, mocks.NewMockProvider(), &stubRouter{err: boom}, DefaultPipelineConfig())

	_, err := p.ProcessQuery(context.Background(), QueryRequest{Query: "library hours", Method: MethodAgent})
	assert.True(t, types.IsErrorCode(err, types.ErrProviderUnavailable))
}

func TestPipeline_InvalidRequests(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, mocks.NewMockProvider(), nil, DefaultPipelineConfig())

	_, err := p.ProcessQuery(context.Background(), QueryRequest{Query: "   "})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = p.ProcessQuery(context.Background(), QueryRequest{Query: "library hours", Method: "magic"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = p.ProcessQuery(context.Background(), QueryRequest{Query: "library hours", Method: MethodAgent})
	assert.True(t, types.IsErrorCode(err, types.ErrConfiguration))

	_, err = p.Search(context.Background(), "", 3, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestPipeline_CallerFiltersApply(t *testing.T) {
	t.Parallel()
	provider := mocks.NewMockProvider()
	p := newTestPipeline(t, provider, nil, DefaultPipelineConfig())

	res, err := p.ProcessQuery(context.Background(), QueryRequest{
		Query:   "library hours",
		Method:  MethodStandard,
		Filters: Filters{"category": "sports"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.RetrievedDocs)
	assert.Equal(t, NoResultsAnswer, res.Answer.Answer)
	assert.True(t, res.Answer.InsufficientContext)
	assert.Zero(t, provider.GetCallCount())
}

func TestPipeline_Canceled(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, mocks.NewMockProvider(), nil, DefaultPipelineConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.ProcessQuery(ctx, QueryRequest{Query: "library hours"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_ProcessBatch(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, mocks.NewSuccessProvider("answer"), nil, DefaultPipelineConfig())

	queries := []string{"library hours", "gym opening", "library printing"}
	reqs := make([]QueryRequest, len(queries))
	for i, q := range queries {
		reqs[i] = QueryRequest{Query: q, Method: MethodStandard}
	}
	results, err := p.ProcessBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, q := range queries {
		assert.Equal(t, q, results[i].Query.OriginalQuery)
	}

	reqs[1].Query = ""
	results, err = p.ProcessBatch(context.Background(), reqs)
	assert.Nil(t, results)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestPipeline_Search(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, mocks.NewMockProvider(), nil, DefaultPipelineConfig())

	docs, err := p.Search(context.Background(), "library hours", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, retrievedIDs(docs))
	assert.InDelta(t, 0.8, docs[1].Score, 1e-9)
	assert.Equal(t, SourceVector, docs[0].Source)
}

func TestPipeline_StreamQuery(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, mocks.NewStreamProvider([]string{"Open ", "8am [Source 1]."}), nil, DefaultPipelineConfig())

	ch, err := p.StreamQuery(context.Background(), QueryRequest{Query: "library hours", TopK: 2, Method: MethodStandard})
	require.NoError(t, err)

	events := testutil.DrainChannel(t, ch, 5*time.Second)
	require.Len(t, events, 4)
	assert.Equal(t, StreamEventRetrieval, events[0].Type)
	assert.Equal(t, []string{"a", "c"}, retrievedIDs(events[0].Docs))
	assert.Equal(t, "Open ", events[1].Delta)
	assert.Equal(t, StreamEventDone, events[3].Type)
	assert.Equal(t, "Open 8am [Source 1].", events[3].Answer.Answer)
	assert.Equal(t, MethodStandard, events[3].Method)
	assert.Empty(t, events[1].Method)
}

func TestPipeline_StreamQueryDefaultMethodOnDone(t *testing.T) {
	t.Parallel()
	cfg := DefaultPipelineConfig()
	cfg.UseAgents = false
	p := newTestPipeline(t, mocks.NewStreamProvider([]string{"Open 8am [Source 1]."}), nil, cfg)

	ch, err := p.StreamQuery(context.Background(), QueryRequest{Query: "library hours", TopK: 2})
	require.NoError(t, err)

	events := testutil.DrainChannel(t, ch, 5*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, StreamEventDone, last.Type)
	assert.Equal(t, MethodHybrid, last.Method)
}

func TestPipeline_StreamQueryAgent(t *testing.T) {
	t.Parallel()
	router := &stubRouter{answer: AgentAnswer{Answer: "Open 8am [Source 1].", AgentType: "general"}}
	p := newTestPipeline(t, mocks.NewMockProvider(), router, DefaultPipelineConfig())

	ch, err := p.StreamQuery(context.Background(), QueryRequest{Query: "library hours", Method: MethodAgent})
	require.NoError(t, err)

	var (
		kinds []StreamEventType
		done  StreamEvent
	)
	for ev := range ch {
		kinds = append(kinds, ev.Type)
		if ev.Type == StreamEventDone {
			done = ev
		}
	}
	assert.Equal(t, []StreamEventType{StreamEventRetrieval, StreamEventDelta, StreamEventDone}, kinds)
	assert.Equal(t, MethodAgent, done.Method)
	assert.Equal(t, "general", done.AgentType)
}

func TestRequestFields(t *testing.T) {
	assert.Empty(t, requestFields(context.Background()))

	ctx := types.WithRequestID(context.Background(), "req-9")
	ctx = types.WithUserID(ctx, "student-1")
	fields := requestFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "request_id", fields[0].Key)
	assert.Equal(t, "req-9", fields[0].String)
	assert.Equal(t, "user_id", fields[1].Key)
}
