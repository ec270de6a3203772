package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/llm/tokenizer"
	"github.com/BaSui01/campusrag/testutil"
	"github.com/BaSui01/campusrag/testutil/mocks"
	"github.com/BaSui01/campusrag/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(p llm.Provider, cfg GeneratorConfig) *Generator {
	return NewGenerator(p, tokenizer.NewEstimatorTokenizer("test", 0), cfg, nil)
}

func courseDocs() []RetrievedDocument {
	return []RetrievedDocument{
		{ID: "d1", Text: "COMP0066 coursework 1 is due on Friday at 4pm.", Score: 0.9, Metadata: map[string]any{"course_code": "COMP0066"}},
		{ID: "d2", Text: "Late submissions lose 10 marks per day.", Score: 0.6},
	}
}

func TestGenerator_NoDocuments(t *testing.T) {
	t.Parallel()
	p := mocks.NewMockProvider()
	ans, err := newTestGenerator(p, GeneratorConfig{}).Generate(context.Background(), "anything", nil, GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, NoResultsAnswer, ans.Answer)
	assert.Zero(t, ans.Confidence)
	assert.Empty(t, ans.Sources)
	assert.True(t, ans.InsufficientContext)
	assert.True(t, ans.Citations.Valid)
	assert.Zero(t, p.GetCallCount())
}

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()
	p := mocks.NewMockProvider().WithResponse("COMP0066 coursework 1 is due Friday 4pm [Source 1].")
	ans, err := newTestGenerator(p, GeneratorConfig{Model: "deepseek-chat"}).
		Generate(context.Background(), "When is COMP0066 coursework due?", courseDocs(), GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "COMP0066 coursework 1 is due Friday 4pm [Source 1].", ans.Answer)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "d1", ans.Sources[0].ID)
	assert.Equal(t, "COMP0066", ans.Sources[0].Metadata["course_code"])
	assert.Equal(t, []string{courseDocs()[0].Text, courseDocs()[1].Text}, ans.ContextUsed)
	assert.InDelta(t, 0.9, ans.Confidence, 1e-9)
	assert.Equal(t, 30, ans.TokensUsed)
	assert.False(t, ans.InsufficientContext)
	assert.Equal(t, []int{1}, ans.Citations.Cited)
	assert.True(t, ans.Citations.Valid)

	req := p.GetLastCall().Request
	assert.Equal(t, "deepseek-chat", req.Model)
	assert.Equal(t, 800, req.MaxTokens)
	assert.InDelta(t, 0.3, req.Temperature, 1e-6)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, InsufficientContextPhrase)
	assert.Contains(t, req.Messages[1].Content, "[Source 1]: COMP0066 coursework 1 is due on Friday at 4pm.\n\n[Source 2]: Late")
	assert.Contains(t, req.Messages[1].Content, "User Question: When is COMP0066 coursework due?")
}

func TestGenerator_OptionsOverride(t *testing.T) {
	t.Parallel()
	p := mocks.NewMockProvider()
	_, err := newTestGenerator(p, GeneratorConfig{}).
		Generate(context.Background(), "q", courseDocs(), GenerateOptions{MaxTokens: 100, Temperature: 0.7})
	require.NoError(t, err)

	req := p.GetLastCall().Request
	assert.Equal(t, 100, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
}

func TestBuildContext_StopsAtFirstOverflow(t *testing.T) {
	t.Parallel()
	docs := []RetrievedDocument{
		{ID: "a", Text: strings.Repeat("a", 20)}, // 34 字符
		{ID: "b", Text: "short"},                 // 19 字符，超出 50
		{ID: "c", Text: "x"},                     // 15 字符，本可放入
	}
	ctxText, sources, used := buildContext(docs, 50)

	require.Len(t, sources, 1)
	assert.Equal(t, "a", sources[0].ID)
	assert.Equal(t, []string{strings.Repeat("a", 20)}, used)
	assert.Equal(t, "[Source 1]: "+strings.Repeat("a", 20)+"\n\n", ctxText)
}

func TestBuildContext_TruncatesOversizedFirstEntry(t *testing.T) {
	t.Parallel()
	ctxText, sources, _ := buildContext([]RetrievedDocument{{ID: "a", Text: strings.Repeat("长", 30)}}, 20)

	require.Len(t, sources, 1)
	assert.Equal(t, strings.Repeat("长", 6), sources[0].Text)
	assert.Equal(t, 20, len([]rune(ctxText)))
}

func TestGenerator_ProviderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("upstream 502")
	_, err := newTestGenerator(mocks.NewErrorProvider(boom), GeneratorConfig{}).
		Generate(context.Background(), "q", courseDocs(), GenerateOptions{})

	assert.True(t, types.IsErrorCode(err, types.ErrProviderUnavailable))
	assert.ErrorIs(t, err, boom)
}

func TestGenerator_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := mocks.NewMockProvider().WithDelay(time.Second)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	ans, err := newTestGenerator(p, GeneratorConfig{}).Generate(ctx, "q", courseDocs(), GenerateOptions{})
	assert.Nil(t, ans)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerator_InsufficientContext(t *testing.T) {
	t.Parallel()
	p := mocks.NewSuccessProvider(InsufficientContextPhrase)
	ans, err := newTestGenerator(p, GeneratorConfig{}).Generate(context.Background(), "q", courseDocs(), GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, ans.InsufficientContext)
	assert.NotEmpty(t, ans.Sources)
}

func TestGenerator_TokenFallback(t *testing.T) {
	t.Parallel()
	p := mocks.NewSuccessProvider("Friday [Source 1]").WithTokenUsage(0, 0)
	g := newTestGenerator(p, GeneratorConfig{})
	ans, err := g.Generate(context.Background(), "q", courseDocs(), GenerateOptions{})
	require.NoError(t, err)

	req := p.GetLastCall().Request
	msgs := []tokenizer.Message{
		{Role: "system", Content: req.Messages[0].Content},
		{Role: "user", Content: req.Messages[1].Content},
		{Role: "assistant", Content: "Friday [Source 1]"},
	}
	want, _ := tokenizer.NewEstimatorTokenizer("test", 0).CountMessages(msgs)
	assert.Equal(t, want, ans.TokensUsed)
	assert.Positive(t, ans.TokensUsed)
}

func TestGenerator_InvalidCitationIsSignalOnly(t *testing.T) {
	t.Parallel()
	p := mocks.NewSuccessProvider("See [Source 3].")
	ans, err := newTestGenerator(p, GeneratorConfig{}).Generate(context.Background(), "q", courseDocs(), GenerateOptions{})
	require.NoError(t, err)
	assert.False(t, ans.Citations.Valid)
	assert.Equal(t, []int{3}, ans.Citations.Invalid)
	assert.True(t, types.IsErrorCode(ans.Citations.Err(), types.ErrInvalidCitation))
}

func TestGenerator_Stream(t *testing.T) {
	t.Parallel()
	p := mocks.NewStreamProvider([]string{"Due Friday ", "[Source 1]."})
	ch, err := newTestGenerator(p, GeneratorConfig{}).Stream(testutil.TestContext(t), "q", courseDocs(), GenerateOptions{})
	require.NoError(t, err)

	events := testutil.DrainChannel(t, ch, 5*time.Second)
	require.Len(t, events, 3)
	assert.Equal(t, StreamEventDelta, events[0].Type)
	assert.Equal(t, "Due Friday ", events[0].Delta)
	assert.Equal(t, StreamEventDone, events[2].Type)
	require.NotNil(t, events[2].Answer)
	assert.Equal(t, "Due Friday [Source 1].", events[2].Answer.Answer)
	assert.Equal(t, 30, events[2].Answer.TokensUsed)
	assert.Len(t, events[2].Answer.Sources, 2)
}

func TestGenerator_StreamNoDocuments(t *testing.T) {
	t.Parallel()
	p := mocks.NewMockProvider()
	ch, err := newTestGenerator(p, GeneratorConfig{}).Stream(testutil.TestContext(t), "q", nil, GenerateOptions{})
	require.NoError(t, err)

	events := testutil.DrainChannel(t, ch, 5*time.Second)
	require.Len(t, events, 2)
	assert.Equal(t, NoResultsAnswer, events[0].Delta)
	assert.True(t, events[1].Answer.InsufficientContext)
	assert.Zero(t, p.GetCallCount())
}

func TestGenerator_StreamError(t *testing.T) {
	t.Parallel()
	_, err := newTestGenerator(mocks.NewErrorProvider(errors.New("down")), GeneratorConfig{}).
		Stream(context.Background(), "q", courseDocs(), GenerateOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrProviderUnavailable))
}

func TestConfidence(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.9, Confidence(0.9), 1e-9)
	assert.InDelta(t, 1.0, Confidence(1.7), 1e-9)
	assert.InDelta(t, 0.32, Confidence(0.4), 1e-9)
	assert.InDelta(t, 0.5, Confidence(0.5), 1e-9)
	assert.Zero(t, Confidence(-2))
}

func TestProperty_ConfidenceClamp(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500

	properties := gopter.NewProperties(parameters)

	properties.Property("confidence stays in [0,1]", prop.ForAll(
		func(score float64) bool {
			c := Confidence(score)
			return c >= 0 && c <= 1
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("confidence is monotonic in the top score", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				a, b = b, a
			}
			return Confidence(a) <= Confidence(b)
		},
		gen.Float64Range(-2, 2),
		gen.Float64Range(-2, 2),
	))

	properties.Property("scores at or above 0.5 pass through unchanged", prop.ForAll(
		func(score float64) bool {
			return Confidence(score) == score
		},
		gen.Float64Range(0.5, 1),
	))

	properties.TestingRun(t)
}
