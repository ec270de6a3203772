package history

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/campusrag/config"
	"github.com/BaSui01/campusrag/internal/database"
	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/rag"
	"github.com/BaSui01/campusrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *Store {
	t.Helper()
	pm, err := database.Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	s := NewStore(pm.DB(), zaptest.NewLogger(t))
	s.now = func() time.Time { return baseTime }
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestStore_SaveAndList(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i, q := range []string{"first", "second", "third"} {
		c := &Conversation{
			UserID:    "u1",
			Query:     q,
			Answer:    "answer " + q,
			Method:    "hybrid",
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Save(ctx, c))
		assert.NotZero(t, c.ID)
	}
	require.NoError(t, s.Save(ctx, &Conversation{UserID: "u2", Query: "other"}))

	convs, err := s.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, "third", convs[0].Query)
	assert.Equal(t, "first", convs[2].Query)

	convs, err = s.ListByUser(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, convs, 2)

	convs, err = s.ListByUser(ctx, "u2", 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.True(t, baseTime.Equal(convs[0].CreatedAt))

	convs, err = s.ListByUser(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestStore_Validation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.Save(ctx, &Conversation{Query: "q"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	err = s.Save(ctx, &Conversation{UserID: "u1"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = s.ListByUser(ctx, "", 5)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestStore_DeleteByUser(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Conversation{UserID: "u1", Query: "a"}))
	require.NoError(t, s.Save(ctx, &Conversation{UserID: "u1", Query: "b"}))
	require.NoError(t, s.Save(ctx, &Conversation{UserID: "u2", Query: "c"}))

	n, err := s.DeleteByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	convs, err := s.ListByUser(ctx, "u2", 10)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestStore_RecentMessages(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i, q := range []string{"q1", "q2", "q3"} {
		require.NoError(t, s.Save(ctx, &Conversation{
			UserID:    "u1",
			Query:     q,
			Answer:    "a" + q[1:],
			CreatedAt: baseTime.Add(time.Duration(i) * time.Hour),
		}))
	}

	msgs, err := s.RecentMessages(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "q2"},
		{Role: llm.RoleAssistant, Content: "a2"},
		{Role: llm.RoleUser, Content: "q3"},
		{Role: llm.RoleAssistant, Content: "a3"},
	}, msgs)
}

func TestFromResult(t *testing.T) {
	res := &rag.Result{
		Query:  &rag.ProcessedQuery{OriginalQuery: "COMP0066 deadline"},
		Method: rag.MethodHybrid,
		Answer: &rag.GeneratedAnswer{
			Answer:     "Friday [Source 1].",
			Confidence: 0.82,
			Sources:    []rag.SourceSummary{{ID: "d1", Text: "due Friday", Score: 0.82}},
		},
	}

	c, err := FromResult("u1", res, "academic")
	require.NoError(t, err)
	assert.Equal(t, "COMP0066 deadline", c.Query)
	assert.Equal(t, "hybrid", c.Method)
	assert.Equal(t, "academic", c.AgentType)
	assert.Equal(t, 0.82, c.Confidence)

	s := setupStore(t)
	require.NoError(t, s.Save(context.Background(), c))
	convs, err := s.ListByUser(context.Background(), "u1", 1)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	sources, err := convs[0].SourceList()
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "d1", sources[0].ID)

	_, err = FromResult("u1", &rag.Result{}, "")
	assert.Error(t, err)
}

func TestConversation_SourceListEmpty(t *testing.T) {
	c := Conversation{}
	sources, err := c.SourceList()
	require.NoError(t, err)
	assert.Empty(t, sources)

	c.Sources = "{bad"
	_, err = c.SourceList()
	assert.Error(t, err)
}

func TestStore_HasSchema(t *testing.T) {
	pm, err := database.Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	s := NewStore(pm.DB(), nil)
	ctx := context.Background()
	assert.False(t, s.HasSchema(ctx))
	require.NoError(t, s.Migrate(ctx))
	assert.True(t, s.HasSchema(ctx))
}
