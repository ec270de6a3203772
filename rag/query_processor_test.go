package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
}

func processQuery(t *testing.T, q string) *ProcessedQuery {
	t.Helper()
	p := NewQueryProcessor(nil, WithClock(fixedClock))
	pq, err := p.Process(context.Background(), q)
	require.NoError(t, err)
	return pq
}

func TestCleanQuery(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hello world comp 0066", CleanQuery("  Hello,   World!! COMP-0066  "))
	assert.Equal(t, "图书馆 几点 开门", CleanQuery("图书馆，几点 开门？"))
	assert.Equal(t, "", CleanQuery("?!"))
}

func TestQueryProcessor_Factual(t *testing.T) {
	t.Parallel()
	pq := processQuery(t, "What is COMP0066?")

	assert.Equal(t, "What is COMP0066?", pq.OriginalQuery)
	assert.Equal(t, "what is comp0066", pq.CleanedQuery)
	assert.Equal(t, IntentFactual, pq.Intent)
	assert.Equal(t, []string{"COMP0066"}, pq.Entities[EntityCourses])
	assert.Equal(t, []string{
		"what is comp0066",
		"definition of what is comp0066",
		"what is comp0066 meaning",
	}, pq.ExpandedQueries)
	assert.Equal(t, []string{"comp0066"}, pq.Keywords)
	assert.Equal(t, Filters{"course_code": "COMP0066"}, pq.Filters)
	assert.Nil(t, pq.TemporalContext)
}

func TestQueryProcessor_Navigational(t *testing.T) {
	t.Parallel()
	pq := processQuery(t, "Where is the Main Library?")

	assert.Equal(t, IntentNavigational, pq.Intent)
	assert.Equal(t, []string{"Main Library"}, pq.Entities[EntityLocations])
	assert.Equal(t, "Main Library", pq.Filters["location"])
	assert.Equal(t, "location of where is the main library", pq.ExpandedQueries[1])
}

func TestQueryProcessor_TemporalFallback(t *testing.T) {
	t.Parallel()
	pq := processQuery(t, "Any lectures tomorrow")

	assert.Equal(t, IntentTemporal, pq.Intent)
	require.NotNil(t, pq.TemporalContext)
	assert.Equal(t, GranularityDay, pq.TemporalContext.Granularity)
	assert.Equal(t, "tomorrow", pq.TemporalContext.Keyword)
	assert.Equal(t, 1, pq.TemporalContext.Offset)
	assert.Equal(t, "2025-03-15", pq.TemporalContext.Date)
	assert.Equal(t, "2025-03-15", pq.Filters["date"])
	assert.Equal(t, []string{"lecture"}, pq.Entities[EntityActivities])
	assert.Equal(t, "any lectures tomorrow", pq.ExpandedQueries[0])
}

func TestQueryProcessor_TemporalTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		query       string
		granularity TemporalGranularity
		offset      int
		date        string
	}{
		{"office hours today", GranularityDay, 0, "2025-03-14"},
		{"what happened yesterday", GranularityDay, -1, "2025-03-13"},
		{"今天有课吗", GranularityDay, 0, "2025-03-14"},
		{"workshops this week", GranularityWeek, 0, ""},
		{"下周的考试", GranularityWeek, 1, ""},
		{"events last week", GranularityWeek, -1, ""},
		{"本月活动", GranularityMonth, 0, ""},
		{"careers fair next month", GranularityMonth, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			pq := processQuery(t, tt.query)
			require.NotNil(t, pq.TemporalContext)
			assert.Equal(t, tt.granularity, pq.TemporalContext.Granularity)
			assert.Equal(t, tt.offset, pq.TemporalContext.Offset)
			assert.Equal(t, tt.date, pq.TemporalContext.Date)
			_, hasDate := pq.Filters["date"]
			assert.Equal(t, tt.date != "", hasDate)
		})
	}
}

func TestQueryProcessor_FirstIntentWins(t *testing.T) {
	t.Parallel()
	assert.Equal(t, IntentProcedural, processQuery(t, "how to compare modules").Intent)
	assert.Equal(t, IntentFactual, processQuery(t, "what is due next week").Intent)
	assert.Equal(t, IntentTemporal, processQuery(t, "COMP0066 coursework deadline").Intent)
	assert.Equal(t, IntentRecommendation, processQuery(t, "推荐一些选修课").Intent)
	assert.Equal(t, IntentGeneral, processQuery(t, "library printing").Intent)
}

func TestQueryProcessor_Chinese(t *testing.T) {
	t.Parallel()
	pq := processQuery(t, "明天的讲座在哪里")

	assert.Equal(t, IntentNavigational, pq.Intent)
	require.NotNil(t, pq.TemporalContext)
	assert.Equal(t, "2025-03-15", pq.TemporalContext.Date)
	assert.Equal(t, []string{"讲座"}, pq.Entities[EntityActivities])
}

func TestQueryProcessor_Entities(t *testing.T) {
	t.Parallel()
	pq := processQuery(t, "Meeting with Dr Smith and Prof. Jane Doe on 2025-03-20 or 20/03/2025 about comp0066, COMP0066 vs MATH0001")

	assert.Equal(t, []string{"COMP0066", "MATH0001"}, pq.Entities[EntityCourses])
	assert.Equal(t, []string{"Dr Smith", "Prof. Jane Doe"}, pq.Entities[EntityPeople])
	assert.Equal(t, []string{"2025-03-20", "20/03/2025"}, pq.Entities[EntityDates])
	assert.Equal(t, "COMP0066", pq.Filters["course_code"])
	assert.Empty(t, pq.Entities[EntityLocations])
}

func TestQueryProcessor_Keywords(t *testing.T) {
	t.Parallel()
	pq := processQuery(t, "Is the library open on Sunday?")
	assert.Equal(t, []string{"library", "open", "sunday"}, pq.Keywords)
}

func TestQueryProcessor_ExpansionCap(t *testing.T) {
	t.Parallel()
	pq := processQuery(t, "how to submit course assignment")

	require.Len(t, pq.ExpandedQueries, 5)
	assert.Equal(t, "how to submit course assignment", pq.ExpandedQueries[0])
	assert.Equal(t, "steps to how to submit course assignment", pq.ExpandedQueries[1])
	assert.Equal(t, "how to submit class assignment", pq.ExpandedQueries[3])
	assert.Equal(t, "how to submit module assignment", pq.ExpandedQueries[4])
}

func TestQueryProcessor_CustomLocations(t *testing.T) {
	t.Parallel()
	p := NewQueryProcessor(nil, WithLocations([]string{"Student Centre"}))
	pq, err := p.Process(context.Background(), "opening hours of the student centre")
	require.NoError(t, err)
	assert.Equal(t, []string{"Student Centre"}, pq.Entities[EntityLocations])
}

func TestQueryProcessor_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueryProcessor(nil).Process(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}
