package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/BaSui01/campusrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedIndex(t *testing.T, idx VectorIndex, docs ...IndexedDocument) {
	t.Helper()
	_, err := idx.Upsert(context.Background(), docs)
	require.NoError(t, err)
}

func doc(id, text string, vec ...float64) IndexedDocument {
	return IndexedDocument{ID: id, Vector: vec, Payload: Payload{Text: text}}
}

func TestParseDistance(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Distance{"": DistanceCosine, "Cosine": DistanceCosine, "dot": DistanceDot, "euclidean": DistanceEuclid} {
		got, err := ParseDistance(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDistance("manhattan")
	assert.True(t, types.IsErrorCode(err, types.ErrConfiguration))
}

func TestSimilarity(t *testing.T) {
	t.Parallel()
	a, b := []float64{1, 0}, []float64{0, 1}
	assert.InDelta(t, 0, similarity(DistanceCosine, a, b), 1e-9)
	assert.InDelta(t, 1, similarity(DistanceCosine, a, a), 1e-9)
	assert.InDelta(t, 2, similarity(DistanceDot, []float64{1, 1}, []float64{1, 1}), 1e-9)
	assert.InDelta(t, 1/(1+1.4142135623730951), similarity(DistanceEuclid, a, b), 1e-9)
	assert.InDelta(t, 1, similarity(DistanceEuclid, a, a), 1e-9)
}

func TestMatchesFilters(t *testing.T) {
	t.Parallel()
	p := Payload{
		DocumentType: "course",
		SourceID:     "moodle-1",
		Metadata:     map[string]any{"course_code": "COMP0066", "week": float64(3)},
	}
	assert.True(t, matchesFilters(p, nil))
	assert.True(t, matchesFilters(p, Filters{"document_type": "course", "course_code": "COMP0066"}))
	assert.True(t, matchesFilters(p, Filters{"metadata.week": 3}))
	assert.False(t, matchesFilters(p, Filters{"source_id": "moodle-2"}))
	assert.False(t, matchesFilters(p, Filters{"location": "Library"}))
}

func TestCombineHybrid(t *testing.T) {
	t.Parallel()
	vectorHits := []SearchHit{
		{ID: "a", Score: 1.0, Payload: Payload{Text: "library opening hours"}},
		{ID: "b", Score: 0.5, Payload: Payload{Text: "gym schedule"}},
	}
	lexical := []SearchHit{
		{ID: "b", Payload: Payload{Text: "gym schedule"}},
		{ID: "c", Payload: Payload{Text: "gym", Title: "Schedule"}},
		{ID: "d", Payload: Payload{Text: "unrelated"}},
	}

	out := combineHybrid(vectorHits, lexical, "Gym Schedule", HybridOptions{Limit: 10, VectorWeight: 0.7, TextWeight: 0.3})
	require.Len(t, out, 3, "zero keyword score candidates are dropped")

	assert.Equal(t, "a", out[0].ID)
	assert.InDelta(t, 0.7, out[0].Score, 1e-9)
	assert.Equal(t, SourceVector, out[0].Source)

	assert.Equal(t, "b", out[1].ID)
	assert.InDelta(t, 0.35+0.3, out[1].Score, 1e-9)
	assert.Equal(t, SourceHybrid, out[1].Source)

	assert.Equal(t, "c", out[2].ID)
	assert.InDelta(t, 0.3, out[2].Score, 1e-9)
	assert.Equal(t, SourceKeyword, out[2].Source)
}

func TestCombineHybrid_TieBreakByID(t *testing.T) {
	t.Parallel()
	hits := []SearchHit{{ID: "z", Score: 0.5}, {ID: "m", Score: 0.5}, {ID: "a", Score: 0.5}}
	out := combineHybrid(hits, nil, "", HybridOptions{Limit: 2, VectorWeight: 1})
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "m", out[1].ID)
}

func TestPayloadFieldsRoundTrip(t *testing.T) {
	t.Parallel()
	p := Payload{Text: "t", Title: "T", SourceID: "s1", ChunkIndex: 2, TotalChunks: 3, Metadata: map[string]any{"k": "v"}}
	id, got := payloadFromFields(payloadFields("doc-1", p))
	assert.Equal(t, "doc-1", id)
	assert.Equal(t, p.Text, got.Text)
	assert.Equal(t, p.SourceID, got.SourceID)
	assert.Equal(t, 2, got.ChunkIndex)
	assert.Equal(t, "v", got.Metadata["k"])
}

func TestMemoryIndex_UpsertAssignsIDs(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex(MemoryIndexConfig{}, nil)
	ids, err := idx.Upsert(context.Background(), []IndexedDocument{doc("", "x", 1, 0), doc("fixed", "y", 0, 1)})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Len(t, ids[0], 36)
	assert.Equal(t, "fixed", ids[1])

	stats, err := idx.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CollectionStats{Count: 2, Dimension: 2, Distance: DistanceCosine}, stats)
}

func TestMemoryIndex_UpsertDimensionMismatch(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex(MemoryIndexConfig{Dimension: 3}, nil)
	_, err := idx.Upsert(context.Background(), []IndexedDocument{doc("a", "x", 1, 0)})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = idx.Upsert(context.Background(), []IndexedDocument{doc("a", "x")})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestMemoryIndex_UpsertOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex(MemoryIndexConfig{}, nil)
	seedIndex(t, idx, doc("a", "old text about parking", 1, 0))
	seedIndex(t, idx, doc("a", "new text about library", 1, 0))

	stats, _ := idx.Stats(ctx)
	assert.Equal(t, 1, stats.Count)

	hits, err := idx.HybridSearch(ctx, []float64{0, 1}, "parking", HybridOptions{Limit: 5, TextWeight: 1})
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, SourceVector, h.Source, "stale terms must be dropped from the inverted index")
	}
}

func TestMemoryIndex_SearchFiltersAndThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex(MemoryIndexConfig{}, nil)
	a := doc("a", "a", 1, 0)
	a.Payload.DocumentType = "course"
	b := doc("b", "b", 0.9, 0.1)
	b.Payload.DocumentType = "event"
	c := doc("c", "c", 0, 1)
	c.Payload.DocumentType = "course"
	seedIndex(t, idx, a, b, c)

	hits, err := idx.Search(ctx, []float64{1, 0}, SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"a", "b", "c"}, hitIDs(hits))

	hits, err = idx.Search(ctx, []float64{1, 0}, SearchOptions{Limit: 5, Filters: Filters{"document_type": "course"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, hitIDs(hits))

	hits, err = idx.Search(ctx, []float64{1, 0}, SearchOptions{Limit: 5, ScoreThreshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, hitIDs(hits))
}

func TestMemoryIndex_SearchCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryIndex(MemoryIndexConfig{}, nil).Search(ctx, []float64{1}, SearchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryIndex_HybridRareKeywordBoost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex(MemoryIndexConfig{Lexical: LexicalInverted}, nil)
	seedIndex(t, idx,
		doc("close", "general campus information", 1, 0),
		doc("rare", "the COMP0066 coursework deadline", 0.8, 0.6),
	)

	hits, err := idx.HybridSearch(ctx, []float64{1, 0}, "COMP0066", HybridOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "rare", hits[0].ID)
	assert.Equal(t, SourceHybrid, hits[0].Source)
	assert.InDelta(t, 0.7*0.8+0.3, hits[0].Score, 1e-9)
	assert.Equal(t, SourceVector, hits[1].Source)
}

func TestMemoryIndex_LexicalModes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var docs []IndexedDocument
	for i := 0; i < 10; i++ {
		docs = append(docs, doc(fmt.Sprintf("d%02d", i), "filler", 1, 0))
	}
	// 关键词文档插入在最后，且向量与查询正交
	docs = append(docs, doc("target", "printing credits", 0, 1))

	page := NewMemoryIndex(MemoryIndexConfig{Lexical: LexicalPageScan}, nil)
	seedIndex(t, page, docs...)
	hits, err := page.HybridSearch(ctx, []float64{1, 0}, "printing", HybridOptions{Limit: 2, TextWeight: 1})
	require.NoError(t, err)
	assert.NotContains(t, hitIDs(hits), "target", "page scan only sees the first 2×limit documents")

	inverted := NewMemoryIndex(MemoryIndexConfig{Lexical: LexicalInverted}, nil)
	seedIndex(t, inverted, docs...)
	hits, err = inverted.HybridSearch(ctx, []float64{1, 0}, "printing", HybridOptions{Limit: 2, TextWeight: 1})
	require.NoError(t, err)
	assert.Equal(t, "target", hits[0].ID)

	auto := NewMemoryIndex(MemoryIndexConfig{}, nil)
	seedIndex(t, auto, docs...)
	hits, err = auto.HybridSearch(ctx, []float64{1, 0}, "printing", HybridOptions{Limit: 2, TextWeight: 1})
	require.NoError(t, err)
	assert.Contains(t, hitIDs(hits), "target", "11 documents exceed the 2×limit threshold")

	autoHigh := NewMemoryIndex(MemoryIndexConfig{PageScanThreshold: 100}, nil)
	seedIndex(t, autoHigh, docs...)
	hits, err = autoHigh.HybridSearch(ctx, []float64{1, 0}, "printing", HybridOptions{Limit: 2, TextWeight: 1})
	require.NoError(t, err)
	assert.NotContains(t, hitIDs(hits), "target")
}

func TestMemoryIndex_DeleteAndScroll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex(MemoryIndexConfig{}, nil)
	for i := 0; i < 5; i++ {
		d := doc(fmt.Sprintf("id-%d", i), "text", 1, 0)
		d.Payload.SourceID = fmt.Sprintf("src-%d", i%2)
		seedIndex(t, idx, d)
	}

	page, next, err := idx.Scroll(ctx, 2, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-0", "id-1"}, docIDs(page))
	assert.Equal(t, "id-1", next)

	page, next, err = idx.Scroll(ctx, 2, next, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-2", "id-3"}, docIDs(page))

	page, next, err = idx.Scroll(ctx, 2, next, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-4"}, docIDs(page))
	assert.Empty(t, next)

	page, _, err = idx.Scroll(ctx, 10, "", Filters{"source_id": "src-0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-0", "id-2", "id-4"}, docIDs(page))

	require.NoError(t, idx.Delete(ctx, []string{"id-0", "missing"}))
	stats, _ := idx.Stats(ctx)
	assert.Equal(t, 4, stats.Count)
}

func TestMemoryIndex_CreateCollection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex(MemoryIndexConfig{}, nil)
	require.NoError(t, idx.CreateCollection(ctx, "ucl_knowledge", 2, DistanceEuclid))
	seedIndex(t, idx, doc("a", "x", 1, 0))

	require.NoError(t, idx.CreateCollection(ctx, "ucl_knowledge", 2, DistanceEuclid))
	err := idx.CreateCollection(ctx, "ucl_knowledge", 3, DistanceEuclid)
	assert.True(t, types.IsErrorCode(err, types.ErrConfiguration))

	stats, _ := idx.Stats(ctx)
	assert.Equal(t, DistanceEuclid, stats.Distance)
}

func TestInvertedIndex(t *testing.T) {
	t.Parallel()
	ix := NewInvertedIndex()
	ix.Add("1", "Library opening hours")
	ix.Add("2", "图书馆开放时间")
	ix.Add("3", "Gym hours")

	assert.Equal(t, []string{"1", "3"}, ix.Candidates("HOURS?"))
	assert.Equal(t, []string{"2"}, ix.Candidates("图书"))
	assert.Empty(t, ix.Candidates("parking"))

	ix.Remove("3")
	assert.Equal(t, []string{"1"}, ix.Candidates("hours"))
	assert.Equal(t, 2, ix.Len())

	ix.Add("1", "parking")
	assert.Empty(t, ix.Candidates("library"))
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"comp0066", "课", "程", "due", "5pm"}, tokenize("COMP0066 课程, due 5pm!"))
}

func hitIDs(hits []SearchHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func docIDs(docs []IndexedDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestLexicalTerms(t *testing.T) {
	t.Parallel()
	tests := []struct {
		query string
		want  []string
	}{
		{"the COMP0099 form?", []string{"comp0099", "form"}},
		{"What is the library, the LIBRARY opening time", []string{"library", "opening", "time"}},
		{"what is the", nil},
		{"图书馆的开放时间", []string{"图", "书", "馆", "开", "放", "时", "间"}},
		{"a b c d e f g h i j k", []string{"b", "c", "d", "e", "f", "g", "h", "i"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, lexicalTerms(tt.query))
		})
	}
}
