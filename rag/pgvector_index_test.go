package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BaSui01/campusrag/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePgx 记录 SQL 并返回预置行
type fakePgx struct {
	execs    []string
	execArgs [][]any
	queries  []string
	qArgs    [][]any
	batched  int
	rows     [][]any
	rowQueue [][][]any
	scalar   []any
	execErr  error
}

func (f *fakePgx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.execArgs = append(f.execArgs, args)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakePgx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, sql)
	f.qArgs = append(f.qArgs, args)
	rows := f.rows
	if len(f.rowQueue) > 0 {
		rows, f.rowQueue = f.rowQueue[0], f.rowQueue[1:]
	}
	return &fakeRows{rows: rows, pos: -1}, nil
}

func (f *fakePgx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, sql)
	var v any
	if len(f.scalar) > 0 {
		v, f.scalar = f.scalar[0], f.scalar[1:]
	}
	return fakeRow{v: v}
}

func (f *fakePgx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batched += b.Len()
	for _, q := range b.QueuedQueries {
		f.execs = append(f.execs, q.SQL)
		f.execArgs = append(f.execArgs, q.Arguments)
	}
	return &fakeBatch{err: f.execErr}
}

type fakeBatch struct{ err error }

func (b *fakeBatch) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, b.err }
func (b *fakeBatch) Query() (pgx.Rows, error)         { return &fakeRows{pos: -1}, b.err }
func (b *fakeBatch) QueryRow() pgx.Row                { return fakeRow{} }
func (b *fakeBatch) Close() error                     { return nil }

type fakeRow struct{ v any }

func (r fakeRow) Scan(dest ...any) error {
	if r.v == nil {
		return pgx.ErrNoRows
	}
	return assign(dest[0], r.v)
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.pos], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i := range dest {
		if err := assign(dest[i], row[i]); err != nil {
			return err
		}
	}
	return nil
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *string:
		*d = v.(string)
	case *[]byte:
		*d = v.([]byte)
	case *float64:
		*d = v.(float64)
	case *int:
		*d = v.(int)
	default:
		return errors.New("unsupported scan destination")
	}
	return nil
}

func payloadRow(id, text string, extra ...any) []any {
	raw, _ := json.Marshal(payloadFields(id, Payload{Text: text}))
	return append([]any{id, raw}, extra...)
}

func newFakePgvector(t *testing.T, f *fakePgx) *PgvectorIndex {
	t.Helper()
	idx, err := newPgvectorIndex(f, PgvectorConfig{Dimension: 2}, nil)
	require.NoError(t, err)
	return idx
}

func TestDistanceToScore(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.75, distanceToScore(DistanceCosine, 0.25), 1e-9)
	assert.InDelta(t, 3, distanceToScore(DistanceDot, -3), 1e-9)
	assert.InDelta(t, 0.5, distanceToScore(DistanceEuclid, 1), 1e-9)

	op, opclass := distanceOperator(DistanceEuclid)
	assert.Equal(t, "<->", op)
	assert.Equal(t, "vector_l2_ops", opclass)
}

func TestContainmentFilter(t *testing.T) {
	t.Parallel()
	raw, err := containmentFilter(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", raw)

	raw, err = containmentFilter(Filters{"document_type": "faq", "course_code": "COMP0066", "metadata.week": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"document_type":"faq","metadata":{"course_code":"COMP0066","week":3}}`, raw)
}

func TestLikePatterns(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"%library%", `%100\%%`, `%snake\_case%`}, likePatterns([]string{"library", "100%", "snake_case"}))
}

func TestNewPgvectorIndex_InvalidTable(t *testing.T) {
	t.Parallel()
	_, err := newPgvectorIndex(&fakePgx{}, PgvectorConfig{Table: "docs; DROP TABLE x"}, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrConfiguration))
}

func TestPgvectorIndex_CreateCollection(t *testing.T) {
	t.Parallel()
	f := &fakePgx{}
	idx := newFakePgvector(t, f)

	require.NoError(t, idx.CreateCollection(context.Background(), "ucl_knowledge", 1024, DistanceCosine))
	require.Len(t, f.execs, 3)
	assert.Contains(t, f.execs[0], "CREATE EXTENSION IF NOT EXISTS vector")
	assert.Contains(t, f.execs[1], `CREATE TABLE IF NOT EXISTS "ucl_knowledge"`)
	assert.Contains(t, f.execs[1], "vector(1024)")
	assert.Contains(t, f.execs[2], "vector_cosine_ops")
	assert.Contains(t, f.execs[2], "m = 16, ef_construction = 100")

	assert.Error(t, idx.CreateCollection(context.Background(), "Bad-Name", 4, DistanceCosine))
}

func TestPgvectorIndex_Upsert(t *testing.T) {
	t.Parallel()
	f := &fakePgx{}
	idx := newFakePgvector(t, f)

	ids, err := idx.Upsert(context.Background(), []IndexedDocument{
		{ID: "a", Vector: []float64{1, 0}, Payload: Payload{Text: "hello", SourceID: "s1"}},
		{Vector: []float64{0, 1}, Payload: Payload{Text: "world"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a", ids[0])
	assert.Len(t, ids[1], 36)
	assert.Equal(t, 2, f.batched)
	assert.Contains(t, f.execs[0], "ON CONFLICT (id) DO UPDATE")

	args := f.execArgs[0]
	assert.Equal(t, "a", args[0])
	assert.Equal(t, pgvector.NewVector([]float32{1, 0}), args[1])
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(args[2].(string)), &payload))
	assert.Equal(t, "s1", payload["source_id"])

	_, err = idx.Upsert(context.Background(), []IndexedDocument{{ID: "x", Vector: []float64{1, 2, 3}}})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestPgvectorIndex_UpsertBatchError(t *testing.T) {
	t.Parallel()
	f := &fakePgx{execErr: errors.New("duplicate key")}
	idx := newFakePgvector(t, f)
	_, err := idx.Upsert(context.Background(), []IndexedDocument{{ID: "a", Vector: []float64{1, 0}}})
	assert.ErrorContains(t, err, "pgvector upsert a")
}

func TestPgvectorIndex_Search(t *testing.T) {
	t.Parallel()
	f := &fakePgx{rows: [][]any{
		payloadRow("b", "gym", 0.5),
		payloadRow("a", "library", 0.1),
	}}
	idx := newFakePgvector(t, f)

	hits, err := idx.Search(context.Background(), []float64{1, 0}, SearchOptions{Limit: 5, Filters: Filters{"source": "moodle"}, ScoreThreshold: 0.6})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)
	assert.Equal(t, "library", hits[0].Payload.Text)

	require.Len(t, f.queries, 1)
	assert.Contains(t, f.queries[0], "ORDER BY embedding <=> $1 LIMIT $3")
	assert.Contains(t, f.queries[0], "payload @> $2::jsonb")
	assert.JSONEq(t, `{"source":"moodle"}`, f.qArgs[0][1].(string))
	assert.Equal(t, 5, f.qArgs[0][2])
}

func TestPgvectorIndex_HybridSearch(t *testing.T) {
	t.Parallel()
	f := &fakePgx{rowQueue: [][][]any{
		{payloadRow("a", "campus map", 0.2)},
		{payloadRow("b", "library printing")},
	}}
	idx := newFakePgvector(t, f)

	hits, err := idx.HybridSearch(context.Background(), []float64{1, 0}, "Library Printing", HybridOptions{Limit: 3})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 0.7*0.8, hits[0].Score, 1e-9)
	assert.Equal(t, "b", hits[1].ID)
	assert.Equal(t, SourceKeyword, hits[1].Source)

	require.Len(t, f.queries, 2)
	assert.True(t, strings.Contains(f.queries[1], "CROSS JOIN LATERAL"))
	assert.Contains(t, f.queries[1], "unnest($2::text[])")
	assert.Contains(t, f.queries[1], "ORDER BY id LIMIT $3")
	assert.Equal(t, []string{"%library%", "%printing%"}, f.qArgs[1][1])
	assert.Equal(t, 6, f.qArgs[1][2])
}

func TestPgvectorIndex_HybridSearchRareTermRecall(t *testing.T) {
	t.Parallel()
	f := &fakePgx{rowQueue: [][][]any{
		{},
		{
			payloadRow("doc-01", "generic form guidance"),
			payloadRow("doc-90", "COMP0099 extenuating circumstances form"),
		},
	}}
	idx := newFakePgvector(t, f)

	hits, err := idx.HybridSearch(context.Background(), []float64{1, 0}, "the COMP0099 form?",
		HybridOptions{Limit: 5, Filters: Filters{"document_type": "policy"}})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "doc-90", hits[0].ID)

	require.Len(t, f.queries, 2)
	assert.Equal(t, []string{"%comp0099%", "%form%"}, f.qArgs[1][1], "stop words and punctuation are dropped")
	assert.JSONEq(t, `{"document_type":"policy"}`, f.qArgs[1][0].(string))
	assert.Equal(t, 10, f.qArgs[1][2], "limit applies per term")
}

func TestPgvectorIndex_HybridSearchStopWordsOnly(t *testing.T) {
	t.Parallel()
	f := &fakePgx{rowQueue: [][][]any{{payloadRow("a", "campus map", 0.2)}}}
	idx := newFakePgvector(t, f)

	hits, err := idx.HybridSearch(context.Background(), []float64{1, 0}, "what is the", HybridOptions{Limit: 3})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Len(t, f.queries, 1, "no keyword query without usable terms")
}

func TestPgvectorIndex_ScrollDeleteStats(t *testing.T) {
	t.Parallel()
	f := &fakePgx{
		rows:   [][]any{payloadRow("a", "x"), payloadRow("b", "y"), payloadRow("c", "z")},
		scalar: []any{7, 1024},
	}
	idx := newFakePgvector(t, f)
	ctx := context.Background()

	page, next, err := idx.Scroll(ctx, 2, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, docIDs(page))
	assert.Equal(t, "b", next)
	assert.Equal(t, 3, f.qArgs[0][2], "fetches one extra row")

	require.NoError(t, idx.Delete(ctx, []string{"a", "b"}))
	assert.Contains(t, f.execs[0], "DELETE FROM \"rag_documents\" WHERE id = ANY($1)")
	require.NoError(t, idx.Delete(ctx, nil))
	assert.Len(t, f.execs, 1)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, CollectionStats{Count: 7, Dimension: 1024, Distance: DistanceCosine}, stats)
}
