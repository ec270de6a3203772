// =============================================================================
// 🚀 RAG 性能基准测试
// =============================================================================
// 覆盖检索热路径：分块、hash 嵌入、向量/混合检索、RRF 与 MMR。
//
// 运行方式:
//   go test -bench=. -benchmem ./rag/...
//   go test -bench=BenchmarkMemoryIndex -benchmem ./rag/...
// =============================================================================

package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/BaSui01/campusrag/llm/embedding"
)

var benchTopics = []string{
	"coursework deadline submission Moodle extension",
	"library opening hours study space booking",
	"accommodation halls rent payment contract",
	"exam timetable resit assessment board",
	"visa attendance monitoring international students",
}

func benchCorpus(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("COMP%04d %s. Section %d covers %s.",
			i%100, benchTopics[i%len(benchTopics)], i, benchTopics[(i+2)%len(benchTopics)])
	}
	return out
}

func benchIndex(b *testing.B, n, dims int) (*MemoryIndex, *embedding.HashProvider) {
	b.Helper()
	ctx := context.Background()
	hp := embedding.NewHashProvider(embedding.HashConfig{Dimensions: dims})
	idx := NewMemoryIndex(MemoryIndexConfig{Lexical: LexicalInverted}, nil)
	if err := idx.CreateCollection(ctx, "bench", dims, DistanceCosine); err != nil {
		b.Fatal(err)
	}

	texts := benchCorpus(n)
	vecs, err := hp.EmbedDocuments(ctx, texts)
	if err != nil {
		b.Fatal(err)
	}
	docs := make([]IndexedDocument, n)
	for i, text := range texts {
		docs[i] = IndexedDocument{
			Vector: vecs[i],
			Payload: Payload{
				Text:         text,
				DocumentType: []string{"course", "facility"}[i%2],
				Metadata:     map[string]any{"course_code": fmt.Sprintf("COMP%04d", i%100)},
			},
		}
	}
	if _, err := idx.Upsert(ctx, docs); err != nil {
		b.Fatal(err)
	}
	return idx, hp
}

// =============================================================================
// ✂️ 分块与嵌入
// =============================================================================

func BenchmarkChunker_Chunk(b *testing.B) {
	c := NewChunker(DefaultChunkerConfig(), nil)
	text := strings.Join(benchCorpus(200), "\n\n")

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.Chunk(text, nil)
	}
}

func BenchmarkHashEmbedding_Query(b *testing.B) {
	hp := embedding.NewHashProvider(embedding.HashConfig{Dimensions: 1024})
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := hp.EmbedQuery(ctx, "When is the COMP0066 coursework deadline?"); err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// 🔍 检索
// =============================================================================

func BenchmarkMemoryIndex_Search(b *testing.B) {
	for _, n := range []int{1000, 10000} {
		b.Run(fmt.Sprintf("docs=%d", n), func(b *testing.B) {
			idx, hp := benchIndex(b, n, 256)
			ctx := context.Background()
			q, _ := hp.EmbedQuery(ctx, "coursework deadline extension")

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := idx.Search(ctx, q, SearchOptions{Limit: 10}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkMemoryIndex_SearchFiltered(b *testing.B) {
	idx, hp := benchIndex(b, 10000, 256)
	ctx := context.Background()
	q, _ := hp.EmbedQuery(ctx, "coursework deadline extension")
	opts := SearchOptions{Limit: 10, Filters: Filters{"course_code": "COMP0066"}}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Search(ctx, q, opts); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryIndex_HybridSearch(b *testing.B) {
	idx, hp := benchIndex(b, 5000, 256)
	ctx := context.Background()
	query := "library opening hours"
	q, _ := hp.EmbedQuery(ctx, query)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := idx.HybridSearch(ctx, q, query, HybridOptions{Limit: 10}); err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// 🔀 融合与多样性
// =============================================================================

func BenchmarkReciprocalRankFusion(b *testing.B) {
	lists := make([][]RetrievedDocument, 3)
	for l := range lists {
		lists[l] = make([]RetrievedDocument, 50)
		for i := range lists[l] {
			lists[l][i] = RetrievedDocument{ID: fmt.Sprintf("doc-%d", (i*(l+1))%80), Score: 1 / float64(i+1)}
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = ReciprocalRankFusion(lists, 60, 10)
	}
}

func BenchmarkMMRSelect(b *testing.B) {
	hp := embedding.NewHashProvider(embedding.HashConfig{Dimensions: 256})
	texts := benchCorpus(40)
	vecs, err := hp.EmbedDocuments(context.Background(), texts)
	if err != nil {
		b.Fatal(err)
	}
	docs := make([]RetrievedDocument, len(texts))
	for i, text := range texts {
		docs[i] = RetrievedDocument{ID: fmt.Sprintf("doc-%d", i), Text: text, Score: 1 - float64(i)/100}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = mmrSelect(docs, vecs, 10, 0.7)
	}
}
