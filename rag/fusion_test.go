package rag

import (
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankedList(ids ...string) []RetrievedDocument {
	out := make([]RetrievedDocument, len(ids))
	for i, id := range ids {
		out[i] = RetrievedDocument{ID: id, Text: "text " + id, Score: float64(len(ids) - i), Source: SourceVector}
	}
	return out
}

func TestReciprocalRankFusion(t *testing.T) {
	t.Parallel()
	fused := ReciprocalRankFusion([][]RetrievedDocument{
		rankedList("a", "b", "c"),
		rankedList("b", "a", "d"),
	}, 60, 0)

	require.Len(t, fused, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, []string{fused[0].ID, fused[1].ID, fused[2].ID, fused[3].ID})
	assert.InDelta(t, 1.0/61+1.0/62, fused[0].Score, 1e-12)
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-12)
	assert.InDelta(t, 1.0/63, fused[2].Score, 1e-12)
	for _, d := range fused {
		assert.Equal(t, SourceHybrid, d.Source)
		assert.Equal(t, "text "+d.ID, d.Text)
	}
}

func TestReciprocalRankFusion_TopKAndDefaultK(t *testing.T) {
	t.Parallel()
	fused := ReciprocalRankFusion([][]RetrievedDocument{rankedList("x", "y", "z")}, 0, 2)
	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].ID)
	assert.InDelta(t, 1.0/61, fused[0].Score, 1e-12)

	assert.Empty(t, ReciprocalRankFusion(nil, 60, 5))
}

func TestProperty_ReciprocalRankFusion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("fused ranking is sorted, unique and conserves total score", prop.ForAll(
		func(raw [][]int, k int) bool {
			lists := make([][]RetrievedDocument, len(raw))
			var expectedTotal float64
			for i, ids := range raw {
				seen := make(map[int]bool)
				for _, n := range ids {
					if seen[n] {
						continue
					}
					seen[n] = true
					lists[i] = append(lists[i], RetrievedDocument{ID: fmt.Sprintf("d%02d", n)})
					expectedTotal += 1.0 / float64(k+len(lists[i]))
				}
			}

			fused := ReciprocalRankFusion(lists, k, 0)

			ids := make(map[string]bool, len(fused))
			var total float64
			for i, d := range fused {
				if ids[d.ID] {
					return false
				}
				ids[d.ID] = true
				total += d.Score
				if d.Score <= 0 || d.Score > float64(len(lists))/float64(k+1)+1e-12 {
					return false
				}
				if i > 0 {
					prev := fused[i-1]
					if prev.Score < d.Score || (prev.Score == d.Score && prev.ID > d.ID) {
						return false
					}
				}
			}
			return math.Abs(total-expectedTotal) < 1e-9
		},
		gen.SliceOf(gen.SliceOf(gen.IntRange(0, 20))),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}
