package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreprocess(t *testing.T) {
	assert.Equal(t, "hello world", Preprocess("  Hello,   WORLD!  "))
	assert.Equal(t, "a b c", Preprocess("a\tb\nc"))
	assert.Equal(t, "", Preprocess("!!! ..."))
}

func TestSparseScore(t *testing.T) {
	assert.Equal(t, 0.0, SparseScore("", "anything"))
	assert.Equal(t, 1.0, SparseScore("mobile", "mobile phone number"))
	assert.Equal(t, 0.5, SparseScore("mobile email", "mobile phone"))
	assert.Equal(t, 0.0, SparseScore("address", ""))
}

func TestCosineSimilarity(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(nil, []float64{1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
}

func TestHybridScore_DefaultWeightsOnNonPositiveSum(t *testing.T) {
	got := HybridScore(1.0, 0.0, 0, 0)
	assert.InDelta(t, 0.45, got, 1e-9)
}

func TestHybridScore_Normalized(t *testing.T) {
	// Weights are normalized, so scaling both leaves the blend unchanged.
	assert.InDelta(t, HybridScore(0.8, 0.4, 0.45, 0.55), HybridScore(0.8, 0.4, 4.5, 5.5), 1e-9)
}

type staticEmbedder struct{ vec []float64 }

func (e staticEmbedder) Embed(string) []float64 { return e.vec }

func TestScoreRecords_SortAndOverrides(t *testing.T) {
	records := []Record{
		{Code: "a", SearchText: "nothing in common"},
		{Code: "b", SearchText: "mobile number"},
		{Code: "c", SearchText: "mobile"},
	}

	scored := ScoreRecords("mobile", records, 1, 0, nil, nil)
	assert.Equal(t, "b", scored[0].Code)
	assert.Equal(t, "c", scored[1].Code)

	// Override index 0 to force record "a" to the top.
	scored = ScoreRecords("mobile", records, 1, 0, []float64{5, 0, 0}, nil)
	assert.Equal(t, "a", scored[0].Code)

	// Negative overrides clamp to zero.
	scored = ScoreRecords("mobile", records, 1, 0, []float64{-1, -1, -1}, nil)
	for _, item := range scored {
		assert.Equal(t, 0.0, item.Score)
	}
}

func TestScoreRecords_WeightMonotonicity(t *testing.T) {
	// A lexically-exact match must not lose rank against a semantically
	// similar non-match when the sparse weight grows.
	embedder := staticEmbedder{vec: []float64{1, 0}}
	records := []Record{
		{Code: "semantic", SearchText: "unrelated words", Embedding: []float64{0.9, 0.1}},
		{Code: "exact", SearchText: "mobile", Embedding: []float64{0, 1}},
	}

	rankOfExact := func(wSparse, wDense float64) int {
		scored := ScoreRecords("mobile", records, wSparse, wDense, nil, embedder)
		for i, item := range scored {
			if item.Code == "exact" {
				return i
			}
		}
		return -1
	}

	low := rankOfExact(0.1, 0.9)
	high := rankOfExact(0.9, 0.1)
	assert.LessOrEqual(t, high, low)
	assert.Equal(t, 0, high)
}

func TestScoreRecords_TieBreakByInputOrder(t *testing.T) {
	records := []Record{
		{Code: "first", SearchText: "mobile"},
		{Code: "second", SearchText: "mobile"},
	}
	scored := ScoreRecords("mobile", records, 1, 0, nil, nil)
	assert.Equal(t, "first", scored[0].Code)
	assert.Equal(t, "second", scored[1].Code)
}

func TestApplyTopNAndGap(t *testing.T) {
	scored := []Scored{
		{Record: Record{Code: "1"}, Score: 0.93},
		{Record: Record{Code: "2"}, Score: 0.91},
		{Record: Record{Code: "3"}, Score: 0.52},
		{Record: Record{Code: "4"}, Score: 0.51},
	}

	out := ApplyTopNAndGap(scored, 10, 0.2)
	assert.Len(t, out, 2)
	assert.Equal(t, "1", out[0].Code)
	assert.Equal(t, "2", out[1].Code)

	out = ApplyTopNAndGap(scored, 2, 1.0)
	assert.Len(t, out, 2)

	// The first result always survives the gap check.
	out = ApplyTopNAndGap(scored, 10, 0.0001)
	assert.GreaterOrEqual(t, len(out), 1)
	assert.Equal(t, "1", out[0].Code)

	assert.Nil(t, ApplyTopNAndGap(nil, 5, 0.2))
}

func TestApplyTopNAndGap_ScoreCutoffScenario(t *testing.T) {
	scored := []Scored{
		{Record: Record{Code: "1"}, Score: 0.93},
		{Record: Record{Code: "2"}, Score: 0.91},
		{Record: Record{Code: "3"}, Score: 0.52},
	}
	out := ApplyTopNAndGap(scored, 10, 0.2)
	codes := []string{}
	for _, item := range out {
		codes = append(codes, item.Code)
	}
	assert.Equal(t, []string{"1", "2"}, codes)
}
