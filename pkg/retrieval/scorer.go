// Package retrieval implements the hybrid sparse+dense scorer used for
// candidate discovery over the ontology catalog.
package retrieval

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Default blend weights, used whenever the caller supplies a non-positive sum.
const (
	DefaultSparseWeight = 0.45
	DefaultDenseWeight  = 0.55
)

// Record is a scoring candidate. Code identifies the record back to the
// caller; SearchText is the sparse match surface; Embedding may be empty.
type Record struct {
	Code       string
	SearchText string
	Embedding  []float64
}

// Scored pairs a record with its rounded hybrid score.
type Scored struct {
	Record
	Score float64
}

// Preprocess normalizes query and document text identically: lowercase,
// punctuation stripped, whitespace collapsed.
func Preprocess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(text) {
		out[tok] = struct{}{}
	}
	return out
}

// SparseScore is token-intersection overlap: |query ∩ doc| / |query tokens|.
// An empty query scores 0.
func SparseScore(query, doc string) float64 {
	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return 0
	}
	docTokens := tokenSet(strings.ToLower(doc))
	hits := 0
	for tok := range queryTokens {
		if _, ok := docTokens[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// CosineSimilarity computes the cosine of two vectors; empty or zero-length
// vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	for _, x := range a {
		na += x * x
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// HybridScore blends sparse and dense scores by normalized weights. A
// non-positive weight sum falls back to the defaults.
func HybridScore(sparse, dense, wSparse, wDense float64) float64 {
	if wSparse+wDense <= 0 {
		wSparse, wDense = DefaultSparseWeight, DefaultDenseWeight
	}
	return (wSparse*sparse + wDense*dense) / (wSparse + wDense)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Embedder produces a query embedding for dense scoring.
type Embedder interface {
	Embed(text string) []float64
}

// ScoreRecords scores every record against the query and returns them sorted
// by descending score, ties broken by input order. sparseOverrides, when
// non-nil, replaces the computed sparse score per index (clamped at 0).
func ScoreRecords(query string, records []Record, wSparse, wDense float64, sparseOverrides []float64, embedder Embedder) []Scored {
	normalized := Preprocess(query)
	var queryEmbedding []float64
	if embedder != nil {
		queryEmbedding = embedder.Embed(normalized)
	}

	scored := make([]Scored, len(records))
	for i, rec := range records {
		sparse := SparseScore(normalized, rec.SearchText)
		if sparseOverrides != nil && i < len(sparseOverrides) {
			sparse = math.Max(sparseOverrides[i], 0)
		}
		dense := CosineSimilarity(queryEmbedding, rec.Embedding)
		scored[i] = Scored{Record: rec, Score: round6(HybridScore(sparse, dense, wSparse, wDense))}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// ApplyTopNAndGap walks the sorted list and cuts it at topN results or at the
// first score drop of at least gap, whichever comes first. A non-empty input
// always yields at least one result.
func ApplyTopNAndGap(scored []Scored, topN int, gap float64) []Scored {
	if len(scored) == 0 {
		return nil
	}
	limit := topN
	if limit < 1 {
		limit = 1
	}
	if gap < 0 {
		gap = 0
	}

	output := make([]Scored, 0, limit)
	prev := 0.0
	for _, item := range scored {
		if len(output) >= limit {
			break
		}
		if len(output) > 0 && gap > 0 && prev-item.Score >= gap {
			break
		}
		output = append(output, item)
		prev = item.Score
	}
	return output
}
