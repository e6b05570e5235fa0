package retrieval

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx used by the trigram probe. Both *pgxpool.Conn
// and pgx.Tx satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// TrigramSparseScores computes sparse scores for all docs in one statement
// using pg_trgm similarity(). It returns nil on any failure so callers fall
// back to the in-process token-overlap score; pg_trgm is a capability probe,
// not a hard dependency.
func TrigramSparseScores(ctx context.Context, q Querier, query string, docs []string) []float64 {
	if q == nil || len(docs) == 0 {
		return nil
	}

	rows, err := q.Query(ctx,
		`SELECT similarity($1, doc) FROM unnest($2::text[]) AS t(doc)`,
		Preprocess(query), docs)
	if err != nil {
		return nil
	}
	defer rows.Close()

	scores := make([]float64, 0, len(docs))
	for rows.Next() {
		var s *float64
		if err := rows.Scan(&s); err != nil {
			return nil
		}
		v := 0.0
		if s != nil && *s > 0 {
			v = *s
		}
		scores = append(scores, v)
	}
	if rows.Err() != nil || len(scores) != len(docs) {
		return nil
	}
	return scores
}
