package vector

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// ValidateQuery checks the search parameters shared by every driver.
func ValidateQuery(q Query) error {
	if err := ValidateBounds(q.Limit, q.Threshold); err != nil {
		return err
	}
	if len(q.Vector) == 0 {
		return fmt.Errorf("%w: query vector is empty", ErrInvalidArgument)
	}
	return nil
}

// ValidateBounds checks limit and threshold without a query vector.
func ValidateBounds(limit int, threshold float64) error {
	if limit < MinLimit || limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between %d and %d, got %d", ErrInvalidArgument, MinLimit, MaxLimit, limit)
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: threshold must be between 0 and 1, got %v", ErrInvalidArgument, threshold)
	}
	return nil
}

// Cosine returns the cosine similarity of a and b. A zero magnitude vector
// scores 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: dimension mismatch %d != %d", ErrInvalidArgument, len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Candidate is a chunk considered by Rank.
type Candidate struct {
	Chunk        Chunk
	DocumentName string
}

// Rank scores candidates against q.Vector, drops those below the threshold,
// orders the rest and truncates to the limit. The query must already be
// valid.
func Rank(q Query, candidates []Candidate) ([]SearchResult, error) {
	results := make([]SearchResult, 0, min(len(candidates), q.Limit))
	for _, c := range candidates {
		if len(c.Chunk.Embedding) == 0 {
			continue
		}
		raw, err := Cosine(q.Vector, c.Chunk.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.Chunk.ID, err)
		}
		score := ClampScore(raw)
		if score < q.Threshold {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:      c.Chunk.ID,
			DocumentID:   c.Chunk.DocumentID,
			DocumentName: c.DocumentName,
			Content:      c.Chunk.Content,
			Score:        score,
			ChunkIndex:   c.Chunk.Index,
		})
	}

	return Finalize(results, q.Limit), nil
}

// Finalize sorts results by score descending with ties broken by ascending
// chunk id, and truncates to limit. Drivers that score in the backend call
// it so every driver returns the same order.
func Finalize(results []SearchResult, limit int) []SearchResult {
	slices.SortFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// ScoreTolerance is how far below 1 a score may fall through float32
// rounding and still count as an exact match.
const ScoreTolerance = 1e-6

// ClampScore caps scores at 1. Scores within ScoreTolerance of 1 become 1,
// so identical vectors meet a threshold of 1 in every driver. Negative
// scores are kept so they stay below every valid threshold; nothing that
// passes a threshold is below 0.
func ClampScore(s float64) float64 {
	if s >= 1-ScoreTolerance {
		return 1
	}
	return s
}

// FilterDocuments reports whether documentID passes the optional filter.
func FilterDocuments(ids []int64, documentID int64) bool {
	return len(ids) == 0 || slices.Contains(ids, documentID)
}
