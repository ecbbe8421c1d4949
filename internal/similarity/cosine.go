// Package similarity ranks corpus records against a query vector by cosine
// similarity using a brute-force scan.
package similarity

import (
	"math"
	"sort"

	"vaultsearch/internal/domain"
)

// MinScore is the lowest cosine similarity. Undefined similarities (zero norm,
// empty or mismatched vectors) score MinScore.
const MinScore = -1.0

// Hit is a ranked record position within the scanned snapshot.
type Hit struct {
	Index int
	Path  string
	Score float64
}

// Cosine computes (a·b) / (||a|| * ||b||).
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return MinScore
	}
	var dot, na2, nb2 float64
	for i := range a {
		dot += a[i] * b[i]
		na2 += a[i] * a[i]
		nb2 += b[i] * b[i]
	}
	if na2 == 0 || nb2 == 0 {
		return MinScore
	}
	s := dot / (math.Sqrt(na2) * math.Sqrt(nb2))
	if math.IsNaN(s) {
		return MinScore
	}
	// clamp rounding drift
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return s
}

// TopK scores every record against q and returns the min(k, len(recs)) best,
// highest first. Equal scores keep their snapshot order.
func TopK(q []float64, recs []domain.Record, k int) []Hit {
	if k <= 0 || len(recs) == 0 {
		return nil
	}
	hits := make([]Hit, len(recs))
	for i := range recs {
		hits[i] = Hit{Index: i, Path: recs[i].Path, Score: Cosine(q, recs[i].Embedding)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}
