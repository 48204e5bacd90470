package index

import "sort"

// Flat is a brute-force exact index: O(n) per query, zero graph-construction
// cost. It exists to compute ground truth for HNSW's recall@10 test
// (testable property 9), not as a production search path.
type Flat struct {
	dist  func(a, b []float32) float32
	ids   []string
	vecs  [][]float32
}

// NewFlat constructs an empty brute-force index over dist.
func NewFlat(dist func(a, b []float32) float32) *Flat {
	return &Flat{dist: dist}
}

// Insert appends a vector. Flat never deduplicates or deletes — it is
// rebuilt fresh for each recall comparison.
func (f *Flat) Insert(extID string, vector []float32) {
	f.ids = append(f.ids, extID)
	f.vecs = append(f.vecs, vector)
}

// Search returns the exact k nearest neighbors to query, ascending by
// distance.
func (f *Flat) Search(query []float32, k int) []Result {
	out := make([]Result, len(f.ids))
	for i, v := range f.vecs {
		out[i] = Result{ID: f.ids[i], Dist: f.dist(query, v)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dist < out[j].Dist })
	if k < len(out) {
		out = out[:k]
	}
	return out
}
