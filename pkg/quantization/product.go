package quantization

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ProductQuantizer partitions each vector into M equal sub-vectors and
// stores, per sub-vector, the index of its nearest of K learned centroids.
type ProductQuantizer struct {
	M, K, D, SubDim int
	Codebooks       [][][]float32 // M codebooks, each K x SubDim
	trained         bool
}

// NewProductQuantizer constructs an untrained PQ codec. dimension must be
// divisible by m; k must fit in a byte (<=256) so each sub-vector code is
// exactly one byte.
func NewProductQuantizer(dimension, m, k int) (*ProductQuantizer, error) {
	if dimension%m != 0 {
		return nil, fmt.Errorf("quantization: dimension %d not divisible by %d subspaces", dimension, m)
	}
	if k > 256 {
		return nil, errors.New("quantization: k must be <= 256 for byte-coded subspaces")
	}
	return &ProductQuantizer{
		M: m, K: k, D: dimension, SubDim: dimension / m,
		Codebooks: make([][][]float32, m),
	}, nil
}

func (pq *ProductQuantizer) Trained() bool { return pq.trained }

func (pq *ProductQuantizer) Train(vectors [][]float32) error {
	if len(vectors) < pq.K {
		return fmt.Errorf("quantization: need at least %d training vectors, got %d", pq.K, len(vectors))
	}
	for m := 0; m < pq.M; m++ {
		start := m * pq.SubDim
		sub := make([][]float32, len(vectors))
		for i, vec := range vectors {
			if len(vec) != pq.D {
				return fmt.Errorf("quantization: training vector has %d dims, codec wants %d", len(vec), pq.D)
			}
			sub[i] = vec[start : start+pq.SubDim]
		}
		centroids, err := kMeans(sub, pq.K, 20)
		if err != nil {
			return fmt.Errorf("quantization: k-means failed for subspace %d: %w", m, err)
		}
		pq.Codebooks[m] = centroids
	}
	pq.trained = true
	return nil
}

func (pq *ProductQuantizer) Encode(vector []float32) ([]byte, error) {
	if !pq.trained {
		return nil, errors.New("quantization: product codec not trained")
	}
	if len(vector) != pq.D {
		return nil, fmt.Errorf("quantization: vector has %d dims, codec wants %d", len(vector), pq.D)
	}
	codes := make([]byte, pq.M)
	for m := 0; m < pq.M; m++ {
		start := m * pq.SubDim
		sub := vector[start : start+pq.SubDim]
		best, bestIdx := float32(math.MaxFloat32), 0
		for k := 0; k < pq.K; k++ {
			d := sqEuclidean(sub, pq.Codebooks[m][k])
			if d < best {
				best, bestIdx = d, k
			}
		}
		codes[m] = byte(bestIdx)
	}
	return codes, nil
}

func (pq *ProductQuantizer) Decode(codes []byte) ([]float32, error) {
	if !pq.trained {
		return nil, errors.New("quantization: product codec not trained")
	}
	if len(codes) != pq.M {
		return nil, fmt.Errorf("quantization: code length %d doesn't match %d subspaces", len(codes), pq.M)
	}
	out := make([]float32, pq.D)
	for m := 0; m < pq.M; m++ {
		idx := int(codes[m])
		if idx >= pq.K {
			return nil, fmt.Errorf("quantization: invalid centroid index %d for subspace %d", idx, m)
		}
		copy(out[m*pq.SubDim:(m+1)*pq.SubDim], pq.Codebooks[m][idx])
	}
	return out, nil
}

func (pq *ProductQuantizer) EstimatedBytes(count int) int { return count * pq.M }

// kMeans performs Lloyd's algorithm with random initialization, matching
// the reference implementation this codec is grounded on; converges within
// maxIters or stops early once assignments stabilize.
func kMeans(vectors [][]float32, k, maxIters int) ([][]float32, error) {
	if len(vectors) < k {
		return nil, fmt.Errorf("need at least %d vectors, got %d", k, len(vectors))
	}
	dim := len(vectors[0])
	centroids := make([][]float32, k)
	perm := rand.Perm(len(vectors))
	for i := 0; i < k; i++ {
		centroids[i] = append([]float32(nil), vectors[perm[i]]...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, vec := range vectors {
			best, bestIdx := float32(math.MaxFloat32), 0
			for j, c := range centroids {
				d := sqEuclidean(vec, c)
				if d < best {
					best, bestIdx = d, j
				}
			}
			if assignments[i] != bestIdx {
				changed, assignments[i] = true, bestIdx
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		for i := range centroids {
			centroids[i] = make([]float32, dim)
		}
		for i, vec := range vectors {
			c := assignments[i]
			counts[c]++
			for j := 0; j < dim; j++ {
				centroids[c][j] += vec[j]
			}
		}
		for i := range centroids {
			if counts[i] > 0 {
				for j := 0; j < dim; j++ {
					centroids[i][j] /= float32(counts[i])
				}
			}
		}
	}
	return centroids, nil
}

func sqEuclidean(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
