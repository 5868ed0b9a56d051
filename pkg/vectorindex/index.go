// Package vectorindex provides nearest-neighbour indexes over fixed-length
// float32 vectors under cosine distance.
//
// Distances are cosine distances in [0, 2]; lower is closer. Callers turn a
// distance into a similarity score with Similarity.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrDuplicateKey is returned when a key is inserted twice.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrDimensionMismatch is returned for vectors of the wrong length.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrLengthMismatch is returned when keys and vectors differ in count.
	ErrLengthMismatch = errors.New("keys and vectors differ in length")
)

// Index is a k-nearest-neighbour index keyed by uint64.
type Index interface {
	// BulkInsert adds vectors under unique keys. Either every vector is
	// inserted or, on a validation error, none are.
	BulkInsert(keys []uint64, vectors [][]float32) error
	// Query returns up to k keys ordered nearest first with their distances.
	Query(vector []float32, k int) ([]uint64, []float32, error)
	// Len returns the number of indexed vectors.
	Len() int
	// Keys returns every indexed key in ascending order.
	Keys() []uint64
	// Close releases resources held by the index.
	Close() error
}

// Factory builds an empty index for vectors of the given dimension.
type Factory func(dimension int) (Index, error)

// Params configures the index backends.
type Params struct {
	Backend        string // hnsw, sqlite-vec
	M              int
	EfConstruction int
	EfSearch       int
}

// NewFactory returns a Factory for the configured backend.
func NewFactory(p Params) (Factory, error) {
	switch p.Backend {
	case "", "hnsw":
		return func(dimension int) (Index, error) {
			return NewHNSW(HNSWConfig{
				Dimension:      dimension,
				M:              p.M,
				EfConstruction: p.EfConstruction,
				EfSearch:       p.EfSearch,
			}), nil
		}, nil
	case "sqlite-vec":
		return func(dimension int) (Index, error) {
			return NewSQLiteVec(dimension)
		}, nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", p.Backend)
	}
}

// Similarity converts a cosine distance to a score where higher is closer.
func Similarity(distance float32) float64 {
	return 1 - float64(distance)/2
}

// validateBatch checks a bulk insert against the index's dimension and
// existing keys before anything is written.
func validateBatch(keys []uint64, vectors [][]float32, dimension int, exists func(uint64) bool) error {
	if len(keys) != len(vectors) {
		return fmt.Errorf("%w: %d keys, %d vectors", ErrLengthMismatch, len(keys), len(vectors))
	}
	seen := make(map[uint64]bool, len(keys))
	for i, key := range keys {
		if seen[key] || exists(key) {
			return fmt.Errorf("%w: %d", ErrDuplicateKey, key)
		}
		seen[key] = true
		if len(vectors[i]) != dimension {
			return fmt.Errorf("%w: key %d has %d values, want %d", ErrDimensionMismatch, key, len(vectors[i]), dimension)
		}
	}
	return nil
}

// normalize returns a unit-length copy of v. The zero vector stays zero.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// cosineDistance expects unit vectors and clamps to [0, 2].
func cosineDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	d := 1 - dot
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}

func sortKeys(keys []uint64) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
