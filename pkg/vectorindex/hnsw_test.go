package vectorindex

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func sequentialKeys(n int) []uint64 {
	keys := make([]uint64, n)
	for i := range keys {
		keys[i] = uint64(i + 1)
	}
	return keys
}

func bruteForce(vectors [][]float32, keys []uint64, q []float32, k int) []uint64 {
	nq := normalize(q)
	cands := make([]candidate, len(vectors))
	for i, v := range vectors {
		cands[i] = candidate{key: keys[i], dist: cosineDistance(nq, normalize(v))}
	}
	sortCandidates(cands)
	out := make([]uint64, 0, k)
	for _, c := range cands[:k] {
		out = append(out, c.key)
	}
	return out
}

func TestHNSWRecall(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vectors := randomVectors(rng, 300, 16)
	keys := sequentialKeys(len(vectors))

	idx := NewHNSW(HNSWConfig{Dimension: 16})
	require.NoError(t, idx.BulkInsert(keys, vectors))
	assert.Equal(t, 300, idx.Len())

	const k = 10
	hits, total := 0, 0
	for _, q := range randomVectors(rng, 20, 16) {
		got, dists, err := idx.Query(q, k)
		require.NoError(t, err)
		require.Len(t, got, k)
		assert.True(t, sort.SliceIsSorted(dists, func(i, j int) bool { return dists[i] < dists[j] }))

		want := make(map[uint64]bool)
		for _, key := range bruteForce(vectors, keys, q, k) {
			want[key] = true
		}
		for _, key := range got {
			if want[key] {
				hits++
			}
		}
		total += k
	}
	assert.GreaterOrEqual(t, float64(hits)/float64(total), 0.9)
}

func TestHNSWExactMatchFirst(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{1, 1, 0},
	}
	idx := NewHNSW(HNSWConfig{})
	require.NoError(t, idx.BulkInsert([]uint64{10, 20, 30, 40}, vectors))

	keys, dists, err := idx.Query([]float32{0, 2, 0}, 2)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, uint64(20), keys[0])
	assert.InDelta(t, 0, dists[0], 1e-6)
	assert.Equal(t, uint64(40), keys[1])

	keys, dists, err = idx.Query([]float32{-1, 0, 0}, 4)
	require.NoError(t, err)
	require.Len(t, keys, 4)
	assert.Equal(t, uint64(10), keys[3])
	assert.InDelta(t, 2, dists[3], 1e-6)
}

func TestHNSWRejectsBadBatches(t *testing.T) {
	idx := NewHNSW(HNSWConfig{Dimension: 2})
	require.NoError(t, idx.BulkInsert([]uint64{1}, [][]float32{{1, 0}}))

	err := idx.BulkInsert([]uint64{1}, [][]float32{{0, 1}})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	err = idx.BulkInsert([]uint64{2, 2}, [][]float32{{0, 1}, {1, 1}})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	err = idx.BulkInsert([]uint64{3}, [][]float32{{0, 1, 0}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = idx.BulkInsert([]uint64{4, 5}, [][]float32{{0, 1}})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	// Failed batches leave the index untouched.
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, []uint64{1}, idx.Keys())

	_, _, err = idx.Query([]float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHNSWEmptyQuery(t *testing.T) {
	idx := NewHNSW(HNSWConfig{Dimension: 4})

	keys, dists, err := idx.Query([]float32{1, 2, 3, 4}, 5)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, dists)

	require.NoError(t, idx.BulkInsert([]uint64{1}, [][]float32{{1, 0, 0, 0}}))
	keys, _, err = idx.Query([]float32{1, 0, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, _, err = idx.Query([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, keys)
}

func TestHNSWDeterministicLevels(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vectors := randomVectors(rng, 50, 8)
	keys := sequentialKeys(50)

	a := NewHNSW(HNSWConfig{Dimension: 8, Seed: 99})
	b := NewHNSW(HNSWConfig{Dimension: 8, Seed: 99})
	require.NoError(t, a.BulkInsert(keys, vectors))
	require.NoError(t, b.BulkInsert(keys, vectors))

	q := vectors[17]
	ka, da, err := a.Query(q, 5)
	require.NoError(t, err)
	kb, db, err := b.Query(q, 5)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
	assert.Equal(t, da, db)
	assert.Equal(t, uint64(18), ka[0])
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity(0), 1e-9)
	assert.InDelta(t, 0.5, Similarity(1), 1e-9)
	assert.InDelta(t, 0.0, Similarity(2), 1e-9)
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory(Params{Backend: "hnsw", M: 8})
	require.NoError(t, err)
	idx, err := f(3)
	require.NoError(t, err)
	_, ok := idx.(*HNSW)
	assert.True(t, ok)

	_, err = NewFactory(Params{Backend: "faiss"})
	assert.Error(t, err)
}
