package vectorindex

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteVecMatchesBruteForce(t *testing.T) {
	idx, err := NewSQLiteVec(8)
	require.NoError(t, err)
	defer idx.Close()

	rng := rand.New(rand.NewSource(11))
	vectors := randomVectors(rng, 40, 8)
	keys := sequentialKeys(40)
	require.NoError(t, idx.BulkInsert(keys, vectors))
	assert.Equal(t, 40, idx.Len())
	assert.Equal(t, keys, idx.Keys())

	q := randomVectors(rng, 1, 8)[0]
	got, dists, err := idx.Query(q, 5)
	require.NoError(t, err)
	assert.Equal(t, bruteForce(vectors, keys, q, 5), got)
	for i := 1; i < len(dists); i++ {
		assert.LessOrEqual(t, dists[i-1], dists[i])
	}
}

func TestSQLiteVecRejectsBadBatches(t *testing.T) {
	idx, err := NewSQLiteVec(2)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.BulkInsert([]uint64{1}, [][]float32{{1, 0}}))
	assert.ErrorIs(t, idx.BulkInsert([]uint64{1}, [][]float32{{0, 1}}), ErrDuplicateKey)
	assert.ErrorIs(t, idx.BulkInsert([]uint64{2}, [][]float32{{0, 1, 1}}), ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Len())

	keys, _, err := idx.Query([]float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, keys)
}

func TestSQLiteVecIndexesAreIsolated(t *testing.T) {
	a, err := NewSQLiteVec(2)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSQLiteVec(2)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.BulkInsert([]uint64{1}, [][]float32{{1, 0}}))

	keys, _, err := b.Query([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, 0, b.Len())
}

func TestNewSQLiteVecRequiresDimension(t *testing.T) {
	_, err := NewSQLiteVec(0)
	assert.Error(t, err)
}
