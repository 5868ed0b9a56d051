package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/harun/forge/pkg/vectorindex"
)

// collection owns one index and the chunks its keys resolve to.
type collection struct {
	mu        sync.RWMutex
	kind      Kind
	index     vectorindex.Index
	chunks    map[uint64]Chunk
	nextKey   uint64
	count     int
	createdAt time.Time
	updatedAt time.Time
}

func newCollection(kind Kind, index vectorindex.Index, now time.Time) *collection {
	return &collection{
		kind:      kind,
		index:     index,
		chunks:    make(map[uint64]Chunk),
		nextKey:   1,
		createdAt: now,
		updatedAt: now,
	}
}

// add inserts vectors and chunks under one write lock so readers never see
// an index key without its chunk.
func (c *collection) add(chunks []Chunk, vectors [][]float32, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]uint64, len(chunks))
	for i := range chunks {
		keys[i] = c.nextKey + uint64(i)
	}
	if err := c.index.BulkInsert(keys, vectors); err != nil {
		return err
	}

	for i, key := range keys {
		c.chunks[key] = chunks[i]
	}
	c.nextKey += uint64(len(chunks))
	c.count += len(chunks)
	c.updatedAt = now
	return nil
}

type hit struct {
	key      uint64
	chunk    Chunk
	distance float32
	found    bool
}

// query runs a k-NN query and resolves keys while holding the read lock.
func (c *collection) query(vector []float32, k int) ([]hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys, dists, err := c.index.Query(vector, k)
	if err != nil {
		return nil, err
	}

	hits := make([]hit, len(keys))
	for i, key := range keys {
		chunk, ok := c.chunks[key]
		hits[i] = hit{key: key, chunk: chunk, distance: dists[i], found: ok}
	}
	return hits, nil
}

func (c *collection) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// CollectionView is a read-only view of one collection.
type CollectionView struct {
	c *collection
}

// Kind returns the collection kind.
func (v CollectionView) Kind() Kind {
	return v.c.kind
}

// Len returns the number of stored chunks.
func (v CollectionView) Len() int {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()
	return len(v.c.chunks)
}

// IndexLen returns the number of indexed vectors.
func (v CollectionView) IndexLen() int {
	return v.c.index.Len()
}

// Keys returns the stored chunk keys in ascending order.
func (v CollectionView) Keys() []uint64 {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()
	keys := make([]uint64, 0, len(v.c.chunks))
	for k := range v.c.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// IndexKeys returns the keys held by the vector index.
func (v CollectionView) IndexKeys() []uint64 {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()
	return v.c.index.Keys()
}

// Get returns the chunk stored under key.
func (v CollectionView) Get(key uint64) (Chunk, bool) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()
	chunk, ok := v.c.chunks[key]
	return chunk, ok
}
