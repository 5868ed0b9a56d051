package vectorindex

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

const (
	MaxLevel              = 16
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
	defaultSeed           = 42
)

// HNSWConfig configures a hierarchical navigable small-world graph.
type HNSWConfig struct {
	Dimension      int
	M              int // max connections per upper layer; layer 0 gets 2*M
	EfConstruction int
	EfSearch       int
	Seed           int64
}

type node struct {
	key       uint64
	vector    []float32 // unit length
	level     int
	neighbors [][]uint64 // [level][neighbors]
}

// HNSW is an approximate nearest-neighbour graph over unit vectors.
type HNSW struct {
	mu             sync.RWMutex
	dimension      int
	m              int
	m0             int
	efConstruction int
	efSearch       int
	levelMult      float64
	rng            *rand.Rand

	nodes      map[uint64]*node
	entryPoint uint64
	topLevel   int
}

// NewHNSW creates an empty graph. Zero config values take defaults.
func NewHNSW(cfg HNSWConfig) *HNSW {
	if cfg.M < 2 {
		cfg.M = DefaultM
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = DefaultEfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultEfSearch
	}
	if cfg.Seed == 0 {
		cfg.Seed = defaultSeed
	}

	return &HNSW{
		dimension:      cfg.Dimension,
		m:              cfg.M,
		m0:             2 * cfg.M,
		efConstruction: cfg.EfConstruction,
		efSearch:       cfg.EfSearch,
		levelMult:      1 / math.Log(float64(cfg.M)),
		rng:            rand.New(rand.NewSource(cfg.Seed)),
		nodes:          make(map[uint64]*node),
		topLevel:       -1,
	}
}

// Len returns the number of indexed vectors.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Keys returns every indexed key in ascending order.
func (h *HNSW) Keys() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]uint64, 0, len(h.nodes))
	for k := range h.nodes {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// Close is a no-op for the in-memory graph.
func (h *HNSW) Close() error {
	return nil
}

// BulkInsert adds every vector or none of them.
func (h *HNSW) BulkInsert(keys []uint64, vectors [][]float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dimension == 0 && len(vectors) > 0 {
		h.dimension = len(vectors[0])
	}
	if err := validateBatch(keys, vectors, h.dimension, func(k uint64) bool {
		_, ok := h.nodes[k]
		return ok
	}); err != nil {
		return err
	}

	for i, key := range keys {
		h.insert(key, normalize(vectors[i]))
	}
	return nil
}

func (h *HNSW) insert(key uint64, vec []float32) {
	level := h.randomLevel()
	n := &node{
		key:       key,
		vector:    vec,
		level:     level,
		neighbors: make([][]uint64, level+1),
	}
	h.nodes[key] = n

	if h.topLevel == -1 {
		h.entryPoint = key
		h.topLevel = level
		return
	}

	ep := h.entryPoint
	for l := h.topLevel; l > level; l-- {
		ep = h.greedy(vec, ep, l)
	}

	for l := minInt(level, h.topLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, ep, h.efConstruction, l)

		maxConn := h.maxConnections(l)
		selected := candidates
		if len(selected) > maxConn {
			selected = selected[:maxConn]
		}

		n.neighbors[l] = make([]uint64, 0, len(selected))
		for _, c := range selected {
			n.neighbors[l] = append(n.neighbors[l], c.key)
			neighbor := h.nodes[c.key]
			neighbor.neighbors[l] = append(neighbor.neighbors[l], key)
			if len(neighbor.neighbors[l]) > maxConn {
				h.prune(neighbor, l, maxConn)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0].key
		}
	}

	if level > h.topLevel {
		h.entryPoint = key
		h.topLevel = level
	}
}

// prune keeps the maxConn closest neighbours of n at level l.
func (h *HNSW) prune(n *node, l, maxConn int) {
	links := make([]candidate, 0, len(n.neighbors[l]))
	for _, k := range n.neighbors[l] {
		links = append(links, candidate{key: k, dist: cosineDistance(n.vector, h.nodes[k].vector)})
	}
	sortCandidates(links)
	kept := make([]uint64, 0, maxConn)
	for _, c := range links[:maxConn] {
		kept = append(kept, c.key)
	}
	n.neighbors[l] = kept
}

// Query returns up to k nearest keys ordered by ascending cosine distance.
func (h *HNSW) Query(vector []float32, k int) ([]uint64, []float32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if k <= 0 || h.topLevel == -1 {
		return nil, nil, nil
	}
	if len(vector) != h.dimension {
		return nil, nil, fmt.Errorf("%w: query has %d values, want %d", ErrDimensionMismatch, len(vector), h.dimension)
	}

	q := normalize(vector)
	ep := h.entryPoint
	for l := h.topLevel; l > 0; l-- {
		ep = h.greedy(q, ep, l)
	}

	ef := h.efSearch
	if k > ef {
		ef = k
	}
	results := h.searchLayer(q, ep, ef, 0)
	if len(results) > k {
		results = results[:k]
	}

	keys := make([]uint64, len(results))
	dists := make([]float32, len(results))
	for i, r := range results {
		keys[i] = r.key
		dists[i] = r.dist
	}
	return keys, dists, nil
}

// greedy walks level l towards the single closest node to q.
func (h *HNSW) greedy(q []float32, ep uint64, l int) uint64 {
	curr := ep
	currDist := cosineDistance(q, h.nodes[curr].vector)

	for changed := true; changed; {
		changed = false
		for _, nk := range h.nodes[curr].neighbors[l] {
			if d := cosineDistance(q, h.nodes[nk].vector); d < currDist {
				curr, currDist = nk, d
				changed = true
			}
		}
	}
	return curr
}

func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool { return closer(c[i], c[j]) })
}

// searchLayer returns up to ef closest nodes at level l, nearest first.
func (h *HNSW) searchLayer(q []float32, ep uint64, ef, l int) []candidate {
	start := candidate{key: ep, dist: cosineDistance(q, h.nodes[ep].vector)}
	visited := map[uint64]bool{ep: true}
	candidates := &nearestHeap{start}
	results := &farthestHeap{start}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)

		if results.Len() >= ef && c.dist > results.worst().dist {
			break
		}

		n := h.nodes[c.key]
		if l >= len(n.neighbors) {
			continue
		}
		for _, nk := range n.neighbors[l] {
			if visited[nk] {
				continue
			}
			visited[nk] = true

			d := cosineDistance(q, h.nodes[nk].vector)
			if results.Len() < ef || d < results.worst().dist {
				next := candidate{key: nk, dist: d}
				heap.Push(candidates, next)
				heap.Push(results, next)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}
	return results.sorted()
}

func (h *HNSW) maxConnections(l int) int {
	if l == 0 {
		return h.m0
	}
	return h.m
}

func (h *HNSW) randomLevel() int {
	lvl := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.levelMult))
	if lvl > MaxLevel {
		return MaxLevel
	}
	return lvl
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
