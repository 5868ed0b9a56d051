package vectorindex

import "container/heap"

type candidate struct {
	key  uint64
	dist float32
}

// closer orders by distance, then key.
func closer(a, b candidate) bool {
	if a.dist == b.dist {
		return a.key < b.key
	}
	return a.dist < b.dist
}

// nearestHeap pops the closest candidate first.
type nearestHeap []candidate

func (h nearestHeap) Len() int           { return len(h) }
func (h nearestHeap) Less(i, j int) bool { return closer(h[i], h[j]) }
func (h nearestHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *nearestHeap) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *nearestHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// farthestHeap pops the farthest candidate first.
type farthestHeap []candidate

func (h farthestHeap) Len() int           { return len(h) }
func (h farthestHeap) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h farthestHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *farthestHeap) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *farthestHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

func (h farthestHeap) worst() candidate { return h[0] }

// sorted returns a copy of the candidates, nearest first.
func (h farthestHeap) sorted() []candidate {
	out := make([]candidate, len(h))
	copy(out, h)
	sortCandidates(out)
	return out
}

var (
	_ heap.Interface = (*nearestHeap)(nil)
	_ heap.Interface = (*farthestHeap)(nil)
)
