package hnsw

import (
	"container/heap"
	"math"
)

// Candidate is a single (idx, distance) pair, the unit the search
// heaps and candidate maps operate on.
type Candidate struct {
	ID       uint32
	Distance float32
}

// less orders candidates by distance ascending with NaN sorted last,
// never ahead of a valid candidate.
func less(a, b float32) bool {
	if math.IsNaN(float64(a)) {
		return false
	}
	if math.IsNaN(float64(b)) {
		return true
	}
	return a < b
}

// minHeap is a min-heap of candidates by distance (NaN last).
type minHeap []Candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return less(h[i].Distance, h[j].Distance) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap is a max-heap of candidates by distance (NaN treated as worst,
// i.e. sorts to the top of the max-heap so it is evicted first).
type maxHeap []Candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return less(h[j].Distance, h[i].Distance) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MinHeap wraps container/heap for a min-heap of Candidates.
type MinHeap struct{ h minHeap }

func NewMinHeap() *MinHeap { return &MinHeap{} }

func (m *MinHeap) Len() int              { return m.h.Len() }
func (m *MinHeap) Push(c Candidate)      { heap.Push(&m.h, c) }
func (m *MinHeap) Pop() (Candidate, bool) {
	if m.h.Len() == 0 {
		return Candidate{}, false
	}
	return heap.Pop(&m.h).(Candidate), true
}

// MaxHeap wraps container/heap for a max-heap of Candidates, used as the
// bounded "ef best-so-far" set W in searchLayer.
type MaxHeap struct{ h maxHeap }

func NewMaxHeap() *MaxHeap { return &MaxHeap{} }

func (m *MaxHeap) Len() int         { return m.h.Len() }
func (m *MaxHeap) Push(c Candidate) { heap.Push(&m.h, c) }
func (m *MaxHeap) Pop() (Candidate, bool) {
	if m.h.Len() == 0 {
		return Candidate{}, false
	}
	return heap.Pop(&m.h).(Candidate), true
}

// Top returns the worst (largest-distance) candidate without removing
// it.
func (m *MaxHeap) Top() (Candidate, bool) {
	if m.h.Len() == 0 {
		return Candidate{}, false
	}
	return m.h[0], true
}

// Entries returns a copy of the heap's contents in heap order (not
// sorted), leaving the heap unchanged.
func (m *MaxHeap) Entries() []Candidate {
	out := make([]Candidate, len(m.h))
	copy(out, m.h)
	return out
}
