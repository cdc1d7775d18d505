// Package queue provides the bounded candidate heap used for top-k selection.
package queue

import "container/heap"

// Compile time check to ensure candidateHeap satisfies the heap interface.
var _ heap.Interface = (*candidateHeap)(nil)

// Candidate is a scored index position flowing through top-k selection.
type Candidate struct {
	Position uint32  // Position is the index slot the candidate refers to.
	Distance float32 // Distance is the priority of the candidate.
}

// Worse reports whether a ranks after b. Ordering is ascending distance
// with ties broken by ascending position, so equal distances resolve
// deterministically.
func Worse(a, b Candidate) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}

	return a.Position > b.Position
}

// candidateHeap is a max-heap on Worse: the worst candidate sits on top
// so it can be evicted in O(log k).
type candidateHeap []Candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return Worse(h[i], h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	c, _ := x.(Candidate)
	*h = append(*h, c)
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]

	return c
}

// TopK keeps the k best candidates seen so far.
type TopK struct {
	k     int
	items candidateHeap
}

// NewTopK returns a selector retaining at most k candidates.
// A non-positive k retains nothing.
func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}

	return &TopK{
		k:     k,
		items: make(candidateHeap, 0, k),
	}
}

// Len returns the number of retained candidates.
func (t *TopK) Len() int { return len(t.items) }

// Full reports whether the selector holds k candidates.
func (t *TopK) Full() bool { return len(t.items) == t.k }

// Worst returns the current worst retained candidate.
// Only meaningful when Len() > 0.
func (t *TopK) Worst() Candidate {
	return t.items[0]
}

// Push offers a candidate. It is kept if the selector is not yet full
// or if it ranks before the current worst.
func (t *TopK) Push(c Candidate) {
	if t.k == 0 {
		return
	}

	if len(t.items) < t.k {
		heap.Push(&t.items, c)
		return
	}

	if Worse(t.items[0], c) {
		t.items[0] = c
		heap.Fix(&t.items, 0)
	}
}

// Results drains the selector and returns the retained candidates
// ordered by ascending distance, ties by ascending position.
func (t *TopK) Results() []Candidate {
	out := make([]Candidate, len(t.items))
	for i := len(t.items) - 1; i >= 0; i-- {
		c, _ := heap.Pop(&t.items).(Candidate)
		out[i] = c
	}

	return out
}
