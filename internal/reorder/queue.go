// Package reorder provides a min-heap reorder queue keyed by
// time-of-arrival, used to hold pixel-hit events whose period assignment
// is disputed until the owning period's start TDC disambiguates them.
package reorder

import "container/heap"

// Element is one entry in a reorder queue: a raw event word and the TOA
// timestamp it is ordered by. Numerical ties are broken arbitrarily —
// events at the same TOA tick are indistinguishable at that granularity.
type Element struct {
	TOA     int64
	RawWord uint64
}

type elementHeap []Element

func (h elementHeap) Len() int            { return len(h) }
func (h elementHeap) Less(i, j int) bool  { return h[i].TOA < h[j].TOA }
func (h elementHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *elementHeap) Push(x interface{}) { *h = append(*h, x.(Element)) }
func (h *elementHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a min-heap of Elements ordered by ascending TOA.
type Queue struct {
	h elementHeap
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push inserts an element into the queue.
func (q *Queue) Push(toa int64, rawWord uint64) {
	heap.Push(&q.h, Element{TOA: toa, RawWord: rawWord})
}

// Top returns the element with the smallest TOA without removing it,
// and whether the queue was non-empty.
func (q *Queue) Top() (Element, bool) {
	if len(q.h) == 0 {
		return Element{}, false
	}
	return q.h[0], true
}

// Pop removes and returns the element with the smallest TOA, and
// whether the queue was non-empty.
func (q *Queue) Pop() (Element, bool) {
	if len(q.h) == 0 {
		return Element{}, false
	}
	el := heap.Pop(&q.h).(Element)
	return el, true
}

// Empty reports whether the queue has no elements.
func (q *Queue) Empty() bool {
	return len(q.h) == 0
}

// Size returns the number of elements in the queue.
func (q *Queue) Size() int {
	return len(q.h)
}
