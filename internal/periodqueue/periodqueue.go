// Package periodqueue assigns pixel-hit events to a period number and
// holds events whose assignment is ambiguous until a TDC disambiguates
// them.
//
// Purpose: the period predictor only gives a fractional period number.
// Events landing close to an interval boundary can't be attributed with
// confidence until the TDC that actually starts the next interval
// arrives, so they wait in a per-period reorder queue keyed by the
// disputed period number until that TDC resolves the ambiguity.
package periodqueue

import (
	"math"

	"github.com/psi-detectors/tpx3stream/internal/reorder"
)

// DefaultThreshold is the fraction of a period, at each end of the
// interval, treated as disputed.
const DefaultThreshold = 0.1

// Index identifies the period an event belongs to. When Disputed is
// false, Period == DisputedPeriod. When Disputed is true, DisputedPeriod
// equals Period for a dispute at the start of the interval, or Period+1
// for a dispute at the end.
type Index struct {
	Period         int64
	DisputedPeriod int64
	Disputed       bool
}

type element struct {
	queue     *reorder.Queue
	start     int64
	startSeen bool
}

func newElement() *element {
	return &element{queue: reorder.New()}
}

// Queues holds, per predicted period number, the reorder queue of events
// still awaiting that period's start TDC. It is owned by a single
// analyser goroutine and is not safe for concurrent use.
type Queues struct {
	threshold float64
	elements  map[int64]*element
}

// New creates an empty Queues using threshold as the disputed-interval
// fraction at each end of a period. Values outside (0, 0.5) fall back to
// DefaultThreshold.
func New(threshold float64) *Queues {
	if threshold <= 0 || threshold >= 0.5 {
		threshold = DefaultThreshold
	}
	return &Queues{threshold: threshold, elements: make(map[int64]*element)}
}

// IndexFor classifies a fractional period number: the interval's first
// and last threshold fraction are disputed, the middle is not.
func (q *Queues) IndexFor(period float64) Index {
	p := int64(math.Floor(period))
	f := period - float64(p)

	if f > 1-q.threshold {
		return Index{Period: p, DisputedPeriod: p + 1, Disputed: true}
	}
	if f < q.threshold {
		return Index{Period: p, DisputedPeriod: p, Disputed: true}
	}
	return Index{Period: p, DisputedPeriod: p, Disputed: false}
}

// Refine re-examines a disputed index once the period queue it refers to
// has seen its start TDC, resolving the dispute in place. It is a no-op
// if idx is not disputed, or if the relevant queue has no recorded start
// yet.
func (q *Queues) Refine(idx *Index, toa int64) {
	if !idx.Disputed {
		return
	}

	el, ok := q.elements[idx.DisputedPeriod]
	if !ok || !el.startSeen {
		return
	}

	idx.Disputed = false
	if idx.Period == idx.DisputedPeriod {
		// Disputed at the start of the interval.
		if el.start > toa {
			idx.Period--
		}
	} else {
		// Disputed at the end of the interval.
		if el.start <= toa {
			idx.Period++
		}
	}
}

// RegisterStart records the start timestamp of a disputed period and
// returns its pending-events queue for draining. Safe to call again for
// the same period; the recorded start is simply overwritten.
func (q *Queues) RegisterStart(idx Index, toa int64) *reorder.Queue {
	el := q.elementFor(idx.DisputedPeriod)
	el.start = toa
	el.startSeen = true
	return el.queue
}

// StartOf returns the TDC-observed start timestamp recorded for period
// by a prior RegisterStart, and whether one has been recorded.
func (q *Queues) StartOf(period int64) (int64, bool) {
	el, ok := q.elements[period]
	if !ok || !el.startSeen {
		return 0, false
	}
	return el.start, true
}

// Enqueue holds a disputed event in the reorder queue for its disputed
// period, awaiting that period's start TDC.
func (q *Queues) Enqueue(idx Index, toa int64, rawWord uint64) {
	el := q.elementFor(idx.DisputedPeriod)
	el.queue.Push(toa, rawWord)
}

func (q *Queues) elementFor(period int64) *element {
	el, ok := q.elements[period]
	if !ok {
		el = newElement()
		q.elements[period] = el
	}
	return el
}

// Purge removes the oldest (smallest-key) entries until at most
// targetSize remain, returning the removed period numbers in removal
// order so the caller can finalize each with the histogram aggregator.
// targetSize of 0 flushes everything, as on shutdown.
func (q *Queues) Purge(targetSize int) []int64 {
	var removed []int64
	for len(q.elements) > targetSize {
		var oldest int64
		first := true
		for k := range q.elements {
			if first || k < oldest {
				oldest = k
				first = false
			}
		}
		delete(q.elements, oldest)
		removed = append(removed, oldest)
	}
	return removed
}

// Size returns the number of tracked period entries.
func (q *Queues) Size() int {
	return len(q.elements)
}

// Empty reports whether there are no tracked period entries.
func (q *Queues) Empty() bool {
	return len(q.elements) == 0
}
