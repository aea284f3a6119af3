package periodqueue

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func Test_IndexFor_disputeBoundaries(t *testing.T) {
	var q = New(0.1)

	assert.Equal(t, Index{Period: 1, DisputedPeriod: 1, Disputed: true}, q.IndexFor(1.00))
	assert.Equal(t, Index{Period: 1, DisputedPeriod: 1, Disputed: true}, q.IndexFor(1.05))
	assert.Equal(t, Index{Period: 1, DisputedPeriod: 1, Disputed: false}, q.IndexFor(1.5))
	assert.Equal(t, Index{Period: 1, DisputedPeriod: 2, Disputed: true}, q.IndexFor(1.95))
}

func Test_IndexFor_disputedIffWithinThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var threshold = rapid.Float64Range(0.01, 0.49).Draw(t, "threshold")
		var x = rapid.Float64Range(-1000, 1000).Draw(t, "x")

		var q = New(threshold)
		var idx = q.IndexFor(x)

		var frac = x - math.Floor(x)
		var wantUndisputed = frac >= threshold && frac <= 1-threshold
		assert.Equal(t, wantUndisputed, !idx.Disputed)
	})
}

func Test_RegisterStart_recordsStartAndSeen(t *testing.T) {
	var q = New(0.1)
	var idx = Index{Period: 0, DisputedPeriod: 0, Disputed: true}

	q.RegisterStart(idx, 1)

	var el = q.elements[0]
	assert.Equal(t, int64(1), el.start)
	assert.True(t, el.startSeen)
}

func Test_Refine_startDispute(t *testing.T) {
	var q = New(0.1)
	var idx = Index{Period: 0, DisputedPeriod: 0, Disputed: true}
	q.RegisterStart(idx, 1)

	var refined = idx
	q.Refine(&refined, 2)
	assert.Equal(t, Index{Period: 0, DisputedPeriod: 0, Disputed: false}, refined)

	var refined2 = idx
	q.Refine(&refined2, 0)
	assert.Equal(t, Index{Period: -1, DisputedPeriod: 0, Disputed: false}, refined2)
}

func Test_Refine_noOpWhenUndisputedOrStartUnseen(t *testing.T) {
	var q = New(0.1)

	var undisputed = Index{Period: 4, DisputedPeriod: 4, Disputed: false}
	q.Refine(&undisputed, 10)
	assert.Equal(t, Index{Period: 4, DisputedPeriod: 4, Disputed: false}, undisputed)

	var disputed = Index{Period: 7, DisputedPeriod: 8, Disputed: true}
	q.Refine(&disputed, 10)
	assert.True(t, disputed.Disputed)
}

func Test_Refine_endDispute(t *testing.T) {
	var q = New(0.1)
	var idx = Index{Period: 5, DisputedPeriod: 6, Disputed: true}
	q.RegisterStart(idx, 100)

	var before = idx
	q.Refine(&before, 50)
	assert.Equal(t, Index{Period: 5, DisputedPeriod: 6, Disputed: false}, before)

	var after = idx
	q.Refine(&after, 150)
	assert.Equal(t, Index{Period: 6, DisputedPeriod: 6, Disputed: false}, after)
}

func Test_Enqueue_thenRegisterStart_drainsInTOAOrder(t *testing.T) {
	var q = New(0.1)
	var idx = Index{Period: 0, DisputedPeriod: 0, Disputed: true}

	q.Enqueue(idx, 10, 0xAAAA)
	q.Enqueue(idx, 3, 0xBBBB)
	q.Enqueue(idx, 7, 0xCCCC)

	var pending = q.RegisterStart(idx, 1)
	assert.Equal(t, 3, pending.Size())

	var first, _ = pending.Pop()
	assert.Equal(t, int64(3), first.TOA)
	var second, _ = pending.Pop()
	assert.Equal(t, int64(7), second.TOA)
	var third, _ = pending.Pop()
	assert.Equal(t, int64(10), third.TOA)
}

func Test_Purge_removesOldestDownToTarget(t *testing.T) {
	var q = New(0.1)
	for _, p := range []int64{5, 1, 3, 2, 4} {
		q.RegisterStart(Index{Period: p, DisputedPeriod: p, Disputed: true}, 0)
	}
	assert.Equal(t, 5, q.Size())

	var removed = q.Purge(2)
	assert.Equal(t, []int64{1, 2, 3}, removed)
	assert.Equal(t, 2, q.Size())
}

func Test_Purge_zeroTargetFlushesAll(t *testing.T) {
	var q = New(0.1)
	q.RegisterStart(Index{Period: 9, DisputedPeriod: 9, Disputed: true}, 0)
	q.RegisterStart(Index{Period: 3, DisputedPeriod: 3, Disputed: true}, 0)

	var removed = q.Purge(0)
	assert.Equal(t, []int64{3, 9}, removed)
	assert.True(t, q.Empty())
}
