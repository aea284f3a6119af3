// Package predictor tracks the drifting inter-TDC interval for one chip
// and assigns a fractional period index to pixel events.
//
// Purpose: the physical interval between trigger pulses (TDCs) drifts
// slightly over the run. A ring of the most recent few (timestamp,
// period number) samples lets us re-estimate that interval on every new
// TDC using a cheap, numerically robust median-of-slopes instead of a
// full least-squares fit, and a running integer correction keeps period
// numbering continuous across resynchronisation events.
package predictor

import (
	"math"
	"sort"
)

// ringSize is the number of (timestamp, period) samples retained. Fixed
// at 4 to match the documented contract: three adjacent-pair slopes plus
// a fourth slot that re-evaluates the first pair (see predictInterval's
// doc comment and the design note on median index arithmetic).
const ringSize = 4

type sample struct {
	ts     int64
	period float64
}

// Predictor estimates, for one chip, the fractional period number of an
// arbitrary timestamp, and the current clock-tick interval between
// periods.
type Predictor struct {
	past       [ringSize]sample
	start      int64
	interval   float64
	correction int64
	first      int
}

// New creates a Predictor given an initial start timestamp and period
// interval (in clock ticks), and resets its sample ring from them.
func New(start int64, interval int64) *Predictor {
	p := &Predictor{start: start, interval: float64(interval)}
	p.Reset()
	return p
}

// Reset fills the sample ring with synthetic back-dated samples
// (start - i*interval, -i) so that predictInterval is well defined
// immediately, and zeroes the correction.
func (p *Predictor) Reset() {
	for i := 0; i < ringSize; i++ {
		p.past[i] = sample{
			ts:     p.start - int64(math.Round(float64(i)*p.interval)),
			period: -float64(i),
		}
	}
	p.correction = 0
	p.first = 0
}

// IntervalPrediction returns the current estimate of clock ticks per
// period. It is always strictly positive.
func (p *Predictor) IntervalPrediction() float64 {
	return p.interval
}

// PeriodPrediction returns the fractional predicted period number for
// timestamp ts: (ts-start)/interval + correction.
func (p *Predictor) PeriodPrediction(ts int64) float64 {
	return float64(ts-p.start)/p.interval + float64(p.correction)
}

// predictInterval recomputes the interval estimate from the sample ring.
//
// The four slope samples are taken over indices l := (first+i)%(N-1),
// h := (l+1)%(N-1) for i in 0..N-1. Because the modulus is N-1 rather
// than N, this produces three distinct adjacent-pair slopes and
// re-evaluates one pair a second time; sorting the four and taking
// index (N-1)/2 = 1 (the second-smallest) yields a median that is cheap
// to update in constant time at the cost of being a pragmatic
// approximation rather than an exact median of distinct samples. This
// matches the documented contract (spec §9 / §4.4) exactly.
func (p *Predictor) predictInterval() float64 {
	var diff [ringSize]float64
	for i := 0; i < ringSize; i++ {
		l := (p.first + i) % (ringSize - 1)
		h := (l + 1) % (ringSize - 1)
		diff[i] = float64(p.past[h].ts-p.past[l].ts) / (p.past[h].period - p.past[l].period)
	}
	sorted := diff
	sort.Float64s(sorted[:])
	return sorted[(ringSize-1)/2]
}

// Update records a new TDC observation at timestamp ts: the rounded
// predicted period is stored into the next ring slot, and the interval
// is re-estimated from the ring.
func (p *Predictor) Update(ts int64) {
	period := math.Round(p.PeriodPrediction(ts))
	p.past[p.first] = sample{ts: ts, period: period}
	p.first = (p.first + 1) % ringSize
	p.interval = p.predictInterval()
}

// NeedsStartUpdate reports whether ts deviates from the current linear
// prediction by more than half an interval, the documented tolerance
// that triggers a StartUpdate recalibration (spec §9).
func (p *Predictor) NeedsStartUpdate(ts int64) bool {
	predictedPeriod := math.Round(p.PeriodPrediction(ts))
	predictedTS := float64(p.start) + predictedPeriod*p.interval
	return math.Abs(float64(ts)-predictedTS) > 0.5*p.interval
}

// StartUpdate sets a new reference start timestamp, folding the
// resulting period-number shift into correction so that absolute period
// numbering stays continuous, then re-estimates the interval from the
// (unchanged) sample ring.
func (p *Predictor) StartUpdate(newStart int64) {
	p.correction += int64(math.Round(float64(newStart-p.start) / p.interval))
	p.start = newStart
	p.interval = p.predictInterval()
}
