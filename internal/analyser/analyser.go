// Package analyser drives one chip's raw-word stream through the period
// predictor and period queues, committing resolved pixel-hit events to
// the histogram aggregator.
//
// Purpose: each chip's analyser owns that chip's predictor and period
// queue state exclusively, so no locking is needed between chips; the
// only cross-chip coordination is through the histogram aggregator's
// own slot pool.
package analyser

import (
	"fmt"

	"github.com/psi-detectors/tpx3stream/internal/bits"
	"github.com/psi-detectors/tpx3stream/internal/control"
	"github.com/psi-detectors/tpx3stream/internal/histogram"
	"github.com/psi-detectors/tpx3stream/internal/iobuf"
	"github.com/psi-detectors/tpx3stream/internal/periodqueue"
	"github.com/psi-detectors/tpx3stream/internal/pixelmap"
	"github.com/psi-detectors/tpx3stream/internal/predictor"
)

// DefaultMaxPeriodQueues is the number of recent period-change intervals
// kept in memory before the oldest is purged and handed to the
// histogram aggregator as complete.
const DefaultMaxPeriodQueues = 2

// Analyser processes one chip's raw word stream.
type Analyser struct {
	chip            int
	pool            *iobuf.Pool
	pixels          *pixelmap.Map
	roi             histogram.ROI
	histo           *histogram.Manager
	initialPeriod   int64
	maxPeriodQueues int
	sig             *control.Signal

	predictor *predictor.Predictor
	queues    *periodqueue.Queues
	tdcHits   uint64

	hits int64
	tdcs int64
}

// New creates an Analyser for chip, reading filled buffers from pool and
// committing events to histo using pixels for the energy-point mapping.
// initialPeriod seeds the predictor's interval before any TDC has been
// observed; threshold is the period-queue dispute fraction (periodqueue
// falls back to DefaultThreshold if threshold is out of range). sig
// receives this analyser's fatal error, if any, so the reader and every
// other chip's analyser learn to stop even while the detector
// connection stays open; sig may be nil in tests that don't need
// cross-component shutdown.
func New(chip int, pool *iobuf.Pool, pixels *pixelmap.Map, roi histogram.ROI, histo *histogram.Manager, initialPeriod int64, threshold float64, maxPeriodQueues int, sig *control.Signal) *Analyser {
	if maxPeriodQueues <= 0 {
		maxPeriodQueues = DefaultMaxPeriodQueues
	}
	return &Analyser{
		chip:            chip,
		pool:            pool,
		pixels:          pixels,
		roi:             roi,
		histo:           histo,
		initialPeriod:   initialPeriod,
		maxPeriodQueues: maxPeriodQueues,
		sig:             sig,
		queues:          periodqueue.New(threshold),
	}
}

// Run drains pool until end of stream, a fatal protocol error, or the
// shared Signal being stopped by another component, purging and
// flushing all outstanding periods on every exit path so the last
// period reaches the writer. A fatal error native to this analyser is
// reported to sig so the reader and sibling analysers stop too.
func (a *Analyser) Run() error {
	err := a.runLoop()
	if perr := a.purgeTo(0); err == nil {
		err = perr
	}
	if err != nil && a.sig != nil {
		a.sig.Fail(err)
	}
	return err
}

func (a *Analyser) runLoop() error {
	for {
		if a.sig != nil && a.sig.Stopped() {
			if err := a.sig.Err(); err != nil {
				return fmt.Errorf("analyser: chip %d: stopped: %w", a.chip, err)
			}
			return nil
		}

		buf, ok := a.pool.TakeFilled()
		if !ok {
			return nil
		}

		if err := a.processBuffer(buf.Content[:buf.ContentSize]); err != nil {
			a.pool.Release(buf)
			return err
		}
		a.pool.Release(buf)
	}
}

func (a *Analyser) processBuffer(payload []byte) error {
	predictorReady := a.tdcHits >= 3

	for off := 0; off+8 <= len(payload); off += 8 {
		word := leUint64(payload[off:])

		switch {
		case bits.IsChunkHeader(word):
			return fmt.Errorf("analyser: chip %d: chunk header tag within chunk at offset %d", a.chip, off)
		case bits.MatchesNibble(word, bits.NibblePixelHit):
			if predictorReady {
				if err := a.handleHit(word); err != nil {
					return err
				}
			}
		case bits.MatchesNibble(word, bits.NibbleTDC):
			ready, err := a.handleTDC(word)
			if err != nil {
				return err
			}
			predictorReady = predictorReady || ready
		default:
			if bits.MatchesByte(word, bits.BytePacketID) {
				return fmt.Errorf("analyser: chip %d: packet id tag within chunk at offset %d", a.chip, off)
			}
		}
	}
	return nil
}

func (a *Analyser) handleHit(word uint64) error {
	toa := bits.ToaClock(word)
	period := a.predictor.PeriodPrediction(toa)
	idx := a.queues.IndexFor(period)
	a.queues.Refine(&idx, toa)
	a.hits++

	if !idx.Disputed {
		return a.commit(idx.Period, toa, word)
	}
	a.queues.Enqueue(idx, toa, word)
	return nil
}

func (a *Analyser) handleTDC(word uint64) (predictorReady bool, err error) {
	tdcClock, err := bits.TdcClock(word)
	if err != nil {
		return false, fmt.Errorf("analyser: chip %d: %w", a.chip, err)
	}

	a.tdcHits++
	switch {
	case a.tdcHits == 1:
		a.predictor = predictor.New(tdcClock, a.initialPeriod)
	default:
		a.predictor.Update(tdcClock)
	}
	predictorReady = a.tdcHits >= 3
	if !predictorReady {
		return false, nil
	}
	a.tdcs++

	period := a.predictor.PeriodPrediction(tdcClock)
	idx := a.queues.IndexFor(period)
	if !idx.Disputed {
		return true, fmt.Errorf("analyser: chip %d: undisputed period for TDC at tdcClock=%d", a.chip, tdcClock)
	}
	if a.predictor.NeedsStartUpdate(tdcClock) {
		a.predictor.StartUpdate(tdcClock)
	}

	if err := a.processTDC(idx, tdcClock); err != nil {
		return true, err
	}
	return true, nil
}

func (a *Analyser) processTDC(idx periodqueue.Index, tdcClock int64) error {
	queue := a.queues.RegisterStart(idx, tdcClock)
	for {
		el, ok := queue.Pop()
		if !ok {
			break
		}
		period := idx.Period
		if tdcClock <= el.TOA {
			period = idx.DisputedPeriod
		}
		if err := a.commit(period, el.TOA, el.RawWord); err != nil {
			return err
		}
	}
	return a.purgeTo(a.maxPeriodQueues)
}

func (a *Analyser) purgeTo(targetSize int) error {
	for _, period := range a.queues.Purge(targetSize) {
		// Ensure a slot exists even if this chip committed zero hits
		// to period, so the fan-in barrier still sees this chip report.
		a.histo.DataForPeriod(a.chip, period)
		if err := a.histo.ReturnData(a.chip, period); err != nil {
			return fmt.Errorf("analyser: chip %d: %w", a.chip, err)
		}
	}
	return nil
}

func (a *Analyser) commit(period int64, toa int64, word uint64) error {
	start, ok := a.queues.StartOf(period)
	if !ok {
		start = toa
	}
	relToA := toa - start

	x, y := bits.XY(word)
	flatPixel := int(y)*pixelmap.ChipSize + int(x)
	parts, err := a.pixels.Parts(a.chip, flatPixel)
	if err != nil {
		return fmt.Errorf("analyser: chip %d: %w", a.chip, err)
	}
	if len(parts) == 0 {
		return nil
	}

	tot := bits.TotClock(word)
	data := a.histo.DataForPeriod(a.chip, period)
	data.Commit(a.roi, parts, relToA, uint16(tot))
	return nil
}

// Hits returns the number of pixel-hit events processed (i.e. seen
// after the predictor became ready) since New.
func (a *Analyser) Hits() int64 { return a.hits }

// TDCs returns the number of TDC pulses processed (i.e. seen after the
// predictor became ready) since New.
func (a *Analyser) TDCs() int64 { return a.tdcs }

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
