// Package pipeline assembles the reader, per-chip buffer pools,
// per-chip analysers, histogram aggregator and writer into one running
// system, and owns the shared stop signal threaded through all of them.
//
// Purpose: cmd/tpx3stream's main is a thin CLI shell; this is where
// component wiring and the one-reader/N-analysers/one-writer thread
// topology (spec.md §5) lives, so it can be exercised without a process
// boundary from tests.
package pipeline

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/psi-detectors/tpx3stream/internal/analyser"
	"github.com/psi-detectors/tpx3stream/internal/config"
	"github.com/psi-detectors/tpx3stream/internal/control"
	"github.com/psi-detectors/tpx3stream/internal/histogram"
	"github.com/psi-detectors/tpx3stream/internal/iobuf"
	"github.com/psi-detectors/tpx3stream/internal/logging"
	"github.com/psi-detectors/tpx3stream/internal/pixelmap"
	"github.com/psi-detectors/tpx3stream/internal/streamreader"
	"github.com/psi-detectors/tpx3stream/internal/writer"
)

// Pipeline wires together one reader, one analyser per chip, and one
// histogram/writer pair.
type Pipeline struct {
	layout *config.Layout
	signal *control.Signal

	reader     *streamreader.Reader
	analysers  []*analyser.Analyser
	histogram  *histogram.Manager
	writerImpl histogram.Writer
}

// New builds a Pipeline from layout, reading the raw stream from conn
// and loading the pixel map from the path and format layout names.
func New(layout *config.Layout, conn io.Reader, sig *control.Signal) (*Pipeline, error) {
	pixels, err := loadPixelMap(layout)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	roi := histogram.ROI{
		TOTRoiStart: layout.ROI.TOTRoiStart,
		TOTRoiEnd:   layout.ROI.TOTRoiEnd,
		TRoiStart:   layout.ROI.TRoiStart,
		TRoiStep:    layout.ROI.TRoiStep,
		TRoiN:       layout.ROI.TRoiN,
		NPoints:     pixels.NPoints,
	}

	dest, err := writer.FromURI(layout.OutputURI, int(pixels.NPoints), layout.ROI.TRoiN)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	mgr := histogram.NewManager(roi, layout.NumChips, layout.HistogramSlots, dest)

	pools := make([]*iobuf.Pool, layout.NumChips)
	analysers := make([]*analyser.Analyser, layout.NumChips)
	for chip := 0; chip < layout.NumChips; chip++ {
		pools[chip] = iobuf.NewPool(layout.BufferSize)
		analysers[chip] = analyser.New(chip, pools[chip], pixels, roi, mgr, layout.InitialPeriod, layout.DisputeThreshold, layout.MaxPeriodQueues, sig)
	}

	return &Pipeline{
		layout:     layout,
		signal:     sig,
		reader:     streamreader.New(conn, pools, layout.WithPacketID, sig),
		analysers:  analysers,
		histogram:  mgr,
		writerImpl: dest,
	}, nil
}

func loadPixelMap(layout *config.Layout) (*pixelmap.Map, error) {
	f, err := os.Open(layout.PixelMapPath)
	if err != nil {
		return nil, fmt.Errorf("open pixel map %q: %w", layout.PixelMapPath, err)
	}
	defer f.Close()

	switch layout.PixelMapFormat {
	case "json":
		return pixelmap.LoadJSON(f, layout.NumChips)
	default:
		return pixelmap.LoadText(f, layout.NumChips)
	}
}

// Run starts the reader, every analyser, and the histogram writer loop,
// and blocks until all of them have exited. Every component's error is
// reported to the shared Signal; Run itself returns the first error
// observed, if any, matching the original's "global last error" surface.
//
// The histogram writer loop (Manager.Run) only returns once Stop is
// called, so it is not part of the upstream WaitGroup: Stop is called
// once the reader and every analyser have finished, since an analyser's
// final purgeTo(0) on shutdown is what drives the last ReturnData call
// for every outstanding period.
func (p *Pipeline) Run() error {
	var upstream sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	record := func(err error) {
		if err == nil {
			return
		}
		p.signal.Fail(err)
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	histoDone := make(chan error, 1)
	go func() { histoDone <- p.histogram.Run() }()

	upstream.Add(1)
	go func() {
		defer upstream.Done()
		log := logging.For("reader")
		if err := p.reader.Run(); err != nil {
			log.Error("reader failed", "err", err)
			record(err)
		}
	}()

	for i, a := range p.analysers {
		upstream.Add(1)
		go func(chip int, a *analyser.Analyser) {
			defer upstream.Done()
			log := logging.For(fmt.Sprintf("analyser.%d", chip))
			if err := a.Run(); err != nil {
				log.Error("analyser failed", "err", err)
				record(err)
			}
		}(i, a)
	}

	upstream.Wait()
	p.histogram.Stop()
	record(<-histoDone)

	return firstErr
}
