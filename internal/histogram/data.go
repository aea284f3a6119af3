// Package histogram accumulates time-resolved energy-point spectra
// produced by the per-chip analysers into per-period slots, fans them
// in once every chip has reported, and hands completed periods to a
// writer.
package histogram

import "github.com/psi-detectors/tpx3stream/internal/pixelmap"

// ROI holds the region-of-interest configuration a committed event is
// binned against.
type ROI struct {
	TOTRoiStart uint16 // exclusive lower bound
	TOTRoiEnd   uint16 // exclusive upper bound
	TRoiStart   int64  // clock-tick offset the first time bin starts at
	TRoiStep    int64  // clock ticks per time bin
	TRoiN       int64  // number of time bins
	NPoints     uint32 // energy points per time bin
}

// Data holds one chip's accumulated spectra for one period.
type Data struct {
	Spectra   []float64 // indexed by [timePoint*NPoints + energyPoint]
	BeforeRoi int64
	AfterRoi  int64
	Total     int64
}

// NewData allocates a zeroed Data sized for roi.
func NewData(roi ROI) Data {
	return Data{Spectra: make([]float64, roi.TRoiN*int64(roi.NPoints))}
}

// Reset zeroes the spectra and counters in place, preserving the
// underlying allocation for reuse.
func (d *Data) Reset() {
	for i := range d.Spectra {
		d.Spectra[i] = 0
	}
	d.BeforeRoi, d.AfterRoi, d.Total = 0, 0, 0
}

// Add folds other's spectra and counters into d element-wise.
func (d *Data) Add(other *Data) {
	for i := range other.Spectra {
		d.Spectra[i] += other.Spectra[i]
	}
	d.BeforeRoi += other.BeforeRoi
	d.AfterRoi += other.AfterRoi
	d.Total += other.Total
}

// Commit applies the binning rule for one committed event: value is the
// time coordinate (relative TOA in TOA mode, or TOT in TOT mode), tot is
// the event's time-over-threshold used for the pixel-map gate.
func (d *Data) Commit(roi ROI, parts []pixelmap.Part, value int64, tot uint16) {
	d.Total++

	switch {
	case value < roi.TRoiStart:
		d.BeforeRoi++
	case value >= roi.TRoiStart+roi.TRoiStep*roi.TRoiN:
		d.AfterRoi++
	default:
		if tot <= roi.TOTRoiStart || tot >= roi.TOTRoiEnd {
			return
		}
		var tp = (value - roi.TRoiStart) / roi.TRoiStep
		for _, p := range parts {
			d.Spectra[tp*int64(roi.NPoints)+int64(p.EnergyPoint)] += float64(p.Weight)
		}
	}
}
