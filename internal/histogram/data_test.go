package histogram

import (
	"testing"

	"github.com/psi-detectors/tpx3stream/internal/pixelmap"
	"github.com/stretchr/testify/assert"
)

func testROI() ROI {
	return ROI{TOTRoiStart: 0, TOTRoiEnd: 64000, TRoiStart: 0, TRoiStep: 1, TRoiN: 10, NPoints: 3}
}

func Test_Commit_beforeRoi(t *testing.T) {
	var roi = testROI()
	var d = NewData(roi)
	d.Commit(roi, []pixelmap.Part{{EnergyPoint: 0, Weight: 1}}, -1, 100)

	assert.Equal(t, int64(1), d.BeforeRoi)
	assert.Equal(t, int64(0), d.AfterRoi)
	assert.Equal(t, int64(1), d.Total)
}

func Test_Commit_afterRoi(t *testing.T) {
	var roi = testROI()
	var d = NewData(roi)
	d.Commit(roi, []pixelmap.Part{{EnergyPoint: 0, Weight: 1}}, 10, 100)

	assert.Equal(t, int64(1), d.AfterRoi)
	assert.Equal(t, int64(1), d.Total)
}

func Test_Commit_withinRoi_addsWeightedParts(t *testing.T) {
	var roi = testROI()
	var d = NewData(roi)
	var parts = []pixelmap.Part{{EnergyPoint: 1, Weight: 0.5}, {EnergyPoint: 2, Weight: 2.0}}

	d.Commit(roi, parts, 4, 100)

	assert.Equal(t, int64(0), d.BeforeRoi)
	assert.Equal(t, int64(0), d.AfterRoi)
	assert.Equal(t, int64(1), d.Total)
	assert.Equal(t, 0.5, d.Spectra[4*3+1])
	assert.Equal(t, 2.0, d.Spectra[4*3+2])
}

func Test_Commit_withinRoi_rejectsOutOfTOTRange(t *testing.T) {
	var roi = testROI()
	var d = NewData(roi)
	var parts = []pixelmap.Part{{EnergyPoint: 0, Weight: 1}}

	d.Commit(roi, parts, 4, 0)
	d.Commit(roi, parts, 4, 64000)

	for _, v := range d.Spectra {
		assert.Equal(t, 0.0, v)
	}
	assert.Equal(t, int64(2), d.Total)
}

func Test_Add_sumsElementwiseAndCounters(t *testing.T) {
	var roi = testROI()
	var a = NewData(roi)
	var b = NewData(roi)

	a.Commit(roi, []pixelmap.Part{{EnergyPoint: 0, Weight: 1}}, 2, 100)
	b.Commit(roi, []pixelmap.Part{{EnergyPoint: 0, Weight: 3}}, 2, 100)
	b.Commit(roi, nil, -5, 100)

	a.Add(&b)
	assert.Equal(t, 4.0, a.Spectra[2*3+0])
	assert.Equal(t, int64(1), a.BeforeRoi)
	assert.Equal(t, int64(3), a.Total)
}

func Test_Reset_zeroesSpectraAndCounters(t *testing.T) {
	var roi = testROI()
	var d = NewData(roi)
	d.Commit(roi, []pixelmap.Part{{EnergyPoint: 0, Weight: 1}}, 2, 100)
	d.Commit(roi, nil, -1, 100)

	d.Reset()

	for _, v := range d.Spectra {
		assert.Equal(t, 0.0, v)
	}
	assert.Equal(t, int64(0), d.BeforeRoi)
	assert.Equal(t, int64(0), d.AfterRoi)
	assert.Equal(t, int64(0), d.Total)
}
