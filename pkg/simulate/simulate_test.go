package simulate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
	"ptychorecon/pkg/ptycho"
)

func smallParams() Params {
	p := DefaultParams()
	p.ScanShape = [2]int{3, 4}
	p.FrameShape = [2]int{16, 16}
	p.ReciprocalSampling = [2]float64{1.0 / 16, 1.0 / 16}
	p.ApertureRadius = 0.25
	return p
}

func TestGenerateShapes(t *testing.T) {
	be := backend.NewCPU(2)
	res, err := Generate(be, smallParams())
	require.NoError(t, err)

	assert.Equal(t, 12, res.Dataset.Len())
	rows, cols := res.Dataset.FrameShape()
	assert.Equal(t, 16, rows)
	assert.Equal(t, 16, cols)
	assert.Len(t, res.Positions, 12)
	assert.Equal(t, [2]float64{1, 1}, res.Sampling)
	assert.GreaterOrEqual(t, res.Object.Rows, 16)
	assert.GreaterOrEqual(t, res.Object.Cols, 16)
}

func TestGenerateConservesIntensity(t *testing.T) {
	be := backend.NewCPU(1)
	res, err := Generate(be, smallParams())
	require.NoError(t, err)

	// Parseval: Σ|FFT(P·T)|² = n·Σ|P|² for a pure-phase object
	n := 16.0 * 16.0
	probeIntensity := 0.0
	for _, v := range res.Probe.Data {
		probeIntensity += array.Abs2(v)
	}
	for k := 0; k < res.Dataset.Len(); k++ {
		sum := 0.0
		for _, v := range res.Dataset.Frame(k) {
			sum += v
		}
		assert.InDelta(t, n*probeIntensity, sum, 1e-8*n*probeIntensity)
	}
}

func TestGenerateFramesAreCentred(t *testing.T) {
	be := backend.NewCPU(1)
	res, err := Generate(be, smallParams())
	require.NoError(t, err)

	// the bright field disk sits in the middle of the detector
	frame := res.Dataset.Frame(0)
	assert.Greater(t, frame[8*16+8], frame[0])
}

func TestGenerateIsDeterministic(t *testing.T) {
	be := backend.NewCPU(2)
	p := smallParams()
	p.Dose = 1e4

	a, err := Generate(be, p)
	require.NoError(t, err)
	b, err := Generate(be, p)
	require.NoError(t, err)

	assert.Equal(t, a.Dataset.Frames, b.Dataset.Frames)
	for _, v := range a.Dataset.Frame(3) {
		assert.Equal(t, math.Round(v), v)
	}
}

func TestGenerateRejectsInvalidParams(t *testing.T) {
	be := backend.NewCPU(1)
	for _, mutate := range []func(*Params){
		func(p *Params) { p.ScanShape = [2]int{0, 2} },
		func(p *Params) { p.FrameShape = [2]int{8, 0} },
		func(p *Params) { p.ReciprocalSampling = [2]float64{0, 1} },
		func(p *Params) { p.ApertureRadius = 0 },
		func(p *Params) { p.Dose = -1 },
	} {
		p := smallParams()
		mutate(&p)
		_, err := Generate(be, p)
		assert.ErrorIs(t, err, ptycho.ErrConfig)
	}
}

func TestPhaseErrorIgnoresOffset(t *testing.T) {
	a := array.NewComplex2DFrom(1, 3, []complex128{0.1, 0.2, 0.3})
	b := array.NewComplex2DFrom(1, 3, []complex128{1.1, 1.2, 1.3})
	assert.InDelta(t, 0, PhaseError(a, b, nil), 1e-12)

	c := array.NewComplex2DFrom(1, 3, []complex128{0.1, 0.2, 5})
	assert.InDelta(t, 0, PhaseError(a, c, []bool{true, true, false}), 1e-12)
	assert.Greater(t, PhaseError(a, c, nil), 0.1)
}

func TestProbeOverlapError(t *testing.T) {
	be := backend.NewCPU(1)
	p := Probe(be, 16, 16, [2]float64{1, 1}, 0.25, 1)
	q := p.Clone()
	for i := range q.Data {
		q.Data[i] *= complex(0, 2)
	}
	assert.InDelta(t, 0, ProbeOverlapError(p, q), 1e-12)
	assert.Equal(t, 1.0, ProbeOverlapError(p, array.NewComplex2D(16, 16)))
}
