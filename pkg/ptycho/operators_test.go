package ptycho

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
)

const tol = 1e-9

func randomComplex(rng *rand.Rand, rows, cols int) *array.Complex2D {
	p := array.NewComplex2D(rows, cols)
	for i := range p.Data {
		p.Data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return p
}

func randomPotential(rng *rand.Rand, rows, cols int) *array.Complex2D {
	p := array.NewComplex2D(rows, cols)
	for i := range p.Data {
		p.Data[i] = complex(0.3*rng.Float64(), 0)
	}
	return p
}

func gridPositions(n int, step, offset float64) Positions {
	var p Positions
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p = append(p, [2]float64{offset + float64(i)*step, offset + float64(j)*step})
		}
	}
	return p
}

// measuredAmplitudes returns |FFT(overlap)| for an exposure.
func measuredAmplitudes(be backend.Backend, exp *Exposure) *array.RealStack {
	o := exp.Overlap
	spectrum := array.NewComplexStack(o.Len, o.Rows, o.Cols)
	be.FFT2(spectrum, o)
	amp := array.NewRealStack(o.Len, o.Rows, o.Cols)
	for i, v := range spectrum.Data {
		amp.Data[i] = cmplx.Abs(v)
	}
	return amp
}

func assertComplexClose(t *testing.T, want, got []complex128, delta float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		if cmplx.Abs(want[i]-got[i]) > delta {
			t.Fatalf("element %d: want %v, got %v", i, want[i], got[i])
		}
	}
}

func TestFourierShiftZeroIsExactCopy(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	be := backend.NewCPU(2)
	probe := randomComplex(rng, 8, 8)

	out := FourierShift(be, probe, Positions{{0, 0}, {0.3, 0}, {0, 0}})

	assert.Equal(t, probe.Data, out.Frame(0))
	assert.Equal(t, probe.Data, out.Frame(2))
	assert.NotEqual(t, probe.Data, out.Frame(1))
}

func TestFourierShiftIntegerMatchesRoll(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	be := backend.NewCPU(1)
	probe := randomComplex(rng, 8, 6)

	out := FourierShift(be, probe, Positions{{1, 0}, {0, -2}, {3, 1}})

	assertComplexClose(t, array.RollComplex(probe, 1, 0).Data, out.Frame(0), tol)
	assertComplexClose(t, array.RollComplex(probe, 0, -2).Data, out.Frame(1), tol)
	assertComplexClose(t, array.RollComplex(probe, 3, 1).Data, out.Frame(2), tol)
}

func TestFourierShiftPreservesIntensity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	be := backend.NewCPU(1)
	probe := randomComplex(rng, 16, 16)

	out := FourierShift(be, probe, Positions{{0.37, -0.21}})

	assert.InDelta(t, totalIntensity(probe), totalIntensity(out.Plane(0)), 1e-8)
}

func TestOverlapOfUnitObjectIsShiftedProbe(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	be := backend.NewCPU(2)
	probe := randomComplex(rng, 8, 8)
	object := array.NewComplex2D(24, 24) // zero potential, transmission one

	positions := Positions{{8, 8}, {12, 10}, {15, 16}}
	idx := NewPatchIndices(positions, 8, 8, 24, 24)
	exp := Overlap(be, probe, object, Potential, idx, positions.Fractional())

	for k := range positions {
		assertComplexClose(t, probe.Data, exp.Overlap.Frame(k), 0)
	}
}

func TestOverlapComplexUsesObjectDirectly(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	be := backend.NewCPU(1)
	probe := randomComplex(rng, 4, 4)
	object := randomComplex(rng, 12, 12)

	positions := Positions{{6, 6}}
	idx := NewPatchIndices(positions, 4, 4, 12, 12)
	exp := Overlap(be, probe, object, Complex, idx, positions.Fractional())

	patch := idx.Gather(object).Frame(0)
	for n, v := range exp.Overlap.Frame(0) {
		assert.InDelta(t, 0, cmplx.Abs(v-probe.Data[n]*patch[n]), tol)
	}
}

func TestTransmissionOfPotential(t *testing.T) {
	object := array.NewComplex2DFrom(1, 2, []complex128{0, math.Pi / 2})
	tr := Transmission(object, Potential)
	assert.InDelta(t, 1, real(tr.Data[0]), tol)
	assert.InDelta(t, 0, real(tr.Data[1]), tol)
	assert.InDelta(t, 1, imag(tr.Data[1]), tol)

	assert.Same(t, object, Transmission(object, Complex))
}

func consistentExposure(t *testing.T, seed int64) (backend.Backend, *Exposure, *array.RealStack) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	be := backend.NewCPU(2)
	probe := randomComplex(rng, 8, 8)
	object := randomPotential(rng, 24, 24)
	positions := gridPositions(3, 3.3, 7)
	idx := NewPatchIndices(positions, 8, 8, 24, 24)
	exp := Overlap(be, probe, object, Potential, idx, positions.Fractional())
	return be, exp, measuredAmplitudes(be, exp)
}

func TestGradientDescentProjectionOnConsistentData(t *testing.T) {
	be, exp, amp := consistentExposure(t, 6)

	delta, errSum := GradientDescentProjection(be, amp, exp.Overlap)

	assert.InDelta(t, 0, errSum, 1e-12)
	for _, v := range delta.Data {
		assert.InDelta(t, 0, cmplx.Abs(v), 1e-9)
	}
}

func TestGradientDescentProjectionError(t *testing.T) {
	be, exp, amp := consistentExposure(t, 7)
	scaled := array.NewRealStack(amp.Len, amp.Rows, amp.Cols)
	want := 0.0
	for i, v := range amp.Data {
		scaled.Data[i] = 2 * v
		want += v * v
	}

	_, errSum := GradientDescentProjection(be, scaled, exp.Overlap)

	assert.InDelta(t, want, errSum, 1e-8*want)
}

func TestGeneralizedProjectionFixedPoint(t *testing.T) {
	be, exp, amp := consistentExposure(t, 8)

	cases := []struct {
		name  string
		param []float64
	}{
		{MethodDMAP, []float64{0.5}},
		{MethodRAAR, []float64{0.5}},
		{MethodRRR, []float64{0.5}},
		{MethodSuperflip, nil},
	}
	for _, tc := range cases {
		m, err := ResolveMethod(tc.name, tc.param)
		require.NoError(t, err)
		name := tc.name

		updated, errSum := GeneralizedProjection(be, amp, exp.Overlap, nil, m.Params)
		assert.InDelta(t, 0, errSum, 1e-12, name)
		assertComplexClose(t, exp.Overlap.Data, updated.Data, 1e-9)
	}
}

func TestGeneralizedProjectionLeavesStateUntouched(t *testing.T) {
	be, exp, amp := consistentExposure(t, 9)
	state := exp.Overlap.Clone()
	for i := range state.Data {
		state.Data[i] *= 1.5
	}
	before := state.Clone()

	_, _ = GeneralizedProjection(be, amp, exp.Overlap, state, ProjectionParams{A: -1, B: 1, C: 2})

	assert.Equal(t, before.Data, state.Data)
}

func TestProjectionPanicsOnShapeMismatch(t *testing.T) {
	be := backend.NewCPU(1)
	amp := array.NewRealStack(2, 4, 4)
	overlap := array.NewComplexStack(3, 4, 4)
	assert.Panics(t, func() { GradientDescentProjection(be, amp, overlap) })
}

func TestDampedInverse(t *testing.T) {
	be := backend.NewCPU(1)
	s := []float64{4, 2, 0}

	plain := DampedInverse(be, s, 0)
	assert.InDelta(t, 0.25, plain[0], 1e-12)
	assert.InDelta(t, 0.5, plain[1], 1e-12)
	assert.InDelta(t, 1e8, plain[2], 1)

	flat := DampedInverse(be, s, 1)
	for _, v := range flat {
		assert.InDelta(t, 0.25, v, 1e-12)
	}

	half := DampedInverse(be, s, 0.5)
	assert.InDelta(t, 1/math.Sqrt(4+4), half[0], 1e-12)
	assert.InDelta(t, 0.5, half[2], 1e-12)
}

func TestGradientDescentAdjointZeroWavesKeepsEstimates(t *testing.T) {
	be, exp, _ := consistentExposure(t, 10)
	rng := rand.New(rand.NewSource(10))
	object := randomPotential(rng, 24, 24)
	probe := randomComplex(rng, 8, 8)
	objectBefore, probeBefore := object.Clone(), probe.Clone()
	idx := NewPatchIndices(gridPositions(3, 3.3, 7), 8, 8, 24, 24)

	gd := &GradientDescent{StepSize: 0.5}
	o, p := gd.Adjoint(be, AdjointInput{
		Object:           object,
		ObjectType:       Potential,
		Probe:            probe,
		Exposure:         exp,
		Indices:          idx,
		Waves:            array.NewComplexStack(exp.Overlap.Len, 8, 8),
		NormalizationMin: 0.01,
	})

	assert.Same(t, object, o)
	assert.Same(t, probe, p)
	assert.Equal(t, objectBefore.Data, o.Data)
	assert.Equal(t, probeBefore.Data, p.Data)
}

func TestProjectionAdjointRecoversUnitObject(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	be := backend.NewCPU(2)
	probe := randomComplex(rng, 8, 8)
	object := array.NewComplex2D(20, 20)
	for i := range object.Data {
		object.Data[i] = 1
	}
	positions := gridPositions(4, 2, 6)
	idx := NewPatchIndices(positions, 8, 8, 20, 20)
	exp := Overlap(be, probe, object, Complex, idx, positions.Fractional())

	ps := &ProjectionSets{Params: ProjectionParams{A: -1, B: 1, C: 2}}
	waves := exp.Overlap.Clone()
	o, p := ps.Adjoint(be, AdjointInput{
		Object:     object,
		ObjectType: Complex,
		Probe:      probe,
		Exposure:   exp,
		Indices:    idx,
		Waves:      waves,
		FixProbe:   true,
	})

	assert.NotSame(t, object, o)
	assert.Same(t, probe, p)
	assert.Equal(t, exp.Overlap.Data, waves.Data)

	// Σ|P|²·O / Σ|P|² = O wherever the probe illuminates
	coverage := ProbeOverlap(be, exp.ShiftedProbes, idx)
	for i, v := range o.Data {
		if coverage.Data[i] > 1e-3 {
			assert.InDelta(t, 1, real(v), 1e-6)
			assert.InDelta(t, 0, imag(v), 1e-6)
		}
	}
}

func TestMethodStrategy(t *testing.T) {
	gd, err := ResolveMethod("gradient-descent", nil)
	require.NoError(t, err)
	s := gd.Strategy(0.7)
	assert.False(t, s.UsesExitWaves())
	assert.Equal(t, 0.7, s.(*GradientDescent).StepSize)

	dm, err := ResolveMethod("DM_AP", nil)
	require.NoError(t, err)
	assert.True(t, dm.Strategy(0.7).UsesExitWaves())
}
