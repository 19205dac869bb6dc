package ptycho

import (
	"math"
	"math/cmplx"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
)

// normalizationEpsilon keeps the overlap normalisation finite where nothing
// illuminates the object.
const normalizationEpsilon = 1e-16

// AdjointInput carries everything the adjoint operator reads for one batch.
type AdjointInput struct {
	Object     *array.Complex2D
	ObjectType ObjectType
	Probe      *array.Complex2D

	Exposure *Exposure
	Indices  *PatchIndices

	// Waves is the exit-wave difference (gradient descent) or the updated
	// exit-wave state (projection sets).
	Waves *array.ComplexStack

	// NormalizationMin is the normalisation floor as a fraction of the
	// maximum overlap intensity.
	NormalizationMin float64

	// FixProbe skips the probe update.
	FixProbe bool
}

// Adjoint implements Strategy. The object and probe are updated in place by
// adding the step-scaled increments and returned.
func (g *GradientDescent) Adjoint(be backend.Backend, in AdjointInput) (*array.Complex2D, *array.Complex2D) {
	step := complex(g.StepSize, 0)

	inc := ObjectIncrement(be, in)
	for i := range in.Object.Data {
		in.Object.Data[i] += step * inc.Data[i]
	}

	if !in.FixProbe {
		pinc := ProbeIncrement(be, in)
		for i := range in.Probe.Data {
			in.Probe.Data[i] += step * pinc.Data[i]
		}
	}
	return in.Object, in.Probe
}

// Adjoint implements Strategy. The object and probe are replaced by the
// back-projected exit waves; the inputs are left untouched and the exit-wave
// state is copied before it is read, since the caller keeps using it.
func (p *ProjectionSets) Adjoint(be backend.Backend, in AdjointInput) (*array.Complex2D, *array.Complex2D) {
	in.Waves = in.Waves.Clone()

	object := ObjectIncrement(be, in)
	probe := in.Probe
	if !in.FixProbe {
		probe = ProbeIncrement(be, in)
	}
	return object, probe
}

// DampedInverse computes 1/sqrt(ε + ((1-m)·S)² + (m·max S)²) elementwise and
// returns it as a new slice.
func DampedInverse(be backend.Backend, s []float64, normalizationMin float64) []float64 {
	maxS := be.Max(s)
	floor := normalizationMin * maxS
	out := make([]float64, len(s))
	for i, v := range s {
		w := (1 - normalizationMin) * v
		out[i] = 1 / math.Sqrt(normalizationEpsilon+w*w+floor*floor)
	}
	return out
}

// ProbeOverlap scatter-accumulates |shifted probe|² into object space.
func ProbeOverlap(be backend.Backend, shiftedProbes *array.ComplexStack, idx *PatchIndices) *array.Real2D {
	intensity := make([]float64, len(shiftedProbes.Data))
	be.ParallelFrames(shiftedProbes.Len, func(k int) {
		n0 := k * shiftedProbes.FrameSize()
		for n, v := range shiftedProbes.Frame(k) {
			intensity[n0+n] = array.Abs2(v)
		}
	})
	return SumOverlapping(idx, intensity)
}

// ObjectIncrement returns the overlap-normalised object update.
//
// Potential objects accumulate Re(-i·conj(patch)·conj(probe)·waves); complex
// objects accumulate conj(probe)·waves. Both are weighted by the damped
// inverse of the scattered probe intensity.
func ObjectIncrement(be backend.Backend, in AdjointInput) *array.Complex2D {
	exp, idx := in.Exposure, in.Indices
	norm := DampedInverse(be, ProbeOverlap(be, exp.ShiftedProbes, idx).Data, in.NormalizationMin)

	out := array.NewComplex2D(idx.ObjectRows, idx.ObjectCols)
	frame := exp.ShiftedProbes.FrameSize()

	if in.ObjectType == Potential {
		values := make([]float64, len(in.Waves.Data))
		be.ParallelFrames(in.Waves.Len, func(k int) {
			p, o, w := exp.ShiftedProbes.Frame(k), exp.ObjectPatches.Frame(k), in.Waves.Frame(k)
			for n := range w {
				values[k*frame+n] = real(-1i * cmplx.Conj(o[n]) * cmplx.Conj(p[n]) * w[n])
			}
		})
		acc := SumOverlapping(idx, values)
		for i, v := range acc.Data {
			out.Data[i] = complex(v*norm[i], 0)
		}
		return out
	}

	values := make([]complex128, len(in.Waves.Data))
	be.ParallelFrames(in.Waves.Len, func(k int) {
		p, w := exp.ShiftedProbes.Frame(k), in.Waves.Frame(k)
		for n := range w {
			values[k*frame+n] = cmplx.Conj(p[n]) * w[n]
		}
	})
	ScatterAddComplex(out.Data, idx, values)
	for i := range out.Data {
		out.Data[i] *= complex(norm[i], 0)
	}
	return out
}

// ProbeIncrement returns the probe update Σ conj(patch)·waves over the batch,
// weighted by the damped inverse of Σ|patch|².
func ProbeIncrement(be backend.Backend, in AdjointInput) *array.Complex2D {
	patches := in.Exposure.ObjectPatches
	rows, cols := patches.Rows, patches.Cols
	size := rows * cols

	intensity := make([]float64, size)
	sum := make([]complex128, size)
	for k := 0; k < patches.Len; k++ {
		o, w := patches.Frame(k), in.Waves.Frame(k)
		for n := 0; n < size; n++ {
			intensity[n] += array.Abs2(o[n])
			sum[n] += cmplx.Conj(o[n]) * w[n]
		}
	}

	norm := DampedInverse(be, intensity, in.NormalizationMin)
	out := array.NewComplex2DFrom(rows, cols, sum)
	for n := range out.Data {
		out.Data[n] *= complex(norm[n], 0)
	}
	return out
}
