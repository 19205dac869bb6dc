package ptycho

import (
	"fmt"
	"math"
	"math/cmplx"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
)

// Strategy is one of the two interchangeable update schemes: memoryless
// gradient descent, or a generalised projection that carries exit waves
// across iterations.
type Strategy interface {
	// UsesExitWaves reports whether Project keeps exit-wave state.
	UsesExitWaves() bool

	// Project applies the Fourier-magnitude constraint to the overlap. For
	// gradient descent the returned stack is the exit-wave difference; for
	// projection sets it is the updated exit-wave state (exitWaves is ignored
	// by gradient descent). The error is Σ(A - |FFT(overlap)|)².
	Project(be backend.Backend, amplitudes *array.RealStack, overlap, exitWaves *array.ComplexStack) (*array.ComplexStack, float64)

	// Adjoint back-propagates the projected waves into object and probe
	// updates and returns the new object and probe.
	Adjoint(be backend.Backend, in AdjointInput) (*array.Complex2D, *array.Complex2D)
}

// GradientDescent takes a single step-scaled gradient step per batch.
type GradientDescent struct {
	StepSize float64
}

// ProjectionSets implements DM_AP, RAAR, RRR, SUPERFLIP and the generalised
// projection through their shared (a, b, c) skeleton.
type ProjectionSets struct {
	Params ProjectionParams
}

// UsesExitWaves implements Strategy.
func (*GradientDescent) UsesExitWaves() bool { return false }

// UsesExitWaves implements Strategy.
func (*ProjectionSets) UsesExitWaves() bool { return true }

// Project implements Strategy.
func (g *GradientDescent) Project(be backend.Backend, amplitudes *array.RealStack, overlap, _ *array.ComplexStack) (*array.ComplexStack, float64) {
	return GradientDescentProjection(be, amplitudes, overlap)
}

// Project implements Strategy.
func (p *ProjectionSets) Project(be backend.Backend, amplitudes *array.RealStack, overlap, exitWaves *array.ComplexStack) (*array.ComplexStack, float64) {
	return GeneralizedProjection(be, amplitudes, overlap, exitWaves, p.Params)
}

func checkAmplitudes(amplitudes *array.RealStack, waves *array.ComplexStack) {
	if amplitudes.Len != waves.Len || amplitudes.Rows != waves.Rows || amplitudes.Cols != waves.Cols {
		panic(fmt.Sprintf("ptycho: amplitudes %dx%dx%d do not match waves %dx%dx%d",
			amplitudes.Len, amplitudes.Rows, amplitudes.Cols, waves.Len, waves.Rows, waves.Cols))
	}
}

// fourierError returns Σ(A - |F|)² over the batch.
func fourierError(be backend.Backend, amplitudes *array.RealStack, spectrum *array.ComplexStack) float64 {
	partial := make([]float64, spectrum.Len)
	be.ParallelFrames(spectrum.Len, func(k int) {
		a, f := amplitudes.Frame(k), spectrum.Frame(k)
		acc := 0.0
		for n := range f {
			d := a[n] - cmplx.Abs(f[n])
			acc += d * d
		}
		partial[k] = acc
	})
	return be.Sum(partial)
}

// replaceMagnitude sets |F| = A in place while keeping the phase of F. A zero
// coefficient takes phase zero.
func replaceMagnitude(be backend.Backend, amplitudes *array.RealStack, spectrum *array.ComplexStack) {
	be.ParallelFrames(spectrum.Len, func(k int) {
		a, f := amplitudes.Frame(k), spectrum.Frame(k)
		for n := range f {
			f[n] = complex(a[n], 0) * array.Expi(math.Atan2(imag(f[n]), real(f[n])))
		}
	})
}

// GradientDescentProjection computes the memoryless Fourier projection.
//
//	F = FFT(overlap), F' = A·exp(i·angle F), delta = IFFT(F') - overlap
//
// Returns:
//   - The exit-wave difference delta
//   - The batch error Σ(A - |F|)²
func GradientDescentProjection(be backend.Backend, amplitudes *array.RealStack, overlap *array.ComplexStack) (*array.ComplexStack, float64) {
	checkAmplitudes(amplitudes, overlap)

	spectrum := array.NewComplexStack(overlap.Len, overlap.Rows, overlap.Cols)
	be.FFT2(spectrum, overlap)
	errSum := fourierError(be, amplitudes, spectrum)

	replaceMagnitude(be, amplitudes, spectrum)
	be.IFFT2(spectrum, spectrum)

	be.ParallelFrames(spectrum.Len, func(k int) {
		d, o := spectrum.Frame(k), overlap.Frame(k)
		for n := range d {
			d[n] -= o[n]
		}
	})
	return spectrum, errSum
}

// GeneralizedProjection advances the exit-wave state with the (a, b, c)
// projection:
//
//	factor    = c·overlap + (1-c)·E
//	projected = IFFT(A·exp(i·angle FFT(factor)))
//	E'        = (1-a-b)·E + a·overlap + b·projected
//
// A nil exitWaves is seeded with a copy of overlap. The input state is not
// modified. The error is measured on FFT(overlap) before the update.
func GeneralizedProjection(
	be backend.Backend,
	amplitudes *array.RealStack,
	overlap, exitWaves *array.ComplexStack,
	params ProjectionParams,
) (*array.ComplexStack, float64) {
	checkAmplitudes(amplitudes, overlap)
	if exitWaves == nil {
		exitWaves = overlap.Clone()
	}

	x := complex(1-params.A-params.B, 0)
	y := complex(1-params.C, 0)
	a := complex(params.A, 0)
	b := complex(params.B, 0)
	c := complex(params.C, 0)

	spectrum := array.NewComplexStack(overlap.Len, overlap.Rows, overlap.Cols)
	be.FFT2(spectrum, overlap)
	errSum := fourierError(be, amplitudes, spectrum)

	factor := array.NewComplexStack(overlap.Len, overlap.Rows, overlap.Cols)
	be.ParallelFrames(factor.Len, func(k int) {
		f, o, e := factor.Frame(k), overlap.Frame(k), exitWaves.Frame(k)
		for n := range f {
			f[n] = c*o[n] + y*e[n]
		}
	})
	be.FFT2(factor, factor)
	replaceMagnitude(be, amplitudes, factor)
	be.IFFT2(factor, factor)

	updated := array.NewComplexStack(overlap.Len, overlap.Rows, overlap.Cols)
	be.ParallelFrames(updated.Len, func(k int) {
		u, o, e, p := updated.Frame(k), overlap.Frame(k), exitWaves.Frame(k), factor.Frame(k)
		for n := range u {
			u[n] = x*e[n] + a*o[n] + b*p[n]
		}
	})
	return updated, errSum
}
