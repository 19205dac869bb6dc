package ptycho

import (
	"math"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
)

// FourierShift translates the probe by each sub-pixel offset using a Fourier
// phase ramp exp(-2πi(kx·dx + ky·dy)), which keeps the probe band-limited.
//
// A zero offset returns an exact copy of the probe rather than a round trip
// through the FFT.
func FourierShift(be backend.Backend, probe *array.Complex2D, shifts Positions) *array.ComplexStack {
	rows, cols := probe.Rows, probe.Cols
	out := array.NewComplexStack(len(shifts), rows, cols)
	if len(shifts) == 0 {
		return out
	}

	spectrum := array.NewComplex2D(rows, cols)
	be.FFT2D(spectrum, probe)

	kx := array.FFTFreq(rows, 1)
	ky := array.FFTFreq(cols, 1)

	ramped := make([]bool, len(shifts))
	be.ParallelFrames(len(shifts), func(k int) {
		dx, dy := shifts[k][0], shifts[k][1]
		dst := out.Frame(k)
		if dx == 0 && dy == 0 {
			copy(dst, probe.Data)
			return
		}
		ramped[k] = true

		// exp(-2πi(a+b)) = exp(-2πi·a)·exp(-2πi·b)
		rowPhase := make([]complex128, rows)
		for i := range rowPhase {
			rowPhase[i] = array.Expi(-2 * math.Pi * kx[i] * dx)
		}
		colPhase := make([]complex128, cols)
		for j := range colPhase {
			colPhase[j] = array.Expi(-2 * math.Pi * ky[j] * dy)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[i*cols+j] = spectrum.Data[i*cols+j] * rowPhase[i] * colPhase[j]
			}
		}
	})

	// Only ramped frames go back through the inverse transform.
	var moved []int
	for k, r := range ramped {
		if r {
			moved = append(moved, k)
		}
	}
	if len(moved) == 0 {
		return out
	}
	if len(moved) == len(shifts) {
		be.IFFT2(out, out)
		return out
	}
	sub := out.Gather(moved)
	be.IFFT2(sub, sub)
	for k, i := range moved {
		copy(out.Frame(i), sub.Frame(k))
	}
	return out
}
