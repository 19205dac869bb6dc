// Package backend defines the numeric primitives the reconstruction engine is
// written against: batched 2D FFTs, data-parallel loops over frames, and
// reductions. Engines receive a Backend instead of branching on a device name.
package backend

import (
	"fmt"
	"strings"

	"ptychorecon/pkg/array"
)

// Backend exposes the array primitives used by the forward and adjoint
// operators. Implementations may parallelise internally; callers treat every
// method as synchronous.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// FFT2 writes the unnormalised forward 2D DFT of every frame of src into
	// dst. dst and src may be the same stack.
	FFT2(dst, src *array.ComplexStack)

	// IFFT2 writes the inverse 2D DFT (scaled by 1/(Rows*Cols)) of every
	// frame of src into dst. dst and src may be the same stack.
	IFFT2(dst, src *array.ComplexStack)

	// FFT2D and IFFT2D are the single-plane forms of FFT2 and IFFT2.
	FFT2D(dst, src *array.Complex2D)
	IFFT2D(dst, src *array.Complex2D)

	// ParallelFrames calls fn once for every k in [0, n). Calls for
	// different k may run concurrently and must touch disjoint memory.
	ParallelFrames(n int, fn func(k int))

	// Sum returns the sum of x.
	Sum(x []float64) float64

	// Max returns the largest value of x, or 0 for an empty slice.
	Max(x []float64) float64
}

// New returns the backend registered under name. Workers bounds the number of
// goroutines used for data-parallel work; values below 1 select all CPUs.
func New(name string, workers int) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return NewCPU(workers), nil
	case "serial":
		return NewCPU(1), nil
	default:
		return nil, fmt.Errorf("unknown backend %q: must be 'cpu' or 'serial'", name)
	}
}
