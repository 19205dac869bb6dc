// Package filter implements the smoothing and masking kernels used by the
// reconstruction constraints: separable gaussian filtering with reflecting or
// periodic boundaries, Fourier-domain butterworth envelopes, sigmoid top-hat
// masks, and intensity centre-of-mass estimation.
package filter

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"ptychorecon/pkg/array"
)

// Boundary selects how samples outside the plane are synthesised.
type Boundary int

const (
	// Reflect mirrors about the edge, repeating the edge sample (d c b a | a b c d).
	Reflect Boundary = iota
	// Wrap treats the plane as periodic.
	Wrap
)

// truncate is the kernel half-width in standard deviations.
const truncate = 4.0

// GaussianKernel returns normalised 1D gaussian weights of radius
// int(4σ + 0.5). A non-positive sigma yields the identity kernel.
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(truncate*sigma + 0.5)
	w := make([]float64, 2*radius+1)
	for i := -radius; i <= radius; i++ {
		w[i+radius] = math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(w), w)
	return w
}

func boundaryIndex(i, n int, mode Boundary) int {
	if mode == Wrap {
		return array.Mod(i, n)
	}
	if n == 1 {
		return 0
	}
	period := 2 * n
	i = array.Mod(i, period)
	if i >= n {
		i = period - i - 1
	}
	return i
}

// Gaussian smooths a real plane with an isotropic gaussian of standard
// deviation sigma (pixels), applied separably along rows then columns.
func Gaussian(in *array.Real2D, sigma float64, mode Boundary) *array.Real2D {
	kernel := GaussianKernel(sigma)
	if len(kernel) == 1 {
		return in.Clone()
	}
	radius := len(kernel) / 2
	rows, cols := in.Rows, in.Cols

	tmp := array.NewReal2D(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			acc := 0.0
			for k, w := range kernel {
				acc += w * in.Data[i*cols+boundaryIndex(j+k-radius, cols, mode)]
			}
			tmp.Data[i*cols+j] = acc
		}
	}

	out := array.NewReal2D(rows, cols)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			acc := 0.0
			for k, w := range kernel {
				acc += w * tmp.Data[boundaryIndex(i+k-radius, rows, mode)*cols+j]
			}
			out.Data[i*cols+j] = acc
		}
	}
	return out
}

// GaussianComplex smooths the real and imaginary parts independently.
func GaussianComplex(in *array.Complex2D, sigma float64, mode Boundary) *array.Complex2D {
	re := array.NewReal2D(in.Rows, in.Cols)
	im := array.NewReal2D(in.Rows, in.Cols)
	for i, v := range in.Data {
		re.Data[i] = real(v)
		im.Data[i] = imag(v)
	}
	re = Gaussian(re, sigma, mode)
	im = Gaussian(im, sigma, mode)

	out := array.NewComplex2D(in.Rows, in.Cols)
	for i := range out.Data {
		out.Data[i] = complex(re.Data[i], im.Data[i])
	}
	return out
}
