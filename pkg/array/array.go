// Package array provides the dense row-major containers shared by the
// reconstruction engine: single complex and real planes, and stacks of
// equally-shaped complex or real frames (one frame per diffraction pattern).
package array

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Complex2D is a row-major complex plane of Rows x Cols values.
type Complex2D struct {
	Rows, Cols int
	Data       []complex128
}

// NewComplex2D allocates a zeroed complex plane.
func NewComplex2D(rows, cols int) *Complex2D {
	return &Complex2D{Rows: rows, Cols: cols, Data: make([]complex128, rows*cols)}
}

// NewComplex2DFrom wraps data without copying. It panics if the length does
// not match the shape.
func NewComplex2DFrom(rows, cols int, data []complex128) *Complex2D {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("array: %d values do not fill a %dx%d plane", len(data), rows, cols))
	}
	return &Complex2D{Rows: rows, Cols: cols, Data: data}
}

// At returns the value at row i, column j.
func (a *Complex2D) At(i, j int) complex128 { return a.Data[i*a.Cols+j] }

// Set stores v at row i, column j.
func (a *Complex2D) Set(i, j int, v complex128) { a.Data[i*a.Cols+j] = v }

// Len returns the number of values in the plane.
func (a *Complex2D) Len() int { return len(a.Data) }

// Clone returns a deep copy.
func (a *Complex2D) Clone() *Complex2D {
	out := NewComplex2D(a.Rows, a.Cols)
	copy(out.Data, a.Data)
	return out
}

// SameShape reports whether b has the same dimensions as a.
func (a *Complex2D) SameShape(rows, cols int) bool { return a.Rows == rows && a.Cols == cols }

// Real returns the real parts as a new plane.
func (a *Complex2D) Real() *Real2D {
	out := NewReal2D(a.Rows, a.Cols)
	for i, v := range a.Data {
		out.Data[i] = real(v)
	}
	return out
}

// Abs2 returns |a|² as a new plane.
func (a *Complex2D) Abs2() *Real2D {
	out := NewReal2D(a.Rows, a.Cols)
	for i, v := range a.Data {
		out.Data[i] = Abs2(v)
	}
	return out
}

// Phase returns the argument of every value as a new plane.
func (a *Complex2D) Phase() *Real2D {
	out := NewReal2D(a.Rows, a.Cols)
	for i, v := range a.Data {
		out.Data[i] = cmplx.Phase(v)
	}
	return out
}

// Real2D is a row-major real plane of Rows x Cols values.
type Real2D struct {
	Rows, Cols int
	Data       []float64
}

// NewReal2D allocates a zeroed real plane.
func NewReal2D(rows, cols int) *Real2D {
	return &Real2D{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the value at row i, column j.
func (a *Real2D) At(i, j int) float64 { return a.Data[i*a.Cols+j] }

// Set stores v at row i, column j.
func (a *Real2D) Set(i, j int, v float64) { a.Data[i*a.Cols+j] = v }

// Clone returns a deep copy.
func (a *Real2D) Clone() *Real2D {
	out := NewReal2D(a.Rows, a.Cols)
	copy(out.Data, a.Data)
	return out
}

// Complex promotes the plane to complex values with zero imaginary part.
func (a *Real2D) Complex() *Complex2D {
	out := NewComplex2D(a.Rows, a.Cols)
	for i, v := range a.Data {
		out.Data[i] = complex(v, 0)
	}
	return out
}

// ComplexStack holds Len frames of Rows x Cols complex values, frame-major.
type ComplexStack struct {
	Len, Rows, Cols int
	Data            []complex128
}

// NewComplexStack allocates a zeroed stack.
func NewComplexStack(n, rows, cols int) *ComplexStack {
	return &ComplexStack{Len: n, Rows: rows, Cols: cols, Data: make([]complex128, n*rows*cols)}
}

// FrameSize returns Rows*Cols.
func (s *ComplexStack) FrameSize() int { return s.Rows * s.Cols }

// Frame returns a view of frame k. Writes through the view modify the stack.
func (s *ComplexStack) Frame(k int) []complex128 {
	n := s.Rows * s.Cols
	return s.Data[k*n : (k+1)*n : (k+1)*n]
}

// Plane returns frame k as a Complex2D sharing the stack's storage.
func (s *ComplexStack) Plane(k int) *Complex2D {
	return &Complex2D{Rows: s.Rows, Cols: s.Cols, Data: s.Frame(k)}
}

// Clone returns a deep copy.
func (s *ComplexStack) Clone() *ComplexStack {
	out := NewComplexStack(s.Len, s.Rows, s.Cols)
	copy(out.Data, s.Data)
	return out
}

// Gather returns a new stack made of the frames listed in idx, in order.
func (s *ComplexStack) Gather(idx []int) *ComplexStack {
	out := NewComplexStack(len(idx), s.Rows, s.Cols)
	for k, i := range idx {
		copy(out.Frame(k), s.Frame(i))
	}
	return out
}

// RealStack holds Len frames of Rows x Cols real values, frame-major.
type RealStack struct {
	Len, Rows, Cols int
	Data            []float64
}

// NewRealStack allocates a zeroed stack.
func NewRealStack(n, rows, cols int) *RealStack {
	return &RealStack{Len: n, Rows: rows, Cols: cols, Data: make([]float64, n*rows*cols)}
}

// FrameSize returns Rows*Cols.
func (s *RealStack) FrameSize() int { return s.Rows * s.Cols }

// Frame returns a view of frame k.
func (s *RealStack) Frame(k int) []float64 {
	n := s.Rows * s.Cols
	return s.Data[k*n : (k+1)*n : (k+1)*n]
}

// Gather returns a new stack made of the frames listed in idx, in order.
func (s *RealStack) Gather(idx []int) *RealStack {
	out := NewRealStack(len(idx), s.Rows, s.Cols)
	for k, i := range idx {
		copy(out.Frame(k), s.Frame(i))
	}
	return out
}

// Abs2 is |v|² without the square root of cmplx.Abs.
func Abs2(v complex128) float64 {
	return real(v)*real(v) + imag(v)*imag(v)
}

// Expi returns exp(i·phi).
func Expi(phi float64) complex128 {
	s, c := math.Sincos(phi)
	return complex(c, s)
}

// FFTFreq returns the sample frequencies of an n-point DFT with sample
// spacing d, in the usual order: 0, 1, ..., then the negative frequencies.
func FFTFreq(n int, d float64) []float64 {
	out := make([]float64, n)
	for i, k := range FFTIndices(n) {
		out[i] = float64(k) / (float64(n) * d)
	}
	return out
}

// FFTIndices returns the integer frequency indices of an n-point DFT:
// 0, 1, ..., ceil(n/2)-1, -floor(n/2), ..., -1.
func FFTIndices(n int) []int {
	out := make([]int, n)
	half := (n + 1) / 2
	for i := 0; i < n; i++ {
		if i < half {
			out[i] = i
		} else {
			out[i] = i - n
		}
	}
	return out
}

// Mod returns the non-negative remainder of a modulo n.
func Mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

// FFTShift rolls a plane so the zero-frequency sample moves to the centre.
func FFTShift(a *Real2D) *Real2D {
	return roll(a, a.Rows/2, a.Cols/2)
}

// IFFTShift is the inverse of FFTShift.
func IFFTShift(a *Real2D) *Real2D {
	return roll(a, -(a.Rows / 2), -(a.Cols / 2))
}

// Roll circularly shifts a real plane by (dr, dc) samples.
func Roll(a *Real2D, dr, dc int) *Real2D { return roll(a, dr, dc) }

func roll(a *Real2D, dr, dc int) *Real2D {
	out := NewReal2D(a.Rows, a.Cols)
	for i := 0; i < a.Rows; i++ {
		ri := Mod(i+dr, a.Rows)
		for j := 0; j < a.Cols; j++ {
			out.Data[ri*a.Cols+Mod(j+dc, a.Cols)] = a.Data[i*a.Cols+j]
		}
	}
	return out
}

// RollComplex circularly shifts a complex plane by (dr, dc) samples.
func RollComplex(a *Complex2D, dr, dc int) *Complex2D {
	out := NewComplex2D(a.Rows, a.Cols)
	for i := 0; i < a.Rows; i++ {
		ri := Mod(i+dr, a.Rows)
		for j := 0; j < a.Cols; j++ {
			out.Data[ri*a.Cols+Mod(j+dc, a.Cols)] = a.Data[i*a.Cols+j]
		}
	}
	return out
}
