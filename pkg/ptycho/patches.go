// Package ptycho implements the single-slice ptychographic operators: patch
// indexing and scatter-accumulation, sub-pixel probe shifts, the overlap
// (forward) operator, Fourier-magnitude projections, the adjoint operator,
// position correction and the constraint chain.
//
// Every routine works on batches: one frame per diffraction pattern, with the
// per-frame arithmetic distributed by the injected backend.Backend.
package ptycho

import (
	"fmt"
	"math"

	"ptychorecon/pkg/array"
)

// Positions holds scan positions in object-pixel coordinates, one (x, y)
// pair per diffraction pattern. x runs along object rows, y along columns.
type Positions [][2]float64

// Clone returns a deep copy.
func (p Positions) Clone() Positions {
	out := make(Positions, len(p))
	copy(out, p)
	return out
}

// Gather returns the positions listed in idx, in order.
func (p Positions) Gather(idx []int) Positions {
	out := make(Positions, len(idx))
	for k, i := range idx {
		out[k] = p[i]
	}
	return out
}

// Fractional returns the sub-pixel remainders p - round(p).
func (p Positions) Fractional() Positions {
	out := make(Positions, len(p))
	for k, v := range p {
		out[k] = [2]float64{v[0] - math.Round(v[0]), v[1] - math.Round(v[1])}
	}
	return out
}

// Mean returns the centre of mass of the positions.
func (p Positions) Mean() [2]float64 {
	var m [2]float64
	if len(p) == 0 {
		return m
	}
	for _, v := range p {
		m[0] += v[0]
		m[1] += v[1]
	}
	m[0] /= float64(len(p))
	m[1] /= float64(len(p))
	return m
}

// PatchIndices maps every pixel of every probe window in a batch onto the
// object pixel it illuminates.
//
// Window offsets follow DFT ordering (0, 1, ..., -2, -1) so a corner-centred
// probe lands centred on its rounded scan position. Indices wrap modulo the
// object dimensions; windows that run past an edge continue on the opposite
// side instead of failing.
type PatchIndices struct {
	// Batch is the number of windows; Rows x Cols is the window shape.
	Batch, Rows, Cols int

	// ObjectRows x ObjectCols is the shape being indexed into.
	ObjectRows, ObjectCols int

	// Row and Col hold Batch*Rows*Cols indices, window-major.
	Row, Col []int
}

// NewPatchIndices computes the window indices for a batch of positions.
// It panics on non-positive window or object dimensions.
func NewPatchIndices(positions Positions, rows, cols, objectRows, objectCols int) *PatchIndices {
	if rows <= 0 || cols <= 0 || objectRows <= 0 || objectCols <= 0 {
		panic(fmt.Sprintf("ptycho: invalid window %dx%d in object %dx%d", rows, cols, objectRows, objectCols))
	}
	xInd := array.FFTIndices(rows)
	yInd := array.FFTIndices(cols)

	n := len(positions) * rows * cols
	idx := &PatchIndices{
		Batch:      len(positions),
		Rows:       rows,
		Cols:       cols,
		ObjectRows: objectRows,
		ObjectCols: objectCols,
		Row:        make([]int, n),
		Col:        make([]int, n),
	}

	for k, pos := range positions {
		x0 := int(math.Round(pos[0]))
		y0 := int(math.Round(pos[1]))
		base := k * rows * cols
		for i := 0; i < rows; i++ {
			r := array.Mod(x0+xInd[i], objectRows)
			for j := 0; j < cols; j++ {
				idx.Row[base+i*cols+j] = r
				idx.Col[base+i*cols+j] = array.Mod(y0+yInd[j], objectCols)
			}
		}
	}
	return idx
}

// Rolled returns indices displaced by (dr, dc) object pixels, wrapping at the
// object edges.
func (p *PatchIndices) Rolled(dr, dc int) *PatchIndices {
	out := &PatchIndices{
		Batch:      p.Batch,
		Rows:       p.Rows,
		Cols:       p.Cols,
		ObjectRows: p.ObjectRows,
		ObjectCols: p.ObjectCols,
		Row:        make([]int, len(p.Row)),
		Col:        make([]int, len(p.Col)),
	}
	for n := range p.Row {
		out.Row[n] = array.Mod(p.Row[n]+dr, p.ObjectRows)
		out.Col[n] = array.Mod(p.Col[n]+dc, p.ObjectCols)
	}
	return out
}

// Flat returns the flattened object index of entry n.
func (p *PatchIndices) Flat(n int) int {
	return p.Row[n]*p.ObjectCols + p.Col[n]
}

// Gather extracts every window of plane into a new stack.
func (p *PatchIndices) Gather(plane *array.Complex2D) *array.ComplexStack {
	if plane.Rows != p.ObjectRows || plane.Cols != p.ObjectCols {
		panic(fmt.Sprintf("ptycho: gather from %dx%d with indices for %dx%d",
			plane.Rows, plane.Cols, p.ObjectRows, p.ObjectCols))
	}
	out := array.NewComplexStack(p.Batch, p.Rows, p.Cols)
	for n := range out.Data {
		out.Data[n] = plane.Data[p.Flat(n)]
	}
	return out
}

// ScatterAddReal accumulates values into dst at their object pixels.
//
// dst has ObjectRows*ObjectCols entries; values has one entry per index
// (Batch*Rows*Cols). Entries that land on the same object pixel are summed,
// which makes this a weighted histogram over flattened object indices.
func ScatterAddReal(dst []float64, idx *PatchIndices, values []float64) {
	if len(dst) != idx.ObjectRows*idx.ObjectCols || len(values) != len(idx.Row) {
		panic(fmt.Sprintf("ptycho: scatter of %d values into %d pixels with %d indices",
			len(values), len(dst), len(idx.Row)))
	}
	for n, v := range values {
		dst[idx.Flat(n)] += v
	}
}

// ScatterAddComplex is the complex form of ScatterAddReal.
func ScatterAddComplex(dst []complex128, idx *PatchIndices, values []complex128) {
	if len(dst) != idx.ObjectRows*idx.ObjectCols || len(values) != len(idx.Row) {
		panic(fmt.Sprintf("ptycho: scatter of %d values into %d pixels with %d indices",
			len(values), len(dst), len(idx.Row)))
	}
	for n, v := range values {
		dst[idx.Flat(n)] += v
	}
}

// SumOverlapping returns a new ObjectRows x ObjectCols plane holding the
// scatter-accumulated real values.
func SumOverlapping(idx *PatchIndices, values []float64) *array.Real2D {
	out := array.NewReal2D(idx.ObjectRows, idx.ObjectCols)
	ScatterAddReal(out.Data, idx, values)
	return out
}

// SumOverlappingComplex returns a new plane holding the scatter-accumulated
// complex values.
func SumOverlappingComplex(idx *PatchIndices, values []complex128) *array.Complex2D {
	out := array.NewComplex2D(idx.ObjectRows, idx.ObjectCols)
	ScatterAddComplex(out.Data, idx, values)
	return out
}
