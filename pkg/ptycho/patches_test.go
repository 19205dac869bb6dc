package ptycho

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptychorecon/pkg/array"
)

func TestPatchIndicesFollowDFTOrdering(t *testing.T) {
	idx := NewPatchIndices(Positions{{5, 5}}, 4, 4, 10, 10)

	require.Equal(t, 1, idx.Batch)
	require.Len(t, idx.Row, 16)

	// offsets 0, 1, -2, -1 along each axis
	assert.Equal(t, []int{5, 6, 3, 4}, []int{idx.Row[0], idx.Row[4], idx.Row[8], idx.Row[12]})
	assert.Equal(t, []int{5, 6, 3, 4}, idx.Col[:4])
}

func TestPatchIndicesWrapAtObjectEdges(t *testing.T) {
	idx := NewPatchIndices(Positions{{0, 9.4}}, 4, 4, 10, 10)

	assert.Equal(t, []int{0, 1, 8, 9}, []int{idx.Row[0], idx.Row[4], idx.Row[8], idx.Row[12]})
	assert.Equal(t, []int{9, 0, 7, 8}, idx.Col[:4])
	for n := range idx.Row {
		assert.GreaterOrEqual(t, idx.Flat(n), 0)
		assert.Less(t, idx.Flat(n), 100)
	}
}

func TestPatchIndicesRolled(t *testing.T) {
	idx := NewPatchIndices(Positions{{9, 0}}, 2, 2, 10, 10)
	rolled := idx.Rolled(1, -1)

	for n := range idx.Row {
		assert.Equal(t, array.Mod(idx.Row[n]+1, 10), rolled.Row[n])
		assert.Equal(t, array.Mod(idx.Col[n]-1, 10), rolled.Col[n])
	}
}

func TestSumOverlappingAccumulatesCoincidentPixels(t *testing.T) {
	idx := NewPatchIndices(Positions{{4, 4}, {4, 4}, {5, 4}}, 2, 2, 8, 8)
	values := make([]float64, len(idx.Row))
	for i := range values {
		values[i] = 1
	}

	sum := SumOverlapping(idx, values)

	// two-pixel windows cover offsets 0 and -1
	assert.Equal(t, 3.0, sum.At(4, 4))
	assert.Equal(t, 3.0, sum.At(4, 3))
	assert.Equal(t, 2.0, sum.At(3, 4))
	assert.Equal(t, 2.0, sum.At(3, 3))
	assert.Equal(t, 1.0, sum.At(5, 4))
	assert.Equal(t, 0.0, sum.At(0, 0))

	total := 0.0
	for _, v := range sum.Data {
		total += v
	}
	assert.Equal(t, 12.0, total)
}

func TestScatterAddPanicsOnMismatch(t *testing.T) {
	idx := NewPatchIndices(Positions{{1, 1}}, 2, 2, 4, 4)
	assert.Panics(t, func() { ScatterAddReal(make([]float64, 16), idx, make([]float64, 3)) })
	assert.Panics(t, func() { ScatterAddComplex(make([]complex128, 15), idx, make([]complex128, 4)) })
}

func TestGatherReadsIndexedPixels(t *testing.T) {
	plane := array.NewComplex2D(6, 6)
	for i := range plane.Data {
		plane.Data[i] = complex(float64(i), 0)
	}
	idx := NewPatchIndices(Positions{{2, 3}}, 2, 2, 6, 6)

	patch := idx.Gather(plane)

	assert.Equal(t, []complex128{
		plane.At(2, 3), plane.At(2, 2),
		plane.At(1, 3), plane.At(1, 2),
	}, patch.Frame(0))
}

func TestPositionsHelpers(t *testing.T) {
	p := Positions{{1.25, 2.75}, {3.5, -0.4}}

	frac := p.Fractional()
	assert.InDelta(t, 0.25, frac[0][0], 1e-12)
	assert.InDelta(t, -0.25, frac[0][1], 1e-12)
	assert.InDelta(t, -0.5, frac[1][0], 1e-12)
	assert.InDelta(t, -0.4, frac[1][1], 1e-12)

	m := p.Mean()
	assert.InDelta(t, 2.375, m[0], 1e-12)
	assert.InDelta(t, 1.175, m[1], 1e-12)

	c := p.Clone()
	c[0][0] = 100
	assert.Equal(t, 1.25, p[0][0])

	assert.Equal(t, Positions{{3.5, -0.4}}, p.Gather([]int{1}))
}
