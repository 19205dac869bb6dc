package ptycho

import (
	"math"
	"math/cmplx"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
)

// PositionCorrection configures the intensity-gradient position update.
type PositionCorrection struct {
	// StepSize scales the least-squares update.
	StepSize float64

	// MaxDistance, in object pixels, bounds how far a position may leave the
	// bounding box of the initial scan. Zero disables the bound.
	MaxDistance float64

	// Initial holds the initial positions of every pattern (not only the
	// batch); their bounding box anchors MaxDistance.
	Initial Positions

	// Transpose and Rotation (radians) map object coordinates onto the scan
	// frame before the bounding box test.
	Transpose bool
	Rotation  float64
}

// CorrectPositions refines the batch positions from the mismatch between
// measured and estimated intensities.
//
// For each pattern the exit wave is perturbed by one object pixel along each
// axis, giving the intensity derivatives dI/dx and dI/dy. The 2x2 normal
// equations JᵀJ·Δ = Jᵀ(I_measured - I_estimated) are solved directly and the
// positions move by -StepSize·Δ. A singular system leaves the pattern in
// place, as does an update that would exceed MaxDistance; other patterns in
// the batch still update.
//
// Parameters:
//   - be: Numeric backend
//   - object: Current object estimate
//   - objectType: Interpretation of object
//   - exposure: Overlap products of the batch
//   - idx: Patch indices of the batch
//   - amplitudes: Measured amplitudes of the batch
//   - positions: Current batch positions
//   - pc: Step and bound configuration
//
// Returns:
//   - The updated batch positions (a new slice)
func CorrectPositions(
	be backend.Backend,
	object *array.Complex2D,
	objectType ObjectType,
	exposure *Exposure,
	idx *PatchIndices,
	amplitudes *array.RealStack,
	positions Positions,
	pc PositionCorrection,
) Positions {
	overlap := exposure.Overlap
	transmission := Transmission(object, objectType)

	estimated := array.NewComplexStack(overlap.Len, overlap.Rows, overlap.Cols)
	be.FFT2(estimated, overlap)

	perturbed := func(dr, dc int) *array.ComplexStack {
		rolled := idx.Rolled(dr, dc).Gather(transmission)
		be.ParallelFrames(rolled.Len, func(k int) {
			r, p := rolled.Frame(k), exposure.ShiftedProbes.Frame(k)
			for n := range r {
				r[n] *= p[n]
			}
		})
		be.FFT2(rolled, rolled)
		be.ParallelFrames(rolled.Len, func(k int) {
			r, e := rolled.Frame(k), estimated.Frame(k)
			for n := range r {
				r[n] = e[n] - r[n]
			}
		})
		return rolled
	}
	dxWaves := perturbed(1, 0)
	dyWaves := perturbed(0, 1)

	update := make([][2]float64, overlap.Len)
	be.ParallelFrames(overlap.Len, func(k int) {
		e, ex, ey, a := estimated.Frame(k), dxWaves.Frame(k), dyWaves.Frame(k), amplitudes.Frame(k)

		var jxx, jxy, jyy, rx, ry float64
		for n := range e {
			conj := cmplx.Conj(e[n])
			dIdx := 2 * real(ex[n]*conj)
			dIdy := 2 * real(ey[n]*conj)
			diff := a[n]*a[n] - array.Abs2(e[n])

			jxx += dIdx * dIdx
			jxy += dIdx * dIdy
			jyy += dIdy * dIdy
			rx += dIdx * diff
			ry += dIdy * diff
		}
		update[k] = solve2x2(jxx, jxy, jyy, rx, ry)
	})

	out := positions.Clone()
	if pc.MaxDistance > 0 && len(pc.Initial) > 0 {
		box := scanBounds(pc.Initial, pc.Transpose, pc.Rotation)
		for k := range out {
			cx := positions[k][0] - pc.StepSize*update[k][0]
			cy := positions[k][1] - pc.StepSize*update[k][1]
			u, v := toScanFrame(cx, cy, pc.Transpose, pc.Rotation)
			if u > box.maxU+pc.MaxDistance || u < box.minU-pc.MaxDistance ||
				v > box.maxV+pc.MaxDistance || v < box.minV-pc.MaxDistance {
				update[k] = [2]float64{}
			}
		}
	}

	for k := range out {
		out[k][0] -= pc.StepSize * update[k][0]
		out[k][1] -= pc.StepSize * update[k][1]
	}
	return out
}

// solve2x2 solves the symmetric system [[a b] [b d]]·x = [r s] by direct
// inversion, returning zero for a singular or non-finite system.
func solve2x2(a, b, d, r, s float64) [2]float64 {
	det := a*d - b*b
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) || math.Abs(det) <= 1e-14*math.Abs(a*d) {
		return [2]float64{}
	}
	return [2]float64{
		(d*r - b*s) / det,
		(a*s - b*r) / det,
	}
}

type bounds struct {
	minU, maxU, minV, maxV float64
}

func toScanFrame(x, y float64, transpose bool, rotation float64) (float64, float64) {
	if transpose {
		x, y = y, x
	}
	if rotation == 0 {
		return x, y
	}
	s, c := math.Sincos(-rotation)
	return x*c + y*s, -x*s + y*c
}

func scanBounds(p Positions, transpose bool, rotation float64) bounds {
	b := bounds{
		minU: math.Inf(1), maxU: math.Inf(-1),
		minV: math.Inf(1), maxV: math.Inf(-1),
	}
	for _, v := range p {
		u, w := toScanFrame(v[0], v[1], transpose, rotation)
		b.minU = math.Min(b.minU, u)
		b.maxU = math.Max(b.maxU, u)
		b.minV = math.Min(b.minV, w)
		b.maxV = math.Max(b.maxV, w)
	}
	return b
}
