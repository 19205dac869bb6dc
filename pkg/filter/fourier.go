package filter

import (
	"math"

	"ptychorecon/pkg/array"
)

// Butterworth returns a Rows x Cols Fourier-domain envelope in DFT order.
//
// Frequencies are computed from the real-space sampling (Å per pixel) so the
// cut-offs are in Å⁻¹. A zero qHighpass or qLowpass disables that side of the
// band. The order controls the roll-off: the response is
// (1 - 1/(1+(q/qh)^(2n))) · 1/(1+(q/ql)^(2n)).
func Butterworth(rows, cols int, sampling [2]float64, qLowpass, qHighpass, order float64) *array.Real2D {
	qx := array.FFTFreq(rows, sampling[0])
	qy := array.FFTFreq(cols, sampling[1])

	env := array.NewReal2D(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			q := math.Hypot(qx[i], qy[j])
			v := 1.0
			if qHighpass > 0 {
				v *= 1 - 1/(1+math.Pow(q/qHighpass, 2*order))
			}
			if qLowpass > 0 {
				v *= 1 / (1 + math.Pow(q/qLowpass, 2*order))
			}
			env.Data[i*cols+j] = v
		}
	}
	return env
}

// TopHat returns a smooth corner-centred disk mask in DFT order.
//
// relativeRadius is the inflection radius as a fraction of the plane
// (0 to 0.5) and relativeWidth the sigmoid width (0 to 0.5). The profile is
// 0.5·(1 - erf(s·r/(1-r²))) with r the normalised radius minus
// relativeRadius and s = sqrt(π)/relativeWidth.
func TopHat(rows, cols int, relativeRadius, relativeWidth float64) *array.Real2D {
	fx := array.FFTFreq(rows, 1)
	fy := array.FFTFreq(cols, 1)
	s := math.Sqrt(math.Pi) / relativeWidth

	mask := array.NewReal2D(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			r := math.Hypot(fx[i], fy[j]) - relativeRadius
			mask.Data[i*cols+j] = 0.5 * (1 - math.Erf(s*r/(1-r*r)))
		}
	}
	return mask
}

// Sigmoid maps values in [0, 1] onto a soft step centred at threshold with
// the given width: 0.5·(1 + erf((v - threshold)/width)).
func Sigmoid(v, threshold, width float64) float64 {
	if width <= 0 {
		if v >= threshold {
			return 1
		}
		return 0
	}
	return 0.5 * (1 + math.Erf((v-threshold)/width))
}

// CenterOfMass returns the intensity-weighted centroid of a plane treated as
// corner-centred and periodic: indices past the midpoint count as negative
// offsets, so a distribution straddling the origin has a centroid near zero.
func CenterOfMass(intensity *array.Real2D) (float64, float64) {
	ix := array.FFTIndices(intensity.Rows)
	iy := array.FFTIndices(intensity.Cols)

	var total, cx, cy float64
	for i := 0; i < intensity.Rows; i++ {
		for j := 0; j < intensity.Cols; j++ {
			v := intensity.Data[i*intensity.Cols+j]
			total += v
			cx += v * float64(ix[i])
			cy += v * float64(iy[j])
		}
	}
	if total == 0 {
		return 0, 0
	}
	return cx / total, cy / total
}

// CenterOfMassPlain returns the centroid of a plane in ordinary (non-wrapped)
// pixel coordinates.
func CenterOfMassPlain(intensity []float64, rows, cols int) (float64, float64) {
	var total, cx, cy float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := intensity[i*cols+j]
			total += v
			cx += v * float64(i)
			cy += v * float64(j)
		}
	}
	if total == 0 {
		return float64(rows) / 2, float64(cols) / 2
	}
	return cx / total, cy / total
}
