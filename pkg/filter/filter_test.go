package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ptychorecon/pkg/array"
)

func TestGaussianKernelNormalised(t *testing.T) {
	k := GaussianKernel(1.5)
	assert.Len(t, k, 2*6+1)
	sum := 0.0
	for _, w := range k {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Equal(t, k[0], k[len(k)-1])
}

func TestGaussianPreservesConstant(t *testing.T) {
	in := array.NewReal2D(7, 5)
	for i := range in.Data {
		in.Data[i] = 3
	}
	for _, mode := range []Boundary{Reflect, Wrap} {
		out := Gaussian(in, 2, mode)
		for _, v := range out.Data {
			assert.InDelta(t, 3.0, v, 1e-12)
		}
	}
}

func TestGaussianWrapConservesMass(t *testing.T) {
	in := array.NewReal2D(8, 8)
	in.Set(0, 0, 1)
	out := Gaussian(in, 1, Wrap)
	sum := 0.0
	for _, v := range out.Data {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	// wrapped neighbours share weight symmetrically
	assert.InDelta(t, out.At(0, 1), out.At(0, 7), 1e-15)
}

func TestGaussianZeroSigmaIsIdentity(t *testing.T) {
	in := array.NewReal2D(2, 2)
	in.Data = []float64{1, 2, 3, 4}
	out := Gaussian(in, 0, Reflect)
	assert.Equal(t, in.Data, out.Data)
}

func TestButterworth(t *testing.T) {
	env := Butterworth(8, 8, [2]float64{1, 1}, 0, 0.1, 2)
	// high-pass removes DC
	assert.InDelta(t, 0.0, env.At(0, 0), 1e-12)
	assert.Greater(t, env.At(4, 4), 0.9)

	low := Butterworth(8, 8, [2]float64{1, 1}, 0.1, 0, 2)
	assert.InDelta(t, 1.0, low.At(0, 0), 1e-12)
	assert.Less(t, low.At(4, 4), 0.1)
}

func TestTopHat(t *testing.T) {
	m := TopHat(16, 16, 0.25, 0.05)
	assert.InDelta(t, 1.0, m.At(0, 0), 1e-6)
	assert.InDelta(t, 0.0, m.At(8, 8), 1e-6)
}

func TestCenterOfMass(t *testing.T) {
	in := array.NewReal2D(8, 8)
	in.Set(1, 0, 1)
	in.Set(7, 0, 1)
	cx, cy := CenterOfMass(in)
	assert.InDelta(t, 0.0, cx, 1e-12)
	assert.InDelta(t, 0.0, cy, 1e-12)

	in = array.NewReal2D(8, 8)
	in.Set(2, 3, 1)
	cx, cy = CenterOfMass(in)
	assert.InDelta(t, 2.0, cx, 1e-12)
	assert.InDelta(t, 3.0, cy, 1e-12)

	px, py := CenterOfMassPlain(in.Data, 8, 8)
	assert.InDelta(t, 2.0, px, 1e-12)
	assert.InDelta(t, 3.0, py, 1e-12)
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0.5, 0.5, 0.1), 1e-12)
	assert.Equal(t, 1.0, Sigmoid(0.6, 0.5, 0))
	assert.Equal(t, 0.0, Sigmoid(0.4, 0.5, 0))
}
