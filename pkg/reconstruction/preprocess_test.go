package reconstruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptychorecon/internal/models"
	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
	"ptychorecon/pkg/ptycho"
)

func TestPreprocessFreshReconstructorIsReady(t *testing.T) {
	res := simulated(t)
	r, err := NewReconstructor(res.Dataset, WithBackend(backend.NewCPU(2)), WithLogger(discardLogger()))
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, r.State())

	require.NoError(t, r.Preprocess(DefaultPreprocessOptions()))
	assert.Equal(t, StateReady, r.State())
	assert.Empty(t, r.ErrorHistory())

	// a second Preprocess on a ready reconstructor succeeds too
	require.NoError(t, r.Preprocess(DefaultPreprocessOptions()))
	assert.Equal(t, StateReady, r.State())
}

func TestPreprocessGeometry(t *testing.T) {
	res := simulated(t)
	r := newReady(t, res, DefaultPreprocessOptions())

	assert.Equal(t, [2]float64{1, 1}, r.Sampling())
	assert.Equal(t, ptycho.Complex, r.ObjectType())

	// 6x6 scan at 2 px plus a half-window pad on both sides.
	object := r.Object()
	assert.Equal(t, 26, object.Rows)
	assert.Equal(t, 26, object.Cols)
	for _, v := range object.Data {
		assert.Equal(t, complex(1, 0), v)
	}

	px := r.PositionsPx()
	require.Len(t, px, 36)
	assert.InDelta(t, 2, px[1][1]-px[0][1], 1e-12)
	assert.InDelta(t, 2, px[6][0]-px[0][0], 1e-12)
	assert.InDelta(t, 13, px.Mean()[0], 1e-12)
	assert.InDelta(t, 13, px.Mean()[1], 1e-12)
	assert.Equal(t, px, r.Positions())

	mask := r.FOVMask()
	require.Len(t, mask, 26*26)
	assert.True(t, mask[13*26+13])
	assert.False(t, mask[0])
}

func TestPreprocessNormalizesProbe(t *testing.T) {
	res := simulated(t)
	r := newReady(t, res, DefaultPreprocessOptions())

	fourier := array.NewComplex2D(16, 16)
	r.Backend().FFT2D(fourier, r.Probe())
	total := 0.0
	for _, v := range fourier.Data {
		total += array.Abs2(v)
	}
	assert.InEpsilon(t, r.MeanIntensity(), total, 1e-9)
	assert.InEpsilon(t, res.Dataset.TotalIntensity()/36, r.MeanIntensity(), 1e-9)
}

func TestPreprocessPotentialStartsAtZero(t *testing.T) {
	res := simulated(t)
	r := newReady(t, res, potentialWithProbe(res))

	assert.Equal(t, ptycho.Potential, r.ObjectType())
	for _, v := range r.Object().Data {
		assert.Zero(t, v)
	}
	assert.Len(t, r.Potential().Data, 26*26)
}

func TestPreprocessScanTranspose(t *testing.T) {
	res := simulated(t)
	pre := DefaultPreprocessOptions()
	pre.ScanTranspose = true
	r := newReady(t, res, pre)

	px := r.PositionsPx()
	assert.InDelta(t, 2, px[1][0]-px[0][0], 1e-12)
	assert.InDelta(t, 0, px[1][1]-px[0][1], 1e-12)
}

func TestPreprocessInitialPositions(t *testing.T) {
	res := simulated(t)
	pre := DefaultPreprocessOptions()
	pre.InitialPositions = make(ptycho.Positions, 36)
	for k := range pre.InitialPositions {
		pre.InitialPositions[k] = [2]float64{float64(k%6) * 3, float64(k/6) * 3}
	}
	r := newReady(t, res, pre)

	px := r.PositionsPx()
	assert.InDelta(t, 3, px[1][0]-px[0][0], 1e-12)
	assert.InDelta(t, 3, px[6][1]-px[0][1], 1e-12)
}

func TestPreprocessPadsToROI(t *testing.T) {
	res := simulated(t)
	pre := DefaultPreprocessOptions()
	pre.ProbeROIShape = [2]int{20, 20}
	r := newReady(t, res, pre)

	assert.Equal(t, 20, r.Probe().Rows)
	assert.InDelta(t, 16.0/20, r.Sampling()[0], 1e-12)
}

func TestPreprocessErrors(t *testing.T) {
	res := simulated(t)

	for name, mutate := range map[string]func(*PreprocessOptions){
		"object type": func(o *PreprocessOptions) { o.ObjectType = "multislice" },
		"centering":   func(o *PreprocessOptions) { o.FrameCentering = "middle" },
		"roi":         func(o *PreprocessOptions) { o.ProbeROIShape = [2]int{8, 8} },
		"probe shape": func(o *PreprocessOptions) { o.InitialProbe = array.NewComplex2D(8, 8) },
		"positions":   func(o *PreprocessOptions) { o.InitialPositions = make(ptycho.Positions, 3) },
		"fov mask":    func(o *PreprocessOptions) { o.FOVMask = make([]bool, 4) },
		"object size": func(o *PreprocessOptions) { o.InitialObject = array.NewComplex2D(4, 4) },
		"aberrations": func(o *PreprocessOptions) { o.KnownAberrations = array.NewComplex2D(3, 3) },
	} {
		t.Run(name, func(t *testing.T) {
			r, err := NewReconstructor(res.Dataset, WithBackend(backend.NewCPU(1)), WithLogger(discardLogger()))
			require.NoError(t, err)

			pre := DefaultPreprocessOptions()
			mutate(&pre)
			assert.ErrorIs(t, r.Preprocess(pre), ptycho.ErrConfig)
			assert.Equal(t, StateUninitialized, r.State())
		})
	}
}

func TestPreprocessRejectsBlankData(t *testing.T) {
	ds, err := models.NewDataset([2]int{2, 2}, 8, 8, [2]float64{1, 1}, [2]float64{0.1, 0.1})
	require.NoError(t, err)

	r, err := NewReconstructor(ds, WithLogger(discardLogger()))
	require.NoError(t, err)
	assert.ErrorIs(t, r.Preprocess(DefaultPreprocessOptions()), ptycho.ErrConfig)
}

func TestPadCentered(t *testing.T) {
	out := padCentered([]float64{1, 2, 3, 4}, 2, 2, [2]int{4, 4})
	assert.Equal(t, []float64{
		0, 0, 0, 0,
		0, 1, 2, 0,
		0, 3, 4, 0,
		0, 0, 0, 0,
	}, out.Data)
}

func TestOptionsChainOrder(t *testing.T) {
	var names []string
	for _, c := range DefaultOptions().chain() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{
		"object-gaussian",
		"object-butterworth",
		"object-shrinkage",
		"object-amplitude",
		"probe-center-of-mass",
		"probe-residual-aberrations",
		"probe-symmetrization",
		"probe-amplitude",
		"positions-recentering",
	}, names)

	opts := DefaultOptions()
	opts.FixCoM = false
	assert.Len(t, opts.chain(), 8)
}
