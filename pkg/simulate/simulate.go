// Package simulate builds synthetic 4D-STEM datasets from a known object and
// probe with the same forward operator the reconstruction inverts.
package simulate

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"ptychorecon/internal/models"
	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
	"ptychorecon/pkg/ptycho"
)

// Params describes a synthetic acquisition.
type Params struct {
	// ScanShape is the raster grid (rows, cols) and ScanStep its pitch in Å.
	ScanShape [2]int
	ScanStep  [2]float64

	// FrameShape is the detector size in pixels and ReciprocalSampling its
	// pixel size in Å⁻¹. Together they fix the real-space sampling
	// 1/(FrameShape·ReciprocalSampling).
	FrameShape         [2]int
	ReciprocalSampling [2]float64

	// ApertureRadius is the probe-forming aperture cut-off in Å⁻¹;
	// DefocusPhase the quadratic aberration phase at the aperture edge in
	// radians.
	ApertureRadius float64
	DefocusPhase   float64

	// Features gaussian blobs of up to MaxPhase radians make up the object.
	Features int
	MaxPhase float64

	// Dose is the mean electron count per pattern; zero keeps the data
	// noiseless.
	Dose float64

	Seed int64
}

// DefaultParams returns a small, quick acquisition.
func DefaultParams() Params {
	return Params{
		ScanShape:          [2]int{8, 8},
		ScanStep:           [2]float64{2, 2},
		FrameShape:         [2]int{32, 32},
		ReciprocalSampling: [2]float64{1.0 / 32, 1.0 / 32},
		ApertureRadius:     0.2,
		DefocusPhase:       2,
		Features:           24,
		MaxPhase:           0.5,
		Seed:               1,
	}
}

// Result is a simulated dataset together with its ground truth.
type Result struct {
	Dataset *models.Dataset

	// Object is the ground-truth potential, Probe the corner-centred probe.
	Object *array.Complex2D
	Probe  *array.Complex2D

	// Positions are the probe positions in object pixels.
	Positions ptycho.Positions

	// Sampling is the real-space pixel size in Å.
	Sampling [2]float64
}

func (p Params) validate() error {
	switch {
	case p.ScanShape[0] <= 0 || p.ScanShape[1] <= 0:
		return fmt.Errorf("%w: scan shape must be positive, got %v", ptycho.ErrConfig, p.ScanShape)
	case p.FrameShape[0] <= 0 || p.FrameShape[1] <= 0:
		return fmt.Errorf("%w: frame shape must be positive, got %v", ptycho.ErrConfig, p.FrameShape)
	case p.ReciprocalSampling[0] <= 0 || p.ReciprocalSampling[1] <= 0:
		return fmt.Errorf("%w: reciprocal sampling must be positive, got %v", ptycho.ErrConfig, p.ReciprocalSampling)
	case p.ScanStep[0] < 0 || p.ScanStep[1] < 0:
		return fmt.Errorf("%w: scan step must not be negative, got %v", ptycho.ErrConfig, p.ScanStep)
	case p.ApertureRadius <= 0:
		return fmt.Errorf("%w: aperture radius must be positive, got %g", ptycho.ErrConfig, p.ApertureRadius)
	case p.Dose < 0:
		return fmt.Errorf("%w: dose must not be negative, got %g", ptycho.ErrConfig, p.Dose)
	}
	return nil
}

// Generate simulates the acquisition described by p.
//
// Frames are stored with the zero frequency at the detector centre, the way
// a camera records them.
func Generate(be backend.Backend, p Params) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	rows, cols := p.FrameShape[0], p.FrameShape[1]
	sampling := [2]float64{
		1 / (float64(rows) * p.ReciprocalSampling[0]),
		1 / (float64(cols) * p.ReciprocalSampling[1]),
	}

	probe := Probe(be, rows, cols, sampling, p.ApertureRadius, p.DefocusPhase)

	pad := [2]float64{float64(rows) / 2, float64(cols) / 2}
	positions := make(ptycho.Positions, 0, p.ScanShape[0]*p.ScanShape[1])
	for i := 0; i < p.ScanShape[0]; i++ {
		for j := 0; j < p.ScanShape[1]; j++ {
			positions = append(positions, [2]float64{
				float64(i)*p.ScanStep[0]/sampling[0] + pad[0],
				float64(j)*p.ScanStep[1]/sampling[1] + pad[1],
			})
		}
	}
	objRows := int(math.Ceil(float64(p.ScanShape[0]-1)*p.ScanStep[0]/sampling[0] + 2*pad[0]))
	objCols := int(math.Ceil(float64(p.ScanShape[1]-1)*p.ScanStep[1]/sampling[1] + 2*pad[1]))
	objRows = max(objRows, rows)
	objCols = max(objCols, cols)

	rng := rand.New(rand.NewSource(p.Seed))
	object := PhaseObject(rng, objRows, objCols, p.Features, p.MaxPhase)

	idx := ptycho.NewPatchIndices(positions, rows, cols, objRows, objCols)
	exposure := ptycho.Overlap(be, probe, object, ptycho.Potential, idx, positions.Fractional())
	spectrum := array.NewComplexStack(len(positions), rows, cols)
	be.FFT2(spectrum, exposure.Overlap)

	intensities := array.NewRealStack(len(positions), rows, cols)
	be.ParallelFrames(spectrum.Len, func(k int) {
		dst := intensities.Frame(k)
		for n, v := range spectrum.Frame(k) {
			dst[n] = array.Abs2(v)
		}
	})
	if p.Dose > 0 {
		addShotNoise(intensities, p.Dose, uint64(p.Seed))
	}

	ds, err := models.NewDataset(p.ScanShape, rows, cols, p.ScanStep, p.ReciprocalSampling)
	if err != nil {
		return nil, fmt.Errorf("error creating dataset: %w", err)
	}
	for k := 0; k < intensities.Len; k++ {
		frame := &array.Real2D{Rows: rows, Cols: cols, Data: intensities.Frame(k)}
		if err := ds.SetFrame(k, array.FFTShift(frame).Data); err != nil {
			return nil, err
		}
	}

	return &Result{
		Dataset:   ds,
		Object:    object,
		Probe:     probe,
		Positions: positions,
		Sampling:  sampling,
	}, nil
}

// Probe builds a corner-centred probe from a circular aperture of radius
// aperture Å⁻¹ carrying a quadratic phase of defocusPhase radians at its edge.
func Probe(be backend.Backend, rows, cols int, sampling [2]float64, aperture, defocusPhase float64) *array.Complex2D {
	qx := array.FFTFreq(rows, sampling[0])
	qy := array.FFTFreq(cols, sampling[1])

	fourier := array.NewComplex2D(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			q := math.Hypot(qx[i], qy[j]) / aperture
			if q > 1 {
				continue
			}
			fourier.Set(i, j, array.Expi(defocusPhase*q*q))
		}
	}
	probe := array.NewComplex2D(rows, cols)
	be.IFFT2D(probe, fourier)
	return probe
}

// PhaseObject returns a potential made of n gaussian blobs with widths of
// one to three pixels, scaled so its maximum is maxPhase.
func PhaseObject(rng *rand.Rand, rows, cols, n int, maxPhase float64) *array.Complex2D {
	phase := array.NewReal2D(rows, cols)
	for b := 0; b < n; b++ {
		cx := rng.Float64() * float64(rows)
		cy := rng.Float64() * float64(cols)
		sigma := 1 + 2*rng.Float64()
		weight := 0.5 + 0.5*rng.Float64()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dx, dy := float64(i)-cx, float64(j)-cy
				phase.Data[i*cols+j] += weight * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			}
		}
	}

	peak := 0.0
	for _, v := range phase.Data {
		peak = math.Max(peak, v)
	}
	if peak > 0 {
		for i := range phase.Data {
			phase.Data[i] *= maxPhase / peak
		}
	}
	return phase.Complex()
}

// addShotNoise rescales the stack to a mean of dose counts per pattern and
// replaces every pixel with a Poisson draw.
func addShotNoise(s *array.RealStack, dose float64, seed uint64) {
	total := 0.0
	for _, v := range s.Data {
		total += v
	}
	if total == 0 {
		return
	}
	scale := dose * float64(s.Len) / total

	src := exprand.NewSource(seed)
	for i, v := range s.Data {
		lambda := v * scale
		if lambda <= 0 {
			s.Data[i] = 0
			continue
		}
		s.Data[i] = distuv.Poisson{Lambda: lambda, Src: src}.Rand()
	}
}

// PhaseError returns the RMS difference between two potentials after
// removing their mean offset, over the pixels where mask is true (all pixels
// for a nil mask).
func PhaseError(a, b *array.Complex2D, mask []bool) float64 {
	var diff []float64
	for i := range a.Data {
		if mask != nil && !mask[i] {
			continue
		}
		diff = append(diff, real(a.Data[i])-real(b.Data[i]))
	}
	if len(diff) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(diff, nil)
	return std
}

// ProbeOverlapError returns 1 - |<a, b>|/(|a||b|), zero for probes equal up
// to a global phase and scale.
func ProbeOverlapError(a, b *array.Complex2D) float64 {
	var dot complex128
	var na, nb float64
	for i := range a.Data {
		dot += cmplx.Conj(a.Data[i]) * b.Data[i]
		na += array.Abs2(a.Data[i])
		nb += array.Abs2(b.Data[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - cmplx.Abs(dot)/math.Sqrt(na*nb)
}
