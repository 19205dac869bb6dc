package reconstruction

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
	"ptychorecon/pkg/filter"
	"ptychorecon/pkg/ptycho"
)

// fovThreshold is the fraction of the peak smoothed probe overlap that
// counts as illuminated.
const fovThreshold = 0.25

// Preprocess converts the source into amplitudes and builds the initial
// object, probe, positions and field-of-view mask. It may be called again
// to start over with different options.
//
// Source frames are read concurrently and must not be modified meanwhile.
//
// Parameters:
//   - opts: Object type, padding, centring and optional initial estimates
//
// Returns:
//   - An ErrConfig error for inconsistent inputs, raised before any array
//     work
func (r *Reconstructor) Preprocess(opts PreprocessOptions) error {
	if r.state == StateRunning {
		return fmt.Errorf("%w: cannot preprocess while a reconstruction is running", ptycho.ErrConfig)
	}
	objectType, err := ptycho.ParseObjectType(opts.ObjectType)
	if err != nil {
		return err
	}
	roi, err := r.validateSource(opts)
	if err != nil {
		return err
	}

	r.logger.Info("Step 1: Normalizing diffraction intensities",
		"patterns", r.source.Len(), "roi", roi, "centering", opts.FrameCentering)
	amplitudes, meanIntensity := normalizeIntensities(r.be, r.source, roi, opts.FrameCentering)
	if meanIntensity <= 0 {
		return fmt.Errorf("%w: diffraction intensities sum to zero", ptycho.ErrConfig)
	}

	r.reciprocal = r.source.ReciprocalSampling()
	r.sampling = [2]float64{
		1 / (float64(roi[0]) * r.reciprocal[0]),
		1 / (float64(roi[1]) * r.reciprocal[1]),
	}

	pad := opts.ObjectPaddingPx
	if pad[0] <= 0 && pad[1] <= 0 {
		pad = [2]int{roi[0] / 2, roi[1] / 2}
	}

	r.logger.Info("Step 2: Calculating scan positions", "sampling", r.sampling, "padding", pad)
	positions, err := r.scanPositions(opts, pad)
	if err != nil {
		return err
	}

	r.logger.Info("Step 3: Initializing object", "type", objectType.String())
	object, err := initialObject(opts.InitialObject, objectType, positions, pad, roi)
	if err != nil {
		return err
	}
	mean := positions.Mean()
	for k := range positions {
		positions[k][0] -= mean[0] - float64(object.Rows)/2
		positions[k][1] -= mean[1] - float64(object.Cols)/2
	}

	r.logger.Info("Step 4: Initializing probe", "provided", opts.InitialProbe != nil)
	var probe *array.Complex2D
	if opts.InitialProbe != nil {
		if !opts.InitialProbe.SameShape(roi[0], roi[1]) {
			return fmt.Errorf("%w: probe shape %dx%d does not match the probe ROI %dx%d",
				ptycho.ErrConfig, opts.InitialProbe.Rows, opts.InitialProbe.Cols, roi[0], roi[1])
		}
		probe = opts.InitialProbe.Clone()
	} else {
		probe = vacuumProbe(r.be, amplitudes)
	}
	normalizeProbe(r.be, probe, meanIntensity)

	if ka := opts.KnownAberrations; ka != nil && !ka.SameShape(roi[0], roi[1]) {
		return fmt.Errorf("%w: known aberrations shape %dx%d does not match the probe ROI %dx%d",
			ptycho.ErrConfig, ka.Rows, ka.Cols, roi[0], roi[1])
	}

	r.logger.Info("Step 5: Computing field of view")
	var fov []bool
	if opts.FOVMask != nil {
		if len(opts.FOVMask) != len(object.Data) {
			return fmt.Errorf("%w: FOV mask has %d pixels, object has %d",
				ptycho.ErrConfig, len(opts.FOVMask), len(object.Data))
		}
		fov = append([]bool(nil), opts.FOVMask...)
	} else {
		fov = fieldOfView(r.be, probe, positions, object.Rows, object.Cols)
	}

	spacing := ptycho.ScanNeighborStats(positions)
	r.logger.Info("Scan geometry",
		"object", [2]int{object.Rows, object.Cols},
		"median_step_px", spacing.Median,
		"max_step_px", spacing.Max,
		"illuminated_px", countTrue(fov))
	if len(positions) > 1 && spacing.Min == 0 {
		r.logger.Warn("Scan contains coincident probe positions")
	}

	r.amplitudes = amplitudes
	r.meanIntensity = meanIntensity
	r.roi = roi
	r.scanRotation = opts.ScanRotation
	r.scanTranspose = opts.ScanTranspose
	r.fovMask = fov
	r.knownAberrations = cloneOrNil(opts.KnownAberrations)
	r.positionsCenter = positions.Mean()
	r.initial = initialState{
		object:     object,
		objectType: objectType,
		probe:      probe,
		positions:  positions,
	}
	r.state = StateReady
	return r.Reset()
}

// validateSource checks the source against the options and returns the
// probe ROI shape.
func (r *Reconstructor) validateSource(opts PreprocessOptions) ([2]int, error) {
	rows, cols := r.source.FrameShape()
	if rows <= 0 || cols <= 0 {
		return [2]int{}, fmt.Errorf("%w: invalid frame shape %dx%d", ptycho.ErrConfig, rows, cols)
	}
	for i := 0; i < r.source.Len(); i++ {
		if n := len(r.source.Frame(i)); n != rows*cols {
			return [2]int{}, fmt.Errorf("%w: frame %d has %d pixels, expected %dx%d",
				ptycho.ErrConfig, i, n, rows, cols)
		}
	}
	rs := r.source.ReciprocalSampling()
	if rs[0] <= 0 || rs[1] <= 0 {
		return [2]int{}, fmt.Errorf("%w: reciprocal sampling must be positive, got %v", ptycho.ErrConfig, rs)
	}

	roi := opts.ProbeROIShape
	if roi == [2]int{} {
		roi = [2]int{rows, cols}
	}
	if roi[0] < rows || roi[1] < cols {
		return [2]int{}, fmt.Errorf("%w: probe ROI %v is smaller than the frames %dx%d",
			ptycho.ErrConfig, roi, rows, cols)
	}

	switch opts.FrameCentering {
	case CenterNone, CenterGeometric, CenterCoM:
	default:
		return [2]int{}, fmt.Errorf("%w: frame centering must be one of %q, %q or %q, not %q",
			ptycho.ErrConfig, CenterNone, CenterGeometric, CenterCoM, opts.FrameCentering)
	}
	return roi, nil
}

// normalizeIntensities pads every frame to roi, moves its zero frequency to
// the corner pixel and returns the amplitudes sqrt(max(I, 0)) with the mean
// total intensity per pattern.
func normalizeIntensities(be backend.Backend, src DiffractionSource, roi [2]int, centering string) (*array.RealStack, float64) {
	n := src.Len()
	rows, cols := src.FrameShape()
	amplitudes := array.NewRealStack(n, roi[0], roi[1])
	totals := make([]float64, n)

	be.ParallelFrames(n, func(k int) {
		frame := padCentered(src.Frame(k), rows, cols, roi)
		switch centering {
		case CenterGeometric:
			frame = array.IFFTShift(frame)
		case CenterCoM:
			cx, cy := filter.CenterOfMassPlain(frame.Data, frame.Rows, frame.Cols)
			frame = array.Roll(frame, -int(math.Round(cx)), -int(math.Round(cy)))
		}

		dst := amplitudes.Frame(k)
		sum := 0.0
		for i, v := range frame.Data {
			v = math.Max(v, 0)
			sum += v
			dst[i] = math.Sqrt(v)
		}
		totals[k] = sum
	})
	return amplitudes, stat.Mean(totals, nil)
}

func padCentered(data []float64, rows, cols int, roi [2]int) *array.Real2D {
	out := array.NewReal2D(roi[0], roi[1])
	r0 := (roi[0] - rows) / 2
	c0 := (roi[1] - cols) / 2
	for i := 0; i < rows; i++ {
		copy(out.Data[(i+r0)*roi[1]+c0:(i+r0)*roi[1]+c0+cols], data[i*cols:(i+1)*cols])
	}
	return out
}

// scanPositions returns positions in object pixels, shifted so the smallest
// coordinate along each axis equals the padding.
func (r *Reconstructor) scanPositions(opts PreprocessOptions, pad [2]int) (ptycho.Positions, error) {
	n := r.source.Len()
	var positions ptycho.Positions

	if opts.InitialPositions != nil {
		if len(opts.InitialPositions) != n {
			return nil, fmt.Errorf("%w: %d initial positions for %d patterns",
				ptycho.ErrConfig, len(opts.InitialPositions), n)
		}
		positions = opts.InitialPositions.Clone()
	} else {
		shape := r.source.ScanShape()
		if shape[0]*shape[1] != n {
			return nil, fmt.Errorf("%w: scan shape %v does not match %d patterns", ptycho.ErrConfig, shape, n)
		}
		step := r.source.ScanSampling()
		s, c := math.Sincos(opts.ScanRotation)
		positions = make(ptycho.Positions, 0, n)
		for i := 0; i < shape[0]; i++ {
			for j := 0; j < shape[1]; j++ {
				u, v := float64(i)*step[0], float64(j)*step[1]
				x, y := u*c-v*s, u*s+v*c
				if opts.ScanTranspose {
					x, y = y, x
				}
				positions = append(positions, [2]float64{x, y})
			}
		}
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for k, p := range positions {
		xs[k] = p[0] / r.sampling[0]
		ys[k] = p[1] / r.sampling[1]
	}
	minX, minY := floats.Min(xs), floats.Min(ys)
	for k := range positions {
		positions[k] = [2]float64{xs[k] - minX + float64(pad[0]), ys[k] - minY + float64(pad[1])}
	}
	return positions, nil
}

// initialObject returns a copy of the provided object or a blank one that
// covers the padded scan: zeros for a potential, ones for a complex object.
func initialObject(given *array.Complex2D, t ptycho.ObjectType, positions ptycho.Positions, pad, roi [2]int) (*array.Complex2D, error) {
	if given != nil {
		if given.Rows < roi[0] || given.Cols < roi[1] {
			return nil, fmt.Errorf("%w: object %dx%d is smaller than the probe ROI %v",
				ptycho.ErrConfig, given.Rows, given.Cols, roi)
		}
		object := given.Clone()
		if t == ptycho.Potential {
			for i, v := range object.Data {
				object.Data[i] = complex(real(v), 0)
			}
		}
		return object, nil
	}

	var maxX, maxY float64
	for _, p := range positions {
		maxX = math.Max(maxX, p[0])
		maxY = math.Max(maxY, p[1])
	}
	rows := max(int(math.Round(maxX+float64(pad[0]))), roi[0])
	cols := max(int(math.Round(maxY+float64(pad[1]))), roi[1])

	object := array.NewComplex2D(rows, cols)
	if t == ptycho.Complex {
		for i := range object.Data {
			object.Data[i] = 1
		}
	}
	return object, nil
}

// vacuumProbe builds an aberration-free probe whose Fourier amplitude is the
// mean measured amplitude.
func vacuumProbe(be backend.Backend, amplitudes *array.RealStack) *array.Complex2D {
	size := amplitudes.FrameSize()
	mean := make([]float64, size)
	for k := 0; k < amplitudes.Len; k++ {
		floats.Add(mean, amplitudes.Frame(k))
	}
	floats.Scale(1/float64(amplitudes.Len), mean)

	probe := array.NewComplex2D(amplitudes.Rows, amplitudes.Cols)
	for i, v := range mean {
		probe.Data[i] = complex(v, 0)
	}
	be.IFFT2D(probe, probe)
	return probe
}

// normalizeProbe scales the probe in place so Σ|FFT(P)|² equals the mean
// diffraction intensity.
func normalizeProbe(be backend.Backend, probe *array.Complex2D, meanIntensity float64) {
	fourier := array.NewComplex2D(probe.Rows, probe.Cols)
	be.FFT2D(fourier, probe)
	total := 0.0
	for _, v := range fourier.Data {
		total += array.Abs2(v)
	}
	if total == 0 {
		return
	}
	f := complex(math.Sqrt(meanIntensity/total), 0)
	for i := range probe.Data {
		probe.Data[i] *= f
	}
}

// fieldOfView thresholds the smoothed overlap of the shifted probe
// intensities.
func fieldOfView(be backend.Backend, probe *array.Complex2D, positions ptycho.Positions, rows, cols int) []bool {
	idx := ptycho.NewPatchIndices(positions, probe.Rows, probe.Cols, rows, cols)
	shifted := ptycho.FourierShift(be, probe, positions.Fractional())
	overlap := filter.Gaussian(ptycho.ProbeOverlap(be, shifted, idx), 1, filter.Reflect)

	threshold := fovThreshold * be.Max(overlap.Data)
	mask := make([]bool, len(overlap.Data))
	for i, v := range overlap.Data {
		mask[i] = v > threshold
	}
	return mask
}

func countTrue(m []bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}
