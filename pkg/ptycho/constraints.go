package ptycho

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
	"ptychorecon/pkg/filter"
)

// Window is a half-open iteration range [From, Until).
type Window struct {
	From, Until int
}

// Always is the window covering every iteration.
var Always = Window{From: 0, Until: math.MaxInt}

// Contains reports whether iteration i lies in the window.
func (w Window) Contains(i int) bool { return i >= w.From && i < w.Until }

// State is the mutable reconstruction state the constraints act on.
type State struct {
	Iteration  int
	Object     *array.Complex2D
	ObjectType ObjectType
	Probe      *array.Complex2D
	Positions  Positions
}

// Environment holds the fixed quantities constraints read.
type Environment struct {
	Backend backend.Backend

	// Sampling is the real-space pixel size in Å; ReciprocalSampling the
	// detector pixel size in Å⁻¹.
	Sampling           [2]float64
	ReciprocalSampling [2]float64

	// Background marks object pixels outside the field of view.
	Background []bool

	// InitialPositions and PositionsCenter anchor position recentring and the
	// affine fit.
	InitialPositions Positions
	PositionsCenter  [2]float64

	// KnownAberrations is an optional DFT-ordered phase factor the probe
	// filter divides out before smoothing and restores afterwards.
	KnownAberrations *array.Complex2D
}

// Constraint is one regulariser of the chain.
type Constraint interface {
	// Name identifies the constraint in logs.
	Name() string

	// Apply constrains s when active at s.Iteration and reports whether it ran.
	Apply(env *Environment, s *State) bool
}

// Chain applies its constraints in order.
type Chain []Constraint

// Apply runs every active constraint and returns the names of those that ran.
func (c Chain) Apply(env *Environment, s *State) []string {
	var applied []string
	for _, con := range c {
		if con.Apply(env, s) {
			applied = append(applied, con.Name())
		}
	}
	return applied
}

func pixelSize(sampling [2]float64) float64 {
	return math.Hypot(sampling[0], sampling[1])
}

// ObjectGaussian smooths the object with a gaussian of Sigma Å.
type ObjectGaussian struct {
	Window Window
	Sigma  float64
	// PurePhase smooths only the phase of a complex object while active.
	PurePhase Window
}

func (c *ObjectGaussian) Name() string { return "object-gaussian" }

func (c *ObjectGaussian) Apply(env *Environment, s *State) bool {
	if c.Sigma <= 0 || !c.Window.Contains(s.Iteration) {
		return false
	}
	sigma := c.Sigma / pixelSize(env.Sampling)

	switch {
	case s.ObjectType == Potential:
		s.Object = filter.Gaussian(s.Object.Real(), sigma, filter.Reflect).Complex()
	case c.PurePhase.Contains(s.Iteration):
		phase := filter.Gaussian(s.Object.Phase(), sigma, filter.Reflect)
		for i, v := range phase.Data {
			s.Object.Data[i] = array.Expi(v)
		}
	default:
		s.Object = filter.GaussianComplex(s.Object, sigma, filter.Reflect)
	}
	return true
}

// ObjectButterworth band-passes the mean-removed object.
type ObjectButterworth struct {
	Window    Window
	QLowpass  float64
	QHighpass float64
	Order     float64
}

func (c *ObjectButterworth) Name() string { return "object-butterworth" }

func (c *ObjectButterworth) Apply(env *Environment, s *State) bool {
	if (c.QLowpass <= 0 && c.QHighpass <= 0) || !c.Window.Contains(s.Iteration) {
		return false
	}
	obj := s.Object
	env2 := filter.Butterworth(obj.Rows, obj.Cols, env.Sampling, c.QLowpass, c.QHighpass, c.Order)

	var mean complex128
	for _, v := range obj.Data {
		mean += v
	}
	mean /= complex(float64(len(obj.Data)), 0)

	work := array.NewComplex2D(obj.Rows, obj.Cols)
	for i, v := range obj.Data {
		work.Data[i] = v - mean
	}
	env.Backend.FFT2D(work, work)
	for i := range work.Data {
		work.Data[i] *= complex(env2.Data[i], 0)
	}
	env.Backend.IFFT2D(work, work)
	for i := range work.Data {
		work.Data[i] += mean
		if s.ObjectType == Potential {
			work.Data[i] = complex(real(work.Data[i]), 0)
		}
	}
	s.Object = work
	return true
}

// ObjectShrinkage subtracts Rad radians from the potential (or the phase of
// a complex object), plus the background mean when FixBaseline is set.
type ObjectShrinkage struct {
	Rad         float64
	FixBaseline bool
}

func (c *ObjectShrinkage) Name() string { return "object-shrinkage" }

func (c *ObjectShrinkage) Apply(env *Environment, s *State) bool {
	useMask := c.FixBaseline && countTrue(env.Background) > 0
	if c.Rad <= 0 && !useMask {
		return false
	}

	var values []float64
	if s.ObjectType == Potential {
		values = s.Object.Real().Data
	} else {
		values = s.Object.Phase().Data
	}

	shrink := c.Rad
	if useMask {
		shrink += stat.Mean(values, maskWeights(env.Background))
	}

	if s.ObjectType == Potential {
		for i, v := range values {
			s.Object.Data[i] = complex(v-shrink, 0)
		}
	} else {
		for i, v := range s.Object.Data {
			s.Object.Data[i] = complex(cmplx.Abs(v), 0) * array.Expi(values[i]-shrink)
		}
	}
	return true
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

func maskWeights(m []bool) []float64 {
	w := make([]float64, len(m))
	for i, v := range m {
		if v {
			w[i] = 1
		}
	}
	return w
}

// ObjectAmplitude bounds a complex object's amplitude by one (or fixes it to
// one while PurePhase is active) and clips a potential object at zero when
// Positivity is set.
type ObjectAmplitude struct {
	PurePhase  Window
	Positivity bool
}

func (c *ObjectAmplitude) Name() string { return "object-amplitude" }

func (c *ObjectAmplitude) Apply(_ *Environment, s *State) bool {
	if s.ObjectType == Complex {
		pure := c.PurePhase.Contains(s.Iteration)
		for i, v := range s.Object.Data {
			amp := 1.0
			if !pure {
				amp = math.Min(cmplx.Abs(v), 1)
			}
			s.Object.Data[i] = complex(amp, 0) * array.Expi(cmplx.Phase(v))
		}
		return true
	}
	if !c.Positivity {
		return false
	}
	for i, v := range s.Object.Data {
		s.Object.Data[i] = complex(math.Max(real(v), 0), 0)
	}
	return true
}

// ProbeCenterOfMass shifts the probe so its intensity centroid sits on the
// origin pixel.
type ProbeCenterOfMass struct {
	Window Window
}

func (c *ProbeCenterOfMass) Name() string { return "probe-center-of-mass" }

func (c *ProbeCenterOfMass) Apply(env *Environment, s *State) bool {
	if !c.Window.Contains(s.Iteration) {
		return false
	}
	cx, cy := filter.CenterOfMass(s.Probe.Abs2())
	shifted := FourierShift(env.Backend, s.Probe, Positions{{-cx, -cy}})
	s.Probe = shifted.Plane(0)
	return true
}

// ProbeResidualAberrations smooths the probe's Fourier transform with a
// periodic gaussian of Sigma Å⁻¹, after dividing out any known aberrations.
// FixAmplitude keeps the original Fourier amplitude and smooths the phase only.
type ProbeResidualAberrations struct {
	Window       Window
	Sigma        float64
	FixAmplitude bool
}

func (c *ProbeResidualAberrations) Name() string { return "probe-residual-aberrations" }

func (c *ProbeResidualAberrations) Apply(env *Environment, s *State) bool {
	if c.Sigma <= 0 || !c.Window.Contains(s.Iteration) {
		return false
	}
	be := env.Backend
	sigma := c.Sigma / env.ReciprocalSampling[0]

	fourier := array.NewComplex2D(s.Probe.Rows, s.Probe.Cols)
	be.FFT2D(fourier, s.Probe)

	var amplitude []float64
	if c.FixAmplitude {
		amplitude = make([]float64, len(fourier.Data))
		for i, v := range fourier.Data {
			amplitude[i] = cmplx.Abs(v)
		}
	}
	known := env.KnownAberrations
	if known != nil {
		for i := range fourier.Data {
			fourier.Data[i] *= cmplx.Conj(known.Data[i])
		}
	}

	fourier = filter.GaussianComplex(fourier, sigma, filter.Wrap)

	if known != nil {
		for i := range fourier.Data {
			fourier.Data[i] *= known.Data[i]
		}
	}
	if c.FixAmplitude {
		for i, v := range fourier.Data {
			fourier.Data[i] = complex(amplitude[i], 0) * array.Expi(cmplx.Phase(v))
		}
	}

	be.IFFT2D(fourier, fourier)
	s.Probe = fourier
	return true
}

// ProbeSymmetrization replaces the probe with its radial average about the
// origin pixel, keeping the total intensity.
type ProbeSymmetrization struct {
	Window Window
}

func (c *ProbeSymmetrization) Name() string { return "probe-symmetrization" }

func (c *ProbeSymmetrization) Apply(_ *Environment, s *State) bool {
	if !c.Window.Contains(s.Iteration) {
		return false
	}
	p := s.Probe
	before := totalIntensity(p)

	ix := array.FFTIndices(p.Rows)
	iy := array.FFTIndices(p.Cols)
	bin := make([]int, len(p.Data))
	nbins := 0
	for i := 0; i < p.Rows; i++ {
		for j := 0; j < p.Cols; j++ {
			b := int(math.Round(math.Hypot(float64(ix[i]), float64(iy[j]))))
			bin[i*p.Cols+j] = b
			if b+1 > nbins {
				nbins = b + 1
			}
		}
	}

	sums := make([]complex128, nbins)
	counts := make([]float64, nbins)
	for n, v := range p.Data {
		sums[bin[n]] += v
		counts[bin[n]]++
	}

	out := array.NewComplex2D(p.Rows, p.Cols)
	for n := range out.Data {
		out.Data[n] = sums[bin[n]] / complex(counts[bin[n]], 0)
	}
	rescale(out, before)
	s.Probe = out
	return true
}

// ProbeAmplitude constrains the probe amplitude with a top-hat. While Window
// is active the real-space amplitude is multiplied by a sigmoid disk; else,
// while FourierWindow is active, the Fourier amplitude is replaced by a
// flat top-hat over the region brighter than FourierThreshold of its maximum.
// Total intensity is preserved in both cases.
type ProbeAmplitude struct {
	Window           Window
	FourierWindow    Window
	RelativeRadius   float64
	RelativeWidth    float64
	FourierThreshold float64
}

func (c *ProbeAmplitude) Name() string { return "probe-amplitude" }

func (c *ProbeAmplitude) Apply(env *Environment, s *State) bool {
	switch {
	case c.Window.Contains(s.Iteration):
		before := totalIntensity(s.Probe)
		mask := filter.TopHat(s.Probe.Rows, s.Probe.Cols, c.RelativeRadius, c.RelativeWidth)
		out := s.Probe.Clone()
		for i := range out.Data {
			out.Data[i] *= complex(mask.Data[i], 0)
		}
		rescale(out, before)
		s.Probe = out
		return true

	case c.FourierWindow.Contains(s.Iteration):
		be := env.Backend
		before := totalIntensity(s.Probe)

		fourier := array.NewComplex2D(s.Probe.Rows, s.Probe.Cols)
		be.FFT2D(fourier, s.Probe)
		amp := make([]float64, len(fourier.Data))
		for i, v := range fourier.Data {
			amp[i] = cmplx.Abs(v)
		}
		maxAmp := be.Max(amp)
		if maxAmp == 0 {
			return false
		}

		mask := make([]float64, len(amp))
		var level, weight float64
		for i, a := range amp {
			mask[i] = filter.Sigmoid(a/maxAmp, c.FourierThreshold, c.RelativeWidth)
			level += mask[i] * a
			weight += mask[i]
		}
		if weight > 0 {
			level /= weight
		}
		for i, v := range fourier.Data {
			fourier.Data[i] = complex(level*mask[i], 0) * array.Expi(cmplx.Phase(v))
		}
		be.IFFT2D(fourier, fourier)
		rescale(fourier, before)
		s.Probe = fourier
		return true
	}
	return false
}

func totalIntensity(p *array.Complex2D) float64 {
	sum := 0.0
	for _, v := range p.Data {
		sum += array.Abs2(v)
	}
	return sum
}

func rescale(p *array.Complex2D, target float64) {
	now := totalIntensity(p)
	if now == 0 {
		return
	}
	f := complex(math.Sqrt(target/now), 0)
	for i := range p.Data {
		p.Data[i] *= f
	}
}

// PositionsRecentering moves the positions' centre of mass back to the
// initial centre and, when Affine is set, replaces them with the best global
// affine transform of the initial scan.
type PositionsRecentering struct {
	Window Window
	Affine bool
}

func (c *PositionsRecentering) Name() string { return "positions-recentering" }

func (c *PositionsRecentering) Apply(env *Environment, s *State) bool {
	if !c.Window.Contains(s.Iteration) {
		return false
	}
	mean := s.Positions.Mean()
	out := s.Positions.Clone()
	for k := range out {
		out[k][0] -= mean[0] - env.PositionsCenter[0]
		out[k][1] -= mean[1] - env.PositionsCenter[1]
	}
	if c.Affine {
		if fitted, err := AffineFit(env.InitialPositions, out, env.PositionsCenter); err == nil {
			out = fitted
		}
	}
	s.Positions = out
	return true
}

// AffineFit finds the affine map (about origin) that best carries initial
// onto current in the least-squares sense and returns the initial positions
// mapped through it.
func AffineFit(initial, current Positions, origin [2]float64) (Positions, error) {
	n := len(initial)
	if n != len(current) || n < 3 {
		return current.Clone(), nil
	}

	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 2, nil)
	for k := 0; k < n; k++ {
		a.Set(k, 0, initial[k][0]-origin[0])
		a.Set(k, 1, initial[k][1]-origin[1])
		a.Set(k, 2, 1)
		b.Set(k, 0, current[k][0]-origin[0])
		b.Set(k, 1, current[k][1]-origin[1])
	}

	var tf mat.Dense
	if err := tf.Solve(a, b); err != nil {
		return nil, err
	}

	var fitted mat.Dense
	fitted.Mul(a, &tf)
	out := make(Positions, n)
	for k := 0; k < n; k++ {
		out[k] = [2]float64{fitted.At(k, 0) + origin[0], fitted.At(k, 1) + origin[1]}
	}
	return out, nil
}
