package reconstruction

import (
	"fmt"
	"math"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/ptycho"
)

// Never is the iteration threshold that is never reached.
const Never = math.MaxInt

// Frame centring modes.
const (
	CenterNone      = "none"
	CenterGeometric = "geometric"
	CenterCoM       = "com"
)

// PreprocessOptions control how the measured data is turned into the initial
// reconstruction state.
type PreprocessOptions struct {
	// ObjectType is "potential" or "complex".
	ObjectType string

	// ObjectPaddingPx pads the object around the scan; zero means half the
	// probe window.
	ObjectPaddingPx [2]int

	// ProbeROIShape zero-pads the frames to a larger window; zero keeps the
	// detector shape.
	ProbeROIShape [2]int

	// FrameCentering moves the zero frequency of every frame onto the corner
	// pixel: "none" (already corner-centred), "geometric" (detector centre)
	// or "com" (rounded centre of mass of each frame).
	FrameCentering string

	// InitialObject, InitialProbe and InitialPositions (Å) replace the
	// defaults when set.
	InitialObject    *array.Complex2D
	InitialProbe     *array.Complex2D
	InitialPositions ptycho.Positions

	// FOVMask marks illuminated object pixels; nil derives it from the
	// probe overlap.
	FOVMask []bool

	// ScanRotation (radians) and ScanTranspose map the raster grid onto
	// the object frame.
	ScanRotation  float64
	ScanTranspose bool

	// KnownAberrations is a DFT-ordered phase factor of the probe-forming
	// optics, divided out before residual-aberration filtering.
	KnownAberrations *array.Complex2D
}

// DefaultPreprocessOptions returns the standard preprocessing.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		ObjectType:     "complex",
		FrameCentering: CenterGeometric,
	}
}

// Options control one Reconstruct call.
type Options struct {
	MaxIter int

	// Method names the algorithm (see ptycho.ResolveMethod) and Parameter
	// its α, β, γ or (a, b, c).
	Method    string
	Parameter []float64

	// StepSize scales gradient-descent updates.
	StepSize float64

	// MaxBatchSize splits every iteration into stochastic batches; zero
	// processes all patterns at once. Gradient descent only.
	MaxBatchSize int

	// Seed seeds the pattern shuffle of gradient descent.
	Seed int64

	// NormalizationMin is the normalisation floor as a fraction of the
	// maximum overlap intensity.
	NormalizationMin float64

	// Reset restarts from the preprocessed state; otherwise the run
	// continues from the previous result.
	Reset bool

	// StoreIterations keeps a snapshot of the object and probe after every
	// iteration.
	StoreIterations bool

	// Object constraints.
	SwitchObjectIter      int
	PurePhaseObjectIter   int
	ObjectPositivity      bool
	ShrinkageRad          float64
	FixPotentialBaseline  bool
	GaussianFilterSigma   float64
	GaussianFilterIter    int
	ButterworthFilterIter int
	QLowpass              float64
	QHighpass             float64
	ButterworthOrder      float64

	// Probe constraints.
	FixCoM                                     bool
	FixProbeIter                               int
	SymmetrizeProbeIter                        int
	FixProbeAmplitudeIter                      int
	FixProbeAmplitudeRelativeRadius            float64
	FixProbeAmplitudeRelativeWidth             float64
	FixProbeFourierAmplitudeIter               int
	FixProbeFourierAmplitudeThreshold          float64
	ProbeGaussianFilterSigma                   float64
	ProbeGaussianFilterResidualAberrationsIter int
	ProbeGaussianFilterFixAmplitude            bool

	// Position refinement.
	FixPositionsIter           int
	PositionsStepSize          float64
	ConstrainPositionDistance  float64
	GlobalAffineTransformation bool
}

// DefaultOptions returns the standard gradient-descent reconstruction.
func DefaultOptions() Options {
	return Options{
		MaxIter:          64,
		Method:           ptycho.MethodGD,
		StepSize:         0.9,
		NormalizationMin: 1,

		SwitchObjectIter:      Never,
		ObjectPositivity:      true,
		FixPotentialBaseline:  true,
		GaussianFilterIter:    Never,
		ButterworthFilterIter: Never,
		ButterworthOrder:      2,

		FixCoM:                            true,
		FixProbeAmplitudeRelativeRadius:   0.5,
		FixProbeAmplitudeRelativeWidth:    0.05,
		FixProbeFourierAmplitudeThreshold: 0.9,

		ProbeGaussianFilterResidualAberrationsIter: Never,
		ProbeGaussianFilterFixAmplitude:            true,

		FixPositionsIter:           Never,
		PositionsStepSize:          0.9,
		GlobalAffineTransformation: true,
	}
}

// resolve checks the options and returns the resolved method.
func (o Options) resolve() (ptycho.Method, error) {
	m, err := ptycho.ResolveMethod(o.Method, o.Parameter)
	if err != nil {
		return ptycho.Method{}, err
	}
	if o.MaxBatchSize > 0 && m.Projection {
		return ptycho.Method{}, fmt.Errorf("%w: stochastic object/probe updating is inconsistent with "+
			"'DM_AP', 'RAAR', 'RRR', 'SUPERFLIP' and 'generalized-projection'; use 'GD' or "+
			"set MaxBatchSize to zero", ptycho.ErrConfig)
	}
	if o.MaxIter <= 0 {
		return ptycho.Method{}, fmt.Errorf("%w: MaxIter must be positive, got %d", ptycho.ErrConfig, o.MaxIter)
	}
	if o.MaxBatchSize < 0 {
		return ptycho.Method{}, fmt.Errorf("%w: MaxBatchSize must not be negative, got %d", ptycho.ErrConfig, o.MaxBatchSize)
	}
	if o.NormalizationMin < 0 || o.NormalizationMin > 1 {
		return ptycho.Method{}, fmt.Errorf("%w: NormalizationMin must be between 0-1, got %g",
			ptycho.ErrConfig, o.NormalizationMin)
	}
	if !m.Projection && o.StepSize <= 0 {
		return ptycho.Method{}, fmt.Errorf("%w: StepSize must be positive, got %g", ptycho.ErrConfig, o.StepSize)
	}
	return m, nil
}

// chain builds the constraint chain in application order.
func (o Options) chain() ptycho.Chain {
	pure := ptycho.Window{From: 0, Until: o.PurePhaseObjectIter}

	c := ptycho.Chain{
		&ptycho.ObjectGaussian{
			Window:    ptycho.Window{From: 0, Until: o.GaussianFilterIter},
			Sigma:     o.GaussianFilterSigma,
			PurePhase: pure,
		},
		&ptycho.ObjectButterworth{
			Window:    ptycho.Window{From: 0, Until: o.ButterworthFilterIter},
			QLowpass:  o.QLowpass,
			QHighpass: o.QHighpass,
			Order:     o.ButterworthOrder,
		},
		&ptycho.ObjectShrinkage{Rad: o.ShrinkageRad, FixBaseline: o.FixPotentialBaseline},
		&ptycho.ObjectAmplitude{PurePhase: pure, Positivity: o.ObjectPositivity},
	}
	if o.FixCoM {
		c = append(c, &ptycho.ProbeCenterOfMass{Window: ptycho.Window{From: o.FixProbeIter, Until: Never}})
	}
	return append(c,
		&ptycho.ProbeResidualAberrations{
			Window:       ptycho.Window{From: 0, Until: o.ProbeGaussianFilterResidualAberrationsIter},
			Sigma:        o.ProbeGaussianFilterSigma,
			FixAmplitude: o.ProbeGaussianFilterFixAmplitude,
		},
		&ptycho.ProbeSymmetrization{Window: ptycho.Window{From: 0, Until: o.SymmetrizeProbeIter}},
		&ptycho.ProbeAmplitude{
			Window:           ptycho.Window{From: o.FixProbeIter, Until: o.FixProbeAmplitudeIter},
			FourierWindow:    ptycho.Window{From: o.FixProbeIter, Until: o.FixProbeFourierAmplitudeIter},
			RelativeRadius:   o.FixProbeAmplitudeRelativeRadius,
			RelativeWidth:    o.FixProbeAmplitudeRelativeWidth,
			FourierThreshold: o.FixProbeFourierAmplitudeThreshold,
		},
		&ptycho.PositionsRecentering{
			Window: ptycho.Window{From: o.FixPositionsIter, Until: Never},
			Affine: o.GlobalAffineTransformation,
		},
	)
}
