// Package reconstruction schedules single-slice ptychographic
// reconstructions: it turns a diffraction source into amplitudes and an
// initial object, probe and scan, then iterates the overlap, projection,
// adjoint, position-correction and constraint operators of package ptycho.
package reconstruction

import (
	"fmt"
	"log/slog"
	"time"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
	"ptychorecon/pkg/ptycho"
)

// DiffractionSource supplies measured diffraction intensities and their
// calibrations.
type DiffractionSource interface {
	// Len returns the number of diffraction patterns.
	Len() int
	// FrameShape returns the detector dimensions.
	FrameShape() (int, int)
	// Frame returns pattern i, row-major, in raster scan order.
	Frame(i int) []float64
	// ReciprocalSampling returns the detector pixel size in Å⁻¹.
	ReciprocalSampling() [2]float64
	// ScanShape returns the raster grid shape.
	ScanShape() [2]int
	// ScanSampling returns the probe step in Å.
	ScanSampling() [2]float64
}

// Recorder receives progress metrics. metrics.Recorder implements it.
type Recorder interface {
	RunStarted(method string)
	ObserveBatch()
	ObserveIteration(d time.Duration, normalizedError float64)
	ObserveConstraints(names []string)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(string)                       {}
func (nopRecorder) ObserveBatch()                           {}
func (nopRecorder) ObserveIteration(time.Duration, float64) {}
func (nopRecorder) ObserveConstraints([]string)             {}

// Progress describes one finished iteration.
type Progress struct {
	Iteration int
	MaxIter   int
	Error     float64
	Elapsed   time.Duration
}

// State is the lifecycle stage of a Reconstructor.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is the object and probe after one iteration.
type Snapshot struct {
	Iteration int
	Object    *array.Complex2D
	Probe     *array.Complex2D
}

// initialState is the preprocessed state Reset restores. It is never
// mutated after Preprocess.
type initialState struct {
	object     *array.Complex2D
	objectType ptycho.ObjectType
	probe      *array.Complex2D
	positions  ptycho.Positions
}

// Reconstructor runs ptychographic reconstructions of one dataset.
//
// The lifecycle is NewReconstructor → Preprocess → Reconstruct (repeatable).
// A Reconstructor is not safe for concurrent use; data parallelism lives in
// its backend.
type Reconstructor struct {
	source   DiffractionSource
	be       backend.Backend
	logger   *slog.Logger
	recorder Recorder
	progress func(Progress)

	state State

	// measured data
	amplitudes    *array.RealStack
	meanIntensity float64
	roi           [2]int
	sampling      [2]float64
	reciprocal    [2]float64

	// scan geometry
	positionsCenter  [2]float64
	scanRotation     float64
	scanTranspose    bool
	fovMask          []bool
	knownAberrations *array.Complex2D

	initial initialState

	// current estimates
	object     *array.Complex2D
	objectType ptycho.ObjectType
	probe      *array.Complex2D
	positions  ptycho.Positions
	exitWaves  *array.ComplexStack

	errors    []float64
	snapshots []Snapshot
	hasResult bool
	lastError float64
	runID     string
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithBackend sets the numeric backend. The default is a CPU backend using
// every core.
func WithBackend(be backend.Backend) Option {
	return func(r *Reconstructor) { r.be = be }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconstructor) { r.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Reconstructor) { r.recorder = rec }
}

// WithProgress registers a callback invoked after every iteration.
func WithProgress(fn func(Progress)) Option {
	return func(r *Reconstructor) { r.progress = fn }
}

// NewReconstructor creates a reconstructor for source.
//
// Parameters:
//   - source: Measured diffraction data
//   - opts: Backend, logger, recorder and progress options
//
// Returns:
//   - A reconstructor in the uninitialized state, or an ErrConfig error
//     for a nil or empty source
func NewReconstructor(source DiffractionSource, opts ...Option) (*Reconstructor, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: diffraction source is nil", ptycho.ErrConfig)
	}
	if source.Len() == 0 {
		return nil, fmt.Errorf("%w: diffraction source holds no patterns", ptycho.ErrConfig)
	}

	r := &Reconstructor{source: source}
	for _, opt := range opts {
		opt(r)
	}
	if r.be == nil {
		r.be = backend.NewCPU(0)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	return r, nil
}

// State returns the lifecycle stage.
func (r *Reconstructor) State() State { return r.state }

// Backend returns the numeric backend.
func (r *Reconstructor) Backend() backend.Backend { return r.be }

// Object returns a copy of the current object in its current type.
func (r *Reconstructor) Object() *array.Complex2D { return cloneOrNil(r.object) }

// ObjectType returns the current object type.
func (r *Reconstructor) ObjectType() ptycho.ObjectType { return r.objectType }

// Potential returns the object as a real phase: the potential itself, or
// the phase of a complex object.
func (r *Reconstructor) Potential() *array.Real2D {
	if r.object == nil {
		return nil
	}
	if r.objectType == ptycho.Potential {
		return r.object.Real()
	}
	return r.object.Phase()
}

// Probe returns a copy of the current corner-centred probe.
func (r *Reconstructor) Probe() *array.Complex2D { return cloneOrNil(r.probe) }

// Positions returns the current positions in Å.
func (r *Reconstructor) Positions() ptycho.Positions {
	out := r.positions.Clone()
	for k := range out {
		out[k][0] *= r.sampling[0]
		out[k][1] *= r.sampling[1]
	}
	return out
}

// PositionsPx returns the current positions in object pixels.
func (r *Reconstructor) PositionsPx() ptycho.Positions { return r.positions.Clone() }

// ErrorHistory returns the normalised error of every iteration since the
// last reset.
func (r *Reconstructor) ErrorHistory() []float64 {
	return append([]float64(nil), r.errors...)
}

// Error returns the normalised error of the last iteration run.
func (r *Reconstructor) Error() float64 { return r.lastError }

// Snapshots returns the stored per-iteration snapshots.
func (r *Reconstructor) Snapshots() []Snapshot {
	return append([]Snapshot(nil), r.snapshots...)
}

// Sampling returns the real-space pixel size in Å.
func (r *Reconstructor) Sampling() [2]float64 { return r.sampling }

// MeanIntensity returns the mean total intensity per pattern.
func (r *Reconstructor) MeanIntensity() float64 { return r.meanIntensity }

// FOVMask returns a copy of the field-of-view mask.
func (r *Reconstructor) FOVMask() []bool { return append([]bool(nil), r.fovMask...) }

// RunID returns the identifier of the last Reconstruct call.
func (r *Reconstructor) RunID() string { return r.runID }

// Reset restores the preprocessed object, object type, probe and positions
// and clears the exit waves, error history and snapshots.
func (r *Reconstructor) Reset() error {
	if r.state == StateUninitialized {
		return fmt.Errorf("%w: Preprocess must run before Reset", ptycho.ErrConfig)
	}
	r.object = r.initial.object.Clone()
	r.objectType = r.initial.objectType
	r.probe = r.initial.probe.Clone()
	r.positions = r.initial.positions.Clone()
	r.exitWaves = nil
	r.errors = nil
	r.snapshots = nil
	r.hasResult = false
	r.lastError = 0
	r.state = StateReady
	return nil
}

func cloneOrNil(a *array.Complex2D) *array.Complex2D {
	if a == nil {
		return nil
	}
	return a.Clone()
}
