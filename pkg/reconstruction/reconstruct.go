package reconstruction

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/ptycho"
)

// Reconstruct runs opts.MaxIter iterations of the configured algorithm.
//
// Without opts.Reset the run continues from the previous result, keeping
// its object, probe, positions, exit waves and error history. Configuration
// errors are returned before any state changes. ctx is checked between
// iterations; on cancellation the state of the last finished iteration is
// kept.
//
// Parameters:
//   - ctx: Cancellation
//   - opts: Algorithm, schedule and constraint options
//
// Returns:
//   - An ErrConfig error for invalid options, or the wrapped context error
func (r *Reconstructor) Reconstruct(ctx context.Context, opts Options) error {
	if r.state == StateUninitialized {
		return fmt.Errorf("%w: Preprocess must run before Reconstruct", ptycho.ErrConfig)
	}
	method, err := opts.resolve()
	if err != nil {
		return err
	}

	r.runID = uuid.New().String()
	log := r.logger.With("run_id", r.runID)

	switch {
	case opts.Reset:
		if err := r.Reset(); err != nil {
			return err
		}
	case r.hasResult:
		log.Warn("Continuing reconstruction from previous result; set Reset for a fresh start")
	default:
		r.errors = nil
		r.exitWaves = nil
	}
	if !opts.StoreIterations {
		r.snapshots = nil
	}

	switchAt := "never"
	if opts.SwitchObjectIter < opts.MaxIter {
		switchAt = fmt.Sprint(opts.SwitchObjectIter)
	}
	log.Info("Starting reconstruction",
		"method", method.Name,
		"parameter", opts.Parameter,
		"max_iter", opts.MaxIter,
		"object_type", r.objectType.String(),
		"switch_object_iter", switchAt,
		"normalization_min", opts.NormalizationMin,
		"step_size", opts.StepSize,
		"max_batch_size", opts.MaxBatchSize,
		"backend", r.be.Name())
	r.recorder.RunStarted(method.Name)

	r.state = StateRunning
	defer func() {
		if r.state == StateRunning {
			r.state = StateReady
		}
	}()

	strategy := method.Strategy(opts.StepSize)
	chain := opts.chain()
	env := &ptycho.Environment{
		Backend:            r.be,
		Sampling:           r.sampling,
		ReciprocalSampling: r.reciprocal,
		InitialPositions:   r.initial.positions,
		PositionsCenter:    r.positionsCenter,
		KnownAberrations:   r.knownAberrations,
	}
	if opts.FixPotentialBaseline {
		env.Background = invert(r.fovMask)
	}
	correction := ptycho.PositionCorrection{
		StepSize:  opts.PositionsStepSize,
		Initial:   r.initial.positions,
		Transpose: r.scanTranspose,
		Rotation:  r.scanRotation,
	}
	if opts.ConstrainPositionDistance > 0 {
		correction.MaxDistance = opts.ConstrainPositionDistance / math.Hypot(r.sampling[0], r.sampling[1])
	}

	n := r.amplitudes.Len
	batch := opts.MaxBatchSize
	if batch <= 0 || batch > n {
		batch = n
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	started := time.Now()

	for iter := 0; iter < opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			log.Warn("Reconstruction cancelled", "iteration", iter)
			return fmt.Errorf("reconstruction cancelled at iteration %d: %w", iter, err)
		}
		iterStart := time.Now()

		if iter == opts.SwitchObjectIter {
			r.switchObjectType()
			log.Info("Switched object type", "iteration", iter, "object_type", r.objectType.String())
		}

		if !method.Projection {
			rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		shuffled := r.positions.Gather(order)

		errSum := 0.0
		for start := 0; start < n; start += batch {
			end := min(start+batch, n)
			errSum += r.processBatch(strategy, order[start:end], shuffled[start:end], iter, opts, correction)
			r.recorder.ObserveBatch()
		}
		normalized := errSum / (r.meanIntensity * float64(n))

		for k, p := range order {
			r.positions[p] = shuffled[k]
		}

		st := &ptycho.State{
			Iteration:  iter,
			Object:     r.object,
			ObjectType: r.objectType,
			Probe:      r.probe,
			Positions:  r.positions,
		}
		applied := chain.Apply(env, st)
		r.object, r.probe, r.positions = st.Object, st.Probe, st.Positions

		r.errors = append(r.errors, normalized)
		r.lastError = normalized
		r.hasResult = true
		if opts.StoreIterations {
			r.snapshots = append(r.snapshots, Snapshot{
				Iteration: len(r.errors) - 1,
				Object:    r.object.Clone(),
				Probe:     r.probe.Clone(),
			})
		}

		elapsed := time.Since(iterStart)
		r.recorder.ObserveConstraints(applied)
		r.recorder.ObserveIteration(elapsed, normalized)
		log.Debug("Iteration complete",
			"iteration", iter,
			"error", normalized,
			"duration", elapsed,
			"constraints", applied)
		if r.progress != nil {
			r.progress(Progress{Iteration: iter, MaxIter: opts.MaxIter, Error: normalized, Elapsed: time.Since(started)})
		}
	}

	r.state = StateDone
	log.Info("Reconstruction complete",
		"iterations", opts.MaxIter,
		"error", r.lastError,
		"duration", time.Since(started))
	return nil
}

// processBatch runs overlap, projection, adjoint and position correction
// for one batch and returns its unnormalised error. Corrected positions are
// written back into positions.
func (r *Reconstructor) processBatch(
	strategy ptycho.Strategy,
	patterns []int,
	positions ptycho.Positions,
	iter int,
	opts Options,
	correction ptycho.PositionCorrection,
) float64 {
	idx := ptycho.NewPatchIndices(positions, r.roi[0], r.roi[1], r.object.Rows, r.object.Cols)
	amplitudes := r.amplitudes.Gather(patterns)
	exposure := ptycho.Overlap(r.be, r.probe, r.object, r.objectType, idx, positions.Fractional())

	waves, batchErr := strategy.Project(r.be, amplitudes, exposure.Overlap, r.exitWaves)
	if strategy.UsesExitWaves() {
		r.exitWaves = waves
	}

	r.object, r.probe = strategy.Adjoint(r.be, ptycho.AdjointInput{
		Object:           r.object,
		ObjectType:       r.objectType,
		Probe:            r.probe,
		Exposure:         exposure,
		Indices:          idx,
		Waves:            waves,
		NormalizationMin: opts.NormalizationMin,
		FixProbe:         iter < opts.FixProbeIter,
	})

	if iter >= opts.FixPositionsIter {
		corrected := ptycho.CorrectPositions(r.be, r.object, r.objectType, exposure, idx, amplitudes, positions, correction)
		copy(positions, corrected)
	}
	return batchErr
}

// switchObjectType converts between potential and complex objects.
func (r *Reconstructor) switchObjectType() {
	out := array.NewComplex2D(r.object.Rows, r.object.Cols)
	if r.objectType == ptycho.Potential {
		for i, v := range r.object.Data {
			out.Data[i] = array.Expi(real(v))
		}
		r.objectType = ptycho.Complex
	} else {
		for i, v := range r.object.Data {
			out.Data[i] = complex(cmplx.Phase(v), 0)
		}
		r.objectType = ptycho.Potential
	}
	r.object = out
}

func invert(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, v := range mask {
		out[i] = !v
	}
	return out
}
