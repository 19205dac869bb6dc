package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
	"ptychorecon/pkg/config"
	"ptychorecon/pkg/metrics"
	"ptychorecon/pkg/ptycho"
	"ptychorecon/pkg/reconstruction"
	"ptychorecon/pkg/simulate"
	"ptychorecon/pkg/visualization"
)

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite it", path)
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
	return nil
}

// setup loads the configuration and builds the logger and backend shared by
// every command.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, backend.Backend, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if maxIter > 0 {
		cfg.Reconstruction.MaxIter = maxIter
	}
	if method != "" {
		cfg.Reconstruction.Method = method
	}
	if imageDir != "" {
		cfg.Output.ImageDir = imageDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(cfg.Output.LogLevel, cfg.Output.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, err
	}
	be, err := backend.New(cfg.Processing.Backend, cfg.Processing.NumCores)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, be, nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, logger, be, err := setup(cmd)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := simulate.Generate(be, cfg.ToSimulateParams())
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	logger.Info("Simulation complete", "patterns", res.Dataset.Len(), "duration", time.Since(start))

	out := cmd.OutOrStdout()
	printBanner(out, "SYNTHETIC 4D-STEM DATASET")
	printDataset(out, res)

	if cfg.Output.ImageDir == "" {
		return nil
	}
	viewer := visualization.NewViewer()
	if err := viewer.Add("object_phase", res.Object.Real()); err != nil {
		return err
	}
	if err := viewer.Add("probe_intensity", array.FFTShift(res.Probe.Abs2())); err != nil {
		return err
	}
	return saveImages(out, viewer, cfg.Output.ImageDir)
}

func runReconstruct(cmd *cobra.Command, _ []string) error {
	cfg, logger, be, err := setup(cmd)
	if err != nil {
		return err
	}

	res, err := simulate.Generate(be, cfg.ToSimulateParams())
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	recorder := metrics.NewRecorder()
	options := []reconstruction.Option{
		reconstruction.WithBackend(be),
		reconstruction.WithLogger(logger),
		reconstruction.WithRecorder(recorder),
	}
	tty := isTerminal(out)
	if tty {
		options = append(options, reconstruction.WithProgress(progressPrinter(out)))
	}

	r, err := reconstruction.NewReconstructor(res.Dataset, options...)
	if err != nil {
		return err
	}
	if err := r.Preprocess(cfg.ToPreprocessOptions()); err != nil {
		return fmt.Errorf("preprocessing failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	opts := cfg.ToOptions()
	opts.Reset = true
	start := time.Now()
	err = r.Reconstruct(ctx, opts)
	if tty {
		fmt.Fprintln(out)
	}
	if err != nil {
		return fmt.Errorf("reconstruction failed: %w", err)
	}
	elapsed := time.Since(start)

	printBanner(out, "PTYCHOGRAPHIC RECONSTRUCTION")
	printDataset(out, res)
	printResults(out, r, res, opts, elapsed)

	if path := cfg.Output.MetricsFile; path != "" {
		if err := recorder.WriteTextfile(path); err != nil {
			return fmt.Errorf("error writing metrics: %w", err)
		}
		fmt.Fprintf(out, "Metrics written to: %s\n", path)
	}

	if cfg.Output.ImageDir == "" {
		return nil
	}
	viewer, err := resultViewer(r)
	if err != nil {
		return err
	}
	return saveImages(out, viewer, cfg.Output.ImageDir)
}

func printBanner(w io.Writer, title string) {
	fmt.Fprintln(w, "================================")
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, "================================")
}

func printDataset(w io.Writer, res *simulate.Result) {
	scan := res.Dataset.ScanShape()
	rows, cols := res.Dataset.FrameShape()
	rs := res.Dataset.ReciprocalSampling()
	spacing := ptycho.ScanNeighborStats(res.Positions)

	fmt.Fprintf(w, "Patterns: %d (%dx%d scan)\n", res.Dataset.Len(), scan[0], scan[1])
	fmt.Fprintf(w, "Detector: %dx%d px at %.4g x %.4g 1/Å\n", rows, cols, rs[0], rs[1])
	fmt.Fprintf(w, "Real-space sampling: %.4g x %.4g Å\n", res.Sampling[0], res.Sampling[1])
	fmt.Fprintf(w, "Probe step: median %.3g px (min %.3g, max %.3g)\n", spacing.Median, spacing.Min, spacing.Max)
	fmt.Fprintf(w, "Mean intensity per pattern: %.6g\n\n", res.Dataset.TotalIntensity()/float64(res.Dataset.Len()))
}

func printResults(w io.Writer, r *reconstruction.Reconstructor, res *simulate.Result, opts reconstruction.Options, elapsed time.Duration) {
	history := r.ErrorHistory()
	fmt.Fprintf(w, "Method: %s\n", opts.Method)
	fmt.Fprintf(w, "Iterations: %d\n", len(history))
	fmt.Fprintf(w, "Total processing time: %.2f seconds\n", elapsed.Seconds())
	fmt.Fprintf(w, "Final normalised error: %.6g\n", r.Error())

	fmt.Fprintln(w, "\nError history:")
	every := max(1, len(history)/10)
	for i, e := range history {
		if i%every == 0 || i == len(history)-1 {
			fmt.Fprintf(w, "  %4d  %.6g\n", i, e)
		}
	}

	if probe := r.Probe(); probe.SameShape(res.Probe.Rows, res.Probe.Cols) {
		fmt.Fprintf(w, "\nProbe overlap error vs ground truth: %.4g\n", simulate.ProbeOverlapError(probe, res.Probe))
	}
}

// resultViewer collects the reconstructed object phase, its field-of-view
// crop and the centred probe intensity.
func resultViewer(r *reconstruction.Reconstructor) (*visualization.Viewer, error) {
	viewer := visualization.NewViewer()
	phase := r.Potential()
	if err := viewer.Add("object_phase", phase); err != nil {
		return nil, err
	}
	if r0, c0, h, w, ok := visualization.MaskBounds(r.FOVMask(), phase.Rows, phase.Cols); ok {
		crop, err := viewer.ExtractRegion("object_phase", r0, c0, h, w)
		if err != nil {
			return nil, err
		}
		if err := viewer.Add("object_phase_fov", crop); err != nil {
			return nil, err
		}
	}
	if err := viewer.Add("probe_intensity", array.FFTShift(r.Probe().Abs2())); err != nil {
		return nil, err
	}
	return viewer, nil
}

func saveImages(w io.Writer, viewer *visualization.Viewer, dir string) error {
	paths, err := viewer.SaveSliceSequence(dir)
	if err != nil {
		return fmt.Errorf("error saving images: %w", err)
	}
	fmt.Fprintln(w, "Images saved:")
	for _, p := range paths {
		fmt.Fprintf(w, "- %s\n", p)
	}
	return nil
}

func progressPrinter(w io.Writer) func(reconstruction.Progress) {
	return func(p reconstruction.Progress) {
		fmt.Fprintf(w, "\rIteration %d/%d  error %.6g  elapsed %s   ",
			p.Iteration+1, p.MaxIter, p.Error, p.Elapsed.Round(time.Millisecond))
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newLogger builds a text or JSON slog logger at the given level.
func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", format)
	}
}
