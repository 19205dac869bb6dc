// Package config provides configuration loading and management for ptychorecon.
// It handles loading configuration from YAML files, validates it and converts
// it into reconstruction, preprocessing and simulation options.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ptychorecon/pkg/ptycho"
	"ptychorecon/pkg/reconstruction"
	"ptychorecon/pkg/simulate"
)

// validate is the validator instance for configuration files.
// Initialized in init() with custom validators.
var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("method", validateMethod); err != nil {
		panic(fmt.Sprintf("config: registering method validator: %v", err))
	}
}

// validateMethod accepts every reconstruction method name or alias.
func validateMethod(fl validator.FieldLevel) bool {
	_, err := ptycho.ResolveMethod(fl.Field().String(), nil)
	if err == nil {
		return true
	}
	// generalized-projection needs its triple; the name alone is valid
	return strings.EqualFold(strings.TrimSpace(fl.Field().String()), ptycho.MethodGeneralizedProjection)
}

// Iteration is an iteration threshold. In YAML it is a non-negative integer
// or "never".
type Iteration int

// Never is the threshold that is never reached.
const Never = Iteration(reconstruction.Never)

// UnmarshalYAML accepts integers, "never", "inf" and ".inf".
func (it *Iteration) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "never", "inf", ".inf", "+.inf":
		*it = Never
		return nil
	}
	n, err := strconv.Atoi(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: iteration must be an integer or \"never\", got %q", node.Line, node.Value)
	}
	*it = Iteration(n)
	return nil
}

// MarshalYAML writes Never as "never".
func (it Iteration) MarshalYAML() (interface{}, error) {
	if it == Never {
		return "never", nil
	}
	return int(it), nil
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many goroutines the backend fans frame work over
		NumCores int `yaml:"numCores" validate:"gte=0"`

		// Backend selects the numeric backend: "cpu" or "serial"
		Backend string `yaml:"backend" validate:"oneof=cpu serial"`
	} `yaml:"processing"`

	// Preprocessing parameters
	Preprocess struct {
		ObjectType      string  `yaml:"objectType" validate:"oneof=potential complex"`
		ObjectPaddingPx [2]int  `yaml:"objectPaddingPx"`
		ProbeROIShape   [2]int  `yaml:"probeROIShape"`
		FrameCentering  string  `yaml:"frameCentering" validate:"oneof=none geometric com"`
		ScanRotationDeg float64 `yaml:"scanRotationDeg"`
		ScanTranspose   bool    `yaml:"scanTranspose"`
	} `yaml:"preprocess"`

	// Reconstruction parameters
	Reconstruction struct {
		MaxIter          int       `yaml:"maxIter" validate:"gt=0"`
		Method           string    `yaml:"method" validate:"required,method"`
		Parameter        []float64 `yaml:"parameter,omitempty"`
		StepSize         float64   `yaml:"stepSize" validate:"gt=0"`
		MaxBatchSize     int       `yaml:"maxBatchSize" validate:"gte=0"`
		Seed             int64     `yaml:"seed"`
		NormalizationMin float64   `yaml:"normalizationMin" validate:"gte=0,lte=1"`
		StoreIterations  bool      `yaml:"storeIterations"`

		// Object constraints
		SwitchObjectIter      Iteration `yaml:"switchObjectIter" validate:"gte=0"`
		PurePhaseObjectIter   Iteration `yaml:"purePhaseObjectIter" validate:"gte=0"`
		ObjectPositivity      bool      `yaml:"objectPositivity"`
		ShrinkageRad          float64   `yaml:"shrinkageRad" validate:"gte=0"`
		FixPotentialBaseline  bool      `yaml:"fixPotentialBaseline"`
		GaussianFilterSigma   float64   `yaml:"gaussianFilterSigma" validate:"gte=0"`
		GaussianFilterIter    Iteration `yaml:"gaussianFilterIter" validate:"gte=0"`
		ButterworthFilterIter Iteration `yaml:"butterworthFilterIter" validate:"gte=0"`
		QLowpass              float64   `yaml:"qLowpass" validate:"gte=0"`
		QHighpass             float64   `yaml:"qHighpass" validate:"gte=0"`
		ButterworthOrder      float64   `yaml:"butterworthOrder" validate:"gt=0"`

		// Probe constraints
		FixCoM                                     bool      `yaml:"fixCoM"`
		FixProbeIter                               Iteration `yaml:"fixProbeIter" validate:"gte=0"`
		SymmetrizeProbeIter                        Iteration `yaml:"symmetrizeProbeIter" validate:"gte=0"`
		FixProbeAmplitudeIter                      Iteration `yaml:"fixProbeAmplitudeIter" validate:"gte=0"`
		FixProbeAmplitudeRelativeRadius            float64   `yaml:"fixProbeAmplitudeRelativeRadius" validate:"gt=0"`
		FixProbeAmplitudeRelativeWidth             float64   `yaml:"fixProbeAmplitudeRelativeWidth" validate:"gt=0"`
		FixProbeFourierAmplitudeIter               Iteration `yaml:"fixProbeFourierAmplitudeIter" validate:"gte=0"`
		FixProbeFourierAmplitudeThreshold          float64   `yaml:"fixProbeFourierAmplitudeThreshold" validate:"gt=0,lte=1"`
		ProbeGaussianFilterSigma                   float64   `yaml:"probeGaussianFilterSigma" validate:"gte=0"`
		ProbeGaussianFilterResidualAberrationsIter Iteration `yaml:"probeGaussianFilterResidualAberrationsIter" validate:"gte=0"`
		ProbeGaussianFilterFixAmplitude            bool      `yaml:"probeGaussianFilterFixAmplitude"`

		// Position refinement
		FixPositionsIter           Iteration `yaml:"fixPositionsIter" validate:"gte=0"`
		PositionsStepSize          float64   `yaml:"positionsStepSize" validate:"gt=0"`
		ConstrainPositionDistance  float64   `yaml:"constrainPositionDistance" validate:"gte=0"`
		GlobalAffineTransformation bool      `yaml:"globalAffineTransformation"`
	} `yaml:"reconstruction"`

	// Simulation parameters for synthetic datasets
	Simulation struct {
		ScanShape          [2]int     `yaml:"scanShape"`
		ScanStep           [2]float64 `yaml:"scanStep"`
		FrameShape         [2]int     `yaml:"frameShape"`
		ReciprocalSampling [2]float64 `yaml:"reciprocalSampling"`
		ApertureRadius     float64    `yaml:"apertureRadius" validate:"gt=0"`
		DefocusPhase       float64    `yaml:"defocusPhase"`
		Features           int        `yaml:"features" validate:"gte=0"`
		MaxPhase           float64    `yaml:"maxPhase"`
		Dose               float64    `yaml:"dose" validate:"gte=0"`
		Seed               int64      `yaml:"seed"`
	} `yaml:"simulation"`

	// Output parameters
	Output struct {
		// LogLevel is debug, info, warn or error
		LogLevel string `yaml:"logLevel" validate:"oneof=debug info warn error"`

		// LogFormat selects the slog handler: text or json
		LogFormat string `yaml:"logFormat" validate:"oneof=text json"`

		// MetricsFile, when set, receives the Prometheus metrics of the run
		MetricsFile string `yaml:"metricsFile,omitempty"`

		// ImageDir, when set, receives PNG renderings of the results
		ImageDir string `yaml:"imageDir,omitempty"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Backend = "cpu"

	pre := reconstruction.DefaultPreprocessOptions()
	cfg.Preprocess.ObjectType = pre.ObjectType
	cfg.Preprocess.FrameCentering = pre.FrameCentering

	opts := reconstruction.DefaultOptions()
	r := &cfg.Reconstruction
	r.MaxIter = opts.MaxIter
	r.Method = opts.Method
	r.StepSize = opts.StepSize
	r.NormalizationMin = opts.NormalizationMin
	r.SwitchObjectIter = Iteration(opts.SwitchObjectIter)
	r.ObjectPositivity = opts.ObjectPositivity
	r.FixPotentialBaseline = opts.FixPotentialBaseline
	r.GaussianFilterIter = Iteration(opts.GaussianFilterIter)
	r.ButterworthFilterIter = Iteration(opts.ButterworthFilterIter)
	r.ButterworthOrder = opts.ButterworthOrder
	r.FixCoM = opts.FixCoM
	r.FixProbeAmplitudeRelativeRadius = opts.FixProbeAmplitudeRelativeRadius
	r.FixProbeAmplitudeRelativeWidth = opts.FixProbeAmplitudeRelativeWidth
	r.FixProbeFourierAmplitudeThreshold = opts.FixProbeFourierAmplitudeThreshold
	r.ProbeGaussianFilterResidualAberrationsIter = Iteration(opts.ProbeGaussianFilterResidualAberrationsIter)
	r.ProbeGaussianFilterFixAmplitude = opts.ProbeGaussianFilterFixAmplitude
	r.FixPositionsIter = Iteration(opts.FixPositionsIter)
	r.PositionsStepSize = opts.PositionsStepSize
	r.GlobalAffineTransformation = opts.GlobalAffineTransformation

	sim := simulate.DefaultParams()
	s := &cfg.Simulation
	s.ScanShape = sim.ScanShape
	s.ScanStep = sim.ScanStep
	s.FrameShape = sim.FrameShape
	s.ReciprocalSampling = sim.ReciprocalSampling
	s.ApertureRadius = sim.ApertureRadius
	s.DefocusPhase = sim.DefocusPhase
	s.Features = sim.Features
	s.MaxPhase = sim.MaxPhase
	s.Dose = sim.Dose
	s.Seed = sim.Seed

	cfg.Output.LogLevel = "info"
	cfg.Output.LogFormat = "text"

	return cfg
}

// Validate checks the struct tags and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ptycho.ErrConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ptycho.ErrConfig, err)
	}
	if _, err := ptycho.ResolveMethod(c.Reconstruction.Method, c.Reconstruction.Parameter); err != nil {
		return err
	}
	return nil
}

// ToOptions converts the reconstruction section. Reset is left false; the
// caller decides whether a run continues.
func (c *Config) ToOptions() reconstruction.Options {
	r := c.Reconstruction
	return reconstruction.Options{
		MaxIter:          r.MaxIter,
		Method:           r.Method,
		Parameter:        append([]float64(nil), r.Parameter...),
		StepSize:         r.StepSize,
		MaxBatchSize:     r.MaxBatchSize,
		Seed:             r.Seed,
		NormalizationMin: r.NormalizationMin,
		StoreIterations:  r.StoreIterations,

		SwitchObjectIter:      int(r.SwitchObjectIter),
		PurePhaseObjectIter:   int(r.PurePhaseObjectIter),
		ObjectPositivity:      r.ObjectPositivity,
		ShrinkageRad:          r.ShrinkageRad,
		FixPotentialBaseline:  r.FixPotentialBaseline,
		GaussianFilterSigma:   r.GaussianFilterSigma,
		GaussianFilterIter:    int(r.GaussianFilterIter),
		ButterworthFilterIter: int(r.ButterworthFilterIter),
		QLowpass:              r.QLowpass,
		QHighpass:             r.QHighpass,
		ButterworthOrder:      r.ButterworthOrder,

		FixCoM:                            r.FixCoM,
		FixProbeIter:                      int(r.FixProbeIter),
		SymmetrizeProbeIter:               int(r.SymmetrizeProbeIter),
		FixProbeAmplitudeIter:             int(r.FixProbeAmplitudeIter),
		FixProbeAmplitudeRelativeRadius:   r.FixProbeAmplitudeRelativeRadius,
		FixProbeAmplitudeRelativeWidth:    r.FixProbeAmplitudeRelativeWidth,
		FixProbeFourierAmplitudeIter:      int(r.FixProbeFourierAmplitudeIter),
		FixProbeFourierAmplitudeThreshold: r.FixProbeFourierAmplitudeThreshold,
		ProbeGaussianFilterSigma:          r.ProbeGaussianFilterSigma,

		ProbeGaussianFilterResidualAberrationsIter: int(r.ProbeGaussianFilterResidualAberrationsIter),
		ProbeGaussianFilterFixAmplitude:            r.ProbeGaussianFilterFixAmplitude,

		FixPositionsIter:           int(r.FixPositionsIter),
		PositionsStepSize:          r.PositionsStepSize,
		ConstrainPositionDistance:  r.ConstrainPositionDistance,
		GlobalAffineTransformation: r.GlobalAffineTransformation,
	}
}

// ToPreprocessOptions converts the preprocess section.
func (c *Config) ToPreprocessOptions() reconstruction.PreprocessOptions {
	p := c.Preprocess
	return reconstruction.PreprocessOptions{
		ObjectType:      p.ObjectType,
		ObjectPaddingPx: p.ObjectPaddingPx,
		ProbeROIShape:   p.ProbeROIShape,
		FrameCentering:  p.FrameCentering,
		ScanRotation:    p.ScanRotationDeg * math.Pi / 180,
		ScanTranspose:   p.ScanTranspose,
	}
}

// ToSimulateParams converts the simulation section.
func (c *Config) ToSimulateParams() simulate.Params {
	s := c.Simulation
	return simulate.Params{
		ScanShape:          s.ScanShape,
		ScanStep:           s.ScanStep,
		FrameShape:         s.FrameShape,
		ReciprocalSampling: s.ReciprocalSampling,
		ApertureRadius:     s.ApertureRadius,
		DefocusPhase:       s.DefocusPhase,
		Features:           s.Features,
		MaxPhase:           s.MaxPhase,
		Dose:               s.Dose,
		Seed:               s.Seed,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
