package ptycho

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfig marks configuration errors. They are raised before any array work
// and are not recoverable within a run.
var ErrConfig = errors.New("invalid reconstruction configuration")

// ProjectionParams are the (a, b, c) coefficients of the generalised
// projection update E ← (1-a-b)·E + a·overlap + b·P_A(c·overlap + (1-c)·E).
type ProjectionParams struct {
	A, B, C float64
}

// Method is a resolved reconstruction algorithm.
type Method struct {
	// Name is the canonical algorithm name.
	Name string

	// Parameter is the scalar parameter (α, β or γ) when the method has one.
	Parameter float64

	// Projection is true for the projection-set family, which carries exit
	// wave state between iterations.
	Projection bool

	// Params holds the projection coefficients when Projection is true.
	Params ProjectionParams
}

// Canonical method names.
const (
	MethodGD                    = "GD"
	MethodDMAP                  = "DM_AP"
	MethodRAAR                  = "RAAR"
	MethodRRR                   = "RRR"
	MethodSuperflip             = "SUPERFLIP"
	MethodGeneralizedProjection = "generalized-projection"
)

var methodAliases = map[string]string{
	"gd":                                     MethodGD,
	"gradient-descent":                       MethodGD,
	"gradient_descent":                       MethodGD,
	"dm_ap":                                  MethodDMAP,
	"difference-map_alternating-projections": MethodDMAP,
	"raar":                                   MethodRAAR,
	"relaxed-averaged-alternating-reflections": MethodRAAR,
	"rrr":                    MethodRRR,
	"relax-reflect-reflect":  MethodRRR,
	"superflip":              MethodSuperflip,
	"charge-flipping":        MethodSuperflip,
	"generalized-projection": MethodGeneralizedProjection,
}

// ResolveMethod maps a method name and its parameter onto projection
// coefficients.
//
//	DM_AP(α), α∈[0,1]:  a = -α,    b = 1, c = 1+α
//	RAAR(β), β∈[0,1]:   a = 1-2β,  b = β, c = 2
//	RRR(γ), γ∈[0,2]:    a = -γ,    b = γ, c = 2
//	SUPERFLIP:          a = 0,     b = 1, c = 2
//	generalized-projection: a, b, c given as a three-element parameter
//
// DM_AP, RAAR and RRR read parameter[0]; an empty parameter defaults to 1.
// GD ignores the parameter.
func ResolveMethod(name string, parameter []float64) (Method, error) {
	canonical, ok := methodAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Method{}, fmt.Errorf("%w: reconstruction method must be one of 'DM_AP' (or "+
			"'difference-map_alternating-projections'), 'RAAR' (or "+
			"'relaxed-averaged-alternating-reflections'), 'RRR' (or 'relax-reflect-reflect'), "+
			"'SUPERFLIP' (or 'charge-flipping'), 'generalized-projection', or 'GD' (or "+
			"'gradient-descent'), not %q", ErrConfig, name)
	}

	scalar := func(lo, hi float64) (float64, error) {
		if len(parameter) > 1 {
			return 0, fmt.Errorf("%w: %s takes a single reconstruction parameter, got %d",
				ErrConfig, canonical, len(parameter))
		}
		v := 1.0
		if len(parameter) == 1 {
			v = parameter[0]
		}
		if v < lo || v > hi {
			return 0, fmt.Errorf("%w: reconstruction parameter for %s must be between %g-%g, got %g",
				ErrConfig, canonical, lo, hi, v)
		}
		return v, nil
	}

	m := Method{Name: canonical}
	switch canonical {
	case MethodGD:
		return m, nil

	case MethodDMAP:
		alpha, err := scalar(0, 1)
		if err != nil {
			return Method{}, err
		}
		m.Parameter = alpha
		m.Params = ProjectionParams{A: -alpha, B: 1, C: 1 + alpha}

	case MethodRAAR:
		beta, err := scalar(0, 1)
		if err != nil {
			return Method{}, err
		}
		m.Parameter = beta
		m.Params = ProjectionParams{A: 1 - 2*beta, B: beta, C: 2}

	case MethodRRR:
		gamma, err := scalar(0, 2)
		if err != nil {
			return Method{}, err
		}
		m.Parameter = gamma
		m.Params = ProjectionParams{A: -gamma, B: gamma, C: 2}

	case MethodSuperflip:
		m.Params = ProjectionParams{A: 0, B: 1, C: 2}

	case MethodGeneralizedProjection:
		if len(parameter) != 3 {
			return Method{}, fmt.Errorf("%w: reconstruction parameter must be a list of three numbers "+
				"when using generalized-projection, got %d", ErrConfig, len(parameter))
		}
		m.Params = ProjectionParams{A: parameter[0], B: parameter[1], C: parameter[2]}
	}

	m.Projection = true
	return m, nil
}

// Strategy returns the Fourier projection and adjoint pair for the method.
// stepSize only applies to gradient descent.
func (m Method) Strategy(stepSize float64) Strategy {
	if m.Projection {
		return &ProjectionSets{Params: m.Params}
	}
	return &GradientDescent{StepSize: stepSize}
}
