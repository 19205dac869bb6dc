package ptycho

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMethodCoefficients(t *testing.T) {
	tests := []struct {
		name  string
		param []float64
		want  ProjectionParams
	}{
		{"DM_AP", []float64{0.5}, ProjectionParams{A: -0.5, B: 1, C: 1.5}},
		{"RAAR", []float64{0.25}, ProjectionParams{A: 0.5, B: 0.25, C: 2}},
		{"RRR", []float64{1.5}, ProjectionParams{A: -1.5, B: 1.5, C: 2}},
		{"SUPERFLIP", nil, ProjectionParams{A: 0, B: 1, C: 2}},
		{"generalized-projection", []float64{0.1, 0.2, 0.3}, ProjectionParams{A: 0.1, B: 0.2, C: 0.3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ResolveMethod(tt.name, tt.param)
			require.NoError(t, err)
			assert.True(t, m.Projection)
			assert.InDelta(t, tt.want.A, m.Params.A, 1e-12)
			assert.InDelta(t, tt.want.B, m.Params.B, 1e-12)
			assert.InDelta(t, tt.want.C, m.Params.C, 1e-12)
		})
	}
}

func TestResolveMethodUnitParameterCoincides(t *testing.T) {
	want := ProjectionParams{A: -1, B: 1, C: 2}
	for _, name := range []string{"DM_AP", "RAAR", "RRR"} {
		m, err := ResolveMethod(name, []float64{1})
		require.NoError(t, err)
		assert.Equal(t, want, m.Params, name)
	}

	// the parameter defaults to one
	m, err := ResolveMethod("RAAR", nil)
	require.NoError(t, err)
	assert.Equal(t, want, m.Params)
}

func TestResolveMethodAliases(t *testing.T) {
	aliases := map[string]string{
		"gradient-descent":                         MethodGD,
		"gd":                                       MethodGD,
		"difference-map_alternating-projections":   MethodDMAP,
		"relaxed-averaged-alternating-reflections": MethodRAAR,
		"Relax-Reflect-Reflect":                    MethodRRR,
		"charge-flipping":                          MethodSuperflip,
	}
	for alias, canonical := range aliases {
		m, err := ResolveMethod(alias, nil)
		require.NoError(t, err, alias)
		assert.Equal(t, canonical, m.Name)
	}
}

func TestResolveMethodGDIsNotProjection(t *testing.T) {
	m, err := ResolveMethod("GD", []float64{42})
	require.NoError(t, err)
	assert.False(t, m.Projection)
}

func TestResolveMethodErrors(t *testing.T) {
	tests := []struct {
		name  string
		param []float64
	}{
		{"ePIE", nil},
		{"DM_AP", []float64{1.5}},
		{"RAAR", []float64{-0.1}},
		{"RRR", []float64{2.5}},
		{"RRR", []float64{1, 1}},
		{"generalized-projection", []float64{1}},
		{"generalized-projection", nil},
	}
	for _, tt := range tests {
		_, err := ResolveMethod(tt.name, tt.param)
		assert.ErrorIs(t, err, ErrConfig, "%s %v", tt.name, tt.param)
	}
}

func TestParseObjectType(t *testing.T) {
	ot, err := ParseObjectType("Complex")
	require.NoError(t, err)
	assert.Equal(t, Complex, ot)

	ot, err = ParseObjectType("potential")
	require.NoError(t, err)
	assert.Equal(t, Potential, ot)
	assert.Equal(t, "potential", ot.String())

	_, err = ParseObjectType("real")
	assert.ErrorIs(t, err, ErrConfig)
}
