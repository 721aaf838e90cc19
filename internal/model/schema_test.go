package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matisse-tools/diskfit/internal/units"
)

func testSchema() *Schema {
	return &Schema{Components: []ComponentSpec{
		DeltaSpec{Name: "star"},
		RingSpec{
			Name:              "disk",
			AxisRatio:         FreeParam("axis_ratio", 1, 3, units.One),
			PosAngle:          FreeParam("pos_angle", 0, 180, units.Degree),
			InnerRadius:       FreeParam("rin", 1, 10, units.Mas),
			OuterRadius:       FixedParam("rout", 8, units.Mas),
			TempExponent:      FixedParam("q", 0.5, units.One),
			DepthExponent:     FreeParam("p", 0, 1, units.One),
			InnerOpticalDepth: FreeParam("tau_in", 0, 1, units.One),
		},
	}}
}

func TestSchemaFreeParameterOrder(t *testing.T) {
	s := testSchema()
	require.NoError(t, s.Validate())

	free := s.FreeParameters()
	names := make([]string, len(free))
	for i, p := range free {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"axis_ratio", "pos_angle", "rin", "p", "tau_in"}, names)
	assert.Equal(t, 5, s.Dim())
}

func TestSchemaPriors(t *testing.T) {
	s := testSchema()
	priors := s.Priors()
	require.Len(t, priors, 5)
	assert.Equal(t, [2]float64{1, 3}, priors[0])
	assert.Equal(t, [2]float64{1, 10}, priors[2])
	assert.Equal(t, [2]float64{0, 1}, priors[4])
}

func TestSchemaBuildComponents(t *testing.T) {
	s := testSchema()
	theta := []float64{1.5, 45, 4, 0.5, 0.8}

	components, err := s.BuildComponents(theta)
	require.NoError(t, err)
	require.Len(t, components, 2)

	_, ok := components[0].(*Delta)
	require.True(t, ok, "first component should be the star")

	ring, ok := components[1].(*Ring)
	require.True(t, ok, "second component should be the ring")
	assert.Equal(t, 1.5, ring.AxisRatio)
	assert.Equal(t, 45.0, ring.PosAngle)
	rin, err := ring.InnerRadius.In(units.Mas)
	require.NoError(t, err)
	assert.Equal(t, 4.0, rin)
	rout, err := ring.OuterRadius.In(units.Mas)
	require.NoError(t, err)
	assert.Equal(t, 8.0, rout, "fixed parameter keeps its declared value")
	assert.Equal(t, 0.5, ring.TempExponent)
	assert.Equal(t, 0.5, ring.DepthExponent)
	assert.Equal(t, 0.8, ring.InnerOpticalDepth)
}

func TestSchemaBuildRejectsWrongLength(t *testing.T) {
	s := testSchema()
	_, err := s.BuildComponents([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestSchemaValidateRejectsEmptyBounds(t *testing.T) {
	s := &Schema{Components: []ComponentSpec{
		GaussianSpec{
			Name: "halo",
			FWHM: FreeParam("fwhm", 5, 5, units.Mas),
			Flux: FixedParam("flux", 1, units.Jansky),
		},
	}}
	err := s.Validate()
	require.ErrorIs(t, err, ErrInvalidSchema)
	assert.Contains(t, err.Error(), "fwhm")
}

func TestSchemaValidateRejectsNoComponents(t *testing.T) {
	s := &Schema{}
	assert.ErrorIs(t, s.Validate(), ErrInvalidSchema)
}

func TestGaussianSpecWithModulation(t *testing.T) {
	s := &Schema{Components: []ComponentSpec{
		GaussianSpec{
			Name: "halo",
			FWHM: FreeParam("fwhm", 1, 20, units.Mas),
			Flux: FreeParam("flux", 0, 10, units.Jansky),
			Mod: &ModulationSpec{
				Amplitude: FreeParam("mod_amp", 0, 1, units.One),
				Angle:     FixedParam("mod_angle", 30, units.Degree),
			},
		},
	}}
	require.NoError(t, s.Validate())
	require.Equal(t, 3, s.Dim())

	components, err := s.BuildComponents([]float64{10, 5, 0.4})
	require.NoError(t, err)
	g, ok := components[0].(*Gaussian)
	require.True(t, ok)
	require.NotNil(t, g.Mod)
	assert.Equal(t, 0.4, g.Mod.Amplitude)
	assert.Equal(t, 30.0, g.Mod.Angle)
	fluxJy, err := g.Flux.In(units.Jansky)
	require.NoError(t, err)
	assert.Equal(t, 5.0, fluxJy)
}

func TestDeltaSpecRejectsFreeValues(t *testing.T) {
	_, err := DeltaSpec{Name: "star"}.Build([]float64{1})
	assert.ErrorIs(t, err, ErrInvalidSchema)
}
