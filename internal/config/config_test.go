package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matisse-tools/diskfit/internal/model"
	"github.com/matisse-tools/diskfit/internal/units"
)

const testConfigJSON = `{
	"scene": {
		"fov_mas": 50,
		"pixel_count": 128,
		"distance_pc": 140,
		"luminosity_lsun": 19,
		"teff_k": 7900,
		"tsub_k": 1500,
		"zero_padding_order": 1
	},
	"components": [
		{"type": "delta", "name": "star"},
		{
			"type": "ring",
			"name": "disk",
			"axis_ratio": {"min": 1, "max": 3},
			"pos_angle_deg": {"min": 0, "max": 180},
			"rin_mas": {"min": 1, "max": 10},
			"rout_mas": {"value": 8},
			"q": {"value": 0.5},
			"p": {"min": 0, "max": 1},
			"tau_in": {"min": 0, "max": 1}
		}
	],
	"fit": {
		"wavelengths_um": [10, 11.5],
		"window_um": 0.4,
		"fit_total_flux": true,
		"fit_closure_phases": true,
		"lnf_bounds": [-10, 1]
	},
	"sampler": {
		"walkers": 24,
		"steps": 500,
		"seed": 7
	}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigJSON))
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Scene.PixelCount)
	assert.Len(t, cfg.Components, 2)
	assert.Equal(t, []float64{10, 11.5}, cfg.Fit.WavelengthsUm)
	assert.Equal(t, 24, cfg.Sampler.GetWalkers())
	assert.Equal(t, 500, cfg.Sampler.GetSteps())
	assert.Equal(t, uint64(7), cfg.Sampler.GetSeed())
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	_, err := Load("run.yaml")
	assert.Error(t, err)
}

func TestSamplerDefaults(t *testing.T) {
	c := SamplerConfig{}
	assert.Equal(t, defaultWalkers, c.GetWalkers())
	assert.Equal(t, defaultSteps, c.GetSteps())
	assert.Zero(t, c.GetStretch())
}

func TestValidateCatchesBadScenes(t *testing.T) {
	base := func() *RunConfig {
		cfg, err := Load(writeConfig(t, testConfigJSON))
		require.NoError(t, err)
		return cfg
	}
	cases := []struct {
		name string
		mut  func(*RunConfig)
	}{
		{"zero fov", func(c *RunConfig) { c.Scene.FieldOfViewMas = 0 }},
		{"odd pixels", func(c *RunConfig) { c.Scene.PixelCount = 127 }},
		{"no components", func(c *RunConfig) { c.Components = nil }},
		{"unknown type", func(c *RunConfig) { c.Components[0].Type = "blob" }},
		{"unnamed component", func(c *RunConfig) { c.Components[0].Name = "" }},
		{"no wavelengths", func(c *RunConfig) { c.Fit.WavelengthsUm = nil }},
		{"inverted lnf bounds", func(c *RunConfig) { c.Fit.LnfBounds = [2]float64{1, -1} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mut(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBuildContext(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigJSON))
	require.NoError(t, err)

	ctx, err := cfg.BuildContext()
	require.NoError(t, err)
	assert.Equal(t, 128, ctx.PixelCount)
	fov, err := ctx.FieldOfView.In(units.Mas)
	require.NoError(t, err)
	assert.Equal(t, 50.0, fov)
}

func TestBuildSchema(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigJSON))
	require.NoError(t, err)

	schema, err := cfg.BuildSchema()
	require.NoError(t, err)
	// Free: axis_ratio, pos_angle, rin, p, tau_in.
	assert.Equal(t, 5, schema.Dim())

	components, err := schema.BuildComponents([]float64{1.5, 45, 4, 0.5, 0.8})
	require.NoError(t, err)
	require.Len(t, components, 2)
	ring, ok := components[1].(*model.Ring)
	require.True(t, ok)
	rout, err := ring.OuterRadius.In(units.Mas)
	require.NoError(t, err)
	assert.Equal(t, 8.0, rout)
}

func TestBuildSchemaRejectsMissingRequiredParam(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigJSON))
	require.NoError(t, err)
	cfg.Components[1].RinMas = nil

	_, err = cfg.BuildSchema()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rin")
}

func TestParamRejectsMixedForm(t *testing.T) {
	v, lo, hi := 1.0, 0.0, 2.0
	p := &Param{Value: &v, Min: &lo, Max: &hi}
	_, err := p.toParameter("x", units.One)
	assert.Error(t, err)

	onlyMin := &Param{Min: &lo}
	_, err = onlyMin.toParameter("x", units.One)
	assert.Error(t, err)
}

func TestGaussianComponentWithModulation(t *testing.T) {
	cfg := &RunConfig{}
	*cfg = RunConfig{
		Scene: SceneConfig{FieldOfViewMas: 50, PixelCount: 64, DistancePc: 140, LuminosityLsun: 19, TeffK: 7900, TsubK: 1500},
		Components: []ComponentConfig{
			{
				Type:         "gaussian",
				Name:         "halo",
				FWHMMas:      &Param{Min: f(1), Max: f(20)},
				FluxJy:       &Param{Value: f(5)},
				ModAmplitude: &Param{Min: f(0), Max: f(1)},
			},
		},
		Fit: FitConfig{WavelengthsUm: []float64{10}, LnfBounds: [2]float64{-10, 1}},
	}
	require.NoError(t, cfg.Validate())

	schema, err := cfg.BuildSchema()
	require.NoError(t, err)
	// Free: fwhm, mod_amplitude; mod_angle defaults to fixed zero.
	assert.Equal(t, 2, schema.Dim())
}

func f(v float64) *float64 { return &v }
