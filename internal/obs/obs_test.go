package obs

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matisse-tools/diskfit/internal/units"
)

func testBundle() *Bundle {
	return &Bundle{
		Wavelengths: []float64{8, 9, 10, 11, 12},
		Vis: [][]float64{
			{1.0, 1.1, 1.2, 1.3, 1.4},
			{0.5, 0.6, 0.7, 0.8, 0.9},
		},
		VisErr: [][]float64{
			{0.1, 0.1, 0.1, 0.1, 0.1},
			{0.05, 0.05, 0.05, 0.05, 0.05},
		},
		Vis2: [][]float64{
			{0.9, 0.8, 0.7, 0.6, 0.5},
			{0.95, 0.9, 0.85, 0.8, 0.75},
		},
		Vis2Err: [][]float64{
			{0.02, 0.02, 0.02, 0.02, 0.02},
			{0.02, 0.02, 0.02, 0.02, 0.02},
		},
		UCoord: []float64{30, -12},
		VCoord: []float64{5, 44},
		ClosurePhase: [][]float64{
			{2, 4, 6, 8, 10},
		},
		ClosurePhaseErr: [][]float64{
			{1, 1, 1, 1, 1},
		},
		U1: []float64{30}, V1: []float64{5},
		U2: []float64{-12}, V2: []float64{44},
		Flux:    []float64{10, 11, 12, 13, 14},
		FluxErr: []float64{1, 1, 1, 1, 1},
	}
}

func TestBundleValidate(t *testing.T) {
	require.NoError(t, testBundle().Validate())

	cases := []struct {
		name string
		mut  func(*Bundle)
	}{
		{"no channels", func(b *Bundle) { b.Wavelengths = nil }},
		{"unsorted wavelengths", func(b *Bundle) { b.Wavelengths = []float64{10, 8, 9, 11, 12} }},
		{"vis row too short", func(b *Bundle) { b.Vis[0] = b.Vis[0][:3] }},
		{"missing baseline coord", func(b *Bundle) { b.UCoord = b.UCoord[:1] }},
		{"vis2 without errors", func(b *Bundle) { b.Vis2Err = nil }},
		{"vis2 row count mismatch", func(b *Bundle) { b.Vis2 = b.Vis2[:1]; b.Vis2Err = b.Vis2Err[:1] }},
		{"closure leg mismatch", func(b *Bundle) { b.U2 = nil }},
		{"flux without errors", func(b *Bundle) { b.FluxErr = nil }},
		{"partial flux", func(b *Bundle) { b.Flux = b.Flux[:2]; b.FluxErr = b.FluxErr[:2] }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := testBundle()
			tc.mut(b)
			assert.ErrorIs(t, b.Validate(), ErrMalformedBundle)
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	b := testBundle()
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, b.Wavelengths, got.Wavelengths)
	assert.Equal(t, b.Vis, got.Vis)
	assert.Equal(t, b.U1, got.U1)
	assert.Equal(t, b.Flux, got.Flux)
}

func TestLoadRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"wavelengths_um": []}`), 0o644))
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMalformedBundle)
}

func TestBaselineUV(t *testing.T) {
	b := testBundle()
	uvs, err := b.BaselineUV(units.New(10, units.Micron))
	require.NoError(t, err)
	require.Len(t, uvs, 2)
	// 30 m at 10 um is 3e6 cycles/rad.
	assert.InDelta(t, 3e6, uvs[0].U, 1)
	assert.InDelta(t, 5e5, uvs[0].V, 1)
}

func TestTriangleUVCloses(t *testing.T) {
	b := testBundle()
	tris, err := b.TriangleUV(units.New(10, units.Micron))
	require.NoError(t, err)
	require.Len(t, tris, 1)
	tri := tris[0]
	assert.InDelta(t, tri[0].U+tri[1].U, tri[2].U, 1e-9)
	assert.InDelta(t, tri[0].V+tri[1].V, tri[2].V, 1e-9)
}

func TestWindowIndices(t *testing.T) {
	b := testBundle()
	assert.Equal(t, []int{1, 2, 3}, b.WindowIndices(10, 2))
	assert.Equal(t, []int{2}, b.WindowIndices(10, 0.5))
	assert.Nil(t, b.WindowIndices(20, 1))
}

func TestExtractWindow(t *testing.T) {
	b := testBundle()
	w, err := b.ExtractWindow(10, 2)
	require.NoError(t, err)

	assert.Equal(t, 10.0, w.WavelengthUm)
	// Mean of channels 9, 10, 11 um.
	assert.InDelta(t, 1.2, w.Vis[0], 1e-12)
	assert.InDelta(t, 0.7, w.Vis[1], 1e-12)
	// Quadrature errors: sqrt(3*0.1^2)/3.
	assert.InDelta(t, math.Sqrt(3*0.01)/3, w.VisErr[0], 1e-12)
	require.True(t, w.HasVis2)
	assert.InDelta(t, 0.7, w.Vis2[0], 1e-12)
	assert.InDelta(t, 0.85, w.Vis2[1], 1e-12)
	assert.InDelta(t, 6.0, w.ClosurePhase[0], 1e-12)
	require.True(t, w.HasFlux)
	assert.InDelta(t, 12.0, w.Flux, 1e-12)
}

func TestExtractWindowOutsideBand(t *testing.T) {
	b := testBundle()
	_, err := b.ExtractWindow(30, 1)
	assert.ErrorIs(t, err, ErrMalformedBundle)
}

func TestExtractWindowWithoutFlux(t *testing.T) {
	b := testBundle()
	b.Flux, b.FluxErr = nil, nil
	b.Vis2, b.Vis2Err = nil, nil
	w, err := b.ExtractWindow(10, 2)
	require.NoError(t, err)
	assert.False(t, w.HasFlux)
	assert.False(t, w.HasVis2)
}

func TestFluxCurveResample(t *testing.T) {
	// Resampling a cubic polynomial with a cubic spline reproduces it
	// closely at interior points.
	f := func(x float64) float64 { return 2 + 0.5*x + 0.01*x*x*x }
	curve := &FluxCurve{}
	for x := 5.0; x <= 15; x += 1 {
		curve.WavelengthsUm = append(curve.WavelengthsUm, x)
		curve.FluxJy = append(curve.FluxJy, f(x))
	}

	targets := []float64{8.5, 10.25, 12.75}
	flux, fluxErr, err := curve.Resample(targets)
	require.NoError(t, err)
	for i, wl := range targets {
		assert.InDelta(t, f(wl), flux[i], 1e-3*f(wl), "at %g um", wl)
		assert.InDelta(t, 0.1*flux[i], fluxErr[i], 1e-12)
	}
}

func TestFluxCurveResampleRejectsExtrapolation(t *testing.T) {
	curve := &FluxCurve{
		WavelengthsUm: []float64{8, 9, 10, 11, 12},
		FluxJy:        []float64{10, 11, 12, 13, 14},
	}
	_, _, err := curve.Resample([]float64{13})
	assert.ErrorIs(t, err, ErrMalformedBundle)
}

func TestFluxCurveResampleNeedsEnoughPoints(t *testing.T) {
	curve := &FluxCurve{
		WavelengthsUm: []float64{8, 10, 12},
		FluxJy:        []float64{10, 12, 14},
	}
	_, _, err := curve.Resample([]float64{9})
	assert.ErrorIs(t, err, ErrMalformedBundle)
}
