// Package obs holds interferometric observables in memory and prepares
// them for fitting: correlated fluxes and closure phases per baseline and
// wavelength channel, baseline coordinates, and the total flux curve.
//
// Data arrives as a JSON bundle exported from the reduction pipeline.
// All two-dimensional tables are indexed [baseline][wavelength] (or
// [triangle][wavelength] for closure phases).
package obs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/matisse-tools/diskfit/internal/grid"
	"github.com/matisse-tools/diskfit/internal/units"
)

// ErrMalformedBundle reports inconsistent table shapes in a data bundle.
var ErrMalformedBundle = errors.New("obs: malformed bundle")

// fluxErrorFraction is the relative uncertainty assigned to resampled
// total-flux points when the source curve carries no errors of its own.
const fluxErrorFraction = 0.1

// Bundle is one instrument's calibrated observables.
type Bundle struct {
	// Wavelengths of the spectral channels, in microns, ascending.
	Wavelengths []float64 `json:"wavelengths_um"`

	// Correlated flux per baseline and channel, in Jy.
	Vis    [][]float64 `json:"vis"`
	VisErr [][]float64 `json:"vis_err"`
	// Squared visibility per baseline and channel, dimensionless,
	// normalized by the zero-frequency amplitude. Optional; shares the
	// baseline coordinates with Vis.
	Vis2    [][]float64 `json:"vis2,omitempty"`
	Vis2Err [][]float64 `json:"vis2_err,omitempty"`
	// Physical baseline coordinates, in meters, one per Vis row.
	UCoord []float64 `json:"ucoord_m"`
	VCoord []float64 `json:"vcoord_m"`

	// Closure phase per triangle and channel, in degrees.
	ClosurePhase    [][]float64 `json:"t3phi_deg"`
	ClosurePhaseErr [][]float64 `json:"t3phi_err_deg"`
	// First and second triangle legs, in meters; the third leg closes as
	// (U1+U2, V1+V2).
	U1 []float64 `json:"u1coord_m"`
	V1 []float64 `json:"v1coord_m"`
	U2 []float64 `json:"u2coord_m"`
	V2 []float64 `json:"v2coord_m"`

	// Total flux per channel, in Jy. Optional; empty when the instrument
	// delivers no photometry.
	Flux    []float64 `json:"flux_jy,omitempty"`
	FluxErr []float64 `json:"flux_err_jy,omitempty"`
}

// Load reads and validates a JSON bundle from disk.
func Load(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("obs: read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("obs: decode bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks that every table agrees with the channel count and its
// coordinate arrays.
func (b *Bundle) Validate() error {
	nw := len(b.Wavelengths)
	if nw == 0 {
		return fmt.Errorf("%w: no wavelength channels", ErrMalformedBundle)
	}
	if !sort.Float64sAreSorted(b.Wavelengths) {
		return fmt.Errorf("%w: wavelengths not ascending", ErrMalformedBundle)
	}

	if len(b.Vis) != len(b.VisErr) {
		return fmt.Errorf("%w: %d vis rows vs %d error rows", ErrMalformedBundle, len(b.Vis), len(b.VisErr))
	}
	if len(b.UCoord) != len(b.Vis) || len(b.VCoord) != len(b.Vis) {
		return fmt.Errorf("%w: %d vis rows vs %d/%d baseline coordinates",
			ErrMalformedBundle, len(b.Vis), len(b.UCoord), len(b.VCoord))
	}
	for i := range b.Vis {
		if len(b.Vis[i]) != nw || len(b.VisErr[i]) != nw {
			return fmt.Errorf("%w: vis row %d has %d/%d channels, want %d",
				ErrMalformedBundle, i, len(b.Vis[i]), len(b.VisErr[i]), nw)
		}
	}
	if len(b.Vis2) != len(b.Vis2Err) {
		return fmt.Errorf("%w: %d vis2 rows vs %d error rows", ErrMalformedBundle, len(b.Vis2), len(b.Vis2Err))
	}
	if len(b.Vis2) != 0 && len(b.Vis2) != len(b.Vis) {
		return fmt.Errorf("%w: %d vis2 rows, want %d (shared baselines)", ErrMalformedBundle, len(b.Vis2), len(b.Vis))
	}
	for i := range b.Vis2 {
		if len(b.Vis2[i]) != nw || len(b.Vis2Err[i]) != nw {
			return fmt.Errorf("%w: vis2 row %d has %d/%d channels, want %d",
				ErrMalformedBundle, i, len(b.Vis2[i]), len(b.Vis2Err[i]), nw)
		}
	}

	nt := len(b.ClosurePhase)
	if len(b.ClosurePhaseErr) != nt {
		return fmt.Errorf("%w: %d closure rows vs %d error rows", ErrMalformedBundle, nt, len(b.ClosurePhaseErr))
	}
	if len(b.U1) != nt || len(b.V1) != nt || len(b.U2) != nt || len(b.V2) != nt {
		return fmt.Errorf("%w: %d closure rows vs leg coordinates %d/%d/%d/%d",
			ErrMalformedBundle, nt, len(b.U1), len(b.V1), len(b.U2), len(b.V2))
	}
	for i := range b.ClosurePhase {
		if len(b.ClosurePhase[i]) != nw || len(b.ClosurePhaseErr[i]) != nw {
			return fmt.Errorf("%w: closure row %d has %d/%d channels, want %d",
				ErrMalformedBundle, i, len(b.ClosurePhase[i]), len(b.ClosurePhaseErr[i]), nw)
		}
	}

	if len(b.Flux) != len(b.FluxErr) {
		return fmt.Errorf("%w: %d flux points vs %d errors", ErrMalformedBundle, len(b.Flux), len(b.FluxErr))
	}
	if len(b.Flux) != 0 && len(b.Flux) != nw {
		return fmt.Errorf("%w: %d flux points, want %d", ErrMalformedBundle, len(b.Flux), nw)
	}
	return nil
}

// BaselineUV converts the bundle's baseline coordinates to spatial
// frequencies at the given wavelength.
func (b *Bundle) BaselineUV(wavelength units.Quantity) ([]grid.UV, error) {
	return grid.Frequencies(b.UCoord, b.VCoord, wavelength, nil)
}

// TriangleUV converts the closure-triangle legs to spatial frequencies at
// the given wavelength. The third leg of each triangle is the sum of the
// first two.
func (b *Bundle) TriangleUV(wavelength units.Quantity) ([][3]grid.UV, error) {
	leg1, err := grid.Frequencies(b.U1, b.V1, wavelength, nil)
	if err != nil {
		return nil, err
	}
	leg2, err := grid.Frequencies(b.U2, b.V2, wavelength, nil)
	if err != nil {
		return nil, err
	}
	out := make([][3]grid.UV, len(leg1))
	for i := range out {
		out[i] = [3]grid.UV{
			leg1[i],
			leg2[i],
			{U: leg1[i].U + leg2[i].U, V: leg1[i].V + leg2[i].V},
		}
	}
	return out, nil
}

// WindowIndices returns the channel indices whose wavelength falls inside
// [target-width/2, target+width/2], both in microns. An empty result means
// the window misses the covered band.
func (b *Bundle) WindowIndices(targetUm, widthUm float64) []int {
	lo, hi := targetUm-widthUm/2, targetUm+widthUm/2
	var out []int
	for i, wl := range b.Wavelengths {
		if wl >= lo && wl <= hi {
			out = append(out, i)
		}
	}
	return out
}

// averageRows averages each table row over the given channel indices.
// Values combine as a plain mean; errors combine in quadrature divided by
// the sample count.
func averageRows(values, errs [][]float64, idx []int) (mean, meanErr []float64) {
	mean = make([]float64, len(values))
	meanErr = make([]float64, len(values))
	n := float64(len(idx))
	for r := range values {
		var s, se float64
		for _, i := range idx {
			s += values[r][i]
			se += errs[r][i] * errs[r][i]
		}
		mean[r] = s / n
		meanErr[r] = math.Sqrt(se) / n
	}
	return mean, meanErr
}

// Window is the observables of one spectral window, averaged over its
// channels and ready for comparison against a model evaluated at the
// window center.
type Window struct {
	WavelengthUm float64

	Vis    []float64 // per baseline, Jy
	VisErr []float64

	Vis2    []float64 // per baseline, dimensionless; empty without HasVis2
	Vis2Err []float64
	HasVis2 bool

	ClosurePhase    []float64 // per triangle, degrees
	ClosurePhaseErr []float64

	Flux    float64 // total, Jy; zero when HasFlux is false
	FluxErr float64
	HasFlux bool
}

// Wavelength returns the window center as a quantity.
func (w *Window) Wavelength() units.Quantity {
	return units.New(w.WavelengthUm, units.Micron)
}

// ExtractWindow averages the bundle over one spectral window centered on
// targetUm. A zero width selects only the single nearest channel's exact
// matches; callers wanting nearest-channel behavior should pass a width of
// at least the channel spacing.
func (b *Bundle) ExtractWindow(targetUm, widthUm float64) (*Window, error) {
	idx := b.WindowIndices(targetUm, widthUm)
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: window %g±%g um outside covered band [%g, %g]",
			ErrMalformedBundle, targetUm, widthUm/2, b.Wavelengths[0], b.Wavelengths[len(b.Wavelengths)-1])
	}

	w := &Window{WavelengthUm: targetUm}
	w.Vis, w.VisErr = averageRows(b.Vis, b.VisErr, idx)
	if len(b.Vis2) != 0 {
		w.Vis2, w.Vis2Err = averageRows(b.Vis2, b.Vis2Err, idx)
		w.HasVis2 = true
	}
	w.ClosurePhase, w.ClosurePhaseErr = averageRows(b.ClosurePhase, b.ClosurePhaseErr, idx)

	if len(b.Flux) != 0 {
		var s, se float64
		for _, i := range idx {
			s += b.Flux[i]
			se += b.FluxErr[i] * b.FluxErr[i]
		}
		n := float64(len(idx))
		w.Flux = s / n
		w.FluxErr = math.Sqrt(se) / n
		w.HasFlux = true
	}
	return w, nil
}

// FluxCurve is a total-flux spectrum, typically from photometry sampled
// on a coarser wavelength grid than the interferometric channels.
type FluxCurve struct {
	WavelengthsUm []float64
	FluxJy        []float64
}

// Resample interpolates the curve onto target wavelengths with a
// not-a-knot cubic spline and assigns each point a ten percent relative
// error. Targets must lie inside the curve's wavelength range; cubic
// extrapolation diverges quickly outside it.
func (fc *FluxCurve) Resample(targetsUm []float64) (flux, fluxErr []float64, err error) {
	if len(fc.WavelengthsUm) != len(fc.FluxJy) {
		return nil, nil, fmt.Errorf("%w: flux curve has %d wavelengths vs %d fluxes",
			ErrMalformedBundle, len(fc.WavelengthsUm), len(fc.FluxJy))
	}
	if len(fc.WavelengthsUm) < 4 {
		return nil, nil, fmt.Errorf("%w: flux curve needs at least 4 points for cubic resampling, got %d",
			ErrMalformedBundle, len(fc.WavelengthsUm))
	}
	lo, hi := fc.WavelengthsUm[0], fc.WavelengthsUm[len(fc.WavelengthsUm)-1]
	for _, wl := range targetsUm {
		if wl < lo || wl > hi {
			return nil, nil, fmt.Errorf("%w: target wavelength %g um outside curve range [%g, %g]",
				ErrMalformedBundle, wl, lo, hi)
		}
	}

	var spline interp.NotAKnotCubic
	if err := spline.Fit(fc.WavelengthsUm, fc.FluxJy); err != nil {
		return nil, nil, fmt.Errorf("obs: fit flux spline: %w", err)
	}
	flux = make([]float64, len(targetsUm))
	fluxErr = make([]float64, len(targetsUm))
	for i, wl := range targetsUm {
		flux[i] = spline.Predict(wl)
		fluxErr[i] = fluxErrorFraction * math.Abs(flux[i])
	}
	return flux, fluxErr, nil
}
