package model

import (
	"fmt"
	"math"

	"github.com/matisse-tools/diskfit/internal/fourier"
	"github.com/matisse-tools/diskfit/internal/grid"
	"github.com/matisse-tools/diskfit/internal/radiative"
	"github.com/matisse-tools/diskfit/internal/units"
)

const fourLn2 = 4 * math.Ln2

// Modulation is an optional first-order azimuthal brightness asymmetry,
// applied to a component image as 1 + Amplitude*cos(polar - Angle) and
// clamped at zero.
type Modulation struct {
	Amplitude float64
	Angle     float64 // degrees
}

// apply modulates the image in place using the grid's polar angles.
func (m *Modulation) apply(img, polarAngle []float64) {
	angleRad := m.Angle * math.Pi / 180
	for k := range img {
		img[k] *= 1 + m.Amplitude*math.Cos(polarAngle[k]-angleRad)
		if img[k] < 0 {
			img[k] = 0
		}
	}
}

// Delta is the unresolved central star. Its image is a single center
// pixel carrying the stellar flux; its visibility is flat, equal to that
// flux at every baseline.
type Delta struct {
	name string
}

// NewDelta returns a point-source component.
func NewDelta(name string) *Delta { return &Delta{name: name} }

func (d *Delta) Name() string { return d.name }

func (d *Delta) flux(ctx *Context, wavelength units.Quantity) (float64, error) {
	f, err := radiative.StellarFlux(wavelength, ctx.EffectiveTemperature, ctx.Distance, ctx.StellarLuminosity)
	if err != nil {
		return 0, err
	}
	return f.In(units.Jansky)
}

func (d *Delta) Image(ctx *Context, wavelength units.Quantity) ([]float64, error) {
	flux, err := d.flux(ctx, wavelength)
	if err != nil {
		return nil, err
	}
	g, err := ctx.ImageGrid(nil)
	if err != nil {
		return nil, err
	}
	img := make([]float64, ctx.PixelCount*ctx.PixelCount)
	img[g.CenterIndex()] = flux
	return img, nil
}

func (d *Delta) Visibility(ctx *Context, uvs []grid.UV, wavelength units.Quantity) ([]complex128, error) {
	flux, err := d.flux(ctx, wavelength)
	if err != nil {
		return nil, err
	}
	vis := make([]complex128, len(uvs))
	for i := range vis {
		vis[i] = complex(flux, 0)
	}
	return vis, nil
}

// Gaussian is a circular Gaussian brightness distribution with a given
// FWHM and total flux. Without modulation its visibility has the analytic
// Fourier-pair closed form; with modulation it falls back to the shared
// numeric synthesis path.
type Gaussian struct {
	name string
	FWHM units.Quantity // angle
	Flux units.Quantity // flux density
	Mod  *Modulation

	cache visCache
}

// NewGaussian returns a Gaussian component.
func NewGaussian(name string, fwhm, flux units.Quantity, mod *Modulation) *Gaussian {
	return &Gaussian{name: name, FWHM: fwhm, Flux: flux, Mod: mod}
}

func (g *Gaussian) Name() string { return g.name }

func (g *Gaussian) Image(ctx *Context, wavelength units.Quantity) ([]float64, error) {
	fwhmMas, err := g.FWHM.In(units.Mas)
	if err != nil {
		return nil, fmt.Errorf("gaussian fwhm: %w", err)
	}
	fluxJy, err := g.Flux.In(units.Jansky)
	if err != nil {
		return nil, fmt.Errorf("gaussian flux: %w", err)
	}
	gr, err := ctx.ImageGrid(nil)
	if err != nil {
		return nil, err
	}

	img := make([]float64, len(gr.Radius))
	var sum float64
	for k, r := range gr.Radius {
		v := math.Exp(-fourLn2 * (r / fwhmMas) * (r / fwhmMas))
		img[k] = v
		sum += v
	}
	if sum == 0 {
		// FWHM far below the pixel scale; nothing to normalize.
		return img, nil
	}
	scale := fluxJy / sum
	for k := range img {
		img[k] *= scale
	}
	if g.Mod != nil {
		g.Mod.apply(img, gr.PolarAngle)
	}
	return img, nil
}

func (g *Gaussian) Visibility(ctx *Context, uvs []grid.UV, wavelength units.Quantity) ([]complex128, error) {
	if g.Mod != nil {
		return g.cache.sample(g, ctx, uvs, wavelength)
	}
	fwhmRad, err := g.FWHM.In(units.Radian)
	if err != nil {
		return nil, fmt.Errorf("gaussian fwhm: %w", err)
	}
	fluxJy, err := g.Flux.In(units.Jansky)
	if err != nil {
		return nil, fmt.Errorf("gaussian flux: %w", err)
	}
	vis := make([]complex128, len(uvs))
	for i, uv := range uvs {
		b := math.Hypot(uv.U, uv.V)
		arg := math.Pi * fwhmRad * b
		vis[i] = complex(fluxJy*math.Exp(-arg*arg/fourLn2), 0)
	}
	return vis, nil
}

// Ring is an inclined annulus whose brightness follows the power-law
// temperature and optical-depth gradients anchored at the sublimation
// temperature. Its visibility has no simple closed form and always goes
// through the Fourier synthesis engine.
type Ring struct {
	name              string
	AxisRatio         float64
	PosAngle          float64        // degrees
	InnerRadius       units.Quantity // angle
	OuterRadius       units.Quantity // angle; zero value means unbounded
	TempExponent      float64        // q
	DepthExponent     float64        // p
	InnerOpticalDepth float64        // tau at the inner radius
	Mod               *Modulation

	cache visCache
}

// RingParams collects the ring constructor arguments.
type RingParams struct {
	AxisRatio         float64
	PosAngle          float64
	InnerRadius       units.Quantity
	OuterRadius       units.Quantity
	TempExponent      float64
	DepthExponent     float64
	InnerOpticalDepth float64
	Mod               *Modulation
}

// NewRing returns a ring component.
func NewRing(name string, p RingParams) *Ring {
	return &Ring{
		name:              name,
		AxisRatio:         p.AxisRatio,
		PosAngle:          p.PosAngle,
		InnerRadius:       p.InnerRadius,
		OuterRadius:       p.OuterRadius,
		TempExponent:      p.TempExponent,
		DepthExponent:     p.DepthExponent,
		InnerOpticalDepth: p.InnerOpticalDepth,
		Mod:               p.Mod,
	}
}

func (r *Ring) Name() string { return r.name }

func (r *Ring) Image(ctx *Context, wavelength units.Quantity) ([]float64, error) {
	incl := &grid.Inclination{AxisRatio: r.AxisRatio, PosAngle: r.PosAngle}
	g, err := ctx.ImageGrid(incl)
	if err != nil {
		return nil, err
	}
	rinMas, err := r.InnerRadius.In(units.Mas)
	if err != nil {
		return nil, fmt.Errorf("ring inner radius: %w", err)
	}
	if rinMas <= 0 {
		return nil, fmt.Errorf("%w: ring inner radius %g mas must be positive", grid.ErrInvalidParameter, rinMas)
	}
	routMas, err := r.OuterRadius.In(units.Mas)
	if err != nil {
		return nil, fmt.Errorf("ring outer radius: %w", err)
	}

	radius := units.NewSlice(g.Radius, units.Mas)
	temperature, err := radiative.TemperatureGradient(radius, r.TempExponent, r.InnerRadius, ctx.SublimationTemperature)
	if err != nil {
		return nil, err
	}
	depth, err := radiative.OpticalDepthGradient(radius, r.DepthExponent, r.InnerRadius, r.InnerOpticalDepth)
	if err != nil {
		return nil, err
	}
	flux, err := radiative.FluxPerPixel(wavelength, temperature, depth, ctx.PixelScale())
	if err != nil {
		return nil, err
	}
	img, err := flux.SliceIn(units.Jansky)
	if err != nil {
		return nil, err
	}

	for k, rad := range g.Radius {
		if rad < rinMas || (routMas > 0 && rad > routMas) {
			img[k] = 0
		}
	}
	if r.Mod != nil {
		r.Mod.apply(img, g.PolarAngle)
	}
	return img, nil
}

func (r *Ring) Visibility(ctx *Context, uvs []grid.UV, wavelength units.Quantity) ([]complex128, error) {
	return r.cache.sample(r, ctx, uvs, wavelength)
}

// visCache memoizes one Fourier transform per wavelength for the numeric
// visibility path. Components live inside a single likelihood evaluation
// on one goroutine, so no locking is needed.
type visCache struct {
	wavelengthM float64
	tf          *fourier.Transform
}

func (vc *visCache) sample(c Component, ctx *Context, uvs []grid.UV, wavelength units.Quantity) ([]complex128, error) {
	wlM, err := wavelength.In(units.Meter)
	if err != nil {
		return nil, fmt.Errorf("wavelength: %w", err)
	}
	if vc.tf == nil || vc.wavelengthM != wlM {
		img, err := c.Image(ctx, wavelength)
		if err != nil {
			return nil, err
		}
		tf, err := fourier.Synthesize(img, ctx.PixelCount, ctx.PixelScale(), ctx.Fourier)
		if err != nil {
			return nil, err
		}
		vc.tf, vc.wavelengthM = tf, wlM
	}
	return vc.tf.SampleAt(uvs)
}
