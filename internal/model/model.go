// Package model implements the parametric disk components (point source,
// Gaussian, temperature-gradient ring), their composition into a single
// sky-plane model, and the schema that maps a flat parameter vector onto
// typed component parameters for the sampler.
//
// A Model and its Components are built fresh for every likelihood
// evaluation and used by a single goroutine; nothing in this package holds
// state across evaluations except the shared read-only grid cache.
package model

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/matisse-tools/diskfit/internal/fourier"
	"github.com/matisse-tools/diskfit/internal/grid"
	"github.com/matisse-tools/diskfit/internal/units"
)

// Context carries the fixed physical configuration shared by all
// components of a model: grid geometry, stellar properties and the
// Fourier synthesis settings.
type Context struct {
	FieldOfView            units.Quantity // angle
	PixelCount             int
	Distance               units.Quantity // length
	StellarLuminosity      units.Quantity // power
	EffectiveTemperature   units.Quantity
	SublimationTemperature units.Quantity
	Fourier                fourier.Config

	grids *grid.Cache
}

// NewContext validates the fixed configuration and returns a context with
// an empty grid cache.
func NewContext(fov units.Quantity, pixelCount int, distance, luminosity, teff, tsub units.Quantity, fcfg fourier.Config) (*Context, error) {
	ctx := &Context{
		FieldOfView:            fov,
		PixelCount:             pixelCount,
		Distance:               distance,
		StellarLuminosity:      luminosity,
		EffectiveTemperature:   teff,
		SublimationTemperature: tsub,
		Fourier:                fcfg,
		grids:                  grid.NewCache(),
	}
	if err := ctx.Validate(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Validate checks dimension tags and grid constraints.
func (c *Context) Validate() error {
	if _, err := c.FieldOfView.In(units.Mas); err != nil {
		return fmt.Errorf("model: field of view: %w", err)
	}
	if c.PixelCount <= 0 || c.PixelCount%2 != 0 {
		return fmt.Errorf("model: pixel count %d must be positive and even", c.PixelCount)
	}
	if _, err := c.Distance.In(units.Parsec); err != nil {
		return fmt.Errorf("model: distance: %w", err)
	}
	if _, err := c.StellarLuminosity.In(units.Watt); err != nil {
		return fmt.Errorf("model: stellar luminosity: %w", err)
	}
	if _, err := c.EffectiveTemperature.In(units.Kelvin); err != nil {
		return fmt.Errorf("model: effective temperature: %w", err)
	}
	if _, err := c.SublimationTemperature.In(units.Kelvin); err != nil {
		return fmt.Errorf("model: sublimation temperature: %w", err)
	}
	if err := c.Fourier.Validate(); err != nil {
		return err
	}
	if c.grids == nil {
		c.grids = grid.NewCache()
	}
	return nil
}

// PixelScale returns the angular size of one pixel.
func (c *Context) PixelScale() units.Quantity {
	fovMas, err := c.FieldOfView.In(units.Mas)
	if err != nil {
		// Validate catches malformed contexts before use.
		return units.New(0, units.Mas)
	}
	return units.New(fovMas/float64(c.PixelCount), units.Mas)
}

// ImageGrid returns the (possibly cached) coordinate grid for the given
// inclination.
func (c *Context) ImageGrid(incl *grid.Inclination) (*grid.Image, error) {
	return c.grids.Image(c.FieldOfView, c.PixelCount, incl)
}

// Component is one disk feature. Every variant can render its image
// contribution on the shared grid and evaluate its complex visibility at
// arbitrary spatial frequencies, either analytically or through the
// shared Fourier synthesis engine.
type Component interface {
	Name() string
	// Image returns the component's flux contribution in Jy per pixel as
	// a flat row-major PixelCount x PixelCount slice.
	Image(ctx *Context, wavelength units.Quantity) ([]float64, error)
	// Visibility returns the component's complex visibility, in Jy, at
	// the given spatial-frequency coordinates (cycles/rad).
	Visibility(ctx *Context, uvs []grid.UV, wavelength units.Quantity) ([]complex128, error)
}

// Model is an ordered set of components evaluated over a shared context.
// Images, visibilities and fluxes combine by linear superposition, which
// holds for incoherent sources sharing one phase center.
type Model struct {
	ctx        *Context
	components []Component
}

// New returns a model over the given context.
func New(ctx *Context, components ...Component) *Model {
	return &Model{ctx: ctx, components: components}
}

// Add appends a component to the model.
func (m *Model) Add(c Component) { m.components = append(m.components, c) }

// Context returns the model's fixed configuration.
func (m *Model) Context() *Context { return m.ctx }

// Components returns the model's components in evaluation order.
func (m *Model) Components() []Component { return m.components }

// TotalImage sums the component images. An empty model yields an all-zero
// image.
func (m *Model) TotalImage(wavelength units.Quantity) ([]float64, error) {
	n := m.ctx.PixelCount
	total := make([]float64, n*n)
	for _, c := range m.components {
		img, err := c.Image(m.ctx, wavelength)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", c.Name(), err)
		}
		floats.Add(total, img)
	}
	return total, nil
}

// TotalFlux sums the per-component image fluxes, in Jy.
func (m *Model) TotalFlux(wavelength units.Quantity) (float64, error) {
	var total float64
	for _, c := range m.components {
		img, err := c.Image(m.ctx, wavelength)
		if err != nil {
			return 0, fmt.Errorf("component %q: %w", c.Name(), err)
		}
		total += floats.Sum(img)
	}
	return total, nil
}

// TotalVisibility sums the component visibilities at the given
// spatial-frequency coordinates. An empty model yields zeros.
func (m *Model) TotalVisibility(uvs []grid.UV, wavelength units.Quantity) ([]complex128, error) {
	total := make([]complex128, len(uvs))
	for _, c := range m.components {
		vis, err := c.Visibility(m.ctx, uvs, wavelength)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", c.Name(), err)
		}
		for k, v := range vis {
			total[k] += v
		}
	}
	return total, nil
}

// ClosurePhases evaluates the model's closure phases, in degrees, on the
// given baseline triangles. The third leg of each triangle must close as
// (u1+u2, v1+v2).
func (m *Model) ClosurePhases(triangles [][3]grid.UV, wavelength units.Quantity) ([]float64, error) {
	legs := make([][]grid.UV, 3)
	for l := 0; l < 3; l++ {
		legs[l] = make([]grid.UV, len(triangles))
		for i, tri := range triangles {
			legs[l][i] = tri[l]
		}
	}
	var vis [3][]complex128
	for l := 0; l < 3; l++ {
		v, err := m.TotalVisibility(legs[l], wavelength)
		if err != nil {
			return nil, err
		}
		vis[l] = v
	}
	phases := make([]float64, len(triangles))
	for i := range triangles {
		phases[i] = fourier.BispectrumPhase(vis[0][i], vis[1][i], vis[2][i])
	}
	return phases, nil
}
