// Package grid builds the image-space and frequency-space coordinate grids
// used by the disk model.
//
// Image grids are square, centered on the origin, and stored as flat
// row-major slices (index i*Dim+j) in angular units. Frequency-space
// conversion takes physical (u,v) baseline coordinates in meters to
// spatial frequencies in cycles per radian, applying the same
// inclination transform as the image grid but in the expanding direction,
// consistent with the inverse Fourier relationship.
package grid

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/matisse-tools/diskfit/internal/units"
)

// ErrInvalidParameter reports a malformed inclination or grid argument.
var ErrInvalidParameter = errors.New("grid: invalid parameter")

// Inclination describes the projection of an inclined circular structure
// onto the sky plane.
type Inclination struct {
	AxisRatio float64 // major/minor, must be >= 1
	PosAngle  float64 // degrees east of north, in [0, 180)
}

// Validate checks the inclination constraints.
func (inc Inclination) Validate() error {
	if inc.AxisRatio < 1 {
		return fmt.Errorf("%w: axis ratio %g must be >= 1", ErrInvalidParameter, inc.AxisRatio)
	}
	if inc.PosAngle < 0 || inc.PosAngle >= 180 {
		return fmt.Errorf("%w: position angle %g deg must be in [0, 180)", ErrInvalidParameter, inc.PosAngle)
	}
	return nil
}

// Image holds the Cartesian and polar coordinate arrays of a centered
// square sky-plane grid. Coordinate slices are flat row-major and must be
// treated as read-only by callers; grids may be shared through the cache.
type Image struct {
	Dim        int
	PixelScale float64   // mas per pixel
	X, Y       []float64 // mas
	Radius     []float64 // mas
	PolarAngle []float64 // rad
}

// NewImage builds a grid with the given angular field of view and an even
// pixel count. The axis runs from -Dim/2 to Dim/2 with the positive
// endpoint excluded, which keeps the sample count even for the discrete
// Fourier transform. A non-nil inclination rotates the grid by the
// position angle and compresses the axis orthogonal to the major axis by
// the axis ratio.
func NewImage(fov units.Quantity, pixelCount int, incl *Inclination) (*Image, error) {
	fovMas, err := fov.In(units.Mas)
	if err != nil {
		return nil, err
	}
	if pixelCount <= 0 || pixelCount%2 != 0 {
		return nil, fmt.Errorf("%w: pixel count %d must be positive and even", ErrInvalidParameter, pixelCount)
	}
	if fovMas <= 0 {
		return nil, fmt.Errorf("%w: field of view %g mas must be positive", ErrInvalidParameter, fovMas)
	}
	if incl != nil {
		if err := incl.Validate(); err != nil {
			return nil, err
		}
	}

	n := pixelCount
	scale := fovMas / float64(n)
	axis := make([]float64, n)
	for i := range axis {
		axis[i] = (float64(i) - float64(n)/2) * scale
	}

	g := &Image{
		Dim:        n,
		PixelScale: scale,
		X:          make([]float64, n*n),
		Y:          make([]float64, n*n),
		Radius:     make([]float64, n*n),
		PolarAngle: make([]float64, n*n),
	}

	var sinPA, cosPA, ratio float64
	if incl != nil {
		pa := incl.PosAngle * math.Pi / 180
		sinPA, cosPA = math.Sin(pa), math.Cos(pa)
		ratio = incl.AxisRatio
	}

	for i := 0; i < n; i++ {
		y := axis[i]
		for j := 0; j < n; j++ {
			x := axis[j]
			k := i*n + j
			if incl != nil {
				xr := x*cosPA + y*sinPA
				yr := (-x*sinPA + y*cosPA) / ratio
				g.X[k], g.Y[k] = xr, yr
			} else {
				g.X[k], g.Y[k] = x, y
			}
			// Polar angle argument order matches the modelling
			// convention: angle measured from the y axis.
			g.Radius[k] = math.Hypot(g.X[k], g.Y[k])
			g.PolarAngle[k] = math.Atan2(g.X[k], g.Y[k])
		}
	}
	return g, nil
}

// CenterIndex returns the flat index of the image center pixel.
func (g *Image) CenterIndex() int {
	return (g.Dim/2)*g.Dim + g.Dim/2
}

// UV is a spatial-frequency coordinate in cycles per radian.
type UV struct {
	U, V float64
}

// Frequencies converts physical (u,v) baseline coordinates in meters to
// spatial frequencies in cycles per radian at the given wavelength. A
// non-nil inclination rotates the coordinates by the position angle and
// expands the rotated v axis by the axis ratio.
func Frequencies(uMeters, vMeters []float64, wavelength units.Quantity, incl *Inclination) ([]UV, error) {
	if len(uMeters) != len(vMeters) {
		return nil, fmt.Errorf("%w: u/v length mismatch %d vs %d", ErrInvalidParameter, len(uMeters), len(vMeters))
	}
	wlM, err := wavelength.In(units.Meter)
	if err != nil {
		return nil, err
	}
	if wlM <= 0 {
		return nil, fmt.Errorf("%w: wavelength %g m must be positive", ErrInvalidParameter, wlM)
	}
	if incl != nil {
		if err := incl.Validate(); err != nil {
			return nil, err
		}
	}

	out := make([]UV, len(uMeters))
	var sinPA, cosPA, ratio float64
	if incl != nil {
		pa := incl.PosAngle * math.Pi / 180
		sinPA, cosPA = math.Sin(pa), math.Cos(pa)
		ratio = incl.AxisRatio
	}
	for i := range out {
		u := uMeters[i] / wlM
		v := vMeters[i] / wlM
		if incl != nil {
			ur := u*cosPA + v*sinPA
			vr := (v*cosPA - u*sinPA) * ratio
			u, v = ur, vr
		}
		out[i] = UV{U: u, V: v}
	}
	return out, nil
}

// EffectiveBaselines returns the effective baseline lengths, in cycles
// per radian, seen by an inclined source. Each baseline goes through the
// same rotate-and-stretch transform as Frequencies; the effective length
// is the norm of the transformed coordinate, so the two views of the
// inclination always agree.
func EffectiveBaselines(uMeters, vMeters []float64, wavelength units.Quantity, incl Inclination) ([]float64, error) {
	uvs, err := Frequencies(uMeters, vMeters, wavelength, &incl)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(uvs))
	for i, uv := range uvs {
		out[i] = math.Hypot(uv.U, uv.V)
	}
	return out, nil
}

// cacheKey identifies a grid by its defining geometry.
type cacheKey struct {
	fovMas float64
	dim    int
	incl   Inclination
	hasInc bool
}

// Cache memoizes image grids. Grid construction is deterministic, so a
// cached grid is interchangeable with a fresh one; the cache is safe for
// concurrent use.
type Cache struct {
	mu    sync.RWMutex
	grids map[cacheKey]*Image
}

// NewCache returns an empty grid cache.
func NewCache() *Cache {
	return &Cache{grids: make(map[cacheKey]*Image)}
}

// Image returns the cached grid for the given geometry, building it on
// first use.
func (c *Cache) Image(fov units.Quantity, pixelCount int, incl *Inclination) (*Image, error) {
	fovMas, err := fov.In(units.Mas)
	if err != nil {
		return nil, err
	}
	key := cacheKey{fovMas: fovMas, dim: pixelCount}
	if incl != nil {
		key.incl = *incl
		key.hasInc = true
	}

	c.mu.RLock()
	g, ok := c.grids[key]
	c.mu.RUnlock()
	if ok {
		return g, nil
	}

	g, err = NewImage(fov, pixelCount, incl)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.grids[key] = g
	c.mu.Unlock()
	return g, nil
}
