// Package fourier synthesizes the complex visibility of a model image:
// the image is zero-padded, transformed with a 2D discrete Fourier
// transform, and sampled at the exact spatial-frequency coordinates of an
// interferometric observation, including closure-phase triangles.
package fourier

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/matisse-tools/diskfit/internal/grid"
	"github.com/matisse-tools/diskfit/internal/units"
)

// ErrSamplingOutOfBounds reports a requested (u,v) coordinate outside the
// synthesized frequency range. Out-of-range samples are never clamped or
// zero-filled; doing so would silently corrupt the likelihood.
var ErrSamplingOutOfBounds = errors.New("fourier: sampling out of bounds")

// Config controls the zero-padding applied before the transform. It is
// threaded explicitly through the synthesis call rather than held in
// shared state.
type Config struct {
	// ZeroPaddingOrder pads the image to dim * 2^order before the
	// transform, trading memory for frequency-domain sampling density.
	ZeroPaddingOrder int
}

// Validate checks the padding order.
func (c Config) Validate() error {
	if c.ZeroPaddingOrder < 0 || c.ZeroPaddingOrder > 8 {
		return fmt.Errorf("fourier: zero padding order %d out of range [0, 8]", c.ZeroPaddingOrder)
	}
	return nil
}

// PaddedDim returns the padded image dimension for the given input
// dimension.
func (c Config) PaddedDim(dim int) int {
	return dim << uint(c.ZeroPaddingOrder)
}

// Transform holds the frequency-domain representation of a synthesized
// image. Coefficients are fftshifted: the zero-frequency bin sits at
// (Dim/2, Dim/2), rows index v and columns index u.
type Transform struct {
	Dim      int
	FreqStep float64 // cycles/rad between adjacent bins
	coeffs   []complex128
}

// Synthesize zero-pads the dim x dim image (flat row-major, Jy per pixel),
// computes its 2D DFT and returns the shifted transform. The frequency
// axis step is 1/(pixelSize * paddedDim) in cycles per radian.
func Synthesize(image []float64, dim int, pixelSize units.Quantity, cfg Config) (*Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dim <= 0 || dim%2 != 0 {
		return nil, fmt.Errorf("fourier: image dimension %d must be positive and even", dim)
	}
	if len(image) != dim*dim {
		return nil, fmt.Errorf("fourier: image length %d does not match dim %d", len(image), dim)
	}
	pxRad, err := pixelSize.In(units.Radian)
	if err != nil {
		return nil, fmt.Errorf("fourier: pixel size: %w", err)
	}
	if pxRad <= 0 {
		return nil, fmt.Errorf("fourier: pixel size %g rad must be positive", pxRad)
	}

	padded := cfg.PaddedDim(dim)
	buf := make([]complex128, padded*padded)
	off := (padded - dim) / 2
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			buf[(i+off)*padded+(j+off)] = complex(image[i*dim+j], 0)
		}
	}

	// Shift the image center to index zero so the transform's phase
	// reference is the image center, transform, then shift zero
	// frequency back to the array center. For even dimensions the two
	// shifts are the same quadrant swap.
	fftshift(buf, padded)
	fft2(buf, padded)
	fftshift(buf, padded)

	return &Transform{
		Dim:      padded,
		FreqStep: 1 / (pxRad * float64(padded)),
		coeffs:   buf,
	}, nil
}

// fft2 computes an in-place unnormalized 2D DFT, rows then columns.
func fft2(a []complex128, n int) {
	fft := fourier.NewCmplxFFT(n)

	for i := 0; i < n; i++ {
		row := a[i*n : (i+1)*n]
		fft.Coefficients(row, row)
	}

	col := make([]complex128, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			col[i] = a[i*n+j]
		}
		fft.Coefficients(col, col)
		for i := 0; i < n; i++ {
			a[i*n+j] = col[i]
		}
	}
}

// fftshift swaps the quadrants of a flat n x n array in place, moving the
// zero-frequency bin between index 0 and index n/2. n must be even.
func fftshift(a []complex128, n int) {
	h := n / 2
	for i := 0; i < h; i++ {
		for j := 0; j < n; j++ {
			jj := (j + h) % n
			a[i*n+j], a[(i+h)*n+jj] = a[(i+h)*n+jj], a[i*n+j]
		}
	}
}

// index maps a frequency coordinate in cycles/rad to the nearest grid
// index along one axis, or an error if it falls outside the grid.
func (t *Transform) index(f float64) (int, error) {
	k := int(math.Round(f/t.FreqStep)) + t.Dim/2
	if k < 0 || k >= t.Dim {
		return 0, fmt.Errorf("%w: %g cycles/rad exceeds grid range ±%g",
			ErrSamplingOutOfBounds, f, float64(t.Dim/2)*t.FreqStep)
	}
	return k, nil
}

// sample returns the complex visibility at a single (u,v) coordinate
// using nearest-index lookup.
func (t *Transform) sample(uv grid.UV) (complex128, error) {
	col, err := t.index(uv.U)
	if err != nil {
		return 0, err
	}
	row, err := t.index(uv.V)
	if err != nil {
		return 0, err
	}
	return t.coeffs[row*t.Dim+col], nil
}

// SampleAt returns the complex visibility at each requested (u,v)
// coordinate. Coordinates must already be expressed in cycles per radian
// (see grid.Frequencies).
func (t *Transform) SampleAt(uvs []grid.UV) ([]complex128, error) {
	out := make([]complex128, len(uvs))
	for i, uv := range uvs {
		v, err := t.sample(uv)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// ClosurePhases samples the three legs of each triangle, forms the
// bispectrum and returns its phase in degrees, wrapped to (-180, 180].
// The third leg closes the triangle as (u1+u2, v1+v2) and therefore
// enters the bispectrum conjugated.
func (t *Transform) ClosurePhases(triangles [][3]grid.UV) ([]float64, error) {
	out := make([]float64, len(triangles))
	for i, tri := range triangles {
		v1, err := t.sample(tri[0])
		if err != nil {
			return nil, fmt.Errorf("triangle %d leg 1: %w", i, err)
		}
		v2, err := t.sample(tri[1])
		if err != nil {
			return nil, fmt.Errorf("triangle %d leg 2: %w", i, err)
		}
		v3, err := t.sample(tri[2])
		if err != nil {
			return nil, fmt.Errorf("triangle %d leg 3: %w", i, err)
		}
		out[i] = BispectrumPhase(v1, v2, v3)
	}
	return out, nil
}

// BispectrumPhase forms the closure phase, in degrees, of three complex
// visibilities sampled on the (leg1, leg2, leg1+leg2) triangle.
func BispectrumPhase(v1, v2, v3 complex128) float64 {
	b := v1 * v2 * cmplx.Conj(v3)
	return WrapDegrees(cmplx.Phase(b) * 180 / math.Pi)
}

// WrapDegrees wraps an angle in degrees to (-180, 180].
func WrapDegrees(deg float64) float64 {
	wrapped := math.Mod(deg, 360)
	if wrapped > 180 {
		wrapped -= 360
	} else if wrapped <= -180 {
		wrapped += 360
	}
	return wrapped
}
