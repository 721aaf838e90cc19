// Package fit evaluates the posterior probability of a disk model against
// interferometric observables and explores it with an affine-invariant
// ensemble sampler.
//
// The parameter vector is the schema's free parameters followed by one
// nuisance parameter, lnf, which inflates the data errors by a fractional
// amount exp(lnf) of the model prediction. Out-of-prior vectors score
// negative infinity rather than erroring; the sampler rejects them without
// touching the model.
package fit

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"github.com/matisse-tools/diskfit/internal/fourier"
	"github.com/matisse-tools/diskfit/internal/grid"
	"github.com/matisse-tools/diskfit/internal/model"
	"github.com/matisse-tools/diskfit/internal/obs"
	"github.com/matisse-tools/diskfit/internal/units"
)

// ErrBadProblem reports a malformed fitting setup.
var ErrBadProblem = errors.New("fit: bad problem")

// Flags selects which observables enter the likelihood. Correlated fluxes
// are always fitted.
type Flags struct {
	FitTotalFlux     bool
	FitClosurePhases bool
}

// window is one spectral window with its precomputed spatial frequencies.
type window struct {
	data       *obs.Window
	wavelength units.Quantity
	uvs        []grid.UV
	triangles  [][3]grid.UV
}

// Problem binds a model schema and context to observed data over a set of
// spectral windows. It is read-only after construction and safe for
// concurrent LogProbability calls.
type Problem struct {
	schema  *model.Schema
	ctx     *model.Context
	windows []window
	flags   Flags
	priors  [][2]float64
}

// NewProblem extracts the spectral windows from the bundle and precomputes
// the spatial-frequency coordinates each likelihood evaluation will
// sample. lnfBounds is the flat prior on the noise-inflation nuisance
// parameter, appended after the schema's free parameters.
func NewProblem(schema *model.Schema, ctx *model.Context, bundle *obs.Bundle, targetsUm []float64, widthUm float64, flags Flags, lnfBounds [2]float64) (*Problem, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Validate(); err != nil {
		return nil, err
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	if len(targetsUm) == 0 {
		return nil, fmt.Errorf("%w: no target wavelengths", ErrBadProblem)
	}
	if lnfBounds[0] >= lnfBounds[1] {
		return nil, fmt.Errorf("%w: lnf bounds [%g, %g] must have min < max", ErrBadProblem, lnfBounds[0], lnfBounds[1])
	}

	p := &Problem{
		schema: schema,
		ctx:    ctx,
		flags:  flags,
		priors: append(schema.Priors(), lnfBounds),
	}
	for _, target := range targetsUm {
		w, err := bundle.ExtractWindow(target, widthUm)
		if err != nil {
			return nil, err
		}
		wl := w.Wavelength()
		uvs, err := bundle.BaselineUV(wl)
		if err != nil {
			return nil, err
		}
		win := window{data: w, wavelength: wl, uvs: uvs}
		if flags.FitClosurePhases {
			win.triangles, err = bundle.TriangleUV(wl)
			if err != nil {
				return nil, err
			}
		}
		p.windows = append(p.windows, win)
	}
	return p, nil
}

// Dim returns the parameter-vector length, including lnf.
func (p *Problem) Dim() int { return len(p.priors) }

// Priors returns the flat prior bounds in vector order, lnf last.
func (p *Problem) Priors() [][2]float64 { return p.priors }

// inPriors reports whether every coordinate lies inside its bounds.
func (p *Problem) inPriors(theta []float64) bool {
	for i, b := range p.priors {
		if theta[i] < b[0] || theta[i] > b[1] {
			return false
		}
	}
	return true
}

// chiSqTerm accumulates one residual into the log-likelihood sum using
// the inflated variance sigma^2 + model^2 * exp(2*lnf).
func chiSqTerm(observed, predicted, sigma, lnf float64) float64 {
	s2 := sigma*sigma + predicted*predicted*math.Exp(2*lnf)
	return (observed-predicted)*(observed-predicted)/s2 + math.Log(s2)
}

// LogProbability evaluates the log posterior at theta. Vectors outside
// the priors return negative infinity with a nil error; model evaluation
// failures return an error.
func (p *Problem) LogProbability(theta []float64) (float64, error) {
	if len(theta) != p.Dim() {
		return 0, fmt.Errorf("%w: vector length %d, want %d", ErrBadProblem, len(theta), p.Dim())
	}
	if !p.inPriors(theta) {
		return math.Inf(-1), nil
	}
	lnf := theta[len(theta)-1]

	components, err := p.schema.BuildComponents(theta[:len(theta)-1])
	if err != nil {
		return 0, err
	}
	m := model.New(p.ctx, components...)

	var ll float64
	for _, win := range p.windows {
		vis, err := m.TotalVisibility(win.uvs, win.wavelength)
		if err != nil {
			return 0, err
		}
		for i, v := range vis {
			ll += chiSqTerm(win.data.Vis[i], cmplx.Abs(v), win.data.VisErr[i], lnf)
		}

		// Squared visibilities are normalized by the zero-frequency
		// amplitude, which for a real non-negative image is the total
		// flux. Fitted whenever the bundle carries them; a model with
		// zero total flux predicts zero so that every data point still
		// counts against it.
		if win.data.HasVis2 {
			total, err := m.TotalFlux(win.wavelength)
			if err != nil {
				return 0, err
			}
			for i, v := range vis {
				var pred float64
				if total > 0 {
					norm := cmplx.Abs(v) / total
					pred = norm * norm
				}
				ll += chiSqTerm(win.data.Vis2[i], pred, win.data.Vis2Err[i], lnf)
			}
		}

		if p.flags.FitClosurePhases {
			phases, err := m.ClosurePhases(win.triangles, win.wavelength)
			if err != nil {
				return 0, err
			}
			for i, ph := range phases {
				resid := fourier.WrapDegrees(win.data.ClosurePhase[i] - ph)
				sigma := win.data.ClosurePhaseErr[i]
				s2 := sigma*sigma + ph*ph*math.Exp(2*lnf)
				ll += resid*resid/s2 + math.Log(s2)
			}
		}

		if p.flags.FitTotalFlux && win.data.HasFlux {
			total, err := m.TotalFlux(win.wavelength)
			if err != nil {
				return 0, err
			}
			ll += chiSqTerm(win.data.Flux, total, win.data.FluxErr, lnf)
		}
	}
	return -0.5 * ll, nil
}

// InitialGuess draws a starting vector from the central half of each
// prior interval, keeping early walkers away from the hard bounds.
func (p *Problem) InitialGuess(rng *rand.Rand) []float64 {
	theta := make([]float64, p.Dim())
	for i, b := range p.priors {
		span := b[1] - b[0]
		theta[i] = b[0] + span*(0.25+0.5*rng.Float64())
	}
	return theta
}
