// Package config defines the JSON run configuration: the fixed scene
// geometry, the component declarations with their priors, and the fit and
// sampler settings. A loaded config builds the model context and schema
// directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matisse-tools/diskfit/internal/fit"
	"github.com/matisse-tools/diskfit/internal/fourier"
	"github.com/matisse-tools/diskfit/internal/model"
	"github.com/matisse-tools/diskfit/internal/units"
)

// Param is one component parameter in the JSON config: either a fixed
// value or a [min, max] prior for fitting. Exactly one form must be set.
type Param struct {
	Value *float64 `json:"value,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// toParameter resolves a Param into the schema's typed form.
func (p *Param) toParameter(name string, unit units.Unit) (model.Parameter, error) {
	if p == nil {
		return model.Parameter{}, fmt.Errorf("parameter %q missing", name)
	}
	fixed := p.Value != nil
	free := p.Min != nil && p.Max != nil
	switch {
	case fixed && !free && p.Min == nil && p.Max == nil:
		return model.FixedParam(name, *p.Value, unit), nil
	case free && !fixed:
		return model.FreeParam(name, *p.Min, *p.Max, unit), nil
	default:
		return model.Parameter{}, fmt.Errorf("parameter %q needs either value or min+max", name)
	}
}

// optionalParameter is toParameter with a fixed fallback when the config
// omits the field entirely.
func optionalParameter(p *Param, name string, fallback float64, unit units.Unit) (model.Parameter, error) {
	if p == nil {
		return model.FixedParam(name, fallback, unit), nil
	}
	return p.toParameter(name, unit)
}

// SceneConfig is the fixed physical setup shared by every likelihood
// evaluation.
type SceneConfig struct {
	FieldOfViewMas   float64 `json:"fov_mas"`
	PixelCount       int     `json:"pixel_count"`
	DistancePc       float64 `json:"distance_pc"`
	LuminosityLsun   float64 `json:"luminosity_lsun"`
	TeffK            float64 `json:"teff_k"`
	TsubK            float64 `json:"tsub_k"`
	ZeroPaddingOrder int     `json:"zero_padding_order"`
}

// ComponentConfig declares one model component. Type selects which
// parameter fields apply.
type ComponentConfig struct {
	Type string `json:"type"` // "delta", "gaussian" or "ring"
	Name string `json:"name"`

	// Gaussian.
	FWHMMas *Param `json:"fwhm_mas,omitempty"`
	FluxJy  *Param `json:"flux_jy,omitempty"`

	// Ring.
	AxisRatio *Param `json:"axis_ratio,omitempty"`
	PosAngle  *Param `json:"pos_angle_deg,omitempty"`
	RinMas    *Param `json:"rin_mas,omitempty"`
	RoutMas   *Param `json:"rout_mas,omitempty"`
	TempExp   *Param `json:"q,omitempty"`
	DepthExp  *Param `json:"p,omitempty"`
	TauIn     *Param `json:"tau_in,omitempty"`

	// Optional azimuthal modulation, shared by gaussian and ring.
	ModAmplitude *Param `json:"mod_amplitude,omitempty"`
	ModAngleDeg  *Param `json:"mod_angle_deg,omitempty"`
}

// FitConfig selects the data windows and observables to fit.
type FitConfig struct {
	WavelengthsUm    []float64  `json:"wavelengths_um"`
	WindowUm         float64    `json:"window_um"`
	FitTotalFlux     bool       `json:"fit_total_flux"`
	FitClosurePhases bool       `json:"fit_closure_phases"`
	LnfBounds        [2]float64 `json:"lnf_bounds"`
}

// SamplerConfig tunes the ensemble run. Omitted fields fall back to the
// package defaults.
type SamplerConfig struct {
	Walkers *int     `json:"walkers,omitempty"`
	Steps   *int     `json:"steps,omitempty"`
	Stretch *float64 `json:"stretch,omitempty"`
	Seed    *uint64  `json:"seed,omitempty"`
}

const (
	defaultWalkers = 32
	defaultSteps   = 1000
)

func (c *SamplerConfig) GetWalkers() int {
	if c.Walkers != nil {
		return *c.Walkers
	}
	return defaultWalkers
}

func (c *SamplerConfig) GetSteps() int {
	if c.Steps != nil {
		return *c.Steps
	}
	return defaultSteps
}

func (c *SamplerConfig) GetStretch() float64 {
	if c.Stretch != nil {
		return *c.Stretch
	}
	return 0 // sampler default
}

func (c *SamplerConfig) GetSeed() uint64 {
	if c.Seed != nil {
		return *c.Seed
	}
	return 0
}

// RunConfig is the root configuration document.
type RunConfig struct {
	Scene      SceneConfig       `json:"scene"`
	Components []ComponentConfig `json:"components"`
	Fit        FitConfig         `json:"fit"`
	Sampler    SamplerConfig     `json:"sampler"`
}

// Load reads and validates a run configuration from a JSON file.
func Load(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the scene numbers, component declarations and fit
// selections. Parameter bounds are validated later by the schema.
func (c *RunConfig) Validate() error {
	s := c.Scene
	if s.FieldOfViewMas <= 0 {
		return fmt.Errorf("scene: fov_mas %g must be positive", s.FieldOfViewMas)
	}
	if s.PixelCount <= 0 || s.PixelCount%2 != 0 {
		return fmt.Errorf("scene: pixel_count %d must be positive and even", s.PixelCount)
	}
	if s.DistancePc <= 0 || s.LuminosityLsun <= 0 || s.TeffK <= 0 || s.TsubK <= 0 {
		return fmt.Errorf("scene: distance, luminosity and temperatures must be positive")
	}
	if len(c.Components) == 0 {
		return fmt.Errorf("no components declared")
	}
	for i, comp := range c.Components {
		switch comp.Type {
		case "delta", "gaussian", "ring":
		default:
			return fmt.Errorf("component %d: unknown type %q", i, comp.Type)
		}
		if comp.Name == "" {
			return fmt.Errorf("component %d: missing name", i)
		}
	}
	if len(c.Fit.WavelengthsUm) == 0 {
		return fmt.Errorf("fit: no wavelengths selected")
	}
	if c.Fit.WindowUm < 0 {
		return fmt.Errorf("fit: window_um %g must be non-negative", c.Fit.WindowUm)
	}
	if c.Fit.LnfBounds[0] >= c.Fit.LnfBounds[1] {
		return fmt.Errorf("fit: lnf_bounds [%g, %g] must have min < max", c.Fit.LnfBounds[0], c.Fit.LnfBounds[1])
	}
	return nil
}

// BuildContext constructs the model context from the scene settings.
func (c *RunConfig) BuildContext() (*model.Context, error) {
	s := c.Scene
	return model.NewContext(
		units.New(s.FieldOfViewMas, units.Mas),
		s.PixelCount,
		units.New(s.DistancePc, units.Parsec),
		units.New(s.LuminosityLsun, units.LSun),
		units.New(s.TeffK, units.Kelvin),
		units.New(s.TsubK, units.Kelvin),
		fourier.Config{ZeroPaddingOrder: s.ZeroPaddingOrder},
	)
}

// modulationSpec builds the optional modulation block of a component.
func (comp *ComponentConfig) modulationSpec() (*model.ModulationSpec, error) {
	if comp.ModAmplitude == nil && comp.ModAngleDeg == nil {
		return nil, nil
	}
	amp, err := optionalParameter(comp.ModAmplitude, "mod_amplitude", 0, units.One)
	if err != nil {
		return nil, err
	}
	angle, err := optionalParameter(comp.ModAngleDeg, "mod_angle_deg", 0, units.Degree)
	if err != nil {
		return nil, err
	}
	return &model.ModulationSpec{Amplitude: amp, Angle: angle}, nil
}

// BuildSchema constructs the parameter schema from the component
// declarations.
func (c *RunConfig) BuildSchema() (*model.Schema, error) {
	schema := &model.Schema{}
	for i, comp := range c.Components {
		spec, err := comp.spec()
		if err != nil {
			return nil, fmt.Errorf("component %d (%s): %w", i, comp.Name, err)
		}
		schema.Components = append(schema.Components, spec)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

func (comp *ComponentConfig) spec() (model.ComponentSpec, error) {
	switch comp.Type {
	case "delta":
		return model.DeltaSpec{Name: comp.Name}, nil

	case "gaussian":
		fwhm, err := comp.FWHMMas.toParameter("fwhm", units.Mas)
		if err != nil {
			return nil, err
		}
		flux, err := comp.FluxJy.toParameter("flux", units.Jansky)
		if err != nil {
			return nil, err
		}
		mod, err := comp.modulationSpec()
		if err != nil {
			return nil, err
		}
		return model.GaussianSpec{Name: comp.Name, FWHM: fwhm, Flux: flux, Mod: mod}, nil

	case "ring":
		axisRatio, err := optionalParameter(comp.AxisRatio, "axis_ratio", 1, units.One)
		if err != nil {
			return nil, err
		}
		posAngle, err := optionalParameter(comp.PosAngle, "pos_angle", 0, units.Degree)
		if err != nil {
			return nil, err
		}
		rin, err := comp.RinMas.toParameter("rin", units.Mas)
		if err != nil {
			return nil, err
		}
		rout, err := optionalParameter(comp.RoutMas, "rout", 0, units.Mas)
		if err != nil {
			return nil, err
		}
		q, err := comp.TempExp.toParameter("q", units.One)
		if err != nil {
			return nil, err
		}
		p, err := comp.DepthExp.toParameter("p", units.One)
		if err != nil {
			return nil, err
		}
		tau, err := comp.TauIn.toParameter("tau_in", units.One)
		if err != nil {
			return nil, err
		}
		mod, err := comp.modulationSpec()
		if err != nil {
			return nil, err
		}
		return model.RingSpec{
			Name:              comp.Name,
			AxisRatio:         axisRatio,
			PosAngle:          posAngle,
			InnerRadius:       rin,
			OuterRadius:       rout,
			TempExponent:      q,
			DepthExponent:     p,
			InnerOpticalDepth: tau,
			Mod:               mod,
		}, nil

	default:
		return nil, fmt.Errorf("unknown component type %q", comp.Type)
	}
}

// Flags returns the fit observable selection.
func (c *RunConfig) Flags() fit.Flags {
	return fit.Flags{
		FitTotalFlux:     c.Fit.FitTotalFlux,
		FitClosurePhases: c.Fit.FitClosurePhases,
	}
}

// SamplerSettings returns the resolved ensemble configuration.
func (c *RunConfig) SamplerSettings() fit.Config {
	return fit.Config{
		Walkers: c.Sampler.GetWalkers(),
		Steps:   c.Sampler.GetSteps(),
		Stretch: c.Sampler.GetStretch(),
		Seed:    c.Sampler.GetSeed(),
	}
}
