package model

import (
	"errors"
	"fmt"

	"github.com/matisse-tools/diskfit/internal/units"
)

// ErrInvalidSchema reports a malformed parameter or component declaration.
var ErrInvalidSchema = errors.New("model: invalid schema")

// Parameter is a named scalar owned by exactly one component spec. Free
// parameters carry prior bounds and receive their value from the sampler's
// parameter vector; fixed parameters keep their declared value.
type Parameter struct {
	Name  string
	Unit  units.Unit
	Value float64
	Free  bool
	Min   float64
	Max   float64
}

// FixedParam declares a parameter held constant during fitting.
func FixedParam(name string, value float64, unit units.Unit) Parameter {
	return Parameter{Name: name, Unit: unit, Value: value}
}

// FreeParam declares a parameter optimized within [min, max].
func FreeParam(name string, min, max float64, unit units.Unit) Parameter {
	return Parameter{Name: name, Unit: unit, Free: true, Min: min, Max: max}
}

// Validate checks the bounds invariant: free parameters must declare a
// non-empty prior interval.
func (p Parameter) Validate() error {
	if p.Free && p.Min >= p.Max {
		return fmt.Errorf("%w: free parameter %q needs bounds with min < max, got [%g, %g]",
			ErrInvalidSchema, p.Name, p.Min, p.Max)
	}
	return nil
}

// quantity converts a resolved parameter value to a Quantity in the
// parameter's declared unit.
func (p Parameter) quantity(value float64) units.Quantity {
	return units.New(value, p.Unit)
}

// ComponentSpec declares one component of a model configuration: its
// parameters in a fixed order and how to build the component from the
// free-parameter values assigned by the sampler.
type ComponentSpec interface {
	SpecName() string
	// Parameters returns all declared parameters in vector order.
	Parameters() []Parameter
	// Build constructs the component. free holds one value per free
	// parameter, in the order reported by Parameters.
	Build(free []float64) (Component, error)
}

// cursor walks the free-value slice in parameter declaration order.
type cursor struct {
	free []float64
	i    int
}

func (c *cursor) resolve(p Parameter) float64 {
	if !p.Free {
		return p.Value
	}
	v := c.free[c.i]
	c.i++
	return v
}

func countFree(params []Parameter) int {
	n := 0
	for _, p := range params {
		if p.Free {
			n++
		}
	}
	return n
}

// ModulationSpec declares the optional azimuthal modulation parameters of
// a component.
type ModulationSpec struct {
	Amplitude Parameter // dimensionless
	Angle     Parameter // degrees
}

func (m *ModulationSpec) parameters() []Parameter {
	return []Parameter{m.Amplitude, m.Angle}
}

func (m *ModulationSpec) build(c *cursor) *Modulation {
	return &Modulation{
		Amplitude: c.resolve(m.Amplitude),
		Angle:     c.resolve(m.Angle),
	}
}

// DeltaSpec declares the unresolved central star. It has no parameters of
// its own; the stellar flux follows from the fixed context.
type DeltaSpec struct {
	Name string
}

func (s DeltaSpec) SpecName() string        { return s.Name }
func (s DeltaSpec) Parameters() []Parameter { return nil }

func (s DeltaSpec) Build(free []float64) (Component, error) {
	if len(free) != 0 {
		return nil, fmt.Errorf("%w: delta %q takes no free values, got %d", ErrInvalidSchema, s.Name, len(free))
	}
	return NewDelta(s.Name), nil
}

// GaussianSpec declares a circular Gaussian component.
type GaussianSpec struct {
	Name string
	FWHM Parameter // angle
	Flux Parameter // flux density
	Mod  *ModulationSpec
}

func (s GaussianSpec) SpecName() string { return s.Name }

func (s GaussianSpec) Parameters() []Parameter {
	params := []Parameter{s.FWHM, s.Flux}
	if s.Mod != nil {
		params = append(params, s.Mod.parameters()...)
	}
	return params
}

func (s GaussianSpec) Build(free []float64) (Component, error) {
	if want := countFree(s.Parameters()); len(free) != want {
		return nil, fmt.Errorf("%w: gaussian %q wants %d free values, got %d", ErrInvalidSchema, s.Name, want, len(free))
	}
	c := &cursor{free: free}
	fwhm := s.FWHM.quantity(c.resolve(s.FWHM))
	flux := s.Flux.quantity(c.resolve(s.Flux))
	var mod *Modulation
	if s.Mod != nil {
		mod = s.Mod.build(c)
	}
	return NewGaussian(s.Name, fwhm, flux, mod), nil
}

// RingSpec declares a temperature-gradient ring component.
type RingSpec struct {
	Name              string
	AxisRatio         Parameter // dimensionless, >= 1
	PosAngle          Parameter // degrees in [0, 180)
	InnerRadius       Parameter // angle
	OuterRadius       Parameter // angle; fixed zero means unbounded
	TempExponent      Parameter // q
	DepthExponent     Parameter // p
	InnerOpticalDepth Parameter // tau at the inner radius
	Mod               *ModulationSpec
}

func (s RingSpec) SpecName() string { return s.Name }

func (s RingSpec) Parameters() []Parameter {
	params := []Parameter{
		s.AxisRatio, s.PosAngle, s.InnerRadius, s.OuterRadius,
		s.TempExponent, s.DepthExponent, s.InnerOpticalDepth,
	}
	if s.Mod != nil {
		params = append(params, s.Mod.parameters()...)
	}
	return params
}

func (s RingSpec) Build(free []float64) (Component, error) {
	if want := countFree(s.Parameters()); len(free) != want {
		return nil, fmt.Errorf("%w: ring %q wants %d free values, got %d", ErrInvalidSchema, s.Name, want, len(free))
	}
	c := &cursor{free: free}
	p := RingParams{
		AxisRatio:   c.resolve(s.AxisRatio),
		PosAngle:    c.resolve(s.PosAngle),
		InnerRadius: s.InnerRadius.quantity(c.resolve(s.InnerRadius)),
		OuterRadius: s.OuterRadius.quantity(c.resolve(s.OuterRadius)),
	}
	p.TempExponent = c.resolve(s.TempExponent)
	p.DepthExponent = c.resolve(s.DepthExponent)
	p.InnerOpticalDepth = c.resolve(s.InnerOpticalDepth)
	if s.Mod != nil {
		p.Mod = s.Mod.build(c)
	}
	return NewRing(s.Name, p), nil
}

// Schema is the declared, ordered mapping between the sampler's flat
// parameter vector and the typed component parameters. The vector order
// is the declaration order of free parameters, component by component.
type Schema struct {
	Components []ComponentSpec
}

// Validate checks every declared parameter.
func (s *Schema) Validate() error {
	if len(s.Components) == 0 {
		return fmt.Errorf("%w: no components declared", ErrInvalidSchema)
	}
	for _, cs := range s.Components {
		for _, p := range cs.Parameters() {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("component %q: %w", cs.SpecName(), err)
			}
		}
	}
	return nil
}

// FreeParameters returns the free parameters in vector order.
func (s *Schema) FreeParameters() []Parameter {
	var out []Parameter
	for _, cs := range s.Components {
		for _, p := range cs.Parameters() {
			if p.Free {
				out = append(out, p)
			}
		}
	}
	return out
}

// Priors returns the [lower, upper] bounds of the free parameters in
// vector order.
func (s *Schema) Priors() [][2]float64 {
	free := s.FreeParameters()
	out := make([][2]float64, len(free))
	for i, p := range free {
		out[i] = [2]float64{p.Min, p.Max}
	}
	return out
}

// Dim returns the length of the free-parameter vector.
func (s *Schema) Dim() int { return len(s.FreeParameters()) }

// BuildComponents constructs fresh components from a parameter vector.
func (s *Schema) BuildComponents(theta []float64) ([]Component, error) {
	if len(theta) != s.Dim() {
		return nil, fmt.Errorf("%w: vector length %d, schema has %d free parameters",
			ErrInvalidSchema, len(theta), s.Dim())
	}
	components := make([]Component, 0, len(s.Components))
	offset := 0
	for _, cs := range s.Components {
		n := countFree(cs.Parameters())
		c, err := cs.Build(theta[offset : offset+n])
		if err != nil {
			return nil, err
		}
		components = append(components, c)
		offset += n
	}
	return components, nil
}
