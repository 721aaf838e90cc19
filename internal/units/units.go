// Package units provides dimension-tagged physical quantities and checked
// unit conversion for the modelling pipeline.
//
// Every value entering or leaving the numeric core carries a Dim tag.
// Arithmetic between incompatible dimensions fails with ErrDimensionMismatch;
// conversions are explicit through named Unit values and are never applied
// implicitly. Quantities store their payload in canonical units (rad, m, K,
// Jy, W, cycles/rad) so that round-trips through constructors and accessors
// are exact up to floating-point multiplication.
package units

import (
	"errors"
	"fmt"
	"math"
)

// Dim identifies the physical dimension of a Quantity.
type Dim int

const (
	Dimensionless Dim = iota
	Angle             // canonical: radians
	Length            // canonical: meters
	Temperature       // canonical: kelvin
	FluxDensity       // canonical: jansky
	Power             // canonical: watts
	SpatialFrequency  // canonical: cycles per radian
)

func (d Dim) String() string {
	switch d {
	case Dimensionless:
		return "dimensionless"
	case Angle:
		return "angle"
	case Length:
		return "length"
	case Temperature:
		return "temperature"
	case FluxDensity:
		return "flux density"
	case Power:
		return "power"
	case SpatialFrequency:
		return "spatial frequency"
	default:
		return "unknown"
	}
}

// Physical constants (CODATA 2018) and unit scales.
const (
	PlanckH         = 6.62607015e-34  // J s
	SpeedOfLight    = 2.99792458e8    // m/s
	BoltzmannK      = 1.380649e-23    // J/K
	StefanBoltzmann = 5.670374419e-8  // W m^-2 K^-4
	ParsecMeters    = 3.0856775814913673e16
	SolarLuminosity = 3.828e26        // W, IAU nominal
	JanskySI        = 1e-26           // W m^-2 Hz^-1
	MasPerRad       = 180.0 / math.Pi * 3600.0 * 1000.0
)

// Errors reported by the quantity layer.
var (
	ErrDimensionMismatch = errors.New("units: dimension mismatch")
	ErrNotScalar         = errors.New("units: quantity is not a scalar")
)

// Unit is a named unit belonging to one dimension. The scale converts a
// value expressed in this unit to the dimension's canonical unit.
type Unit struct {
	Name  string
	Dim   Dim
	scale float64
}

var (
	One    = Unit{"", Dimensionless, 1}
	Radian = Unit{"rad", Angle, 1}
	Mas    = Unit{"mas", Angle, 1 / MasPerRad}
	Degree = Unit{"deg", Angle, math.Pi / 180}

	Meter  = Unit{"m", Length, 1}
	Micron = Unit{"um", Length, 1e-6}
	Parsec = Unit{"pc", Length, ParsecMeters}

	Kelvin = Unit{"K", Temperature, 1}
	Jansky = Unit{"Jy", FluxDensity, 1}

	Watt = Unit{"W", Power, 1}
	LSun = Unit{"Lsun", Power, SolarLuminosity}

	CyclesPerRadian = Unit{"cycles/rad", SpatialFrequency, 1}
)

// Quantity is an immutable scalar or array tagged with a physical dimension.
// The zero value is a dimensionless scalar zero.
type Quantity struct {
	values []float64 // nil for scalars
	value  float64
	dim    Dim
}

// New returns a scalar quantity of v expressed in unit u.
func New(v float64, u Unit) Quantity {
	return Quantity{value: v * u.scale, dim: u.Dim}
}

// NewSlice returns an array quantity of vs expressed in unit u.
// The input slice is copied.
func NewSlice(vs []float64, u Unit) Quantity {
	values := make([]float64, len(vs))
	for i, v := range vs {
		values[i] = v * u.scale
	}
	return Quantity{values: values, dim: u.Dim}
}

// Dim returns the quantity's dimension tag.
func (q Quantity) Dim() Dim { return q.dim }

// IsScalar reports whether the quantity holds a single value.
func (q Quantity) IsScalar() bool { return q.values == nil }

// Len returns the number of elements (1 for scalars).
func (q Quantity) Len() int {
	if q.values == nil {
		return 1
	}
	return len(q.values)
}

// In converts a scalar quantity to the requested unit.
func (q Quantity) In(u Unit) (float64, error) {
	if q.dim != u.Dim {
		return 0, fmt.Errorf("%w: have %s, want %s (%s)", ErrDimensionMismatch, q.dim, u.Dim, u.Name)
	}
	if q.values != nil {
		return 0, fmt.Errorf("%w: array of length %d", ErrNotScalar, len(q.values))
	}
	return q.value / u.scale, nil
}

// SliceIn converts the quantity to a freshly allocated slice in the
// requested unit. Scalars convert to a one-element slice.
func (q Quantity) SliceIn(u Unit) ([]float64, error) {
	if q.dim != u.Dim {
		return nil, fmt.Errorf("%w: have %s, want %s (%s)", ErrDimensionMismatch, q.dim, u.Dim, u.Name)
	}
	if q.values == nil {
		return []float64{q.value / u.scale}, nil
	}
	out := make([]float64, len(q.values))
	for i, v := range q.values {
		out[i] = v / u.scale
	}
	return out, nil
}

// canonical returns the payload in canonical units without conversion.
// Callers must treat the returned slice as read-only.
func (q Quantity) canonical() []float64 {
	if q.values == nil {
		return []float64{q.value}
	}
	return q.values
}

// Add returns q + o. Both quantities must share a dimension and, for
// arrays, a length; a scalar broadcasts against an array.
func (q Quantity) Add(o Quantity) (Quantity, error) {
	return q.combine(o, func(a, b float64) float64 { return a + b })
}

// Sub returns q - o under the same rules as Add.
func (q Quantity) Sub(o Quantity) (Quantity, error) {
	return q.combine(o, func(a, b float64) float64 { return a - b })
}

func (q Quantity) combine(o Quantity, op func(a, b float64) float64) (Quantity, error) {
	if q.dim != o.dim {
		return Quantity{}, fmt.Errorf("%w: %s vs %s", ErrDimensionMismatch, q.dim, o.dim)
	}
	if q.values == nil && o.values == nil {
		return Quantity{value: op(q.value, o.value), dim: q.dim}, nil
	}
	a, b := q.canonical(), o.canonical()
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if (q.values != nil && o.values != nil) && len(a) != len(b) {
		return Quantity{}, fmt.Errorf("units: length mismatch %d vs %d", len(a), len(b))
	}
	out := make([]float64, n)
	for i := range out {
		av, bv := a[0], b[0]
		if q.values != nil {
			av = a[i]
		}
		if o.values != nil {
			bv = b[i]
		}
		out[i] = op(av, bv)
	}
	return Quantity{values: out, dim: q.dim}, nil
}

// Scale returns q multiplied by a dimensionless factor.
func (q Quantity) Scale(f float64) Quantity {
	if q.values == nil {
		return Quantity{value: q.value * f, dim: q.dim}
	}
	out := make([]float64, len(q.values))
	for i, v := range q.values {
		out[i] = v * f
	}
	return Quantity{values: out, dim: q.dim}
}

// Mul returns q element-wise multiplied by a dimensionless quantity.
// Multiplying by anything other than a dimensionless quantity is a
// dimension mismatch; dimension-producing products live in the domain
// packages where the result dimension is known.
func (q Quantity) Mul(o Quantity) (Quantity, error) {
	if o.dim != Dimensionless {
		return Quantity{}, fmt.Errorf("%w: multiplier must be dimensionless, got %s", ErrDimensionMismatch, o.dim)
	}
	tagged := Quantity{values: o.values, value: o.value, dim: q.dim}
	return q.combine(tagged, func(a, b float64) float64 { return a * b })
}
