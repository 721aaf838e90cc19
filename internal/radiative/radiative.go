// Package radiative implements the stellar and disk radiative-transfer
// profiles: Planck spectral radiance, Stefan-Boltzmann radius/temperature
// balance, power-law temperature and optical-depth gradients, and per-pixel
// blackbody flux.
//
// All functions are pure and operate on dimension-checked quantities.
// Numeric degeneracies (the power-law singularity at r = 0, blackbody
// overflow at T = 0) are clamped to zero rather than propagated as Inf or
// NaN; the likelihood downstream requires finite images.
package radiative

import (
	"fmt"
	"math"

	"github.com/matisse-tools/diskfit/internal/units"
)

// planckNuJyPerSr evaluates the Planck spectral radiance B_nu at the given
// wavelength (m) and temperature (K), in Jy per steradian.
func planckNuJyPerSr(wavelengthM, tempK float64) float64 {
	if tempK <= 0 {
		return 0
	}
	nu := units.SpeedOfLight / wavelengthM
	x := units.PlanckH * nu / (units.BoltzmannK * tempK)
	// exp(x) overflows for cold pixels at short wavelengths; the radiance
	// underflows to zero there anyway.
	if x > 700 {
		return 0
	}
	bnu := 2 * units.PlanckH * nu * nu * nu / (units.SpeedOfLight * units.SpeedOfLight) / math.Expm1(x)
	return bnu / units.JanskySI
}

// stellarRadiusM returns the stellar radius in meters from the
// Stefan-Boltzmann law.
func stellarRadiusM(luminosityW, teffK float64) float64 {
	return math.Sqrt(luminosityW / (4 * math.Pi * units.StefanBoltzmann * math.Pow(teffK, 4)))
}

// StellarFlux computes the flux density of the star at the given
// wavelength: the stellar radius follows from the Stefan-Boltzmann law,
// its angular size from the small-angle relation radius/distance, and the
// flux is pi * theta^2 * B_nu(Teff).
func StellarFlux(wavelength, teff, distance, luminosity units.Quantity) (units.Quantity, error) {
	wlM, err := wavelength.In(units.Meter)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: wavelength: %w", err)
	}
	tK, err := teff.In(units.Kelvin)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: effective temperature: %w", err)
	}
	dM, err := distance.In(units.Meter)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: distance: %w", err)
	}
	lW, err := luminosity.In(units.Watt)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: luminosity: %w", err)
	}

	thetaRad := stellarRadiusM(lW, tK) / dM
	fluxJy := math.Pi * thetaRad * thetaRad * planckNuJyPerSr(wlM, tK)
	return units.New(fluxJy, units.Jansky), nil
}

// InnerRadiusFromTemperature returns the angular radius at which dust
// reaches the given sublimation temperature, from the Stefan-Boltzmann
// balance. Inverse of InnerTemperatureFromRadius.
func InnerRadiusFromTemperature(tsub, distance, luminosity units.Quantity) (units.Quantity, error) {
	tK, err := tsub.In(units.Kelvin)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: sublimation temperature: %w", err)
	}
	dM, err := distance.In(units.Meter)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: distance: %w", err)
	}
	lW, err := luminosity.In(units.Watt)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: luminosity: %w", err)
	}

	radiusM := math.Sqrt(lW / (4 * math.Pi * units.StefanBoltzmann * math.Pow(tK, 4)))
	return units.New(radiusM/dM, units.Radian), nil
}

// InnerTemperatureFromRadius returns the dust temperature at the given
// angular radius from the star. Inverse of InnerRadiusFromTemperature.
func InnerTemperatureFromRadius(innerRadius, distance, luminosity units.Quantity) (units.Quantity, error) {
	rRad, err := innerRadius.In(units.Radian)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: inner radius: %w", err)
	}
	dM, err := distance.In(units.Meter)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: distance: %w", err)
	}
	lW, err := luminosity.In(units.Watt)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: luminosity: %w", err)
	}

	radiusM := rRad * dM
	tK := math.Pow(lW/(4*math.Pi*units.StefanBoltzmann*radiusM*radiusM), 0.25)
	return units.New(tK, units.Kelvin), nil
}

// powerLaw evaluates amplitude * (r/rin)^(-exponent) over the radius
// array, clamping the r = 0 singularity to zero.
func powerLaw(radius []float64, amplitude, rin, exponent float64) []float64 {
	out := make([]float64, len(radius))
	for i, r := range radius {
		if r <= 0 {
			continue
		}
		v := amplitude * math.Pow(r/rin, -exponent)
		if math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		out[i] = v
	}
	return out
}

// TemperatureGradient evaluates the power-law temperature profile
// T(r) = Tin * (r/rin)^(-q) over a radius array. Radius zero maps to
// exactly zero temperature.
func TemperatureGradient(radius units.Quantity, q float64, innerRadius, innerTemp units.Quantity) (units.Quantity, error) {
	rMas, err := radius.SliceIn(units.Mas)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: radius: %w", err)
	}
	rinMas, err := innerRadius.In(units.Mas)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: inner radius: %w", err)
	}
	tinK, err := innerTemp.In(units.Kelvin)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: inner temperature: %w", err)
	}
	return units.NewSlice(powerLaw(rMas, tinK, rinMas, q), units.Kelvin), nil
}

// OpticalDepthGradient evaluates the power-law optical-depth profile
// tau(r) = tauIn * (r/rin)^(-p) with the same zero-clamp policy as the
// temperature gradient.
func OpticalDepthGradient(radius units.Quantity, p float64, innerRadius units.Quantity, tauIn float64) (units.Quantity, error) {
	rMas, err := radius.SliceIn(units.Mas)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: radius: %w", err)
	}
	rinMas, err := innerRadius.In(units.Mas)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: inner radius: %w", err)
	}
	return units.NewSlice(powerLaw(rMas, tauIn, rinMas, p), units.One), nil
}

// FluxPerPixel computes the per-pixel flux density of an optically-thin
// disk element: B_nu(T) times the pixel solid angle times the finite
// optical-depth absorption factor (1 - exp(-tau)). Non-finite entries,
// which arise from zero-temperature pixels, are zeroed.
func FluxPerPixel(wavelength, temperature, opticalDepth, pixelSize units.Quantity) (units.Quantity, error) {
	wlM, err := wavelength.In(units.Meter)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: wavelength: %w", err)
	}
	tK, err := temperature.SliceIn(units.Kelvin)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: temperature: %w", err)
	}
	tau, err := opticalDepth.SliceIn(units.One)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: optical depth: %w", err)
	}
	if len(tK) != len(tau) {
		return units.Quantity{}, fmt.Errorf("radiative: temperature/optical depth length mismatch %d vs %d", len(tK), len(tau))
	}
	pxRad, err := pixelSize.In(units.Radian)
	if err != nil {
		return units.Quantity{}, fmt.Errorf("radiative: pixel size: %w", err)
	}

	omega := pxRad * pxRad // pixel solid angle, sr
	radiance := make([]float64, len(tK))
	absorption := make([]float64, len(tK))
	for i := range radiance {
		f := planckNuJyPerSr(wlM, tK[i]) * omega
		if math.IsNaN(f) || math.IsInf(f, 0) {
			f = 0
		}
		radiance[i] = f
		absorption[i] = -math.Expm1(-tau[i])
	}
	return units.NewSlice(radiance, units.Jansky).Mul(units.NewSlice(absorption, units.One))
}
