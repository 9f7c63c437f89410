package energy

import (
	"context"
	"errors"
	"fmt"
)

// ErrLimitsUnavailable is returned when limits cannot be resolved.
var ErrLimitsUnavailable = errors.New("limits unavailable")

// Limits is a (min, max) pair.
type Limits struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// RangeReader reads the declared energy range of the primary actuator.
type RangeReader interface {
	EnergyLimits(ctx context.Context) (float64, float64, error)
}

// LimitsProvider derives energy and wavelength limits.
type LimitsProvider struct {
	rng  RangeReader
	conv *Converter
}

// NewLimitsProvider creates a provider reading rng and converting with conv.
func NewLimitsProvider(rng RangeReader, conv *Converter) *LimitsProvider {
	return &LimitsProvider{rng: rng, conv: conv}
}

// EnergyLimits returns the actuator's declared operating range.
func (p *LimitsProvider) EnergyLimits(ctx context.Context) (Limits, error) {
	lo, hi, err := p.rng.EnergyLimits(ctx)
	if err != nil {
		return Limits{}, fmt.Errorf("%w: %w", ErrLimitsUnavailable, err)
	}
	return Limits{Min: lo, Max: hi}, nil
}

// WavelengthLimits returns the wavelength range matching the energy range.
// Wavelength decreases as energy increases, so the bounds swap.
func (p *LimitsProvider) WavelengthLimits(ctx context.Context) (Limits, error) {
	el, err := p.EnergyLimits(ctx)
	if err != nil {
		return Limits{}, err
	}
	return p.WavelengthFor(ctx, el)
}

// WavelengthFor converts an energy range to the matching wavelength range.
// Either both bounds resolve or the call fails.
func (p *LimitsProvider) WavelengthFor(ctx context.Context, el Limits) (Limits, error) {
	lo, err := p.conv.ToWavelength(ctx, el.Max)
	if err != nil {
		return Limits{}, fmt.Errorf("%w: %w", ErrLimitsUnavailable, err)
	}
	hi, err := p.conv.ToWavelength(ctx, el.Min)
	if err != nil {
		return Limits{}, fmt.Errorf("%w: %w", ErrLimitsUnavailable, err)
	}
	return Limits{Min: lo, Max: hi}, nil
}
