package energy

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrConversionUnavailable is returned when the primary actuator cannot
// perform an energy/wavelength conversion.
var ErrConversionUnavailable = errors.New("energy/wavelength conversion unavailable")

// Simulator performs conversions using the actuator's own calibration.
type Simulator interface {
	SimulateEnergy(ctx context.Context, e float64) (float64, error)
	SimulateWavelength(ctx context.Context, w float64) (float64, error)
}

// Converter converts between energy and wavelength by round-tripping
// through the primary actuator. Round trips are serialized because the
// device holds a single pair of simulation attributes.
type Converter struct {
	mu  sync.Mutex
	sim Simulator
}

// NewConverter creates a converter backed by sim.
func NewConverter(sim Simulator) *Converter {
	return &Converter{sim: sim}
}

// ToWavelength returns the wavelength matching energy e.
func (c *Converter) ToWavelength(ctx context.Context, e float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, err := c.sim.SimulateEnergy(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("%w: energy %g: %w", ErrConversionUnavailable, e, err)
	}
	return w, nil
}

// ToEnergy returns the energy matching wavelength w.
func (c *Converter) ToEnergy(ctx context.Context, w float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.sim.SimulateWavelength(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("%w: wavelength %g: %w", ErrConversionUnavailable, w, err)
	}
	return e, nil
}
