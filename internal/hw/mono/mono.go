package mono

import (
	"context"
	"fmt"

	"github.com/cjeanneret/energyctl/internal/hw/device"
)

// Attribute and command names exposed by the monochromator energy device.
const (
	AttrEnergy    = "energy"
	AttrState     = "state"
	AttrLambda    = "lambda"
	AttrSimEnergy = "simEnergy"
	AttrSimLambda = "simLambda"
	CmdStop       = "Stop"
)

// Monochromator is the typed adapter over the primary energy actuator.
type Monochromator struct {
	dev device.Proxy
}

// New wraps a device proxy.
func New(dev device.Proxy) *Monochromator {
	return &Monochromator{dev: dev}
}

// Name returns the device identifier.
func (m *Monochromator) Name() string { return m.dev.Name() }

// Energy reads the current energy.
func (m *Monochromator) Energy(ctx context.Context) (float64, error) {
	return device.ReadFloat(ctx, m.dev, AttrEnergy)
}

// SetEnergy commits a new energy setpoint.
func (m *Monochromator) SetEnergy(ctx context.Context, e float64) error {
	return m.dev.Write(ctx, AttrEnergy, e)
}

// State reads the raw device state.
func (m *Monochromator) State(ctx context.Context) (device.State, error) {
	v, err := m.dev.Read(ctx, AttrState)
	if err != nil {
		return device.StateUnknown, err
	}
	return device.StateOf(v)
}

// Stop aborts the current motion.
func (m *Monochromator) Stop(ctx context.Context) error {
	return m.dev.Command(ctx, CmdStop)
}

// EnergyLimits returns the declared energy operating range.
func (m *Monochromator) EnergyLimits(ctx context.Context) (float64, float64, error) {
	return m.dev.Limits(ctx, AttrEnergy)
}

// Wavelength reads the wavelength the device reports for its current energy.
func (m *Monochromator) Wavelength(ctx context.Context) (float64, error) {
	return device.ReadFloat(ctx, m.dev, AttrLambda)
}

// SimulateEnergy asks the device for the wavelength matching e without
// moving. The write and the read form one round trip; callers serialize.
func (m *Monochromator) SimulateEnergy(ctx context.Context, e float64) (float64, error) {
	if err := m.dev.Write(ctx, AttrSimEnergy, e); err != nil {
		return 0, err
	}
	return device.ReadFloat(ctx, m.dev, AttrSimLambda)
}

// SimulateWavelength asks the device for the energy matching w without
// moving.
func (m *Monochromator) SimulateWavelength(ctx context.Context, w float64) (float64, error) {
	if err := m.dev.Write(ctx, AttrSimLambda, w); err != nil {
		return 0, err
	}
	return device.ReadFloat(ctx, m.dev, AttrSimEnergy)
}

// OnEnergy subscribes to energy readings.
func (m *Monochromator) OnEnergy(fn func(device.Value)) (func(), error) {
	cancel, err := m.dev.Subscribe(AttrEnergy, fn)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", m.dev.Name(), AttrEnergy, err)
	}
	return cancel, nil
}

// OnState subscribes to raw state changes.
func (m *Monochromator) OnState(fn func(device.Value)) (func(), error) {
	cancel, err := m.dev.Subscribe(AttrState, fn)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", m.dev.Name(), AttrState, err)
	}
	return cancel, nil
}
