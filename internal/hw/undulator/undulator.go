package undulator

import (
	"context"

	"github.com/cjeanneret/energyctl/internal/hw/device"
)

// Attribute names exposed by the undulator energy-to-gap device.
const (
	AttrEnergy      = "energy"
	AttrComputedGap = "computedGap"
	AttrGap         = "gap"
	AttrState       = "state"
)

// Undulator is the typed adapter over the secondary actuator.
type Undulator struct {
	dev device.Proxy
}

// New wraps a device proxy.
func New(dev device.Proxy) *Undulator {
	return &Undulator{dev: dev}
}

// Name returns the device identifier.
func (u *Undulator) Name() string { return u.dev.Name() }

// ComputedGap asks the device for the gap matching energy e.
func (u *Undulator) ComputedGap(ctx context.Context, e float64) (float64, error) {
	if err := u.dev.Write(ctx, AttrEnergy, e); err != nil {
		return 0, err
	}
	return device.ReadFloat(ctx, u.dev, AttrComputedGap)
}

// Gap reads the current gap.
func (u *Undulator) Gap(ctx context.Context) (float64, error) {
	return device.ReadFloat(ctx, u.dev, AttrGap)
}

// SetGap starts a gap motion.
func (u *Undulator) SetGap(ctx context.Context, gap float64) error {
	return u.dev.Write(ctx, AttrGap, gap)
}

// Energy reads the energy computed from the current gap.
func (u *Undulator) Energy(ctx context.Context) (float64, error) {
	return device.ReadFloat(ctx, u.dev, AttrEnergy)
}

// State reads the raw device state.
func (u *Undulator) State(ctx context.Context) (device.State, error) {
	v, err := u.dev.Read(ctx, AttrState)
	if err != nil {
		return device.StateUnknown, err
	}
	return device.StateOf(v)
}
