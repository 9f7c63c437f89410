package motion

import (
	"context"

	"github.com/cjeanneret/energyctl/internal/hw/device"
	"github.com/cjeanneret/energyctl/internal/logic/energy"
	"github.com/cjeanneret/energyctl/internal/logic/lifecycle"
)

// Snapshot is the controller's cached view of the beamline.
type Snapshot struct {
	Status     lifecycle.Status `json:"status,omitempty"`
	Phase      lifecycle.Phase  `json:"phase"`
	Busy       bool             `json:"busy"`
	MoveID     string           `json:"move_id,omitempty"`
	Energy     *float64         `json:"energy,omitempty"`
	Wavelength *float64         `json:"wavelength,omitempty"`
	Backlash   bool             `json:"backlash"`
	// DeviceState is the last raw state the primary reported.
	DeviceState string `json:"device_state,omitempty"`
}

// Diagnostics is a live read of both actuators. A value a device could not
// report is left nil and its error is kept in Errors under the same key.
type Diagnostics struct {
	CanMove    bool              `json:"can_move"`
	State      string            `json:"state,omitempty"`
	Position   *float64          `json:"position,omitempty"`
	Wavelength *float64          `json:"wavelength,omitempty"`
	Gap        *float64          `json:"gap,omitempty"`
	GapEnergy  *float64          `json:"gap_energy,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Phase:    c.life.Phase(),
		Busy:     c.busy,
		MoveID:   c.moveID,
		Backlash: c.backlashOn,
	}
	if c.hasStatus {
		s.Status = c.status
	}
	if st, ok := c.life.LastState(); ok {
		s.DeviceState = st.String()
	}
	if c.hasEnergy {
		e := c.energy
		s.Energy = &e
	}
	if c.hasWave {
		w := c.wavelength
		s.Wavelength = &w
	}
	return s
}

// Limits returns the primary actuator's energy range.
func (c *Controller) Limits(ctx context.Context) (energy.Limits, error) {
	return c.limits.EnergyLimits(ctx)
}

// WavelengthLimits returns the wavelength range (bounds inverted).
func (c *Controller) WavelengthLimits(ctx context.Context) (energy.Limits, error) {
	return c.limits.WavelengthLimits(ctx)
}

func (c *Controller) CanMoveEnergy() bool { return true }

func (c *Controller) CurrentEnergy(ctx context.Context) (float64, error) {
	return c.mono.Energy(ctx)
}

// Position is the coordinator's position: the primary actuator's energy.
func (c *Controller) Position(ctx context.Context) (float64, error) {
	return c.CurrentEnergy(ctx)
}

func (c *Controller) CurrentWavelength(ctx context.Context) (float64, error) {
	return c.mono.Wavelength(ctx)
}

// State returns the raw state of the primary actuator.
func (c *Controller) State(ctx context.Context) (device.State, error) {
	return c.mono.State(ctx)
}

func (c *Controller) UndulatorGap(ctx context.Context) (float64, error) {
	return c.und.Gap(ctx)
}

// EnergyFromGap returns the energy matching the current undulator gap.
func (c *Controller) EnergyFromGap(ctx context.Context) (float64, error) {
	return c.und.Energy(ctx)
}

// Diagnostics reads every query once. It never fails as a whole.
func (c *Controller) Diagnostics(ctx context.Context) Diagnostics {
	d := Diagnostics{CanMove: c.CanMoveEnergy()}
	fail := func(key string, err error) {
		if d.Errors == nil {
			d.Errors = make(map[string]string)
		}
		d.Errors[key] = err.Error()
	}
	read := func(key string, fn func(context.Context) (float64, error)) *float64 {
		v, err := fn(ctx)
		if err != nil {
			fail(key, err)
			return nil
		}
		return &v
	}
	if st, err := c.State(ctx); err != nil {
		fail("state", err)
	} else {
		d.State = st.String()
	}
	d.Position = read("position", c.Position)
	d.Wavelength = read("wavelength", c.CurrentWavelength)
	d.Gap = read("gap", c.UndulatorGap)
	d.GapEnergy = read("gap_energy", c.EnergyFromGap)
	return d
}
