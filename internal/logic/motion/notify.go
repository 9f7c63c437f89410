package motion

import (
	"context"
	"errors"
	"math"

	"github.com/cjeanneret/energyctl/internal/debug"
	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/hw/device"
	"github.com/cjeanneret/energyctl/internal/logic/energy"
	"github.com/cjeanneret/energyctl/internal/logic/lifecycle"
	"github.com/cjeanneret/energyctl/internal/metrics"
)

// handleState processes a state notification from the primary actuator.
func (c *Controller) handleState(v device.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateSeq++
	out, err := c.life.Handle(context.Background(), v)
	if err != nil {
		metrics.RecordNotification("state", "rejected")
		ev := c.logger.Error().Err(err).Str("event", "state.rejected").Interface("raw", v)
		if errors.Is(err, lifecycle.ErrUnmappedState) {
			ev.Msg("state has no status mapping, notification dropped")
			return
		}
		ev.Msg("lifecycle transition failed")
		return
	}
	metrics.RecordNotification("state", "emitted")
	metrics.SetStatus(string(out.Status))

	c.status = out.Status
	c.hasStatus = true
	debug.Live("State %s -> %s (%s)", out.State, out.Status, c.life.Phase())

	if out.Started {
		c.publishLocked(events.MoveStarted{MoveID: c.moveID})
	}
	if out.Finished {
		c.logger.Info().Str("event", "move.finished").Str("move_id", c.moveID).Str("state", out.State.String()).Msg("move finished")
		c.moveID = ""
		c.publishLocked(events.MoveFinished{})
	}
	c.publishLocked(events.StatusChanged{Status: out.Status})
	c.updateReadyLocked()
}

// handleEnergy processes an energy notification from the primary actuator.
// Readings within the tolerance of the last one are dropped, and so are
// readings whose wavelength cannot be resolved.
func (c *Controller) handleEnergy(v device.Value) {
	e, err := device.Float(v)
	if err != nil {
		metrics.RecordNotification("energy", "rejected")
		c.logger.Error().Err(err).Str("event", "energy.rejected").Interface("raw", v).Msg("energy notification is not a number")
		return
	}

	c.mu.Lock()
	if c.hasEnergy && math.Abs(c.energy-e) < c.tolerance {
		c.mu.Unlock()
		metrics.RecordNotification("energy", "suppressed")
		return
	}
	c.energy = e
	c.hasEnergy = true
	c.hasWave = false
	c.mu.Unlock()
	metrics.SetEnergy(e)

	w, err := c.conv.ToWavelength(context.Background(), e)
	if err != nil {
		metrics.RecordNotification("energy", "suppressed")
		c.logger.Warn().Err(err).Str("event", "energy.suppressed").Float64("energy", e).Msg("wavelength unavailable, energy change not reported")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.energy != e {
		// superseded by a newer reading
		return
	}
	c.wavelength = w
	c.hasWave = true
	metrics.RecordNotification("energy", "emitted")
	debug.Live("Energy %.5f keV (%.5f A)", e, w)
	c.publishLocked(events.EnergyChanged{Energy: e, Wavelength: w})
}

// Subscribe registers an observer. The current status and energy are queued
// ahead of any later event. When nothing has been received from the device
// yet, they are read from it directly.
func (c *Controller) Subscribe(ctx context.Context) (<-chan events.Envelope, func()) {
	c.mu.Lock()
	needStatus := !c.hasStatus
	needEnergy := !c.hasWave
	c.mu.Unlock()

	var (
		readStatus lifecycle.Status
		statusOK   bool
		readEnergy float64
		readWave   float64
		energyOK   bool
	)
	if needStatus {
		if st, err := c.mono.State(ctx); err == nil {
			if s, err := lifecycle.StatusOf(st); err == nil {
				readStatus, statusOK = s, true
			}
		}
	}
	if needEnergy {
		if e, err := c.mono.Energy(ctx); err == nil {
			if w, err := c.conv.ToWavelength(ctx, e); err == nil {
				readEnergy, readWave, energyOK = e, w, true
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var replay []events.Event
	switch {
	case c.hasStatus:
		replay = append(replay, events.StatusChanged{Status: c.status})
	case statusOK:
		replay = append(replay, events.StatusChanged{Status: readStatus})
	}
	switch {
	case c.hasWave:
		replay = append(replay, events.EnergyChanged{Energy: c.energy, Wavelength: c.wavelength})
	case energyOK:
		replay = append(replay, events.EnergyChanged{Energy: readEnergy, Wavelength: readWave})
	}
	return c.bus.Subscribe(replay...)
}

// EnergyLimitsChanged publishes new energy limits and the matching
// wavelength limits, or an unavailable marker when they cannot be resolved.
func (c *Controller) EnergyLimitsChanged(ctx context.Context, l energy.Limits) {
	wl, err := c.limits.WavelengthFor(ctx, l)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", "limits.wavelength_unavailable").Msg("wavelength limits unavailable")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(events.EnergyLimitsChanged{Limits: l})
	if err != nil {
		c.publishLocked(events.WavelengthLimitsChanged{})
		return
	}
	c.publishLocked(events.WavelengthLimitsChanged{Limits: &wl})
}
