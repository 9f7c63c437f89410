package main

import (
	"fmt"

	"github.com/cjeanneret/energyctl/internal/config"
	"github.com/cjeanneret/energyctl/internal/debug"
	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/hw/device"
	"github.com/cjeanneret/energyctl/internal/hw/mono"
	"github.com/cjeanneret/energyctl/internal/hw/undulator"
	"github.com/cjeanneret/energyctl/internal/logic/backlash"
	"github.com/cjeanneret/energyctl/internal/logic/motion"
)

// beamline owns the two devices and the coordinator driving them.
type beamline struct {
	primary   *device.Sim
	secondary *device.Sim
	ctrl      *motion.Controller
}

// newBeamline selects the device transport and starts a coordinator
// publishing onto bus.
func newBeamline(cfg *config.Config, bus *events.Bus) (*beamline, error) {
	switch cfg.Devices.Transport {
	case config.TransportSim:
	default:
		return nil, fmt.Errorf("unsupported devices.transport: %s", cfg.Devices.Transport)
	}

	debug.Step(1, "Initializing simulated devices")
	s := cfg.Simulation
	primary := mono.NewSimulator(cfg.Devices.Primary, mono.SimConfig{
		Energy:       s.Energy,
		MinEnergy:    s.MinEnergy,
		MaxEnergy:    s.MaxEnergy,
		MoveDuration: cfg.MonoMoveDuration(),
	})
	secondary := undulator.NewSimulator(cfg.Devices.Secondary, undulator.SimConfig{
		Gap:          s.Gap,
		GapOffset:    s.GapOffset,
		GapPerKeV:    s.GapPerKeV,
		MinGap:       s.MinGap,
		MoveDuration: cfg.GapMoveDuration(),
	})
	debug.Value("Primary", cfg.Devices.Primary)
	debug.Value("Secondary", cfg.Devices.Secondary)

	debug.Step(2, "Starting energy coordinator")
	tol := cfg.EnergyTolerance()
	ctrl := motion.NewController(mono.New(primary), undulator.New(secondary), bus, motion.Options{
		Backlash:       cfg.Backlash.Enabled,
		BacklashParams: backlashParams(cfg),
		Tolerance:      &tol,
	})
	if err := ctrl.Start(); err != nil {
		_ = primary.Close()
		_ = secondary.Close()
		return nil, fmt.Errorf("start coordinator: %w", err)
	}
	debug.Value("Backlash compensation", cfg.Backlash.Enabled)
	return &beamline{primary: primary, secondary: secondary, ctrl: ctrl}, nil
}

// Close stops the coordinator and then the devices.
func (b *beamline) Close() {
	b.ctrl.Close()
	_ = b.primary.Close()
	_ = b.secondary.Close()
}

func backlashParams(cfg *config.Config) backlash.Params {
	return backlash.Params{
		Backlash:     cfg.Backlash.DistanceMm,
		GapLimit:     cfg.Backlash.GapLimitMm,
		PollInterval: cfg.PollInterval(),
		Timeout:      cfg.CompensationTimeout(),
		SettleDelay:  cfg.SettleDelay(),
	}
}
