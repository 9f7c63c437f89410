package mono

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/energyctl/internal/hw/device"
)

// HC is h·c in keV·Å: λ[Å] = HC / E[keV].
const HC = 12.398419843320026

// SimConfig describes a simulated monochromator.
type SimConfig struct {
	Energy       float64 // initial energy (keV)
	MinEnergy    float64
	MaxEnergy    float64
	MoveDuration time.Duration // time spent MOVING per energy write
}

type simulator struct {
	dev *device.Sim
	cfg SimConfig

	mu    sync.Mutex
	timer *time.Timer
}

// NewSimulator returns a simulated monochromator energy device. Energy
// writes report MOVING for cfg.MoveDuration, then the new energy and STANDBY.
// The Stop command interrupts a move in place.
func NewSimulator(name string, cfg SimConfig) *device.Sim {
	s := &simulator{dev: device.NewSim(name), cfg: cfg}

	s.dev.SetLimits(AttrEnergy, cfg.MinEnergy, cfg.MaxEnergy)
	s.dev.Set(AttrEnergy, cfg.Energy)
	s.dev.Set(AttrLambda, HC/cfg.Energy)
	s.dev.Set(AttrState, device.StateStandby.String())

	s.dev.OnWrite(AttrEnergy, s.writeEnergy)
	s.dev.OnWrite(AttrSimEnergy, func(_ context.Context, v device.Value) error {
		e, err := positive(v)
		if err != nil {
			return err
		}
		s.dev.Set(AttrSimEnergy, e)
		s.dev.Set(AttrSimLambda, HC/e)
		return nil
	})
	s.dev.OnWrite(AttrSimLambda, func(_ context.Context, v device.Value) error {
		w, err := positive(v)
		if err != nil {
			return err
		}
		s.dev.Set(AttrSimLambda, w)
		s.dev.Set(AttrSimEnergy, HC/w)
		return nil
	})
	s.dev.OnCommand(CmdStop, s.stop)
	return s.dev
}

func (s *simulator) writeEnergy(_ context.Context, v device.Value) error {
	e, err := positive(v)
	if err != nil {
		return err
	}
	if e < s.cfg.MinEnergy || e > s.cfg.MaxEnergy {
		return fmt.Errorf("energy %g outside [%g, %g]", e, s.cfg.MinEnergy, s.cfg.MaxEnergy)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.dev.Set(AttrState, device.StateMoving.String())
	s.timer = time.AfterFunc(s.cfg.MoveDuration, func() {
		s.dev.Set(AttrEnergy, e)
		s.dev.Set(AttrLambda, HC/e)
		s.dev.Set(AttrState, device.StateStandby.String())
	})
	return nil
}

func (s *simulator) stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil && s.timer.Stop() {
		s.dev.Set(AttrState, device.StateStandby.String())
	}
	return nil
}

func positive(v device.Value) (float64, error) {
	f, err := device.Float(v)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("value must be > 0, got %g", f)
	}
	return f, nil
}
