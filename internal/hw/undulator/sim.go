package undulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/energyctl/internal/hw/device"
)

// SimConfig describes a simulated undulator with a linear energy-to-gap model:
// gap = GapOffset + GapPerKeV * energy.
type SimConfig struct {
	Gap          float64 // initial gap (mm)
	GapOffset    float64
	GapPerKeV    float64
	MinGap       float64
	MoveDuration time.Duration // time spent MOVING per gap write
}

type simulator struct {
	dev *device.Sim
	cfg SimConfig

	mu    sync.Mutex
	timer *time.Timer
}

// NewSimulator returns a simulated undulator. Writing energy updates the
// computed gap without moving; writing gap reports MOVING for
// cfg.MoveDuration and then STANDBY.
func NewSimulator(name string, cfg SimConfig) *device.Sim {
	s := &simulator{dev: device.NewSim(name), cfg: cfg}

	s.dev.Set(AttrGap, cfg.Gap)
	s.dev.Set(AttrEnergy, s.energyAt(cfg.Gap))
	s.dev.Set(AttrComputedGap, cfg.Gap)
	s.dev.Set(AttrState, device.StateStandby.String())

	s.dev.OnWrite(AttrEnergy, func(_ context.Context, v device.Value) error {
		e, err := device.Float(v)
		if err != nil {
			return err
		}
		s.dev.Set(AttrComputedGap, s.gapAt(e))
		return nil
	})
	s.dev.OnWrite(AttrGap, s.writeGap)
	return s.dev
}

func (s *simulator) gapAt(e float64) float64 {
	return s.cfg.GapOffset + s.cfg.GapPerKeV*e
}

func (s *simulator) energyAt(gap float64) float64 {
	if s.cfg.GapPerKeV == 0 {
		return 0
	}
	return (gap - s.cfg.GapOffset) / s.cfg.GapPerKeV
}

func (s *simulator) writeGap(_ context.Context, v device.Value) error {
	gap, err := device.Float(v)
	if err != nil {
		return err
	}
	if gap < s.cfg.MinGap {
		return fmt.Errorf("gap %g below minimum %g", gap, s.cfg.MinGap)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.dev.Set(AttrState, device.StateMoving.String())
	s.timer = time.AfterFunc(s.cfg.MoveDuration, func() {
		s.dev.Set(AttrGap, gap)
		s.dev.Set(AttrEnergy, s.energyAt(gap))
		s.dev.Set(AttrState, device.StateStandby.String())
	})
	return nil
}
