// Package indicator drives beamline status lamps from controller events.
package indicator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/energyctl/internal/debug"
	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/hw/gpio"
	"github.com/cjeanneret/energyctl/internal/logic/lifecycle"
)

// Pins holds the BCM pin of each lamp.
type Pins struct {
	Ready  int
	Moving int
	Fault  int
}

// Lamps maps the externally visible status onto three output pins.
// Exactly one lamp is lit for ready, moving and error states, none for unknown.
type Lamps struct {
	drv    gpio.Driver
	pins   Pins
	logger zerolog.Logger
}

// New configures the pins as outputs and switches all lamps off.
func New(drv gpio.Driver, pins Pins) (*Lamps, error) {
	l := &Lamps{drv: drv, pins: pins, logger: debug.Component("indicator")}
	for _, pin := range []int{pins.Ready, pins.Moving, pins.Fault} {
		if err := drv.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup lamp pin %d: %w", pin, err)
		}
	}
	if err := l.set(false, false, false); err != nil {
		return nil, err
	}
	return l, nil
}

// Apply updates the lamps for one event. Events that carry no status are ignored.
func (l *Lamps) Apply(e events.Event) error {
	switch ev := e.(type) {
	case events.StatusChanged:
		switch ev.Status {
		case lifecycle.StatusReady:
			return l.set(true, false, false)
		case lifecycle.StatusMoving:
			return l.set(false, true, false)
		case lifecycle.StatusError, lifecycle.StatusOutLimits:
			return l.set(false, false, true)
		default:
			return l.set(false, false, false)
		}
	case events.MoveStarted:
		return l.set(false, true, false)
	case events.MoveFailed:
		return l.set(false, false, true)
	}
	return nil
}

// Run applies events from ch until ctx is done or ch is closed, then
// switches all lamps off.
func (l *Lamps) Run(ctx context.Context, ch <-chan events.Envelope) error {
	defer func() {
		if err := l.set(false, false, false); err != nil {
			l.logger.Error().Err(err).Str("event", "indicator.off").Msg("cannot switch lamps off")
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			if err := l.Apply(env.Event); err != nil {
				l.logger.Error().Err(err).Str("event", "indicator.write").Str("kind", string(env.Kind)).Msg("lamp update failed")
			}
		}
	}
}

func (l *Lamps) set(ready, moving, fault bool) error {
	for _, p := range []struct {
		pin int
		on  bool
	}{{l.pins.Ready, ready}, {l.pins.Moving, moving}, {l.pins.Fault, fault}} {
		if err := l.drv.WritePin(p.pin, gpio.Level(p.on)); err != nil {
			return fmt.Errorf("write lamp pin %d: %w", p.pin, err)
		}
	}
	return nil
}
