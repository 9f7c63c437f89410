package backlash

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/energyctl/internal/debug"
	"github.com/cjeanneret/energyctl/internal/hw/device"
)

// ErrCompensationFailed marks a pre-positioning sequence that did not
// complete. Callers treat it as non-fatal.
var ErrCompensationFailed = errors.New("backlash compensation failed")

var errStillMoving = errors.New("gap still moving")

// Params holds the compensation geometry and timing.
type Params struct {
	Backlash     float64       // gap offset applied before the final approach (mm)
	GapLimit     float64       // minimum safe gap (mm)
	PollInterval time.Duration // motion-completion poll period
	Timeout      time.Duration // bound on each motion-completion wait
	SettleDelay  time.Duration // pause after pre-positioning
}

// GapActuator is the secondary actuator as seen by the compensator.
type GapActuator interface {
	ComputedGap(ctx context.Context, e float64) (float64, error)
	Gap(ctx context.Context) (float64, error)
	SetGap(ctx context.Context, gap float64) error
	State(ctx context.Context) (device.State, error)
}

// Plan returns the gap setpoints to visit before committing the energy, so
// that the final approach to computed is always made from the same side.
// An empty plan means no pre-positioning is needed.
func Plan(computed, actual float64, p Params) []float64 {
	if computed >= actual+p.Backlash {
		return nil
	}
	if computed-p.Backlash > p.GapLimit {
		return []float64{computed - p.Backlash}
	}
	return []float64{p.GapLimit, computed + p.Backlash}
}

// Compensator pre-positions the secondary actuator ahead of an energy move.
type Compensator struct {
	gap    GapActuator
	logger zerolog.Logger

	mu     sync.RWMutex
	params Params
}

// New creates a compensator driving gap.
func New(gap GapActuator, params Params) *Compensator {
	return &Compensator{
		gap:    gap,
		params: params,
		logger: debug.Component("backlash"),
	}
}

// Params returns the current parameters.
func (c *Compensator) Params() Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

// SetParams replaces the parameters used by subsequent compensations.
func (c *Compensator) SetParams(p Params) {
	c.mu.Lock()
	c.params = p
	c.mu.Unlock()
}

// Compensate runs the pre-positioning sequence for target energy e.
// Every failure is wrapped with ErrCompensationFailed.
func (c *Compensator) Compensate(ctx context.Context, e float64) error {
	p := c.Params()

	computed, err := c.gap.ComputedGap(ctx, e)
	if err != nil {
		return fmt.Errorf("%w: computed gap for %g: %w", ErrCompensationFailed, e, err)
	}
	actual, err := c.gap.Gap(ctx)
	if err != nil {
		return fmt.Errorf("%w: read gap: %w", ErrCompensationFailed, err)
	}
	if err := c.waitIdle(ctx, p); err != nil {
		return err
	}

	steps := Plan(computed, actual, p)
	c.logger.Debug().
		Str("event", "backlash.plan").
		Float64("energy", e).
		Float64("computed_gap", computed).
		Float64("actual_gap", actual).
		Floats64("steps", steps).
		Msg("backlash plan")

	for _, g := range steps {
		if err := c.gap.SetGap(ctx, g); err != nil {
			return fmt.Errorf("%w: set gap %g: %w", ErrCompensationFailed, g, err)
		}
		debug.Live("Undulator gap -> %.4f", g)
		if err := c.waitIdle(ctx, p); err != nil {
			return err
		}
	}

	if len(steps) > 0 && p.SettleDelay > 0 {
		if err := sleep(ctx, p.SettleDelay); err != nil {
			return fmt.Errorf("%w: settle: %w", ErrCompensationFailed, err)
		}
	}
	return nil
}

// waitIdle polls the actuator state until it leaves MOVING, bounded by
// p.Timeout.
func (c *Compensator) waitIdle(ctx context.Context, p Params) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	polls := 0
	b := backoff.WithContext(backoff.NewConstantBackOff(p.PollInterval), ctx)
	err := backoff.Retry(func() error {
		polls++
		st, err := c.gap.State(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if st == device.StateMoving {
			return errStillMoving
		}
		return nil
	}, b)
	if err != nil {
		return fmt.Errorf("%w: wait for gap motion (%d polls, timeout %s): %w", ErrCompensationFailed, polls, p.Timeout, err)
	}
	debug.Verbose("Undulator idle after %d polls", polls)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
