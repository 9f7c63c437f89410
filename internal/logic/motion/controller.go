package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/energyctl/internal/debug"
	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/hw/device"
	"github.com/cjeanneret/energyctl/internal/logic/backlash"
	"github.com/cjeanneret/energyctl/internal/logic/energy"
	"github.com/cjeanneret/energyctl/internal/logic/lifecycle"
	"github.com/cjeanneret/energyctl/internal/metrics"
)

// DefaultTolerance is the minimum energy change reported as EnergyChanged.
const DefaultTolerance = 1e-4

// Primary is the energy actuator (monochromator).
type Primary interface {
	energy.Simulator
	energy.RangeReader
	Name() string
	Energy(ctx context.Context) (float64, error)
	SetEnergy(ctx context.Context, e float64) error
	State(ctx context.Context) (device.State, error)
	Stop(ctx context.Context) error
	Wavelength(ctx context.Context) (float64, error)
	OnEnergy(fn func(device.Value)) (func(), error)
	OnState(fn func(device.Value)) (func(), error)
}

// Secondary is the gap actuator (undulator).
type Secondary interface {
	backlash.GapActuator
	Name() string
	Energy(ctx context.Context) (float64, error)
}

// Options configures a Controller.
type Options struct {
	Backlash       bool
	BacklashParams backlash.Params
	Tolerance      *float64 // DefaultTolerance if nil or negative
}

// Controller orchestrates energy moves across the monochromator and the
// undulator gap. It is the layer between callers (web, CLI) and the device
// adapters, and the only owner of the move lifecycle.
type Controller struct {
	mono   Primary
	und    Secondary
	comp   *backlash.Compensator
	conv   *energy.Converter
	limits *energy.LimitsProvider
	bus    *events.Bus
	logger zerolog.Logger

	// mu guards everything below and every Publish.
	mu         sync.Mutex
	life       *lifecycle.Lifecycle
	busy       bool
	backlashOn bool
	tolerance  float64
	stateSeq   uint64
	moveID     string

	status     lifecycle.Status
	hasStatus  bool
	energy     float64
	hasEnergy  bool
	wavelength float64
	hasWave    bool
	ready      bool
	hasReady   bool

	cancels []func()
}

func NewController(mono Primary, und Secondary, bus *events.Bus, opts Options) *Controller {
	tol := DefaultTolerance
	if opts.Tolerance != nil && *opts.Tolerance >= 0 {
		tol = *opts.Tolerance
	}
	conv := energy.NewConverter(mono)
	return &Controller{
		mono:       mono,
		und:        und,
		comp:       backlash.New(und, opts.BacklashParams),
		conv:       conv,
		limits:     energy.NewLimitsProvider(mono, conv),
		bus:        bus,
		logger:     debug.Component("motion"),
		life:       lifecycle.New(),
		backlashOn: opts.Backlash,
		tolerance:  tol,
	}
}

// Start subscribes to the primary actuator's state and energy notifications.
func (c *Controller) Start() error {
	cancelState, err := c.mono.OnState(c.handleState)
	if err != nil {
		return err
	}
	cancelEnergy, err := c.mono.OnEnergy(c.handleEnergy)
	if err != nil {
		cancelState()
		return err
	}
	c.mu.Lock()
	c.cancels = append(c.cancels, cancelState, cancelEnergy)
	c.mu.Unlock()
	c.logger.Info().
		Str("event", "motion.start").
		Str("primary", c.mono.Name()).
		Str("secondary", c.und.Name()).
		Msg("listening to primary actuator")
	return nil
}

// Close cancels the device subscriptions. The event bus is left open.
func (c *Controller) Close() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// MoveEnergy moves the beamline to energy e. The returned value is the
// committed target.
func (c *Controller) MoveEnergy(ctx context.Context, e float64) (float64, error) {
	return c.move(ctx, e, "energy")
}

// MoveWavelength converts w to energy and moves there.
func (c *Controller) MoveWavelength(ctx context.Context, w float64) (float64, error) {
	e, err := c.conv.ToEnergy(ctx, w)
	if err != nil {
		metrics.RecordMove("wavelength", "conversion_failed")
		return 0, err
	}
	return c.move(ctx, e, "wavelength")
}

func (c *Controller) move(ctx context.Context, e float64, kind string) (float64, error) {
	c.mu.Lock()
	if c.busy || (c.hasStatus && c.status == lifecycle.StatusMoving) {
		c.mu.Unlock()
		return 0, c.reject(kind, e)
	}
	c.busy = true
	stale := c.life.IsMoving()
	useBacklash := c.backlashOn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.updateReadyLocked()
		c.mu.Unlock()
	}()

	// The lifecycle says moving but the device feed never did: ask the
	// device before accepting.
	if stale {
		st, err := c.mono.State(ctx)
		if err != nil || st == device.StateMoving {
			return 0, c.reject(kind, e)
		}
		c.mu.Lock()
		if settled, _ := c.life.Settle(ctx); settled {
			c.logger.Warn().
				Str("event", "move.settled").
				Str("move_id", c.moveID).
				Str("state", st.String()).
				Msg("device idle without reporting motion, previous move finished")
			c.moveID = ""
			c.publishLocked(events.MoveFinished{})
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	seq := c.stateSeq
	c.mu.Unlock()

	moveID := uuid.NewString()
	log := c.logger.With().Str("move_id", moveID).Float64("energy", e).Logger()
	debug.Section("Move energy")
	debug.Value("Target energy", e)

	if useBacklash {
		start := time.Now()
		err := c.comp.Compensate(ctx, e)
		metrics.RecordCompensation(err == nil, time.Since(start))
		if err != nil {
			st, stErr := c.und.State(ctx)
			ev := log.Error().Err(err).Str("event", "backlash.failed")
			if stErr == nil {
				ev = ev.Str("state", st.String())
			}
			ev.Msg("cannot move undulator, committing energy anyway")
		}
	}

	if err := c.mono.SetEnergy(ctx, e); err != nil {
		metrics.RecordMove(kind, "commit_failed")
		log.Error().Err(err).Str("event", "move.commit_failed").Msg("energy commit failed")
		return 0, fmt.Errorf("%w: %s energy=%g: %w", ErrCommitFailed, c.mono.Name(), e, err)
	}
	metrics.RecordMove(kind, "accepted")

	c.mu.Lock()
	defer c.mu.Unlock()
	// A state notification since the commit means the device feed already
	// drove the lifecycle.
	if c.stateSeq == seq {
		started, err := c.life.Begin(ctx)
		if err != nil {
			log.Error().Err(err).Str("event", "move.lifecycle").Msg("lifecycle begin failed")
		}
		if started {
			c.moveID = moveID
			c.publishLocked(events.MoveStarted{MoveID: moveID, Target: e})
		}
	}
	log.Info().Str("event", "move.committed").Msg("energy committed")
	return e, nil
}

func (c *Controller) reject(kind string, e float64) error {
	metrics.RecordMove(kind, "rejected")
	c.logger.Warn().Str("event", "move.rejected").Float64("energy", e).Msg("move rejected, already moving")
	return ErrAlreadyMoving
}

// CancelMove marks the current move failed and stops the primary actuator.
// The lifecycle leaves Moving before the stop is sent, so the device's
// resulting idle state cannot finish the move instead. An in-flight move
// command keeps its busy flag, and pre-positioning of the gap already in
// flight is not interrupted.
func (c *Controller) CancelMove(ctx context.Context) error {
	c.mu.Lock()
	failed, err := c.life.Fail(ctx)
	if err != nil {
		c.logger.Error().Err(err).Str("event", "move.cancel").Msg("lifecycle fail transition")
	}
	if failed {
		c.publishLocked(events.MoveFailed{Reason: "cancelled"})
		c.logger.Warn().Str("event", "move.cancelled").Str("move_id", c.moveID).Msg("move cancelled")
		c.moveID = ""
	}
	c.mu.Unlock()

	if err := c.mono.Stop(ctx); err != nil {
		c.logger.Error().Err(err).Str("event", "move.stop_failed").Msg("stop command failed")
		return fmt.Errorf("stop %s: %w", c.mono.Name(), err)
	}
	return nil
}

// SetBacklash enables or disables compensation and replaces its parameters.
func (c *Controller) SetBacklash(enabled bool, p backlash.Params) {
	c.mu.Lock()
	c.backlashOn = enabled
	c.mu.Unlock()
	c.comp.SetParams(p)
	c.logger.Info().
		Str("event", "backlash.config").
		Bool("enabled", enabled).
		Float64("distance", p.Backlash).
		Float64("gap_limit", p.GapLimit).
		Msg("backlash settings updated")
}

// SetTolerance replaces the minimum energy change reported as EnergyChanged.
// Zero reports every reading; a negative value restores DefaultTolerance.
func (c *Controller) SetTolerance(tol float64) {
	if tol < 0 {
		tol = DefaultTolerance
	}
	c.mu.Lock()
	c.tolerance = tol
	c.mu.Unlock()
}

// Backlash reports whether compensation is enabled and its parameters.
func (c *Controller) Backlash() (bool, backlash.Params) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backlashOn, c.comp.Params()
}

func (c *Controller) publishLocked(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// updateReadyLocked raises MoveReady when readiness changes while no move
// is in flight.
func (c *Controller) updateReadyLocked() {
	if c.busy || c.life.IsMoving() || !c.hasStatus {
		return
	}
	ready := c.status == lifecycle.StatusReady
	if c.hasReady && ready == c.ready {
		return
	}
	c.ready = ready
	c.hasReady = true
	c.publishLocked(events.MoveReady{Ready: ready})
}
