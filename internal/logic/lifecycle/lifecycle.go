package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/energyctl/internal/debug"
	"github.com/cjeanneret/energyctl/internal/hw/device"
)

// Phase is the local view of whether a move is in progress.
type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseMoving Phase = "moving"
	PhaseFailed Phase = "failed"
)

const (
	eventStart  = "start"
	eventFinish = "finish"
	eventFail   = "fail"
	eventReset  = "reset"
)

// Outcome describes what a state notification did to the lifecycle.
type Outcome struct {
	State    device.State
	Status   Status
	Started  bool
	Finished bool
}

// Lifecycle tracks the move phase from state notifications and local
// commands. It is not safe for concurrent use; the owner serializes access.
type Lifecycle struct {
	fsm     *fsm.FSM
	last    device.State
	hasLast bool
	logger  zerolog.Logger
}

// New returns a lifecycle in the idle phase with no known device state.
func New() *Lifecycle {
	l := &Lifecycle{logger: debug.Component("lifecycle")}
	l.fsm = fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(PhaseIdle), string(PhaseFailed)}, Dst: string(PhaseMoving)},
			{Name: eventFinish, Src: []string{string(PhaseMoving)}, Dst: string(PhaseIdle)},
			{Name: eventFail, Src: []string{string(PhaseMoving)}, Dst: string(PhaseFailed)},
			{Name: eventReset, Src: []string{string(PhaseFailed)}, Dst: string(PhaseIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Debug().
					Str("event", "lifecycle.transition").
					Str("trigger", e.Event).
					Str("from", e.Src).
					Str("to", e.Dst).
					Msg("lifecycle transition")
			},
		},
	)
	return l
}

// Phase returns the current phase.
func (l *Lifecycle) Phase() Phase {
	return Phase(l.fsm.Current())
}

// IsMoving reports whether a move is in progress.
func (l *Lifecycle) IsMoving() bool {
	return l.fsm.Is(string(PhaseMoving))
}

// LastState returns the last device state seen, if any.
func (l *Lifecycle) LastState() (device.State, bool) {
	return l.last, l.hasLast
}

// Handle applies one state notification. A value outside the state
// enumeration returns ErrUnmappedState and leaves the lifecycle untouched.
func (l *Lifecycle) Handle(ctx context.Context, v device.Value) (Outcome, error) {
	st, err := device.StateOf(v)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrUnmappedState, err)
	}
	status, err := StatusOf(st)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{State: st, Status: status}
	switch {
	case st == device.StateMoving && !l.IsMoving():
		if err := l.fire(ctx, eventStart); err != nil {
			return out, err
		}
		out.Started = true
	case st != device.StateMoving && l.IsMoving():
		if err := l.fire(ctx, eventFinish); err != nil {
			return out, err
		}
		out.Finished = true
	}

	l.last = st
	l.hasLast = true
	return out, nil
}

// Begin records an accepted move command. A failed lifecycle is reset to
// idle first. It reports whether a new move was started.
func (l *Lifecycle) Begin(ctx context.Context) (bool, error) {
	if l.fsm.Is(string(PhaseFailed)) {
		if err := l.fire(ctx, eventReset); err != nil {
			return false, err
		}
	}
	if l.IsMoving() {
		return false, nil
	}
	if err := l.fire(ctx, eventStart); err != nil {
		return false, err
	}
	return true, nil
}

// Settle ends a move the device never reported as moving. It reports
// whether a move was in progress.
func (l *Lifecycle) Settle(ctx context.Context) (bool, error) {
	if !l.IsMoving() {
		return false, nil
	}
	if err := l.fire(ctx, eventFinish); err != nil {
		return false, err
	}
	return true, nil
}

// Fail marks the current move as failed. It reports whether a move was in
// progress.
func (l *Lifecycle) Fail(ctx context.Context) (bool, error) {
	if !l.IsMoving() {
		return false, nil
	}
	if err := l.fire(ctx, eventFail); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Lifecycle) fire(ctx context.Context, event string) error {
	err := l.fsm.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("lifecycle %s from %s: %w", event, l.fsm.Current(), err)
}
