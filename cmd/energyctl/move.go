package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/energyctl/internal/events"
)

var errMoveFailed = errors.New("move failed")

func newMoveCmd(a *app) *cobra.Command {
	var (
		target  float64
		lambda  float64
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move the beamline to an energy or a wavelength",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateMoveFlags(target, lambda); err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			bl, err := newBeamline(cfg, events.NewBus(events.DefaultBuffer))
			if err != nil {
				return err
			}
			defer bl.Close()

			var ch <-chan events.Envelope
			if wait {
				var unsub func()
				ch, unsub = bl.ctrl.Subscribe(ctx)
				defer unsub()
			}

			var committed float64
			if target != 0 {
				committed, err = bl.ctrl.MoveEnergy(ctx, target)
			} else {
				committed, err = bl.ctrl.MoveWavelength(ctx, lambda)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "energy %.5f keV committed\n", committed)
			if !wait {
				return nil
			}

			waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
			defer cancelWait()
			if err := waitForMove(waitCtx, ch); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "move finished")
			return nil
		},
	}
	cmd.Flags().Float64Var(&target, "energy", 0, "target energy in keV")
	cmd.Flags().Float64Var(&lambda, "wavelength", 0, "target wavelength in angstrom")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the move to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "maximum wait with --wait")
	cmd.MarkFlagsMutuallyExclusive("energy", "wavelength")
	return cmd
}

// validateMoveFlags checks that exactly one of energy and wavelength is set
// and that it is a finite positive number.
func validateMoveFlags(energy, wavelength float64) error {
	if energy == 0 && wavelength == 0 {
		return errors.New("one of --energy or --wavelength is required")
	}
	if energy != 0 && wavelength != 0 {
		return errors.New("--energy and --wavelength are mutually exclusive")
	}
	if energy != 0 {
		if math.IsNaN(energy) || math.IsInf(energy, 0) || energy < 0 {
			return fmt.Errorf("energy must be a finite positive number, got %g", energy)
		}
	}
	if wavelength != 0 {
		if math.IsNaN(wavelength) || math.IsInf(wavelength, 0) || wavelength < 0 {
			return fmt.Errorf("wavelength must be a finite positive number, got %g", wavelength)
		}
	}
	return nil
}

// validatePort accepts 0 (use config) or a TCP port.
func validatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", port)
	}
	return nil
}

// waitForMove consumes events until the move finishes or fails.
func waitForMove(ctx context.Context, ch <-chan events.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for move: %w", ctx.Err())
		case env, ok := <-ch:
			if !ok {
				return errors.New("event stream closed")
			}
			switch e := env.Event.(type) {
			case events.MoveFinished:
				return nil
			case events.MoveFailed:
				if e.Reason != "" {
					return fmt.Errorf("%w: %s", errMoveFailed, e.Reason)
				}
				return errMoveFailed
			}
		}
	}
}
