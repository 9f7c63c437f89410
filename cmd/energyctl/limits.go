package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/logic/energy"
)

func newLimitsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Print the energy and wavelength limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			bl, err := newBeamline(cfg, events.NewBus(events.DefaultBuffer))
			if err != nil {
				return err
			}
			defer bl.Close()

			ctx := cmd.Context()
			el, err := bl.ctrl.Limits(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "energy:     %.5f - %.5f keV\n", el.Min, el.Max)
			wl, err := bl.ctrl.WavelengthLimits(ctx)
			switch {
			case errors.Is(err, energy.ErrLimitsUnavailable):
				fmt.Fprintln(out, "wavelength: unavailable")
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "wavelength: %.5f - %.5f A\n", wl.Min, wl.Max)
			}
			return nil
		},
	}
}
