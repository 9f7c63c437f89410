package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/energyctl/internal/events"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the devices once and print their state as JSON",
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

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(bl.ctrl.Diagnostics(cmd.Context()))
		},
	}
}
