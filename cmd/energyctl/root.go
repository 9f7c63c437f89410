package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/energyctl/internal/config"
	"github.com/cjeanneret/energyctl/internal/debug"
)

// app carries state shared by all subcommands.
type app struct {
	cfgPath string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "energyctl",
		Short:        "Beamline energy motion coordinator",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")

	root.AddCommand(
		newServeCmd(a),
		newMoveCmd(a),
		newLimitsCmd(a),
		newStatusCmd(a),
	)
	return root
}

// loadConfig validates the config path, loads the file and initializes logging.
func (a *app) loadConfig() (*config.Config, error) {
	if err := config.ValidateConfigPath(a.cfgPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	debug.Init(cfg.Defaults.DebugLevel, cfg.Defaults.LogFormat)
	debug.Section("Initialization")
	debug.Value("Config path", a.cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	return cfg, nil
}
