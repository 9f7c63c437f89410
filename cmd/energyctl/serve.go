package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/energyctl/internal/config"
	"github.com/cjeanneret/energyctl/internal/debug"
	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/hw/gpio"
	"github.com/cjeanneret/energyctl/internal/indicator"
	"github.com/cjeanneret/energyctl/internal/logic/motion"
	"github.com/cjeanneret/energyctl/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator with its web interface until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validatePort(port); err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Web.Port = port
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, a.cfgPath, cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override web.port (1-65535)")
	return cmd
}

func serve(ctx context.Context, cfgPath string, cfg *config.Config) error {
	bus := events.NewBus(events.DefaultBuffer)
	debug.SetOutput(io.MultiWriter(os.Stdout, events.NewWriter(bus)))

	bl, err := newBeamline(cfg, bus)
	if err != nil {
		return err
	}
	defer bl.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Indicator.Enabled {
		debug.Step(3, "Initializing status lamps")
		debug.Value("Mock GPIO", cfg.Indicator.MockGPIO)
		drv, err := gpio.NewDriver(cfg.Indicator.MockGPIO)
		if err != nil {
			return fmt.Errorf("init GPIO failed: %w", err)
		}
		defer func() {
			if err := drv.Close(); err != nil {
				debug.Error(fmt.Errorf("closing GPIO driver failed: %w", err))
			}
		}()
		lamps, err := indicator.New(drv, indicator.Pins{
			Ready:  cfg.Indicator.ReadyPin,
			Moving: cfg.Indicator.MovingPin,
			Fault:  cfg.Indicator.FaultPin,
		})
		if err != nil {
			return err
		}
		ch, unsub := bl.ctrl.Subscribe(ctx)
		g.Go(func() error {
			defer unsub()
			return lamps.Run(ctx, ch)
		})
	}

	holder := config.NewHolder(cfg, cfgPath)
	reloaded := make(chan *config.Config, 1)
	holder.Listen(reloaded)
	g.Go(func() error { return holder.Watch(ctx) })
	g.Go(func() error {
		applyReloads(ctx, bl.ctrl, reloaded)
		return nil
	})

	if l, err := bl.ctrl.Limits(ctx); err == nil {
		bl.ctrl.EnergyLimitsChanged(ctx, l)
	} else {
		debug.Error(err)
	}

	srv, err := web.NewServer(web.Options{
		Addr:                  fmt.Sprintf(":%d", cfg.Web.Port),
		MoveRequestsPerMinute: cfg.Web.MoveRequestsPerMinute,
	}, bl.ctrl, web.Info{
		Primary:   cfg.Devices.Primary,
		Secondary: cfg.Devices.Secondary,
	})
	if err != nil {
		return err
	}
	debug.Section("Serving")
	g.Go(func() error { return srv.Run(ctx) })

	return g.Wait()
}

// applyReloads pushes hot-reloaded settings into the running coordinator.
func applyReloads(ctx context.Context, ctrl *motion.Controller, ch <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-ch:
			ctrl.SetBacklash(cfg.Backlash.Enabled, backlashParams(cfg))
			ctrl.SetTolerance(cfg.EnergyTolerance())
		}
	}
}
