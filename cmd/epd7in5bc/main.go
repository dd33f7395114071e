package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"epd7in5bc/internal/config"
	"epd7in5bc/internal/epd"
	"epd7in5bc/internal/epd/epdtest"
	appLog "epd7in5bc/internal/log"
	"epd7in5bc/internal/panel"
	"epd7in5bc/internal/schedule"
	"epd7in5bc/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	action     string
	dryRun     bool
}

func main() {
	appLog.Info("epd7in5bc starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.Refresh,
		"sleep_after_refresh", conf.SleepAfterRefresh,
		"spi_port", conf.Hardware.SPIPort,
		"max_hz", conf.Hardware.MaxHz,
		"panel", fmt.Sprintf("%dx%d", conf.Panel.Width, conf.Panel.Height),
		"once", flags.once,
		"action", flags.action,
		"dry_run", flags.dryRun,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("epd7in5bc failed", err)
		os.Exit(1)
	}
	appLog.Info("epd7in5bc exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	hw, err := openHardware(conf, flags.dryRun)
	if err != nil {
		return err
	}

	drv, err := epd.New(conf.DriverOpts())
	if err != nil {
		return err
	}
	ctrl, err := panel.New(ctx, drv, hw, conf.SleepAfterRefresh)
	if err != nil {
		_ = drv.Close()
		if c, ok := hw.(io.Closer); ok {
			_ = c.Close()
		}
		return fmt.Errorf("panel init: %w", err)
	}
	defer closePanel(ctrl)

	if flags.once {
		return runAction(ctx, ctrl, flags.action)
	}

	if conf.Refresh != "" {
		sched, err := schedule.Start(ctx, conf.Refresh, "refresh", ctrl.Refresh)
		if err != nil {
			return err
		}
		defer sched.Stop()
	} else {
		appLog.Info("periodic refresh disabled")
	}

	if conf.Listen == "" {
		appLog.Info("HTTP API disabled")
		<-ctx.Done()
		return nil
	}
	return web.StartServer(ctx, conf, ctrl)
}

// openHardware returns the periph.io SPI device, or a recorder when dryRun
// is set so the full command flow can be exercised without a panel.
func openHardware(conf *config.Config, dryRun bool) (epd.Hardware, error) {
	if dryRun {
		appLog.Warn("dry run: panel commands are recorded, not sent")
		return &epdtest.Recorder{}, nil
	}
	dev, err := epd.OpenSPI(conf.SPIOpts())
	if err != nil {
		return nil, err
	}
	appLog.Info("SPI device opened", "dev", dev.String())
	return dev, nil
}

func runAction(ctx context.Context, ctrl *panel.Controller, action string) error {
	switch action {
	case "clear":
		return ctrl.Clear(ctx)
	case "pattern":
		return ctrl.ShowPattern(ctx)
	case "refresh":
		return ctrl.Refresh(ctx)
	case "sleep":
		return ctrl.Sleep(ctx)
	default:
		return errors.New("unknown action " + action)
	}
}

// closePanel sleeps and releases the panel. It gets its own deadline since
// the root context is usually canceled by then.
func closePanel(ctrl *panel.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := ctrl.Close(ctx); err != nil {
		appLog.Error("panel close failed", err)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epd7in5bc/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one panel action and exit")
	flag.StringVar(&cfg.action, "action", "pattern", "Action for -once: clear, pattern, refresh or sleep")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Record panel commands instead of driving SPI/GPIO")

	flag.Parse()

	return cfg
}
