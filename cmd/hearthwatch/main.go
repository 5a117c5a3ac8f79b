package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/baseline"
	"github.com/hearthwatch/hearthwatch/internal/config"
	"github.com/hearthwatch/hearthwatch/internal/decoy"
	"github.com/hearthwatch/hearthwatch/internal/devices"
	"github.com/hearthwatch/hearthwatch/internal/event"
	"github.com/hearthwatch/hearthwatch/internal/hub"
	"github.com/hearthwatch/hearthwatch/internal/incident"
	"github.com/hearthwatch/hearthwatch/internal/insight"
	"github.com/hearthwatch/hearthwatch/internal/mimic"
	"github.com/hearthwatch/hearthwatch/internal/netscan"
	"github.com/hearthwatch/hearthwatch/internal/privops"
	"github.com/hearthwatch/hearthwatch/internal/registry"
	"github.com/hearthwatch/hearthwatch/internal/retention"
	"github.com/hearthwatch/hearthwatch/internal/scout"
	"github.com/hearthwatch/hearthwatch/internal/store"
	"github.com/hearthwatch/hearthwatch/internal/telemetry"
	"github.com/hearthwatch/hearthwatch/internal/version"
	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration before the logger so log level and format are
	// configurable.
	viperCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(viperCfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Hearthwatch sensor starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the shared database.
	dbPath := viperCfg.GetString("database.path")
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}
	logger.Info("database initialized", zap.String("path", dbPath))

	// Event log and bus: migrations first, then the bus over the log.
	if err := db.Migrate(ctx, "event", event.Migrations()); err != nil {
		logger.Fatal("event log migration failed", zap.Error(err))
	}
	eventLog := event.NewLog(db.DB())
	bus := event.NewBus(eventLog, logger.Named("event"))
	defer bus.Close()

	// Privileged-operations helper. The sensor degrades rather than
	// dies when the helper is unreachable: passive capture and virtual
	// IPs go dark, active probing still works.
	var privileged plugin.Privileged
	socketPath := viperCfg.GetString("privops.socket")
	if socketPath == "" {
		socketPath = "/run/hearthwatch/privops.sock"
	}
	privClient := privops.NewClient(socketPath)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := privClient.Ping(pingCtx); err != nil {
		logger.Warn("privileged helper unreachable, running degraded",
			zap.String("socket", socketPath), zap.Error(err))
	} else {
		privileged = privClient
		logger.Info("privileged helper connected", zap.String("socket", socketPath))
	}
	pingCancel()

	// fatal emits the terminal sensor-offline event before aborting so
	// attached control-plane clients learn the sensor is gone.
	fatal := func(msg string, err error) {
		pubCtx, pubCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, pubErr := bus.Publish(pubCtx, "system.sensor_offline", map[string]any{
			"reason": msg,
			"error":  err.Error(),
		}, "sensor"); pubErr != nil {
			logger.Warn("failed to publish sensor offline event", zap.Error(pubErr))
		}
		pubCancel()
		logger.Fatal(msg, zap.Error(err))
	}

	reg := registry.New(logger.Named("registry"))
	modules := []plugin.Plugin{
		devices.New(),
		netscan.New(),
		incident.New(),
		baseline.New(),
		decoy.New(),
		scout.New(),
		mimic.New(),
		insight.New(),
		retention.New(eventLog),
		hub.New(),
		telemetry.New(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			fatal("failed to register plugin", err)
		}
	}

	if err := reg.Validate(); err != nil {
		fatal("plugin validation failed", err)
	}

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:     cfg,
			Logger:     logger.Named(name),
			Bus:        bus,
			Store:      db,
			Privileged: privileged,
			Plugins:    reg,
		}
	}); err != nil {
		fatal("failed to initialize plugins", err)
	}

	if err := reg.StartAll(ctx); err != nil {
		fatal("failed to start plugins", err)
	}

	logger.Info("Hearthwatch sensor ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	reg.StopAll(shutdownCtx)

	logger.Info("Hearthwatch sensor stopped")
}
