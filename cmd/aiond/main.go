package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/invisible-tech/aion/internal/config"
	"github.com/invisible-tech/aion/internal/kernel"
	"github.com/invisible-tech/aion/internal/persist"
	"github.com/invisible-tech/aion/internal/shell"
	"github.com/invisible-tech/aion/internal/telemetry"
	"github.com/invisible-tech/aion/internal/version"
	"github.com/invisible-tech/aion/pkg/monitor"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.WithError(err).Fatal("Invalid configuration")
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("Invalid log level")
	}
	log.SetLevel(level)

	log.WithFields(logrus.Fields{
		"version":   version.Version,
		"telemetry": cfg.Telemetry.Source,
		"state":     cfg.State.Backend + ":" + cfg.State.Path,
	}).Info("Starting AION organism supervisor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	store, err := persist.NewStore(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		log.WithError(err).Fatal("Failed to create state store")
	}
	if err := store.Init(ctx); err != nil {
		log.WithError(err).Fatal("Failed to initialize state store")
	}
	defer store.Close()

	var port telemetry.Port
	if cfg.Telemetry.Source == "host" {
		port = telemetry.NewHost(telemetry.HostConfig{
			ReadTimeout:      cfg.Telemetry.ReadTimeout,
			FailureThreshold: uint32(cfg.Telemetry.FailureThreshold),
			CooldownPeriod:   cfg.Telemetry.CooldownPeriod,
		}, log)
	}

	sched, err := kernel.New(cfg.Kernel, port, store, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create scheduler")
	}
	loaded, err := sched.Restore(ctx)
	if err != nil {
		// A bad state file is not fatal; the organism starts at initial health.
		log.WithError(err).WithField("path", store.Location()).Warn("Failed to restore state")
	} else if loaded {
		log.WithField("path", store.Location()).Info("Restored saved state")
	}

	mon, err := monitor.New(cfg, sched, monitor.Options{}, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create monitor")
	}

	done := make(chan error, 1)
	go func() {
		done <- mon.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-done:
		if err != nil && !errors.Is(err, shell.ErrQuit) {
			log.WithError(err).Error("Supervisor error")
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := mon.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error during shutdown")
	}

	log.Info("Supervisor shutdown complete")
}

// loadConfig layers env defaults, an optional YAML file, and flags. Flags
// given on the command line win over the file.
func loadConfig(args []string) (*config.Config, error) {
	cfg := config.Default()

	fs := pflag.NewFlagSet("aiond", pflag.ContinueOnError)
	configPath := fs.String("config", config.GetEnv("AION_CONFIG", ""), "YAML config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	cfg.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		fmt.Println(version.Banner())
		return nil, pflag.ErrHelp
	}

	if *configPath != "" {
		explicit := map[string]string{}
		fs.Visit(func(f *pflag.Flag) {
			explicit[f.Name] = f.Value.String()
		})
		if err := cfg.LoadFile(*configPath); err != nil {
			return nil, err
		}
		for name, value := range explicit {
			if err := fs.Set(name, value); err != nil {
				return nil, fmt.Errorf("reapply --%s: %w", name, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
