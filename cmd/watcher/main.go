package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/e1c-ops/eventlog-watcher/internal/settings"
	"github.com/e1c-ops/eventlog-watcher/internal/watch"
)

// Build variables - set by ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes: the settings file failing to open or parse is the one
// failure operators are expected to script against.
const (
	exitSettingsFailure = 1
	exitStartupFailure  = 2
)

const metricsReportInterval = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "settings.yml", "path to the settings file")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("eventlog-watcher %s (%s)\n", version, commit)
		return 0
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "watcher",
		Level: hclog.Info,
	})

	s, err := settings.Load(configPath)
	if err != nil {
		logger.Error("cannot load settings", "error", err)
		return exitSettingsFailure
	}
	if level := s.GetString("log-level"); level != "" {
		logger.SetLevel(hclog.LevelFromString(level))
	}

	dctx, err := watch.NewDispatchContext(s)
	if err != nil {
		logger.Error("cannot derive source identity", "error", err)
		return exitStartupFailure
	}

	snk, err := newSink(s.GetString("data-receiver"), s, logger)
	if err != nil {
		logger.Error("cannot create data receiver", "error", err)
		return exitStartupFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := snk.Start(ctx); err != nil {
		logger.Error("cannot start data receiver", "error", err)
		return exitStartupFailure
	}

	source, err := newSource(s, dctx, logger)
	if err != nil {
		logger.Error("cannot create log source", "error", err)
		return exitStartupFailure
	}

	store := watch.NewCheckpointStore(
		s.GetString("paths/checkpoint_dir"), logger.Named("checkpoint"))

	dispatcher := watch.NewDispatcher(dctx, source, snk, store,
		dispatcherConfig(s), logger.Named("dispatcher"))

	logger.Info("starting watch loop",
		"infobase_id", dctx.InfobaseID,
		"receiver", s.GetString("data-receiver"),
		"version", version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Unblocks the metrics reporter when the loop ends cleanly.
		defer stop()
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		dispatcher.Metrics().Report(gctx, metricsReportInterval, logger.Named("metrics"))
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watch loop stopped", "error", err)
		return exitStartupFailure
	}

	logger.Info("shut down")
	return 0
}

func dispatcherConfig(s *settings.Settings) watch.DispatcherConfig {
	cfg := watch.DefaultDispatcherConfig()

	if s.IsSet("restart/max-attempts") {
		cfg.MaxRestarts = s.GetInt("restart/max-attempts")
	}
	if ms := s.GetInt("restart/initial-delay-msec"); ms > 0 {
		cfg.InitialBackoff = time.Duration(ms) * time.Millisecond
	}
	if ms := s.GetInt("restart/max-delay-msec"); ms > 0 {
		cfg.MaxBackoff = time.Duration(ms) * time.Millisecond
	}

	return cfg
}
