package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jawad360/phone-detox/internal/config"
	"github.com/jawad360/phone-detox/internal/control"
	"github.com/jawad360/phone-detox/internal/daemon"
	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/internal/infra"
	"github.com/jawad360/phone-detox/internal/logging"
	"github.com/jawad360/phone-detox/internal/repository"
	"github.com/jawad360/phone-detox/internal/usecase"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring daemon",
	Long: `Runs the monitor loop, the X11 foreground sampler and the local control
server until interrupted. State (sessions, cooling periods, blocked apps)
is kept in an encrypted database and restored on restart.`,
	RunE: runDaemon,
}

var noSampler bool

func init() {
	runCmd.Flags().BoolVar(&noSampler, "no-sampler", false, "Disable the X11 sampler; usage events come only from POST /v1/usage-events")
}

// Ensure Monitor can be driven by the control API and the config watcher.
var (
	_ control.Controller    = (*daemon.Monitor)(nil)
	_ daemon.AppPolicySink  = (*daemon.Monitor)(nil)
	_ control.UsageRecorder = (*infra.UsageEventLog)(nil)
)

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.NewOrFallback(cfg.Log)
	defer func() { _ = logger.Sync() }()

	paths := infra.DetectPaths()
	logger.Info("detoxd starting",
		zap.String("version", Version),
		zap.String("mode", paths.Mode.String()),
		zap.String("config", resolveConfigPath()))

	journal, snapshot, closeStore := openState(cfg, paths, logger)
	defer closeStore()

	state := repository.NewState(cfg.Monitor.DefaultCooldownMinutes, journal)
	state.Restore(snapshot)

	clock := infra.SystemClock{}
	looper := daemon.NewLooper(logger)
	usageLog := infra.NewUsageEventLog(infra.DefaultUsageLogCapacity)
	pm := infra.NewProcessManager()
	desktop := infra.NewDesktopPlatform(pm, usageLog, logger)

	detector := usecase.NewDetector(usageLog, clock, 2*cfg.Monitor.SampleInterval, logger)
	evictor := usecase.NewEvictor(desktop, pm, desktop, detector, looper, clock, logger).
		WithRecheckDelay(cfg.Monitor.EvictRecheckDelay)

	hub := control.NewHub(control.HubConfig{
		InboundRate:  cfg.Control.InboundRate,
		InboundBurst: cfg.Control.InboundBurst,
	}, logger)
	notifier := usecase.NewMultiNotifier(logger, usecase.NewLogNotifier(logger), hub)

	engine := usecase.NewEngine(usecase.EngineConfig{
		StopReEvictDelay: cfg.Monitor.StopReEvictDelay,
		PromptTimeout:    cfg.Monitor.PromptTimeout,
		TimeOptions:      cfg.Monitor.TimeOptions,
	}, state, detector, evictor, notifier, hub, looper, clock, logger).
		WithAppNames(desktop)

	monitor := daemon.NewMonitor(daemon.MonitorConfig{
		SampleInterval:  cfg.Monitor.SampleInterval,
		SweepInterval:   cfg.Monitor.SweepInterval,
		StartMonitoring: !cfg.Monitor.StartPaused,
	}, engine, looper, logger)

	// An empty [[apps]] list keeps the restored monitored set.
	if len(cfg.Apps) > 0 {
		daemon.ApplyApps(cfg, monitor)
	}

	server := control.NewServer(control.ServerConfig{
		Listen: cfg.Control.Listen,
		Token:  tokenFrom(cfg),
	}, monitor, usageLog, hub, clock, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })
	if !noSampler {
		g.Go(func() error { return desktop.Run(ctx, cfg.Monitor.SampleInterval) })
	}
	if _, err := os.Stat(resolveConfigPath()); err == nil {
		watcher := daemon.NewConfigWatcher(resolveConfigPath(), monitor, logger)
		g.Go(func() error {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("config hot reload disabled", zap.Error(err))
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("detoxd stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openState opens the encrypted store and loads the last snapshot. Any
// failure leaves the daemon running on in-memory state only.
func openState(cfg *config.Config, paths *infra.Paths, logger *zap.Logger) (domain.StateJournal, *domain.StateSnapshot, func()) {
	if !cfg.State.Persist {
		return domain.NopJournal{}, nil, func() {}
	}

	dataDir := cfg.State.DataDir
	if dataDir == "" {
		dataDir = paths.DataDir
	}

	store, err := infra.OpenStateStore(dataDir)
	if err != nil {
		logger.Warn("state persistence disabled", zap.String("data_dir", dataDir), zap.Error(err))
		return domain.NopJournal{}, nil, func() {}
	}

	snapshot, err := store.Load()
	if err != nil {
		logger.Warn("failed to load saved state, starting fresh", zap.Error(err))
		snapshot = nil
	} else {
		logger.Info("state restored",
			zap.String("path", store.Path()),
			zap.Int("sessions", len(snapshot.Sessions)),
			zap.Int("cooldowns", len(snapshot.Cooldowns)),
			zap.Int("blocked", len(snapshot.Blocked)))
	}

	return infra.NewStoreJournal(store, logger), snapshot, func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close state store", zap.Error(err))
		}
	}
}

// tokenFrom picks the control token: flag, then config, then DETOX_TOKEN.
func tokenFrom(cfg *config.Config) string {
	if authToken != "" {
		return authToken
	}
	if cfg != nil && cfg.Control.Token != "" {
		return cfg.Control.Token
	}
	return os.Getenv("DETOX_TOKEN")
}

// addrFrom picks the control address: flag, then config.
func addrFrom(cfg *config.Config) string {
	if daemonAddr != "" {
		return daemonAddr
	}
	if cfg != nil && cfg.Control.Listen != "" {
		return cfg.Control.Listen
	}
	return control.DefaultListen
}

func newClient() (*control.Client, error) {
	logger := logging.NewCLI(verbose)
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	addr := addrFrom(cfg)
	logger.Debug("using daemon",
		zap.String("addr", addr),
		zap.String("config", resolveConfigPath()),
		zap.Bool("token", tokenFrom(cfg) != ""))
	return control.NewClient(addr, tokenFrom(cfg)), nil
}
