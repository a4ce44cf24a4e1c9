package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"plughub/internal/client"
	"plughub/internal/config"
	"plughub/internal/grace"
	"plughub/internal/heartbeat"
	"plughub/internal/infrastructure"
	"plughub/internal/kv"
	"plughub/internal/license"
)

// Agent is the site-side process: verification client plus heartbeat
type Agent struct {
	Config    *config.Config
	Paths     *config.Paths
	Logger    *slog.Logger
	State     kv.Store
	Grace     *grace.Manager
	Client    *client.Client
	Activity  *heartbeat.FileActivityLog
	Scheduler *heartbeat.Scheduler

	providers *infrastructure.OTelProviders
	closers   []io.Closer
}

// NewAgent builds the agent with relative paths anchored at baseDir
func NewAgent(cfg *config.Config, logger *slog.Logger, baseDir string) (*Agent, error) {
	paths := cfg.ResolvePaths(baseDir)
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	a := &Agent{Config: cfg, Paths: paths, Logger: logger}

	if cfg.Client.RedisURL != "" {
		redis, err := kv.NewRedisStore(cfg.Client.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		a.closers = append(a.closers, redis)
		a.State = kv.Prefixed{Store: redis, Prefix: cfg.Redis.KeyPrefix + "agent:" + cfg.Client.SiteDomain + ":"}
	} else {
		state, err := kv.OpenFileStore(paths.StateFile, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open state file: %w", err)
		}
		a.State = state
	}

	// the agent has no HTTP listener to expose a Prometheus endpoint on
	telemetry := cfg.Telemetry
	telemetry.MetricExporter = "none"
	providers, err := infrastructure.InitializeOTel(telemetry, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.providers = providers

	metrics, err := license.NewLicenseMetrics(providers.Meter)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	a.Grace = grace.NewManager(a.State, cfg.Client.GracePeriod, logger).WithEntryCounter(metrics.GraceEntries)
	a.Client = client.New(cfg.Client, a.State, a.Grace, logger, metrics)
	a.Activity = heartbeat.NewFileActivityLog(paths.ActivityLog)
	a.Scheduler = heartbeat.NewScheduler(
		cfg.Heartbeat, a.Client, a.Activity, heartbeat.NewNotifier(cfg.Notify, logger), a.State, logger,
	).WithSite(cfg.Client.SiteDomain, cfg.Notify.RemediationURL)

	logger.Info("Agent initialized",
		slog.String("site_domain", cfg.Client.SiteDomain),
		slog.String("server_url", cfg.Client.ServerURL),
		slog.String("state_file", paths.StateFile),
		slog.String("activity_log", paths.ActivityLog),
		slog.Bool("configured", cfg.Client.Configured()))

	return a, nil
}

// Run runs the heartbeat until SIGINT, SIGTERM or ctx is done
func (a *Agent) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Scheduler.Run(ctx)
}

// Close releases background workers and connections
func (a *Agent) Close() error {
	if a.Client != nil {
		a.Client.Close()
	}

	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.providers != nil {
		errs = append(errs, a.providers.Shutdown(context.Background()))
	}
	return errors.Join(errs...)
}
