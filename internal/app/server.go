package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"plughub/internal/config"
	"plughub/internal/infrastructure"
	"plughub/internal/kv"
	"plughub/internal/services"
	"plughub/internal/store"
	"plughub/pkg/contracts"
)

// Server is the license server process
type Server struct {
	Config        *config.Config
	Router        *chi.Mux
	HTTPServer    *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	pool  *pgxpool.Pool
	redis *kv.RedisStore
}

// NewServer connects every dependency and builds the router
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.InfoContext(ctx, "License server starting",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", cfg.Server.Port))

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if err := infrastructure.RegisterRuntimeMetrics(providers.Meter, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to register runtime metrics: %w", err)
	}

	s := &Server{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if cfg.Database.MigrateOnStart {
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.InfoContext(ctx, "Database migrations applied")
	}

	s.pool, err = store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	pg := store.NewPostgresStore(s.pool)

	deps := Deps{
		Store:   pg,
		Pingers: map[string]services.Pinger{"postgres": pg},
		Meter:   providers.Meter,
		Metrics: providers.PrometheusHTTP,
	}

	if cfg.Redis.URL != "" {
		s.redis, err = kv.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			s.pool.Close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		prefixed := kv.Prefixed{Store: s.redis, Prefix: cfg.Redis.KeyPrefix}
		deps.Cache = prefixed
		deps.Counter = prefixed
		deps.Pingers["redis"] = s.redis
	} else {
		logger.WarnContext(ctx, "Redis not configured, using in-process catalog cache and per-instance rate limits")
		deps.Cache = kv.NewMemoryStore(nil)
	}

	s.Router, err = NewRouter(cfg, logger, deps)
	if err != nil {
		s.closeStores()
		return nil, err
	}

	s.HTTPServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s.Router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return s, nil
}

// Start serves HTTP in the background. A listener failure calls cancel.
func (s *Server) Start(ctx context.Context, cancel context.CancelFunc) error {
	s.Logger.InfoContext(ctx, "Starting HTTP server",
		slog.String("addr", s.HTTPServer.Addr),
		slog.String("level", s.Config.Logging.Level))

	go func() {
		if err := s.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	return nil
}

// Stop drains in-flight requests and releases every dependency
func (s *Server) Stop(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "Shutting down license server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.HTTPServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	s.closeStores()

	if s.OTelProviders != nil {
		if err := s.OTelProviders.Shutdown(shutdownCtx); err != nil {
			s.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	s.Logger.InfoContext(ctx, "License server shutdown complete")
	return errors.Join(errs...)
}

func (s *Server) closeStores() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.Logger.Error("Error closing redis", slog.String("error", err.Error()))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Run serves until SIGINT, SIGTERM or a listener failure
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := s.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		s.Logger.InfoContext(ctx, "Received signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	// the run context may already be cancelled
	return s.Stop(context.WithoutCancel(ctx))
}
