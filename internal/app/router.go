package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"plughub/internal/config"
	apierrors "plughub/internal/errors"
	"plughub/internal/infrastructure"
	"plughub/internal/kv"
	"plughub/internal/license"
	"plughub/internal/middleware"
	"plughub/internal/security"
	"plughub/internal/services"
	"plughub/internal/store"
	handlers "plughub/internal/transport/http"
)

// Deps are the external resources the router runs against
type Deps struct {
	Store store.Store
	// Cache backs the plugin catalog. Keys are written unprefixed.
	Cache kv.Store
	// Counter enables the shared activation limit when set
	Counter kv.Counter
	Pingers map[string]services.Pinger
	Meter   metric.Meter
	// Metrics serves /metrics; nil answers 404
	Metrics http.Handler
	// Now overrides the clock of the license services
	Now func() time.Time
}

// NewRouter assembles the license server routes and middleware.
// Middleware order: RequestID, RealIP, OTel, error logging and recovery,
// security headers, global rate limit, JSON content type.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Deps) (*chi.Mux, error) {
	if deps.Meter == nil {
		deps.Meter = noop.NewMeterProvider().Meter(infrastructure.MeterName)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	metrics, err := license.NewLicenseMetrics(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	catalog := license.NewCatalog(deps.Store, deps.Cache, cfg.License.CatalogCacheTTL, metrics, logger)
	issuer := security.NewTokenIssuer(cfg.License.TokenIssuer, cfg.License.TokenTTL).WithClock(deps.Now)
	activator := license.NewActivator(deps.Store, logger, metrics).WithClock(deps.Now)
	verifier := license.NewVerifier(deps.Store, catalog, issuer, cfg.License.BatchLimit, logger, metrics).WithClock(deps.Now)
	admin := license.NewAdmin(deps.Store, catalog, cfg.Security.BcryptCost, logger)

	errorHandler := apierrors.NewErrorHandler(logger, cfg.Telemetry.Environment == "development")
	validator := middleware.NewValidator(config.MaxRequestBodyBytes)

	otelMiddleware, err := middleware.NewOTelMiddleware(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel middleware: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otelMiddleware.Handler)
	r.Use(apierrors.NewErrorMiddleware(errorHandler, logger).Handler)
	r.Use(middleware.DefaultSecureHeaders().Handler)

	rl := cfg.Security.RateLimit
	if rl.Enabled {
		r.Use(middleware.NewRateLimiter(rl.RPS, rl.Burst, errorHandler, logger).Handler)
	}

	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(middleware.ContentTypeValidator(errorHandler, "application/json"))

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	handlers.NewHealthHandler(services.NewHealthService(deps.Pingers, logger)).Routes(r)
	r.Method(http.MethodGet, "/metrics", handlers.NewMetricsHandler(deps.Metrics, errorHandler))

	var limits []func(http.Handler) http.Handler
	if rl.Enabled {
		limits = append(limits, middleware.NewClientRateLimiter(rl.ClientRPS, rl.ClientBurst, errorHandler, logger).Handler)
		if deps.Counter != nil && rl.ActivationsPerMinute > 0 {
			limits = append(limits, middleware.NewWindowLimiter(
				deps.Counter, "activate", rl.ActivationsPerMinute, time.Minute, errorHandler, logger,
			).Handler)
		}
	}

	handlers.NewLicenseHandler(activator, verifier, validator, errorHandler, logger).Routes(r, handlers.RouteOptions{
		InteractiveTimeout: cfg.Server.RequestTimeout,
		BatchTimeout:       cfg.Server.BatchTimeout,
		ActivationLimits:   limits,
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.Security.AdminToken, errorHandler, logger))
		r.Use(middleware.AuditLog(logger))
		r.Use(middleware.Timeout(cfg.Server.BatchTimeout))
		r.Mount("/", handlers.NewAdminHandler(admin, validator, errorHandler, logger).Routes())
	})

	return r, nil
}
