package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "plughub/internal/errors"
	"plughub/internal/services"
)

// HealthHandler serves the health and version endpoints
type HealthHandler struct {
	service *services.HealthService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *services.HealthService) *HealthHandler {
	return &HealthHandler{service: service}
}

// Routes registers the health endpoints on r
func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/health", h.HealthCheck)
	r.Get("/health/ready", h.ReadinessCheck)
	r.Get("/health/live", h.LivenessCheck)
	r.Get("/version", h.Version)
}

func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.HealthCheck(r.Context()))
}

// ReadinessCheck answers 503 until every dependency responds
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status := h.service.ReadinessCheck(r.Context())
	if status.Status != services.StatusReady {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}

func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.LivenessCheck(r.Context()))
}

func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Version())
}

// MetricsHandler exposes the Prometheus registry fed by the OTel exporter
type MetricsHandler struct {
	prometheus   http.Handler
	errorHandler *apierrors.ErrorHandler
}

// NewMetricsHandler creates a metrics handler; a nil prometheus handler means
// metrics export is disabled
func NewMetricsHandler(prometheus http.Handler, errorHandler *apierrors.ErrorHandler) *MetricsHandler {
	return &MetricsHandler{prometheus: prometheus, errorHandler: errorHandler}
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.prometheus == nil {
		h.errorHandler.NotFound(w, r)
		return
	}
	h.prometheus.ServeHTTP(w, r)
}
