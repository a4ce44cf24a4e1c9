package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "plughub/internal/errors"
	"plughub/internal/license"
	"plughub/internal/middleware"
	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

// LicenseHandler serves the site-facing license API
type LicenseHandler struct {
	activator    *license.Activator
	verifier     *license.Verifier
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(activator *license.Activator, verifier *license.Verifier, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		activator:    activator,
		verifier:     verifier,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "license")),
	}
}

// RouteOptions tunes the license routes
type RouteOptions struct {
	InteractiveTimeout time.Duration
	BatchTimeout       time.Duration
	// ActivationLimits wrap /activate and /deactivate, outermost first
	ActivationLimits []func(http.Handler) http.Handler
}

// Routes registers the license endpoints on r
func (h *LicenseHandler) Routes(r chi.Router, opts RouteOptions) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.InteractiveTimeout))
		r.Use(opts.ActivationLimits...)
		r.Post("/activate", h.Activate)
		r.Post("/deactivate", h.Deactivate)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.InteractiveTimeout))
		r.Post("/killswitch", h.KillSwitch)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.ActivationAuth(h.verifier, h.errorHandler))

		r.With(middleware.Timeout(opts.InteractiveTimeout)).Post("/license/verify", h.Verify)
		r.With(middleware.Timeout(opts.InteractiveTimeout)).Post("/update/check", h.UpdateCheck)
		r.With(middleware.Timeout(opts.BatchTimeout)).Post("/license/verify-batch", h.VerifyBatch)
		r.With(middleware.Timeout(opts.BatchTimeout)).Post("/license/info", h.Info)
	})
}

// Activate handles POST /activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req api.ActivateRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result, err := h.activator.Activate(r.Context(), req.APIKey, req.SiteDomain)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "activation"))
		return
	}

	if result.Reason != domain.ReasonValid {
		rerr := apierrors.NewReasonError(result.Reason)
		if len(result.ActivatedDomains) > 0 {
			rerr.With("activated_domains", result.ActivatedDomains)
		}
		h.errorHandler.HandleError(w, r, rerr)
		return
	}

	msg := "License activated for this site"
	if result.AlreadyActive {
		msg = "License is already active on this site"
	}
	render.JSON(w, r, api.ActivateResponse{
		ActivationToken:  result.Activation.Token,
		SiteDomain:       result.Activation.SiteDomain,
		Activated:        result.Activated,
		AlreadyActivated: result.AlreadyActive,
		Message:          msg,
	})
}

// Deactivate handles POST /deactivate. An unknown activation is reported as
// success:false rather than an error.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req api.DeactivateRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	deleted, err := h.activator.Deactivate(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "activation"))
		return
	}

	resp := api.DeactivateResponse{Success: deleted, Message: "License deactivated"}
	if !deleted {
		resp.Message = "No matching activation"
	}
	render.JSON(w, r, resp)
}

// Verify handles POST /license/verify
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req api.VerifyRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	signed, err := h.verifier.Verify(r.Context(), req.PluginSlug, subject)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "plugin"))
		return
	}
	render.JSON(w, r, signed)
}

// VerifyBatch handles POST /license/verify-batch
func (h *LicenseHandler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req api.VerifyBatchRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	signed, err := h.verifier.VerifyBatch(r.Context(), req.PluginSlugs, subject)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "plugin"))
		return
	}
	render.JSON(w, r, signed)
}

// Info handles POST /license/info
func (h *LicenseHandler) Info(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	signed, err := h.verifier.Info(r.Context(), subject)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "license"))
		return
	}
	render.JSON(w, r, signed)
}

// KillSwitch handles POST /killswitch. It never fails the request on license
// grounds; the decision is carried in the blocked flag.
func (h *LicenseHandler) KillSwitch(w http.ResponseWriter, r *http.Request) {
	var req api.KillSwitchRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, api.KillSwitchResponse{Blocked: h.verifier.KillSwitch(r.Context(), req)})
}

// UpdateCheck handles POST /update/check
func (h *LicenseHandler) UpdateCheck(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req api.UpdateCheckRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.verifier.UpdateCheck(r.Context(), req.PluginSlug, req.Version, subject)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "plugin"))
		return
	}
	render.JSON(w, r, resp)
}

func (h *LicenseHandler) subject(w http.ResponseWriter, r *http.Request) (*license.Subject, bool) {
	s, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		h.errorHandler.HandleError(w, r, apierrors.ErrUnauthenticated)
	}
	return s, ok
}
