package http

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	apierrors "plughub/internal/errors"
	"plughub/internal/exporter"
	"plughub/internal/license"
	"plughub/internal/middleware"
	api "plughub/pkg/contracts/api/v1"
)

// AdminHandler serves the administrator API
type AdminHandler struct {
	admin        *license.Admin
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin *license.Admin, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:        admin,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns a chi router for the admin endpoints. Authentication is
// applied by the caller.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/keys", func(r chi.Router) {
		r.Post("/", h.CreateKey)
		r.Get("/{id}", h.GetKey)
		r.Patch("/{id}/status", h.UpdateKeyStatus)
		r.Get("/{id}/activations", h.ListActivations)
		r.Get("/{id}/activations/export", h.ExportActivations)
	})
	r.Delete("/activations/{id}", h.DeleteActivation)
	r.Post("/plugins", h.CreatePlugin)
	r.Post("/groups", h.CreateGroup)
	r.Post("/blacklist", h.AddBlacklistEntry)
	r.Delete("/blacklist/{id}", h.DeleteBlacklistEntry)

	return r
}

// CreateKey handles POST /admin/keys. The secret is only ever returned here.
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req api.CreateKeyRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	key, secret, err := h.admin.CreateKey(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "key"))
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.CreateKeyResponse{Key: key, Secret: secret})
}

// GetKey handles GET /admin/keys/{id}
func (h *AdminHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	key, err := h.admin.GetKey(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "key"))
		return
	}
	render.JSON(w, r, key)
}

// UpdateKeyStatus handles PATCH /admin/keys/{id}/status
func (h *AdminHandler) UpdateKeyStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req api.UpdateKeyStatusRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	key, err := h.admin.UpdateKeyStatus(r.Context(), id, req.Status)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "key"))
		return
	}
	render.JSON(w, r, key)
}

// ListActivations handles GET /admin/keys/{id}/activations
func (h *AdminHandler) ListActivations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	list, err := h.admin.ListActivations(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "key"))
		return
	}
	render.JSON(w, r, list)
}

// ExportActivations handles GET /admin/keys/{id}/activations/export?format=csv|xlsx
func (h *AdminHandler) ExportActivations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	format, err := exporter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{
			{Field: "format", Message: err.Error()},
		}))
		return
	}

	list, err := h.admin.ListActivations(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "key"))
		return
	}

	var buf bytes.Buffer
	if err := exporter.Write(&buf, format, list); err != nil {
		h.errorHandler.HandleError(w, r, fmt.Errorf("export activations: %w", err))
		return
	}

	h.logger.InfoContext(r.Context(), "activations exported",
		slog.String("key_id", list.KeyID),
		slog.String("format", string(format)),
		slog.Int("rows", len(list.Activations)),
	)

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", format.Filename(list.KeyID, list.GeneratedAt)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// DeleteActivation handles DELETE /admin/activations/{id}
func (h *AdminHandler) DeleteActivation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.admin.DeleteActivation(r.Context(), id); err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "activation"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePlugin handles POST /admin/plugins
func (h *AdminHandler) CreatePlugin(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePluginRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	p, err := h.admin.CreatePlugin(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "plugin"))
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, p)
}

// CreateGroup handles POST /admin/groups
func (h *AdminHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req api.CreateGroupRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	g, err := h.admin.CreateGroup(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "group"))
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, g)
}

// AddBlacklistEntry handles POST /admin/blacklist
func (h *AdminHandler) AddBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	var req api.BlacklistRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	e, err := h.admin.AddBlacklistEntry(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "activation"))
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, e)
}

// DeleteBlacklistEntry handles DELETE /admin/blacklist/{id}
func (h *AdminHandler) DeleteBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.admin.DeleteBlacklistEntry(r.Context(), id); err != nil {
		h.errorHandler.HandleError(w, r, translate(err, "blacklist entry"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.New(http.StatusBadRequest, "INVALID_ID", "id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
