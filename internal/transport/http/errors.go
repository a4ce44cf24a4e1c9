package http

import (
	"errors"
	"net/http"

	apierrors "plughub/internal/errors"
	"plughub/internal/license"
	"plughub/internal/store"
)

// translate maps engine and store errors onto API errors. Anything it does not
// recognise is passed through for the error handler to render as a 500.
func translate(err error, resource string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apierrors.NotFoundError(resource)
	case errors.Is(err, store.ErrDuplicate):
		return apierrors.ConflictError(resource + " already exists")
	case errors.Is(err, store.ErrInvalidTransition):
		return apierrors.New(http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, license.ErrInvalidDomain):
		return apierrors.NewValidationErrors([]apierrors.ValidationError{
			{Field: "site_domain", Message: err.Error()},
		})
	case errors.Is(err, license.ErrIncompleteDeactivation):
		return apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, license.ErrBatchTooLarge):
		return apierrors.NewValidationErrors([]apierrors.ValidationError{
			{Field: "plugin_slugs", Message: err.Error()},
		})
	}
	return err
}
