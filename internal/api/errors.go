package api

import (
	"errors"
	"net/http"

	"github.com/cinelog/cinelog-api/internal/domain"
	"github.com/cinelog/cinelog-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type, so handlers never leak internal error
// strings into status decisions.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTask):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrItemNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}

// SafeErrorMessage returns a sanitized, user-facing message for the error.
func SafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, domain.ErrInvalidTask):
		return "Invalid task request"
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrItemNotFound):
		return "Item not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return "Operation not allowed in the task's current state"
	default:
		return "An unexpected error occurred"
	}
}
