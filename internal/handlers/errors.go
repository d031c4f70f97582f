package handlers

import (
	"errors"
	"net/http"

	"event-ticketing/internal/status"

	"github.com/pocketbase/pocketbase/apis"
)

// apiError maps business outcomes to HTTP errors. Conflicts and invalid
// tokens carry an actionable message; storage faults stay opaque.
func apiError(err error, message string) error {
	switch {
	case errors.Is(err, status.ErrEventNotFound),
		errors.Is(err, status.ErrSeatNotFound),
		errors.Is(err, status.ErrTicketNotFound):
		return apis.NewNotFoundError(message, err)
	case errors.Is(err, status.ErrDuplicateBooking),
		errors.Is(err, status.ErrSeatUnavailable),
		errors.Is(err, status.ErrAlreadyCheckedIn):
		return apis.NewApiError(http.StatusConflict, message, err)
	case errors.Is(err, status.ErrTokenInvalid),
		errors.Is(err, status.ErrTokenExpired):
		return apis.NewBadRequestError(message, err)
	case status.IsPartialFailure(err):
		// Surfaced distinctly so operators reconcile the orphaned seat.
		return apis.NewApiError(http.StatusInternalServerError,
			"The operation did not fully complete; support has been notified.", err)
	default:
		return apis.NewApiError(http.StatusInternalServerError, "Something went wrong", err)
	}
}
