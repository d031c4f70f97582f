package status

import (
	"errors"
	"fmt"
)

var (
	ErrEventNotFound    = errors.New("event: event not found")
	ErrSeatNotFound     = errors.New("seat: seat not found")
	ErrSeatUnavailable  = errors.New("seat: seat unavailable")
	ErrDuplicateBooking = errors.New("booking: user already booked a seat for this event")
	ErrTicketNotFound   = errors.New("ticket: ticket not found")
	ErrAlreadyCheckedIn = errors.New("ticket: already checked in")
	ErrTokenInvalid     = errors.New("token: invalid admission token")
	ErrTokenExpired     = errors.New("token: admission token expired")
)

// PartialFailureError reports a booking or cancellation that could not be
// fully rolled back or completed. The seat/ticket pair it names may need
// out-of-band reconciliation; callers must never swallow it.
type PartialFailureError struct {
	Op      string // "book" or "cancel"
	EventID string
	SeatNo  string
	Cause   error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: partial failure on event %s seat %s: %v", e.Op, e.EventID, e.SeatNo, e.Cause)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Cause
}

// IsPartialFailure reports whether err carries an unreconciled seat state.
func IsPartialFailure(err error) bool {
	var pf *PartialFailureError
	return errors.As(err, &pf)
}
