package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"event-ticketing/internal/admission"
	"event-ticketing/internal/booking"
	"event-ticketing/internal/inventory"
	"event-ticketing/internal/notify"
	"event-ticketing/internal/status"
	"event-ticketing/monitoring"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type TicketHandler struct {
	app       *pocketbase.PocketBase
	booking   *booking.Service
	admission *admission.Verifier
	tickets   *inventory.TicketRepo
	notifier  *notify.Notifier
	monitor   *monitoring.Monitor
}

func NewTicketHandler(app *pocketbase.PocketBase, bookingService *booking.Service, verifier *admission.Verifier, tickets *inventory.TicketRepo, notifier *notify.Notifier, monitor *monitoring.Monitor) *TicketHandler {
	return &TicketHandler{
		app:       app,
		booking:   bookingService,
		admission: verifier,
		tickets:   tickets,
		notifier:  notifier,
		monitor:   monitor,
	}
}

// Book reserves a seat for the authenticated user.
func (h *TicketHandler) Book(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID string `json:"event_id"`
		SeatNo  string `json:"seat_no"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" || req.SeatNo == "" {
		return apis.NewBadRequestError("event_id and seat_no are required", nil)
	}

	started := time.Now()
	ticket, err := h.booking.Book(e.Request.Context(), e.Auth.Id, req.EventID, req.SeatNo)
	h.track("book", req.EventID, err, started)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrEventNotFound):
			return apiError(err, "Event not found")
		case errors.Is(err, status.ErrSeatUnavailable):
			return apiError(err, fmt.Sprintf("Seat %s is unavailable", req.SeatNo))
		case errors.Is(err, status.ErrDuplicateBooking):
			return apiError(err, "You already booked a seat for this event")
		default:
			return apiError(err, "Failed to book seat")
		}
	}

	return e.JSON(http.StatusOK, ticket)
}

// Cancel deletes the caller's ticket and frees its seat.
func (h *TicketHandler) Cancel(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticketID := e.Request.PathValue("id")
	if ticketID == "" {
		return apis.NewBadRequestError("Ticket id is required", nil)
	}

	started := time.Now()
	err := h.booking.Cancel(e.Request.Context(), ticketID, e.Auth.Id)
	h.track("cancel", "", err, started)
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			return apiError(err, "Ticket not found")
		}
		return apiError(err, "Failed to cancel ticket")
	}

	return e.JSON(http.StatusOK, map[string]string{"message": "Ticket deleted successfully"})
}

// CheckIn validates a scanned admission token and stamps the ticket.
func (h *TicketHandler) CheckIn(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Token == "" {
		return apis.NewBadRequestError("token is required", nil)
	}

	started := time.Now()
	ticket, err := h.admission.CheckIn(e.Request.Context(), req.Token)
	h.track("checkin", "", err, started)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTokenExpired):
			return apiError(err, "Admission token expired")
		case errors.Is(err, status.ErrTokenInvalid):
			return apiError(err, "Invalid admission token")
		case errors.Is(err, status.ErrTicketNotFound):
			return apiError(err, "Ticket not found")
		case errors.Is(err, status.ErrAlreadyCheckedIn):
			return apiError(err, "Already checked in")
		default:
			return apiError(err, "Check-in failed")
		}
	}

	if h.notifier != nil {
		h.notifier.TicketCheckedIn(e.Request.Context(), *ticket)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"ok":     true,
		"ticket": ticket,
	})
}

// Mine lists the caller's tickets.
func (h *TicketHandler) Mine(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	tickets, err := h.tickets.ListTicketsByUser(e.Request.Context(), e.Auth.Id)
	if err != nil {
		return apiError(err, "Failed to list tickets")
	}

	return e.JSON(http.StatusOK, tickets)
}

// ByEvent lists every ticket of an event, for admins.
func (h *TicketHandler) ByEvent(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event id is required", nil)
	}

	tickets, err := h.tickets.ListTicketsByEvent(e.Request.Context(), eventID)
	if err != nil {
		return apiError(err, "Failed to list tickets")
	}

	return e.JSON(http.StatusOK, tickets)
}

// QR renders the ticket's admission token as a PNG for the owner.
func (h *TicketHandler) QR(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticketID := e.Request.PathValue("id")
	ticket, err := h.tickets.FindTicket(e.Request.Context(), ticketID)
	if err != nil {
		return apiError(err, "Ticket not found")
	}
	if ticket.UserID != e.Auth.Id && !isAdmin(e) {
		return apiError(status.ErrTicketNotFound, "Ticket not found")
	}

	png, err := admission.TokenQR(ticket.QRToken, 256)
	if err != nil {
		return apiError(err, "Failed to render QR code")
	}

	e.Response.Header().Set("Content-Type", "image/png")
	e.Response.WriteHeader(http.StatusOK)
	_, err = e.Response.Write(png)
	return err
}

func (h *TicketHandler) track(operation, eventID string, err error, started time.Time) {
	if h.monitor == nil {
		return
	}

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, status.ErrSeatUnavailable):
		outcome = "seat_unavailable"
	case errors.Is(err, status.ErrDuplicateBooking):
		outcome = "duplicate_booking"
	case errors.Is(err, status.ErrAlreadyCheckedIn):
		outcome = "already_checked_in"
	case status.IsPartialFailure(err):
		outcome = "partial_failure"
	default:
		outcome = "error"
	}

	h.monitor.TrackOperation(operation, eventID, outcome)
	h.monitor.TrackDuration(operation, time.Since(started))
}

func isAdmin(e *core.RequestEvent) bool {
	return e.Auth != nil && e.Auth.GetString("role") == "admin"
}

func requireAdmin(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	if !isAdmin(e) {
		return apis.NewForbiddenError("Admin role required", nil)
	}
	return nil
}
