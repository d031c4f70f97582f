package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"event-ticketing/internal/clock"
	"event-ticketing/internal/status"
	"event-ticketing/models"
	"event-ticketing/utils"
)

// SeatStore is the slice of the inventory store the coordinator acts
// through. It never flips seat flags itself.
type SeatStore interface {
	TryReserveSeat(ctx context.Context, eventID, seatNo, ref string) (bool, error)
	ReleaseSeat(ctx context.Context, eventID, seatNo string) (bool, error)
	FindEvent(ctx context.Context, eventID string) (*models.Event, error)
}

type TicketRepo interface {
	CreateTicket(ctx context.Context, t *models.Ticket) error
	FindTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	FindTicketByUserEvent(ctx context.Context, userID, eventID string) (*models.Ticket, error)
	DeleteTicket(ctx context.Context, ticketID string) error
}

type TokenIssuer interface {
	Issue(userID, eventID, seatNo string, ttl time.Duration) (string, error)
}

type Notifier interface {
	SeatBooked(ctx context.Context, ticket models.Ticket)
	BookingCancelled(ctx context.Context, ticket models.Ticket)
}

// Service is the reservation coordinator: it owns the booking and
// cancellation protocol and the one-seat-per-user, one-user-per-seat
// guarantees.
type Service struct {
	store    SeatStore
	tickets  TicketRepo
	tokens   TokenIssuer
	notifier Notifier
	clock    clock.Clock
	tokenTTL time.Duration

	userEventLocks *keyedMutex
}

func NewService(store SeatStore, tickets TicketRepo, tokens TokenIssuer, notifier Notifier, clk clock.Clock, tokenTTL time.Duration) *Service {
	return &Service{
		store:          store,
		tickets:        tickets,
		tokens:         tokens,
		notifier:       notifier,
		clock:          clk,
		tokenTTL:       tokenTTL,
		userEventLocks: newKeyedMutex(),
	}
}

// Book reserves seatNo of eventID for userID and returns the new ticket.
// The ticket record is the commit point: its existence is the sole proof
// the booking succeeded. Any failure after the seat flip rolls the seat
// back before returning.
func (s *Service) Book(ctx context.Context, userID, eventID, seatNo string) (*models.Ticket, error) {
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	// Serialize per (user, event) so the duplicate check and the seat flip
	// below cannot interleave for the same user. The unique index on
	// tickets(user, event) backstops deployments with multiple instances.
	unlock := s.userEventLocks.Lock(userID + ":" + eventID)
	defer unlock()

	existing, err := s.tickets.FindTicketByUserEvent(ctx, userID, eventID)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if existing != nil {
		return nil, status.ErrDuplicateBooking
	}

	// The reservation ref lands in the seat's weak ticket back-reference
	// and on the ticket itself, tying the two records together.
	ref, err := utils.GenerateCode(8)
	if err != nil {
		return nil, fmt.Errorf("generate reservation ref: %w", err)
	}

	reserved, err := s.store.TryReserveSeat(ctx, eventID, seatNo, ref)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, status.ErrSeatUnavailable
	}

	token, err := s.tokens.Issue(userID, eventID, seatNo, s.tokenTTL)
	if err != nil {
		return nil, s.compensate(ctx, eventID, seatNo, fmt.Errorf("issue admission token: %w", err))
	}

	ticket := &models.Ticket{
		UserID:    userID,
		EventID:   eventID,
		SeatNo:    seatNo,
		PricePaid: event.Price,
		QRToken:   token,
		RefCode:   ref,
		CreatedAt: s.clock.Now(),
	}

	if err := s.tickets.CreateTicket(ctx, ticket); err != nil {
		return nil, s.compensate(ctx, eventID, seatNo, err)
	}

	slog.Info("seat booked",
		"event_id", eventID,
		"seat_no", seatNo,
		"user_id", userID,
		"ticket_id", ticket.ID,
	)

	if s.notifier != nil {
		s.notifier.SeatBooked(ctx, *ticket)
	}

	return ticket, nil
}

// Cancel deletes the caller's ticket and frees its seat. A seat found
// already free is tolerated; a ticket left behind after the seat was freed
// is not, and surfaces as a partial failure.
func (s *Service) Cancel(ctx context.Context, ticketID, userID string) error {
	ticket, err := s.tickets.FindTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.UserID != userID {
		// Not the owner: report absent rather than leaking who holds it.
		return status.ErrTicketNotFound
	}

	released, err := s.store.ReleaseSeat(ctx, ticket.EventID, ticket.SeatNo)
	if err != nil {
		// Nothing mutated yet; the ticket is still intact.
		return fmt.Errorf("release seat %s of event %s: %w", ticket.SeatNo, ticket.EventID, err)
	}
	if !released {
		slog.Warn("cancel found seat already free",
			"event_id", ticket.EventID,
			"seat_no", ticket.SeatNo,
			"ticket_id", ticketID,
		)
	}

	if err := s.tickets.DeleteTicket(ctx, ticketID); err != nil {
		return &status.PartialFailureError{
			Op:      "cancel",
			EventID: ticket.EventID,
			SeatNo:  ticket.SeatNo,
			Cause:   fmt.Errorf("seat freed but ticket not deleted: %w", err),
		}
	}

	slog.Info("booking cancelled",
		"event_id", ticket.EventID,
		"seat_no", ticket.SeatNo,
		"ticket_id", ticketID,
	)

	if s.notifier != nil {
		s.notifier.BookingCancelled(ctx, *ticket)
	}

	return nil
}

// compensate rolls back a reserved seat after a downstream failure. It
// returns cause unchanged when the rollback lands, and a partial failure
// carrying both errors when the seat could not be freed.
func (s *Service) compensate(ctx context.Context, eventID, seatNo string, cause error) error {
	released, err := s.store.ReleaseSeat(ctx, eventID, seatNo)
	if err != nil {
		slog.Error("seat rollback failed, seat left booked without a ticket",
			"event_id", eventID,
			"seat_no", seatNo,
			"cause", cause,
			"error", err,
		)
		return &status.PartialFailureError{
			Op:      "book",
			EventID: eventID,
			SeatNo:  seatNo,
			Cause:   errors.Join(cause, err),
		}
	}
	if !released {
		slog.Warn("seat rollback found seat already free",
			"event_id", eventID,
			"seat_no", seatNo,
		)
	}
	return cause
}
