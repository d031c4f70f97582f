package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"event-ticketing/models"
	"event-ticketing/utils"

	"github.com/google/uuid"
	pubnub "github.com/pubnub/go"
)

// Notifier publishes booking lifecycle notifications over PubNub. Delivery
// is fire-and-forget: a failed publish is logged and counted by the breaker
// but never fails the operation that triggered it.
type Notifier struct {
	pubnub  *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewNotifier(pn *pubnub.PubNub) *Notifier {
	return &Notifier{
		pubnub:  pn,
		breaker: utils.NewCircuitBreaker("pubnub-publish"),
	}
}

func (n *Notifier) SeatBooked(ctx context.Context, ticket models.Ticket) {
	n.publish(fmt.Sprintf("user-%s", ticket.UserID), map[string]any{
		"type":     "booking_confirmed",
		"event_id": ticket.EventID,
		"seat_no":  ticket.SeatNo,
		"message":  fmt.Sprintf("Seat %s booked", ticket.SeatNo),
	})
	n.publish("admin-notifications", map[string]any{
		"type":      "seat_booked",
		"event_id":  ticket.EventID,
		"seat_no":   ticket.SeatNo,
		"user_id":   ticket.UserID,
		"booked_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *Notifier) BookingCancelled(ctx context.Context, ticket models.Ticket) {
	n.publish(fmt.Sprintf("user-%s", ticket.UserID), map[string]any{
		"type":     "booking_cancelled",
		"event_id": ticket.EventID,
		"seat_no":  ticket.SeatNo,
		"message":  fmt.Sprintf("Ticket for seat %s cancelled", ticket.SeatNo),
	})
}

func (n *Notifier) TicketCheckedIn(ctx context.Context, ticket models.Ticket) {
	n.publish("admin-notifications", map[string]any{
		"type":     "ticket_checked_in",
		"event_id": ticket.EventID,
		"seat_no":  ticket.SeatNo,
		"user_id":  ticket.UserID,
	})
}

func (n *Notifier) EventCreated(ctx context.Context, event models.Event) {
	n.publish("events", map[string]any{
		"type":     "event_created",
		"event_id": event.ID,
		"message":  fmt.Sprintf("Event %q has been created", event.Name),
	})
}

func (n *Notifier) publish(channel string, message map[string]any) {
	if n.pubnub == nil {
		return
	}

	// Consumers dedupe on this id; PubNub may redeliver.
	message["notification_id"] = uuid.New().String()

	go func() {
		_, err := n.breaker.Execute(context.Background(), func() (any, error) {
			_, _, err := n.pubnub.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return nil, err
		})
		if err != nil {
			slog.Error("notification publish failed",
				"channel", channel,
				"type", message["type"],
				"error", err,
			)
		}
	}()
}
