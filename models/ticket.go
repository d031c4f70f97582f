package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Ticket struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	EventID     string          `json:"event_id"`
	SeatNo      string          `json:"seat_no"`
	PricePaid   decimal.Decimal `json:"price_paid"` // snapshot of event price at booking time
	QRToken     string          `json:"qr_token"`
	RefCode     string          `json:"ref_code"`
	CheckedInAt *time.Time      `json:"checked_in_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CheckedIn reports whether the ticket has already been scanned at the venue.
// The check-in transition is one-way; a set timestamp is never cleared.
func (t *Ticket) CheckedIn() bool {
	return t.CheckedInAt != nil && !t.CheckedInAt.IsZero()
}
