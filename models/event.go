package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Venue       string          `json:"venue"`
	Date        time.Time       `json:"date"`
	StartTime   string          `json:"start_time"`
	EndTime     string          `json:"end_time"`
	Price       decimal.Decimal `json:"price"`
	TotalSeats  int             `json:"total_seats"`
	Status      string          `json:"status"`     // upcoming, pending, closed
	Popularity  string          `json:"popularity"` // new, trending, popular
}

type Seat struct {
	ID       string `json:"id"`
	EventID  string `json:"event_id"`
	SeatNo   string `json:"seat_no"`
	Booked   bool   `json:"booked"`
	TicketID string `json:"ticket_id,omitempty"` // weak back-reference, reconciled on cancel
}

// SeatNumbers returns the seat labels S1..Sn generated for a new event.
// The inventory is fixed at creation and never resized afterwards.
func SeatNumbers(totalSeats int) []string {
	numbers := make([]string, totalSeats)
	for i := range numbers {
		numbers[i] = fmt.Sprintf("S%d", i+1)
	}
	return numbers
}
