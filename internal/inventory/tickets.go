package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"event-ticketing/internal/status"
	"event-ticketing/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

// TicketRepo persists ticket records. A ticket existing is the sole proof a
// seat booking committed; everything else reconciles against it.
type TicketRepo struct {
	app core.App
}

func NewTicketRepo(app core.App) *TicketRepo {
	return &TicketRepo{app: app}
}

// CreateTicket saves a new ticket and fills in its generated id. The unique
// (user, event) index turns a lost duplicate-booking race into
// ErrDuplicateBooking instead of a second ticket.
func (r *TicketRepo) CreateTicket(ctx context.Context, t *models.Ticket) error {
	collection, err := r.app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("user", t.UserID)
	record.Set("event", t.EventID)
	record.Set("seat_no", t.SeatNo)
	record.Set("price_paid", t.PricePaid.InexactFloat64())
	record.Set("qr_token", t.QRToken)
	record.Set("ref_code", t.RefCode)

	if err := r.app.Save(record); err != nil {
		if isUniqueViolation(err) {
			return status.ErrDuplicateBooking
		}
		return fmt.Errorf("save ticket: %w", err)
	}

	t.ID = record.Id
	t.CreatedAt = record.GetDateTime("created").Time()
	return nil
}

func (r *TicketRepo) FindTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	record, err := r.app.FindRecordById("tickets", ticketID)
	if err != nil {
		if isNoRows(err) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket %s: %w", ticketID, err)
	}
	return ticketFromRecord(record), nil
}

// FindTicketByUserEvent returns the live ticket for (user, event), or nil
// when the user holds no seat for that event. A storage fault is propagated,
// never treated as absence: the duplicate-booking check must not pass on a
// failed read.
func (r *TicketRepo) FindTicketByUserEvent(ctx context.Context, userID, eventID string) (*models.Ticket, error) {
	record, err := r.app.FindFirstRecordByFilter(
		"tickets",
		"user = {:user} && event = {:event}",
		dbx.Params{"user": userID, "event": eventID},
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find ticket of user %s for event %s: %w", userID, eventID, err)
	}
	return ticketFromRecord(record), nil
}

// FindTicketByClaims resolves an admission token's (user, event, seat) triple
// back to its ticket record.
func (r *TicketRepo) FindTicketByClaims(ctx context.Context, userID, eventID, seatNo string) (*models.Ticket, error) {
	record, err := r.app.FindFirstRecordByFilter(
		"tickets",
		"user = {:user} && event = {:event} && seat_no = {:seat}",
		dbx.Params{"user": userID, "event": eventID, "seat": seatNo},
	)
	if err != nil {
		if isNoRows(err) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket by claims: %w", err)
	}
	return ticketFromRecord(record), nil
}

func (r *TicketRepo) ListTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	records, err := r.app.FindRecordsByFilter(
		"tickets",
		"user = {:user}",
		"-created",
		0,
		0,
		dbx.Params{"user": userID},
	)
	if err != nil {
		return nil, fmt.Errorf("list tickets of user %s: %w", userID, err)
	}
	return ticketsFromRecords(records), nil
}

func (r *TicketRepo) ListTicketsByEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	records, err := r.app.FindRecordsByFilter(
		"tickets",
		"event = {:event}",
		"-created",
		0,
		0,
		dbx.Params{"event": eventID},
	)
	if err != nil {
		return nil, fmt.Errorf("list tickets of event %s: %w", eventID, err)
	}
	return ticketsFromRecords(records), nil
}

func (r *TicketRepo) DeleteTicket(ctx context.Context, ticketID string) error {
	record, err := r.app.FindRecordById("tickets", ticketID)
	if err != nil {
		if isNoRows(err) {
			return status.ErrTicketNotFound
		}
		return fmt.Errorf("find ticket %s: %w", ticketID, err)
	}
	return r.app.Delete(record)
}

// SetCheckedIn stamps checked_in_at exactly once. The update is conditional
// on the field still being empty, so a racing second scan loses and reports
// false with the original timestamp untouched.
func (r *TicketRepo) SetCheckedIn(ctx context.Context, ticketID string, at time.Time) (bool, error) {
	dt, err := types.ParseDateTime(at)
	if err != nil {
		return false, err
	}

	res, err := r.app.DB().NewQuery(
		"UPDATE tickets SET checked_in_at = {:at}, updated = {:at}" +
			" WHERE id = {:id} AND (checked_in_at = '' OR checked_in_at IS NULL)",
	).Bind(dbx.Params{
		"at": dt.String(),
		"id": ticketID,
	}).WithContext(ctx).Execute()
	if err != nil {
		return false, fmt.Errorf("stamp check-in for ticket %s: %w", ticketID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SQLite reports the violated index by name; pocketbase surfaces the raw
// driver error for custom multi-column indexes.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isNoRows tells an empty result apart from a real storage fault. Record
// lookups surface the driver's sql.ErrNoRows when nothing matched.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func ticketFromRecord(record *core.Record) *models.Ticket {
	t := &models.Ticket{
		ID:        record.Id,
		UserID:    record.GetString("user"),
		EventID:   record.GetString("event"),
		SeatNo:    record.GetString("seat_no"),
		PricePaid: decimal.NewFromFloat(record.GetFloat("price_paid")),
		QRToken:   record.GetString("qr_token"),
		RefCode:   record.GetString("ref_code"),
		CreatedAt: record.GetDateTime("created").Time(),
	}

	if checkedIn := record.GetDateTime("checked_in_at"); !checkedIn.IsZero() {
		at := checkedIn.Time()
		t.CheckedInAt = &at
	}
	return t
}

func ticketsFromRecords(records []*core.Record) []models.Ticket {
	tickets := make([]models.Ticket, len(records))
	for i, record := range records {
		tickets[i] = *ticketFromRecord(record)
	}
	return tickets
}
