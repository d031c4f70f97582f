package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"event-ticketing/internal/status"
	"event-ticketing/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

// Store owns the durable seat state for every event. It is the only
// component allowed to flip a seat's booked flag; the booking service and
// the admission verifier act through it.
type Store struct {
	app   core.App
	cache *AvailabilityCache
}

func NewStore(app core.App, cache *AvailabilityCache) *Store {
	return &Store{app: app, cache: cache}
}

// TryReserveSeat transitions a seat from free to booked. The update is
// conditional on the current booked flag, so concurrent callers racing on
// the same (event, seat) key observe exactly one success. The reservation
// ref becomes the seat's weak back-reference to its ticket.
func (s *Store) TryReserveSeat(ctx context.Context, eventID, seatNo, ref string) (bool, error) {
	res, err := s.app.DB().NewQuery(
		"UPDATE seats SET booked = TRUE, ticket = {:ref}, updated = {:now}" +
			" WHERE event = {:event} AND seat_no = {:seat} AND booked = FALSE",
	).Bind(dbx.Params{
		"ref":   ref,
		"now":   types.NowDateTime().String(),
		"event": eventID,
		"seat":  seatNo,
	}).WithContext(ctx).Execute()
	if err != nil {
		return false, fmt.Errorf("reserve seat %s of event %s: %w", seatNo, eventID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	s.refreshCache(ctx, eventID, seatNo, true)
	return true, nil
}

// ReleaseSeat transitions a seat from booked back to free. A second call
// for the same seat is a no-op and returns false.
func (s *Store) ReleaseSeat(ctx context.Context, eventID, seatNo string) (bool, error) {
	res, err := s.app.DB().NewQuery(
		"UPDATE seats SET booked = FALSE, ticket = '', updated = {:now}" +
			" WHERE event = {:event} AND seat_no = {:seat} AND booked = TRUE",
	).Bind(dbx.Params{
		"now":   types.NowDateTime().String(),
		"event": eventID,
		"seat":  seatNo,
	}).WithContext(ctx).Execute()
	if err != nil {
		return false, fmt.Errorf("release seat %s of event %s: %w", seatNo, eventID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	s.refreshCache(ctx, eventID, seatNo, false)
	return true, nil
}

// FindSeat resolves a single (event, seat) pair to its current state.
func (s *Store) FindSeat(ctx context.Context, eventID, seatNo string) (*models.Seat, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"seats",
		"event = {:event} && seat_no = {:seat}",
		dbx.Params{"event": eventID, "seat": seatNo},
	)
	if err != nil {
		if isNoRows(err) {
			return nil, status.ErrSeatNotFound
		}
		return nil, fmt.Errorf("find seat %s of event %s: %w", seatNo, eventID, err)
	}
	return seatFromRecord(record), nil
}

type seatRow struct {
	ID     string `db:"id"`
	Event  string `db:"event"`
	SeatNo string `db:"seat_no"`
	Booked bool   `db:"booked"`
	Ticket string `db:"ticket"`
}

// ListSeats returns every seat of an event in seat order.
func (s *Store) ListSeats(ctx context.Context, eventID string) ([]models.Seat, error) {
	if _, err := s.FindEvent(ctx, eventID); err != nil {
		return nil, err
	}

	rows := []seatRow{}
	err := s.app.DB().
		Select("id", "event", "seat_no", "booked", "ticket").
		From("seats").
		Where(dbx.HashExp{"event": eventID}).
		// S2 sorts before S10 with plain text ordering, so order by label
		// length first.
		OrderBy("length(seat_no) ASC", "seat_no ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list seats of event %s: %w", eventID, err)
	}

	seats := make([]models.Seat, len(rows))
	for i, row := range rows {
		seats[i] = models.Seat{
			ID:       row.ID,
			EventID:  row.Event,
			SeatNo:   row.SeatNo,
			Booked:   row.Booked,
			TicketID: row.Ticket,
		}
	}
	return seats, nil
}

// ListAvailableSeats returns the free seats of an event in seat order.
func (s *Store) ListAvailableSeats(ctx context.Context, eventID string) ([]models.Seat, error) {
	seats, err := s.ListSeats(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return availableSeats(seats), nil
}

func availableSeats(seats []models.Seat) []models.Seat {
	available := make([]models.Seat, 0, len(seats))
	for _, seat := range seats {
		if !seat.Booked {
			available = append(available, seat)
		}
	}
	return available
}

func (s *Store) FindEvent(ctx context.Context, eventID string) (*models.Event, error) {
	record, err := s.app.FindRecordById("events", eventID)
	if err != nil {
		if isNoRows(err) {
			return nil, status.ErrEventNotFound
		}
		return nil, fmt.Errorf("find event %s: %w", eventID, err)
	}
	return eventFromRecord(record), nil
}

// CreateEvent persists a new event together with its full seat inventory.
// The two are saved in one transaction so no reader ever observes an event
// without its seats, and the inventory is never resized afterwards.
func (s *Store) CreateEvent(ctx context.Context, ev *models.Event) (*models.Event, error) {
	var created *core.Record

	err := s.app.RunInTransaction(func(txApp core.App) error {
		events, err := txApp.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		seats, err := txApp.FindCollectionByNameOrId("seats")
		if err != nil {
			return err
		}

		record := core.NewRecord(events)
		record.Set("name", ev.Name)
		record.Set("description", ev.Description)
		record.Set("venue", ev.Venue)
		record.Set("date", ev.Date)
		record.Set("start_time", ev.StartTime)
		record.Set("end_time", ev.EndTime)
		record.Set("price", ev.Price.InexactFloat64())
		record.Set("total_seats", ev.TotalSeats)
		record.Set("status", ev.Status)
		record.Set("popularity", ev.Popularity)
		if err := txApp.Save(record); err != nil {
			return fmt.Errorf("save event: %w", err)
		}

		for _, seatNo := range models.SeatNumbers(ev.TotalSeats) {
			seat := core.NewRecord(seats)
			seat.Set("event", record.Id)
			seat.Set("seat_no", seatNo)
			seat.Set("booked", false)
			if err := txApp.Save(seat); err != nil {
				return fmt.Errorf("save seat %s: %w", seatNo, err)
			}
		}

		created = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	return eventFromRecord(created), nil
}

// ListEvents returns events ordered by date, optionally filtered by status
// and by a case-insensitive name search.
func (s *Store) ListEvents(ctx context.Context, statusFilter, search string) ([]models.Event, error) {
	filter := "id != ''"
	params := dbx.Params{}
	if statusFilter != "" {
		filter += " && status = {:status}"
		params["status"] = statusFilter
	}
	if search != "" {
		filter += " && name ~ {:search}"
		params["search"] = search
	}

	records, err := s.app.FindRecordsByFilter("events", filter, "date", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]models.Event, len(records))
	for i, record := range records {
		events[i] = *eventFromRecord(record)
	}
	return events, nil
}

// refreshCache mirrors a seat transition into Redis. The mirror is advisory
// only; a failed refresh is logged and never fails the transition.
func (s *Store) refreshCache(ctx context.Context, eventID, seatNo string, booked bool) {
	if s.cache == nil {
		return
	}

	var err error
	if booked {
		err = s.cache.MarkBooked(ctx, eventID, seatNo)
	} else {
		err = s.cache.MarkFree(ctx, eventID, seatNo)
	}
	if err != nil {
		slog.Error("seat cache refresh failed",
			"event_id", eventID,
			"seat_no", seatNo,
			"booked", booked,
			"error", err,
		)
	}
}

func seatFromRecord(record *core.Record) *models.Seat {
	return &models.Seat{
		ID:       record.Id,
		EventID:  record.GetString("event"),
		SeatNo:   record.GetString("seat_no"),
		Booked:   record.GetBool("booked"),
		TicketID: record.GetString("ticket"),
	}
}

func eventFromRecord(record *core.Record) *models.Event {
	return &models.Event{
		ID:          record.Id,
		Name:        record.GetString("name"),
		Description: record.GetString("description"),
		Venue:       record.GetString("venue"),
		Date:        record.GetDateTime("date").Time(),
		StartTime:   record.GetString("start_time"),
		EndTime:     record.GetString("end_time"),
		Price:       decimal.NewFromFloat(record.GetFloat("price")),
		TotalSeats:  record.GetInt("total_seats"),
		Status:      record.GetString("status"),
		Popularity:  record.GetString("popularity"),
	}
}
