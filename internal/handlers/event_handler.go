package handlers

import (
	"fmt"
	"net/http"
	"time"

	"event-ticketing/internal/inventory"
	"event-ticketing/internal/notify"
	"event-ticketing/models"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

type EventHandler struct {
	app      *pocketbase.PocketBase
	store    *inventory.Store
	cache    *inventory.AvailabilityCache
	notifier *notify.Notifier
}

func NewEventHandler(app *pocketbase.PocketBase, store *inventory.Store, cache *inventory.AvailabilityCache, notifier *notify.Notifier) *EventHandler {
	return &EventHandler{
		app:      app,
		store:    store,
		cache:    cache,
		notifier: notifier,
	}
}

// Create persists a new event together with its generated seat inventory.
func (h *EventHandler) Create(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	var req struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Date        string  `json:"date"`
		Venue       string  `json:"venue"`
		StartTime   string  `json:"start_time"`
		EndTime     string  `json:"end_time"`
		Price       float64 `json:"price"`
		TotalSeats  int     `json:"total_seats"`
		Status      string  `json:"status"`
		Popularity  string  `json:"popularity"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Name == "" || req.Date == "" {
		return apis.NewBadRequestError("name and date are required", nil)
	}

	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		return apis.NewBadRequestError("date must be RFC3339", err)
	}

	if req.TotalSeats <= 0 {
		req.TotalSeats = 50
	}
	if !validEventStatus(req.Status) {
		req.Status = "upcoming"
	}
	if req.Popularity == "" {
		req.Popularity = "new"
	}

	event, err := h.store.CreateEvent(e.Request.Context(), &models.Event{
		Name:        req.Name,
		Description: req.Description,
		Venue:       req.Venue,
		Date:        date,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Price:       decimal.NewFromFloat(req.Price),
		TotalSeats:  req.TotalSeats,
		Status:      req.Status,
		Popularity:  req.Popularity,
	})
	if err != nil {
		return apiError(err, "Failed to create event")
	}

	if h.notifier != nil {
		h.notifier.EventCreated(e.Request.Context(), *event)
	}

	return e.JSON(http.StatusOK, event)
}

// List returns events ordered by date with optional status filter and
// title search.
func (h *EventHandler) List(e *core.RequestEvent) error {
	query := e.Request.URL.Query()

	events, err := h.store.ListEvents(e.Request.Context(), query.Get("status"), query.Get("q"))
	if err != nil {
		return apiError(err, "Failed to list events")
	}

	return e.JSON(http.StatusOK, events)
}

func (h *EventHandler) Get(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")

	event, err := h.store.FindEvent(e.Request.Context(), eventID)
	if err != nil {
		return apiError(err, "Event not found")
	}

	return e.JSON(http.StatusOK, event)
}

// Seats returns the seat map of an event from the authoritative store.
// With ?available=true only the free seats come back, for pickers that do
// not care about the taken ones.
func (h *EventHandler) Seats(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")

	if e.Request.URL.Query().Get("available") == "true" {
		seats, err := h.store.ListAvailableSeats(e.Request.Context(), eventID)
		if err != nil {
			return apiError(err, "Event not found")
		}
		return e.JSON(http.StatusOK, map[string]any{
			"seats":           seats,
			"available_seats": len(seats),
		})
	}

	seats, err := h.store.ListSeats(e.Request.Context(), eventID)
	if err != nil {
		return apiError(err, "Event not found")
	}

	available := 0
	for _, seat := range seats {
		if !seat.Booked {
			available++
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"seats":           seats,
		"total_seats":     len(seats),
		"available_seats": available,
	})
}

// Seat reports the current state of one seat, for pre-booking checks.
func (h *EventHandler) Seat(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	seatNo := e.Request.PathValue("seatNo")
	if seatNo == "" {
		return apis.NewBadRequestError("Seat number is required", nil)
	}

	seat, err := h.store.FindSeat(e.Request.Context(), eventID, seatNo)
	if err != nil {
		return apiError(err, fmt.Sprintf("Seat %s not found", seatNo))
	}

	return e.JSON(http.StatusOK, seat)
}

// Availability reports cached seat status for seat-map polling without
// touching the database.
func (h *EventHandler) Availability(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")

	seats, err := h.store.ListSeats(e.Request.Context(), eventID)
	if err != nil {
		return apiError(err, "Event not found")
	}

	seatNos := make([]string, len(seats))
	for i, seat := range seats {
		seatNos[i] = seat.SeatNo
	}

	availability, err := h.cache.Availability(e.Request.Context(), eventID, seatNos)
	if err != nil {
		return apiError(err, "Failed to read availability")
	}

	return e.JSON(http.StatusOK, map[string]any{"availability": availability})
}

func validEventStatus(s string) bool {
	switch s {
	case "upcoming", "pending", "closed":
		return true
	}
	return false
}
