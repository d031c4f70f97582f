package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"event-ticketing/internal/clock"
	"event-ticketing/internal/status"
	"event-ticketing/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore mimics the inventory store's conditional-update semantics: a
// single mutex makes every transition atomic, like the database's
// conditional write does in production.
type fakeStore struct {
	mu          sync.Mutex
	events      map[string]*models.Event
	seats       map[string]*models.Seat // keyed event:seat_no
	failRelease bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events: make(map[string]*models.Event),
		seats:  make(map[string]*models.Seat),
	}
}

func (f *fakeStore) addEvent(eventID string, price decimal.Decimal, seatNos ...string) {
	f.events[eventID] = &models.Event{ID: eventID, Price: price, TotalSeats: len(seatNos)}
	for _, seatNo := range seatNos {
		f.seats[eventID+":"+seatNo] = &models.Seat{EventID: eventID, SeatNo: seatNo}
	}
}

func (f *fakeStore) TryReserveSeat(ctx context.Context, eventID, seatNo, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seat, ok := f.seats[eventID+":"+seatNo]
	if !ok || seat.Booked {
		return false, nil
	}
	seat.Booked = true
	seat.TicketID = ref
	return true, nil
}

func (f *fakeStore) ReleaseSeat(ctx context.Context, eventID, seatNo string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failRelease {
		return false, errors.New("storage down")
	}

	seat, ok := f.seats[eventID+":"+seatNo]
	if !ok || !seat.Booked {
		return false, nil
	}
	seat.Booked = false
	seat.TicketID = ""
	return true, nil
}

func (f *fakeStore) FindEvent(ctx context.Context, eventID string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	event, ok := f.events[eventID]
	if !ok {
		return nil, status.ErrEventNotFound
	}
	copied := *event
	return &copied, nil
}

func (f *fakeStore) seatBooked(eventID, seatNo string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seats[eventID+":"+seatNo].Booked
}

// fakeTickets enforces the unique (user, event) index the way the real
// collection does.
type fakeTickets struct {
	mu         sync.Mutex
	nextID     int
	byID       map[string]*models.Ticket
	failCreate bool
	failDelete bool
	failFind   bool
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{byID: make(map[string]*models.Ticket)}
}

func (f *fakeTickets) CreateTicket(ctx context.Context, t *models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreate {
		return errors.New("storage down")
	}
	for _, existing := range f.byID {
		if existing.UserID == t.UserID && existing.EventID == t.EventID {
			return status.ErrDuplicateBooking
		}
	}

	f.nextID++
	t.ID = fmt.Sprintf("ticket-%d", f.nextID)
	copied := *t
	f.byID[t.ID] = &copied
	return nil
}

func (f *fakeTickets) FindTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.byID[ticketID]
	if !ok {
		return nil, status.ErrTicketNotFound
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTickets) FindTicketByUserEvent(ctx context.Context, userID, eventID string) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFind {
		return nil, errors.New("storage down")
	}
	for _, t := range f.byID {
		if t.UserID == userID && t.EventID == eventID {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeTickets) DeleteTicket(ctx context.Context, ticketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failDelete {
		return errors.New("storage down")
	}
	if _, ok := f.byID[ticketID]; !ok {
		return status.ErrTicketNotFound
	}
	delete(f.byID, ticketID)
	return nil
}

func (f *fakeTickets) live() []models.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()

	tickets := make([]models.Ticket, 0, len(f.byID))
	for _, t := range f.byID {
		tickets = append(tickets, *t)
	}
	return tickets
}

type fakeIssuer struct {
	fail bool
}

func (f *fakeIssuer) Issue(userID, eventID, seatNo string, ttl time.Duration) (string, error) {
	if f.fail {
		return "", errors.New("signer unavailable")
	}
	return fmt.Sprintf("token-%s-%s-%s", userID, eventID, seatNo), nil
}

func setupTestService() (*Service, *fakeStore, *fakeTickets, *fakeIssuer) {
	store := newFakeStore()
	tickets := newFakeTickets()
	issuer := &fakeIssuer{}
	clk := clock.NewFixed(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	service := NewService(store, tickets, issuer, nil, clk, 72*time.Hour)
	return service, store, tickets, issuer
}

func TestService_Book_Success(t *testing.T) {
	service, store, tickets, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1", "S2")

	ticket, err := service.Book(context.Background(), "user-1", "event-1", "S1")

	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, "user-1", ticket.UserID)
	assert.Equal(t, "S1", ticket.SeatNo)
	assert.True(t, ticket.PricePaid.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "token-user-1-event-1-S1", ticket.QRToken)
	assert.NotEmpty(t, ticket.RefCode)
	assert.True(t, store.seatBooked("event-1", "S1"))
	assert.Len(t, tickets.live(), 1)
}

func TestService_Book_PriceSnapshotSurvivesPriceChange(t *testing.T) {
	service, store, _, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")

	ticket, err := service.Book(context.Background(), "user-1", "event-1", "S1")
	require.NoError(t, err)

	store.mu.Lock()
	store.events["event-1"].Price = decimal.NewFromInt(90)
	store.mu.Unlock()

	assert.True(t, ticket.PricePaid.Equal(decimal.NewFromInt(50)))
}

func TestService_Book_EventNotFound(t *testing.T) {
	service, _, _, _ := setupTestService()

	_, err := service.Book(context.Background(), "user-1", "missing", "S1")

	assert.ErrorIs(t, err, status.ErrEventNotFound)
}

func TestService_Book_SeatUnavailable(t *testing.T) {
	service, store, _, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")

	_, err := service.Book(context.Background(), "user-1", "event-1", "S1")
	require.NoError(t, err)

	_, err = service.Book(context.Background(), "user-2", "event-1", "S1")
	assert.ErrorIs(t, err, status.ErrSeatUnavailable)
}

func TestService_Book_UnknownSeat(t *testing.T) {
	service, store, _, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")

	_, err := service.Book(context.Background(), "user-1", "event-1", "S99")

	assert.ErrorIs(t, err, status.ErrSeatUnavailable)
}

func TestService_Book_DuplicateBooking(t *testing.T) {
	service, store, _, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1", "S2")

	_, err := service.Book(context.Background(), "user-1", "event-1", "S1")
	require.NoError(t, err)

	// Same user, different seat of the same event.
	_, err = service.Book(context.Background(), "user-1", "event-1", "S2")
	assert.ErrorIs(t, err, status.ErrDuplicateBooking)
	assert.False(t, store.seatBooked("event-1", "S2"))
}

func TestService_Book_DuplicateCheckFailureAbortsBeforeSeatFlip(t *testing.T) {
	service, store, tickets, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")
	tickets.failFind = true

	// A storage fault during the duplicate check must not read as "no
	// existing ticket": the booking aborts and the seat is never flipped.
	_, err := service.Book(context.Background(), "user-1", "event-1", "S1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, status.ErrDuplicateBooking)
	assert.False(t, store.seatBooked("event-1", "S1"))
	assert.Empty(t, tickets.live())

	tickets.failFind = false
	_, err = service.Book(context.Background(), "user-1", "event-1", "S1")
	assert.NoError(t, err)
}

func TestService_Book_NoDoubleBooking_Concurrent(t *testing.T) {
	service, store, tickets, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")

	const callers = 50
	results := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.Book(context.Background(), fmt.Sprintf("user-%d", i), "event-1", "S1")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	successes, unavailable := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, status.ErrSeatUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, unavailable)
	assert.Len(t, tickets.live(), 1)
}

func TestService_Book_OneTicketPerUserPerEvent_Concurrent(t *testing.T) {
	service, store, tickets, _ := setupTestService()

	seatNos := make([]string, 50)
	for i := range seatNos {
		seatNos[i] = fmt.Sprintf("S%d", i+1)
	}
	store.addEvent("event-1", decimal.NewFromInt(50), seatNos...)

	results := make(chan error, len(seatNos))

	var wg sync.WaitGroup
	for _, seatNo := range seatNos {
		wg.Add(1)
		go func(seatNo string) {
			defer wg.Done()
			_, err := service.Book(context.Background(), "user-1", "event-1", seatNo)
			results <- err
		}(seatNo)
	}
	wg.Wait()
	close(results)

	successes, duplicates := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, status.ErrDuplicateBooking):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(seatNos)-1, duplicates)
	assert.Len(t, tickets.live(), 1)
}

func TestService_Book_TokenFailureRollsBackSeat(t *testing.T) {
	service, store, tickets, issuer := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")
	issuer.fail = true

	_, err := service.Book(context.Background(), "user-1", "event-1", "S1")

	require.Error(t, err)
	assert.False(t, status.IsPartialFailure(err))
	assert.False(t, store.seatBooked("event-1", "S1"))
	assert.Empty(t, tickets.live())

	// The rolled-back seat is bookable again.
	issuer.fail = false
	_, err = service.Book(context.Background(), "user-2", "event-1", "S1")
	assert.NoError(t, err)
}

func TestService_Book_TicketCreateFailureRollsBackSeat(t *testing.T) {
	service, store, tickets, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")
	tickets.failCreate = true

	_, err := service.Book(context.Background(), "user-1", "event-1", "S1")

	require.Error(t, err)
	assert.False(t, store.seatBooked("event-1", "S1"))
}

func TestService_Book_RollbackFailureIsPartialFailure(t *testing.T) {
	service, store, tickets, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")
	tickets.failCreate = true

	// Fail the compensating release after the seat flip succeeded.
	origReserve := store.seatBooked("event-1", "S1")
	require.False(t, origReserve)
	store.failRelease = true

	_, err := service.Book(context.Background(), "user-1", "event-1", "S1")

	require.Error(t, err)
	assert.True(t, status.IsPartialFailure(err))
	// The orphaned seat is exactly what partial failure reports for
	// out-of-band reconciliation.
	store.failRelease = false
	assert.True(t, store.seatBooked("event-1", "S1"))
}

func TestService_Cancel_FreesSeatForAnotherUser(t *testing.T) {
	service, store, _, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1", "S2", "S3")

	ticket, err := service.Book(context.Background(), "user-1", "event-1", "S3")
	require.NoError(t, err)

	err = service.Cancel(context.Background(), ticket.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, store.seatBooked("event-1", "S3"))

	_, err = service.Book(context.Background(), "user-2", "event-1", "S3")
	assert.NoError(t, err)
}

func TestService_Cancel_NotFound(t *testing.T) {
	service, _, _, _ := setupTestService()

	err := service.Cancel(context.Background(), "missing", "user-1")

	assert.ErrorIs(t, err, status.ErrTicketNotFound)
}

func TestService_Cancel_NotOwnerReportsNotFound(t *testing.T) {
	service, store, tickets, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")

	ticket, err := service.Book(context.Background(), "user-1", "event-1", "S1")
	require.NoError(t, err)

	err = service.Cancel(context.Background(), ticket.ID, "user-2")
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
	assert.Len(t, tickets.live(), 1)
	assert.True(t, store.seatBooked("event-1", "S1"))
}

func TestService_Cancel_ToleratesAlreadyFreeSeat(t *testing.T) {
	service, store, tickets, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")

	ticket, err := service.Book(context.Background(), "user-1", "event-1", "S1")
	require.NoError(t, err)

	// Simulate an out-of-band reconciliation that already freed the seat.
	_, err = store.ReleaseSeat(context.Background(), "event-1", "S1")
	require.NoError(t, err)

	err = service.Cancel(context.Background(), ticket.ID, "user-1")
	assert.NoError(t, err)
	assert.Empty(t, tickets.live())
}

func TestService_Cancel_DeleteFailureIsPartialFailure(t *testing.T) {
	service, store, tickets, _ := setupTestService()
	store.addEvent("event-1", decimal.NewFromInt(50), "S1")

	ticket, err := service.Book(context.Background(), "user-1", "event-1", "S1")
	require.NoError(t, err)

	tickets.failDelete = true

	err = service.Cancel(context.Background(), ticket.ID, "user-1")
	require.Error(t, err)
	assert.True(t, status.IsPartialFailure(err))
}

// TestService_SeatTicketConsistency_RandomInterleavings replays random
// book/cancel interleavings and checks the core invariant at quiescence:
// a seat is booked iff a live ticket references it.
func TestService_SeatTicketConsistency_RandomInterleavings(t *testing.T) {
	service, store, tickets, _ := setupTestService()

	events := []string{"event-1", "event-2"}
	seatNos := []string{"S1", "S2", "S3", "S4", "S5"}
	for _, eventID := range events {
		store.addEvent(eventID, decimal.NewFromInt(25), seatNos...)
	}

	rng := rand.New(rand.NewSource(1))
	users := make([]string, 8)
	for i := range users {
		users[i] = fmt.Sprintf("user-%d", i)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ownedIDs []string
	)

	for i := 0; i < 200; i++ {
		userID := users[rng.Intn(len(users))]
		eventID := events[rng.Intn(len(events))]
		seatNo := seatNos[rng.Intn(len(seatNos))]
		cancel := rng.Intn(3) == 0

		wg.Add(1)
		go func() {
			defer wg.Done()

			if cancel {
				mu.Lock()
				if len(ownedIDs) == 0 {
					mu.Unlock()
					return
				}
				ticketID := ownedIDs[0]
				ownedIDs = ownedIDs[1:]
				mu.Unlock()

				ticket, err := tickets.FindTicket(context.Background(), ticketID)
				if err != nil {
					return
				}
				_ = service.Cancel(context.Background(), ticketID, ticket.UserID)
				return
			}

			ticket, err := service.Book(context.Background(), userID, eventID, seatNo)
			if err == nil {
				mu.Lock()
				ownedIDs = append(ownedIDs, ticket.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Quiescence: booked flags and live tickets must agree exactly.
	referenced := make(map[string]bool)
	for _, ticket := range tickets.live() {
		key := ticket.EventID + ":" + ticket.SeatNo
		require.False(t, referenced[key], "two live tickets reference seat %s", key)
		referenced[key] = true
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for key, seat := range store.seats {
		assert.Equal(t, referenced[key], seat.Booked,
			"seat %s booked flag disagrees with live tickets", key)
	}
}
