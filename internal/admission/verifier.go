package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"event-ticketing/internal/clock"
	"event-ticketing/internal/status"
	"event-ticketing/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of an admission token: the (user, event, seat)
// triple the ticket was booked for, plus the standard expiry. Tokens are
// never stored on their own; they are regenerable from ticket fields.
type Claims struct {
	UserID  string `json:"user_id"`
	EventID string `json:"event_id"`
	SeatNo  string `json:"seat_no"`
	jwt.RegisteredClaims
}

// TicketLookup is the slice of ticket storage the verifier needs for
// check-in reconciliation.
type TicketLookup interface {
	FindTicketByClaims(ctx context.Context, userID, eventID, seatNo string) (*models.Ticket, error)
	SetCheckedIn(ctx context.Context, ticketID string, at time.Time) (bool, error)
}

// Verifier mints and validates admission tokens and reconciles them against
// ticket records at the venue door.
type Verifier struct {
	secret  []byte
	tickets TicketLookup
	clock   clock.Clock
}

func NewVerifier(secret string, tickets TicketLookup, clk clock.Clock) *Verifier {
	return &Verifier{
		secret:  []byte(secret),
		tickets: tickets,
		clock:   clk,
	}
}

// Issue signs an admission token for (user, event, seat) valid for ttl.
func (v *Verifier) Issue(userID, eventID, seatNo string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		UserID:  userID,
		EventID: eventID,
		SeatNo:  seatNo,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify checks signature and expiry only; it never consults ticket storage.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, status.ErrTokenExpired
		}
		return nil, status.ErrTokenInvalid
	}
	if !parsed.Valid {
		return nil, status.ErrTokenInvalid
	}

	return claims, nil
}

// CheckIn validates a scanned token and stamps the matching ticket's
// check-in time exactly once. A second scan of the same ticket always gets
// ErrAlreadyCheckedIn; the first timestamp is never overwritten.
func (v *Verifier) CheckIn(ctx context.Context, token string) (*models.Ticket, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return nil, err
	}

	ticket, err := v.tickets.FindTicketByClaims(ctx, claims.UserID, claims.EventID, claims.SeatNo)
	if err != nil {
		return nil, err
	}
	if ticket.CheckedIn() {
		return nil, status.ErrAlreadyCheckedIn
	}

	now := v.clock.Now()
	stamped, err := v.tickets.SetCheckedIn(ctx, ticket.ID, now)
	if err != nil {
		return nil, err
	}
	if !stamped {
		// Lost a concurrent scan race after the read above.
		return nil, status.ErrAlreadyCheckedIn
	}

	slog.Info("ticket checked in",
		"ticket_id", ticket.ID,
		"event_id", ticket.EventID,
		"seat_no", ticket.SeatNo,
	)

	ticket.CheckedInAt = &now
	return ticket, nil
}
