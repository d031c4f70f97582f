package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	bookingOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_operations_total",
			Help: "Total booking operations by outcome",
		},
		[]string{"operation", "event_id", "status"},
	)

	bookingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_duration_seconds",
			Help:    "Duration of booking operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	bookedSeats = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booked_seats_total",
			Help: "Booked seats per event, sampled from the availability mirror",
		},
		[]string{"event_id"},
	)
)

type Monitor struct {
	redis *redis.Client

	// Events observed by the last sample, so label sets of events whose
	// seat keys vanished can be dropped instead of going stale. Touched
	// only by the collector goroutine.
	seenEvents map[string]struct{}
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{
		redis:      redisClient,
		seenEvents: make(map[string]struct{}),
	}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.collectSeatMetrics(context.Background())
	}
}

func (m *Monitor) collectSeatMetrics(ctx context.Context) {
	keys, err := m.redis.Keys(ctx, "seat:*").Result()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, key := range keys {
		// seat:{event}:{seat_no}
		parts := strings.SplitN(key, ":", 3)
		if len(parts) != 3 {
			continue
		}
		counts[parts[1]]++
	}

	for eventID := range m.seenEvents {
		if _, live := counts[eventID]; !live {
			bookedSeats.DeleteLabelValues(eventID)
			delete(m.seenEvents, eventID)
		}
	}

	for eventID, count := range counts {
		bookedSeats.WithLabelValues(eventID).Set(float64(count))
		m.seenEvents[eventID] = struct{}{}
	}
}

// TrackOperation records the outcome of a book, cancel or check-in call.
func (m *Monitor) TrackOperation(operation, eventID, status string) {
	bookingOperations.WithLabelValues(operation, eventID, status).Inc()
}

// TrackDuration records how long an operation took end to end.
func (m *Monitor) TrackDuration(operation string, duration time.Duration) {
	bookingDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
