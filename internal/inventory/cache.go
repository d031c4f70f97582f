package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvailabilityCache mirrors seat state into Redis so listings and dashboards
// can read availability without touching the database. The mirror is never
// authoritative: a missing key means available, and every transition in the
// Store refreshes it.
type AvailabilityCache struct {
	Redis *redis.Client
}

func NewAvailabilityCache(redisClient *redis.Client) *AvailabilityCache {
	return &AvailabilityCache{Redis: redisClient}
}

func seatKey(eventID, seatNo string) string {
	return fmt.Sprintf("seat:%s:%s", eventID, seatNo)
}

func (c *AvailabilityCache) MarkBooked(ctx context.Context, eventID, seatNo string) error {
	return c.Redis.HSet(ctx, seatKey(eventID, seatNo),
		"status", "booked",
		"booked_at", time.Now().Unix(),
	).Err()
}

func (c *AvailabilityCache) MarkFree(ctx context.Context, eventID, seatNo string) error {
	return c.Redis.Del(ctx, seatKey(eventID, seatNo)).Err()
}

// Availability reports the cached status of each requested seat. Seats with
// no cache entry are available.
func (c *AvailabilityCache) Availability(ctx context.Context, eventID string, seatNos []string) (map[string]string, error) {
	availability := make(map[string]string, len(seatNos))

	for _, seatNo := range seatNos {
		status, err := c.Redis.HGet(ctx, seatKey(eventID, seatNo), "status").Result()
		if err == redis.Nil {
			availability[seatNo] = "available"
		} else if err != nil {
			return nil, err
		} else {
			availability[seatNo] = status
		}
	}

	return availability, nil
}
