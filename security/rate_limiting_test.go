package security

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func windowKey(id string, window time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%d", id, time.Now().Unix()/int64(window.Seconds()))
}

func TestRateLimiter_AllowUnderLimit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 5, time.Minute)

	key := windowKey("user:u1", time.Minute)
	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpire(key, time.Minute).SetVal(true)

	allowed, err := limiter.allow(context.Background(), "user:u1")

	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_DenyOverLimit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 5, time.Minute)

	key := windowKey("user:u1", time.Minute)
	mock.ExpectIncr(key).SetVal(6)

	allowed, err := limiter.allow(context.Background(), "user:u1")

	require.NoError(t, err)
	assert.False(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
