package monitoring

import (
	"log/slog"
	"net/http"

	"event-ticketing/utils"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// StartOpsServer serves Prometheus metrics and a Redis health probe on a
// port separate from the API so scrapers never compete with bookings.
func StartOpsServer(port string, redisClient *redis.Client) *http.Server {
	e := echo.New()

	e.GET("/metrics", func(c echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	e.GET("/health", func(c echo.Context) error {
		if err := utils.RedisHealthCheck(redisClient); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	srv := &http.Server{Addr: ":" + port, Handler: e}

	go func() {
		slog.Info("ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server stopped", "error", err)
		}
	}()

	return srv
}
