package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-ticketing/config"
	"event-ticketing/internal/admission"
	"event-ticketing/internal/booking"
	"event-ticketing/internal/clock"
	"event-ticketing/internal/handlers"
	"event-ticketing/internal/inventory"
	"event-ticketing/internal/notify"
	"event-ticketing/monitoring"
	"event-ticketing/security"
	"event-ticketing/utils"

	_ "event-ticketing/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Initialize services
	clk := clock.NewSystem()
	cache := inventory.NewAvailabilityCache(redisClient)
	store := inventory.NewStore(app, cache)
	tickets := inventory.NewTicketRepo(app)
	notifier := notify.NewNotifier(pn)
	verifier := admission.NewVerifier(cfg.TokenSecret, tickets, clk)
	bookingService := booking.NewService(store, tickets, verifier, notifier, clk, cfg.TokenTTL)

	// Monitoring
	var monitor *monitoring.Monitor
	var opsServer *http.Server
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(redisClient)
		opsServer = monitoring.StartOpsServer(cfg.MetricsPort, redisClient)
	}

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(app, bookingService, verifier, tickets, notifier, monitor)
	eventHandler := handlers.NewEventHandler(app, store, cache, notifier)
	rateLimiter := security.NewRateLimiter(redisClient, cfg.BookingRateLimit, cfg.BookingRateWindow)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Setup graceful shutdown
	go handleShutdown(opsServer)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Ticket endpoints
		e.Router.POST("/api/v1/tickets/book", rateLimiter.Wrap(ticketHandler.Book))
		e.Router.DELETE("/api/v1/tickets/{id}", ticketHandler.Cancel)
		e.Router.POST("/api/v1/tickets/checkin", ticketHandler.CheckIn)
		e.Router.GET("/api/v1/tickets/mine", ticketHandler.Mine)
		e.Router.GET("/api/v1/tickets/{id}/qr", ticketHandler.QR)

		// Event endpoints
		e.Router.POST("/api/v1/events", eventHandler.Create)
		e.Router.GET("/api/v1/events", eventHandler.List)
		e.Router.GET("/api/v1/events/{eventId}", eventHandler.Get)
		e.Router.GET("/api/v1/events/{eventId}/seats", eventHandler.Seats)
		e.Router.GET("/api/v1/events/{eventId}/seats/{seatNo}", eventHandler.Seat)
		e.Router.GET("/api/v1/events/{eventId}/availability", eventHandler.Availability)
		e.Router.GET("/api/v1/events/{eventId}/tickets", ticketHandler.ByEvent)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		setupEventHooks(app, redisClient)

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// setupEventHooks keeps the Redis availability mirror consistent with
// event lifecycle edits made outside the booking API.
func setupEventHooks(app *pocketbase.PocketBase, redisClient *redis.Client) {
	app.OnRecordDeleteRequest("events").BindFunc(func(e *core.RecordRequestEvent) error {
		ctx := e.Request.Context()
		eventID := e.Record.Id

		keys, err := redisClient.Keys(ctx, "seat:"+eventID+":*").Result()
		if err != nil {
			slog.Error("failed to list cached seats of deleted event",
				"event_id", eventID,
				"error", err,
			)
			return e.Next()
		}
		if len(keys) > 0 {
			if err := redisClient.Del(ctx, keys...).Err(); err != nil {
				slog.Error("failed to purge cached seats of deleted event",
					"event_id", eventID,
					"error", err,
				)
			}
		}

		return e.Next()
	})
}

// handleShutdown handles graceful shutdown
func handleShutdown(opsServer *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")

	if opsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		opsServer.Shutdown(ctx)
	}
}
