package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/order-dashboard/internal/circuitbreaker"
	"github.com/jogardn/order-dashboard/internal/config"
	"github.com/jogardn/order-dashboard/internal/events"
	"github.com/jogardn/order-dashboard/internal/httpx"
	"github.com/jogardn/order-dashboard/internal/ingest"
	"github.com/jogardn/order-dashboard/internal/metrics"
	"github.com/jogardn/order-dashboard/internal/relay"
	"github.com/jogardn/order-dashboard/internal/store"
	"github.com/jogardn/order-dashboard/internal/store/memory"
	"github.com/jogardn/order-dashboard/internal/store/postgres"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer db.Close()

	m := metrics.New()

	// A nil publisher keeps ingestion working without Kafka.
	var publisher ingest.Publisher
	if cfg.KafkaEnabled() {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Error("Kafka producer disabled")
		} else {
			defer producer.Close()
			publisher = producer
		}
	}

	ingestHandler := ingest.NewHandler(db, publisher, ingest.Config{
		TaxRate: cfg.TaxRate,
		Atomic:  cfg.IngestAtomic,
	}, m, logger)

	router := mux.NewRouter()
	router.HandleFunc("/orders", ingestHandler.CreateOrder).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/health", healthCheck(db)).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	if cfg.WebhookURL != "" {
		breaker := circuitbreaker.New(circuitbreaker.Config{
			Name:        "webhook",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			IsFailure:   relay.IsDownstreamFailure,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				m.SetBreakerState(name, int(to))
			},
		}, logger)
		relayHandler := relay.NewHandler(relay.NewClient(cfg.WebhookURL, logger), breaker, m, logger)
		router.HandleFunc("/webhook", relayHandler.Relay).Methods(http.MethodPost, http.MethodOptions)
	} else {
		logger.Warn("WEBHOOK_URL not set, webhook relay disabled")
	}

	router.Use(httpx.CORSMiddleware())
	router.Use(httpx.LoggingMiddleware(logger))

	srv := &http.Server{
		Addr:         ":" + cfg.OrderServicePort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.OrderServicePort).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.New(logger), nil
	}
	return postgres.New(ctx, postgres.Config{DSN: cfg.DB.DSN()}, logger)
}

func healthCheck(db store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			httpx.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "order-service",
				"error":   "database connection failed",
			})
			return
		}
		httpx.RespondWithJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "order-service",
		})
	}
}
