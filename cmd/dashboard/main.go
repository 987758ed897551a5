package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jogardn/order-dashboard/internal/alert"
	"github.com/jogardn/order-dashboard/internal/config"
	"github.com/jogardn/order-dashboard/internal/events"
	"github.com/jogardn/order-dashboard/internal/lifecycle"
	"github.com/jogardn/order-dashboard/internal/metrics"
	"github.com/jogardn/order-dashboard/internal/store"
	"github.com/jogardn/order-dashboard/internal/store/memory"
	"github.com/jogardn/order-dashboard/internal/store/postgres"
	"github.com/jogardn/order-dashboard/internal/views"
	"github.com/jogardn/order-dashboard/internal/websocket"
	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/sirupsen/logrus"
)

type snapshotPayload struct {
	Orders      []models.Order             `json:"orders"`
	Counts      map[models.OrderStatus]int `json:"counts"`
	RefreshedAt time.Time                  `json:"refreshed_at"`
	Version     uint64                     `json:"version"`
}

func newSnapshotPayload(snap *lifecycle.Snapshot) snapshotPayload {
	counts := make(map[models.OrderStatus]int)
	for status, subset := range views.Partition(snap.Orders) {
		counts[status] = len(subset)
	}
	return snapshotPayload{
		Orders:      snap.Orders,
		Counts:      counts,
		RefreshedAt: snap.RefreshedAt,
		Version:     snap.Version,
	}
}

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

	controller := lifecycle.New(db, db, lifecycle.Config{
		RefreshInterval: cfg.RefreshInterval,
		Metrics:         m,
	}, logger)
	defer controller.Close()

	hub := websocket.NewHub(logger)
	hub.SetWelcome(func() (websocket.Message, bool) {
		snap := controller.Snapshot()
		if snap.RefreshedAt.IsZero() {
			return websocket.Message{}, false
		}
		return websocket.NewMessage(websocket.MessageSnapshot, newSnapshotPayload(snap)), true
	})

	notifier := alert.NewNotifier(func(previous, current int) {
		hub.Broadcast(websocket.MessageNewOrder, map[string]int{
			"previous": previous,
			"current":  current,
		})
	}, logger)

	controller.OnRefresh(func(snap *lifecycle.Snapshot) {
		payload := newSnapshotPayload(snap)
		hub.Broadcast(websocket.MessageSnapshot, payload)
		notifier.Observe(payload.Counts[models.OrderStatusNew])
	})

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).WithField("component", name).Error("Component stopped")
			}
		}()
	}

	run("websocket-hub", func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	})
	run("lifecycle", controller.Run)

	// Kafka order events are one more refresh trigger next to the store
	// notifications and the timer.
	if cfg.KafkaEnabled() {
		consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID,
			events.HandlerFunc(func(event events.OrderCreatedEvent) error {
				controller.RequestRefresh()
				return nil
			}), logger)
		if err != nil {
			logger.WithError(err).Error("Kafka consumer disabled")
		} else {
			defer consumer.Close()
			run("kafka-consumer", consumer.Start)
		}
	}

	router := newRouter(routerDeps{
		cfg:        cfg,
		db:         db,
		controller: controller,
		hub:        hub,
		metrics:    m,
		logger:     logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.DashboardPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.DashboardPort).Info("Starting dashboard")
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
	controller.Close()
	wg.Wait()

	logger.Info("Server gracefully stopped")
}

func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.New(logger), nil
	}
	return postgres.New(ctx, postgres.Config{
		DSN:    cfg.DB.DSN(),
		Listen: true,
	}, logger)
}
