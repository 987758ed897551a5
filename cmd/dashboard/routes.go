package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jogardn/order-dashboard/internal/analytics"
	"github.com/jogardn/order-dashboard/internal/api"
	"github.com/jogardn/order-dashboard/internal/config"
	"github.com/jogardn/order-dashboard/internal/httpx"
	"github.com/jogardn/order-dashboard/internal/ingest"
	"github.com/jogardn/order-dashboard/internal/lifecycle"
	"github.com/jogardn/order-dashboard/internal/metrics"
	"github.com/jogardn/order-dashboard/internal/store"
	"github.com/jogardn/order-dashboard/internal/websocket"
	"github.com/sirupsen/logrus"
)

type routerDeps struct {
	cfg        config.Config
	db         store.Store
	controller *lifecycle.Controller
	hub        *websocket.Hub
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

func newRouter(d routerDeps) *mux.Router {
	router := mux.NewRouter()

	api.NewHandler(d.controller, analytics.NewService(d.db, d.cfg.Location), d.db, d.cfg.Location, d.logger).Register(router)

	// An in-memory store lives inside this process, so orders have to be
	// taken here; the order service would write to a store of its own.
	if d.cfg.StoreDriver == config.DriverMemory {
		ingestHandler := ingest.NewHandler(d.db, nil, ingest.Config{
			TaxRate: d.cfg.TaxRate,
			Atomic:  d.cfg.IngestAtomic,
		}, d.metrics, d.logger)
		router.HandleFunc("/orders", ingestHandler.CreateOrder).Methods(http.MethodPost, http.MethodOptions)
		d.logger.Info("Accepting orders on the dashboard (memory store)")
	}

	router.HandleFunc("/ws", d.hub.HandleWebSocket)
	router.Handle("/metrics", d.metrics.Handler()).Methods(http.MethodGet)
	router.Use(httpx.CORSMiddleware())
	router.Use(httpx.LoggingMiddleware(d.logger))
	return router
}
