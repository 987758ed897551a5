// Package api serves the dashboard's HTTP surface: the tabbed order views,
// the operator actions, history, analytics and health.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/order-dashboard/internal/analytics"
	"github.com/jogardn/order-dashboard/internal/httpx"
	"github.com/jogardn/order-dashboard/internal/lifecycle"
	"github.com/jogardn/order-dashboard/internal/views"
	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/sirupsen/logrus"
)

// Lifecycle is the part of the lifecycle controller the handlers drive.
type Lifecycle interface {
	Snapshot() *lifecycle.Snapshot
	Refresh(ctx context.Context) error
	Accept(ctx context.Context, orderID string) (models.Order, error)
	MarkReady(ctx context.Context, orderID string) (models.Order, error)
	MarkReceived(ctx context.Context, orderID string) (models.Order, error)
	Reject(ctx context.Context, orderID string) error
}

type Reporter interface {
	Report(ctx context.Context, days, top int) (analytics.Report, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	orders   Lifecycle
	reports  Reporter
	db       Pinger
	location *time.Location
	logger   *logrus.Logger
}

func NewHandler(orders Lifecycle, reports Reporter, db Pinger, loc *time.Location, logger *logrus.Logger) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		orders:   orders,
		reports:  reports,
		db:       db,
		location: loc,
		logger:   logger,
	}
}

// Register mounts the API routes on router. Every route also answers OPTIONS
// so the CORS middleware sees preflight requests.
func (h *Handler) Register(router *mux.Router) {
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/orders", h.ListOrders).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/orders/history", h.History).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/orders/refresh", h.Refresh).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/orders/{id}/{action}", h.Transition).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/analytics", h.Analytics).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

type OrdersResponse struct {
	views.View
	RefreshedAt time.Time `json:"refreshed_at"`
	Version     uint64    `json:"version"`
}

// ListOrders returns one tab of the current snapshot. Query parameters:
// tab (default new), q, from, to and anchor.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	tab := models.OrderStatusNew
	if s := query.Get("tab"); s != "" {
		status, err := models.ToOrderStatus(s)
		if err != nil {
			httpx.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid tab", err.Error())
			return
		}
		tab = status
	}

	filter, err := h.filterFrom(r)
	if err != nil {
		httpx.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}

	snap := h.orders.Snapshot()
	view, err := views.Build(snap.Orders, tab, filter)
	if err != nil {
		httpx.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid tab", err.Error())
		return
	}

	httpx.RespondWithJSON(w, http.StatusOK, OrdersResponse{
		View:        view,
		RefreshedAt: snap.RefreshedAt,
		Version:     snap.Version,
	})
}

// History lists orders across statuses, optionally narrowed to one.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	var status *models.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := models.ToOrderStatus(s)
		if err != nil {
			httpx.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid status", err.Error())
			return
		}
		status = &parsed
	}

	filter, err := h.filterFrom(r)
	if err != nil {
		httpx.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}

	orders := views.History(h.orders.Snapshot().Orders, status, filter)
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

func (h *Handler) filterFrom(r *http.Request) (views.Filter, error) {
	query := r.URL.Query()

	anchor, err := views.ToAnchor(query.Get("anchor"))
	if err != nil {
		return views.Filter{}, err
	}
	dates, err := views.ParseDateRange(query.Get("from"), query.Get("to"), h.location)
	if err != nil {
		return views.Filter{}, err
	}
	return views.Filter{
		Query:    query.Get("q"),
		Range:    dates,
		Anchor:   anchor,
		Location: h.location,
	}, nil
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Refresh(r.Context()); err != nil {
		h.logger.WithError(err).Error("Manual refresh failed")
		h.respondWithActionError(w, err)
		return
	}
	snap := h.orders.Snapshot()
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed_at": snap.RefreshedAt,
		"version":      snap.Version,
		"count":        len(snap.Orders),
	})
}

type ActionResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Order   *models.Order `json:"order,omitempty"`
}

// Transition applies one operator action: accept, reject, ready or received.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID, action := vars["id"], vars["action"]
	ctx := r.Context()

	logger := h.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"action":   action,
	})

	var (
		order models.Order
		err   error
	)
	switch action {
	case "accept":
		order, err = h.orders.Accept(ctx, orderID)
	case "ready":
		order, err = h.orders.MarkReady(ctx, orderID)
	case "received":
		order, err = h.orders.MarkReceived(ctx, orderID)
	case "reject":
		if err := h.orders.Reject(ctx, orderID); err != nil {
			logger.WithError(err).Warn("Order action failed")
			h.respondWithActionError(w, err)
			return
		}
		logger.Info("Order rejected")
		httpx.RespondWithJSON(w, http.StatusOK, ActionResponse{
			Success: true,
			Message: fmt.Sprintf("Order %s has been removed", orderID),
		})
		return
	default:
		httpx.RespondWithError(w, http.StatusNotFound, "Unknown action")
		return
	}

	if err != nil {
		logger.WithError(err).Warn("Order action failed")
		h.respondWithActionError(w, err)
		return
	}

	logger.WithField("status", order.Status).Info("Order status updated")
	httpx.RespondWithJSON(w, http.StatusOK, ActionResponse{
		Success: true,
		Message: fmt.Sprintf("Order %s updated to %s", orderID, order.Status),
		Order:   &order,
	})
}

func (h *Handler) respondWithActionError(w http.ResponseWriter, err error) {
	var transition *models.TransitionError
	switch {
	case errors.As(err, &transition):
		httpx.RespondWithErrorDetails(w, http.StatusConflict, "Invalid status transition", err.Error())
	case errors.Is(err, models.ErrStatusConflict):
		httpx.RespondWithErrorDetails(w, http.StatusConflict, "Order changed concurrently", err.Error())
	case errors.Is(err, models.ErrOrderNotFound):
		httpx.RespondWithError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, lifecycle.ErrClosed):
		httpx.RespondWithError(w, http.StatusServiceUnavailable, "Dashboard is shutting down")
	default:
		httpx.RespondWithErrorDetails(w, http.StatusInternalServerError, "Failed to update order", err.Error())
	}
}

// Analytics returns the revenue summary, the daily series and the top
// customers. Query parameters: days and top.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", analytics.DefaultDays)
	if err != nil {
		httpx.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid days", err.Error())
		return
	}
	top, err := intParam(r, "top", analytics.DefaultTopCustomers)
	if err != nil {
		httpx.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid top", err.Error())
		return
	}
	if err := analytics.Validate(days, top); err != nil {
		httpx.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid analytics query", err.Error())
		return
	}

	report, err := h.reports.Report(r.Context(), days, top)
	if err != nil {
		h.logger.WithError(err).Error("Failed to build analytics report")
		httpx.RespondWithErrorDetails(w, http.StatusInternalServerError, "Failed to load analytics", err.Error())
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, report)
}

func intParam(r *http.Request, name string, defaultValue int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return n, nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.orders.Snapshot()
	status := map[string]interface{}{
		"status":       "healthy",
		"service":      "order-dashboard",
		"timestamp":    time.Now(),
		"refreshed_at": snap.RefreshedAt,
		"orders":       len(snap.Orders),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			status["status"] = "unhealthy"
			status["database"] = err.Error()
			httpx.RespondWithJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	httpx.RespondWithJSON(w, http.StatusOK, status)
}
