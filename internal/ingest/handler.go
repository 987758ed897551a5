// Package ingest implements the new-order endpoint of the order service.
package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jogardn/order-dashboard/internal/events"
	"github.com/jogardn/order-dashboard/internal/httpx"
	"github.com/jogardn/order-dashboard/internal/metrics"
	"github.com/jogardn/order-dashboard/internal/store"
	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type Publisher interface {
	PublishOrderCreated(event events.OrderCreatedEvent) error
}

type Config struct {
	// TaxRate is applied to the item subtotal, e.g. 0.1 for 10%.
	TaxRate decimal.Decimal
	// Atomic writes the order and its items in one transaction instead of
	// keeping an order whose items failed.
	Atomic bool
	Now    func() time.Time
}

type Handler struct {
	store     store.IngestStore
	publisher Publisher
	cfg       Config
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// NewHandler builds the handler. publisher may be nil.
func NewHandler(s store.IngestStore, publisher Publisher, cfg Config, m *metrics.Metrics, logger *logrus.Logger) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		store:     s,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.NewOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode order request")
		h.metrics.ObserveIngest("invalid")
		httpx.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		h.logger.WithError(err).Error("Missing required fields in payload")
		h.metrics.ObserveIngest("invalid")
		httpx.RespondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if err := req.ValidateItems(); err != nil {
		h.logger.WithError(err).WithField("order_id", req.OrderID).Error("Invalid order items")
		h.metrics.ObserveIngest("invalid")
		httpx.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid order items", err.Error())
		return
	}

	order := h.buildOrder(req)
	ctx := r.Context()

	itemsStored := true
	if h.cfg.Atomic {
		if err := h.store.InsertOrderWithItems(ctx, order); err != nil {
			h.insertFailed(w, order.OrderID, err)
			return
		}
	} else {
		if err := h.store.InsertOrder(ctx, order); err != nil {
			h.insertFailed(w, order.OrderID, err)
			return
		}

		if len(order.Items) > 0 {
			if err := h.store.InsertItems(ctx, order.OrderID, order.Items); err != nil {
				partial := &models.PartialWriteError{OrderID: order.OrderID, Err: err}
				h.logger.WithError(partial).WithField("order_id", order.OrderID).Error("Error inserting order items")
				h.metrics.ObserveIngest("partial")
				itemsStored = false
			}
		}
	}

	if itemsStored {
		h.metrics.ObserveIngest("success")
	}

	h.logger.WithFields(logrus.Fields{
		"order_id":          order.OrderID,
		"customer_id":       order.CustomerID,
		"items_count":       len(order.Items),
		"items_stored":      itemsStored,
		"subtotal_with_tax": order.SubtotalWithTax.StringFixed(2),
	}).Info("Order created")

	h.publish(order, itemsStored)

	httpx.RespondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order created successfully",
		OrderID: order.OrderID,
	})
}

func (h *Handler) insertFailed(w http.ResponseWriter, orderID string, err error) {
	h.logger.WithError(err).WithField("order_id", orderID).Error("Error inserting order")
	h.metrics.ObserveIngest("error")
	httpx.RespondWithErrorDetails(w, http.StatusInternalServerError, "Failed to create order", err.Error())
}

func (h *Handler) publish(order models.Order, itemsStored bool) {
	if h.publisher == nil {
		return
	}

	event := events.OrderCreatedEvent{
		OrderID:         order.OrderID,
		CustomerID:      order.CustomerID,
		CustomerName:    order.CustomerName,
		ItemCount:       len(order.Items),
		ItemsStored:     itemsStored,
		SubtotalWithTax: order.SubtotalWithTax,
		CreatedAt:       order.CreatedAt,
	}
	if err := h.publisher.PublishOrderCreated(event); err != nil {
		// The row is committed; dashboards still pick it up on their next poll.
		h.logger.WithError(err).WithField("order_id", order.OrderID).Error("Failed to publish order created event")
	}
}

// buildOrder applies the server-side fields: status, timestamps and totals.
func (h *Handler) buildOrder(req models.NewOrderRequest) models.Order {
	now := h.cfg.Now()

	items := lo.Map(req.Items, func(item models.NewOrderItem, _ int) models.OrderItem {
		return models.OrderItem{
			OrderID:  req.OrderID,
			Item:     item.Item,
			Quantity: item.Quantity,
			Price:    item.Price,
		}
	})

	order := models.Order{
		OrderID:      req.OrderID,
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		PhoneNumber:  req.PhoneNumber,
		Status:       models.OrderStatusNew,
		NewOrderAt:   now,
		CreatedAt:    now,
		Items:        items,
	}
	order.Subtotal = order.Total()
	order.SubtotalWithTax = order.Subtotal.Mul(decimal.NewFromInt(1).Add(h.cfg.TaxRate)).Round(2)
	return order
}
