// Package store defines the persistence contract consumed by the dashboard
// and the order service. Implementations live in the memory and postgres
// subpackages.
package store

import (
	"context"
	"time"

	"github.com/jogardn/order-dashboard/pkg/models"
)

type Table string

const (
	TableOrders     Table = "orders"
	TableOrderItems Table = "order_items"
	TableCustomers  Table = "customers"
	TableSales      Table = "sales"
	// TableAll is published when the notification transport cannot tell
	// which table changed, e.g. after a reconnect.
	TableAll Table = "*"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAny    EventType = "*"
)

// Change is a row-level change signal. Subscribers use it only as a hint to
// re-fetch; it carries no row data.
type Change struct {
	Table Table     `json:"table"`
	Type  EventType `json:"type"`
}

type ChangeHandler func(Change)

// Unsubscribe detaches a handler. It is safe to call more than once.
type Unsubscribe func()

// StatusUpdate moves an order from From to To. The stamp for the target
// stage is written only if the column is still null.
type StatusUpdate struct {
	From       models.OrderStatus
	To         models.OrderStatus
	AcceptedAt *time.Time
	ReadyAt    *time.Time
	ReceivedAt *time.Time
}

// OrderStore is what the lifecycle controller needs.
type OrderStore interface {
	// FetchAll returns every order with its items, newest first.
	FetchAll(ctx context.Context) ([]models.Order, error)
	// UpdateStatus applies u only if the stored status equals u.From.
	UpdateStatus(ctx context.Context, orderID string, u StatusUpdate) error
	// DeleteOrder removes the order and its items only if the stored status
	// equals expected.
	DeleteOrder(ctx context.Context, orderID string, expected models.OrderStatus) error
}

// Subscriber delivers change notifications for a table.
type Subscriber interface {
	Subscribe(table Table, event EventType, handler ChangeHandler) (Unsubscribe, error)
}

// IngestStore is what the ingestion endpoint needs.
type IngestStore interface {
	InsertOrder(ctx context.Context, order models.Order) error
	InsertItems(ctx context.Context, orderID string, items []models.OrderItem) error
	// InsertOrderWithItems writes the order and its items atomically.
	InsertOrderWithItems(ctx context.Context, order models.Order) error
}

// AnalyticsStore reads the reporting tables.
type AnalyticsStore interface {
	FetchSales(ctx context.Context) ([]models.Sale, error)
	FetchCustomers(ctx context.Context) ([]models.Customer, error)
}

type Store interface {
	OrderStore
	Subscriber
	IngestStore
	AnalyticsStore
	Ping(ctx context.Context) error
	Close() error
}
