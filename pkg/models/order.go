package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	OrderID         string          `json:"order_id"`
	CustomerID      string          `json:"customer_id"`
	CustomerName    string          `json:"customer_name"`
	PhoneNumber     string          `json:"phone_number"`
	Status          OrderStatus     `json:"status"`
	NewOrderAt      time.Time       `json:"new_order_at"`
	AcceptedAt      *time.Time      `json:"accepted_at"`
	ReadyAt         *time.Time      `json:"ready_at"`
	ReceivedAt      *time.Time      `json:"received_at"`
	CreatedAt       time.Time       `json:"created_at"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	SubtotalWithTax decimal.Decimal `json:"subtotal_with_tax"`
	Items           []OrderItem     `json:"order_items"`
}

type OrderItem struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	Item     string          `json:"item"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// LineTotal is price × quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the line totals. It is not the invoiced amount; see SubtotalWithTax.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// StageTime returns the timestamp recorded when the order entered status,
// or nil if that stage has not been reached.
func (o Order) StageTime(status OrderStatus) *time.Time {
	switch status {
	case OrderStatusNew:
		t := o.NewOrderAt
		return &t
	case OrderStatusInProgress:
		return o.AcceptedAt
	case OrderStatusReady:
		return o.ReadyAt
	case OrderStatusReceived:
		return o.ReceivedAt
	default:
		return nil
	}
}

// Clone returns a copy that shares nothing mutable with o.
func (o Order) Clone() Order {
	c := o
	c.AcceptedAt = cloneTime(o.AcceptedAt)
	c.ReadyAt = cloneTime(o.ReadyAt)
	c.ReceivedAt = cloneTime(o.ReceivedAt)
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// NewOrderRequest is the ingestion payload.
type NewOrderRequest struct {
	OrderID      string         `json:"order_id"`
	CustomerID   string         `json:"customer_id"`
	CustomerName string         `json:"customer_name"`
	PhoneNumber  string         `json:"phone_number"`
	Items        []NewOrderItem `json:"items"`
}

type NewOrderItem struct {
	Item     string          `json:"item"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Validate reports the missing required fields, in payload order.
func (r NewOrderRequest) Validate() error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"order_id", r.OrderID},
		{"customer_id", r.CustomerID},
		{"customer_name", r.CustomerName},
		{"phone_number", r.PhoneNumber},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// ValidateItems checks each line: a name, a positive quantity and a
// non-negative price.
func (r NewOrderRequest) ValidateItems() error {
	for i, item := range r.Items {
		switch {
		case strings.TrimSpace(item.Item) == "":
			return fmt.Errorf("items[%d]: item name is empty", i)
		case item.Quantity <= 0:
			return fmt.Errorf("items[%d]: quantity must be positive", i)
		case item.Price.IsNegative():
			return fmt.Errorf("items[%d]: price must not be negative", i)
		}
	}
	return nil
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Order   *Order `json:"order,omitempty"`
}
