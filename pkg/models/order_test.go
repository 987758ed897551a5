package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTotal(t *testing.T) {
	order := Order{Items: []OrderItem{
		{Item: "Burger", Quantity: 2, Price: decimal.RequireFromString("5.00")},
		{Item: "Fries", Quantity: 1, Price: decimal.RequireFromString("2.50")},
	}}
	assert.True(t, decimal.RequireFromString("12.50").Equal(order.Total()))
	assert.True(t, Order{}.Total().IsZero())
}

func TestOrderClone(t *testing.T) {
	accepted := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	order := Order{
		OrderID:    "ORD-1",
		AcceptedAt: &accepted,
		Items:      []OrderItem{{Item: "Tea", Quantity: 1}},
	}

	clone := order.Clone()
	*clone.AcceptedAt = clone.AcceptedAt.Add(time.Hour)
	clone.Items[0].Item = "Coffee"

	assert.Equal(t, accepted, *order.AcceptedAt)
	assert.Equal(t, "Tea", order.Items[0].Item)
	assert.Nil(t, Order{}.Clone().Items)
}

func TestStageTime(t *testing.T) {
	placed := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	ready := placed.Add(time.Hour)
	order := Order{NewOrderAt: placed, ReadyAt: &ready}

	assert.Equal(t, placed, *order.StageTime(OrderStatusNew))
	assert.Nil(t, order.StageTime(OrderStatusInProgress))
	assert.Equal(t, ready, *order.StageTime(OrderStatusReady))
	assert.Nil(t, order.StageTime(OrderStatusRejected))
}

func TestNewOrderRequest_Validate(t *testing.T) {
	valid := NewOrderRequest{OrderID: "ORD-1", CustomerID: "c1", CustomerName: "Ada", PhoneNumber: "555"}
	require.NoError(t, valid.Validate())

	err := NewOrderRequest{OrderID: "ORD-1", CustomerName: "  "}.Validate()
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, []string{"customer_id", "customer_name", "phone_number"}, validation.Fields)
}

func TestNewOrderRequest_ValidateItems(t *testing.T) {
	price := decimal.RequireFromString("1.00")

	tests := []struct {
		name    string
		items   []NewOrderItem
		wantErr string
	}{
		{name: "no items", items: nil},
		{name: "valid", items: []NewOrderItem{{Item: "Tea", Quantity: 1, Price: price}}},
		{name: "free item", items: []NewOrderItem{{Item: "Water", Quantity: 1, Price: decimal.Zero}}},
		{name: "blank name", items: []NewOrderItem{{Item: " ", Quantity: 1, Price: price}}, wantErr: "items[0]: item name is empty"},
		{name: "zero quantity", items: []NewOrderItem{{Item: "Tea", Quantity: 1, Price: price}, {Item: "Tea", Price: price}}, wantErr: "items[1]: quantity must be positive"},
		{name: "negative price", items: []NewOrderItem{{Item: "Tea", Quantity: 1, Price: price.Neg()}}, wantErr: "items[0]: price must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewOrderRequest{Items: tt.items}.ValidateItems()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	assert.ErrorIs(t, &StoreError{Op: "fetchAll", Err: cause}, cause)
	assert.ErrorIs(t, &PartialWriteError{OrderID: "ORD-1", Err: cause}, cause)
	assert.EqualError(t, &TransitionError{OrderID: "ORD-1", From: OrderStatusReady, To: OrderStatusRejected},
		`order ORD-1: cannot transition from "ready" to "rejected"`)
}
