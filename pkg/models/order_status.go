package models

import "fmt"

type OrderStatus string

// remember to add new statuses to lifecycleOrder and nextStatus
const (
	OrderStatusNew        OrderStatus = "new"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusReady      OrderStatus = "ready"
	OrderStatusReceived   OrderStatus = "received"
	// OrderStatusRejected is never stored: rejecting deletes the order.
	OrderStatusRejected OrderStatus = "rejected"
)

var lifecycleOrder = []OrderStatus{
	OrderStatusNew,
	OrderStatusInProgress,
	OrderStatusReady,
	OrderStatusReceived,
}

var nextStatus = map[OrderStatus]OrderStatus{
	OrderStatusNew:        OrderStatusInProgress,
	OrderStatusInProgress: OrderStatusReady,
	OrderStatusReady:      OrderStatusReceived,
}

func ToOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if status.Stored() {
		return status, nil
	}
	return "", fmt.Errorf("invalid order status %q", s)
}

// OrderStatuses lists the stored statuses in lifecycle order.
func OrderStatuses() []OrderStatus {
	result := make([]OrderStatus, len(lifecycleOrder))
	copy(result, lifecycleOrder)
	return result
}

// Stored reports whether s can appear on a persisted order.
func (s OrderStatus) Stored() bool {
	for _, known := range lifecycleOrder {
		if s == known {
			return true
		}
	}
	return false
}

// Next returns the status that follows s on the main path.
func (s OrderStatus) Next() (OrderStatus, bool) {
	next, ok := nextStatus[s]
	return next, ok
}

// CanTransition reports whether an order may move from one status to another.
// new → rejected is the only branch off the main path.
func CanTransition(from, to OrderStatus) bool {
	if from == OrderStatusNew && to == OrderStatusRejected {
		return true
	}
	next, ok := nextStatus[from]
	return ok && next == to
}

// Previous returns the status that precedes s on the main path.
func (s OrderStatus) Previous() (OrderStatus, bool) {
	for from, to := range nextStatus {
		if to == s {
			return from, true
		}
	}
	return "", false
}

func (s OrderStatus) String() string {
	return string(s)
}
