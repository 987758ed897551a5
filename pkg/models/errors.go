package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict means the order exists but its stored status is not
	// the one the write expected.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// TransitionError rejects a status change from an invalid source state.
type TransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot transition from %q to %q", e.OrderID, e.From, e.To)
}

// StoreError wraps a failure reported by the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ValidationError lists the fields missing from an ingestion payload.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// PartialWriteError reports an order row that was persisted while its items were not.
type PartialWriteError struct {
	OrderID string
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("order %s stored without items: %v", e.OrderID, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
