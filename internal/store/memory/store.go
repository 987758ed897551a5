// Package memory is an in-process implementation of store.Store used for
// local runs and tests. Every write publishes a change signal the same way
// the Postgres triggers do.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jogardn/order-dashboard/internal/store"
	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Operation names accepted by FailOn.
const (
	OpFetchAll       = "FetchAll"
	OpUpdateStatus   = "UpdateStatus"
	OpDeleteOrder    = "DeleteOrder"
	OpInsertOrder    = "InsertOrder"
	OpInsertItems    = "InsertItems"
	OpFetchSales     = "FetchSales"
	OpFetchCustomers = "FetchCustomers"
	OpPing           = "Ping"
)

type Store struct {
	mutex     sync.RWMutex
	orders    map[string]models.Order
	items     []models.OrderItem
	customers []models.Customer
	sales     []models.Sale
	failures  map[string]error

	broker *store.Broker
	logger *logrus.Logger
}

var _ store.Store = (*Store)(nil)

func New(logger *logrus.Logger) *Store {
	return &Store{
		orders:   make(map[string]models.Order),
		failures: make(map[string]error),
		broker:   store.NewBroker(logger),
		logger:   logger,
	}
}

// FailOn makes every call to op return err until it is cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("memory %s: %w", op, err)
	}
	return nil
}

func (s *Store) Subscribe(table store.Table, event store.EventType, handler store.ChangeHandler) (store.Unsubscribe, error) {
	return s.broker.Subscribe(table, event, handler)
}

func (s *Store) FetchAll(ctx context.Context) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if err := s.failure(OpFetchAll); err != nil {
		return nil, err
	}

	itemsByOrder := lo.GroupBy(s.items, func(item models.OrderItem) string {
		return item.OrderID
	})

	orders := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		order := o.Clone()
		order.Items = append([]models.OrderItem{}, itemsByOrder[order.OrderID]...)
		orders = append(orders, order)
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].NewOrderAt.Equal(orders[j].NewOrderAt) {
			return orders[i].OrderID < orders[j].OrderID
		}
		return orders[i].NewOrderAt.After(orders[j].NewOrderAt)
	})

	return orders, nil
}

func (s *Store) UpdateStatus(ctx context.Context, orderID string, u store.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	if err := s.failure(OpUpdateStatus); err != nil {
		s.mutex.Unlock()
		return err
	}

	order, ok := s.orders[orderID]
	if !ok {
		s.mutex.Unlock()
		return fmt.Errorf("update %s: %w", orderID, models.ErrOrderNotFound)
	}
	if order.Status != u.From {
		s.mutex.Unlock()
		return fmt.Errorf("update %s: %w", orderID, models.ErrStatusConflict)
	}

	order.Status = u.To
	if order.AcceptedAt == nil && u.AcceptedAt != nil {
		order.AcceptedAt = lo.ToPtr(*u.AcceptedAt)
	}
	if order.ReadyAt == nil && u.ReadyAt != nil {
		order.ReadyAt = lo.ToPtr(*u.ReadyAt)
	}
	if order.ReceivedAt == nil && u.ReceivedAt != nil {
		order.ReceivedAt = lo.ToPtr(*u.ReceivedAt)
	}
	s.orders[orderID] = order
	s.mutex.Unlock()

	s.broker.Publish(store.Change{Table: store.TableOrders, Type: store.EventUpdate})
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, orderID string, expected models.OrderStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	if err := s.failure(OpDeleteOrder); err != nil {
		s.mutex.Unlock()
		return err
	}

	order, ok := s.orders[orderID]
	if !ok {
		s.mutex.Unlock()
		return fmt.Errorf("delete %s: %w", orderID, models.ErrOrderNotFound)
	}
	if order.Status != expected {
		s.mutex.Unlock()
		return fmt.Errorf("delete %s: %w", orderID, models.ErrStatusConflict)
	}

	delete(s.orders, orderID)
	before := len(s.items)
	s.items = lo.Reject(s.items, func(item models.OrderItem, _ int) bool {
		return item.OrderID == orderID
	})
	removedItems := before - len(s.items)
	s.mutex.Unlock()

	if removedItems > 0 {
		s.broker.Publish(store.Change{Table: store.TableOrderItems, Type: store.EventDelete})
	}
	s.broker.Publish(store.Change{Table: store.TableOrders, Type: store.EventDelete})
	return nil
}

func (s *Store) InsertOrder(ctx context.Context, order models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	err := s.insertOrderLocked(order)
	s.mutex.Unlock()
	if err != nil {
		return err
	}

	s.broker.Publish(store.Change{Table: store.TableOrders, Type: store.EventInsert})
	return nil
}

func (s *Store) insertOrderLocked(order models.Order) error {
	if err := s.failure(OpInsertOrder); err != nil {
		return err
	}
	if order.OrderID == "" {
		return fmt.Errorf("insert order: order_id is empty")
	}
	if _, exists := s.orders[order.OrderID]; exists {
		return fmt.Errorf("insert order %s: duplicate order_id", order.OrderID)
	}

	stored := order.Clone()
	stored.Items = nil
	s.orders[order.OrderID] = stored
	return nil
}

func (s *Store) InsertItems(ctx context.Context, orderID string, items []models.OrderItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	s.mutex.Lock()
	err := s.insertItemsLocked(orderID, items)
	s.mutex.Unlock()
	if err != nil {
		return err
	}

	s.broker.Publish(store.Change{Table: store.TableOrderItems, Type: store.EventInsert})
	return nil
}

func (s *Store) insertItemsLocked(orderID string, items []models.OrderItem) error {
	if err := s.failure(OpInsertItems); err != nil {
		return err
	}
	if _, ok := s.orders[orderID]; !ok {
		return fmt.Errorf("insert items %s: %w", orderID, models.ErrOrderNotFound)
	}

	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.OrderID = orderID
		s.items = append(s.items, item)
	}
	return nil
}

func (s *Store) InsertOrderWithItems(ctx context.Context, order models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	if err := s.insertOrderLocked(order); err != nil {
		s.mutex.Unlock()
		return err
	}
	if len(order.Items) > 0 {
		if err := s.insertItemsLocked(order.OrderID, order.Items); err != nil {
			delete(s.orders, order.OrderID)
			s.mutex.Unlock()
			return err
		}
	}
	s.mutex.Unlock()

	s.broker.Publish(store.Change{Table: store.TableOrders, Type: store.EventInsert})
	if len(order.Items) > 0 {
		s.broker.Publish(store.Change{Table: store.TableOrderItems, Type: store.EventInsert})
	}
	return nil
}

func (s *Store) FetchSales(ctx context.Context) ([]models.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.failure(OpFetchSales); err != nil {
		return nil, err
	}

	sales := append([]models.Sale{}, s.sales...)
	sort.SliceStable(sales, func(i, j int) bool {
		return sales[i].Date.After(sales[j].Date)
	})
	return sales, nil
}

func (s *Store) FetchCustomers(ctx context.Context) ([]models.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.failure(OpFetchCustomers); err != nil {
		return nil, err
	}

	customers := append([]models.Customer{}, s.customers...)
	sort.SliceStable(customers, func(i, j int) bool {
		return customers[i].TotalOrderCost.GreaterThan(customers[j].TotalOrderCost)
	})
	return customers, nil
}

// AddSale records a sale row. The real backend fills this table server-side.
func (s *Store) AddSale(sale models.Sale) {
	s.mutex.Lock()
	if sale.ID == "" {
		sale.ID = uuid.New().String()
	}
	s.sales = append(s.sales, sale)
	s.mutex.Unlock()

	s.broker.Publish(store.Change{Table: store.TableSales, Type: store.EventInsert})
}

// AddCustomer records a customer row.
func (s *Store) AddCustomer(customer models.Customer) {
	s.mutex.Lock()
	s.customers = append(s.customers, customer)
	s.mutex.Unlock()

	s.broker.Publish(store.Change{Table: store.TableCustomers, Type: store.EventInsert})
}

func (s *Store) Ping(ctx context.Context) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if err := s.failure(OpPing); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.logger.Info("In-memory store closed")
	return nil
}
