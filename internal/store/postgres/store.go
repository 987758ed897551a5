// Package postgres implements store.Store on database/sql with lib/pq.
// Change notifications are delivered through LISTEN/NOTIFY triggers.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/order-dashboard/internal/store"
	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/sirupsen/logrus"
)

type Store struct {
	db       *sql.DB
	listener *listener
	broker   *store.Broker
	logger   *logrus.Logger
}

var _ store.Store = (*Store)(nil)

type Config struct {
	DSN string
	// ConnectAttempts bounds the wait for the database at startup.
	ConnectAttempts int
	ConnectBackoff  time.Duration
	// Listen enables LISTEN/NOTIFY change delivery.
	Listen bool
}

func New(ctx context.Context, cfg Config, logger *logrus.Logger) (*Store, error) {
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 30
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = 2 * time.Second
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	if err := waitForDB(ctx, db, cfg, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("createTables: %w", err)
	}

	s := &Store{
		db:     db,
		broker: store.NewBroker(logger),
		logger: logger,
	}

	if cfg.Listen {
		l, err := startListener(cfg.DSN, s.broker, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("startListener: %w", err)
		}
		s.listener = l
	}

	return s, nil
}

func waitForDB(ctx context.Context, db *sql.DB, cfg Config, logger *logrus.Logger) error {
	var err error
	for i := 0; i < cfg.ConnectAttempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			return nil
		}
		logger.WithField("attempt", i+1).Info("Waiting for database...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.ConnectBackoff):
		}
	}
	return fmt.Errorf("database not reachable: %w", err)
}

func (s *Store) Subscribe(table store.Table, event store.EventType, handler store.ChangeHandler) (store.Unsubscribe, error) {
	return s.broker.Subscribe(table, event, handler)
}

func (s *Store) FetchAll(ctx context.Context) ([]models.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("db.BeginTx: %w", err)
	}
	defer tx.Rollback()

	orders, err := selectOrders(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("selectOrders: %w", err)
	}

	items, err := selectItems(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("selectItems: %w", err)
	}

	index := make(map[string]int, len(orders))
	for i := range orders {
		index[orders[i].OrderID] = i
	}
	for _, item := range items {
		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx.Commit: %w", err)
	}

	return orders, nil
}

func selectOrders(ctx context.Context, tx *sql.Tx) ([]models.Order, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT order_id, customer_id, customer_name, phone_number, status,
			new_order_at, accepted_at, ready_at, received_at, created_at,
			subtotal, subtotal_with_tax
		FROM orders ORDER BY new_order_at DESC, order_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var (
			order                           models.Order
			status                          string
			acceptedAt, readyAt, receivedAt sql.NullTime
		)
		if err := rows.Scan(
			&order.OrderID, &order.CustomerID, &order.CustomerName, &order.PhoneNumber, &status,
			&order.NewOrderAt, &acceptedAt, &readyAt, &receivedAt, &order.CreatedAt,
			&order.Subtotal, &order.SubtotalWithTax,
		); err != nil {
			return nil, err
		}

		order.Status, err = models.ToOrderStatus(status)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", order.OrderID, err)
		}
		order.AcceptedAt = nullTimePtr(acceptedAt)
		order.ReadyAt = nullTimePtr(readyAt)
		order.ReceivedAt = nullTimePtr(receivedAt)
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

func selectItems(ctx context.Context, tx *sql.Tx) ([]models.OrderItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, order_id, item, quantity, price FROM order_items ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.Item, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, orderID string, u store.StatusUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1,
			accepted_at = COALESCE(accepted_at, $2),
			ready_at = COALESCE(ready_at, $3),
			received_at = COALESCE(received_at, $4)
		WHERE order_id = $5 AND status = $6
	`, string(u.To), timeArg(u.AcceptedAt), timeArg(u.ReadyAt), timeArg(u.ReceivedAt), orderID, string(u.From))
	if err != nil {
		return fmt.Errorf("update orders: %w", err)
	}

	return s.checkAffected(ctx, res, orderID)
}

func (s *Store) DeleteOrder(ctx context.Context, orderID string, expected models.OrderStatus) error {
	// order_items rows go with the order through ON DELETE CASCADE.
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE order_id = $1 AND status = $2`, orderID, string(expected))
	if err != nil {
		return fmt.Errorf("delete orders: %w", err)
	}

	return s.checkAffected(ctx, res, orderID)
}

// checkAffected turns a zero-row conditional write into ErrOrderNotFound or
// ErrStatusConflict.
func (s *Store) checkAffected(ctx context.Context, res sql.Result, orderID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RowsAffected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("select exists: %w", err)
	}
	if exists {
		return fmt.Errorf("order %s: %w", orderID, models.ErrStatusConflict)
	}
	return fmt.Errorf("order %s: %w", orderID, models.ErrOrderNotFound)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOrder(ctx context.Context, db execer, order models.Order) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO orders (order_id, customer_id, customer_name, phone_number, status,
			new_order_at, created_at, subtotal, subtotal_with_tax)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, order.OrderID, order.CustomerID, order.CustomerName, order.PhoneNumber, string(models.OrderStatusNew),
		order.NewOrderAt, order.CreatedAt, order.Subtotal, order.SubtotalWithTax)
	return err
}

func insertItems(ctx context.Context, tx *sql.Tx, orderID string, items []models.OrderItem) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO order_items (id, order_id, item, quantity, price) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, id, orderID, item.Item, item.Quantity, item.Price); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertOrder(ctx context.Context, order models.Order) error {
	if err := insertOrder(ctx, s.db, order); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) InsertItems(ctx context.Context, orderID string, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertItems(ctx, tx, orderID, items); err != nil {
			return fmt.Errorf("insert order_items: %w", err)
		}
		return nil
	})
}

func (s *Store) InsertOrderWithItems(ctx context.Context, order models.Order) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertOrder(ctx, tx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if err := insertItems(ctx, tx, order.OrderID, order.Items); err != nil {
			return fmt.Errorf("insert order_items: %w", err)
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (txErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db.BeginTx: %w", err)
	}

	defer func() {
		if txErr != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				txErr = errors.Join(txErr, fmt.Errorf("tx.Rollback: %w", rollbackErr))
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx.Commit: %w", err)
	}
	return nil
}

func (s *Store) FetchSales(ctx context.Context) ([]models.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, sub_total, including_tax, date, created_at
		FROM sales ORDER BY date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("select sales: %w", err)
	}
	defer rows.Close()

	var sales []models.Sale
	for rows.Next() {
		var sale models.Sale
		if err := rows.Scan(&sale.ID, &sale.OrderID, &sale.SubTotal, &sale.IncludingTax, &sale.Date, &sale.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, sale)
	}

	return sales, rows.Err()
}

func (s *Store) FetchCustomers(ctx context.Context) ([]models.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, customer_name, phone, last_order_date, no_of_orders, total_order_cost, created_at
		FROM customers ORDER BY total_order_cost DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		var (
			customer      models.Customer
			lastOrderDate sql.NullTime
		)
		if err := rows.Scan(&customer.CustomerID, &customer.CustomerName, &customer.Phone, &lastOrderDate,
			&customer.NoOfOrders, &customer.TotalOrderCost, &customer.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customer.LastOrderDate = nullTimePtr(lastOrderDate)
		customers = append(customers, customer)
	}

	return customers, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	return s.db.Close()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
