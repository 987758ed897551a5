package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// notifyChannel is the LISTEN/NOTIFY channel the change triggers publish on.
const notifyChannel = "table_changes"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_id VARCHAR(255) PRIMARY KEY,
		customer_id VARCHAR(255) NOT NULL,
		customer_name VARCHAR(255) NOT NULL,
		phone_number VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'new',
		new_order_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		accepted_at TIMESTAMPTZ,
		ready_at TIMESTAMPTZ,
		received_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
		subtotal_with_tax NUMERIC(12,2) NOT NULL DEFAULT 0,
		CONSTRAINT orders_status_check CHECK (status IN ('new', 'in_progress', 'ready', 'received'))
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		seq BIGSERIAL,
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(255) NOT NULL REFERENCES orders(order_id) ON DELETE CASCADE,
		item VARCHAR(255) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price NUMERIC(12,2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		customer_id VARCHAR(255) PRIMARY KEY,
		customer_name VARCHAR(255) NOT NULL,
		phone VARCHAR(64) NOT NULL,
		last_order_date TIMESTAMPTZ,
		no_of_orders INTEGER NOT NULL DEFAULT 0,
		total_order_cost NUMERIC(12,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(255) NOT NULL,
		sub_total NUMERIC(12,2) NOT NULL,
		including_tax NUMERIC(12,2) NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_new_order_at ON orders(new_order_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	`CREATE OR REPLACE FUNCTION notify_table_change() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + notifyChannel + `', json_build_object('table', TG_TABLE_NAME, 'type', TG_OP)::text);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,
}

var watchedTables = []string{"orders", "order_items", "customers", "sales"}

func createTables(ctx context.Context, db *sql.DB) error {
	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	for _, table := range watchedTables {
		trigger := table + "_notify_change"
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trigger, table)); err != nil {
			return err
		}
		create := fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s
			FOR EACH ROW EXECUTE FUNCTION notify_table_change()`, trigger, table)
		if _, err := db.ExecContext(ctx, create); err != nil {
			return err
		}
	}

	return nil
}
