package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	CustomerID     string          `json:"customer_id"`
	CustomerName   string          `json:"customer_name"`
	Phone          string          `json:"phone"`
	LastOrderDate  *time.Time      `json:"last_order_date"`
	NoOfOrders     int             `json:"no_of_orders"`
	TotalOrderCost decimal.Decimal `json:"total_order_cost"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Sale struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	SubTotal     decimal.Decimal `json:"sub_total"`
	IncludingTax decimal.Decimal `json:"including_tax"`
	Date         time.Time       `json:"date"`
	CreatedAt    time.Time       `json:"created_at"`
}
