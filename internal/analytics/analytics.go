// Package analytics computes the admin reports from the sales and customers
// tables.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jogardn/order-dashboard/internal/store"
	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	DefaultDays         = 30
	DefaultTopCustomers = 10
)

type Summary struct {
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	TotalOrders       int             `json:"total_orders"`
	TotalCustomers    int             `json:"total_customers"`
	AvgOrderValue     decimal.Decimal `json:"avg_order_value"`
	RevenueToday      decimal.Decimal `json:"revenue_today"`
	OrdersToday       int             `json:"orders_today"`
	NewCustomersToday int             `json:"new_customers_today"`
}

type DailyRevenue struct {
	Date          string          `json:"date"`
	Label         string          `json:"label"`
	Revenue       decimal.Decimal `json:"revenue"`
	Orders        int             `json:"orders"`
	AvgOrderValue decimal.Decimal `json:"avg_order_value"`
}

type TopCustomer struct {
	CustomerID     string          `json:"customer_id"`
	CustomerName   string          `json:"customer_name"`
	Phone          string          `json:"phone"`
	TotalOrderCost decimal.Decimal `json:"total_order_cost"`
	NoOfOrders     int             `json:"no_of_orders"`
	Rank           int             `json:"rank"`
}

type Report struct {
	Summary      Summary        `json:"summary"`
	Revenue      []DailyRevenue `json:"revenue"`
	TopCustomers []TopCustomer  `json:"top_customers"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func average(total decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(n))).Round(2)
}

func sumIncludingTax(sales []models.Sale) decimal.Decimal {
	return lo.Reduce(sales, func(acc decimal.Decimal, s models.Sale, _ int) decimal.Decimal {
		return acc.Add(s.IncludingTax)
	}, decimal.Zero)
}

// Summarize computes the headline figures. "Today" starts at midnight of now
// in loc.
func Summarize(sales []models.Sale, customers []models.Customer, now time.Time, loc *time.Location) Summary {
	today := startOfDay(now, loc)

	salesToday := lo.Filter(sales, func(s models.Sale, _ int) bool {
		return !s.Date.Before(today)
	})
	newCustomers := lo.CountBy(customers, func(c models.Customer) bool {
		return !c.CreatedAt.Before(today)
	})

	total := sumIncludingTax(sales)
	return Summary{
		TotalRevenue:      total,
		TotalOrders:       len(sales),
		TotalCustomers:    len(customers),
		AvgOrderValue:     average(total, len(sales)),
		RevenueToday:      sumIncludingTax(salesToday),
		OrdersToday:       len(salesToday),
		NewCustomersToday: newCustomers,
	}
}

// Daily returns one bucket per calendar day for the last days days, oldest
// first, ending with today.
func Daily(sales []models.Sale, days int, now time.Time, loc *time.Location) []DailyRevenue {
	if days <= 0 {
		days = DefaultDays
	}
	today := startOfDay(now, loc)

	result := make([]DailyRevenue, 0, days)
	for i := days - 1; i >= 0; i-- {
		start := today.AddDate(0, 0, -i)
		end := start.AddDate(0, 0, 1)

		daySales := lo.Filter(sales, func(s models.Sale, _ int) bool {
			return !s.Date.Before(start) && s.Date.Before(end)
		})
		revenue := sumIncludingTax(daySales)

		result = append(result, DailyRevenue{
			Date:          start.Format("2006-01-02"),
			Label:         start.Format("Jan 02"),
			Revenue:       revenue,
			Orders:        len(daySales),
			AvgOrderValue: average(revenue, len(daySales)),
		})
	}
	return result
}

// Top ranks customers by total order cost, highest first.
func Top(customers []models.Customer, limit int) []TopCustomer {
	if limit <= 0 {
		limit = DefaultTopCustomers
	}

	sorted := append([]models.Customer{}, customers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalOrderCost.GreaterThan(sorted[j].TotalOrderCost)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	return lo.Map(sorted, func(c models.Customer, i int) TopCustomer {
		return TopCustomer{
			CustomerID:     c.CustomerID,
			CustomerName:   c.CustomerName,
			Phone:          c.Phone,
			TotalOrderCost: c.TotalOrderCost,
			NoOfOrders:     c.NoOfOrders,
			Rank:           i + 1,
		}
	})
}

type Service struct {
	store    store.AnalyticsStore
	location *time.Location
	now      func() time.Time
}

func NewService(s store.AnalyticsStore, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: s, location: loc, now: time.Now}
}

// Report reads both tables and builds every report from the same rows.
func (s *Service) Report(ctx context.Context, days, top int) (Report, error) {
	sales, err := s.store.FetchSales(ctx)
	if err != nil {
		return Report{}, &models.StoreError{Op: "fetchSales", Err: err}
	}
	customers, err := s.store.FetchCustomers(ctx)
	if err != nil {
		return Report{}, &models.StoreError{Op: "fetchCustomers", Err: err}
	}

	now := s.now()
	return Report{
		Summary:      Summarize(sales, customers, now, s.location),
		Revenue:      Daily(sales, days, now, s.location),
		TopCustomers: Top(customers, top),
		GeneratedAt:  now,
	}, nil
}

// Validate checks report query parameters.
func Validate(days, top int) error {
	if days < 0 || days > 366 {
		return fmt.Errorf("days must be between 1 and 366")
	}
	if top < 0 || top > 100 {
		return fmt.Errorf("top must be between 1 and 100")
	}
	return nil
}
