package analytics

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jogardn/order-dashboard/internal/store/memory"
	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixtures(now time.Time) ([]models.Sale, []models.Customer) {
	yesterday := now.AddDate(0, 0, -1)
	sales := []models.Sale{
		{OrderID: "A", SubTotal: dec("10.00"), IncludingTax: dec("11.00"), Date: now.Add(-time.Hour)},
		{OrderID: "B", SubTotal: dec("20.00"), IncludingTax: dec("22.00"), Date: now.Add(-2 * time.Hour)},
		{OrderID: "C", SubTotal: dec("5.00"), IncludingTax: dec("5.50"), Date: yesterday},
	}
	customers := []models.Customer{
		{CustomerID: "c1", CustomerName: "Ada", TotalOrderCost: dec("40.00"), NoOfOrders: 3, CreatedAt: now.AddDate(0, -1, 0)},
		{CustomerID: "c2", CustomerName: "Grace", TotalOrderCost: dec("90.10"), NoOfOrders: 5, CreatedAt: now.Add(-time.Hour)},
		{CustomerID: "c3", CustomerName: "Alan", TotalOrderCost: dec("5.00"), NoOfOrders: 1, CreatedAt: yesterday},
	}
	return sales, customers
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)
	sales, customers := fixtures(now)

	got := Summarize(sales, customers, now, time.UTC)

	assert.True(t, dec("38.50").Equal(got.TotalRevenue), got.TotalRevenue.String())
	assert.Equal(t, 3, got.TotalOrders)
	assert.Equal(t, 3, got.TotalCustomers)
	assert.True(t, dec("12.83").Equal(got.AvgOrderValue), got.AvgOrderValue.String())
	assert.True(t, dec("33.00").Equal(got.RevenueToday), got.RevenueToday.String())
	assert.Equal(t, 2, got.OrdersToday)
	assert.Equal(t, 1, got.NewCustomersToday)
}

func TestSummarize_Empty(t *testing.T) {
	got := Summarize(nil, nil, time.Now(), time.UTC)
	assert.True(t, got.TotalRevenue.IsZero())
	assert.True(t, got.AvgOrderValue.IsZero())
	assert.Zero(t, got.TotalOrders)
}

func TestDaily(t *testing.T) {
	now := time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)
	sales, _ := fixtures(now)
	sales = append(sales, models.Sale{OrderID: "old", IncludingTax: dec("100"), Date: now.AddDate(0, 0, -10)})

	got := Daily(sales, 7, now, time.UTC)
	require.Len(t, got, 7)

	assert.Equal(t, "2024-03-08", got[0].Date)
	assert.Equal(t, "Mar 14", got[6].Label)

	today := got[6]
	assert.Equal(t, 2, today.Orders)
	assert.True(t, dec("33.00").Equal(today.Revenue))
	assert.True(t, dec("16.50").Equal(today.AvgOrderValue))

	yesterday := got[5]
	assert.Equal(t, 1, yesterday.Orders)

	for _, day := range got[:5] {
		assert.Zero(t, day.Orders)
		assert.True(t, day.AvgOrderValue.IsZero())
	}
}

func TestTop(t *testing.T) {
	_, customers := fixtures(time.Now())

	got := Top(customers, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].CustomerID)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "c1", got[1].CustomerID)
	assert.Equal(t, 2, got[1].Rank)

	// input order is left alone
	assert.Equal(t, "c1", customers[0].CustomerID)

	assert.Len(t, Top(customers, 0), 3)
}

func TestService_Report(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := memory.New(logger)
	now := time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)
	sales, customers := fixtures(now)
	for _, sale := range sales {
		s.AddSale(sale)
	}
	for _, c := range customers {
		s.AddCustomer(c)
	}

	svc := NewService(s, time.UTC)
	svc.now = func() time.Time { return now }

	report, err := svc.Report(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, report.Revenue, DefaultDays)
	assert.Len(t, report.TopCustomers, 3)
	assert.Equal(t, 3, report.Summary.TotalOrders)
	assert.Equal(t, now, report.GeneratedAt)

	s.FailOn(memory.OpFetchSales, errors.New("timeout"))
	_, err = svc.Report(context.Background(), 0, 0)
	var storeErr *models.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "fetchSales", storeErr.Op)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(0, 0))
	require.NoError(t, Validate(30, 10))
	require.Error(t, Validate(-1, 10))
	require.Error(t, Validate(30, 1000))
}
