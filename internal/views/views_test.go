package views

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/go-cmp/cmp"
	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomOrder(status models.OrderStatus) models.Order {
	at := gofakeit.DateRange(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	)
	return models.Order{
		OrderID:      "ORD-" + gofakeit.LetterN(6),
		CustomerID:   gofakeit.UUID(),
		CustomerName: gofakeit.Name(),
		PhoneNumber:  gofakeit.Phone(),
		Status:       status,
		NewOrderAt:   at,
		CreatedAt:    at,
	}
}

func ids(orders []models.Order) []string {
	return lo.Map(orders, func(o models.Order, _ int) string { return o.OrderID })
}

func TestPartition_TotalAndDisjoint(t *testing.T) {
	var orders []models.Order
	for _, status := range models.OrderStatuses() {
		n := gofakeit.IntRange(1, 5)
		for i := 0; i < n; i++ {
			orders = append(orders, randomOrder(status))
		}
	}
	stray := randomOrder("archived")
	orders = append(orders, stray)

	parts := Partition(orders)
	require.Len(t, parts, 4)

	seen := make(map[string]models.OrderStatus)
	for status, subset := range parts {
		for _, o := range subset {
			assert.Equal(t, status, o.Status)
			_, dup := seen[o.OrderID]
			assert.False(t, dup, "order %s in two partitions", o.OrderID)
			seen[o.OrderID] = status
		}
	}
	assert.Len(t, seen, len(orders)-1)
	assert.NotContains(t, seen, stray.OrderID)
}

func TestPartition_EmptyInput(t *testing.T) {
	parts := Partition(nil)
	for _, status := range models.OrderStatuses() {
		assert.NotNil(t, parts[status])
		assert.Empty(t, parts[status])
	}
}

func TestFilter_Text(t *testing.T) {
	orders := []models.Order{
		{OrderID: "ORD-1001", CustomerName: "Grace Hopper", PhoneNumber: "555-0100", Status: models.OrderStatusNew},
		{OrderID: "ORD-1002", CustomerName: "Alan 555 Turing", PhoneNumber: "020-7946", Status: models.OrderStatusNew},
		{OrderID: "ord-2001", CustomerName: "Edsger Dijkstra", PhoneNumber: "+31 20 000", Status: models.OrderStatusNew},
		{OrderID: "X-1", CustomerName: "Barbara Liskov", PhoneNumber: "617-253-0000", Status: models.OrderStatusNew},
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "empty query matches all", query: "", want: []string{"ORD-1001", "ORD-1002", "ord-2001", "X-1"}},
		{name: "order id is case-insensitive", query: "ORD-2", want: []string{"ord-2001"}},
		{name: "customer name partial", query: "hopp", want: []string{"ORD-1001"}},
		{name: "customer name upper case", query: "LISKOV", want: []string{"X-1"}},
		{name: "phone substring", query: "0100", want: []string{"ORD-1001"}},
		{name: "phone with separators", query: "253-0", want: []string{"X-1"}},
		{name: "no match", query: "zzz", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := History(orders, nil, Filter{Query: tt.query})
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestFilter_Query555(t *testing.T) {
	match := models.Order{OrderID: "A", CustomerName: "Grace Hopper", PhoneNumber: "555-0100"}
	other := models.Order{OrderID: "B", CustomerName: "Ada Lovelace", PhoneNumber: "020-7946"}

	f := Filter{Query: "555"}
	assert.True(t, f.Match(match))
	assert.False(t, f.Match(other))
}

func TestFilter_SingleDay(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 3, 14, 0, 0, 0, 0, loc)

	lateSameDay := models.Order{OrderID: "late", CreatedAt: time.Date(2024, 3, 14, 23, 59, 59, 0, loc)}
	earlyNextDay := models.Order{OrderID: "next", CreatedAt: time.Date(2024, 3, 15, 0, 0, 1, 0, loc)}
	midnight := models.Order{OrderID: "midnight", CreatedAt: day}
	dayBefore := models.Order{OrderID: "before", CreatedAt: day.Add(-time.Second)}

	orders := []models.Order{lateSameDay, earlyNextDay, midnight, dayBefore}

	for _, r := range []*DateRange{
		{From: day, To: day},
		{From: day},
	} {
		got := History(orders, nil, Filter{Range: r, Location: loc})
		assert.Equal(t, []string{"late", "midnight"}, ids(got))
	}
}

func TestFilter_InclusiveRange(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	from := time.Date(2024, 3, 10, 0, 0, 0, 0, loc)
	to := time.Date(2024, 3, 12, 0, 0, 0, 0, loc)

	orders := []models.Order{
		{OrderID: "first-day", CreatedAt: time.Date(2024, 3, 10, 0, 0, 0, 0, loc)},
		{OrderID: "middle", CreatedAt: time.Date(2024, 3, 11, 13, 0, 0, 0, loc)},
		{OrderID: "last-day", CreatedAt: time.Date(2024, 3, 12, 23, 30, 0, 0, loc)},
		// 22:30 UTC on the 12th is already the 13th in UTC+2.
		{OrderID: "after", CreatedAt: time.Date(2024, 3, 12, 22, 30, 0, 0, time.UTC)},
		{OrderID: "before", CreatedAt: time.Date(2024, 3, 9, 23, 59, 59, 0, loc)},
	}

	got := History(orders, nil, Filter{Range: &DateRange{From: from, To: to}, Location: loc})
	assert.Equal(t, []string{"first-day", "middle", "last-day"}, ids(got))

	reversed := History(orders, nil, Filter{Range: &DateRange{From: to, To: from}, Location: loc})
	assert.Equal(t, ids(got), ids(reversed))
}

func TestFilter_Anchor(t *testing.T) {
	loc := time.UTC
	placed := time.Date(2024, 3, 14, 22, 0, 0, 0, loc)
	accepted := time.Date(2024, 3, 15, 9, 0, 0, 0, loc)

	accept := models.Order{OrderID: "A", CreatedAt: placed, NewOrderAt: placed, AcceptedAt: &accepted}
	pending := models.Order{OrderID: "B", CreatedAt: placed, NewOrderAt: placed}
	orders := []models.Order{accept, pending}

	day15 := &DateRange{From: time.Date(2024, 3, 15, 0, 0, 0, 0, loc)}

	assert.Empty(t, History(orders, nil, Filter{Range: day15, Location: loc}))
	assert.Equal(t, []string{"A"}, ids(History(orders, nil, Filter{Range: day15, Anchor: AnchorAccepted, Location: loc})))
	assert.Empty(t, History(orders, nil, Filter{Range: day15, Anchor: AnchorReady, Location: loc}))
}

func TestBuild(t *testing.T) {
	orders := []models.Order{
		{OrderID: "N1", CustomerName: "Ada", Status: models.OrderStatusNew},
		{OrderID: "N2", CustomerName: "Grace", Status: models.OrderStatusNew},
		{OrderID: "P1", CustomerName: "Ada", Status: models.OrderStatusInProgress},
		{OrderID: "R1", CustomerName: "Ada", Status: models.OrderStatusReceived},
	}

	view, err := Build(orders, models.OrderStatusNew, Filter{Query: "ada"})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusNew, view.Tab)
	assert.Equal(t, []string{"N1"}, ids(view.Orders))

	wantCounts := map[models.OrderStatus]int{
		models.OrderStatusNew:        2,
		models.OrderStatusInProgress: 1,
		models.OrderStatusReady:      0,
		models.OrderStatusReceived:   1,
	}
	if diff := cmp.Diff(wantCounts, view.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	_, err = Build(orders, models.OrderStatusRejected, Filter{})
	require.Error(t, err)
}

func TestHistory_StatusFilter(t *testing.T) {
	orders := []models.Order{
		{OrderID: "N1", Status: models.OrderStatusNew},
		{OrderID: "R1", Status: models.OrderStatusReady},
		{OrderID: "R2", Status: models.OrderStatusReady},
	}

	ready := models.OrderStatusReady
	assert.Equal(t, []string{"R1", "R2"}, ids(History(orders, &ready, Filter{})))
	assert.Len(t, History(orders, nil, Filter{}), 3)
}

func TestParseDateRange(t *testing.T) {
	loc := time.UTC

	r, err := ParseDateRange("", "", loc)
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = ParseDateRange("2024-03-14", "", loc)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.True(t, r.To.IsZero())
	assert.True(t, r.Contains(time.Date(2024, 3, 14, 12, 0, 0, 0, loc), loc))

	r, err = ParseDateRange("2024-03-14", "2024-03-16", loc)
	require.NoError(t, err)
	assert.True(t, r.Contains(time.Date(2024, 3, 16, 23, 0, 0, 0, loc), loc))

	_, err = ParseDateRange("14/03/2024", "", loc)
	require.Error(t, err)

	_, err = ParseDateRange("", "2024-03-14", loc)
	require.Error(t, err)
}

func TestToAnchor(t *testing.T) {
	a, err := ToAnchor("")
	require.NoError(t, err)
	assert.Equal(t, AnchorCreated, a)

	a, err = ToAnchor("ready_at")
	require.NoError(t, err)
	assert.Equal(t, AnchorReady, a)

	_, err = ToAnchor("deleted_at")
	require.Error(t, err)
}
