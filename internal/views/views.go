// Package views derives the display subsets of an order snapshot: the status
// tabs, text search and calendar-day ranges. Everything here is a pure
// function of its inputs.
package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/samber/lo"
)

const dayLayout = "2006-01-02"

// Anchor selects the timestamp a date range is matched against.
type Anchor string

const (
	AnchorCreated  Anchor = "created_at"
	AnchorNewOrder Anchor = "new_order_at"
	AnchorAccepted Anchor = "accepted_at"
	AnchorReady    Anchor = "ready_at"
	AnchorReceived Anchor = "received_at"
)

const DefaultAnchor = AnchorCreated

func ToAnchor(s string) (Anchor, error) {
	switch a := Anchor(s); a {
	case "":
		return DefaultAnchor, nil
	case AnchorCreated, AnchorNewOrder, AnchorAccepted, AnchorReady, AnchorReceived:
		return a, nil
	default:
		return "", fmt.Errorf("invalid date anchor %q", s)
	}
}

func (a Anchor) timeOf(o models.Order) *time.Time {
	switch a {
	case AnchorNewOrder:
		return o.StageTime(models.OrderStatusNew)
	case AnchorAccepted:
		return o.AcceptedAt
	case AnchorReady:
		return o.ReadyAt
	case AnchorReceived:
		return o.ReceivedAt
	default:
		t := o.CreatedAt
		if t.IsZero() {
			t = o.NewOrderAt
		}
		return &t
	}
}

// DateRange is an inclusive range of calendar days. Only the date part of
// From and To is used; a zero To means the single day From.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange reads YYYY-MM-DD bounds in loc. It returns nil when from is
// empty.
func ParseDateRange(from, to string, loc *time.Location) (*DateRange, error) {
	if from == "" {
		if to != "" {
			return nil, fmt.Errorf("date range: 'to' given without 'from'")
		}
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}

	start, err := time.ParseInLocation(dayLayout, from, loc)
	if err != nil {
		return nil, fmt.Errorf("date range from: %w", err)
	}

	r := &DateRange{From: start}
	if to != "" {
		end, err := time.ParseInLocation(dayLayout, to, loc)
		if err != nil {
			return nil, fmt.Errorf("date range to: %w", err)
		}
		r.To = end
	}
	return r, nil
}

// bounds returns [start of first day, start of the day after the last day)
// in loc. Reversed bounds are swapped.
func (r DateRange) bounds(loc *time.Location) (time.Time, time.Time) {
	from := startOfDay(r.From, loc)
	to := from
	if !r.To.IsZero() {
		to = startOfDay(r.To, loc)
	}
	if to.Before(from) {
		from, to = to, from
	}
	return from, to.AddDate(0, 0, 1)
}

// Contains reports whether t falls on one of the days in the range.
func (r DateRange) Contains(t time.Time, loc *time.Location) bool {
	start, end := r.bounds(loc)
	t = t.In(loc)
	return !t.Before(start) && t.Before(end)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Filter narrows a subset. The zero Filter matches everything.
type Filter struct {
	Query    string
	Range    *DateRange
	Anchor   Anchor
	Location *time.Location
}

// Match applies the text and date predicates to o.
func (f Filter) Match(o models.Order) bool {
	return f.matchText(o) && f.matchDate(o)
}

// matchText is a case-insensitive substring match on order id and customer
// name. Phone numbers are matched raw.
func (f Filter) matchText(o models.Order) bool {
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	return strings.Contains(strings.ToLower(o.OrderID), q) ||
		strings.Contains(strings.ToLower(o.CustomerName), q) ||
		strings.Contains(o.PhoneNumber, f.Query)
}

func (f Filter) matchDate(o models.Order) bool {
	if f.Range == nil {
		return true
	}
	anchor := f.Anchor
	if anchor == "" {
		anchor = DefaultAnchor
	}
	t := anchor.timeOf(o)
	if t == nil {
		return false
	}
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return f.Range.Contains(*t, loc)
}

// Partition splits orders by status. Every order with a stored status lands
// in exactly one subset; order within a subset follows the input.
func Partition(orders []models.Order) map[models.OrderStatus][]models.Order {
	parts := make(map[models.OrderStatus][]models.Order, 4)
	for _, status := range models.OrderStatuses() {
		parts[status] = []models.Order{}
	}
	for _, o := range orders {
		if _, ok := parts[o.Status]; ok {
			parts[o.Status] = append(parts[o.Status], o)
		}
	}
	return parts
}

type View struct {
	Tab    models.OrderStatus         `json:"tab"`
	Orders []models.Order             `json:"orders"`
	Counts map[models.OrderStatus]int `json:"counts"`
}

// Build returns the tab subset narrowed by filter. Counts are per tab and
// ignore the filter, like the tab badges.
func Build(orders []models.Order, tab models.OrderStatus, filter Filter) (View, error) {
	if !tab.Stored() {
		return View{}, fmt.Errorf("invalid tab %q", tab)
	}

	parts := Partition(orders)
	counts := lo.MapValues(parts, func(subset []models.Order, _ models.OrderStatus) int {
		return len(subset)
	})

	return View{
		Tab:    tab,
		Orders: lo.Filter(parts[tab], func(o models.Order, _ int) bool { return filter.Match(o) }),
		Counts: counts,
	}, nil
}

// History lists orders of any status, optionally restricted to one.
func History(orders []models.Order, status *models.OrderStatus, filter Filter) []models.Order {
	return lo.Filter(orders, func(o models.Order, _ int) bool {
		if status != nil && o.Status != *status {
			return false
		}
		return filter.Match(o)
	})
}
