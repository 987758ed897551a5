// Package lifecycle owns the authoritative order collection. It applies
// status transitions through the store and keeps the collection in sync by
// full refreshes driven by a timer and by store change notifications.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jogardn/order-dashboard/internal/metrics"
	"github.com/jogardn/order-dashboard/internal/store"
	"github.com/jogardn/order-dashboard/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const DefaultRefreshInterval = 30 * time.Second

// DefaultFetchTimeout bounds a single shared fetch.
const DefaultFetchTimeout = 15 * time.Second

var ErrClosed = errors.New("lifecycle controller closed")

// Snapshot is an immutable view of the order collection. Consumers must not
// modify it.
type Snapshot struct {
	Orders      []models.Order
	RefreshedAt time.Time
	Version     uint64
}

func (s *Snapshot) Find(orderID string) (models.Order, bool) {
	if s == nil {
		return models.Order{}, false
	}
	for _, o := range s.Orders {
		if o.OrderID == orderID {
			return o, true
		}
	}
	return models.Order{}, false
}

type Config struct {
	RefreshInterval time.Duration
	FetchTimeout    time.Duration

	// Now is the clock used for lifecycle stamps. Defaults to time.Now.
	Now     func() time.Time
	Metrics *metrics.Metrics
}

type Controller struct {
	store      store.OrderStore
	subscriber store.Subscriber
	interval   time.Duration
	timeout    time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *logrus.Logger

	locks  *keyedMutex
	flight singleflight.Group

	mutex        sync.RWMutex
	snapshot     *Snapshot
	requested    uint64
	covered      uint64
	closed       bool
	listeners    []func(*Snapshot)
	unsubscribes []store.Unsubscribe

	trigger chan struct{}
	done    chan struct{}
}

// New builds a controller. subscriber may be nil, in which case only the
// timer and explicit refreshes keep the collection current.
func New(s store.OrderStore, subscriber store.Subscriber, cfg Config, logger *logrus.Logger) *Controller {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Controller{
		store:      s,
		subscriber: subscriber,
		interval:   cfg.RefreshInterval,
		timeout:    cfg.FetchTimeout,
		now:        cfg.Now,
		metrics:    cfg.Metrics,
		logger:     logger,
		locks:      newKeyedMutex(),
		snapshot:   &Snapshot{},
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Snapshot returns the latest collection. Before the first successful
// refresh it is empty with a zero RefreshedAt.
func (c *Controller) Snapshot() *Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.snapshot
}

// LastRefreshedAt is the wall-clock time of the last successful fetch.
func (c *Controller) LastRefreshedAt() time.Time {
	return c.Snapshot().RefreshedAt
}

// OnRefresh registers fn to receive every new snapshot, in order. fn runs on
// the refreshing goroutine and must not call Refresh.
func (c *Controller) OnRefresh(fn func(*Snapshot)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Start subscribes to changes on orders and order_items. Run calls it.
func (c *Controller) Start() error {
	if c.subscriber == nil {
		return nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return ErrClosed
	}
	if len(c.unsubscribes) > 0 {
		return nil
	}

	for _, table := range []store.Table{store.TableOrders, store.TableOrderItems} {
		unsubscribe, err := c.subscriber.Subscribe(table, store.EventAny, c.onChange)
		if err != nil {
			for _, u := range c.unsubscribes {
				u()
			}
			c.unsubscribes = nil
			return fmt.Errorf("subscribe %s: %w", table, err)
		}
		c.unsubscribes = append(c.unsubscribes, unsubscribe)
	}
	return nil
}

func (c *Controller) onChange(change store.Change) {
	c.logger.WithFields(logrus.Fields{
		"table": change.Table,
		"event": change.Type,
	}).Debug("Change notification received")
	c.RequestRefresh()
}

// RequestRefresh asks the Run loop for a refresh without waiting. Requests
// made while one is already pending are merged.
func (c *Controller) RequestRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run performs the initial load and then refreshes on every tick and every
// change notification until ctx is done or Close is called.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}

	c.refreshAndLog(ctx, "initial")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-ticker.C:
			c.refreshAndLog(ctx, "timer")
		case <-c.trigger:
			c.refreshAndLog(ctx, "change")
		}
	}
}

func (c *Controller) refreshAndLog(ctx context.Context, reason string) {
	if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
		c.logger.WithError(err).WithField("reason", reason).Error("Failed to refresh orders")
	}
}

// Refresh replaces the collection with a full fetch. Concurrent callers share
// one in-flight fetch; a caller that arrives after that fetch started waits
// for another one, so the result is never older than the call. The shared
// fetch runs on its own deadline: a caller giving up returns ctx.Err() without
// failing the others. On error the previous snapshot stays in place.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return ErrClosed
	}
	c.requested++
	want := c.requested
	c.mutex.Unlock()

	for !c.coveredBy(want) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ch := c.flight.DoChan("orders", func() (interface{}, error) {
			fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
			defer cancel()
			return nil, c.fetch(fetchCtx)
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return res.Err
			}
		}
	}
	return nil
}

// coveredBy reports whether a fetch that started after request number want
// has been applied.
func (c *Controller) coveredBy(want uint64) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.covered >= want
}

func (c *Controller) fetch(ctx context.Context) error {
	c.mutex.RLock()
	mark, closed := c.requested, c.closed
	c.mutex.RUnlock()
	if closed {
		return ErrClosed
	}

	start := time.Now()
	orders, err := c.store.FetchAll(ctx)
	if err != nil {
		c.metrics.ObserveRefresh("error", time.Since(start))
		return &models.StoreError{Op: "fetchAll", Err: err}
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		c.metrics.ObserveRefresh("discarded", time.Since(start))
		c.logger.Debug("Discarding refresh result for closed controller")
		return ErrClosed
	}

	snap := &Snapshot{
		Orders:      orders,
		RefreshedAt: c.now(),
		Version:     c.snapshot.Version + 1,
	}
	c.snapshot = snap
	if mark > c.covered {
		c.covered = mark
	}
	listeners := append([]func(*Snapshot){}, c.listeners...)
	c.mutex.Unlock()

	c.metrics.ObserveRefresh("success", time.Since(start))
	c.recordCounts(snap)

	c.logger.WithFields(logrus.Fields{
		"count":   len(orders),
		"version": snap.Version,
	}).Debug("Orders refreshed")

	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

func (c *Controller) recordCounts(snap *Snapshot) {
	counts := make(map[models.OrderStatus]int)
	for _, o := range snap.Orders {
		counts[o.Status]++
	}
	for _, status := range models.OrderStatuses() {
		c.metrics.SetOrderCount(string(status), counts[status])
	}
}

// Close detaches from the store and stops Run. Fetches still in flight
// complete but their results are dropped.
func (c *Controller) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	unsubscribes := c.unsubscribes
	c.unsubscribes = nil
	c.mutex.Unlock()

	for _, u := range unsubscribes {
		u()
	}
	close(c.done)
}

// Accept moves a new order to in_progress.
func (c *Controller) Accept(ctx context.Context, orderID string) (models.Order, error) {
	return c.advance(ctx, "accept", orderID, models.OrderStatusInProgress)
}

// MarkReady moves an in_progress order to ready.
func (c *Controller) MarkReady(ctx context.Context, orderID string) (models.Order, error) {
	return c.advance(ctx, "mark_ready", orderID, models.OrderStatusReady)
}

// MarkReceived moves a ready order to received.
func (c *Controller) MarkReceived(ctx context.Context, orderID string) (models.Order, error) {
	return c.advance(ctx, "mark_received", orderID, models.OrderStatusReceived)
}

func (c *Controller) advance(ctx context.Context, op, orderID string, to models.OrderStatus) (models.Order, error) {
	from, ok := to.Previous()
	if !ok {
		return models.Order{}, fmt.Errorf("no transition into %q", to)
	}

	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.current(ctx, orderID)
	if err != nil {
		c.metrics.ObserveTransition(op, "error")
		return models.Order{}, err
	}

	if order.Status != from {
		c.metrics.ObserveTransition(op, "invalid")
		return order, &models.TransitionError{OrderID: orderID, From: order.Status, To: to}
	}

	update := store.StatusUpdate{From: from, To: to}
	stamp := c.stamp(order, from)
	switch to {
	case models.OrderStatusInProgress:
		update.AcceptedAt = &stamp
	case models.OrderStatusReady:
		update.ReadyAt = &stamp
	case models.OrderStatusReceived:
		update.ReceivedAt = &stamp
	}

	if err := c.store.UpdateStatus(ctx, orderID, update); err != nil {
		return order, c.writeFailed(ctx, op, orderID, to, err)
	}

	c.metrics.ObserveTransition(op, "success")
	c.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     from,
		"to":       to,
	}).Info("Order status updated")

	if err := c.Refresh(ctx); err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("Refresh after transition failed")
	}

	if updated, ok := c.Snapshot().Find(orderID); ok {
		return updated, nil
	}

	order.Status = to
	order.AcceptedAt = firstNonNil(order.AcceptedAt, update.AcceptedAt)
	order.ReadyAt = firstNonNil(order.ReadyAt, update.ReadyAt)
	order.ReceivedAt = firstNonNil(order.ReceivedAt, update.ReceivedAt)
	return order, nil
}

// Reject deletes a new order together with its items. It cannot be undone.
func (c *Controller) Reject(ctx context.Context, orderID string) error {
	const op = "reject"

	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.current(ctx, orderID)
	if err != nil {
		c.metrics.ObserveTransition(op, "error")
		return err
	}

	if order.Status != models.OrderStatusNew {
		c.metrics.ObserveTransition(op, "invalid")
		return &models.TransitionError{OrderID: orderID, From: order.Status, To: models.OrderStatusRejected}
	}

	if err := c.store.DeleteOrder(ctx, orderID, models.OrderStatusNew); err != nil {
		return c.writeFailed(ctx, op, orderID, models.OrderStatusRejected, err)
	}

	c.metrics.ObserveTransition(op, "success")
	c.logger.WithField("order_id", orderID).Info("Order rejected and removed")

	if err := c.Refresh(ctx); err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("Refresh after rejection failed")
	}
	return nil
}

// writeFailed classifies a failed store write. A status conflict means
// another writer got there first; the refreshed snapshot tells us from what.
func (c *Controller) writeFailed(ctx context.Context, op, orderID string, to models.OrderStatus, err error) error {
	switch {
	case errors.Is(err, models.ErrStatusConflict):
		c.metrics.ObserveTransition(op, "conflict")
		if rerr := c.Refresh(ctx); rerr != nil {
			c.logger.WithError(rerr).WithField("order_id", orderID).Warn("Refresh after conflict failed")
			return fmt.Errorf("order %s: %w", orderID, errors.Join(models.ErrStatusConflict, rerr))
		}
		actual, ok := c.Snapshot().Find(orderID)
		if !ok {
			return fmt.Errorf("order %s: %w", orderID, models.ErrOrderNotFound)
		}
		return &models.TransitionError{OrderID: orderID, From: actual.Status, To: to}

	case errors.Is(err, models.ErrOrderNotFound):
		c.metrics.ObserveTransition(op, "not_found")
		if rerr := c.Refresh(ctx); rerr != nil {
			c.logger.WithError(rerr).WithField("order_id", orderID).Warn("Refresh after missing order failed")
		}
		return fmt.Errorf("order %s: %w", orderID, models.ErrOrderNotFound)

	default:
		c.metrics.ObserveTransition(op, "error")
		c.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":  orderID,
			"operation": op,
		}).Error("Failed to update order")
		return &models.StoreError{Op: op, Err: err}
	}
}

// current looks the order up in the snapshot, refreshing once if it is not
// there yet.
func (c *Controller) current(ctx context.Context, orderID string) (models.Order, error) {
	if order, ok := c.Snapshot().Find(orderID); ok {
		return order, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return models.Order{}, err
	}

	if order, ok := c.Snapshot().Find(orderID); ok {
		return order, nil
	}
	return models.Order{}, fmt.Errorf("order %s: %w", orderID, models.ErrOrderNotFound)
}

// stamp returns now, but never earlier than the stamp of the stage the order
// is leaving.
func (c *Controller) stamp(order models.Order, from models.OrderStatus) time.Time {
	now := c.now()
	if prev := order.StageTime(from); prev != nil && now.Before(*prev) {
		return *prev
	}
	return now
}

func firstNonNil(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}
