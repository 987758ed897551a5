package store

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type subscription struct {
	table   Table
	event   EventType
	handler ChangeHandler
}

func (s subscription) matches(c Change) bool {
	if c.Table != TableAll && s.table != c.Table {
		return false
	}
	return s.event == EventAny || c.Type == EventAny || s.event == c.Type
}

// Broker fans change signals out to in-process subscribers. Handlers run on
// the publishing goroutine and must not block.
type Broker struct {
	mutex  sync.RWMutex
	nextID int
	subs   map[int]subscription
	logger *logrus.Logger
}

func NewBroker(logger *logrus.Logger) *Broker {
	return &Broker{
		subs:   make(map[int]subscription),
		logger: logger,
	}
}

func (b *Broker) Subscribe(table Table, event EventType, handler ChangeHandler) (Unsubscribe, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", table)
	}
	if table == "" || table == TableAll {
		return nil, fmt.Errorf("subscribe: invalid table %q", table)
	}
	if event == "" {
		event = EventAny
	}

	b.mutex.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{table: table, event: event, handler: handler}
	b.mutex.Unlock()

	b.logger.WithFields(logrus.Fields{
		"table": table,
		"event": event,
	}).Debug("Subscribed to table changes")

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mutex.Lock()
			delete(b.subs, id)
			b.mutex.Unlock()
		})
	}, nil
}

func (b *Broker) Publish(c Change) {
	b.mutex.RLock()
	matched := make([]ChangeHandler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(c) {
			matched = append(matched, sub.handler)
		}
	}
	b.mutex.RUnlock()

	for _, handler := range matched {
		handler(c)
	}
}

func (b *Broker) SubscriberCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subs)
}
