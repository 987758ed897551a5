package postgres

import (
	"encoding/json"
	"time"

	"github.com/jogardn/order-dashboard/internal/store"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

type listener struct {
	pq     *pq.Listener
	broker *store.Broker
	logger *logrus.Logger
	done   chan struct{}
	exited chan struct{}
}

func startListener(dsn string, broker *store.Broker, logger *logrus.Logger) (*listener, error) {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err).WithField("event", ev).Warn("Postgres listener event")
		}
	}

	pl := pq.NewListener(dsn, 10*time.Second, time.Minute, report)
	if err := pl.Listen(notifyChannel); err != nil {
		pl.Close()
		return nil, err
	}

	l := &listener{
		pq:     pl,
		broker: broker,
		logger: logger,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go l.run()

	logger.WithField("channel", notifyChannel).Info("Listening for table changes")
	return l, nil
}

func (l *listener) run() {
	defer close(l.exited)

	for {
		select {
		case <-l.done:
			return

		case n, ok := <-l.pq.Notify:
			if !ok {
				return
			}
			l.broker.Publish(parseNotification(n, l.logger))

		case <-time.After(90 * time.Second):
			go func() {
				if err := l.pq.Ping(); err != nil {
					l.logger.WithError(err).Warn("Postgres listener ping failed")
				}
			}()
		}
	}
}

// parseNotification decodes a trigger payload. A nil notification follows a
// reconnect, when changes may have been missed, so it maps to TableAll.
func parseNotification(n *pq.Notification, logger *logrus.Logger) store.Change {
	if n == nil {
		return store.Change{Table: store.TableAll, Type: store.EventAny}
	}

	var change store.Change
	if err := json.Unmarshal([]byte(n.Extra), &change); err != nil || change.Table == "" {
		logger.WithField("payload", n.Extra).Warn("Unrecognized change notification")
		return store.Change{Table: store.TableAll, Type: store.EventAny}
	}
	if change.Type == "" {
		change.Type = store.EventAny
	}
	return change
}

func (l *listener) Close() {
	close(l.done)
	<-l.exited
	if err := l.pq.Close(); err != nil {
		l.logger.WithError(err).Warn("Failed to close Postgres listener")
	}
}
