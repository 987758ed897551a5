// Package alert raises a new-order alert when the number of new orders grows.
package alert

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Notifier remembers the last observed count of new orders. The first
// observation only sets the baseline.
type Notifier struct {
	mutex    sync.Mutex
	baseline int
	primed   bool
	onAlert  func(previous, current int)
	logger   *logrus.Logger
}

// NewNotifier calls onAlert, which may be nil, every time Observe sees the
// count go up.
func NewNotifier(onAlert func(previous, current int), logger *logrus.Logger) *Notifier {
	return &Notifier{onAlert: onAlert, logger: logger}
}

// Observe records count and reports whether it is above the baseline. A
// lower count moves the baseline down so that the next increase alerts again.
func (n *Notifier) Observe(count int) bool {
	n.mutex.Lock()
	previous, primed := n.baseline, n.primed
	n.baseline, n.primed = count, true
	n.mutex.Unlock()

	if !primed || count <= previous {
		return false
	}

	n.logger.WithFields(logrus.Fields{
		"previous": previous,
		"current":  count,
	}).Info("New orders arrived")

	if n.onAlert != nil {
		n.onAlert(previous, count)
	}
	return true
}

// Baseline returns the last observed count.
func (n *Notifier) Baseline() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.baseline
}
