// Package circuitbreaker fails calls to a repeatedly failing downstream fast
// instead of waiting on it.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name        string
	MaxFailures int
	MaxRequests int

	// Timeout is how long the breaker stays open before letting a probe
	// through.
	Timeout time.Duration

	// IsFailure decides which errors count against the downstream. Nil
	// counts every error.
	IsFailure func(error) bool

	OnStateChange func(name string, from, to State)
	Now           func() time.Time
}

type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalRejected   int64     `json:"total_rejected"`
	LastFailure     time.Time `json:"last_failure"`
	LastStateChange time.Time `json:"last_state_change"`
}

type CircuitBreaker struct {
	name          string
	maxFailures   int
	timeout       time.Duration
	maxRequests   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mutex        sync.Mutex
	state        State
	failures     int
	halfOpenRuns int
	stats        Stats

	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	if config.MaxFailures <= 0 {
		logger.WithFields(logrus.Fields{
			"circuit_breaker": config.Name,
			"invalid_value":   config.MaxFailures,
			"default_value":   5,
		}).Warn("Invalid MaxFailures value, using default")
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Timeout > 10*time.Minute {
		logger.WithFields(logrus.Fields{
			"circuit_breaker": config.Name,
			"invalid_value":   config.Timeout,
			"max_allowed":     "10m",
		}).Warn("Timeout too high, capping at maximum")
		config.Timeout = 10 * time.Minute
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		name:          config.Name,
		maxFailures:   config.MaxFailures,
		timeout:       config.Timeout,
		maxRequests:   config.MaxRequests,
		isFailure:     config.IsFailure,
		onStateChange: config.OnStateChange,
		now:           config.Now,
		state:         StateClosed,
		stats:         Stats{Name: config.Name},
		logger:        logger,
	}
}

type transition struct {
	from, to State
}

// Execute runs fn unless the breaker is open. Errors from fn are returned
// unchanged; rejected calls return ErrOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cb.mutex.Lock()
	var changes []transition

	if cb.state == StateOpen {
		if cb.now().Sub(cb.stats.LastFailure) < cb.timeout {
			cb.stats.TotalRejected++
			cb.mutex.Unlock()
			return ErrOpen
		}
		changes = append(changes, cb.setState(StateHalfOpen))
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenRuns >= cb.maxRequests {
			cb.stats.TotalRejected++
			cb.mutex.Unlock()
			cb.notify(changes)
			return ErrOpen
		}
		cb.halfOpenRuns++
	}

	cb.stats.TotalRequests++
	cb.mutex.Unlock()
	cb.notify(changes)

	err := fn(ctx)

	cb.mutex.Lock()
	changes = changes[:0]
	if err != nil && cb.isFailure(err) {
		cb.stats.TotalFailures++
		cb.failures++
		cb.stats.LastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			changes = append(changes, cb.setState(StateOpen))
		}
	} else {
		cb.stats.TotalSuccesses++
		cb.failures = 0
		if cb.state == StateHalfOpen {
			changes = append(changes, cb.setState(StateClosed))
		}
	}
	cb.mutex.Unlock()
	cb.notify(changes)

	return err
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(newState State) transition {
	t := transition{from: cb.state, to: newState}
	if cb.state == newState {
		return t
	}

	cb.state = newState
	cb.halfOpenRuns = 0
	cb.stats.LastStateChange = cb.now()

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from_state":      t.from.String(),
		"to_state":        t.to.String(),
	}).Info("Circuit breaker state changed")
	return t
}

func (cb *CircuitBreaker) notify(changes []transition) {
	if cb.onStateChange == nil {
		return
	}
	for _, t := range changes {
		if t.from != t.to {
			cb.onStateChange(cb.name, t.from, t.to)
		}
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	s := cb.stats
	s.State = cb.state.String()
	s.Failures = cb.failures
	return s
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	t := cb.setState(StateClosed)
	cb.failures = 0
	cb.stats.LastFailure = time.Time{}
	cb.mutex.Unlock()

	cb.notify([]transition{t})
}

func (cb *CircuitBreaker) String() string {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return fmt.Sprintf("CircuitBreaker(name=%s, state=%s, failures=%d/%d)",
		cb.name, cb.state.String(), cb.failures, cb.maxFailures)
}
