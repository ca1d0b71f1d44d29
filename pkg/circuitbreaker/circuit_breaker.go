// Package circuitbreaker stops calls to a failing remote store for a cooldown
// period, then lets a few probe calls through before closing again.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatthread/internal/constants"
	"chatthread/internal/metrics"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Options configures a Breaker. Zero values take the package defaults.
type Options struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is the number of successful half-open calls needed to close.
	Probes  int
	Logger  *logrus.Logger
	Metrics *metrics.Registry
	Clock   func() time.Time
}

// Breaker implements the circuit breaker pattern for backend calls
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probes      int
	logger      *logrus.Logger
	metrics     *metrics.Registry
	clock       func() time.Time
	labels      map[string]string

	mu             sync.Mutex
	state          State
	failures       int
	openedAt       time.Time
	probesInFlight int
	probeSuccesses int
	trips          int
}

// New creates a breaker named after the store it protects
func New(name string, opts Options) *Breaker {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = constants.DefaultBreakerMaxFailures
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Duration(constants.DefaultBreakerCooldownSec) * time.Second
	}
	if opts.Probes <= 0 {
		opts.Probes = constants.DefaultBreakerProbes
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.GetRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Breaker{
		name:        name,
		maxFailures: opts.MaxFailures,
		cooldown:    opts.Cooldown,
		probes:      opts.Probes,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		labels:      map[string]string{"breaker": name},
		state:       StateClosed,
	}
}

// Execute runs fn unless the breaker is open. Errors caused by the caller's
// context ending are returned but not counted as failures.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.release(probe, countsAsFailure(ctx, err), err == nil)
	return err
}

// State returns the current state, moving an open breaker to half-open when
// its cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Stats returns statistics about the circuit breaker
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	return Stats{
		Name:     b.name,
		State:    b.state,
		Failures: b.failures,
		Trips:    b.trips,
		OpenedAt: b.openedAt,
	}
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case StateOpen:
		return false, b.reject()
	case StateHalfOpen:
		if b.probesInFlight >= b.probes {
			return false, b.reject()
		}
		b.probesInFlight++
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) release(probe, failed, succeeded bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		// A probe that finishes after another probe reopened the breaker has
		// no say in the new cycle.
		if b.state != StateHalfOpen {
			return
		}
		b.probesInFlight--
		switch {
		case failed:
			b.trip()
		case succeeded:
			b.probeSuccesses++
			if b.probeSuccesses >= b.probes {
				b.reset()
			}
		}
		return
	}

	if b.state != StateClosed {
		return
	}
	switch {
	case failed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.trip()
		}
	case succeeded:
		b.failures = 0
	}
}

// advance is called with mu held.
func (b *Breaker) advance() {
	if b.state != StateOpen || b.clock().Before(b.openedAt.Add(b.cooldown)) {
		return
	}
	b.state = StateHalfOpen
	b.probesInFlight = 0
	b.probeSuccesses = 0
	b.logger.WithFields(logrus.Fields{
		"circuit_breaker": b.name,
		"state":           StateHalfOpen.String(),
	}).Info("Circuit breaker transitioned to half-open")
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.clock()
	b.trips++
	b.metrics.IncrementCounter(metrics.BreakerTrips, b.labels, "Times a backend circuit breaker opened")
	b.logger.WithFields(logrus.Fields{
		"circuit_breaker": b.name,
		"failures":        b.failures,
		"cooldown":        b.cooldown.String(),
		"state":           StateOpen.String(),
	}).Warn("Circuit breaker opened due to failures")
	b.failures = 0
}

func (b *Breaker) reset() {
	b.state = StateClosed
	b.failures = 0
	b.probesInFlight = 0
	b.probeSuccesses = 0
	b.logger.WithFields(logrus.Fields{
		"circuit_breaker": b.name,
		"state":           StateClosed.String(),
	}).Info("Circuit breaker closed after successful recovery")
}

func (b *Breaker) reject() error {
	b.metrics.IncrementCounter(metrics.BreakerRejections, b.labels, "Backend calls rejected by an open circuit breaker")
	return &OpenError{Name: b.name, State: b.state}
}

func countsAsFailure(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name     string
	State    State
	Failures int
	Trips    int
	OpenedAt time.Time
}

// OpenError is returned for calls rejected by an open or saturated breaker
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsOpenError checks if an error was produced by a rejecting breaker
func IsOpenError(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
