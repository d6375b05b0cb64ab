package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lattice-kg/lattice/internal/storage"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejects
// queries to stop a flapping database from stalling every request.
var ErrCircuitOpen = errors.New("database circuit breaker is open")

// BreakerConfig holds the configuration for the database circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip
	// the circuit. Default: 5.
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before transitioning
	// to half-open. Default: 15 seconds.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes required
	// in half-open state to close the circuit again. Default: 2.
	HalfOpenMaxSuccesses uint32
}

// BreakerMetrics holds counters about circuit breaker operations.
type BreakerMetrics struct {
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker wraps gobreaker to protect queries against a failing PostgreSQL
// backend. Domain errors (not found, invalid input, duplicate name) are
// healthy responses and never count as failures.
type Breaker struct {
	breaker *gobreaker.CircuitBreaker
	mu      sync.RWMutex
	metrics BreakerMetrics
}

// NewBreaker creates a circuit breaker with default configuration.
func NewBreaker() *Breaker {
	return NewBreakerWithConfig(BreakerConfig{
		MaxFailures:          5,
		Timeout:              15 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewBreakerWithConfig creates a circuit breaker with custom configuration.
func NewBreakerWithConfig(config BreakerConfig) *Breaker {
	b := &Breaker{}

	settings := gobreaker.Settings{
		Name:        "PostgresBreaker",
		MaxRequests: config.HalfOpenMaxSuccesses,
		Interval:    0,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isDomainError(err)
		},
	}

	b.breaker = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs the given function through the circuit breaker.
// If the circuit is open it returns ErrCircuitOpen immediately.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})

	if err != nil && !isDomainError(err) {
		b.recordFailure()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
	} else {
		b.recordSuccess()
	}

	return result, err
}

// State returns the current state: "closed", "open", or "half-open".
func (b *Breaker) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Metrics returns the current counters for the circuit breaker.
func (b *Breaker) Metrics() BreakerMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := b.breaker.Counts()
	return BreakerMetrics{
		TotalRequests:        b.metrics.TotalRequests,
		TotalSuccesses:       b.metrics.TotalSuccesses,
		TotalFailures:        b.metrics.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalRequests++
	b.metrics.TotalSuccesses++
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalRequests++
	b.metrics.TotalFailures++
}

func isDomainError(err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrInvalidInput) ||
		errors.Is(err, storage.ErrDuplicateName)
}
