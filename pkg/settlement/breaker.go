package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = errors.New("settlement circuit open")

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker fails fast after repeated backend failures.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        BreakerState
	clock        func() time.Time
}

func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
		clock:        time.Now,
	}
}

// WithClock overrides the time source.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerOpen {
		if cb.clock().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.clock()
	if cb.state == BreakerHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = BreakerOpen
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GuardedBackend puts a CircuitBreaker in front of a Backend.
// It is not a FundsChecker; pass the inner backend for that.
type GuardedBackend struct {
	inner   Backend
	breaker *CircuitBreaker
}

func NewGuardedBackend(inner Backend, breaker *CircuitBreaker) *GuardedBackend {
	return &GuardedBackend{inner: inner, breaker: breaker}
}

// Execute makes a single attempt.
func (g *GuardedBackend) Execute(ctx context.Context, req Request) (Receipt, error) {
	if !g.breaker.Allow() {
		return Receipt{}, fmt.Errorf("%w: %s", ErrCircuitOpen, g.breaker.name)
	}
	r, err := g.inner.Execute(ctx, req)
	if err != nil {
		g.breaker.Failure()
		return Receipt{}, err
	}
	g.breaker.Success()
	return r, nil
}

// Confirm is read-only and does not trip the breaker.
func (g *GuardedBackend) Confirm(ctx context.Context, receiptID string) (Confirmation, error) {
	return g.inner.Confirm(ctx, receiptID)
}
