package ports

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/fenwick/engram/internal/config"
)

// Guard wraps a port call with a circuit breaker and a rate limiter, so a
// failing or overloaded Enricher/Embedder degrades predictably instead of
// cascading into every caller (grounded on internal/llm/circuit_breaker.go's
// gobreaker wiring; the rate limiter is new, sourced from golang.org/x/time/rate
// per SPEC_FULL.md's domain stack).
type Guard struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	failure error // engramerr sentinel reported once the breaker trips or rejects
}

// NewGuard builds a Guard from port configuration. failure is the
// engramerr sentinel this guard reports on open-circuit or context-deadline
// failures (engramerr.EnrichmentUnavailable or engramerr.EmbeddingUnavailable).
func NewGuard(name string, cfg config.PortConfig, failure error) *Guard {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.CircuitOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitMaxFailures
		},
	}
	limit := cfg.RateLimitPerSecond
	if limit <= 0 {
		limit = 5
	}
	return &Guard{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
		failure: failure,
	}
}

// Call runs fn under the deadline, rate limit, and circuit breaker. Any
// failure — breaker-open, rate-limit wait cancelled, fn error, or deadline
// exceeded — is reported as the Guard's configured engramerr sentinel,
// wrapping the underlying cause.
func (g *Guard) Call(ctx context.Context, timeout time.Duration, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, joinFailure(g.failure, err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, joinFailure(g.failure, err)
		}
		return nil, joinFailure(g.failure, err)
	}
	return result, nil
}

// State reports the breaker's current state: "closed", "open", "half-open".
func (g *Guard) State() string {
	switch g.breaker.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func joinFailure(sentinel, cause error) error {
	return &portError{sentinel: sentinel, cause: cause}
}

// portError wraps a failure cause under a fixed engramerr sentinel so
// callers can both errors.Is against the sentinel and inspect the cause.
type portError struct {
	sentinel error
	cause    error
}

func (e *portError) Error() string   { return e.sentinel.Error() + ": " + e.cause.Error() }
func (e *portError) Unwrap() []error { return []error{e.sentinel, e.cause} }
