package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnavailable marks calls refused locally because the backend is known to
// be failing or the caller is over its request budget.
var ErrUnavailable = errors.New("llm backend unavailable")

type GuardOptions struct {
	Name   string
	Logger *zap.Logger

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int

	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Guard wraps a Client with a circuit breaker and an optional rate limiter.
// It never retries: a failed call is reported to the caller as is.
type Guard struct {
	next    Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewGuard(next Client, opts GuardOptions) *Guard {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = "llm"
	}
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	g := &Guard{next: next}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return g
}

func (g *Guard) Generate(ctx context.Context, messages []Message) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limit: %v", ErrUnavailable, err)
		}
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Generate(ctx, messages)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state, mostly for health output.
func (g *Guard) State() string {
	return g.breaker.State().String()
}

var _ Client = (*Guard)(nil)
