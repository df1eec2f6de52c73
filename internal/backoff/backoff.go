// Package backoff retries flaky remote operations with exponential delay and
// jitter. It knows nothing about brokers or stores; callers decide what is
// worth retrying through Policy.ShouldRetry.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitterFactor = 0.1
)

// Policy controls how many times an operation runs and how long to wait
// between attempts. An operation runs at most MaxRetries+1 times.
type Policy struct {
	Name         string
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
	// ShouldRetry is consulted after every failure except the last. Nil means
	// always retry.
	ShouldRetry func(err error, attempt int) bool
	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand   func() float64
	Logger *zerolog.Logger
}

// DefaultPolicy returns the policy used when callers have no better numbers.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:         name,
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		JitterFactor: DefaultJitterFactor,
	}
}

// Attempts is the total attempt budget.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay computes the wait after the n-th failure (0-indexed):
// min(MaxDelay, base + U(0, JitterFactor*base)) with base = InitialDelay*Multiplier^n.
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	base := float64(p.InitialDelay) * math.Pow(mult, float64(n))
	jitter := 0.0
	if p.JitterFactor > 0 {
		jitter = p.random() * p.JitterFactor * base
	}
	d := base + jitter
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p Policy) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

func (p Policy) logger() *zerolog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (p Policy) name() string {
	if p.Name == "" {
		return "operation"
	}
	return p.Name
}

// sleep waits for d or until ctx is done. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds, the attempt budget is spent, ShouldRetry
// declines, or ctx is cancelled while waiting. The last error from op is
// returned unchanged in the first two cases so callers can classify it.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	log := p.logger()
	attempts := p.Attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			log.Info().Str("op", p.name()).Msgf("backoff: retrying (attempt %d/%d)", attempt+1, attempts)
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts-1 {
			log.Error().Err(err).Str("op", p.name()).Msgf("backoff: failed after %d attempts", attempts)
			return zero, err
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err, attempt) {
			log.Warn().Err(err).Str("op", p.name()).Msg("backoff: failed and should not retry")
			return zero, err
		}
		delay := p.Delay(attempt)
		log.Warn().Err(err).Str("op", p.name()).Dur("delay", delay).Msgf("backoff: attempt %d failed, retrying in %s", attempt+1, delay)
		if waitErr := sleep(ctx, delay); waitErr != nil {
			return zero, fmt.Errorf("%w (retry aborted: %v)", lastErr, waitErr)
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
