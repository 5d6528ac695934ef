// Package recovery implements the retry policy applied to redemption steps.
// Each error kind maps to an exponential backoff strategy; kinds without a
// strategy, and non-recoverable errors, are attempted exactly once.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// DefaultRandomization is the jitter applied to retry delays.
const DefaultRandomization = 0.2

// Strategy is the retry behavior for one error kind.
type Strategy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Policy maps error kinds to retry strategies.
type Policy struct {
	strategies    map[models.ErrorKind]Strategy
	maxElapsed    time.Duration
	randomization float64
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time
	logger        *logrus.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

// WithRandomization sets the jitter factor; 0 yields exact exponential delays.
func WithRandomization(factor float64) Option {
	return func(p *Policy) {
		p.randomization = factor
	}
}

// NewPolicy builds a policy from configuration. Unknown kind names in the
// configuration are ignored with a warning.
func NewPolicy(cfg *config.RecoveryConfig, logger *logrus.Logger, opts ...Option) *Policy {
	p := &Policy{
		strategies:    make(map[models.ErrorKind]Strategy, len(cfg.Strategies)),
		maxElapsed:    cfg.MaxElapsed,
		randomization: DefaultRandomization,
		sleep:         sleepContext,
		now:           time.Now,
		logger:        logger,
	}

	for name, sc := range cfg.Strategies {
		kind := models.ErrorKind(name)
		if kind.Code() == "UNKNOWN_ERROR" {
			logger.WithField("kind", name).Warn("Ignoring retry strategy for unknown error kind")
			continue
		}
		p.strategies[kind] = Strategy{
			MaxAttempts:    sc.MaxAttempts,
			InitialBackoff: sc.InitialBackoff,
			MaxBackoff:     sc.MaxBackoff,
			Multiplier:     sc.Multiplier,
		}
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StrategyFor returns the strategy of a recoverable kind.
func (p *Policy) StrategyFor(kind models.ErrorKind) (Strategy, bool) {
	if !kind.Recoverable() {
		return Strategy{}, false
	}
	s, ok := p.strategies[kind]
	return s, ok
}

// MaxAttempts returns the total attempts allowed for kind, including the first.
func (p *Policy) MaxAttempts(kind models.ErrorKind) int {
	s, ok := p.StrategyFor(kind)
	if !ok || s.MaxAttempts < 1 {
		return 1
	}
	return s.MaxAttempts
}

// Schedule returns the delays between consecutive attempts for kind, without jitter.
func (p *Policy) Schedule(kind models.ErrorKind) []time.Duration {
	s, ok := p.StrategyFor(kind)
	if !ok || s.MaxAttempts <= 1 {
		return nil
	}

	b := s.backOff(0)
	delays := make([]time.Duration, 0, s.MaxAttempts-1)
	for range s.MaxAttempts - 1 {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

func (s Strategy) backOff(randomization float64) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.InitialBackoff,
		RandomizationFactor: randomization,
		Multiplier:          s.Multiplier,
		MaxInterval:         s.MaxBackoff,
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = s.InitialBackoff
	}
	b.Reset()
	return b
}

// Stop marks err as final: Run returns it without further attempts, even
// when its kind would otherwise be retried.
func Stop(err error) error {
	return backoff.Permanent(err)
}

// Operation is one attempt of a retried step. attempt starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Run calls op until it succeeds, returns a non-recoverable error, or the
// strategy of the returned error kind is exhausted. The strategy is chosen
// from the kind of the most recent error, so a step that first conflicts and
// then hits a database error switches to the database schedule. The
// returned RedemptionError records the number of attempts made.
func Run[T any](ctx context.Context, p *Policy, operation string, op Operation[T]) (T, error) {
	var zero T
	started := p.now()
	backoffs := make(map[models.ErrorKind]*backoff.ExponentialBackOff)

	for attempt := 1; ; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
			if redemptionErr, ok := models.AsRedemptionError(err); ok {
				return zero, redemptionErr.WithAttempts(attempt)
			}
			return zero, err
		}

		redemptionErr, ok := models.AsRedemptionError(err)
		if !ok {
			return zero, err
		}
		redemptionErr.WithAttempts(attempt)

		strategy, retryable := p.StrategyFor(redemptionErr.Kind)
		if !retryable || attempt >= strategy.MaxAttempts {
			return zero, redemptionErr
		}
		if p.maxElapsed > 0 && p.now().Sub(started) >= p.maxElapsed {
			return zero, redemptionErr
		}

		b, exists := backoffs[redemptionErr.Kind]
		if !exists {
			b = strategy.backOff(p.randomization)
			backoffs[redemptionErr.Kind] = b
		}
		delay := b.NextBackOff()

		p.logger.WithFields(logrus.Fields{
			"operation":  operation,
			"error_kind": redemptionErr.Kind,
			"attempt":    attempt,
			"delay_ms":   delay.Milliseconds(),
		}).WithError(err).Warn("Retrying after recoverable error")

		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return zero, redemptionErr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
