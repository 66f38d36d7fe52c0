package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig is the backoff policy for one error class.
type RetryConfig struct {
	// MaxAttempts counts the initial send.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth. Retry-After may exceed it.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait between attempts.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// classPolicies tunes DefaultRetryConfig per class. The provider counts its
// request ceiling per second, so a 429 clears quickly; network failures get
// one extra attempt since the request may never have left the host.
var classPolicies = map[ErrorClass]RetryConfig{
	ErrorClassServer:    {MaxAttempts: 3, InitialBackoff: 1 * time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2.0},
	ErrorClassRateLimit: {MaxAttempts: 4, InitialBackoff: 1 * time.Second, MaxBackoff: 30 * time.Second, BackoffMultiplier: 2.0},
	ErrorClassNetwork:   {MaxAttempts: 4, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second, BackoffMultiplier: 2.0},
}

// RetryConfigForErrorClass returns the policy for errorClass.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	if cfg, ok := classPolicies[errorClass]; ok {
		return cfg
	}
	return DefaultRetryConfig()
}

// backoff returns the un-jittered wait after the given failed attempt (1-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
		if time.Duration(d) >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return time.Duration(d)
}

// jitter spreads d by ±20%.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}

// retryWithBackoff calls fn until it succeeds, fails permanently or the policy
// of the first failure's class runs out. A ProviderError's RetryAfter is the
// minimum wait. Retrying a send is safe only because every request carries an
// Idempotency-Key.
func retryWithBackoff(ctx context.Context, policy func(ErrorClass) RetryConfig, fn func() error, classify func(error) ErrorClass) error {
	if policy == nil {
		policy = RetryConfigForErrorClass
	}

	var (
		cfg   RetryConfig
		class ErrorClass
	)
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().Str("error_class", string(class)).Int("attempt", attempt).Msg("Send succeeded after retry")
			}
			return nil
		}

		class = classify(err)
		if !shouldRetry(class) {
			return err
		}
		if attempt == 1 {
			cfg = policy(class)
			if cfg.MaxAttempts <= 1 {
				return err
			}
		}
		if attempt >= cfg.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			log.Warn().Str("error_class", string(class)).Int("max_attempts", cfg.MaxAttempts).Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxAttempts, err)
		}

		wait := jitter(cfg.backoff(attempt))
		var perr *ProviderError
		if errors.As(err, &perr) && perr.RetryAfter > wait {
			wait = perr.RetryAfter
		}
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())
		log.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying send")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}
}
