package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_http_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_http_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_http_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, the first one included.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BackoffMultiplier grows the backoff after every attempt.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ForClass scales the backoff to the error class: quota errors wait five
// times longer, network errors twice as long.
func (c RetryConfig) ForClass(class fetch.ErrorClass) RetryConfig {
	scale := time.Duration(1)
	switch class {
	case fetch.ErrorClassRateLimit:
		scale = 5
	case fetch.ErrorClassNetwork:
		scale = 2
	}
	c.InitialBackoff *= scale
	c.MaxBackoff *= scale
	return c
}

// attempt is one try: the error it produced, its class, and an optional
// server-requested delay (Retry-After).
type attempt struct {
	err        error
	class      fetch.ErrorClass
	retryAfter time.Duration
}

// retryWithBackoff runs fn until it succeeds, fails with a permanent class,
// or runs out of attempts. Backoff is exponential with ±20% jitter and
// follows the class of the latest failure.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func() attempt) error {
	maxAttempts := max(cfg.MaxAttempts, 1)

	var last attempt
	for n := 1; n <= maxAttempts; n++ {
		last = fn()
		if last.err == nil {
			if n > 1 {
				logger.Info().Int("attempt", n).Msg("Request succeeded after retry")
			}
			return nil
		}

		if !shouldRetry(last.class) {
			return last.err
		}
		if n == maxAttempts {
			break
		}

		classCfg := cfg.ForClass(last.class)
		backoff := classCfg.InitialBackoff
		for i := 1; i < n; i++ {
			backoff = time.Duration(float64(backoff) * classCfg.BackoffMultiplier)
		}
		if backoff > classCfg.MaxBackoff {
			backoff = classCfg.MaxBackoff
		}
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		if last.retryAfter > wait {
			wait = last.retryAfter
		}

		retriesTotal.WithLabelValues(string(last.class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(last.class)).Observe(wait.Seconds())
		logger.Debug().
			Str("error_class", string(last.class)).
			Int("attempt", n).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().Int("attempt", n).Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(string(last.class)).Inc()
	logger.Warn().
		Str("error_class", string(last.class)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, last.err)
}
