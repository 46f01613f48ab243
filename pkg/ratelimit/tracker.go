package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	requestsRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_ratelimit_remaining",
		Help: "Requests remaining in the current rate limit window",
	}, []string{"endpoint"})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_ratelimit_blocks_total",
		Help: "Total number of requests blocked because the quota is nearly exhausted",
	}, []string{"endpoint"})

	rateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_ratelimit_throttles_total",
		Help: "Total number of requests delayed because the quota is low",
	}, []string{"endpoint"})
)

// Response headers read by UpdateFromHeaders.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// DefaultThrottleDelay is how long a throttled request waits.
const DefaultThrottleDelay = time.Second

// Tracker gates requests to one endpoint on its shared quota.
type Tracker struct {
	redis    redis.UniversalClient
	endpoint string
	logger   zerolog.Logger

	// ThrottleDelay is the wait applied in the warning range.
	ThrottleDelay time.Duration
}

// NewTracker creates a tracker for endpoint.
func NewTracker(redisClient redis.UniversalClient, endpoint string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		endpoint:      endpoint,
		logger:        logger.With().Str("endpoint", endpoint).Logger(),
		ThrottleDelay: DefaultThrottleDelay,
	}
}

// Key returns the Redis hash key of the tracked endpoint.
func (t *Tracker) Key() string {
	return RedisKeyPrefix + ":" + t.endpoint
}

// GetState loads the state from Redis. Without stored state it returns a
// healthy default.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, t.Key()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	if len(fields) == 0 {
		t.logger.Debug().Msg("No rate limit state in Redis, assuming healthy")
		return &State{IsHealthy: true, LastUpdate: time.Now()}, nil
	}

	state := &State{}
	for name, dst := range map[string]*int{fieldLimit: &state.Limit, fieldRemaining: &state.Remaining} {
		if v, ok := fields[name]; ok {
			if *dst, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
		}
	}
	for name, dst := range map[string]*time.Time{fieldReset: &state.ResetAt, fieldLastUpdate: &state.LastUpdate} {
		if v, ok := fields[name]; ok {
			unix, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = time.Unix(unix, 0)
		}
	}
	state.UpdateHealth()
	return state, nil
}

// ParseHeaders reads the quota headers. It returns nil, nil when the
// response carries none.
func ParseHeaders(headers http.Header, now time.Time) (*State, error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil, nil
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, fmt.Errorf("%s header missing", HeaderReset)
	}
	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	// Limit is optional; without it the thresholds fall back to MinCritical.
	limit := 0
	if s := headers.Get(HeaderLimit); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
	}

	state := &State{
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    time.Unix(reset, 0),
		LastUpdate: now,
	}
	state.UpdateHealth()
	return state, nil
}

// UpdateFromHeaders stores the quota reported by a response. The Redis
// hash expires when the window resets.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, err := ParseHeaders(headers, time.Now())
	if err != nil || state == nil {
		return err
	}

	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, t.Key(),
		fieldLimit, state.Limit,
		fieldRemaining, state.Remaining,
		fieldReset, state.ResetAt.Unix(),
		fieldLastUpdate, state.LastUpdate.Unix(),
	)
	if state.ResetAt.After(state.LastUpdate) {
		pipe.ExpireAt(ctx, t.Key(), state.ResetAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	requestsRemaining.WithLabelValues(t.endpoint).Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().Int("remaining", state.Remaining).Time("reset_at", state.ResetAt).
			Msg("Rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().Int("remaining", state.Remaining).Time("reset_at", state.ResetAt).
			Msg("Rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().Int("remaining", state.Remaining).Msg("Rate limit state updated")
	}
	return nil
}

// ShouldAllowRequest reports whether a request may be sent. In the warning
// range it waits ThrottleDelay first; ctx cancellation ends the wait.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, err
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Rate limit critical - blocking request")
		rateLimitBlocksTotal.WithLabelValues(t.endpoint).Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().Int("remaining", state.Remaining).Msg("Rate limit warning - throttling request")
		rateLimitThrottlesTotal.WithLabelValues(t.endpoint).Inc()

		timer := time.NewTimer(t.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	return true, nil
}
