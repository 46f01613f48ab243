// Package ratelimit tracks the console API request quota reported in the
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset headers and
// gates requests before the quota runs out. State lives in Redis so every
// console-store instance talking to the same endpoint shares one view.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix starts the per-endpoint state hash.
// Full key: console:ratelimit:<endpoint>
const RedisKeyPrefix = "console:ratelimit"

// Hash fields of the Redis state.
const (
	fieldLimit      = "limit"
	fieldRemaining  = "remaining"
	fieldReset      = "reset"
	fieldLastUpdate = "last_update"
)

// Fractions of the quota that drive gating decisions.
const (
	// CriticalFraction blocks requests when less than this share of the
	// quota is left.
	CriticalFraction = 0.01

	// WarningFraction throttles requests below this share.
	WarningFraction = 0.10

	// HealthyFraction marks the state healthy at or above this share.
	HealthyFraction = 0.25

	// MinCritical is the absolute floor of the critical threshold, so small
	// quotas still keep a reserve.
	MinCritical = 5
)

// State is the request quota of one endpoint.
type State struct {
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	LastUpdate time.Time `json:"last_update"`
	IsHealthy  bool      `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// windowOpen reports whether the reported window is still running. Past
// the reset time the quota is full again.
func (s *State) windowOpen() bool {
	return !s.ResetAt.IsZero() && time.Now().Before(s.ResetAt)
}

func (s *State) threshold(fraction float64) int {
	return int(float64(s.Limit) * fraction)
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *State) NeedsCriticalBlock() bool {
	if !s.windowOpen() {
		return false
	}
	return s.Remaining < max(MinCritical, s.threshold(CriticalFraction))
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	if !s.windowOpen() || s.NeedsCriticalBlock() {
		return false
	}
	return s.Remaining < s.threshold(WarningFraction)
}

// TimeUntilReset returns the duration until the window resets, or 0 if it
// already has.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy.
func (s *State) UpdateHealth() {
	s.IsHealthy = !s.windowOpen() || (!s.NeedsCriticalBlock() && s.Remaining >= s.threshold(HealthyFraction))
}
