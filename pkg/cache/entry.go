// Package cache keeps API response bodies in Redis so that repeated fetches
// can revalidate with ETag / Last-Modified instead of transferring the body.
package cache

import (
	"net/http"
	"time"
)

// Entry is a cached API response.
type Entry struct {
	Data []byte `json:"data"`

	// ETag is sent back as If-None-Match.
	ETag string `json:"etag"`

	// Expires is when the entry is evicted from Redis.
	Expires time.Time `json:"expires"`

	// LastModified is sent back as If-Modified-Since when there is no ETag.
	LastModified time.Time `json:"last_modified"`

	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	CachedAt   time.Time   `json:"cached_at"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Revalidatable reports whether the entry carries a validator.
func (e *Entry) Revalidatable() bool {
	return e != nil && (e.ETag != "" || !e.LastModified.IsZero())
}
