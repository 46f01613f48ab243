package client

import (
	"errors"
	"net/http"

	"github.com/Sternrassler/console-store/pkg/fetch"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRateLimited is returned when the shared quota blocks a request.
	ErrRateLimited = errors.New("request blocked: rate limit critical")
)

// classifyStatus maps an HTTP status to an error class. Success and 304
// have no class.
func classifyStatus(status int) fetch.ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return fetch.ErrorClassRateLimit
	case status >= 400 && status < 500:
		return fetch.ErrorClassClient
	case status >= 500:
		return fetch.ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error class is transient.
func shouldRetry(class fetch.ErrorClass) bool {
	switch class {
	case fetch.ErrorClassServer, fetch.ErrorClassRateLimit, fetch.ErrorClassNetwork:
		return true
	default:
		// 4xx and undecodable bodies do not improve on retry.
		return false
	}
}

// idempotent reports whether a request with method may be sent twice.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}
