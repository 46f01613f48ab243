// Package fetch defines the boundary between the store and the network layer.
//
// The store only needs a fingerprint-addressable asynchronous operation; it is
// agnostic to transport. pkg/client provides the HTTP implementation.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
)

// Request describes one remote operation.
type Request struct {
	// Method is the HTTP-style verb (default GET).
	Method string

	EntityType schema.EntityType

	// ID is set for single-entity operations.
	ID string

	// Path overrides the collection path derived from EntityType.
	Path string

	// Params are query parameters (filters, ordering).
	Params map[string]string

	// Page and PageSize are set for paginated fetches.
	Page     int
	PageSize int
}

// IsPage reports whether r is a paginated fetch.
func (r Request) IsPage() bool {
	return r.ID == "" && r.Page > 0
}

// Verb returns Method, defaulting to GET.
func (r Request) Verb() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// Response is the decoded payload of a fetch.
type Response struct {
	// Data is decoded JSON: an object for single entities, a list of
	// objects for pages.
	Data any

	// TotalResults and TotalPages describe the whole collection for
	// paginated fetches.
	TotalResults int
	TotalPages   int
}

// Fetcher performs remote operations.
type Fetcher interface {
	Fetch(ctx context.Context, fp request.Fingerprint, req Request) (Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, fp request.Fingerprint, req Request) (Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, fp request.Fingerprint, req Request) (Response, error) {
	return f(ctx, fp, req)
}

// ErrorClass classifies transport failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents undecodable responses.
	ErrorClassDecode ErrorClass = "decode"
)

// ErrFetch matches every *FetchError via errors.Is.
var ErrFetch = errors.New("fetch failed")

// FetchError is a network or transport failure. It is recorded on the
// request state; cached data is retained.
type FetchError struct {
	Fingerprint request.Fingerprint
	StatusCode  int
	Class       ErrorClass
	Message     string
	Err         error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s error (status %d): %s: %v",
			e.Fingerprint, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s error (status %d): %s",
		e.Fingerprint, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrFetch) true.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}
