package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix starts every cache key.
const KeyPrefix = "console:http"

// Key identifies one cached API response.
type Key struct {
	// Endpoint scopes the entry to one registered API endpoint (its guid),
	// so tenants never share cached bodies.
	Endpoint string

	// Path is the API path (e.g., "/v2/apps/abc").
	Path string

	// Query holds the query parameters, page and results-per-page included.
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: console:http:<endpoint>:<path>:k1=v1:k2=v2
//
// Example:
//
//	console:http:cf-1:v2/apps:page=2:q=name:web:results-per-page=20
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.PathPrefix())

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			vals := append([]string(nil), k.Query[name]...)
			sort.Strings(vals)
			b.WriteByte(':')
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(strings.Join(vals, ","))
		}
	}
	return b.String()
}

// PathPrefix is the part of the key shared by every query of the same path.
func (k Key) PathPrefix() string {
	parts := []string{KeyPrefix}
	if k.Endpoint != "" {
		parts = append(parts, k.Endpoint)
	}
	if p := strings.Trim(k.Path, "/"); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, ":")
}

// KeyFor builds the key of a request URL.
func KeyFor(endpoint string, u *url.URL) Key {
	return Key{Endpoint: endpoint, Path: u.Path, Query: u.Query()}
}
