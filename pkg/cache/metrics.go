package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts entries found in Redis.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_http_cache_hits_total",
		Help: "Total number of HTTP response cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_http_cache_misses_total",
		Help: "Total number of HTTP response cache misses",
	})

	// CacheStoredBytes tracks bytes written to the cache.
	CacheStoredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_http_cache_stored_bytes_total",
		Help: "Total bytes of response bodies written to the cache",
	})

	// ConditionalRequests counts requests sent with a validator.
	ConditionalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_http_conditional_requests_total",
		Help: "Total number of conditional requests sent",
	})

	// NotModified counts 304 responses answered from the cache.
	NotModified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_http_not_modified_total",
		Help: "Total number of 304 Not Modified responses served from cache",
	})

	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_http_cache_invalidated_keys_total",
		Help: "Total number of cache keys removed by path invalidation",
	})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_http_cache_errors_total",
		Help: "Total number of cache operation errors",
	}, []string{"operation"}) // "get", "set", "delete", "invalidate"
)
