// Package metrics provides the Prometheus registry and HTTP handler for the console store.
// All metrics are defined in their respective packages (entity, store, pagination,
// monitor, request, client, cache, ratelimit) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the console store.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler exposing every registered metric.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Entity Metrics (pkg/entity):
//   - console_store_entities{entity_type} (Gauge): Entities held in the canonical store
//   - console_store_upserts_total{entity_type} (Counter): Entity upserts
//   - console_store_removals_total{entity_type} (Counter): Entity removals
//
// Store Metrics (pkg/store):
//   - console_store_commands_total{command, outcome} (Counter): Commands applied to the store
//   - console_store_command_queue_depth (Gauge): Commands waiting in the dispatch queue
//
// Request Metrics (pkg/request):
//   - console_requests_in_flight (Gauge): Fetches currently in flight
//   - console_requests_coalesced_total{kind} (Counter): Fetches joined to one already in flight
//   - console_requests_total{kind, outcome} (Counter): Settled fetches by fingerprint kind and outcome
//   - console_request_duration_seconds{kind} (Histogram): Fetch duration
//
// Pagination Metrics (pkg/pagination):
//   - console_pagination_cache_hits_total{entity_type} (Counter): Page requests answered from the store
//   - console_pagination_fetches_total{entity_type} (Counter): Page fetches started
//   - console_pagination_stale_responses_total{entity_type} (Counter): Responses discarded after a parameter change
//   - console_pagination_truncated_pages_total{entity_type} (Counter): Pages with more rows than the page size
//
// Monitor Metrics (pkg/monitor):
//   - console_monitors_connected{kind} (Gauge): Live entity and pagination monitors
//   - console_monitor_emissions_total{kind} (Counter): Values emitted by monitors
//
// HTTP Metrics (pkg/client):
//   - console_http_requests_total{method, status} (Counter): Requests by method and HTTP status
//   - console_http_request_duration_seconds{method} (Histogram): Request duration by method
//   - console_http_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//   - console_http_retries_total{error_class} (Counter): Retry attempts by error class
//   - console_http_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - console_http_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// HTTP Cache Metrics (pkg/cache):
//   - console_http_cache_hits_total (Counter): Responses served from the cache
//   - console_http_cache_misses_total (Counter): Cache misses
//   - console_http_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - console_http_conditional_requests_total (Counter): Requests sent with a validator
//   - console_http_not_modified_total (Counter): 304 Not Modified responses
//   - console_http_cache_invalidated_keys_total (Counter): Keys dropped after a write
//   - console_http_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - console_ratelimit_remaining{endpoint} (Gauge): Requests remaining in the current window
//   - console_ratelimit_blocks_total{endpoint} (Counter): Requests blocked at the critical threshold
//   - console_ratelimit_throttles_total{endpoint} (Counter): Requests delayed at the warning threshold
//
// Example Prometheus Queries:
//
//   # Request coalescing ratio
//   sum(rate(console_requests_coalesced_total[5m])) /
//   (sum(rate(console_requests_coalesced_total[5m])) + sum(rate(console_requests_total[5m])))
//
//   # HTTP cache hit rate
//   sum(rate(console_http_cache_hits_total[5m])) /
//   (sum(rate(console_http_cache_hits_total[5m])) + sum(rate(console_http_cache_misses_total[5m])))
//
//   # Quota status
//   console_ratelimit_remaining < 100
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(console_request_duration_seconds_bucket[5m]))
