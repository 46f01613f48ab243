// Package client provides the HTTP fetcher for the console API with retries,
// shared rate limiting and ETag revalidation.
//
// Collections are served as envelopes
//
//	{"total_results": 25, "total_pages": 2, "resources": [...]}
//
// and single resources as plain objects. Client implements fetch.Fetcher.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/console-store/pkg/cache"
	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/ratelimit"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_http_requests_total",
		Help: "Total API requests by method and status",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_http_request_duration_seconds",
		Help:    "API request duration in seconds by method, retries included",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_http_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "X-Request-Id"

// APIVersionPrefix prefixes collection paths.
const APIVersionPrefix = "/v2"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API (e.g., "https://api.cf.example.com").
	BaseURL string

	// Endpoint scopes cache entries and rate limit state
	// (default: host of BaseURL).
	Endpoint string

	// Token is sent as "Authorization: bearer <token>" when set.
	Token string

	UserAgent string

	// Redis enables the shared response cache and rate limit tracking.
	// Optional.
	Redis redis.UniversalClient

	// Registry maps entity types to collections (default: console schemas).
	Registry *schema.Registry

	// Timeout per HTTP attempt.
	Timeout time.Duration

	Retry RetryConfig

	// Logger (default: global logger with component "console-client").
	Logger *zerolog.Logger
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "console-store/dev",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// Client is the console API client.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	registry    *schema.Registry
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = base.Host
	}
	if cfg.Registry == nil {
		cfg.Registry = schema.NewConsoleRegistry()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := log.With().Str("component", "console-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		registry:   cfg.Registry,
		config:     cfg,
		logger:     logger,
	}
	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, cfg.Endpoint, logger)
		c.cache = cache.NewManager(cfg.Redis)
	}
	return c, nil
}

// Fetch implements fetch.Fetcher.
func (c *Client) Fetch(ctx context.Context, fp request.Fingerprint, req fetch.Request) (fetch.Response, error) {
	u, err := c.urlFor(req)
	if err != nil {
		return fetch.Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Verb(), u.String(), nil)
	if err != nil {
		return fetch.Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())

	resp, err := c.Do(httpReq)
	if err != nil {
		var fe *fetch.FetchError
		if errors.As(err, &fe) {
			fe.Fingerprint = fp
			return fetch.Response{}, err
		}
		return fetch.Response{}, &fetch.FetchError{
			Fingerprint: fp,
			Class:       fetch.ErrorClassNetwork,
			Message:     "request failed",
			Err:         err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fetch.Response{}, &fetch.FetchError{
			Fingerprint: fp,
			StatusCode:  resp.StatusCode,
			Class:       classifyStatus(resp.StatusCode),
			Message:     errorMessage(resp),
		}
	}

	return c.decode(fp, req, resp)
}

// urlFor resolves the request URL: /v2/<collection>[/<id>] plus params, page
// and results-per-page.
func (c *Client) urlFor(req fetch.Request) (*url.URL, error) {
	p := req.Path
	if p == "" {
		sch, err := c.registry.Lookup(req.EntityType)
		if err != nil {
			return nil, fmt.Errorf("resolve path: %w", err)
		}
		if sch.Collection == "" {
			return nil, fmt.Errorf("resolve path: entity type %q has no collection", req.EntityType)
		}
		p = path.Join(APIVersionPrefix, sch.Collection)
	}
	if req.ID != "" {
		p = path.Join(p, req.ID)
	}

	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, p)})
	q := url.Values{}
	for k, v := range req.Params {
		q.Set(k, v)
	}
	if req.IsPage() {
		q.Set("page", strconv.Itoa(req.Page))
		if req.PageSize > 0 {
			q.Set(pagination.ParamPageSize, strconv.Itoa(req.PageSize))
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

type pageEnvelope struct {
	TotalResults int   `json:"total_results"`
	TotalPages   int   `json:"total_pages"`
	Resources    []any `json:"resources"`
}

func (c *Client) decode(fp request.Fingerprint, req fetch.Request, resp *http.Response) (fetch.Response, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetch.Response{}, &fetch.FetchError{
			Fingerprint: fp,
			StatusCode:  resp.StatusCode,
			Class:       fetch.ErrorClassNetwork,
			Message:     "read body",
			Err:         err,
		}
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		if req.Verb() != http.MethodGet {
			return fetch.Response{}, nil
		}
		return fetch.Response{}, decodeError(fp, resp.StatusCode, errors.New("empty body"))
	}

	if req.IsPage() {
		var env pageEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fetch.Response{}, decodeError(fp, resp.StatusCode, err)
		}
		if env.Resources == nil {
			env.Resources = []any{}
		}
		return fetch.Response{Data: env.Resources, TotalResults: env.TotalResults, TotalPages: env.TotalPages}, nil
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return fetch.Response{}, decodeError(fp, resp.StatusCode, err)
	}
	return fetch.Response{Data: data}, nil
}

func decodeError(fp request.Fingerprint, status int, err error) error {
	httpErrorsTotal.WithLabelValues(string(fetch.ErrorClassDecode)).Inc()
	return &fetch.FetchError{
		Fingerprint: fp,
		StatusCode:  status,
		Class:       fetch.ErrorClassDecode,
		Message:     "decode response",
		Err:         err,
	}
}

// errorMessage extracts the API's error description, falling back to the
// status line.
func errorMessage(resp *http.Response) string {
	var body struct {
		Description string `json:"description"`
		ErrorCode   string `json:"error_code"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, &body); err == nil && body.Description != "" {
		if body.ErrorCode != "" {
			return body.ErrorCode + ": " + body.Description
		}
		return body.Description
	}
	return resp.Status
}

// Do performs an HTTP request with rate limiting, caching and retries.
// Responses with a 4xx status are returned to the caller; transient
// failures that outlive the retries come back as a *fetch.FetchError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	method := req.Method

	start := time.Now()
	defer func() {
		httpRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if !allowed {
			httpRequestsTotal.WithLabelValues(method, "rate_limited").Inc()
			return nil, &fetch.FetchError{
				StatusCode: http.StatusTooManyRequests,
				Class:      fetch.ErrorClassRateLimit,
				Message:    "quota nearly exhausted",
				Err:        ErrRateLimited,
			}
		}
	}

	var (
		cacheKey cache.Key
		cached   *cache.Entry
	)
	if c.cache != nil && method == http.MethodGet {
		cacheKey = cache.KeyFor(c.config.Endpoint, req.URL)
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", cacheKey.String()).Msg("Cache get error")
		}
		if entry.Revalidatable() {
			cached = entry
			cache.AddConditionalHeaders(req, entry)
			cache.ConditionalRequests.Inc()
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "bearer "+c.config.Token)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}

	logger := c.logger.With().
		Str("method", method).
		Str("path", req.URL.Path).
		Str("request_id", req.Header.Get(HeaderRequestID)).
		Logger()
	logger.Debug().Msg("Executing API request")

	retryCfg := c.config.Retry
	if !idempotent(method) {
		retryCfg.MaxAttempts = 1
	}

	var resp *http.Response
	err := retryWithBackoff(ctx, retryCfg, logger, func() attempt {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req.Clone(ctx))
		if reqErr != nil {
			httpErrorsTotal.WithLabelValues(string(fetch.ErrorClassNetwork)).Inc()
			httpRequestsTotal.WithLabelValues(method, "network_error").Inc()
			logger.Warn().Err(reqErr).Msg("HTTP request failed")
			return attempt{
				err:   &fetch.FetchError{Class: fetch.ErrorClassNetwork, Message: "request failed", Err: reqErr},
				class: fetch.ErrorClassNetwork,
			}
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
				logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}
		httpRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

		class := classifyStatus(resp.StatusCode)
		if class == "" {
			return attempt{}
		}
		httpErrorsTotal.WithLabelValues(string(class)).Inc()
		logger.Warn().Int("status", resp.StatusCode).Str("error_class", string(class)).Msg("API request error")

		if !shouldRetry(class) {
			// Caller handles the status.
			return attempt{}
		}
		a := attempt{
			err: &fetch.FetchError{
				StatusCode: resp.StatusCode,
				Class:      class,
				Message:    errorMessage(resp),
			},
			class:      class,
			retryAfter: retryAfter(resp.Header),
		}
		resp.Body.Close()
		resp = nil
		return a
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		cache.NotModified.Inc()
		logger.Debug().Msg("304 Not Modified - serving cached body")
		// ResponseToEntry drains the empty 304 body and reads its freshness headers.
		if fresh, err := cache.ResponseToEntry(resp); err == nil {
			if err := c.cache.Touch(ctx, cacheKey, fresh.Expires); err != nil {
				logger.Warn().Err(err).Msg("Failed to extend cache entry")
			}
		}
		return cache.EntryToResponse(cached, req), nil
	}

	if c.cache != nil && resp.StatusCode < 300 {
		if method == http.MethodGet {
			c.store(ctx, logger, cacheKey, resp)
		} else {
			c.invalidate(ctx, logger, req.URL)
		}
	}
	return resp, nil
}

func (c *Client) store(ctx context.Context, logger zerolog.Logger, key cache.Key, resp *http.Response) {
	if resp.StatusCode != http.StatusOK {
		return
	}
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create cache entry")
		return
	}
	if !entry.Revalidatable() {
		return
	}
	if err := c.cache.Set(ctx, key, entry); err != nil {
		logger.Warn().Err(err).Msg("Failed to cache response")
		return
	}
	logger.Debug().Dur("ttl", entry.TTL()).Msg("Cached response")
}

// invalidate drops cached bodies of the mutated resource and of its
// collection.
func (c *Client) invalidate(ctx context.Context, logger zerolog.Logger, u *url.URL) {
	for _, p := range []string{u.Path, path.Dir(u.Path)} {
		n, err := c.cache.InvalidatePath(ctx, cache.Key{Endpoint: c.config.Endpoint, Path: p})
		if err != nil {
			logger.Warn().Err(err).Str("path", p).Msg("Cache invalidation failed")
			continue
		}
		if n > 0 {
			logger.Debug().Str("path", p).Int("keys", n).Msg("Cache invalidated")
		}
	}
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the response cache, or nil without Redis.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// RateLimiter returns the rate limit tracker, or nil without Redis.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
