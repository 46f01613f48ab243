package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/console-store/pkg/schema"
)

// MockResponse defines a canned response for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockConsole is an httptest console API serving a Dataset under /v2.
// Collection responses are paginated envelopes, single resources carry an
// ETag and honour If-None-Match, and every response reports a request quota
// in the X-RateLimit headers.
type MockConsole struct {
	Data *Dataset

	server      *httptest.Server
	collections map[string]schema.EntityType

	mu                sync.RWMutex
	handlers          map[string]func(w http.ResponseWriter, r *http.Request)
	failures          []MockResponse
	limit             int
	remaining         int
	requestCount      int
	conditionalCount  int
	notModifiedCount  int
	lastRequestHeader http.Header
}

// NewMockConsole starts a mock API over data. The quota starts at 10000.
func NewMockConsole(data *Dataset, reg *schema.Registry) *MockConsole {
	m := &MockConsole{
		Data:        data,
		collections: make(map[string]schema.EntityType),
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
		limit:       10000,
		remaining:   10000,
	}
	for _, t := range reg.Types() {
		if sch, err := reg.Lookup(t); err == nil && sch.Collection != "" {
			m.collections[sch.Collection] = t
		}
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server URL.
func (m *MockConsole) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockConsole) Close() {
	m.server.Close()
}

// Reset clears the counters and queued failures.
func (m *MockConsole) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.notModifiedCount = 0
	m.failures = nil
	m.lastRequestHeader = nil
}

// SetHandler overrides the handler of one path.
func (m *MockConsole) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse serves resp on path.
func (m *MockConsole) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeMock(w, resp)
	})
}

// FailNext answers the next len(resps) requests with resps, in order, before
// serving normally again.
func (m *MockConsole) FailNext(resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, resps...)
}

// SetQuota sets the reported rate limit.
func (m *MockConsole) SetQuota(limit, remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit, m.remaining = limit, remaining
}

// RequestCount returns the number of requests received.
func (m *MockConsole) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// ConditionalCount returns the number of requests carrying a validator.
func (m *MockConsole) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// NotModifiedCount returns the number of 304 responses sent.
func (m *MockConsole) NotModifiedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notModifiedCount
}

// LastRequestHeader returns the headers of the latest request.
func (m *MockConsole) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader.Clone()
}

func (m *MockConsole) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	m.lastRequestHeader = r.Header.Clone()
	if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
		m.conditionalCount++
	}
	if m.remaining > 0 {
		m.remaining--
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(m.remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))

	var failure *MockResponse
	if len(m.failures) > 0 {
		failure = &m.failures[0]
		m.failures = m.failures[1:]
	}
	handler, ok := m.handlers[r.URL.Path]
	m.mu.Unlock()

	switch {
	case failure != nil:
		writeMock(w, *failure)
	case ok:
		handler(w, r)
	default:
		m.serveData(w, r)
	}
}

func (m *MockConsole) serveData(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, "/v2/")
	if !ok {
		writeAPIError(w, http.StatusNotFound, "CF-NotFound", "Unknown request")
		return
	}
	collection, guid, _ := strings.Cut(rest, "/")
	t, ok := m.collections[collection]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "CF-NotFound", "Unknown request")
		return
	}

	if guid == "" {
		if r.Method != http.MethodGet {
			writeAPIError(w, http.StatusMethodNotAllowed, "CF-NotAllowed", "Method not allowed")
			return
		}
		m.servePage(w, r, t)
		return
	}

	item, found := m.Data.Get(t, guid)
	if !found {
		writeAPIError(w, http.StatusNotFound, "CF-ResourceNotFound", "The resource could not be found: "+guid)
		return
	}

	switch r.Method {
	case http.MethodGet:
		m.writeJSON(w, r, item)
	case http.MethodDelete:
		m.Data.Remove(t, guid)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "CF-NotAllowed", "Method not allowed")
	}
}

func (m *MockConsole) servePage(w http.ResponseWriter, r *http.Request, t schema.EntityType) {
	q := r.URL.Query()
	page := atoiOr(q.Get("page"), 1)
	size := atoiOr(q.Get("results-per-page"), 50)
	if page < 1 || size < 1 || size > 100 {
		writeAPIError(w, http.StatusBadRequest, "CF-BadQueryParameter", "Invalid pagination parameters")
		return
	}

	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}
	items, total, pages := m.Data.Page(t, params, page, size)

	m.writeJSON(w, r, map[string]any{
		"total_results": total,
		"total_pages":   pages,
		"prev_url":      nil,
		"next_url":      nil,
		"resources":     items,
	})
}

// writeJSON writes v with a content ETag, answering 304 when the client
// already holds it.
func (m *MockConsole) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "CF-ServerError", err.Error())
		return
	}
	sum := sha256.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=300")
	if r.Header.Get("If-None-Match") == etag {
		m.mu.Lock()
		m.notModifiedCount++
		m.mu.Unlock()
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeAPIError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":        status,
		"error_code":  code,
		"description": description,
	})
}

func writeMock(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"code":10001,"error_code":"CF-ServerError","description":"An unknown error occurred."}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"code":10013,"error_code":"CF-RateLimitExceeded","description":"Rate Limit Exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"Retry-After":  strconv.Itoa(retryAfterSeconds),
		},
	}
}

// NewForbiddenResponse creates a 403 Forbidden response.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"code":10003,"error_code":"CF-NotAuthorized","description":"You are not authorized to perform the requested action"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
