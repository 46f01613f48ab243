// Package server exposes the console store as read-mostly JSON views over
// HTTP, plus health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/listsource"
	"github.com/Sternrassler/console-store/pkg/metrics"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/Sternrassler/console-store/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Query parameters of the list view.
const (
	QueryPage           = "page"
	QueryPageSize       = "page-size"
	QueryOrderBy        = "order-by"
	QueryOrderDirection = "order-direction"
	QueryText           = "q"
	QueryRefresh        = "refresh"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default ":8080").
	Addr string

	// PageSize of list views without a page-size query (default 20).
	PageSize int

	// WaitTimeout bounds how long a view waits for its data (default 30s).
	WaitTimeout time.Duration

	// Redis is pinged by /ready when set.
	Redis redis.UniversalClient

	// Logger (default: global logger with component "server").
	Logger *zerolog.Logger
}

// Server serves JSON views of one store.
type Server struct {
	cfg    Config
	store  *store.Store
	logger zerolog.Logger

	mu      sync.Mutex
	sources map[string]*viewSource
}

// New creates a server over st.
func New(cfg Config, st *store.Store) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 30 * time.Second
	}
	logger := log.With().Str("component", "server").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Server{
		cfg:     cfg,
		store:   st,
		logger:  logger,
		sources: make(map[string]*viewSource),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/store", s.snapshotHandler)
	mux.HandleFunc("GET /api/v2/{collection}", s.listHandler)
	mux.HandleFunc("GET /api/v2/{collection}/{id}", s.entityHandler)
	mux.HandleFunc("DELETE /api/v2/{collection}/{id}", s.deleteHandler)
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info().Msg("Server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Redis != nil {
		if err := s.cfg.Redis.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "READY")
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) entityHandler(w http.ResponseWriter, r *http.Request) {
	t, ok := s.resolve(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.WaitTimeout)
	defer cancel()

	v, err := s.store.Entity(t, r.PathValue("id")).Wait(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	t, ok := s.resolve(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	page, err := intQuery(q.Get(QueryPage), 1)
	if err != nil || page < 1 {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	size, err := intQuery(q.Get(QueryPageSize), s.cfg.PageSize)
	if err != nil || size < 1 {
		http.Error(w, "invalid page size", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.WaitTimeout)
	defer cancel()

	view := listView{
		entityType: t,
		pageSize:   size,
		orderBy:    q.Get(QueryOrderBy),
		direction:  listsource.Direction(q.Get(QueryOrderDirection)),
		text:       q.Get(QueryText),
	}
	src, created, err := s.source(ctx, view, page)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !created {
		if q.Get(QueryRefresh) == "true" {
			err = src.Refresh(ctx)
		}
		if err == nil {
			err = src.SetPage(ctx, page)
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	if _, err := s.store.List(t, view.key()).Wait(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	p := src.Current()
	if p.Error {
		s.writeJSON(w, http.StatusBadGateway, p)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	t, ok := s.resolve(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.WaitTimeout)
	defer cancel()

	src, _, err := s.source(ctx, listView{entityType: t, pageSize: s.cfg.PageSize}, 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := src.Remove(ctx, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listView is one combination of list settings for one entity type. Each
// gets its own pagination section so requests with different settings never
// reset each other's pages.
type listView struct {
	entityType schema.EntityType
	pageSize   int
	orderBy    string
	direction  listsource.Direction
	text       string
}

func (v listView) key() string {
	parts := []string{"size=" + strconv.Itoa(v.pageSize)}
	if v.orderBy != "" {
		parts = append(parts, "order="+v.orderBy+","+string(v.direction))
	}
	if v.text != "" {
		parts = append(parts, "q="+v.text)
	}
	return pagination.Key("api:"+string(v.entityType), strings.Join(parts, "&"))
}

func (v listView) settings(page int) listsource.Settings {
	set := listsource.Settings{PageSize: v.pageSize, SortDir: v.direction, Text: v.text, Page: page}
	if v.orderBy != "" {
		set.SortField = "entity." + v.orderBy
	}
	return set
}

// viewSource is a list source that becomes usable once ready is closed.
type viewSource struct {
	src   *listsource.Source
	ready chan struct{}
	err   error
}

// source returns the list source of v. The first caller configures it and
// selects page; created reports whether that happened in this call. Other
// callers wait until configuration is done.
func (s *Server) source(ctx context.Context, v listView, page int) (src *listsource.Source, created bool, err error) {
	key := v.key()

	s.mu.Lock()
	vs, ok := s.sources[key]
	if !ok {
		cfg := listsource.DefaultConfig()
		cfg.Mode = listsource.Remote
		vs = &viewSource{
			src:   listsource.New(cfg, s.store.List(v.entityType, key), s.store),
			ready: make(chan struct{}),
		}
		s.sources[key] = vs
	}
	s.mu.Unlock()

	if ok {
		select {
		case <-vs.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if vs.err != nil {
			return nil, false, vs.err
		}
		return vs.src, false, nil
	}

	if err := vs.src.Configure(ctx, v.settings(page)); err != nil {
		s.mu.Lock()
		delete(s.sources, key)
		s.mu.Unlock()
		vs.err = err
		close(vs.ready)
		return nil, false, err
	}
	close(vs.ready)
	return vs.src, true, nil
}

// resolve maps the collection path value to an entity type. Both the
// collection ("apps") and the type name ("application") are accepted.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (schema.EntityType, bool) {
	name := r.PathValue("collection")
	if t, ok := ResolveType(s.store.Registry(), name); ok {
		return t, true
	}
	http.Error(w, fmt.Sprintf("unknown collection %q", name), http.StatusNotFound)
	return "", false
}

// ResolveType finds the entity type registered under a collection or type
// name.
func ResolveType(reg *schema.Registry, name string) (schema.EntityType, bool) {
	for _, t := range reg.Types() {
		if string(t) == name {
			return t, true
		}
		if sch, err := reg.Lookup(t); err == nil && sch.Collection == name {
			return t, true
		}
	}
	return "", false
}

func intQuery(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

// writeError maps fetch errors to their upstream status; everything else is
// a 502 or, for timeouts, a 504.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var fe *fetch.FetchError
	switch {
	case errors.As(err, &fe) && fe.StatusCode >= 400 && fe.StatusCode < 500:
		status = fe.StatusCode
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, pagination.ErrInvalidPage):
		status = http.StatusBadRequest
	}
	s.logger.Warn().Err(err).Int("status_code", status).Msg("View request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
