package pagination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/normalize"
	"github.com/Sternrassler/console-store/pkg/observable"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pagination.
var (
	pageCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_pagination_cache_hits_total",
		Help: "Total number of SetPage calls served from already-fetched pages",
	}, []string{"entity_type"})

	pageFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_pagination_fetches_total",
		Help: "Total number of page fetches started",
	}, []string{"entity_type"})

	staleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_pagination_stale_responses_total",
		Help: "Total number of page responses whose id list was discarded because the section parameters changed",
	}, []string{"entity_type"})

	truncatedPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_pagination_truncated_pages_total",
		Help: "Total number of page responses longer than the page size",
	}, []string{"entity_type"})
)

// ErrInvalidPage is returned for page numbers below 1.
var ErrInvalidPage = errors.New("invalid page number")

// Config holds controller configuration.
type Config struct {
	// DefaultPageSize applies to sections created without an explicit size.
	DefaultPageSize int

	// MaxConcurrency is the maximum number of parallel page fetches in
	// FetchAllPages.
	MaxConcurrency int

	// Timeout bounds the wait for each page in FetchAllPages.
	Timeout time.Duration

	// Logger (default: global logger with component "pagination").
	Logger *zerolog.Logger
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		DefaultPageSize: 20,
		MaxConcurrency:  10,
		Timeout:         15 * time.Second,
	}
}

// Controller owns every pagination section. Page fetches run through the
// request tracker, so concurrent SetPage calls for the same page share one
// fetch.
type Controller struct {
	mu       sync.Mutex
	sections map[SectionKey]*Section
	changes  *observable.Subject[SectionKey]

	fetcher  fetch.Fetcher
	registry *schema.Registry
	entities *entity.Store
	tracker  *request.Tracker
	config   Config
	logger   zerolog.Logger
}

// NewController creates a controller.
func NewController(cfg Config, f fetch.Fetcher, reg *schema.Registry, entities *entity.Store, tracker *request.Tracker) *Controller {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger := log.With().Str("component", "pagination").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Controller{
		sections: make(map[SectionKey]*Section),
		changes:  observable.NewSubject[SectionKey](),
		fetcher:  f,
		registry: reg,
		entities: entities,
		tracker:  tracker,
		config:   cfg,
		logger:   logger,
	}
}

// Tracker returns the request tracker page fetches are recorded on.
func (c *Controller) Tracker() *request.Tracker {
	return c.tracker
}

// sectionLocked returns the section for k, creating an empty one.
func (c *Controller) sectionLocked(k SectionKey) *Section {
	s, ok := c.sections[k]
	if !ok {
		s = &Section{
			Key:        k.Key,
			EntityType: k.EntityType,
			PageNumber: 1,
			PageSize:   c.config.DefaultPageSize,
			Params:     make(map[string]string),
			Pages:      make(map[int][]string),
		}
		c.sections[k] = s
	}
	return s
}

// resetLocked clears every page of s and returns the fingerprints those
// pages were fetched under.
func (c *Controller) resetLocked(s *Section) []request.Fingerprint {
	fps := make([]request.Fingerprint, 0, len(s.Pages))
	for n := range s.Pages {
		fps = append(fps, s.Fingerprint(n))
	}
	s.Pages = make(map[int][]string)
	s.PageNumber = 1
	s.TotalResults = 0
	s.TotalPages = 0
	return fps
}

// mutate applies fn to the section under the lock, invalidates the returned
// fingerprints and publishes the change.
func (c *Controller) mutate(k SectionKey, fn func(s *Section) []request.Fingerprint) {
	c.mu.Lock()
	stale := fn(c.sectionLocked(k))
	c.mu.Unlock()

	for _, fp := range stale {
		c.tracker.Invalidate(fp)
	}
	c.changes.Next(k)
}

// Ensure creates the section if it does not exist yet.
func (c *Controller) Ensure(t schema.EntityType, key string) {
	k := SectionKey{EntityType: t, Key: key}

	c.mu.Lock()
	_, exists := c.sections[k]
	c.sectionLocked(k)
	c.mu.Unlock()

	if !exists {
		c.changes.Next(k)
	}
}

// AddParams merges params into the section. Every fetched page is cleared
// and the page number returns to 1, so the next SetPage fetches afresh.
func (c *Controller) AddParams(t schema.EntityType, key string, params map[string]string) {
	c.mutate(SectionKey{EntityType: t, Key: key}, func(s *Section) []request.Fingerprint {
		stale := c.resetLocked(s)
		for k, v := range params {
			s.Params[k] = v
		}
		return stale
	})
	c.logger.Debug().Str("entity_type", string(t)).Str("key", key).Interface("params", params).Msg("Params added")
}

// RemoveParams deletes params by name, with the same reset as AddParams.
func (c *Controller) RemoveParams(t schema.EntityType, key string, names ...string) {
	c.mutate(SectionKey{EntityType: t, Key: key}, func(s *Section) []request.Fingerprint {
		stale := c.resetLocked(s)
		for _, name := range names {
			delete(s.Params, name)
		}
		return stale
	})
}

// SetParams replaces the params, with the same reset as AddParams.
func (c *Controller) SetParams(t schema.EntityType, key string, params map[string]string) {
	c.mutate(SectionKey{EntityType: t, Key: key}, func(s *Section) []request.Fingerprint {
		stale := c.resetLocked(s)
		s.Params = make(map[string]string, len(params))
		for k, v := range params {
			s.Params[k] = v
		}
		return stale
	})
}

// SetPageSize changes the page size. A different size resets the section
// like a parameter change; the same size is a no-op.
func (c *Controller) SetPageSize(t schema.EntityType, key string, size int) error {
	if size <= 0 {
		return fmt.Errorf("page size %d: must be positive", size)
	}
	k := SectionKey{EntityType: t, Key: key}

	c.mu.Lock()
	s := c.sectionLocked(k)
	if s.PageSize == size {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.mutate(k, func(s *Section) []request.Fingerprint {
		stale := c.resetLocked(s)
		s.PageSize = size
		return stale
	})
	return nil
}

// SetClientFilter installs a local predicate. No fetch is triggered.
func (c *Controller) SetClientFilter(t schema.EntityType, key string, f ClientFilter) {
	c.mutate(SectionKey{EntityType: t, Key: key}, func(s *Section) []request.Fingerprint {
		s.ClientFilter = f
		return nil
	})
}

// SetPage selects page n. If the page is already fetched and its request
// state is valid, it is served without a fetch and the returned call is nil.
// Otherwise a fetch starts (or joins the one in flight) and its call is
// returned; cancelling ctx does not cancel it.
func (c *Controller) SetPage(ctx context.Context, t schema.EntityType, key string, n int) (*request.Call, error) {
	if n < 1 {
		return nil, fmt.Errorf("page %d: %w", n, ErrInvalidPage)
	}
	k := SectionKey{EntityType: t, Key: key}

	c.mu.Lock()
	s := c.sectionLocked(k)
	s.PageNumber = n
	c.mu.Unlock()
	c.changes.Next(k)

	return c.load(ctx, k, n), nil
}

// Refresh invalidates the selected page and fetches it again.
func (c *Controller) Refresh(ctx context.Context, t schema.EntityType, key string) *request.Call {
	k := SectionKey{EntityType: t, Key: key}

	c.mu.Lock()
	s := c.sectionLocked(k)
	n, fp := s.PageNumber, s.CurrentFingerprint()
	c.mu.Unlock()

	c.tracker.Invalidate(fp)
	return c.load(ctx, k, n)
}

// load serves page n from cache or starts its fetch. The page number of the
// section is not changed.
func (c *Controller) load(ctx context.Context, k SectionKey, n int) *request.Call {
	c.mu.Lock()
	s := c.sectionLocked(k)
	snapshot := s.Clone()
	c.mu.Unlock()

	fp := snapshot.Fingerprint(n)
	if _, cached := snapshot.Pages[n]; cached && c.tracker.Valid(fp) {
		pageCacheHits.WithLabelValues(string(k.EntityType)).Inc()
		c.logger.Debug().Str("section", k.String()).Int("page", n).Msg("Page served from cache")
		return nil
	}

	return c.tracker.Start(ctx, fp, func(ctx context.Context) (any, error) {
		return c.fetchPage(ctx, snapshot, n, fp)
	})
}

func (c *Controller) fetchPage(ctx context.Context, s Section, n int, fp request.Fingerprint) (any, error) {
	pageFetches.WithLabelValues(string(s.EntityType)).Inc()

	sch, err := c.registry.Lookup(s.EntityType)
	if err != nil {
		return nil, err
	}

	resp, err := c.fetcher.Fetch(ctx, fp, fetch.Request{
		EntityType: s.EntityType,
		Params:     s.RequestParams(),
		Page:       n,
		PageSize:   s.PageSize,
	})
	if err != nil {
		return nil, err
	}

	res, err := normalize.Normalize(resp.Data, sch, c.registry)
	if err != nil {
		return nil, err
	}
	c.entities.UpsertAll(res.Entities)

	ids := res.IDs()
	if ids == nil {
		ids = []string{}
	}
	if len(ids) > s.PageSize {
		truncatedPages.WithLabelValues(string(s.EntityType)).Inc()
		c.logger.Warn().
			Str("section", s.SectionKey().String()).
			Int("page", n).
			Int("received", len(ids)).
			Int("page_size", s.PageSize).
			Msg("Page response exceeds page size, truncating")
		ids = ids[:s.PageSize]
	}

	k := s.SectionKey()
	c.mu.Lock()
	cur, ok := c.sections[k]
	if !ok || cur.Fingerprint(n) != fp {
		c.mu.Unlock()
		// Params changed while fetching: the entities are still good, the
		// id list is not.
		staleResponses.WithLabelValues(string(k.EntityType)).Inc()
		c.logger.Debug().Str("section", k.String()).Int("page", n).Msg("Discarding stale page response")
		return ids, nil
	}
	cur.Pages[n] = ids
	cur.TotalResults = resp.TotalResults
	cur.TotalPages = resp.TotalPages
	if cur.TotalPages == 0 && cur.PageSize > 0 {
		cur.TotalPages = (resp.TotalResults + cur.PageSize - 1) / cur.PageSize
	}
	c.mu.Unlock()

	c.changes.Next(k)
	return ids, nil
}

// Referencing returns every section of type t with a page containing id.
func (c *Controller) Referencing(t schema.EntityType, id string) []SectionKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []SectionKey
	for k, s := range c.sections {
		if k.EntityType == t && s.Contains(id) {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys
}

// Prune removes id from every page of every section of type t and
// decrements their totals. It returns the sections that changed.
func (c *Controller) Prune(t schema.EntityType, id string) []SectionKey {
	var changed []SectionKey

	c.mu.Lock()
	for k, s := range c.sections {
		if k.EntityType != t {
			continue
		}
		removed := false
		for n, ids := range s.Pages {
			kept := make([]string, 0, len(ids))
			for _, other := range ids {
				if other == id {
					removed = true
					continue
				}
				kept = append(kept, other)
			}
			s.Pages[n] = kept
		}
		if removed {
			if s.TotalResults > 0 {
				s.TotalResults--
			}
			changed = append(changed, k)
		}
	}
	c.mu.Unlock()

	sortKeys(changed)
	for _, k := range changed {
		c.changes.Next(k)
	}
	if len(changed) > 0 {
		c.logger.Debug().Str("entity_type", string(t)).Str("id", id).Int("sections", len(changed)).Msg("Pruned deleted entity")
	}
	return changed
}

// Section returns a copy of the section.
func (c *Controller) Section(t schema.EntityType, key string) (Section, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sections[SectionKey{EntityType: t, Key: key}]
	if !ok {
		return Section{}, false
	}
	return s.Clone(), true
}

// Status returns the state machine position of the selected page.
func (c *Controller) Status(t schema.EntityType, key string) Status {
	s, ok := c.Section(t, key)
	if !ok {
		return StatusEmpty
	}
	return StatusOf(s, c.tracker.State(s.CurrentFingerprint()))
}

// Snapshot copies every section, keyed by type then pagination key.
func (c *Controller) Snapshot() map[schema.EntityType]map[string]Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[schema.EntityType]map[string]Section)
	for k, s := range c.sections {
		byKey, ok := out[k.EntityType]
		if !ok {
			byKey = make(map[string]Section)
			out[k.EntityType] = byKey
		}
		byKey[k.Key] = s.Clone()
	}
	return out
}

// Changes streams the key of every section that changed.
func (c *Controller) Changes() observable.Observable[SectionKey] {
	return c.changes
}

// Watch streams copies of one section: the current value (if the section
// exists), then one per change.
func (c *Controller) Watch(t schema.EntityType, key string) observable.Observable[Section] {
	k := SectionKey{EntityType: t, Key: key}
	return observable.Func[Section](func(next func(Section)) *observable.Subscription {
		sub := c.changes.Subscribe(func(changed SectionKey) {
			if changed != k {
				return
			}
			if s, ok := c.Section(t, key); ok {
				next(s)
			}
		})
		if s, ok := c.Section(t, key); ok {
			next(s)
		}
		return sub
	})
}

func sortKeys(keys []SectionKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EntityType != keys[j].EntityType {
			return keys[i].EntityType < keys[j].EntityType
		}
		return keys[i].Key < keys[j].Key
	})
}
