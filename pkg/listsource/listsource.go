// Package listsource adapts a pagination monitor to list views: sorting,
// filtering, selection and bulk actions.
//
// A Local source sorts and filters the rows it already holds; a Remote
// source turns sort and filter changes into query params, which reset the
// section and fetch page 1 afresh.
package listsource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/monitor"
	"github.com/Sternrassler/console-store/pkg/observable"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/Sternrassler/console-store/pkg/store"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Query params understood by the console API.
const (
	ParamOrderBy        = "order-by"
	ParamOrderDirection = "order-direction"
	ParamQuery          = "q"
)

// Mode selects where sorting and filtering happen.
type Mode int

const (
	// Local sorts and filters the materialized rows.
	Local Mode = iota
	// Remote sends sort and filter as query params.
	Remote
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == Remote {
		return "remote"
	}
	return "local"
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Config holds list source configuration.
type Config struct {
	Mode Mode

	// TextFields are the dotted paths matched by the text filter
	// (default: entity.name).
	TextFields []string

	// Language drives string collation for local sorting (default: English).
	Language language.Tag

	// MaxConcurrency bounds parallel bulk actions.
	MaxConcurrency int

	// Logger (default: global logger with component "list-source").
	Logger *zerolog.Logger
}

// DefaultConfig returns the default list source configuration.
func DefaultConfig() Config {
	return Config{
		Mode:           Local,
		TextFields:     []string{"entity.name"},
		Language:       language.English,
		MaxConcurrency: 5,
	}
}

// Dispatcher is the part of the store a list source drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmds ...store.Command) error
	Tracker() *request.Tracker
	Fetcher() fetch.Fetcher
}

// Row is one list row.
type Row struct {
	ID       string        `json:"id"`
	Entity   entity.Entity `json:"entity"`
	Selected bool          `json:"selected"`
	Busy     bool          `json:"busy"`
}

// Page is the value a list view renders.
type Page struct {
	Rows         []Row  `json:"rows"`
	TotalResults int    `json:"totalResults"`
	PageNumber   int    `json:"pageNumber"`
	PageSize     int    `json:"pageSize"`
	Fetching     bool   `json:"fetching"`
	Error        bool   `json:"error"`
	Message      string `json:"message,omitempty"`
}

// Source is a list data source over one pagination section.
type Source struct {
	cfg     Config
	monitor *monitor.PaginationMonitor
	store   Dispatcher
	logger  zerolog.Logger

	mu          sync.Mutex
	sortField   string
	sortDir     Direction
	text        string
	attrFilters map[string]string
	selected    map[string]struct{}
	actions     map[string]struct{}

	settings *observable.Subject[struct{}]
	pages    observable.Observable[Page]
}

// New creates a source over pm, dispatching commands to st.
func New(cfg Config, pm *monitor.PaginationMonitor, st Dispatcher) *Source {
	if len(cfg.TextFields) == 0 {
		cfg.TextFields = []string{"entity.name"}
	}
	if cfg.Language == language.Und {
		cfg.Language = language.English
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	logger := log.With().Str("component", "list-source").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	s := &Source{
		cfg:         cfg,
		monitor:     pm,
		store:       st,
		logger:      logger,
		sortDir:     Asc,
		attrFilters: make(map[string]string),
		selected:    make(map[string]struct{}),
		actions:     make(map[string]struct{}),
		settings:    observable.NewSubject[struct{}](),
	}
	s.pages = observable.RefCount(s.connect)
	return s
}

func (s *Source) connect(emit func(Page)) func() {
	tick := observable.NewSubject[struct{}]()
	tickSub := tick.Subscribe(func(struct{}) { emit(s.Current()) })
	fire := func() { tick.Next(struct{}{}) }

	subs := []*observable.Subscription{
		s.monitor.Observe().Subscribe(func(monitor.PaginationValue) { fire() }),
		s.settings.Subscribe(func(struct{}) { fire() }),
		s.store.Tracker().Changes().Subscribe(func(c request.StateChange) {
			if c.Fingerprint.Kind() == request.KindAction && strings.HasPrefix(string(c.Fingerprint), s.actionPrefix()) {
				fire()
			}
		}),
	}
	fire()

	return func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		tickSub.Unsubscribe()
	}
}

func (s *Source) actionPrefix() string {
	return request.KindAction + ":" + string(s.monitor.EntityType) + ":"
}

func (s *Source) changed() {
	s.settings.Next(struct{}{})
}

// Page emits the rendered page whenever the monitor, the list settings or
// any row's busy state change.
func (s *Source) Page() observable.Observable[Page] {
	return s.pages
}

// Current computes the page synchronously.
func (s *Source) Current() Page {
	v := s.monitor.Current()

	s.mu.Lock()
	sortField, sortDir, text := s.sortField, s.sortDir, s.text
	attrFilters := make(map[string]string, len(s.attrFilters))
	for k, p := range s.attrFilters {
		attrFilters[k] = p
	}
	selected := make(map[string]struct{}, len(s.selected))
	for id := range s.selected {
		selected[id] = struct{}{}
	}
	s.mu.Unlock()

	p := Page{
		TotalResults: v.TotalResults,
		PageNumber:   v.PageNumber,
		PageSize:     v.PageSize,
		Fetching:     v.Fetching,
		Error:        v.Error,
		Message:      v.Message,
	}

	rows := make([]Row, 0, len(v.Rows))
	for i, e := range v.Rows {
		id := v.IDs[i]
		_, sel := selected[id]
		rows = append(rows, Row{ID: id, Entity: e, Selected: sel, Busy: s.Busy(id)})
	}

	if s.cfg.Mode == Local {
		filtered := s.filterLocal(rows, text, attrFilters)
		if len(filtered) != len(rows) {
			p.TotalResults = len(filtered)
		}
		rows = filtered
		if sortField != "" {
			s.sortLocal(rows, sortField, sortDir)
		}
	}

	p.Rows = rows
	return p
}

func (s *Source) filterLocal(rows []Row, text string, attrFilters map[string]string) []Row {
	if text == "" && len(attrFilters) == 0 {
		return rows
	}

	fold := cases.Fold()
	needle := fold.String(text)

	out := rows[:0:0]
	for _, r := range rows {
		if needle != "" && !s.matchesText(r.Entity, fold, needle) {
			continue
		}
		if !matchesAttributes(r.Entity, attrFilters) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Source) matchesText(e entity.Entity, fold cases.Caser, needle string) bool {
	for _, field := range s.cfg.TextFields {
		if strings.Contains(fold.String(e.String(field)), needle) {
			return true
		}
	}
	return false
}

func matchesAttributes(e entity.Entity, filters map[string]string) bool {
	for field, pattern := range filters {
		v, ok := e.Lookup(field)
		if !ok {
			return false
		}
		matched, err := doublestar.Match(pattern, fmt.Sprint(v))
		if err != nil || !matched {
			return false
		}
	}
	return true
}

func (s *Source) sortLocal(rows []Row, field string, dir Direction) {
	coll := collate.New(s.cfg.Language, collate.IgnoreCase, collate.Numeric)

	less := func(a, b Row) int {
		av, _ := a.Entity.Lookup(field)
		bv, _ := b.Entity.Lookup(field)
		switch x := av.(type) {
		case float64:
			if y, ok := bv.(float64); ok {
				switch {
				case x < y:
					return -1
				case x > y:
					return 1
				}
				return 0
			}
		case string:
			if y, ok := bv.(string); ok {
				return coll.CompareString(x, y)
			}
		}
		return strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		c := less(rows[i], rows[j])
		if dir == Desc {
			return c > 0
		}
		return c < 0
	})
}

// SetSort orders rows by the dotted field path.
func (s *Source) SetSort(ctx context.Context, field string, dir Direction) error {
	if dir != Desc {
		dir = Asc
	}
	s.mu.Lock()
	s.sortField, s.sortDir = field, dir
	s.mu.Unlock()

	if s.cfg.Mode == Remote {
		return s.store.Dispatch(ctx, store.AddParams{
			EntityType: s.monitor.EntityType,
			Key:        s.monitor.Key,
			Params: map[string]string{
				ParamOrderBy:        strings.TrimPrefix(field, "entity."),
				ParamOrderDirection: string(dir),
			},
		}, s.selectPage(1))
	}
	s.changed()
	return nil
}

// SetTextFilter filters rows whose text fields contain text, ignoring case.
// An empty text clears the filter.
func (s *Source) SetTextFilter(ctx context.Context, text string) error {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()

	if s.cfg.Mode == Remote {
		return s.remoteQuery(ctx, s.queryField(), text)
	}
	s.changed()
	return nil
}

// SetAttributeFilter keeps rows whose field matches the glob pattern
// (doublestar syntax). An empty pattern removes the filter for field.
// Remote sources send the pattern as the query value.
func (s *Source) SetAttributeFilter(ctx context.Context, field, pattern string) error {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("attribute filter %q: %w", pattern, doublestar.ErrBadPattern)
	}

	s.mu.Lock()
	if pattern == "" {
		delete(s.attrFilters, field)
	} else {
		s.attrFilters[field] = pattern
	}
	s.mu.Unlock()

	if s.cfg.Mode == Remote {
		return s.remoteQuery(ctx, strings.TrimPrefix(field, "entity."), pattern)
	}
	s.changed()
	return nil
}

// remoteQuery sets or clears the single q param the console API accepts and
// fetches the first page under the new params.
func (s *Source) remoteQuery(ctx context.Context, field, value string) error {
	if value == "" {
		return s.store.Dispatch(ctx, store.RemoveParams{
			EntityType: s.monitor.EntityType,
			Key:        s.monitor.Key,
			Names:      []string{ParamQuery},
		}, s.selectPage(1))
	}
	return s.store.Dispatch(ctx, store.AddParams{
		EntityType: s.monitor.EntityType,
		Key:        s.monitor.Key,
		Params:     map[string]string{ParamQuery: field + ":" + value},
	}, s.selectPage(1))
}

func (s *Source) queryField() string {
	return strings.TrimPrefix(s.cfg.TextFields[0], "entity.")
}

func (s *Source) selectPage(n int) store.SetPage {
	return store.SetPage{EntityType: s.monitor.EntityType, Key: s.monitor.Key, Page: n}
}

// Settings is a full set of list settings for Configure.
type Settings struct {
	// PageSize of the section; 0 keeps the current size.
	PageSize int

	// SortField is a dotted path; empty leaves rows in API order.
	SortField string
	SortDir   Direction

	// Text filter; empty clears it.
	Text string

	// Page selected once the settings are in place (default 1).
	Page int
}

// Configure replaces sort and text filter, sets the page size and selects a
// page, all in one dispatch, so a Remote source fetches once for the whole
// change instead of once per setting.
func (s *Source) Configure(ctx context.Context, set Settings) error {
	if set.SortDir != Desc {
		set.SortDir = Asc
	}
	if set.Page < 1 {
		set.Page = 1
	}

	s.mu.Lock()
	s.sortField, s.sortDir, s.text = set.SortField, set.SortDir, set.Text
	s.mu.Unlock()

	var cmds []store.Command
	if set.PageSize > 0 {
		cmds = append(cmds, store.SetPageSize{EntityType: s.monitor.EntityType, Key: s.monitor.Key, Size: set.PageSize})
	}
	if s.cfg.Mode == Remote {
		params := make(map[string]string)
		var cleared []string
		if set.SortField != "" {
			params[ParamOrderBy] = strings.TrimPrefix(set.SortField, "entity.")
			params[ParamOrderDirection] = string(set.SortDir)
		} else {
			cleared = append(cleared, ParamOrderBy, ParamOrderDirection)
		}
		if set.Text != "" {
			params[ParamQuery] = s.queryField() + ":" + set.Text
		} else {
			cleared = append(cleared, ParamQuery)
		}
		cmds = append(cmds,
			store.RemoveParams{EntityType: s.monitor.EntityType, Key: s.monitor.Key, Names: cleared},
			store.AddParams{EntityType: s.monitor.EntityType, Key: s.monitor.Key, Params: params},
		)
	}
	cmds = append(cmds, s.selectPage(set.Page))

	err := s.store.Dispatch(ctx, cmds...)
	if s.cfg.Mode == Local {
		s.changed()
	}
	return err
}

// SetPage selects a page.
func (s *Source) SetPage(ctx context.Context, n int) error {
	return s.store.Dispatch(ctx, s.selectPage(n))
}

// SetPageSize changes the page size.
func (s *Source) SetPageSize(ctx context.Context, size int) error {
	return s.store.Dispatch(ctx, store.SetPageSize{EntityType: s.monitor.EntityType, Key: s.monitor.Key, Size: size})
}

// Refresh re-fetches the selected page.
func (s *Source) Refresh(ctx context.Context) error {
	return s.store.Dispatch(ctx, store.Refresh{EntityType: s.monitor.EntityType, Key: s.monitor.Key})
}

// Mode returns the configured mode.
func (s *Source) Mode() Mode {
	return s.cfg.Mode
}

// EntityType returns the entity type of the rows.
func (s *Source) EntityType() schema.EntityType {
	return s.monitor.EntityType
}
