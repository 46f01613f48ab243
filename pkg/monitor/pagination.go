package monitor

import (
	"context"
	"strings"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/observable"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
)

// PaginationValue is the materialized view of one pagination section.
type PaginationValue struct {
	// Rows are the entities of the selected page (or of every fetched page
	// for local monitors) that pass the client filter, in page order.
	Rows []entity.Entity `json:"rows"`

	// IDs are the ids of Rows.
	IDs []string `json:"ids"`

	TotalResults int               `json:"totalResults"`
	TotalPages   int               `json:"totalPages"`
	PageNumber   int               `json:"pageNumber"`
	PageSize     int               `json:"pageSize"`
	Status       pagination.Status `json:"status"`

	// Fetching, Error and Message mirror the request state of the selected
	// page.
	Fetching bool   `json:"fetching"`
	Error    bool   `json:"error"`
	Message  string `json:"message,omitempty"`
}

// PaginationMonitor observes one pagination section.
type PaginationMonitor struct {
	EntityType schema.EntityType
	Key        string

	// AllPages makes Rows span every fetched page.
	AllPages bool

	ctrl     *pagination.Controller
	entities *entity.Store
	values   observable.Observable[PaginationValue]
}

// NewPaginationMonitor creates a monitor for the section (t, key). Use
// Factory to share monitors between views.
func NewPaginationMonitor(ctrl *pagination.Controller, entities *entity.Store, t schema.EntityType, key string, allPages bool) *PaginationMonitor {
	return newPaginationMonitor(ctrl, entities, t, key, allPages, nil)
}

func newPaginationMonitor(ctrl *pagination.Controller, entities *entity.Store, t schema.EntityType, key string, allPages bool, onIdle func()) *PaginationMonitor {
	m := &PaginationMonitor{
		EntityType: t,
		Key:        key,
		AllPages:   allPages,
		ctrl:       ctrl,
		entities:   entities,
	}
	prefix := request.PagePrefix(t, key)
	m.values = derive("pagination", m.Current, onIdle,
		onSectionChange(ctrl, pagination.SectionKey{EntityType: t, Key: key}),
		onRequestChange(ctrl.Tracker(), func(fp request.Fingerprint) bool {
			return strings.HasPrefix(string(fp), prefix)
		}),
		onEntityChange(entities, t, m.references),
	)
	return m
}

// Current computes the value synchronously, re-reading every row from the
// canonical store.
func (m *PaginationMonitor) Current() PaginationValue {
	s, ok := m.ctrl.Section(m.EntityType, m.Key)
	if !ok {
		return PaginationValue{PageNumber: 1, Status: pagination.StatusEmpty}
	}

	st := m.ctrl.Tracker().State(s.CurrentFingerprint())
	v := PaginationValue{
		TotalResults: s.TotalResults,
		TotalPages:   s.TotalPages,
		PageNumber:   s.PageNumber,
		PageSize:     s.PageSize,
		Status:       pagination.StatusOf(s, st),
		Fetching:     st.Fetching,
		Error:        st.Error,
		Message:      st.Message,
	}

	ids := s.CurrentIDs()
	if m.AllPages {
		ids = s.AllIDs()
	}
	for _, id := range ids {
		e, ok := m.entities.Get(m.EntityType, id)
		if !ok {
			continue
		}
		if s.ClientFilter != nil && !s.ClientFilter(e) {
			continue
		}
		v.Rows = append(v.Rows, e)
		v.IDs = append(v.IDs, id)
	}
	return v
}

func (m *PaginationMonitor) references(id string) bool {
	s, ok := m.ctrl.Section(m.EntityType, m.Key)
	return ok && s.Contains(id)
}

// Observe emits on every change of the section, the request state of its
// pages, or any entity it references.
func (m *PaginationMonitor) Observe() observable.Observable[PaginationValue] {
	return m.values
}

// Rows emits the rows of every value.
func (m *PaginationMonitor) Rows() observable.Observable[[]entity.Entity] {
	return observable.Map(m.values, func(v PaginationValue) []entity.Entity { return v.Rows })
}

// Wait blocks until the selected page has settled or ctx is done.
func (m *PaginationMonitor) Wait(ctx context.Context) (PaginationValue, error) {
	return observable.First(ctx, m.values, func(v PaginationValue) bool {
		return v.Status == pagination.StatusPopulated || v.Status == pagination.StatusErrored
	})
}
