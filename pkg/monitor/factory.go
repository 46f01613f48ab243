package monitor

import (
	"sync"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
)

type entityKey struct {
	t  schema.EntityType
	id string
}

type paginationKey struct {
	t        schema.EntityType
	key      string
	allPages bool
}

// Factory shares one monitor per entity and per pagination section. A
// monitor leaves the factory when its last subscriber unsubscribes; the next
// request creates a fresh one.
type Factory struct {
	entities *entity.Store
	tracker  *request.Tracker
	ctrl     *pagination.Controller
	fetcher  fetch.Fetcher
	registry *schema.Registry

	mu          sync.Mutex
	entityMons  map[entityKey]*EntityMonitor
	sectionMons map[paginationKey]*PaginationMonitor
}

// NewFactory creates a factory.
func NewFactory(entities *entity.Store, tracker *request.Tracker, ctrl *pagination.Controller, f fetch.Fetcher, reg *schema.Registry) *Factory {
	return &Factory{
		entities:    entities,
		tracker:     tracker,
		ctrl:        ctrl,
		fetcher:     f,
		registry:    reg,
		entityMons:  make(map[entityKey]*EntityMonitor),
		sectionMons: make(map[paginationKey]*PaginationMonitor),
	}
}

// Entity returns the shared monitor for (t, id).
func (f *Factory) Entity(t schema.EntityType, id string) *EntityMonitor {
	k := entityKey{t: t, id: id}

	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.entityMons[k]; ok {
		return m
	}
	var m *EntityMonitor
	m = newEntityMonitor(f.entities, f.tracker, t, id, func() {
		f.mu.Lock()
		if f.entityMons[k] == m {
			delete(f.entityMons, k)
		}
		f.mu.Unlock()
	})
	f.entityMons[k] = m
	return m
}

// EntityService returns a fetching service around the shared monitor for
// (t, id).
func (f *Factory) EntityService(t schema.EntityType, id string) *EntityService {
	return NewEntityService(f.Entity(t, id), f.fetcher, f.registry)
}

// Pagination returns the shared monitor of the selected page of (t, key).
func (f *Factory) Pagination(t schema.EntityType, key string) *PaginationMonitor {
	return f.pagination(paginationKey{t: t, key: key})
}

// LocalPagination returns the shared monitor spanning every fetched page of
// (t, key), for lists that sort and filter locally.
func (f *Factory) LocalPagination(t schema.EntityType, key string) *PaginationMonitor {
	return f.pagination(paginationKey{t: t, key: key, allPages: true})
}

func (f *Factory) pagination(k paginationKey) *PaginationMonitor {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.sectionMons[k]; ok {
		return m
	}
	var m *PaginationMonitor
	m = newPaginationMonitor(f.ctrl, f.entities, k.t, k.key, k.allPages, func() {
		f.mu.Lock()
		if f.sectionMons[k] == m {
			delete(f.sectionMons, k)
		}
		f.mu.Unlock()
	})
	f.sectionMons[k] = m
	return m
}

// Len returns the number of entity and pagination monitors held.
func (f *Factory) Len() (entities, sections int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entityMons), len(f.sectionMons)
}
