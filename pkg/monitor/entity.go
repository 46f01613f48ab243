package monitor

import (
	"context"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/normalize"
	"github.com/Sternrassler/console-store/pkg/observable"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EntityValue is the combined view of one entity and its request state.
type EntityValue struct {
	// Entity is nil while the entity is absent from the store.
	Entity  entity.Entity `json:"entity"`
	Request request.State `json:"request"`
}

// Ready reports whether the entity is present and not being fetched. A
// failed refresh of a present entity is still ready.
func (v EntityValue) Ready() bool {
	return v.Entity != nil && !v.Request.Fetching
}

// EntityMonitor observes one entity.
type EntityMonitor struct {
	EntityType schema.EntityType
	ID         string

	entities *entity.Store
	tracker  *request.Tracker
	values   observable.Observable[EntityValue]
}

// NewEntityMonitor creates a monitor for (t, id). Use Factory to share
// monitors between views.
func NewEntityMonitor(entities *entity.Store, tracker *request.Tracker, t schema.EntityType, id string) *EntityMonitor {
	return newEntityMonitor(entities, tracker, t, id, nil)
}

func newEntityMonitor(entities *entity.Store, tracker *request.Tracker, t schema.EntityType, id string, onIdle func()) *EntityMonitor {
	m := &EntityMonitor{
		EntityType: t,
		ID:         id,
		entities:   entities,
		tracker:    tracker,
	}
	fp := m.Fingerprint()
	m.values = derive("entity", m.Current, onIdle,
		onEntityChange(entities, t, func(changed string) bool { return changed == id }),
		onRequestChange(tracker, func(changed request.Fingerprint) bool { return changed == fp }),
	)
	return m
}

// Fingerprint returns the fingerprint of the entity's own fetch.
func (m *EntityMonitor) Fingerprint() request.Fingerprint {
	return request.ForEntity(m.EntityType, m.ID)
}

// Current computes the value synchronously.
func (m *EntityMonitor) Current() EntityValue {
	e, _ := m.entities.Get(m.EntityType, m.ID)
	return EntityValue{Entity: e, Request: m.tracker.State(m.Fingerprint())}
}

// Observe emits on every change of the entity or its request state.
func (m *EntityMonitor) Observe() observable.Observable[EntityValue] {
	return m.values
}

// WaitForEntity emits only values that are Ready. Late subscribers receive
// the latest value if it is ready.
func (m *EntityMonitor) WaitForEntity() observable.Observable[EntityValue] {
	return observable.Filter(m.values, EntityValue.Ready)
}

// Wait blocks until the entity is ready or ctx is done.
func (m *EntityMonitor) Wait(ctx context.Context) (EntityValue, error) {
	return observable.First(ctx, m.values, EntityValue.Ready)
}

// EntityService is an EntityMonitor that fetches the entity when a caller
// waits for it and it is absent or invalidated.
type EntityService struct {
	*EntityMonitor

	fetcher  fetch.Fetcher
	registry *schema.Registry
	logger   zerolog.Logger
}

// NewEntityService creates a service for (t, id) around m.
func NewEntityService(m *EntityMonitor, f fetch.Fetcher, reg *schema.Registry) *EntityService {
	return &EntityService{
		EntityMonitor: m,
		fetcher:       f,
		registry:      reg,
		logger:        log.With().Str("component", "entity-service").Logger(),
	}
}

// Fetch starts (or joins) the fetch of the entity.
func (s *EntityService) Fetch(ctx context.Context) *request.Call {
	fp := s.Fingerprint()
	return s.tracker.Start(ctx, fp, func(ctx context.Context) (any, error) {
		sch, err := s.registry.Lookup(s.EntityType)
		if err != nil {
			return nil, err
		}

		resp, err := s.fetcher.Fetch(ctx, fp, fetch.Request{EntityType: s.EntityType, ID: s.ID})
		if err != nil {
			return nil, err
		}

		res, err := normalize.Normalize(resp.Data, sch, s.registry)
		if err != nil {
			return nil, err
		}
		s.entities.UpsertAll(res.Entities)

		s.logger.Debug().
			Str("entity_type", string(s.EntityType)).
			Str("id", s.ID).
			Msg("Entity fetched")
		return res.Result, nil
	})
}

// ensure fetches unless the entity is present with a usable request state.
func (s *EntityService) ensure(ctx context.Context) *request.Call {
	st := s.tracker.State(s.Fingerprint())
	if st.Fetching {
		c, _ := s.tracker.InFlight(s.Fingerprint())
		return c
	}
	if s.entities.Has(s.EntityType, s.ID) && !st.Invalidated {
		return nil
	}
	return s.Fetch(ctx)
}

// WaitForEntity fetches if needed on subscription, then behaves like
// EntityMonitor.WaitForEntity. If the fetch fails and the entity is absent
// nothing is emitted.
func (s *EntityService) WaitForEntity(ctx context.Context) observable.Observable[EntityValue] {
	return observable.Func[EntityValue](func(next func(EntityValue)) *observable.Subscription {
		s.ensure(ctx)
		return s.EntityMonitor.WaitForEntity().Subscribe(next)
	})
}

// Wait fetches if needed and blocks until the entity is ready. It returns
// the fetch error when the fetch fails and the entity is absent.
func (s *EntityService) Wait(ctx context.Context) (EntityValue, error) {
	if call := s.ensure(ctx); call != nil {
		if _, err := call.Wait(ctx); err != nil && !s.entities.Has(s.EntityType, s.ID) {
			return EntityValue{}, err
		}
	}
	return s.EntityMonitor.Wait(ctx)
}
