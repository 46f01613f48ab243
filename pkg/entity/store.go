package entity

import (
	"sort"
	"sync"

	"github.com/Sternrassler/console-store/pkg/observable"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntitiesStored tracks the number of cached entities by type
	EntitiesStored = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "console_store_entities",
			Help: "Current number of entities in the canonical store",
		},
		[]string{"entity_type"},
	)

	// Upserts tracks upsert operations by type
	Upserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_store_upserts_total",
			Help: "Total number of entity upserts",
		},
		[]string{"entity_type"},
	)

	// Removals tracks removed entities by type
	Removals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_store_removals_total",
			Help: "Total number of entity removals",
		},
		[]string{"entity_type"},
	)
)

// Store is the single source of truth for entity data. All mutation goes
// through Upsert and Remove; every mutation publishes a Change after the lock
// is released.
type Store struct {
	mu       sync.RWMutex
	entities map[schema.EntityType]map[string]Entity
	changes  *observable.Subject[Change]
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entities: make(map[schema.EntityType]map[string]Entity),
		changes:  observable.NewSubject[Change](),
	}
}

// Upsert merges e shallowly over any existing record: new fields win, fields
// absent from e are retained.
func (s *Store) Upsert(t schema.EntityType, id string, e Entity) {
	s.mu.Lock()
	s.upsertLocked(t, id, e)
	s.mu.Unlock()

	s.changes.Next(Change{Type: ChangeUpserted, EntityType: t, ID: id})
}

// UpsertAll upserts a normalized batch and publishes one change per entity.
func (s *Store) UpsertAll(batch map[schema.EntityType]map[string]Entity) {
	var changes []Change

	s.mu.Lock()
	for _, t := range sortedTypes(batch) {
		for _, id := range sortedIDs(batch[t]) {
			s.upsertLocked(t, id, batch[t][id])
			changes = append(changes, Change{Type: ChangeUpserted, EntityType: t, ID: id})
		}
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.changes.Next(c)
	}
}

func (s *Store) upsertLocked(t schema.EntityType, id string, e Entity) {
	byID, ok := s.entities[t]
	if !ok {
		byID = make(map[string]Entity)
		s.entities[t] = byID
	}

	merged, exists := byID[id]
	if !exists {
		merged = make(Entity, len(e))
	} else {
		// Replace rather than mutate: readers may hold the previous map.
		merged = merged.Clone()
	}
	for k, v := range e {
		merged[k] = v
	}
	byID[id] = merged

	Upserts.WithLabelValues(string(t)).Inc()
	EntitiesStored.WithLabelValues(string(t)).Set(float64(len(byID)))
}

// Remove deletes the record. Returns false if it was not present.
func (s *Store) Remove(t schema.EntityType, id string) bool {
	s.mu.Lock()
	byID := s.entities[t]
	_, ok := byID[id]
	if ok {
		delete(byID, id)
		Removals.WithLabelValues(string(t)).Inc()
		EntitiesStored.WithLabelValues(string(t)).Set(float64(len(byID)))
	}
	s.mu.Unlock()

	if ok {
		s.changes.Next(Change{Type: ChangeRemoved, EntityType: t, ID: id})
	}
	return ok
}

// Get is a pure, synchronous lookup. It never triggers a fetch.
func (s *Store) Get(t schema.EntityType, id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[t][id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Has reports whether the entity is present.
func (s *Store) Has(t schema.EntityType, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entities[t][id]
	return ok
}

// List returns every entity of type t keyed by id.
func (s *Store) List(t schema.EntityType) map[string]Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entity, len(s.entities[t]))
	for id, e := range s.entities[t] {
		out[id] = e.Clone()
	}
	return out
}

// Count returns the number of entities of type t.
func (s *Store) Count(t schema.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[t])
}

// Snapshot copies the whole store.
func (s *Store) Snapshot() map[schema.EntityType]map[string]Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[schema.EntityType]map[string]Entity, len(s.entities))
	for t, byID := range s.entities {
		copied := make(map[string]Entity, len(byID))
		for id, e := range byID {
			copied[id] = e.Clone()
		}
		out[t] = copied
	}
	return out
}

// Changes streams every mutation.
func (s *Store) Changes() observable.Observable[Change] {
	return s.changes
}

// Watch streams the current value of one entity: the value at subscription
// time, then one value per change. A removed entity is emitted as nil.
func (s *Store) Watch(t schema.EntityType, id string) observable.Observable[Entity] {
	return observable.Func[Entity](func(next func(Entity)) *observable.Subscription {
		sub := s.changes.Subscribe(func(c Change) {
			if c.EntityType != t || c.ID != id {
				return
			}
			e, _ := s.Get(t, id)
			next(e)
		})
		e, _ := s.Get(t, id)
		next(e)
		return sub
	})
}

func sortedTypes(batch map[schema.EntityType]map[string]Entity) []schema.EntityType {
	types := make([]schema.EntityType, 0, len(batch))
	for t := range batch {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func sortedIDs(byID map[string]Entity) []string {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
