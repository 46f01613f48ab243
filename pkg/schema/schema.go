// Package schema declares, per entity type, the unique key field and the
// nested child entities a response may embed.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// EntityType tags both a store partition and a schema.
type EntityType string

// Built-in console entity types.
const (
	Endpoint        EntityType = "endpoint"
	Organization    EntityType = "organization"
	Space           EntityType = "space"
	Application     EntityType = "application"
	User            EntityType = "user"
	ServiceInstance EntityType = "serviceInstance"
)

var (
	// ErrUnknownEntityType is returned when no schema is registered for a type.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrRegistryFrozen is returned when registering after Freeze.
	ErrRegistryFrozen = errors.New("schema registry is frozen")
)

// Child declares a field that embeds another entity.
type Child struct {
	// Field is the dotted path of the embedding field (e.g. "entity.space").
	Field string

	// EntityType is the type of the embedded entity.
	EntityType EntityType

	// IsArray marks a field holding a list of entities.
	IsArray bool
}

// Schema describes one entity type.
type Schema struct {
	EntityType EntityType

	// IDAttribute is the dotted path of the unique key (e.g. "metadata.guid").
	IDAttribute string

	// Collection is the API collection serving this type (e.g. "apps").
	Collection string

	Children []Child
}

// IDPath splits IDAttribute into path segments.
func (s Schema) IDPath() []string {
	return SplitPath(s.IDAttribute)
}

// Registry holds the schemas known to a store. It is written at start-up and
// read-only after Freeze.
type Registry struct {
	mu      sync.RWMutex
	schemas map[EntityType]Schema
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[EntityType]Schema)}
}

// Register adds or replaces a schema.
func (r *Registry) Register(s Schema) error {
	if s.EntityType == "" {
		return fmt.Errorf("register schema: entity type is required")
	}
	if s.IDAttribute == "" {
		return fmt.Errorf("register schema %q: id attribute is required", s.EntityType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register schema %q: %w", s.EntityType, ErrRegistryFrozen)
	}

	children := make([]Child, len(s.Children))
	copy(children, s.Children)
	s.Children = children
	r.schemas[s.EntityType] = s
	return nil
}

// MustRegister registers schemas and panics on error. Intended for start-up.
func (r *Registry) MustRegister(schemas ...Schema) *Registry {
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the schema for t.
func (r *Registry) Lookup(t EntityType) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[t]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}
	return s, nil
}

// Types returns all registered types, sorted.
func (r *Registry) Types() []EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]EntityType, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// SplitPath splits a dotted attribute path.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}
