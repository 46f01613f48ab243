// Package entity implements the canonical store: a process-wide keyed cache of
// entityType -> id -> entity that every view is projected from.
package entity

import (
	"github.com/Sternrassler/console-store/pkg/schema"
)

// Entity is an opaque record. After normalization it references other
// entities only by id.
type Entity map[string]any

// Clone returns a shallow copy.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted path (e.g. "entity.name") through nested maps.
func (e Entity) Lookup(path string) (any, bool) {
	var cur any = map[string]any(e)
	for _, part := range schema.SplitPath(path) {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String resolves a dotted path to a string, or "" when absent.
func (e Entity) String(path string) string {
	v, ok := e.Lookup(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Entity:
		return m, true
	default:
		return nil, false
	}
}

// ChangeType classifies a store mutation.
type ChangeType string

const (
	ChangeUpserted ChangeType = "UPSERTED"
	ChangeRemoved  ChangeType = "REMOVED"
)

// Change is published for every mutation, scoped to one entity.
type Change struct {
	Type       ChangeType
	EntityType schema.EntityType
	ID         string
}
