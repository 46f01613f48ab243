// Package normalize flattens nested API responses into per-type entity maps
// and an id graph.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/schema"
)

// ErrSchemaMismatch matches every *SchemaMismatchError via errors.Is.
var ErrSchemaMismatch = errors.New("schema mismatch")

// SchemaMismatchError reports a response that does not fit its schema.
type SchemaMismatchError struct {
	EntityType schema.EntityType
	Attribute  string
	Path       string
	Reason     string
}

// Error implements the error interface.
func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %s at %s: %s %q",
		e.EntityType, e.Path, e.Reason, e.Attribute)
}

// Is makes errors.Is(err, ErrSchemaMismatch) true.
func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// Entities is the flattened output, keyed by type then id.
type Entities map[schema.EntityType]map[string]entity.Entity

// Result is the output of Normalize.
type Result struct {
	// Result is the id (string) or ordered ids ([]string) of the top level.
	Result any

	Entities Entities
}

// IDs returns Result as a list. A single id becomes a one-element list.
func (r Result) IDs() []string {
	switch v := r.Result.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	default:
		return nil
	}
}

// Normalize replaces every embedded entity declared by s (recursively through
// the registry) with its id and collects the objects into Entities.
// Already-normalized input (an id or a list of ids) is returned unchanged.
func Normalize(raw any, s schema.Schema, reg *schema.Registry) (Result, error) {
	n := &normalizer{reg: reg, out: make(Entities)}

	switch v := raw.(type) {
	case json.RawMessage:
		decoded, err := decode(v)
		if err != nil {
			return Result{}, err
		}
		raw = decoded
	case []byte:
		decoded, err := decode(v)
		if err != nil {
			return Result{}, err
		}
		raw = decoded
	}

	result, err := n.value(raw, s, "$", false)
	if err != nil {
		return Result{}, err
	}
	return Result{Result: result, Entities: n.out}, nil
}

func decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

type normalizer struct {
	reg *schema.Registry
	out Entities
}

// value normalizes a top-level or child value: an object, a list of objects,
// or already-normalized ids.
func (n *normalizer) value(v any, s schema.Schema, path string, mustBeArray bool) (any, error) {
	switch val := v.(type) {
	case string:
		if mustBeArray {
			return nil, mismatch(s, path, "expected list for")
		}
		return val, nil
	case []string:
		return val, nil
	case []any:
		ids := make([]string, 0, len(val))
		for i, item := range val {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			switch it := item.(type) {
			case string:
				ids = append(ids, it)
			case map[string]any:
				id, err := n.object(it, s, itemPath)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
			case entity.Entity:
				id, err := n.object(it, s, itemPath)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
			default:
				return nil, mismatch(s, itemPath, "expected object or id for")
			}
		}
		return ids, nil
	case map[string]any:
		if mustBeArray {
			return nil, mismatch(s, path, "expected list for")
		}
		return n.object(val, s, path)
	case entity.Entity:
		if mustBeArray {
			return nil, mismatch(s, path, "expected list for")
		}
		return n.object(val, s, path)
	default:
		return nil, mismatch(s, path, "unexpected value for")
	}
}

func (n *normalizer) object(obj map[string]any, s schema.Schema, path string) (string, error) {
	id, ok := idOf(obj, s.IDAttribute)
	if !ok {
		return "", &SchemaMismatchError{
			EntityType: s.EntityType,
			Attribute:  s.IDAttribute,
			Path:       path,
			Reason:     "missing id attribute",
		}
	}

	flat := entity.Entity(obj).Clone()
	for _, child := range s.Children {
		fieldPath := schema.SplitPath(child.Field)
		v, present := flat.Lookup(child.Field)
		if !present || v == nil {
			continue
		}

		childSchema, err := n.reg.Lookup(child.EntityType)
		if err != nil {
			return "", fmt.Errorf("normalize %s.%s: %w", s.EntityType, child.Field, err)
		}

		ref, err := n.value(v, childSchema, path+"."+child.Field, child.IsArray)
		if err != nil {
			return "", err
		}
		setPath(flat, fieldPath, ref)
	}

	byID, ok := n.out[s.EntityType]
	if !ok {
		byID = make(map[string]entity.Entity)
		n.out[s.EntityType] = byID
	}
	if existing, ok := byID[id]; ok {
		for k, v := range flat {
			existing[k] = v
		}
	} else {
		byID[id] = flat
	}
	return id, nil
}

// setPath writes v at path, copying intermediate maps so the caller's input
// is never mutated.
func setPath(root entity.Entity, path []string, v any) {
	cur := map[string]any(root)
	for _, part := range path[:len(path)-1] {
		var next map[string]any
		switch m := cur[part].(type) {
		case map[string]any:
			next = m
		case entity.Entity:
			next = m
		default:
			return
		}
		copied := make(map[string]any, len(next))
		for k, val := range next {
			copied[k] = val
		}
		cur[part] = copied
		cur = copied
	}
	cur[path[len(path)-1]] = v
}

func idOf(obj map[string]any, attribute string) (string, bool) {
	v, ok := entity.Entity(obj).Lookup(attribute)
	if !ok {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}

func mismatch(s schema.Schema, path, reason string) error {
	return &SchemaMismatchError{
		EntityType: s.EntityType,
		Attribute:  s.IDAttribute,
		Path:       path,
		Reason:     reason,
	}
}
