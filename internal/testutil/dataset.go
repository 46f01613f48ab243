// Package testutil provides testing utilities for the console store.
package testutil

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/schema"
)

// Resource builds a console API resource: {metadata: {guid}, entity: fields}.
func Resource(guid string, fields map[string]any) map[string]any {
	return map[string]any{
		"metadata": map[string]any{"guid": guid},
		"entity":   fields,
	}
}

// Apps builds n application resources named app-01 ... app-n belonging to
// spaceGUID.
func Apps(spaceGUID string, n int) []map[string]any {
	apps := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("app-%02d", i)
		apps = append(apps, Resource(name, map[string]any{
			"name":       name,
			"state":      "STARTED",
			"instances":  float64(i%3 + 1),
			"space_guid": spaceGUID,
		}))
	}
	return apps
}

// Dataset is an in-memory console API backing both FakeFetcher and
// MockConsole.
type Dataset struct {
	mu    sync.RWMutex
	items map[schema.EntityType][]map[string]any
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{items: make(map[schema.EntityType][]map[string]any)}
}

// Add appends resources of type t.
func (d *Dataset) Add(t schema.EntityType, resources ...map[string]any) *Dataset {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[t] = append(d.items[t], resources...)
	return d
}

// Remove deletes the resource with guid. Returns false if absent.
func (d *Dataset) Remove(t schema.EntityType, guid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.items[t]
	for i, item := range items {
		if guidOf(item) == guid {
			d.items[t] = append(items[:i:i], items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the resource with guid.
func (d *Dataset) Get(t schema.EntityType, guid string) (map[string]any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, item := range d.items[t] {
		if guidOf(item) == guid {
			return copyMap(item), true
		}
	}
	return nil, false
}

// Len returns the number of resources of type t.
func (d *Dataset) Len(t schema.EntityType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items[t])
}

// Page returns copies of page n (1-based) of type t after applying the
// console query params "q" (field:value, substring match), "order-by" and
// "order-direction".
func (d *Dataset) Page(t schema.EntityType, params map[string]string, page, size int) (items []any, totalResults, totalPages int) {
	d.mu.RLock()
	matched := make([]map[string]any, 0, len(d.items[t]))
	for _, item := range d.items[t] {
		if matchQuery(item, params["q"]) {
			matched = append(matched, item)
		}
	}
	d.mu.RUnlock()

	if field := params["order-by"]; field != "" {
		desc := strings.EqualFold(params["order-direction"], "desc")
		sort.SliceStable(matched, func(i, j int) bool {
			a := entity.Entity(matched[i]).String("entity." + field)
			b := entity.Entity(matched[j]).String("entity." + field)
			if desc {
				return a > b
			}
			return a < b
		})
	}

	totalResults = len(matched)
	if size <= 0 {
		size = totalResults
	}
	if size > 0 {
		totalPages = (totalResults + size - 1) / size
	}

	start := (page - 1) * size
	if start < 0 || start >= totalResults {
		return []any{}, totalResults, totalPages
	}
	end := start + size
	if end > totalResults {
		end = totalResults
	}

	items = make([]any, 0, end-start)
	for _, item := range matched[start:end] {
		items = append(items, copyMap(item))
	}
	return items, totalResults, totalPages
}

func matchQuery(item map[string]any, q string) bool {
	if q == "" {
		return true
	}
	field, value, ok := strings.Cut(q, ":")
	if !ok {
		return true
	}
	got := entity.Entity(item).String("entity." + field)
	return strings.Contains(strings.ToLower(got), strings.ToLower(value))
}

func guidOf(item map[string]any) string {
	if guid := entity.Entity(item).String("metadata.guid"); guid != "" {
		return guid
	}
	return entity.Entity(item).String("guid")
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyMap(item)
		}
		return out
	default:
		return v
	}
}
