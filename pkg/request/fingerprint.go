package request

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Sternrassler/console-store/pkg/schema"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint identifies one fetchable unit of work. Identical inputs always
// produce identical fingerprints, which is what lets concurrent callers share
// a single fetch.
type Fingerprint string

// Fingerprint kinds.
const (
	KindEntity = "entity"
	KindPage   = "page"
	KindAction = "action"
)

// ForEntity fingerprints a single-entity fetch.
//
// Example:
//
//	entity:application:9f1c
func ForEntity(t schema.EntityType, id string) Fingerprint {
	return Fingerprint(strings.Join([]string{KindEntity, string(t), clean(id)}, ":"))
}

// ForPage fingerprints a paginated fetch. Params are sorted by key and NFC
// normalised so logically equal parameter sets collide.
//
// Example:
//
//	page:application:apps:cf-1:2:order-by=name;q=state%3ASTARTED
func ForPage(t schema.EntityType, paginationKey string, page int, params map[string]string) Fingerprint {
	parts := []string{KindPage, string(t), clean(paginationKey), fmt.Sprintf("%d", page), EncodeParams(params)}
	return Fingerprint(strings.Join(parts, ":"))
}

// PagePrefix is the prefix shared by every page fingerprint of one
// pagination key. Keys containing ':' may share a prefix with longer keys.
func PagePrefix(t schema.EntityType, paginationKey string) string {
	return strings.Join([]string{KindPage, string(t), clean(paginationKey), ""}, ":")
}

// ForAction fingerprints a write against one entity (delete, update, role
// change). Its state backs the per-entity busy flag.
func ForAction(t schema.EntityType, id, action string) Fingerprint {
	return Fingerprint(strings.Join([]string{KindAction, string(t), clean(id), clean(action)}, ":"))
}

// EncodeParams renders params deterministically as k=v pairs joined by ';'.
// Keys and values are query-escaped so delimiters inside them cannot make
// two different parameter sets encode alike.
func EncodeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, url.QueryEscape(clean(key))+"="+url.QueryEscape(clean(params[key])))
	}
	return strings.Join(pairs, ";")
}

// Kind returns the fingerprint kind prefix.
func (f Fingerprint) Kind() string {
	kind, _, _ := strings.Cut(string(f), ":")
	return kind
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return string(f)
}

func clean(s string) string {
	return norm.NFC.String(s)
}
