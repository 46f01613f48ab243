package pagination

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
)

// ParamPageSize is the query parameter carrying the page size. It is part of
// every page fingerprint, so page-size changes behave like parameter changes.
const ParamPageSize = "results-per-page"

// SectionKey addresses one paginated list.
type SectionKey struct {
	EntityType schema.EntityType `json:"entityType"`
	Key        string            `json:"paginationKey"`
}

// String implements fmt.Stringer.
func (k SectionKey) String() string {
	return fmt.Sprintf("%s/%s", k.EntityType, k.Key)
}

// Key builds a pagination key scoped to one list instance, e.g.
// Key("cf-org-spaces", orgGUID).
func Key(listName, ownerGUID string) string {
	return listName + ":" + ownerGUID
}

// ClientFilter is a local predicate applied when materializing rows.
type ClientFilter func(e entity.Entity) bool

// Section is the state of one paginated list. Values returned by the
// Controller are copies.
type Section struct {
	Key          string            `json:"paginationKey"`
	EntityType   schema.EntityType `json:"entityType"`
	PageNumber   int               `json:"pageNumber"`
	PageSize     int               `json:"pageSize"`
	Params       map[string]string `json:"params"`
	Pages        map[int][]string  `json:"pages"`
	TotalResults int               `json:"totalResults"`
	TotalPages   int               `json:"totalPages"`
	ClientFilter ClientFilter      `json:"-"`
}

// SectionKey returns the address of s.
func (s Section) SectionKey() SectionKey {
	return SectionKey{EntityType: s.EntityType, Key: s.Key}
}

// RequestParams returns Params plus the page size parameter.
func (s Section) RequestParams() map[string]string {
	out := make(map[string]string, len(s.Params)+1)
	for k, v := range s.Params {
		out[k] = v
	}
	out[ParamPageSize] = strconv.Itoa(s.PageSize)
	return out
}

// Fingerprint returns the fingerprint of page n under the current params.
func (s Section) Fingerprint(page int) request.Fingerprint {
	return request.ForPage(s.EntityType, s.Key, page, s.RequestParams())
}

// CurrentFingerprint returns the fingerprint of the selected page.
func (s Section) CurrentFingerprint() request.Fingerprint {
	return s.Fingerprint(s.PageNumber)
}

// CurrentIDs returns the ids of the selected page, or nil if not fetched.
func (s Section) CurrentIDs() []string {
	return s.Pages[s.PageNumber]
}

// AllIDs returns the ids of every fetched page in page order.
func (s Section) AllIDs() []string {
	pages := make([]int, 0, len(s.Pages))
	for n := range s.Pages {
		pages = append(pages, n)
	}
	sort.Ints(pages)

	var ids []string
	for _, n := range pages {
		ids = append(ids, s.Pages[n]...)
	}
	return ids
}

// Contains reports whether any page references id.
func (s Section) Contains(id string) bool {
	for _, ids := range s.Pages {
		for _, other := range ids {
			if other == id {
				return true
			}
		}
	}
	return false
}

// Clone deep-copies the maps and slices of s.
func (s Section) Clone() Section {
	out := s
	out.Params = make(map[string]string, len(s.Params))
	for k, v := range s.Params {
		out.Params[k] = v
	}
	out.Pages = make(map[int][]string, len(s.Pages))
	for n, ids := range s.Pages {
		out.Pages[n] = append([]string(nil), ids...)
	}
	return out
}

// Status is the state of the selected page.
type Status string

const (
	StatusEmpty     Status = "empty"
	StatusFetching  Status = "fetching"
	StatusPopulated Status = "populated"
	StatusErrored   Status = "errored"
)

// StatusOf derives the page state machine position from the section and the
// request state of its selected page.
func StatusOf(s Section, st request.State) Status {
	switch {
	case st.Fetching:
		return StatusFetching
	case st.Error:
		return StatusErrored
	case s.Pages[s.PageNumber] != nil:
		return StatusPopulated
	default:
		return StatusEmpty
	}
}
