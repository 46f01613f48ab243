package store

import (
	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
)

// Snapshot is the in-memory store shape.
type Snapshot struct {
	Entities   map[schema.EntityType]map[string]entity.Entity      `json:"entities"`
	Requests   map[request.Fingerprint]request.State               `json:"requests"`
	Pagination map[schema.EntityType]map[string]pagination.Section `json:"pagination"`
}

// Snapshot copies the current state. The three parts are copied one after
// the other, not atomically.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Entities:   s.entities.Snapshot(),
		Requests:   s.tracker.Snapshot(),
		Pagination: s.pagination.Snapshot(),
	}
}
