package store

import (
	"context"
	"fmt"

	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/schema"
)

// Command is a mutation accepted through Dispatch.
type Command interface {
	// Name labels the command in logs and metrics.
	Name() string

	apply(ctx context.Context, s *Store) error
}

// AddParams merges params into a pagination section and clears its pages.
type AddParams struct {
	EntityType schema.EntityType
	Key        string
	Params     map[string]string
}

func (AddParams) Name() string { return "add_params" }

func (c AddParams) apply(_ context.Context, s *Store) error {
	s.pagination.AddParams(c.EntityType, c.Key, c.Params)
	return nil
}

// RemoveParams deletes params from a pagination section and clears its pages.
type RemoveParams struct {
	EntityType schema.EntityType
	Key        string
	Names      []string
}

func (RemoveParams) Name() string { return "remove_params" }

func (c RemoveParams) apply(_ context.Context, s *Store) error {
	s.pagination.RemoveParams(c.EntityType, c.Key, c.Names...)
	return nil
}

// SetParams replaces the params of a pagination section and clears its pages.
type SetParams struct {
	EntityType schema.EntityType
	Key        string
	Params     map[string]string
}

func (SetParams) Name() string { return "set_params" }

func (c SetParams) apply(_ context.Context, s *Store) error {
	s.pagination.SetParams(c.EntityType, c.Key, c.Params)
	return nil
}

// SetPage selects a page, fetching it unless it is cached and valid. The
// fetch runs in the background; observe it through a PaginationMonitor.
type SetPage struct {
	EntityType schema.EntityType
	Key        string
	Page       int
}

func (SetPage) Name() string { return "set_page" }

func (c SetPage) apply(ctx context.Context, s *Store) error {
	_, err := s.pagination.SetPage(ctx, c.EntityType, c.Key, c.Page)
	return err
}

// SetPageSize changes the page size of a section.
type SetPageSize struct {
	EntityType schema.EntityType
	Key        string
	Size       int
}

func (SetPageSize) Name() string { return "set_page_size" }

func (c SetPageSize) apply(_ context.Context, s *Store) error {
	return s.pagination.SetPageSize(c.EntityType, c.Key, c.Size)
}

// Refresh re-fetches the selected page of a section.
type Refresh struct {
	EntityType schema.EntityType
	Key        string
}

func (Refresh) Name() string { return "refresh" }

func (c Refresh) apply(ctx context.Context, s *Store) error {
	s.pagination.Refresh(ctx, c.EntityType, c.Key)
	return nil
}

// Invalidate marks a fingerprint stale so the next request for it fetches.
type Invalidate struct {
	Fingerprint request.Fingerprint
}

func (Invalidate) Name() string { return "invalidate" }

func (c Invalidate) apply(_ context.Context, s *Store) error {
	s.tracker.Invalidate(c.Fingerprint)
	return nil
}

// Delete removes an entity from the store and prunes its id from every
// pagination section of its type.
type Delete struct {
	EntityType schema.EntityType
	ID         string
}

func (Delete) Name() string { return "delete" }

func (c Delete) apply(_ context.Context, s *Store) error {
	if c.ID == "" {
		return fmt.Errorf("delete %s: id is required", c.EntityType)
	}
	removed := s.entities.Remove(c.EntityType, c.ID)
	sections := s.pagination.Prune(c.EntityType, c.ID)
	s.tracker.Forget(request.ForEntity(c.EntityType, c.ID))

	s.logger.Debug().
		Str("entity_type", string(c.EntityType)).
		Str("id", c.ID).
		Bool("removed", removed).
		Int("sections_pruned", len(sections)).
		Msg("Entity deleted")
	return nil
}
