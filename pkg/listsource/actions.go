package listsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/Sternrassler/console-store/pkg/fetch"
	"github.com/Sternrassler/console-store/pkg/request"
	"github.com/Sternrassler/console-store/pkg/store"
	"golang.org/x/sync/errgroup"
)

// ActionDelete is the action name used by Remove and BulkRemove.
const ActionDelete = "delete"

// Busyable reports whether a row has an action in progress.
type Busyable interface {
	Busy(id string) bool
}

// Removable deletes one row remotely and from the store.
type Removable interface {
	Remove(ctx context.Context, id string) error
}

// AnyBusy reports whether any of ids is busy.
func AnyBusy(b Busyable, ids ...string) bool {
	for _, id := range ids {
		if b.Busy(id) {
			return true
		}
	}
	return false
}

// RemoveAll removes ids one after the other and joins the errors.
func RemoveAll(ctx context.Context, r Removable, ids ...string) error {
	var errs []error
	for _, id := range ids {
		if err := r.Remove(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Select adds ids to the selection.
func (s *Source) Select(ids ...string) {
	s.mu.Lock()
	for _, id := range ids {
		s.selected[id] = struct{}{}
	}
	s.mu.Unlock()
	s.changed()
}

// Deselect removes ids from the selection.
func (s *Source) Deselect(ids ...string) {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.selected, id)
	}
	s.mu.Unlock()
	s.changed()
}

// Toggle flips the selection of id and reports whether it is now selected.
func (s *Source) Toggle(id string) bool {
	s.mu.Lock()
	_, sel := s.selected[id]
	if sel {
		delete(s.selected, id)
	} else {
		s.selected[id] = struct{}{}
	}
	s.mu.Unlock()
	s.changed()
	return !sel
}

// SelectAll selects every visible row.
func (s *Source) SelectAll() {
	page := s.Current()
	ids := make([]string, 0, len(page.Rows))
	for _, r := range page.Rows {
		ids = append(ids, r.ID)
	}
	s.Select(ids...)
}

// ClearSelection empties the selection.
func (s *Source) ClearSelection() {
	s.mu.Lock()
	s.selected = make(map[string]struct{})
	s.mu.Unlock()
	s.changed()
}

// Selected returns the selected ids, sorted.
func (s *Source) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Busy reports whether any action started through this source is in flight
// for id.
func (s *Source) Busy(id string) bool {
	s.mu.Lock()
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	s.mu.Unlock()

	tracker := s.store.Tracker()
	for _, name := range names {
		if tracker.State(request.ForAction(s.monitor.EntityType, id, name)).Fetching {
			return true
		}
	}
	return false
}

// Action runs fn for one id under its action fingerprint. Concurrent calls
// for the same id and name share one execution.
func (s *Source) Action(ctx context.Context, name, id string, fn func(ctx context.Context, id string) error) error {
	s.mu.Lock()
	s.actions[name] = struct{}{}
	s.mu.Unlock()

	fp := request.ForAction(s.monitor.EntityType, id, name)
	_, err := s.store.Tracker().Do(ctx, fp, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, id)
	})
	return err
}

// BulkAction runs fn for every selected id, at most MaxConcurrency at a
// time. Ids whose action succeeded are deselected; the errors of the others
// are joined.
func (s *Source) BulkAction(ctx context.Context, name string, fn func(ctx context.Context, id string) error) error {
	ids := s.Selected()
	if len(ids) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		done []string
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := s.Action(ctx, name, id, fn)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", name, id, err))
			} else {
				done = append(done, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.Deselect(done...)
	s.logger.Info().
		Str("action", name).
		Str("entity_type", string(s.monitor.EntityType)).
		Int("succeeded", len(done)).
		Int("failed", len(errs)).
		Msg("Bulk action complete")
	return errors.Join(errs...)
}

// Remove deletes id remotely, then from the store and every list.
func (s *Source) Remove(ctx context.Context, id string) error {
	return s.Action(ctx, ActionDelete, id, s.remove)
}

// BulkRemove removes every selected id.
func (s *Source) BulkRemove(ctx context.Context) error {
	return s.BulkAction(ctx, ActionDelete, s.remove)
}

func (s *Source) remove(ctx context.Context, id string) error {
	t := s.monitor.EntityType
	fp := request.ForAction(t, id, ActionDelete)
	if _, err := s.store.Fetcher().Fetch(ctx, fp, fetch.Request{Method: http.MethodDelete, EntityType: t, ID: id}); err != nil {
		return err
	}
	return s.store.Dispatch(ctx, store.Delete{EntityType: t, ID: id})
}
