package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/console-store/pkg/schema"
	"golang.org/x/sync/errgroup"
)

// FetchAllPages loads every page of a section in parallel, for lists that
// sort and filter locally over the whole collection. The first page is
// fetched to learn the page count; the rest are distributed over at most
// MaxConcurrency workers. The selected page number is not changed.
//
// Returns map of pageNumber -> ids for the pages that loaded. On failure the
// pages loaded so far are returned together with the error.
func (c *Controller) FetchAllPages(ctx context.Context, t schema.EntityType, key string) (map[int][]string, error) {
	start := time.Now()
	k := SectionKey{EntityType: t, Key: key}

	if err := c.waitPage(ctx, k, 1); err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	s, _ := c.Section(t, key)
	totalPages := s.TotalPages

	c.logger.Info().
		Str("section", k.String()).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	results := map[int][]string{1: s.Pages[1]}
	if totalPages <= 1 {
		c.logger.Info().
			Str("section", k.String()).
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return results, nil
	}

	var mu sync.Mutex
	fetched := 1

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrency)
	for page := 2; page <= totalPages; page++ {
		g.Go(func() error {
			if err := c.waitPage(gctx, k, page); err != nil {
				c.logger.Warn().
					Err(err).
					Str("section", k.String()).
					Int("page", page).
					Msg("Page fetch failed")
				return fmt.Errorf("page %d: %w", page, err)
			}

			mu.Lock()
			defer mu.Unlock()
			fetched++
			// Progress logging every 50 pages
			if fetched%50 == 0 {
				c.logger.Info().
					Int("fetched", fetched).
					Int("total", totalPages).
					Float64("progress_pct", float64(fetched)/float64(totalPages)*100).
					Msg("Fetch progress")
			}
			return nil
		})
	}
	err := g.Wait()

	s, _ = c.Section(t, key)
	for n := 2; n <= totalPages; n++ {
		if ids, ok := s.Pages[n]; ok {
			results[n] = ids
		}
	}

	if err != nil {
		c.logger.Warn().
			Err(err).
			Int("fetched_pages", len(results)).
			Int("total_pages", totalPages).
			Msg("Worker error - returning partial results")
		return results, fmt.Errorf("worker error (partial data: %d/%d pages): %w", len(results), totalPages, err)
	}

	c.logger.Info().
		Str("section", k.String()).
		Int("pages", len(results)).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// waitPage loads page n and waits at most Timeout for it to settle.
func (c *Controller) waitPage(ctx context.Context, k SectionKey, n int) error {
	call := c.load(ctx, k, n)
	if call == nil {
		return nil
	}

	pageCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	_, err := call.Wait(pageCtx)
	return err
}
