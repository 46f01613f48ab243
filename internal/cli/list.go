package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/console-store/internal/server"
	"github.com/Sternrassler/console-store/pkg/listsource"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/spf13/cobra"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Page      int
	PageSize  int
	Query     string
	OrderBy   string
	Direction string
	All       bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List one page of a collection",
		Long: `List one page of a collection such as apps, spaces or organizations.

Sorting and the name filter are applied by the API. With --all every page is
fetched and sorting and filtering happen locally.

Example:
  console-store list apps --page 2 --page-size 20
  console-store list apps --all --query web --order-by name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runList(ctx, opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Page, "page", "p", 1, "page number")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "results per page (default from config)")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "filter by name")
	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", "sort field, e.g. name")
	cmd.Flags().StringVar(&opts.Direction, "order-direction", "asc", "sort direction (asc|desc)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "fetch every page and sort/filter locally")

	return cmd
}

func runList(ctx context.Context, opts *ListOptions, collection string, cmd *cobra.Command) error {
	if opts.Page < 1 {
		return fmt.Errorf("page %d: %w", opts.Page, pagination.ErrInvalidPage)
	}
	a, err := newApp(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	t, ok := server.ResolveType(a.store.Registry(), collection)
	if !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}
	size := opts.PageSize
	if size <= 0 {
		size = opts.Config.Store.PageSize
	}

	cfg := listsource.DefaultConfig()
	key := pagination.Key("cli", collection)
	pm := a.store.List(t, key)
	if opts.All {
		cfg.Mode = listsource.Local
		pm = a.store.Monitors().LocalPagination(t, key)
	} else {
		cfg.Mode = listsource.Remote
	}
	src := listsource.New(cfg, pm, a.store)

	sortField := ""
	if opts.OrderBy != "" {
		sortField = "entity." + opts.OrderBy
	}
	dir := listsource.Direction(opts.Direction)

	if opts.All {
		if err := src.SetPageSize(ctx, size); err != nil {
			return err
		}
		if err := src.SetSort(ctx, sortField, dir); err != nil {
			return err
		}
		if err := src.SetTextFilter(ctx, opts.Query); err != nil {
			return err
		}
		if _, err := a.store.Pagination().FetchAllPages(ctx, t, key); err != nil {
			return err
		}
	} else {
		err := src.Configure(ctx, listsource.Settings{
			PageSize:  size,
			SortField: sortField,
			SortDir:   dir,
			Text:      opts.Query,
			Page:      opts.Page,
		})
		if err != nil {
			return err
		}
		if _, err := pm.Wait(ctx); err != nil {
			return err
		}
	}

	p := src.Current()
	if err := NewOutputFormatter(opts.Format, cmd.OutOrStdout()).Page(p); err != nil {
		return err
	}
	if p.Error {
		return fmt.Errorf("list %s: %s", collection, p.Message)
	}
	return nil
}
