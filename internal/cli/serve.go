package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/console-store/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON list and entity views",
		Long: `Serve the store over HTTP:

  GET    /health, /ready, /metrics
  GET    /api/store                       store snapshot
  GET    /api/v2/<collection>             list page (page, page-size, q, order-by, order-direction, refresh)
  GET    /api/v2/<collection>/<guid>      entity
  DELETE /api/v2/<collection>/<guid>      delete remotely and prune from every list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := rootOpts.Config
			if addr != "" {
				cfg.Listen = addr
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			scfg := server.Config{
				Addr:        cfg.Listen,
				PageSize:    cfg.Store.PageSize,
				WaitTimeout: cfg.API.Timeout,
			}
			if a.redis != nil {
				scfg.Redis = a.redis
			}
			return server.New(scfg, a.store).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
