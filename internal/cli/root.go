// Package cli implements the console-store command line.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/Sternrassler/console-store/internal/config"
	"github.com/Sternrassler/console-store/pkg/logging"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	APIURL     string
	Token      string
	Verbose    bool
	Format     string // "json" | "text"

	// Config is loaded before any subcommand runs.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "console-store",
		Short: "Normalized entity store for the cloud console API",
		Long: `console-store fetches console API resources into a normalized entity store,
serves paginated list and entity views, and tracks the state of every request.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api-url", "", "console API base URL (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "bearer token (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))

	return cmd
}

// load validates the flags, reads the configuration and sets up logging.
func (o *RootOptions) load() error {
	if !slices.Contains(ValidFormats, o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.APIURL != "" {
		cfg.API.BaseURL = o.APIURL
	}
	if o.Token != "" {
		cfg.API.Token = o.Token
	}
	if o.Verbose {
		cfg.Log.Level = string(logging.LevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logging.Setup(logging.Config{Level: level, Pretty: cfg.Log.Pretty, Output: os.Stderr})

	o.Config = cfg
	return nil
}
