// Package cli implements alertctl, the operator command line for inspecting
// and moving alerts directly against the configured store.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/store/backend"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	Verbose    bool

	// OpenStore builds the store from configuration. Defaults to backend.Open.
	OpenStore func(ctx context.Context, conf config.StoreConf) (store.Store, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. opts may be nil.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts == nil {
		opts = &RootOptions{}
	}

	cmd := &cobra.Command{
		Use:   "alertctl",
		Short: "Inspect and manage alertflow alerts",
		Long:  "Operator tool for the alertflow store: look up alerts, move them between statuses, score transactions and rebuild dashboards.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("ALERTFLOW_CONFIG"), "path to alertflow YAML config")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewTransitionCommand(opts))
	cmd.AddCommand(NewScoreCommand(opts))
	cmd.AddCommand(NewDashboardCommand(opts))

	return cmd
}

// loadConfig reads the config file, or returns defaults when none is set.
func (o *RootOptions) loadConfig() (*config.AppConfig, error) {
	if o.ConfigPath == "" {
		return config.Parse(nil)
	}
	data, err := os.ReadFile(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read config", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "parse config "+o.ConfigPath, err)
	}
	return cfg, nil
}

func (o *RootOptions) openStore(ctx context.Context) (store.Store, *config.AppConfig, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	open := o.OpenStore
	if open == nil {
		open = backend.Open
	}
	st, err := open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return st, cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
