// Package cmd provides the CLI commands for searchsync.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/semweb/searchsync/pkg/version"
)

// NewRootCmd creates the root command for the searchsync CLI.
func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "searchsync",
		Short: "Authorization-aware search index synchronization",
		Long: `Searchsync keeps per-authorization-group search indexes in sync with an
RDF triplestore. It materializes configured resource types into search
documents, serves authorized searches, and applies triplestore deltas
incrementally.

Run 'searchsync serve' to start the service.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("searchsync version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newIndexCmd(&configPath))
	cmd.AddCommand(newResetCmd(&configPath))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
