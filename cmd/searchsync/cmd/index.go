package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/logging"
	"github.com/semweb/searchsync/internal/ui"
)

// newIndexCmd creates the index command: build indexes for a group set
// without serving, so a deployment can warm indexes ahead of traffic.
func newIndexCmd(configPath *string) *cobra.Command {
	var groupsJSON string
	var typeNames []string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build search indexes for an authorization group set",
		Long: `Build the search indexes for the given authorization group set, for all
configured types or the ones named with --type. Existing valid indexes
are left alone.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logging.Setup(logging.Config{
				Level:  cfg.Server.LogLevel,
				Format: cfg.Server.LogFormat,
			})

			groups, err := auth.Parse(groupsJSON)
			if err != nil {
				return err
			}

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if cfg.Indexing.PersistIndexes {
				if err := a.registry.LoadPersisted(ctx); err != nil {
					return err
				}
			}

			names := typeNames
			if len(names) == 0 {
				names = a.types.Names()
			}

			printer := ui.NewPrinter(cmd.OutOrStdout())
			ac := auth.NewContext(groups, nil)
			failed := 0
			for _, typeName := range names {
				indexes, err := a.registry.ResolveOrBuild(ctx, ac, typeName)
				if err != nil {
					printer.Errorf("%s: %v", typeName, err)
					failed++
					continue
				}
				for _, si := range indexes {
					printer.Successf("%s: index %s %s", typeName, si.Name, si.Status())
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d type(s) failed to index", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&groupsJSON, "groups", "[]", "Allowed groups as a JSON array")
	cmd.Flags().StringSliceVar(&typeNames, "type", nil, "Type to index (repeatable; default all)")

	return cmd
}
