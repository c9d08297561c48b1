package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/logging"
	"github.com/semweb/searchsync/internal/ui"
)

// newResetCmd creates the reset command.
func newResetCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Destroy all persisted search indexes",
		Long: `Delete every persisted index record and its physical index. The next
search rebuilds indexes from the triplestore; run this after bulk data
migrations that bypass the delta channel.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return fmt.Errorf("reset destroys all indexes; re-run with --force to proceed")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logging.Setup(logging.Config{
				Level:  cfg.Server.LogLevel,
				Format: cfg.Server.LogFormat,
			})

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.registry.DestroyAllPersisted(cmd.Context()); err != nil {
				return err
			}

			ui.NewPrinter(cmd.OutOrStdout()).Successf("all persisted indexes destroyed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm destructive reset")

	return cmd
}
