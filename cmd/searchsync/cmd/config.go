package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/semweb/searchsync/configs"
	"github.com/semweb/searchsync/internal/ui"
)

// newConfigCmd creates the config command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

// newConfigInitCmd creates the config init command: scaffold the annotated
// configuration templates into a directory.
func newConfigInitCmd() *cobra.Command {
	var dir string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write annotated configuration templates",
		Long: `Write config.yaml and types.yaml templates into the target directory.
Existing files are left alone unless --force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			printer := ui.NewPrinter(cmd.OutOrStdout())
			files := []struct {
				name string
				data []byte
			}{
				{"config.yaml", configs.ConfigExample},
				{"types.yaml", configs.TypesExample},
			}
			for _, f := range files {
				path := filepath.Join(dir, f.name)
				if _, err := os.Stat(path); err == nil && !force {
					printer.Warnf("%s exists, skipping (use --force to overwrite)", path)
					continue
				}
				if err := os.WriteFile(path, f.data, 0o644); err != nil {
					return fmt.Errorf("cannot write %s: %w", path, err)
				}
				printer.Successf("wrote %s", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "config", "Target directory for the templates")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}
