package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/logging"
	"github.com/semweb/searchsync/internal/ui"
)

// newServeCmd creates the serve command, the normal way to run searchsync.
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization service",
		Long: `Run the HTTP service: search endpoints per configured type, the delta
endpoint for triplestore change notifications, and index management.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logging.Setup(logging.Config{
				Level:  cfg.Server.LogLevel,
				Format: cfg.Server.LogFormat,
			})
			return runServe(cmd.Context(), cfg, ui.NewPrinter(cmd.OutOrStdout()))
		},
	}
}

func runServe(parent context.Context, cfg *config.Config, printer *ui.Printer) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Indexing.PersistIndexes {
		if err := a.registry.LoadPersisted(ctx); err != nil {
			return err
		}
	} else {
		if err := a.registry.DestroyAllPersisted(ctx); err != nil {
			return err
		}
	}

	if err := eagerBuild(ctx, a); err != nil {
		return err
	}

	if err := a.queue.Restore(); err != nil {
		return err
	}
	a.queue.Start(ctx)

	watcher, err := config.NewWatcher(cfg.TypesFile, func() {
		if err := a.reloadTypes(); err != nil {
			slog.Error("type definition reload failed", slog.Any("error", err))
			return
		}
		slog.Warn("type definitions reloaded, all indexes invalidated",
			slog.String("file", cfg.TypesFile))
	})
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	printer.Successf("searchsync listening on port %d", cfg.Server.Port)
	return a.server.ListenAndServe(ctx, cfg.Server.Port)
}

// eagerBuild resolves the configured group sets against every type so
// their indexes exist before the first search arrives.
func eagerBuild(ctx context.Context, a *app) error {
	for _, raw := range a.cfg.Indexing.EagerGroupSets {
		groups, err := auth.Parse(raw)
		if err != nil {
			return err
		}
		ac := auth.NewContext(groups, nil)
		for _, typeName := range a.types.Names() {
			if _, err := a.registry.ResolveOrBuild(ctx, ac, typeName); err != nil {
				slog.Warn("eager index build failed",
					slog.String("type", typeName),
					slog.Any("error", err))
			}
		}
	}
	return nil
}
