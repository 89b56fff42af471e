// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/thesis-harvester/internal/app"
	"github.com/JakeFAU/thesis-harvester/internal/config"
	"github.com/JakeFAU/thesis-harvester/internal/logging"
)

// appKeyType is the key for storing the application in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it with a fake.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (app.Harvester, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests open-access theses from the Skemman repository.",
		Long: `harvester walks the paginated Skemman search listing, records every
thesis and its attachments in a local database, and downloads the open-access
full-text PDFs into a directory tree mirroring the repository taxonomy.

Every unit of work is committed as it completes, so an interrupted run can be
resumed by running the same command again.`,
		SilenceUsage: true,

		// Runs after flag parsing and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(app.Harvester); ok && appInstance != nil {
				return appInstance.Close()
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "path to a YAML config file")
	pf.String("data-dir", "./data", "root directory for the database, cache and downloads")
	pf.String("db-driver", config.DriverSQLite, "store backend: sqlite or postgres")
	pf.String("db-path", "", "sqlite database path (default <data-dir>/db/harvest.db)")
	pf.String("dsn", "", "postgres connection string")
	pf.String("log-level", "info", "minimum log level")
	pf.Bool("dev", true, "human-readable development logging")

	cmd.AddCommand(
		newCrawlCmd(),
		newSyncCmd(),
		newRunCmd(),
		newStatusCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (app.Harvester, error) {
	appInstance, ok := ctx.Value(appKey).(app.Harvester)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so crawl and sync stop after the current document or file.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
