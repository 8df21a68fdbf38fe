package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SscSPs/backup_orchestrator/internal/adapters/database/pgsql"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/core/services"
	"github.com/SscSPs/backup_orchestrator/internal/platform/config"
	"github.com/spf13/cobra"
)

// errMigrationIncomplete makes the process exit non-zero after the report is printed.
var errMigrationIncomplete = errors.New("migration finished with errors or verification mismatches")

var rootCmd = &cobra.Command{
	Use:   "hierarchy_migrator",
	Short: "Converts legacy single-account users to the hierarchical account model",
	Long: `hierarchy_migrator backfills path and level on legacy accounts, creates one
owner membership per legacy user, and verifies that every user ends up with
exactly one membership on their account. Running it again is safe.`,
	SilenceUsage: true,
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	rootCmd.AddCommand(newRunCmd(logger))
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errMigrationIncomplete) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		dryRun   bool
		pageSize int
		output   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the migration and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != outputTable && output != outputYAML {
				return fmt.Errorf("unsupported output %q, want %s or %s", output, outputTable, outputYAML)
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cmd.Flags().Changed("page-size") {
				pageSize = cfg.MigrationPageSize
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			migrator, closeStore, err := openMigrator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			logger.Info("Starting hierarchy migration", slog.Bool("dry_run", dryRun), slog.Int("page_size", pageSize))
			report, err := migrator.Migrate(ctx, portssvc.MigrationOptions{DryRun: dryRun, PageSize: pageSize})
			if err != nil {
				return fmt.Errorf("migration aborted: %w", err)
			}
			if err := renderReport(cmd.OutOrStdout(), report, output); err != nil {
				return err
			}
			if report.HasErrors() {
				logger.Error("Hierarchy migration incomplete",
					slog.Int("user_errors", report.Users.Errors),
					slog.Int("account_errors", report.Accounts.Errors),
					slog.Int("mismatches", len(report.Mismatches)))
				return errMigrationIncomplete
			}
			logger.Info("Hierarchy migration finished")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned changes without writing")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "records per scan page (defaults to MIGRATION_PAGE_SIZE)")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "report format: table or yaml")
	return cmd
}

// openMigrator connects to Postgres, where the legacy tables live, and brings the schema up to date.
func openMigrator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (portssvc.MigratorSvc, func(), error) {
	pool, err := pgsql.NewPgxPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database pool: %w", err)
	}
	if err := pgsql.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		pgsql.ClosePgxPool(pool)
		return nil, nil, err
	}
	container := services.NewServiceContainer(cfg, pgsql.NewRepositoryProvider(pool))
	return container.Migrator, func() { pgsql.ClosePgxPool(pool) }, nil
}
