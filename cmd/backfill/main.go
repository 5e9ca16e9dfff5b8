package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hoken/service-manager/internal/comparison"
	"github.com/hoken/service-manager/internal/config"
	"github.com/hoken/service-manager/internal/migration"
	"github.com/hoken/service-manager/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	batchSize    int
	concurrency  int
	dryRun       bool
	skipExisting bool
	format       string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(runRoot(ctx, newRootCmd(cfg, logger, openRepository), logger))
}

// runRoot executes the command tree and returns the process exit code.
// Cobra's own error printing is silenced, so failures are logged here.
func runRoot(ctx context.Context, root *cobra.Command, logger *logrus.Logger) int {
	if err := root.ExecuteContext(ctx); err != nil {
		logger.WithError(err).Error("Backfill command failed")
		return 1
	}
	return 0
}

type repoOpener func(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Repository, func(), error)

func newRootCmd(cfg config.Config, logger *logrus.Logger, open repoOpener) *cobra.Command {
	opts := options{
		batchSize:    cfg.BackfillBatchSize,
		concurrency:  cfg.BackfillConcurrency,
		dryRun:       cfg.BackfillDryRun,
		skipExisting: cfg.BackfillSkipExisting,
		format:       "summary",
	}

	root := &cobra.Command{
		Use:           "backfill",
		Short:         "Copy embedded service items into service_order_items",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.format, "format", opts.format, "reconciliation report format: summary or json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill items, then reconcile",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeRepo, err := open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeRepo()

			backfiller := migration.NewBackfiller(repo, logger)
			backfiller.SetConfig(migration.Config{
				BatchSize:    opts.batchSize,
				Concurrency:  opts.concurrency,
				DelayBetween: cfg.BackfillDelay,
				DryRun:       opts.dryRun,
				SkipExisting: opts.skipExisting,
			})

			result, err := backfiller.Run(cmd.Context())
			if err != nil {
				logger.WithError(err).Error("Backfill failed")
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backfilled %d of %d orders (%d items, %d skipped, %d failed)\n",
				result.Backfilled, result.TotalOrders, result.ItemsWritten, result.Skipped, result.Failed)

			if err := reconcile(cmd, repo, logger, opts.format); err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d orders failed to backfill", result.Failed)
			}
			return nil
		},
	}
	runCmd.Flags().IntVar(&opts.batchSize, "batch-size", opts.batchSize, "orders per batch")
	runCmd.Flags().IntVar(&opts.concurrency, "concurrency", opts.concurrency, "batches processed in parallel")
	runCmd.Flags().BoolVar(&opts.dryRun, "dry-run", opts.dryRun, "decode and count without writing")
	runCmd.Flags().BoolVar(&opts.skipExisting, "skip-existing", opts.skipExisting, "leave orders that already have rows")

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Report drift between descriptions and service_order_items",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeRepo, err := open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeRepo()
			return reconcile(cmd, repo, logger, opts.format)
		},
	}

	root.AddCommand(runCmd, reconcileCmd)
	return root
}

func reconcile(cmd *cobra.Command, repo store.Repository, logger *logrus.Logger, format string) error {
	report, err := comparison.NewReconciler(repo, logger).Compare(cmd.Context())
	if err != nil {
		logger.WithError(err).Error("Reconciliation failed")
		return err
	}

	output, err := comparison.GenerateReport(report, format)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(output)
	return err
}

func openRepository(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Repository, func(), error) {
	if cfg.Storage == "memory" {
		return nil, nil, fmt.Errorf("backfill needs STORAGE=postgres")
	}

	db, err := store.OpenPostgres(ctx, cfg.DSN(), 5, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := store.NewPostgresStore(db, logger)
	if err := repo.CreateTables(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return repo, func() { db.Close() }, nil
}
