package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fjmerc/streamforge/internal/config"
	"github.com/fjmerc/streamforge/internal/database"
	"github.com/fjmerc/streamforge/internal/repository/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setupLogger(cfg.LogLevel)
			return runMigrations(cmd.Context(), cfg)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setupLogger(cfg.LogLevel)
			return migrationStatus(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	})

	return cmd
}

func runMigrations(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.DBType == config.DBTypePostgres {
		pool, err := postgres.OpenPool(ctx, cfg.PostgreSQL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return err
		}
		slog.Info("migrations applied", "db_type", cfg.DBType)
		return nil
	}

	db, err := database.Initialize(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("migrations applied", "db_type", cfg.DBType, "path", cfg.DBPath)
	return nil
}

func migrationStatus(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MIGRATION\tSTATE")

	if cfg.DBType == config.DBTypePostgres {
		pool, err := postgres.OpenPool(ctx, cfg.PostgreSQL)
		if err != nil {
			return err
		}
		defer pool.Close()

		statuses, err := postgres.GetMigrationStatus(ctx, pool)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			fmt.Fprintf(tw, "%s\t%s\n", s.Name, state(s.Applied))
		}
		return tw.Flush()
	}

	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	migrations, err := database.ListMigrations(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		fmt.Fprintf(tw, "%s\t%s\n", m.Name, state(m.Applied))
	}
	return tw.Flush()
}

func state(applied bool) string {
	if applied {
		return "applied"
	}
	return "pending"
}
