package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pitchforge/engine/internal/adapters/turso"
	"github.com/pitchforge/engine/internal/app"
	"github.com/pitchforge/engine/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [version]",
	Short: "Run database migrations",
	Long: `Run database migrations.

Without arguments, runs all pending migrations (up).
With a version number, migrates down to that version.

Examples:
  pitchforge migrate      # Run all pending migrations
  pitchforge migrate 0    # Rollback all migrations`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := app.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	db, err := turso.NewDB(cfg.DatabasePath, cfg.DatabaseAuthToken)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := migrate.EnsureMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	current, dirty, err := migrate.CurrentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d, manual intervention required", current)
	}

	all, err := migrate.LoadMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	fmt.Printf("Current version: %d\n", current)

	if len(args) == 0 {
		return migrate.Up(ctx, db, all, current)
	}

	target, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version number: %s", args[0])
	}
	switch {
	case target > current:
		return migrate.Up(ctx, db, all, current)
	case target < current:
		return migrate.DownTo(ctx, db, all, current, target)
	default:
		fmt.Println("Already at target version")
		return nil
	}
}
