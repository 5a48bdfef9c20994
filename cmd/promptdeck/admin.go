package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptdeck/promptdeck/internal/adapter/postgres"
	"github.com/promptdeck/promptdeck/internal/config"
)

// runAdmin dispatches admin subcommands (migrate, rollback, db-version, list-prompts).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "db-version":
		return runAdminDBVersion(args[1:])
	case "list-prompts":
		return runAdminListPrompts(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: promptdeck admin <command> [options]

Commands:
  migrate          Apply all pending database migrations
  rollback         Roll back database migrations
  db-version       Print the current migration version
  list-prompts     List all prompts with their active version
  help             Show this help message

Examples:
  promptdeck admin migrate
  promptdeck admin rollback --steps 1
  promptdeck admin db-version
  promptdeck admin list-prompts
`)
}

func loadAdminConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func adminPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, pool.Close, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Migrations applied, database at version %d\n", v)
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be >= 1")
	}

	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}

	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s), database at version %d\n", *steps, v)
	return nil
}

func runAdminDBVersion(args []string) error {
	fs := flag.NewFlagSet("db-version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	fmt.Println(v)
	return nil
}

func runAdminListPrompts(args []string) error {
	fs := flag.NewFlagSet("list-prompts", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, cleanup, err := adminPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	store := postgres.NewStore(pool)
	names, err := store.ListPromptNames(ctx)
	if err != nil {
		return fmt.Errorf("list prompts: %w", err)
	}

	if len(names) == 0 {
		fmt.Println("No prompts found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tACTIVE\tVERSIONS\tUPDATED")
	for _, name := range names {
		versions, err := store.ListVersions(ctx, name)
		if err != nil {
			return fmt.Errorf("list versions for %s: %w", name, err)
		}
		active := "-"
		updated := "-"
		for i := range versions {
			if versions[i].IsActive {
				active = fmt.Sprintf("v%d", versions[i].Version)
			}
		}
		if len(versions) > 0 {
			// ListVersions returns newest first.
			updated = versions[0].CreatedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, active, len(versions), updated)
	}
	return w.Flush()
}
