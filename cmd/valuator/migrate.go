package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/portfolio-valuator/internal/storage"
)

// migrateCmd holds the flags for the 'migrate' subcommand.
type migrateCmd struct {
	db string
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply or roll back database migrations" }
func (*migrateCmd) Usage() string {
	return `valuator migrate [-db postgres|clickhouse] up|down|version

  Postgres supports up, down (one step) and version. ClickHouse supports
  up only; its statements are idempotent.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", "postgres", "database to migrate: postgres or clickhouse")
}

func (c *migrateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "migrate requires one action: up, down or version")
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	action := f.Arg(0)

	switch c.db {
	case "postgres":
		url := cfg.Database.Postgres.URL()
		switch action {
		case "up":
			err = storage.RunMigrations(url)
		case "down":
			err = storage.RollbackMigrations(url)
		case "version":
			var (
				version uint
				dirty   bool
			)
			version, dirty, err = storage.MigrationVersion(url)
			if err == nil {
				fmt.Printf("postgres migration version %d (dirty: %v)\n", version, dirty)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
			return subcommands.ExitUsageError
		}

	case "clickhouse":
		if action != "up" {
			fmt.Fprintln(os.Stderr, "ClickHouse migrations only support 'up'")
			return subcommands.ExitUsageError
		}
		db, cerr := storage.NewClickHouseDB(ctx, cfg.Database.ClickHouse)
		if cerr != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", cerr)
			return subcommands.ExitFailure
		}
		defer func() { _ = db.Close() }()
		err = storage.RunClickHouseMigrations(ctx, db)

	default:
		fmt.Fprintf(os.Stderr, "unknown database %q\n", c.db)
		return subcommands.ExitUsageError
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s migration failed: %v\n", c.db, err)
		return subcommands.ExitFailure
	}
	if action != "version" {
		fmt.Printf("%s migrations %s: done\n", c.db, action)
	}
	return subcommands.ExitSuccess
}
