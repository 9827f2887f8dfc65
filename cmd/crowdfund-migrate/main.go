// Package main is the entry point for the crowdfund database migration tool.
// It applies the embedded schema migrations of the configured driver.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/prn-tf/crowdfund/internal/bootstrap"
	"github.com/prn-tf/crowdfund/internal/config"
	"github.com/prn-tf/crowdfund/internal/repository"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("Crowdfund Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up", "status":
		if err := run(command); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func run(command string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read .env: %w", err)
	}

	cfg, err := config.Load(os.Getenv("CROWDFUND_CONFIG"))
	if err != nil {
		return err
	}
	cfg.Logging.Output = "stderr"
	cfg.Logging.Format = "console"

	logger, err := bootstrap.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, _, err := bootstrap.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if command == "up" {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}
	return printStatus(ctx, cfg.Database.Driver, db)
}

func printStatus(ctx context.Context, driver string, db repository.Database) error {
	current, err := db.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	latest, err := db.LatestMigration()
	if err != nil {
		return err
	}

	fmt.Printf("Driver:          %s\n", driver)
	fmt.Printf("Applied version: %d\n", current)
	fmt.Printf("Latest version:  %d\n", latest)
	if current < latest {
		fmt.Printf("Pending:         %d migration(s), run \"crowdfund-migrate up\"\n", latest-current)
	} else {
		fmt.Println("Schema is up to date.")
	}
	return nil
}

func printUsage() {
	fmt.Println(`Crowdfund Migration Tool

Usage:
  crowdfund-migrate <command>

Commands:
  up          Apply all pending migrations
  status      Show applied and latest migration versions
  version     Print version information
  help        Show this help message

The database is selected by the configuration file ($CROWDFUND_CONFIG or
./config.yaml) and CROWDFUND_DATABASE_* environment variables.

Examples:
  CROWDFUND_DATABASE_DRIVER=postgres crowdfund-migrate up
  crowdfund-migrate status`)
}
