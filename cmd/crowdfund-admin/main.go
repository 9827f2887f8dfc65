// Package main is the entry point for the crowdfund admin CLI.
// This tool manages projects, donors and donations directly against the database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/prn-tf/crowdfund/internal/bootstrap"
	"github.com/prn-tf/crowdfund/internal/config"
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
		fmt.Printf("Crowdfund Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return

	case "help", "-h", "--help":
		printUsage()
		return

	case "project", "user", "sweep":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read .env: %w", err)
	}

	cfg, err := config.Load(os.Getenv("CROWDFUND_CONFIG"))
	if err != nil {
		return err
	}
	// Keep stdout for command output.
	cfg.Logging.Output = "stderr"
	cfg.Logging.Format = "console"

	logger, err := bootstrap.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	switch command {
	case "project":
		return runProject(ctx, app, args)
	case "user":
		return runUser(ctx, app, args)
	default:
		return runSweep(ctx, app)
	}
}

func printUsage() {
	fmt.Println(`Crowdfund Admin CLI

Usage:
  crowdfund-admin <command> [arguments]

Commands:
  project     Manage projects (create, show, list, donate, complete)
  user        Manage donors (create, show, add-points, spend-points)
  sweep       Close every expired or fully funded project now
  version     Print version information
  help        Show this help message

Examples:
  crowdfund-admin project create -name "Conectar Quilmes" -start 2026-10-01 -end 2026-12-31 \
      -location Quilmes -province "Buenos Aires" -population 1500
  crowdfund-admin project donate -id <project-id> -user <user-id> -amount 300
  crowdfund-admin project complete -id <project-id>
  crowdfund-admin user create -username ana -email ana@example.com -password secret123
  crowdfund-admin user spend-points -id <user-id> -points 100

The configuration file is read from $CROWDFUND_CONFIG or ./config.yaml.`)
}
