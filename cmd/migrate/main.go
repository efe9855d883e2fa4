// Command migrate applies the Postgres schema for expert statistics, usage
// accounts and API keys.
//
// Usage:
//
//	go run ./cmd/migrate up              # apply pending migrations
//	go run ./cmd/migrate down            # roll back the last migration
//	go run ./cmd/migrate status          # list applied and pending migrations
//	go run ./cmd/migrate -dir db/migrations version
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/consultcredit/internal/logging"
)

const defaultMigrationsDir = "migrations"

func main() {
	dir := flag.String("dir", defaultMigrationsDir, "directory holding goose SQL migrations")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall migration timeout")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-dir path] [-timeout d] <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	if err := run(dbURL, *dir, *timeout, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("migration failed", "command", flag.Arg(0), "dir", *dir, "error", err)
		os.Exit(1)
	}
	logger.Info("migration complete", "command", flag.Arg(0))
}

func run(dbURL, dir string, timeout time.Duration, command string, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.RunContext(ctx, command, db, dir, args...)
}
