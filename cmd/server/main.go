// Command server runs the consultcredit HTTP API.
package main

import (
	"context"
	"os"

	"github.com/mbd888/consultcredit/internal/config"
	"github.com/mbd888/consultcredit/internal/logging"
	"github.com/mbd888/consultcredit/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No config means no log settings yet; report with defaults.
		logging.New(config.DefaultLogLevel, "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting consultcredit",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"usage_timezone", cfg.UsageTimezone,
		"free_monthly_tokens", cfg.FreeMonthlyTokens,
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
	)

	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
