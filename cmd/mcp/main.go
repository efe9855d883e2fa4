// Command mcp serves the credits API as MCP tools over stdio.
//
// Stdout carries the protocol, so all logging goes to stderr.
package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/consultcredit/internal/logging"
	"github.com/mbd888/consultcredit/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	_ = godotenv.Load()
	logger := logging.NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), "text")

	timeout, err := time.ParseDuration(envOr("CONSULTCREDIT_API_TIMEOUT", "30s"))
	if err != nil {
		logger.Error("invalid CONSULTCREDIT_API_TIMEOUT", "error", err)
		os.Exit(1)
	}

	cfg := mcpserver.Config{
		APIURL:  envOr("CONSULTCREDIT_API_URL", "http://localhost:8080"),
		APIKey:  os.Getenv("CONSULTCREDIT_API_KEY"),
		Timeout: timeout,
		Version: Version,
	}
	if cfg.APIKey == "" {
		logger.Error("CONSULTCREDIT_API_KEY is required")
		os.Exit(1)
	}

	logger.Info("serving MCP over stdio", "api_url", cfg.APIURL, "version", Version)
	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg)); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
