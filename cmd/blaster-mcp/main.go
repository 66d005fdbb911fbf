// Blaster MCP server. Exposes the transaction blaster over MCP stdio
// transport. All configuration, including the private keys, comes from the
// environment; tool calls can override the non-secret parts per run.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cryptondee/megaeth/internal/config"
	mcptools "github.com/cryptondee/megaeth/internal/mcp"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()

	// Stdout carries the MCP protocol: logs go to stderr, and tool output
	// stays free of terminal escapes.
	color.NoColor = true
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	s := server.NewMCPServer(
		"megaeth-blaster",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	runner := mcptools.NewRunner(cfg, logger)
	mcptools.RegisterTools(s, runner)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
