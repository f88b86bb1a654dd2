// Command mcp-reminder serves the reminder lifecycle as MCP tools over stdio.
//
// Usage:
//
//	./mcp-reminder          # Start MCP server (stdio)
//	./mcp-reminder --help   # Show help
//
// It reads the same configuration as the api and worker binaries. Jobs it schedules are
// fired by a running worker.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"reminder-assistant/internal/app"
	"reminder-assistant/internal/config"
	"reminder-assistant/internal/mcpserver"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--help", "-h":
			printHelp()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the protocol, so logs go to stderr.
	logger := app.NewLogger(cfg)

	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	s := mcpserver.New(a.Manager, a.Clock, logger)
	if err := server.ServeStdio(s.MCPServer()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`MCP Reminder Server - reminder lifecycle via MCP protocol

USAGE:
    mcp-reminder          Start MCP server (communicates via stdio)
    mcp-reminder --help   Show this help

ENVIRONMENT:
    REDIS_ADDR, POSTGRES_DSN, STORE_DRIVER, TIMEZONE, NOTIFIER, ...
    (same variables as the api and worker; CONFIG_FILE names an optional YAML file)

TOOLS:
    handle_intent    Apply a structured reminder intent and return the reply
    list_reminders   List active and paused reminders`)
}
