package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	mode := flag.String("mode", "serve", "surface to run: serve (HTTP API) or mcp (stdio tools)")
	addr := flag.String("addr", "", "listen address for serve mode (overrides CONSULTSCRIBE_ADDR)")
	flag.Parse()

	if *mode == "mcp" {
		// stdout carries the MCP protocol.
		log.SetOutput(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *mode, *addr); err != nil {
		log.Printf("[consultscribe] %v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, mode string, addr string) error {
	if mode != "serve" && mode != "mcp" {
		return fmt.Errorf("unknown mode %q", mode)
	}

	app := NewApp()
	if err := app.startup(ctx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer app.shutdown()
	app.watchRules(ctx)

	if mode == "mcp" {
		return app.serveMCP(version)
	}
	if addr == "" {
		addr = app.services.Config.Server.Addr
	}
	return app.serveHTTP(ctx, addr)
}
