// cmd/lattice-mcp is the entry point for the Lattice stdio MCP server.
// It serves the same tool registry as the HTTP server over line-delimited
// JSON-RPC 2.0 on stdin/stdout, for desktop MCP clients.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout
// that are not valid JSON-RPC 2.0 response frames will corrupt the
// protocol.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lattice-kg/lattice/internal/api/mcp"
	"github.com/lattice-kg/lattice/internal/config"
	"github.com/lattice-kg/lattice/internal/storage"
	"github.com/lattice-kg/lattice/internal/storage/postgres"
	"github.com/lattice-kg/lattice/internal/storage/sqlite"
)

func main() {
	// Redirect the default logger to stderr so that any incidental log
	// calls from imported packages never pollute the stdout stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("lattice-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	srv := mcp.NewServer(store, mcp.WithServerInfo("lattice", "1.0.0"))
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	if err := transport.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("transport error: %v", err)
	}
}

// openStore opens the configured graph store backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.NewGraphStore(cfg.Storage.PostgresDSN)
	default:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, err
			}
		}
		return sqlite.NewGraphStore(cfg.Storage.SQLitePath)
	}
}
