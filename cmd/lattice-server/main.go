// cmd/lattice-server is the entry point for the Lattice knowledge graph
// server. It exposes the MCP streaming endpoint, the REST API, and the
// live WebSocket feed over one HTTP listener.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lattice-kg/lattice/internal/config"
	"github.com/lattice-kg/lattice/internal/server"
	"github.com/lattice-kg/lattice/internal/storage"
	"github.com/lattice-kg/lattice/internal/storage/postgres"
	"github.com/lattice-kg/lattice/internal/storage/sqlite"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, _, err := server.Start(ctx, cfg, store)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Lattice running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give connections time to close
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
