// Package server provides HTTP server initialization and lifecycle
// management for Lattice: the MCP streaming endpoint, the REST API, the
// live WebSocket feed, and the health endpoint, behind shared middleware.
package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/lattice-kg/lattice/internal/api/mcp"
	"github.com/lattice-kg/lattice/internal/config"
	"github.com/lattice-kg/lattice/internal/storage"
	"github.com/lattice-kg/lattice/internal/storage/postgres"
	"github.com/lattice-kg/lattice/web/handlers"
)

const version = "1.0.0"

// breakerGetter is satisfied by the postgres backend, which guards its
// queries with a circuit breaker worth surfacing in /health.
type breakerGetter interface {
	Breaker() *postgres.Breaker
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server. It returns the actual
// address being listened on (useful for testing with port 0) and the
// WebSocketHub so callers can feed additional events into it. The server
// shuts down gracefully when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, store storage.Store) (string, *handlers.WebSocketHub, error) {
	mux := http.NewServeMux()

	wsHub := handlers.NewWebSocketHub()
	go wsHub.Run()

	rateLimiter := handlers.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	mcpServer := mcp.NewServer(store,
		mcp.WithNotifier(wsHub),
		mcp.WithServerInfo("lattice", version),
	)
	sseHandler := mcp.NewSSEHandler(mcpServer)

	apiHandlers := handlers.NewAPIHandlers(store)
	apiHandlers.SetNotifier(wsHub)

	var circuitState func() string
	if bg, ok := store.(breakerGetter); ok {
		circuitState = bg.Breaker().State
	}
	healthHandler := handlers.NewHealthHandler(version, cfg.Storage.Backend,
		mcpServer.Sessions().Count, circuitState)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/projects", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.ListProjects(w, r)
		case http.MethodPost:
			apiHandlers.CreateProject(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.GetProject(w, r)
		case http.MethodDelete:
			apiHandlers.DeleteProject(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/entities", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.ListEntities(w, r)
		case http.MethodPost:
			apiHandlers.CreateEntity(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/entities/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.GetEntity(w, r)
		case http.MethodPatch:
			apiHandlers.UpdateEntity(w, r)
		case http.MethodDelete:
			apiHandlers.DeleteEntity(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/entities/{id}/observations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			apiHandlers.AddObservation(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/entities/{id}/observations/{obs_id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			apiHandlers.DeleteObservation(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/entities/{id}/related", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			apiHandlers.GetRelatedEntities(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/relationships", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.ListRelationships(w, r)
		case http.MethodPost:
			apiHandlers.CreateRelationship(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/relationships/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			apiHandlers.DeleteRelationship(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/search", apiHandlers.Search)
	apiMux.HandleFunc("/api/stats", apiHandlers.Stats)

	// MCP streaming endpoint. EventSource clients cannot set an
	// Authorization header, so it sits outside the auth wrapper; a session
	// only ever sees the project it selected.
	mux.Handle("/api/mcp", sseHandler)

	// Health endpoint, unauthenticated for monitoring.
	mux.Handle("/health", healthHandler)

	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// Live graph event feed.
	mux.Handle("/ws", wsHub)

	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the SSE stream is long-lived.
		IdleTimeout: 60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		wsHub.Stop()
		return "", nil, err
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
		wsHub.Stop()
	}()

	log.Printf("server: listening on %s (backend: %s)", actualAddr, cfg.Storage.Backend)
	return actualAddr, wsHub, nil
}
