package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/mosswell/kith/internal/config"
	"github.com/mosswell/kith/internal/engine"
	"github.com/mosswell/kith/internal/storage"
)

// Start initializes and starts the HTTP server. It returns the actual
// address being listened on (useful for testing with port 0) and the
// EventHub, already wired into the engine's callbacks. The server shuts
// down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, eng *engine.Engine,
	persons storage.PersonStore, interactions storage.InteractionStore,
	embeddings storage.EmbeddingProvider) (string, *EventHub, error) {

	hub := NewEventHub()
	go hub.Run()

	eng.OnPersonCreated = hub.PersonCreated
	eng.OnPersonsMerged = hub.PersonsMerged
	eng.OnEmbeddingStored = hub.EmbeddingStored

	api := NewAPIHandlers(eng, persons, interactions, embeddings)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
			return
		}
		api.Resolve(w, r)
	})
	apiMux.HandleFunc("/api/merge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
			return
		}
		api.Merge(w, r)
	})
	apiMux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
			return
		}
		api.Search(w, r)
	})
	apiMux.HandleFunc("/api/persons", api.Persons)
	apiMux.HandleFunc("/api/persons/", api.PersonByID)
	apiMux.HandleFunc("/api/interactions", api.Interactions)
	apiMux.HandleFunc("/api/interactions/", api.InteractionByID)

	mux := http.NewServeMux()
	mux.Handle("/api/", RequireAuth(apiMux, cfg))
	// The event feed carries person data, so it sits behind the same auth
	// as the rest of the API.
	mux.Handle("/api/events", RequireAuth(hub, cfg))
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	rateLimiter := NewRateLimiter(10.0, 20)
	handler := RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		hub.Stop()
	}()

	log.Printf("kith server listening on %s", actualAddr)
	return actualAddr, hub, nil
}
